package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	referencedomain "github.com/smallbiznis/sentinel/internal/reference/domain"
)

type putCountryRiskRequest struct {
	RiskWeight    float64    `json:"risk_weight"`
	EffectiveFrom *time.Time `json:"effective_from"`
}

func (s *Server) GetCountryRisk(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))

	var asOf *time.Time
	if raw := strings.TrimSpace(c.Query("as_of")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
			return
		}
		asOf = &parsed
	}

	row, err := s.referenceSvc.Get(c.Request.Context(), referencedomain.GetCountryRiskRequest{
		CountryCode: code,
		AsOf:        asOf,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": row})
}

// PutCountryRisk sets a new effective-dated weight for a country. The prior
// open range is closed, never rewritten, so historical re-scores still see
// the weight that was effective at the time.
func (s *Server) PutCountryRisk(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, newValidationError("code", "required", "country code is required"))
		return
	}

	var req putCountryRiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	row, err := s.referenceSvc.Upsert(c.Request.Context(), referencedomain.UpsertCountryRiskRequest{
		CountryCode:   code,
		RiskWeight:    req.RiskWeight,
		EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	_ = s.auditSvc.Record(c.Request.Context(), "country_risk.upsert", "country", row.CountryCode, map[string]any{
		"risk_weight":    row.RiskWeight,
		"effective_from": row.EffectiveFrom,
	})

	c.JSON(http.StatusOK, gin.H{"data": row})
}
