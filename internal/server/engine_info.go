package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/sentinel/internal/scoring"
)

// GetEngineInfo exposes the running engine version and the scoring contract
// currently in effect, so operators can verify a config rollout landed.
func (s *Server) GetEngineInfo(c *gin.Context) {
	engineCfg := s.holder.Get()

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"engine_version": scoring.EngineVersion,
			"app_version":    s.cfg.AppVersion,
			"environment":    s.cfg.Environment,
			"thresholds": gin.H{
				"large_amount":  engineCfg.Thresholds.LargeAmount,
				"country_risk":  engineCfg.Thresholds.CountryRisk,
				"rolling_sum":   engineCfg.Thresholds.RollingSum,
				"rolling_count": engineCfg.Thresholds.RollingCount,
			},
			"rule_weights": gin.H{
				"large_amount":      engineCfg.RuleWeights.LargeAmount,
				"high_risk_country": engineCfg.RuleWeights.HighRiskCountry,
				"rolling_sum":       engineCfg.RuleWeights.RollingSum,
				"rolling_count":     engineCfg.RuleWeights.RollingCount,
			},
			"window": engineCfg.Window.String(),
			"blend": gin.H{
				"alpha":             engineCfg.Blend.Alpha,
				"ml_min_confidence": engineCfg.Blend.MLMinConfidence,
			},
			"severity_bands": engineCfg.SeverityBands,
		},
	})
}
