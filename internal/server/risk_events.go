package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	riskeventdomain "github.com/smallbiznis/sentinel/internal/riskevent/domain"
)

func (s *Server) ListRiskEvents(c *gin.Context) {
	var req riskeventdomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	events, pageInfo, err := s.riskEventSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events, "page_info": pageInfo})
}

func (s *Server) GetRiskEvent(c *gin.Context) {
	eventKey := strings.TrimSpace(c.Param("event_key"))
	if eventKey == "" {
		AbortWithError(c, newValidationError("event_key", "required", "event_key is required"))
		return
	}

	event, err := s.riskEventSvc.Get(c.Request.Context(), eventKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}
