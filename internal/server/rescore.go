package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	"github.com/smallbiznis/sentinel/internal/scoring"
)

// TriggerRescore replays one client's transactions over a range. This is the
// only path, besides the background worker, that re-runs scoring.
func (s *Server) TriggerRescore(c *gin.Context) {
	var req scoring.RescoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.scoringSvc.Rescore(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListRescoreSignals(c *gin.Context) {
	var req rescoredomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	signals, pageInfo, err := s.signalSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": signals, "page_info": pageInfo})
}
