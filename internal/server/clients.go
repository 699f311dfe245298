package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	clientdomain "github.com/smallbiznis/sentinel/internal/client/domain"
)

func (s *Server) UpsertClient(c *gin.Context) {
	var req clientdomain.UpsertClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	clientRec, err := s.clientSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": clientRec})
}

func (s *Server) CorrectClient(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		AbortWithError(c, newValidationError("external_id", "required", "external_id is required"))
		return
	}

	var req clientdomain.CorrectClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ExternalID = externalID

	clientRec, err := s.clientSvc.Correct(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": clientRec})
}

func (s *Server) GetClient(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))

	clientRec, err := s.clientSvc.Get(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": clientRec})
}
