package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	annotationdomain "github.com/smallbiznis/sentinel/internal/annotation/domain"
)

func (s *Server) PutAnnotation(c *gin.Context) {
	transactionID := strings.TrimSpace(c.Param("transaction_id"))
	if transactionID == "" {
		AbortWithError(c, newValidationError("transaction_id", "required", "transaction_id is required"))
		return
	}

	var req annotationdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TransactionID = transactionID

	note, err := s.annotationSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": note})
}

func (s *Server) GetAnnotation(c *gin.Context) {
	transactionID := strings.TrimSpace(c.Param("transaction_id"))

	note, err := s.annotationSvc.Get(c.Request.Context(), transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": note})
}
