package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	modeloutputdomain "github.com/smallbiznis/sentinel/internal/modeloutput/domain"
)

func (s *Server) PutModelOutput(c *gin.Context) {
	transactionID := strings.TrimSpace(c.Param("transaction_id"))
	if transactionID == "" {
		AbortWithError(c, newValidationError("transaction_id", "required", "transaction_id is required"))
		return
	}

	var req modeloutputdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.TransactionID = transactionID

	output, err := s.modelOutputSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": output})
}

func (s *Server) GetModelOutput(c *gin.Context) {
	transactionID := strings.TrimSpace(c.Param("transaction_id"))

	output, err := s.modelOutputSvc.Get(c.Request.Context(), transactionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": output})
}
