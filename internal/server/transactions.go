package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/sentinel/internal/scoring"
	transactiondomain "github.com/smallbiznis/sentinel/internal/transaction/domain"
)

const maxBatchRecords = 1000

func (s *Server) SubmitTransaction(c *gin.Context) {
	var req transactiondomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if clientID := strings.TrimSpace(req.ClientID); clientID != "" {
		c.Set("client_id", clientID)
	}

	result, err := s.scoringSvc.Submit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) SubmitTransactionBatch(c *gin.Context) {
	var reqs []transactiondomain.IngestRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(reqs) == 0 {
		AbortWithError(c, newValidationError("records", "required", "at least one record is required"))
		return
	}
	if len(reqs) > maxBatchRecords {
		AbortWithError(c, newValidationError("records", "too_large", "batch exceeds the record limit"))
		return
	}

	results, err := s.scoringSvc.SubmitBatch(c.Request.Context(), reqs)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": results})
}

func (s *Server) CorrectTransaction(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	if externalID == "" {
		AbortWithError(c, newValidationError("external_id", "required", "external_id is required"))
		return
	}

	var req transactiondomain.CorrectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ExternalID = externalID

	txn, err := s.transactionSvc.Correct(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) GetTransaction(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))

	txn, err := s.transactionSvc.Get(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": txn})
}

func (s *Server) GetTransactionHistory(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))

	versions, err := s.transactionSvc.History(c.Request.Context(), externalID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": versions})
}

// GetTransactionEvents returns the emission history for one transaction, or
// only the current event with ?current=true.
func (s *Server) GetTransactionEvents(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("external_id"))
	ctx := c.Request.Context()

	if strings.EqualFold(strings.TrimSpace(c.Query("current")), "true") {
		event, err := s.riskEventSvc.Current(ctx, externalID, scoring.EngineVersion)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": event})
		return
	}

	events, err := s.riskEventSvc.History(ctx, externalID, scoring.EngineVersion)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": events})
}
