package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/modeloutput/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("modeloutput.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.ModelOutput, error) {
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return nil, domain.ErrInvalidInput
	}
	if !inUnitRange(req.RiskScore) || !inUnitRange(req.Confidence) {
		return nil, domain.ErrInvalidInput
	}

	var out *domain.ModelOutput
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		output := &domain.ModelOutput{
			ID:            s.genID.Generate(),
			TransactionID: transactionID,
			RiskScore:     req.RiskScore,
			Confidence:    req.Confidence,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Upsert(ctx, tx, output); err != nil {
			return err
		}

		// Re-read so updates return the stored row, not the in-memory
		// candidate with a fresh ID.
		stored, err := s.repo.FindByTransactionID(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("model output stored",
		zap.String("transaction_id", out.TransactionID),
		zap.Float64("risk_score", out.RiskScore),
		zap.Float64("confidence", out.Confidence),
	)
	return out, nil
}

func (s *Service) Get(ctx context.Context, transactionID string) (*domain.ModelOutput, error) {
	output, err := s.repo.FindByTransactionID(ctx, s.db, strings.TrimSpace(transactionID))
	if err != nil {
		return nil, err
	}
	if output == nil {
		return nil, domain.ErrNotFound
	}
	return output, nil
}

func inUnitRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
