package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sentinel/internal/annotation/domain"
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
		log:   p.Log.Named("annotation.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertRequest) (*domain.Annotation, error) {
	transactionID := strings.TrimSpace(req.TransactionID)
	if transactionID == "" {
		return nil, domain.ErrInvalidInput
	}
	code, ok := normalizeReasonCode(req.ReasonCode)
	if !ok {
		return nil, domain.ErrInvalidInput
	}

	var out *domain.Annotation
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		annotation := &domain.Annotation{
			ID:            s.genID.Generate(),
			TransactionID: transactionID,
			ReasonCode:    code,
			SummaryText:   strings.TrimSpace(req.SummaryText),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Upsert(ctx, tx, annotation); err != nil {
			return err
		}

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

	s.log.Debug("annotation stored",
		zap.String("transaction_id", out.TransactionID),
		zap.String("reason_code", out.ReasonCode),
	)
	return out, nil
}

func (s *Service) Get(ctx context.Context, transactionID string) (*domain.Annotation, error) {
	annotation, err := s.repo.FindByTransactionID(ctx, s.db, strings.TrimSpace(transactionID))
	if err != nil {
		return nil, err
	}
	if annotation == nil {
		return nil, domain.ErrNotFound
	}
	return annotation, nil
}

// normalizeReasonCode lowercases and validates a code so it can sit next to
// rule codes in a risk event's reason list.
func normalizeReasonCode(code string) (string, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || len(code) > 64 {
		return "", false
	}
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return "", false
		}
	}
	return code, true
}
