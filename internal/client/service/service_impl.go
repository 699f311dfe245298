package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sentinel/internal/audit/domain"
	"github.com/smallbiznis/sentinel/internal/client/domain"
	"github.com/smallbiznis/sentinel/internal/observability/metrics"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	SignalRepo rescoredomain.Repository
	Audit      auditdomain.Service
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	signalRepo rescoredomain.Repository
	audit      auditdomain.Service
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("client.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		signalRepo: p.SignalRepo,
		audit:      p.Audit,
		metrics:    p.Metrics,
	}
}

func (s *Service) Upsert(ctx context.Context, req domain.UpsertClientRequest) (*domain.Client, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return nil, domain.ErrInvalidExternalID
	}

	country := ""
	if strings.TrimSpace(req.CountryCode) != "" {
		normalized, err := normalizeCountryCode(req.CountryCode)
		if err != nil {
			return nil, err
		}
		country = normalized
	}

	var (
		out            *domain.Client
		created        bool
		countryChanged bool
		priorCountry   string
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}

		if existing == nil {
			if country == "" {
				return domain.ErrInvalidCountryCode
			}
			now := time.Now().UTC()
			client := &domain.Client{
				ID:          s.genID.Generate(),
				ExternalID:  externalID,
				CountryCode: country,
				Name:        strings.TrimSpace(req.Name),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.repo.Insert(ctx, tx, client); err != nil {
				return err
			}
			out = client
			created = true
			return nil
		}

		changed := false
		if name := strings.TrimSpace(req.Name); name != "" && name != existing.Name {
			existing.Name = name
			changed = true
		}
		if country != "" && country != existing.CountryCode {
			priorCountry = existing.CountryCode
			existing.CountryCode = country
			changed = true
			countryChanged = true
		}

		if changed {
			existing.UpdatedAt = time.Now().UTC()
			if err := s.repo.Update(ctx, tx, existing); err != nil {
				return err
			}
		}
		if countryChanged {
			if err := s.raiseCorrectionSignal(ctx, tx, externalID); err != nil {
				return err
			}
		}

		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		s.recordAudit(ctx, "client.create", externalID, map[string]any{
			"country_code": out.CountryCode,
		})
	}
	if countryChanged {
		s.afterCountryChange(ctx, externalID, priorCountry, out.CountryCode)
	}
	return out, nil
}

func (s *Service) Correct(ctx context.Context, req domain.CorrectClientRequest) (*domain.Client, error) {
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		return nil, domain.ErrInvalidExternalID
	}
	country, err := normalizeCountryCode(req.CountryCode)
	if err != nil {
		return nil, err
	}

	var (
		out            *domain.Client
		countryChanged bool
		priorCountry   string
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByExternalID(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if existing == nil {
			return domain.ErrNotFound
		}

		changed := false
		if name := strings.TrimSpace(req.Name); name != "" && name != existing.Name {
			existing.Name = name
			changed = true
		}
		if country != existing.CountryCode {
			priorCountry = existing.CountryCode
			existing.CountryCode = country
			changed = true
			countryChanged = true
		}

		if changed {
			existing.UpdatedAt = time.Now().UTC()
			if err := s.repo.Update(ctx, tx, existing); err != nil {
				return err
			}
		}
		if countryChanged {
			if err := s.raiseCorrectionSignal(ctx, tx, externalID); err != nil {
				return err
			}
		}

		out = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if countryChanged {
		s.afterCountryChange(ctx, externalID, priorCountry, out.CountryCode)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, externalID string) (*domain.Client, error) {
	client, err := s.repo.FindByExternalID(ctx, s.db, strings.TrimSpace(externalID))
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.ErrNotFound
	}
	return client, nil
}

// raiseCorrectionSignal marks the client's whole history for re-scoring. The
// signal commits atomically with the country update.
func (s *Service) raiseCorrectionSignal(ctx context.Context, tx *gorm.DB, externalID string) error {
	signal := rescoredomain.NewSignal(s.genID.Generate(), rescoredomain.RaiseRequest{
		ClientID: externalID,
		Cause:    rescoredomain.CauseClientCorrection,
		RangeTo:  time.Now().UTC(),
	})
	return s.signalRepo.Insert(ctx, tx, signal)
}

func (s *Service) afterCountryChange(ctx context.Context, externalID, from, to string) {
	s.metrics.RecordRescoreSignal(ctx, string(rescoredomain.CauseClientCorrection))
	s.log.Info("client country corrected",
		zap.String("client_id", externalID),
		zap.String("from", from),
		zap.String("to", to),
	)
	s.recordAudit(ctx, "client.correct", externalID, map[string]any{
		"country_from": from,
		"country_to":   to,
	})
}

func (s *Service) recordAudit(ctx context.Context, action, externalID string, metadata map[string]any) {
	if err := s.audit.Record(ctx, action, "client", externalID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func normalizeCountryCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return "", domain.ErrInvalidCountryCode
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", domain.ErrInvalidCountryCode
		}
	}
	return code, nil
}
