package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sentinel/internal/audit/domain"
	clientdomain "github.com/smallbiznis/sentinel/internal/client/domain"
	"github.com/smallbiznis/sentinel/internal/config"
	"github.com/smallbiznis/sentinel/internal/observability/metrics"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	"github.com/smallbiznis/sentinel/internal/transaction/domain"
	"github.com/smallbiznis/sentinel/internal/window"
	"github.com/smallbiznis/sentinel/pkg/db"
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
	ClientRepo clientdomain.Repository
	SignalRepo rescoredomain.Repository
	Audit      auditdomain.Service
	Windows    *window.Aggregator
	Pipeline   *window.KeyedMutex
	Holder     *config.EngineConfigHolder
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clientRepo clientdomain.Repository
	signalRepo rescoredomain.Repository
	audit      auditdomain.Service
	windows    *window.Aggregator
	pipeline   *window.KeyedMutex
	holder     *config.EngineConfigHolder
	metrics    *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("transaction.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clientRepo: p.ClientRepo,
		signalRepo: p.SignalRepo,
		audit:      p.Audit,
		windows:    p.Windows,
		pipeline:   p.Pipeline,
		holder:     p.Holder,
		metrics:    p.Metrics,
	}
}

// validated holds an ingest payload after field-level checks, with currency
// uppercased and the timestamp parsed to UTC.
type validated struct {
	externalID string
	clientID   string
	amount     float64
	currency   string
	occurredAt time.Time
}

func validateIngest(req domain.IngestRequest) (*validated, error) {
	v := &validated{
		externalID: strings.TrimSpace(req.ExternalID),
		clientID:   strings.TrimSpace(req.ClientID),
	}
	if v.externalID == "" {
		return nil, &domain.ValidationError{Field: "external_id", Reason: "required"}
	}
	if v.clientID == "" {
		return nil, &domain.ValidationError{Field: "client_id", Reason: "required"}
	}
	if err := v.setContent(req.Amount, req.Currency, req.OccurredAt); err != nil {
		return nil, err
	}
	return v, nil
}

func validateCorrection(req domain.CorrectRequest) (*validated, error) {
	v := &validated{externalID: strings.TrimSpace(req.ExternalID)}
	if v.externalID == "" {
		return nil, &domain.ValidationError{Field: "external_id", Reason: "required"}
	}
	if err := v.setContent(req.Amount, req.Currency, req.OccurredAt); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *validated) setContent(amount float64, currency, occurredAt string) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return &domain.ValidationError{Field: "amount", Reason: "must be a finite number"}
	}
	if amount < 0 {
		return &domain.ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	v.amount = amount

	cur := strings.ToUpper(strings.TrimSpace(currency))
	if len(cur) != 3 {
		return &domain.ValidationError{Field: "currency", Reason: "must be a 3-letter code"}
	}
	for _, r := range cur {
		if r < 'A' || r > 'Z' {
			return &domain.ValidationError{Field: "currency", Reason: "must be a 3-letter code"}
		}
	}
	v.currency = cur

	at, err := time.Parse(time.RFC3339, strings.TrimSpace(occurredAt))
	if err != nil {
		return &domain.ValidationError{Field: "occurred_at", Reason: "must be an RFC 3339 timestamp"}
	}
	v.occurredAt = at.UTC()

	return nil
}

func (s *Service) Ingest(ctx context.Context, req domain.IngestRequest) (*domain.IngestOutcome, error) {
	v, err := validateIngest(req)
	if err != nil {
		return nil, s.rejected(ctx, req.ExternalID, err)
	}

	var out *domain.IngestOutcome
	err = s.db.Transaction(func(tx *gorm.DB) error {
		client, err := s.clientRepo.FindByExternalID(ctx, tx, v.clientID)
		if err != nil {
			return err
		}
		if client == nil {
			return &domain.ValidationError{Field: "client_id", Reason: "unknown client"}
		}

		hash := domain.ContentHash(client.ExternalID, v.amount, v.currency, v.occurredAt)

		current, err := s.repo.FindCurrentByExternalID(ctx, tx, v.externalID)
		if err != nil {
			return err
		}
		if current != nil {
			if current.ContentHash == hash {
				out = &domain.IngestOutcome{Transaction: current, Client: client, Duplicate: true}
				return nil
			}
			return domain.ErrConflictingResend
		}

		txn := &domain.Transaction{
			ID:          s.genID.Generate(),
			ExternalID:  v.externalID,
			Version:     1,
			ClientID:    client.ID,
			Amount:      v.amount,
			Currency:    v.currency,
			OccurredAt:  v.occurredAt,
			Description: normalizeDescription(req.Description),
			ContentHash: hash,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.repo.Insert(ctx, tx, txn); err != nil {
			return err
		}
		out = &domain.IngestOutcome{Transaction: txn, Client: client, Duplicate: false}
		return nil
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A concurrent resend won the insert; classify against what landed.
			return s.classifyResend(ctx, v)
		}
		return nil, s.rejected(ctx, v.externalID, err)
	}

	if out.Duplicate {
		if s.metrics != nil {
			s.metrics.RecordTransactionIngested(ctx, "duplicate")
		}
		return out, nil
	}

	if s.metrics != nil {
		s.metrics.RecordTransactionIngested(ctx, "recorded")
	}
	s.log.Info("transaction ingested",
		zap.String("external_id", out.Transaction.ExternalID),
		zap.String("client_id", out.Client.ExternalID),
		zap.Float64("amount", out.Transaction.Amount),
		zap.Time("occurred_at", out.Transaction.OccurredAt),
	)
	return out, nil
}

// classifyResend re-reads after a unique-constraint race and decides between
// a duplicate outcome and a conflicting resend.
func (s *Service) classifyResend(ctx context.Context, v *validated) (*domain.IngestOutcome, error) {
	client, err := s.clientRepo.FindByExternalID(ctx, s.db, v.clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, &domain.ValidationError{Field: "client_id", Reason: "unknown client"}
	}
	current, err := s.repo.FindCurrentByExternalID(ctx, s.db, v.externalID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}

	hash := domain.ContentHash(client.ExternalID, v.amount, v.currency, v.occurredAt)
	if current.ContentHash == hash {
		if s.metrics != nil {
			s.metrics.RecordTransactionIngested(ctx, "duplicate")
		}
		return &domain.IngestOutcome{Transaction: current, Client: client, Duplicate: true}, nil
	}
	return nil, s.rejected(ctx, v.externalID, domain.ErrConflictingResend)
}

// rejected records side effects for a failed ingest and passes the error
// through unchanged.
func (s *Service) rejected(ctx context.Context, externalID string, err error) error {
	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		if s.metrics != nil {
			s.metrics.RecordTransactionRejected(ctx, "malformed")
		}
		return err
	}
	if errors.Is(err, domain.ErrConflictingResend) {
		if s.metrics != nil {
			s.metrics.RecordTransactionRejected(ctx, "conflicting_resend")
		}
		s.log.Warn("conflicting resend rejected", zap.String("external_id", externalID))
		if s.audit != nil {
			_ = s.audit.Record(ctx, "transaction.conflict", "transaction", externalID, map[string]any{
				"reason": "content differs from stored version",
			})
		}
	}
	return err
}

func (s *Service) Correct(ctx context.Context, req domain.CorrectRequest) (*domain.Transaction, error) {
	v, err := validateCorrection(req)
	if err != nil {
		return nil, err
	}

	probe, err := s.repo.FindCurrentByExternalID(ctx, s.db, v.externalID)
	if err != nil {
		return nil, err
	}
	if probe == nil {
		return nil, domain.ErrNotFound
	}
	client, err := s.clientRepo.FindByID(ctx, s.db, probe.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.ErrNotFound
	}

	release := s.pipeline.Lock(client.ExternalID)
	defer release()

	var (
		out      *domain.Transaction
		prior    *domain.Transaction
		appended bool
	)
	err = s.db.Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindCurrentByExternalID(ctx, tx, v.externalID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		prior = current

		hash := domain.ContentHash(client.ExternalID, v.amount, v.currency, v.occurredAt)
		if current.ContentHash == hash {
			out = current
			return nil
		}

		next := &domain.Transaction{
			ID:           s.genID.Generate(),
			ExternalID:   current.ExternalID,
			Version:      current.Version + 1,
			ClientID:     current.ClientID,
			Amount:       v.amount,
			Currency:     v.currency,
			OccurredAt:   v.occurredAt,
			Description:  normalizeDescription(req.Description),
			ContentHash:  hash,
			SupersedesID: &current.ID,
			CreatedAt:    time.Now().UTC(),
		}
		if err := s.repo.Insert(ctx, tx, next); err != nil {
			return err
		}

		signal := rescoredomain.NewSignal(s.genID.Generate(), rescoredomain.RaiseRequest{
			ClientID:      client.ExternalID,
			TransactionID: current.ExternalID,
			Cause:         rescoredomain.CauseTransactionCorrection,
			RangeFrom:     minTime(current.OccurredAt, v.occurredAt),
			RangeTo:       correctionRangeTo(current.OccurredAt, v.occurredAt, s.windows.Window()),
		})
		if err := s.signalRepo.Insert(ctx, tx, signal); err != nil {
			return err
		}

		out = next
		appended = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !appended {
		return out, nil
	}

	// Swap the live window entry so reads between now and the re-score see
	// the corrected value. Failure falls back to dropping cached state; the
	// next read re-hydrates from storage.
	if _, err := s.windows.Replace(ctx, client.ExternalID, out.ExternalID, prior.OccurredAt, out.OccurredAt, out.Amount); err != nil {
		s.log.Warn("window update after correction failed; dropping cached window",
			zap.String("client_id", client.ExternalID),
			zap.Error(err),
		)
		s.windows.Forget(client.ExternalID)
	}

	if s.metrics != nil {
		s.metrics.RecordRescoreSignal(ctx, string(rescoredomain.CauseTransactionCorrection))
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, "transaction.correct", "transaction", out.ExternalID, map[string]any{
			"version_from": prior.Version,
			"version_to":   out.Version,
			"amount_from":  prior.Amount,
			"amount_to":    out.Amount,
		})
	}
	s.log.Info("transaction corrected",
		zap.String("external_id", out.ExternalID),
		zap.Int("version", out.Version),
		zap.String("client_id", client.ExternalID),
	)
	return out, nil
}

func (s *Service) Get(ctx context.Context, externalID string) (*domain.Transaction, error) {
	txn, err := s.repo.FindCurrentByExternalID(ctx, s.db, strings.TrimSpace(externalID))
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, domain.ErrNotFound
	}
	return txn, nil
}

func (s *Service) History(ctx context.Context, externalID string) ([]*domain.Transaction, error) {
	return s.repo.ListVersions(ctx, s.db, strings.TrimSpace(externalID))
}

func normalizeDescription(d *string) *string {
	if d == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*d)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// correctionRangeTo bounds the stale range: nothing after the corrected
// timestamps can be affected beyond one window length, and nothing in the
// future needs re-scoring yet.
func correctionRangeTo(priorAt, newAt time.Time, windowLen time.Duration) time.Time {
	to := maxTime(priorAt, newAt).Add(windowLen)
	if now := time.Now().UTC(); now.Before(to) {
		to = now
	}
	if from := minTime(priorAt, newAt); to.Before(from) {
		to = from
	}
	return to
}
