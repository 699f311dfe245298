package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	annotationdomain "github.com/smallbiznis/sentinel/internal/annotation/domain"
	auditdomain "github.com/smallbiznis/sentinel/internal/audit/domain"
	clientdomain "github.com/smallbiznis/sentinel/internal/client/domain"
	"github.com/smallbiznis/sentinel/internal/clock"
	"github.com/smallbiznis/sentinel/internal/config"
	"github.com/smallbiznis/sentinel/internal/fuse"
	modeloutputdomain "github.com/smallbiznis/sentinel/internal/modeloutput/domain"
	"github.com/smallbiznis/sentinel/internal/observability/metrics"
	"github.com/smallbiznis/sentinel/internal/ratelimit"
	referencedomain "github.com/smallbiznis/sentinel/internal/reference/domain"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	riskeventdomain "github.com/smallbiznis/sentinel/internal/riskevent/domain"
	"github.com/smallbiznis/sentinel/internal/rules"
	transactiondomain "github.com/smallbiznis/sentinel/internal/transaction/domain"
	"github.com/smallbiznis/sentinel/internal/window"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// EngineVersion stamps every emitted risk event. Bump it when rule
// semantics change so new verdicts never collide with old event keys.
const EngineVersion = "v1"

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrUnknownClient  = errors.New("unknown_client")
)

// SubmitResult is the outcome of scoring one submitted transaction.
type SubmitResult struct {
	Transaction *transactiondomain.Transaction `json:"transaction"`
	Event       *riskeventdomain.RiskEvent     `json:"event"`
	Duplicate   bool                           `json:"duplicate"`
}

type BatchItemStatus string

const (
	BatchAccepted  BatchItemStatus = "accepted"
	BatchDuplicate BatchItemStatus = "duplicate"
	BatchRejected  BatchItemStatus = "rejected"
	BatchConflict  BatchItemStatus = "conflict"
	BatchFailed    BatchItemStatus = "failed"
)

// BatchItemResult reports one record of a batch. Rejected records are
// malformed and will never succeed; failed records hit an internal error
// and are safe to resubmit.
type BatchItemResult struct {
	Index      int                        `json:"index"`
	ExternalID string                     `json:"external_id"`
	Status     BatchItemStatus            `json:"status"`
	Event      *riskeventdomain.RiskEvent `json:"event,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// RescoreRequest replays one client's transactions over [From, To]. A zero
// From means the beginning of history; a zero To means now.
type RescoreRequest struct {
	ClientID string    `json:"client_id"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

type RescoreResult struct {
	ClientID        string    `json:"client_id"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	Scored          int       `json:"scored"`
	Superseded      int       `json:"superseded"`
	SignalsResolved int       `json:"signals_resolved"`
}

type Service interface {
	// Submit ingests one transaction and runs the scoring pipeline. A
	// resend whose content matches returns the existing current event.
	Submit(ctx context.Context, req transactiondomain.IngestRequest) (*SubmitResult, error)

	// SubmitBatch scores a batch: per-client input order is preserved,
	// different clients fan out across a bounded pool, and every record
	// gets its own result.
	SubmitBatch(ctx context.Context, reqs []transactiondomain.IngestRequest) ([]BatchItemResult, error)

	// Rescore replays a client's transactions in timestamp order, emits
	// superseding events where outcomes changed, and resolves pending
	// signals covered by the range.
	Rescore(ctx context.Context, req RescoreRequest) (*RescoreResult, error)
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Config       config.Config
	Holder       *config.EngineConfigHolder
	Transactions transactiondomain.Service
	TxnRepo      transactiondomain.Repository
	Clients      clientdomain.Repository
	Reference    referencedomain.Service
	ModelOutputs modeloutputdomain.Service
	Annotations  annotationdomain.Service
	Events       riskeventdomain.Service
	Signals      rescoredomain.Service
	SignalRepo   rescoredomain.Repository
	Windows      *window.Aggregator
	Pipeline     *window.KeyedMutex
	Audit        auditdomain.Service
	Clock        clock.Clock
	Limiter      *ratelimit.IngestLimiter `optional:"true"`
	Metrics      *metrics.Metrics         `optional:"true"`
}

type service struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.Config
	holder       *config.EngineConfigHolder
	transactions transactiondomain.Service
	txnRepo      transactiondomain.Repository
	clients      clientdomain.Repository
	reference    referencedomain.Service
	modelOutputs modeloutputdomain.Service
	annotations  annotationdomain.Service
	events       riskeventdomain.Service
	signals      rescoredomain.Service
	signalRepo   rescoredomain.Repository
	windows      *window.Aggregator
	pipeline     *window.KeyedMutex
	audit        auditdomain.Service
	clock        clock.Clock
	limiter      *ratelimit.IngestLimiter
	metrics      *metrics.Metrics
}

func New(p Params) Service {
	return &service{
		db:           p.DB,
		log:          p.Log.Named("scoring.service"),
		cfg:          p.Config,
		holder:       p.Holder,
		transactions: p.Transactions,
		txnRepo:      p.TxnRepo,
		clients:      p.Clients,
		reference:    p.Reference,
		modelOutputs: p.ModelOutputs,
		annotations:  p.Annotations,
		events:       p.Events,
		signals:      p.Signals,
		signalRepo:   p.SignalRepo,
		windows:      p.Windows,
		pipeline:     p.Pipeline,
		audit:        p.Audit,
		clock:        p.Clock,
		limiter:      p.Limiter,
		metrics:      p.Metrics,
	}
}

func (s *service) Submit(ctx context.Context, req transactiondomain.IngestRequest) (*SubmitResult, error) {
	out, err := s.transactions.Ingest(ctx, req)
	if err != nil {
		return nil, err
	}

	if out.Duplicate {
		current, err := s.events.Current(ctx, out.Transaction.ExternalID, EngineVersion)
		if err == nil {
			return &SubmitResult{Transaction: out.Transaction, Event: current, Duplicate: true}, nil
		}
		if !errors.Is(err, riskeventdomain.ErrNotFound) {
			return nil, err
		}
		// The transaction persisted on an earlier attempt but scoring never
		// finished. Resume the pipeline; Record and Emit are idempotent.
	}

	release, err := s.lockClient(ctx, out.Client.ExternalID)
	if err != nil {
		return nil, err
	}
	defer release()

	event, err := s.score(ctx, out.Transaction, out.Client, emitOptions{})
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Transaction: out.Transaction, Event: event, Duplicate: out.Duplicate}, nil
}

func (s *service) SubmitBatch(ctx context.Context, reqs []transactiondomain.IngestRequest) ([]BatchItemResult, error) {
	results := make([]BatchItemResult, len(reqs))

	// Group records by client so one client's records stay in input order
	// while distinct clients proceed in parallel.
	groups := make(map[string][]int)
	var order []string
	for i, req := range reqs {
		key := strings.TrimSpace(req.ClientID)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	workers := s.cfg.Scoring.BatchWorkers
	if workers <= 0 {
		workers = 1
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, key := range order {
		indices := groups[key]
		g.Go(func() error {
			for _, i := range indices {
				if err := ctx.Err(); err != nil {
					results[i] = BatchItemResult{
						Index:      i,
						ExternalID: strings.TrimSpace(reqs[i].ExternalID),
						Status:     BatchFailed,
						Error:      err.Error(),
					}
					continue
				}
				results[i] = s.submitItem(ctx, i, reqs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

func (s *service) submitItem(ctx context.Context, index int, req transactiondomain.IngestRequest) BatchItemResult {
	item := BatchItemResult{Index: index, ExternalID: strings.TrimSpace(req.ExternalID)}

	out, err := s.Submit(ctx, req)
	if err != nil {
		var vErr *transactiondomain.ValidationError
		switch {
		case errors.As(err, &vErr):
			item.Status = BatchRejected
			item.Error = vErr.Error()
		case errors.Is(err, transactiondomain.ErrConflictingResend):
			item.Status = BatchConflict
			item.Error = err.Error()
		default:
			item.Status = BatchFailed
			item.Error = err.Error()
		}
		return item
	}

	item.Event = out.Event
	if out.Duplicate {
		item.Status = BatchDuplicate
	} else {
		item.Status = BatchAccepted
	}
	return item
}

func (s *service) Rescore(ctx context.Context, req RescoreRequest) (*RescoreResult, error) {
	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" {
		return nil, ErrInvalidRequest
	}
	from := req.From.UTC()
	to := req.To
	if to.IsZero() {
		to = s.clock.Now()
	}
	to = to.UTC()
	if to.Before(from) {
		return nil, ErrInvalidRequest
	}

	client, err := s.clients.FindByExternalID(ctx, s.db, clientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrUnknownClient
	}

	release, err := s.lockClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Drop cached window state so the replay sees exactly the current
	// stored versions, corrections included.
	s.windows.Forget(clientID)

	txns, err := s.txnRepo.ListCurrentByClientRange(ctx, s.db, client.ID, from, to)
	if err != nil {
		return nil, err
	}

	runStart := time.Now().UTC()
	result := &RescoreResult{ClientID: clientID, From: from, To: to}
	for _, txn := range txns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		event, err := s.score(ctx, txn, client, emitOptions{supersede: true, replay: true})
		if err != nil {
			return nil, fmt.Errorf("rescore transaction %s: %w", txn.ExternalID, err)
		}
		result.Scored++
		if event.Revision > 1 && !event.CreatedAt.Before(runStart) {
			result.Superseded++
		}
	}

	resolved, err := s.resolveSignals(ctx, clientID, from, to)
	if err != nil {
		return nil, err
	}
	result.SignalsResolved = resolved

	_ = s.audit.Record(ctx, "rescore.run", "client", clientID, map[string]any{
		"from":             from.Format(time.RFC3339),
		"to":               to.Format(time.RFC3339),
		"scored":           result.Scored,
		"superseded":       result.Superseded,
		"signals_resolved": result.SignalsResolved,
	})
	s.log.Info("rescore completed",
		zap.String("client_id", clientID),
		zap.Int("scored", result.Scored),
		zap.Int("superseded", result.Superseded),
		zap.Int("signals_resolved", result.SignalsResolved),
	)
	return result, nil
}

// emitOptions steer one pipeline pass. replay suppresses late-arrival
// detection so historical replays never raise signals about themselves.
type emitOptions struct {
	supersede bool
	replay    bool
}

// score runs the fixed pipeline for one persisted transaction. Callers hold
// the client's pipeline lock.
func (s *service) score(ctx context.Context, txn *transactiondomain.Transaction, client *clientdomain.Client, opts emitOptions) (*riskeventdomain.RiskEvent, error) {
	cfg := s.holder.Get()

	pre, err := s.windows.MaxSeen(ctx, client.ExternalID)
	if err != nil {
		return nil, err
	}
	if _, err := s.windows.Record(ctx, client.ExternalID, txn.ExternalID, txn.OccurredAt, txn.Amount); err != nil {
		return nil, err
	}
	late := !opts.replay && !pre.IsZero() && txn.OccurredAt.Before(pre)

	rollingSum, err := s.windows.RollingSum(ctx, client.ExternalID, txn.OccurredAt)
	if err != nil {
		return nil, err
	}
	rollingCount, err := s.windows.RollingCount(ctx, client.ExternalID, txn.OccurredAt)
	if err != nil {
		return nil, err
	}

	var (
		countryWeight float64
		unmapped      bool
	)
	weight, err := s.reference.LookupCountryRisk(ctx, client.CountryCode, txn.OccurredAt)
	switch {
	case err == nil:
		countryWeight = weight
	case errors.Is(err, referencedomain.ErrNotFound):
		unmapped = true
	default:
		return nil, err
	}

	fired := rules.Evaluate(cfg, rules.Input{
		Amount:          txn.Amount,
		CountryWeight:   countryWeight,
		CountryUnmapped: unmapped,
		RollingSum:      rollingSum,
		RollingCount:    rollingCount,
	})

	var ml *fuse.ModelSignal
	output, err := s.modelOutputs.Get(ctx, txn.ExternalID)
	switch {
	case err == nil:
		ml = &fuse.ModelSignal{RiskScore: output.RiskScore, Confidence: output.Confidence}
	case errors.Is(err, modeloutputdomain.ErrNotFound):
	default:
		return nil, err
	}

	annotationCode := ""
	note, err := s.annotations.Get(ctx, txn.ExternalID)
	switch {
	case err == nil:
		annotationCode = note.ReasonCode
	case errors.Is(err, annotationdomain.ErrNotFound):
	default:
		return nil, err
	}

	fusion := fuse.Fuse(cfg, fired, ml)

	// The signal goes down before the event so a failure in either leaves a
	// retryable state, never a silently missing signal.
	if late {
		if err := s.raiseLateSignal(ctx, client.ExternalID, txn.ExternalID, txn.OccurredAt, pre); err != nil {
			return nil, err
		}
	}

	event, err := s.events.Emit(ctx, riskeventdomain.EmitInput{
		TransactionID:   txn.ExternalID,
		ClientID:        client.ExternalID,
		EngineVersion:   EngineVersion,
		OccurredAt:      txn.OccurredAt,
		Fired:           fired,
		Fusion:          fusion,
		CountryUnmapped: unmapped,
		AnnotationCode:  annotationCode,
		Supersede:       opts.supersede,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordRiskEvent(ctx, event.Severity, event.NoFlag)
		for _, rule := range fired {
			s.metrics.RecordRuleFired(ctx, string(rule.Code))
		}
	}
	return event, nil
}

func (s *service) raiseLateSignal(ctx context.Context, clientID, txnID string, at, maxSeen time.Time) error {
	rangeTo := at.Add(s.windows.Window())
	if maxSeen.Before(rangeTo) {
		rangeTo = maxSeen
	}
	if _, err := s.signals.Raise(ctx, rescoredomain.RaiseRequest{
		ClientID:      clientID,
		TransactionID: txnID,
		Cause:         rescoredomain.CauseLateArrival,
		RangeFrom:     at,
		RangeTo:       rangeTo,
	}); err != nil {
		return fmt.Errorf("raise late arrival signal for %s: %w", txnID, err)
	}
	if s.metrics != nil {
		s.metrics.RecordRescoreSignal(ctx, string(rescoredomain.CauseLateArrival))
	}
	s.log.Info("late arrival recorded",
		zap.String("client_id", clientID),
		zap.String("transaction_id", txnID),
		zap.Time("occurred_at", at),
		zap.Time("window_max", maxSeen),
	)
	return nil
}

// resolveSignals marks pending signals fully covered by [from, to] as
// resolved. Partially covered signals stay pending for a later run.
func (s *service) resolveSignals(ctx context.Context, clientID string, from, to time.Time) (int, error) {
	var resolved int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		pending, err := s.signalRepo.PendingForClient(ctx, tx, clientID, from, to)
		if err != nil {
			return err
		}
		ids := make([]snowflake.ID, 0, len(pending))
		for _, sig := range pending {
			if sig.RangeFrom.Before(from) || sig.RangeTo.After(to) {
				continue
			}
			ids = append(ids, sig.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		n, err := s.signalRepo.MarkResolved(ctx, tx, ids, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		resolved = n
		return nil
	})
	return int(resolved), err
}

// lockClient serializes scoring for one client. The in-process mutex always
// applies; the redis lock joins in when configured for multi-instance runs.
func (s *service) lockClient(ctx context.Context, clientID string) (func(), error) {
	release := s.pipeline.Lock(clientID)
	if !s.limiter.Enabled() {
		return release, nil
	}

	for {
		token, ok, err := s.limiter.TryLockClient(ctx, clientID)
		if err != nil {
			release()
			return nil, err
		}
		if ok {
			return func() {
				if err := s.limiter.ReleaseClient(context.WithoutCancel(ctx), clientID, token); err != nil {
					s.log.Warn("client lock release failed",
						zap.String("client_id", clientID),
						zap.Error(err),
					)
				}
				release()
			}, nil
		}

		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
