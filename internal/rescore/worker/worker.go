package worker

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/sentinel/internal/observability/metrics"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	"github.com/smallbiznis/sentinel/internal/scoring"
	"github.com/smallbiznis/sentinel/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobName = "rescore_signals"

// Rescorer replays a client's transactions over a range and resolves the
// pending signals that range covers.
type Rescorer interface {
	Rescore(ctx context.Context, req scoring.RescoreRequest) (*scoring.RescoreResult, error)
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	SignalRepo rescoredomain.Repository
	Rescorer   Rescorer
	Config     Config                 `optional:"true"`
	Metrics    *metrics.WorkerMetrics `optional:"true"`
}

// Worker drains pending re-score signals in the background. Signals never
// trigger scoring on their own; this loop is the explicit actor.
type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	signalRepo rescoredomain.Repository
	rescorer   Rescorer
	cfg        Config
	metrics    *metrics.WorkerMetrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("rescore.worker"),
		signalRepo: p.SignalRepo,
		rescorer:   p.Rescorer,
		cfg:        p.Config.withDefaults(),
		metrics:    p.Metrics,
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		if err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("rescore worker run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.metrics != nil {
				if lag := time.Since(last) - w.cfg.PollInterval; lag > 0 {
					w.metrics.ObserveRunLoopLag(lag)
				}
			}
			last = time.Now()
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()
	ctx = ctxlogger.ContextWithJob(ctx, jobName)

	start := time.Now()
	w.metrics.IncJobRun(jobName)

	processed, err := w.processBatch(ctx, w.cfg.BatchSize)

	w.metrics.ObserveJobDuration(jobName, time.Since(start))
	if processed > 0 {
		w.metrics.AddBatchProcessed(jobName, "rescore_signals", processed)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.metrics.IncJobTimeout(jobName)
		} else if !errors.Is(err, context.Canceled) {
			w.metrics.IncJobError(jobName, err)
		}
	}
	return err
}

// clientPlan is the union of one client's claimed signals: a single replay
// over the merged range settles all of them.
type clientPlan struct {
	clientID string
	from     time.Time
	to       time.Time
	signals  []rescoredomain.RescoreSignal
}

func (w *Worker) processBatch(ctx context.Context, limit int) (int, error) {
	claimStart := time.Now()
	var signals []rescoredomain.RescoreSignal
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		signals, err = w.signalRepo.LockPending(ctx, tx, limit)
		return err
	})
	w.metrics.ObserveDBLockWait(metrics.LockResourceRescoreSignalsForWork, time.Since(claimStart))
	if err != nil {
		return 0, err
	}
	if len(signals) == 0 {
		return 0, nil
	}

	processed := 0
	for _, plan := range groupByClient(signals) {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		result, err := w.rescorer.Rescore(ctx, scoring.RescoreRequest{
			ClientID: plan.clientID,
			From:     plan.from,
			To:       plan.to,
		})
		if err != nil {
			// The signals stay pending; a later run retries them.
			w.log.Warn("rescore run failed",
				zap.String("client_id", plan.clientID),
				zap.Int("signals", len(plan.signals)),
				zap.Error(err),
			)
			w.metrics.IncBatchDeferred(jobName, "rescore_failed")
			w.metrics.IncJobError(jobName, err)
			continue
		}

		processed += len(plan.signals)
		for _, sig := range plan.signals {
			w.metrics.IncSignalResolved(string(sig.Cause))
		}
		w.log.Info("rescore signals processed",
			zap.String("client_id", plan.clientID),
			zap.Int("signals", len(plan.signals)),
			zap.Int("scored", result.Scored),
			zap.Int("superseded", result.Superseded),
			zap.Int("resolved", result.SignalsResolved),
		)
	}
	return processed, nil
}

// groupByClient merges claimed signals per client, widening the replay range
// to cover every claimed signal. Plans keep the backlog's oldest-first order.
func groupByClient(signals []rescoredomain.RescoreSignal) []*clientPlan {
	byClient := make(map[string]*clientPlan)
	var order []*clientPlan
	for _, sig := range signals {
		plan, ok := byClient[sig.ClientID]
		if !ok {
			plan = &clientPlan{clientID: sig.ClientID, from: sig.RangeFrom, to: sig.RangeTo}
			byClient[sig.ClientID] = plan
			order = append(order, plan)
		}
		if sig.RangeFrom.Before(plan.from) {
			plan.from = sig.RangeFrom
		}
		if sig.RangeTo.After(plan.to) {
			plan.to = sig.RangeTo
		}
		plan.signals = append(plan.signals, sig)
	}
	return order
}
