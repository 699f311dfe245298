package scoring

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	annotationdomain "github.com/smallbiznis/sentinel/internal/annotation/domain"
	annotationrepository "github.com/smallbiznis/sentinel/internal/annotation/repository"
	annotationservice "github.com/smallbiznis/sentinel/internal/annotation/service"
	auditdomain "github.com/smallbiznis/sentinel/internal/audit/domain"
	auditrepository "github.com/smallbiznis/sentinel/internal/audit/repository"
	auditservice "github.com/smallbiznis/sentinel/internal/audit/service"
	clientdomain "github.com/smallbiznis/sentinel/internal/client/domain"
	clientrepository "github.com/smallbiznis/sentinel/internal/client/repository"
	"github.com/smallbiznis/sentinel/internal/clock"
	"github.com/smallbiznis/sentinel/internal/config"
	modeloutputdomain "github.com/smallbiznis/sentinel/internal/modeloutput/domain"
	modeloutputrepository "github.com/smallbiznis/sentinel/internal/modeloutput/repository"
	modeloutputservice "github.com/smallbiznis/sentinel/internal/modeloutput/service"
	referencedomain "github.com/smallbiznis/sentinel/internal/reference/domain"
	referencerepository "github.com/smallbiznis/sentinel/internal/reference/repository"
	referenceservice "github.com/smallbiznis/sentinel/internal/reference/service"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	rescorerepository "github.com/smallbiznis/sentinel/internal/rescore/repository"
	rescoreservice "github.com/smallbiznis/sentinel/internal/rescore/service"
	riskeventdomain "github.com/smallbiznis/sentinel/internal/riskevent/domain"
	riskeventrepository "github.com/smallbiznis/sentinel/internal/riskevent/repository"
	riskeventservice "github.com/smallbiznis/sentinel/internal/riskevent/service"
	transactiondomain "github.com/smallbiznis/sentinel/internal/transaction/domain"
	transactionrepository "github.com/smallbiznis/sentinel/internal/transaction/repository"
	transactionservice "github.com/smallbiznis/sentinel/internal/transaction/service"
	"github.com/smallbiznis/sentinel/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type engineEnv struct {
	svc          Service
	db           *gorm.DB
	node         *snowflake.Node
	windows      *window.Aggregator
	reference    referencedomain.Service
	modelOutputs modeloutputdomain.Service
	annotations  annotationdomain.Service
	events       riskeventdomain.Service
	transactions transactiondomain.Service
}

func newEngine(t *testing.T) *engineEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	// One connection keeps concurrent batch writers serialized on sqlite.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&clientdomain.Client{},
		&transactiondomain.Transaction{},
		&referencedomain.CountryRiskScore{},
		&riskeventdomain.RiskEvent{},
		&rescoredomain.RescoreSignal{},
		&auditdomain.AuditLog{},
		&modeloutputdomain.ModelOutput{},
		&annotationdomain.Annotation{},
	))
	tables := []string{
		"clients", "transactions", "country_risk_scores", "risk_events",
		"rescore_signals", "audit_logs", "model_outputs", "annotations",
	}
	for _, table := range tables {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	logger := zap.NewNop()

	holder := config.NewStaticEngineConfigHolder(config.DefaultEngineConfig())
	windows := window.NewAggregator(window.Params{
		Loader: window.NewGormLoader(db),
		Holder: holder,
		Log:    logger,
	})
	pipeline := window.NewKeyedMutex()

	auditSvc := auditservice.New(auditservice.Params{
		DB: db, Log: logger, GenID: node, Repo: auditrepository.Provide(),
	})
	referenceSvc := referenceservice.New(referenceservice.Params{
		DB: db, Log: logger, GenID: node, Repo: referencerepository.Provide(),
		Clock: clock.NewSystemClock(),
	})
	modelOutputSvc := modeloutputservice.New(modeloutputservice.Params{
		DB: db, Log: logger, GenID: node, Repo: modeloutputrepository.Provide(),
	})
	annotationSvc := annotationservice.New(annotationservice.Params{
		DB: db, Log: logger, GenID: node, Repo: annotationrepository.Provide(),
	})
	eventSvc := riskeventservice.New(riskeventservice.Params{
		DB: db, Log: logger, GenID: node, Repo: riskeventrepository.Provide(),
	})
	signalSvc := rescoreservice.New(rescoreservice.Params{
		DB: db, Log: logger, GenID: node, Repo: rescorerepository.Provide(),
	})
	transactionSvc := transactionservice.New(transactionservice.Params{
		DB:         db,
		Log:        logger,
		GenID:      node,
		Repo:       transactionrepository.Provide(),
		ClientRepo: clientrepository.Provide(),
		SignalRepo: rescorerepository.Provide(),
		Audit:      auditSvc,
		Windows:    windows,
		Pipeline:   pipeline,
		Holder:     holder,
	})

	svc := New(Params{
		DB:           db,
		Log:          logger,
		Config:       config.Config{Scoring: config.ScoringConfig{BatchWorkers: 2}},
		Holder:       holder,
		Transactions: transactionSvc,
		TxnRepo:      transactionrepository.Provide(),
		Clients:      clientrepository.Provide(),
		Reference:    referenceSvc,
		ModelOutputs: modelOutputSvc,
		Annotations:  annotationSvc,
		Events:       eventSvc,
		Signals:      signalSvc,
		SignalRepo:   rescorerepository.Provide(),
		Windows:      windows,
		Pipeline:     pipeline,
		Audit:        auditSvc,
		Clock:        clock.NewSystemClock(),
	})

	return &engineEnv{
		svc:          svc,
		db:           db,
		node:         node,
		windows:      windows,
		reference:    referenceSvc,
		modelOutputs: modelOutputSvc,
		annotations:  annotationSvc,
		events:       eventSvc,
		transactions: transactionSvc,
	}
}

func (e *engineEnv) seedClient(t *testing.T, externalID, country string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.db.Create(&clientdomain.Client{
		ID:          e.node.Generate(),
		ExternalID:  externalID,
		CountryCode: country,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Error)
}

func (e *engineEnv) seedCountry(t *testing.T, code string, weight float64) {
	t.Helper()
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := e.reference.Upsert(context.Background(), referencedomain.UpsertCountryRiskRequest{
		CountryCode:   code,
		RiskWeight:    weight,
		EffectiveFrom: &from,
	})
	require.NoError(t, err)
}

var scoreBase = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func submission(externalID, clientID string, amount float64, at time.Time) transactiondomain.IngestRequest {
	return transactiondomain.IngestRequest{
		ExternalID: externalID,
		ClientID:   clientID,
		Amount:     amount,
		Currency:   "USD",
		OccurredAt: at.Format(time.RFC3339),
	}
}

func TestSubmitCleanTransactionEmitsNoFlag(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	out, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 40, scoreBase))
	require.NoError(t, err)

	require.NotNil(t, out.Event)
	assert.False(t, out.Duplicate)
	assert.True(t, out.Event.NoFlag)
	assert.Equal(t, 0.0, out.Event.Score)
	assert.Equal(t, "low", out.Event.Severity)
	assert.Equal(t, []string{"no_flag"}, []string(out.Event.Reasons))
	assert.Equal(t, 1, out.Event.Revision)
}

func TestSubmitLargeAmountInHighRiskCountry(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "NG")
	env.seedCountry(t, "NG", 0.8)
	ctx := context.Background()

	out, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	assert.Equal(t, 50.0, out.Event.Score)
	assert.Equal(t, "high", out.Event.Severity)
	assert.Equal(t, []string{"large_amount", "high_risk_country"}, []string(out.Event.Reasons))
	assert.False(t, out.Event.NoFlag)
}

func TestRollingWindowFlagsTenthSmallTransaction(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	// Nine transactions of 6000 spread over 29 days stay individually quiet.
	for i := 0; i < 9; i++ {
		at := scoreBase.Add(time.Duration(i*3) * 24 * time.Hour)
		_, err := env.svc.Submit(ctx, submission(fmt.Sprintf("txn-%d", i), "client-a", 6000, at))
		require.NoError(t, err)
	}

	// The tenth is tiny but tips both rolling thresholds.
	out, err := env.svc.Submit(ctx, submission("txn-9", "client-a", 30, scoreBase.Add(29*24*time.Hour)))
	require.NoError(t, err)

	assert.Equal(t, []string{"rolling_sum", "rolling_count"}, []string(out.Event.Reasons))
	assert.Equal(t, 50.0, out.Event.Score)
}

func TestWindowExcludesHistoryPastThirtyDays(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, submission("txn-old", "client-a", 60000, scoreBase))
	require.NoError(t, err)
	assert.Contains(t, []string(first.Event.Reasons), "rolling_sum")

	// 31 days later the old transaction has left the window entirely.
	out, err := env.svc.Submit(ctx, submission("txn-new", "client-a", 100, scoreBase.Add(31*24*time.Hour)))
	require.NoError(t, err)

	assert.True(t, out.Event.NoFlag)
	assert.Equal(t, []string{"no_flag"}, []string(out.Event.Reasons))
}

func TestLowConfidenceModelOutputIgnored(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	_, err := env.modelOutputs.Upsert(ctx, modeloutputdomain.UpsertRequest{
		TransactionID: "txn-1",
		RiskScore:     0.9,
		Confidence:    0.4,
	})
	require.NoError(t, err)

	out, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	assert.Equal(t, 30.0, out.Event.Score, "a low-confidence model never moves the score")
	assert.False(t, out.Event.MLBlended)
	assert.Equal(t, []string{"large_amount", "ml_low_confidence_ignored"}, []string(out.Event.Reasons))
}

func TestHighConfidenceModelOutputBlends(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	_, err := env.modelOutputs.Upsert(ctx, modeloutputdomain.UpsertRequest{
		TransactionID: "txn-1",
		RiskScore:     0.8,
		Confidence:    0.9,
	})
	require.NoError(t, err)

	out, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	assert.InDelta(t, 54.0, out.Event.Score, 1e-9)
	assert.Equal(t, "high", out.Event.Severity)
	assert.True(t, out.Event.MLBlended)
	assert.Equal(t, []string{"large_amount", "ml_anomaly"}, []string(out.Event.Reasons))
}

func TestUnmappedCountryScoresWithDiagnostic(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "ZZ")
	ctx := context.Background()

	out, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	assert.Equal(t, 30.0, out.Event.Score, "unmapped country contributes zero weight")
	assert.Contains(t, []string(out.Event.Reasons), "unmapped_country")
	assert.NotContains(t, []string(out.Event.Reasons), "high_risk_country")
}

func TestAnnotationCodeJoinsReasons(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	_, err := env.annotations.Upsert(ctx, annotationdomain.UpsertRequest{
		TransactionID: "txn-1",
		ReasonCode:    "confirmed_fraud",
		SummaryText:   "issuer chargeback",
	})
	require.NoError(t, err)

	out, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	assert.Equal(t, 30.0, out.Event.Score, "annotations carry zero weight")
	assert.Equal(t, []string{"large_amount", "confirmed_fraud"}, []string(out.Event.Reasons))
}

func TestSubmitIdenticalResendReturnsExistingEvent(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	first, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	second, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.EventKey, second.Event.EventKey)

	var count int64
	require.NoError(t, env.db.Model(&riskeventdomain.RiskEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "a resend never re-scores")
}

func TestLateArrivalRaisesSignalWithoutRetriggering(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	onTime, err := env.svc.Submit(ctx, submission("txn-day10", "client-a", 6000, scoreBase.Add(10*24*time.Hour)))
	require.NoError(t, err)

	lateAt := scoreBase.Add(5 * 24 * time.Hour)
	late, err := env.svc.Submit(ctx, submission("txn-day5", "client-a", 100, lateAt))
	require.NoError(t, err)
	require.NotNil(t, late.Event, "late arrivals still get their own event")

	var signals []rescoredomain.RescoreSignal
	require.NoError(t, env.db.
		Where("cause = ?", rescoredomain.CauseLateArrival).
		Find(&signals).Error)
	require.Len(t, signals, 1)
	assert.Equal(t, rescoredomain.StatusPending, signals[0].Status)
	assert.Equal(t, "txn-day5", signals[0].TransactionID)
	assert.True(t, signals[0].RangeFrom.Equal(lateAt))
	assert.True(t, signals[0].RangeTo.Equal(scoreBase.Add(10*24*time.Hour)), "range is capped at the window max")

	// The earlier event is untouched until an explicit re-score.
	current, err := env.events.Current(ctx, "txn-day10", EngineVersion)
	require.NoError(t, err)
	assert.Equal(t, onTime.Event.EventKey, current.EventKey)
	assert.Equal(t, 1, current.Revision)
}

func TestSubmitBatchGroupsByClientAndReportsPerRecord(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedClient(t, "client-b", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	reqs := []transactiondomain.IngestRequest{
		submission("txn-a1", "client-a", 100, scoreBase),
		{ExternalID: "txn-bad", ClientID: "client-a", Amount: 10, Currency: "US", OccurredAt: scoreBase.Format(time.RFC3339)},
		submission("txn-b1", "client-b", 200, scoreBase),
		submission("txn-a1", "client-a", 999, scoreBase),
		submission("txn-a1", "client-a", 100, scoreBase),
	}

	results, err := env.svc.SubmitBatch(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	assert.Equal(t, BatchAccepted, results[0].Status)
	require.NotNil(t, results[0].Event)

	assert.Equal(t, BatchRejected, results[1].Status)
	assert.Contains(t, results[1].Error, "currency")

	assert.Equal(t, BatchAccepted, results[2].Status)

	assert.Equal(t, BatchConflict, results[3].Status)

	assert.Equal(t, BatchDuplicate, results[4].Status)
	require.NotNil(t, results[4].Event)
	assert.Equal(t, results[0].Event.EventKey, results[4].Event.EventKey)

	for i, result := range results {
		assert.Equal(t, i, result.Index)
	}
}

func TestRescoreSupersedesAfterCorrection(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	at := scoreBase.Add(3 * 24 * time.Hour)
	first, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, at))
	require.NoError(t, err)
	require.Equal(t, 30.0, first.Event.Score)

	_, err = env.transactions.Correct(ctx, transactiondomain.CorrectRequest{
		ExternalID: "txn-1",
		Amount:     5,
		Currency:   "USD",
		OccurredAt: at.Format(time.RFC3339),
	})
	require.NoError(t, err)

	result, err := env.svc.Rescore(ctx, RescoreRequest{ClientID: "client-a"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scored)
	assert.Equal(t, 1, result.Superseded)
	assert.Equal(t, 1, result.SignalsResolved)

	current, err := env.events.Current(ctx, "txn-1", EngineVersion)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Revision)
	assert.True(t, current.NoFlag)
	require.NotNil(t, current.PriorEventKey)
	assert.Equal(t, first.Event.EventKey, *current.PriorEventKey)

	history, err := env.events.History(ctx, "txn-1", EngineVersion)
	require.NoError(t, err)
	assert.Len(t, history, 2, "superseded revisions stay on record")

	var pending int64
	require.NoError(t, env.db.Model(&rescoredomain.RescoreSignal{}).
		Where("status = ?", rescoredomain.StatusPending).
		Count(&pending).Error)
	assert.Zero(t, pending)
}

func TestRescoreWithUnchangedOutcomeAddsNothing(t *testing.T) {
	env := newEngine(t)
	env.seedClient(t, "client-a", "US")
	env.seedCountry(t, "US", 0.1)
	ctx := context.Background()

	_, err := env.svc.Submit(ctx, submission("txn-1", "client-a", 15000, scoreBase))
	require.NoError(t, err)

	result, err := env.svc.Rescore(ctx, RescoreRequest{ClientID: "client-a"})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scored)
	assert.Zero(t, result.Superseded, "identical outcomes never pile up revisions")

	current, err := env.events.Current(ctx, "txn-1", EngineVersion)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Revision)
}

func TestRescoreValidation(t *testing.T) {
	env := newEngine(t)
	ctx := context.Background()

	_, err := env.svc.Rescore(ctx, RescoreRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.svc.Rescore(ctx, RescoreRequest{
		ClientID: "client-a",
		From:     scoreBase.Add(time.Hour),
		To:       scoreBase,
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = env.svc.Rescore(ctx, RescoreRequest{ClientID: "client-missing"})
	assert.ErrorIs(t, err, ErrUnknownClient)
}
