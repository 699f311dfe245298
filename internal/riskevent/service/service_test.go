package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/sentinel/internal/fuse"
	"github.com/smallbiznis/sentinel/internal/riskevent/domain"
	"github.com/smallbiznis/sentinel/internal/riskevent/repository"
	"github.com/smallbiznis/sentinel/internal/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.RiskEvent{}))
	require.NoError(t, db.Exec("DELETE FROM risk_events").Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
	return svc, db
}

func flaggedInput(txnID string) domain.EmitInput {
	return domain.EmitInput{
		TransactionID: txnID,
		ClientID:      "client-a",
		EngineVersion: "v1.0.0",
		OccurredAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Fired: []rules.FiredRule{
			{Code: rules.CodeLargeAmount, Weight: 30, Value: 15_000, Threshold: 10_000},
		},
		Fusion: fuse.Fusion{
			RuleScore:  30,
			FinalScore: 30,
			Severity:   fuse.SeverityMedium,
		},
	}
}

func TestEventKeyDeterministic(t *testing.T) {
	first := domain.EventKey("txn-1", "v1.0.0", 1)
	assert.Len(t, first, 64)
	assert.Equal(t, first, domain.EventKey("txn-1", "v1.0.0", 1))
	assert.NotEqual(t, first, domain.EventKey("txn-1", "v1.0.0", 2))
	assert.NotEqual(t, first, domain.EventKey("txn-2", "v1.0.0", 1))
	assert.NotEqual(t, first, domain.EventKey("txn-1", "v1.1.0", 1))
}

func TestEmitFirstRevision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	event, err := svc.Emit(ctx, flaggedInput("txn-1"))
	require.NoError(t, err)

	assert.Equal(t, domain.EventKey("txn-1", "v1.0.0", 1), event.EventKey)
	assert.Equal(t, 1, event.Revision)
	assert.Nil(t, event.PriorEventKey)
	assert.Equal(t, 30.0, event.Score)
	assert.Equal(t, "medium", event.Severity)
	assert.Equal(t, []string{"large_amount"}, []string(event.Reasons))
	assert.False(t, event.NoFlag)
	assert.NotEmpty(t, event.RuleDetail)
}

func TestEmitWithoutSupersedeReturnsStoredEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Emit(ctx, flaggedInput("txn-1"))
	require.NoError(t, err)

	// A resend may even carry a different outcome; without supersede the
	// stored event stands.
	in := flaggedInput("txn-1")
	in.Fusion.FinalScore = 99
	again, err := svc.Emit(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.EventKey, again.EventKey)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 30.0, again.Score)

	history, err := svc.History(ctx, "txn-1", "v1.0.0")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEmitSupersedeCreatesNewRevision(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Emit(ctx, flaggedInput("txn-1"))
	require.NoError(t, err)

	in := flaggedInput("txn-1")
	in.Fired = append(in.Fired, rules.FiredRule{Code: rules.CodeRollingSum, Weight: 25, Value: 61_000, Threshold: 50_000})
	in.Fusion = fuse.Fusion{RuleScore: 55, FinalScore: 55, Severity: fuse.SeverityHigh}
	in.Supersede = true

	second, err := svc.Emit(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, 2, second.Revision)
	require.NotNil(t, second.PriorEventKey)
	assert.Equal(t, first.EventKey, *second.PriorEventKey)
	assert.Equal(t, []string{"large_amount", "rolling_sum"}, []string(second.Reasons))

	// The superseded row is untouched.
	history, err := svc.History(ctx, "txn-1", "v1.0.0")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.EventKey, history[0].EventKey)
	assert.Equal(t, 30.0, history[0].Score)

	current, err := svc.Current(ctx, "txn-1", "v1.0.0")
	require.NoError(t, err)
	assert.Equal(t, second.EventKey, current.EventKey)
}

func TestEmitSupersedeIdenticalOutcomeIsNoOp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Emit(ctx, flaggedInput("txn-1"))
	require.NoError(t, err)

	in := flaggedInput("txn-1")
	in.Supersede = true
	again, err := svc.Emit(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.EventKey, again.EventKey)
	assert.Equal(t, 1, again.Revision)

	history, err := svc.History(ctx, "txn-1", "v1.0.0")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEmitNoFlagEvent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	event, err := svc.Emit(ctx, domain.EmitInput{
		TransactionID: "txn-clean",
		ClientID:      "client-a",
		EngineVersion: "v1.0.0",
		OccurredAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Fusion: fuse.Fusion{
			Severity: fuse.SeverityLow,
			NoFlag:   true,
		},
	})
	require.NoError(t, err)

	assert.True(t, event.NoFlag)
	assert.Equal(t, []string{"no_flag"}, []string(event.Reasons))
	assert.Equal(t, 0.0, event.Score)
	assert.Empty(t, event.RuleDetail)
}

func TestEmitReasonOrderAndDedup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	event, err := svc.Emit(ctx, domain.EmitInput{
		TransactionID: "txn-1",
		ClientID:      "client-a",
		EngineVersion: "v1.0.0",
		OccurredAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Fired: []rules.FiredRule{
			{Code: rules.CodeLargeAmount, Weight: 30},
			{Code: rules.CodeRollingSum, Weight: 25},
		},
		Fusion: fuse.Fusion{
			RuleScore:  55,
			FinalScore: 79,
			Severity:   fuse.SeverityCritical,
			MLBlended:  true,
		},
		CountryUnmapped: true,
		// Annotation colliding with a rule code dedups to the first occurrence.
		AnnotationCode: "large_amount",
	})
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"large_amount", "rolling_sum", "ml_anomaly", "unmapped_country"},
		[]string(event.Reasons),
	)
	assert.True(t, event.MLBlended)
}

func TestEmitLowConfidenceDiagnostic(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	event, err := svc.Emit(ctx, domain.EmitInput{
		TransactionID: "txn-1",
		ClientID:      "client-a",
		EngineVersion: "v1.0.0",
		OccurredAt:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Fired:         []rules.FiredRule{{Code: rules.CodeLargeAmount, Weight: 30}},
		Fusion: fuse.Fusion{
			RuleScore:              30,
			FinalScore:             30,
			Severity:               fuse.SeverityMedium,
			MLIgnoredLowConfidence: true,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"large_amount", "ml_low_confidence_ignored"}, []string(event.Reasons))
	assert.False(t, event.MLBlended)
}

func TestEmitRejectsMissingIdentity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Emit(ctx, domain.EmitInput{EngineVersion: "v1.0.0"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Emit(ctx, domain.EmitInput{TransactionID: "txn-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGetAndCurrentNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing-key")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Current(ctx, "missing-txn", "v1.0.0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListFiltersAndPaginates(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, txn := range []string{"txn-1", "txn-2", "txn-3"} {
		in := flaggedInput(txn)
		_, err := svc.Emit(ctx, in)
		require.NoError(t, err)
	}
	other := flaggedInput("txn-other")
	other.ClientID = "client-b"
	_, err := svc.Emit(ctx, other)
	require.NoError(t, err)

	req := domain.ListRequest{ClientID: "client-a"}
	req.PageSize = 2

	page, info, err := svc.List(ctx, req)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	assert.True(t, info.HasMore)
	require.NotEmpty(t, info.NextPageToken)

	req.PageToken = info.NextPageToken
	rest, info, err := svc.List(ctx, req)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.False(t, info.HasMore)

	for _, event := range append(page, rest...) {
		assert.Equal(t, "client-a", event.ClientID)
	}

	bySeverity, _, err := svc.List(ctx, domain.ListRequest{Severity: "critical"})
	require.NoError(t, err)
	assert.Empty(t, bySeverity)
}
