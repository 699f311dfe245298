package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/sentinel/internal/audit/domain"
	auditrepository "github.com/smallbiznis/sentinel/internal/audit/repository"
	auditservice "github.com/smallbiznis/sentinel/internal/audit/service"
	"github.com/smallbiznis/sentinel/internal/client/domain"
	"github.com/smallbiznis/sentinel/internal/client/repository"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	rescorerepository "github.com/smallbiznis/sentinel/internal/rescore/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Client{},
		&rescoredomain.RescoreSignal{},
		&auditdomain.AuditLog{},
	))
	for _, table := range []string{"clients", "rescore_signals", "audit_logs"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	auditSvc := auditservice.New(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
	})

	svc := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       repository.Provide(),
		SignalRepo: rescorerepository.Provide(),
		Audit:      auditSvc,
	})
	return svc, db
}

func pendingSignals(t *testing.T, db *gorm.DB, clientID string) []rescoredomain.RescoreSignal {
	t.Helper()
	var signals []rescoredomain.RescoreSignal
	require.NoError(t, db.
		Where("client_id = ? AND status = ?", clientID, rescoredomain.StatusPending).
		Find(&signals).Error)
	return signals
}

func TestUpsertCreatesClient(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	client, err := svc.Upsert(ctx, domain.UpsertClientRequest{
		ExternalID:  "client-a",
		CountryCode: "ng",
		Name:        "Acme West",
	})
	require.NoError(t, err)

	assert.Equal(t, "client-a", client.ExternalID)
	assert.Equal(t, "NG", client.CountryCode, "country codes normalize to upper case")
	assert.Equal(t, "Acme West", client.Name)
	assert.Empty(t, pendingSignals(t, db, "client-a"), "creation is not a correction")
}

func TestUpsertIsIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.Upsert(ctx, domain.UpsertClientRequest{ExternalID: "client-a", CountryCode: "NG"})
	require.NoError(t, err)

	again, err := svc.Upsert(ctx, domain.UpsertClientRequest{ExternalID: "client-a", CountryCode: "NG"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Empty(t, pendingSignals(t, db, "client-a"))
}

func TestUpsertCountryChangeRaisesSignal(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertClientRequest{ExternalID: "client-a", CountryCode: "NG"})
	require.NoError(t, err)

	updated, err := svc.Upsert(ctx, domain.UpsertClientRequest{ExternalID: "client-a", CountryCode: "GB"})
	require.NoError(t, err)
	assert.Equal(t, "GB", updated.CountryCode)

	signals := pendingSignals(t, db, "client-a")
	require.Len(t, signals, 1)
	assert.Equal(t, rescoredomain.CauseClientCorrection, signals[0].Cause)
	assert.True(t, signals[0].RangeFrom.Before(signals[0].RangeTo))
}

func TestUpsertRequiresCountryOnCreate(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Upsert(context.Background(), domain.UpsertClientRequest{ExternalID: "client-a"})
	assert.ErrorIs(t, err, domain.ErrInvalidCountryCode)
}

func TestCorrectUnknownClient(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Correct(context.Background(), domain.CorrectClientRequest{
		ExternalID:  "ghost",
		CountryCode: "GB",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCorrectChangesCountryAndAudits(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertClientRequest{ExternalID: "client-a", CountryCode: "NG"})
	require.NoError(t, err)

	corrected, err := svc.Correct(ctx, domain.CorrectClientRequest{
		ExternalID:  "client-a",
		CountryCode: "gb",
	})
	require.NoError(t, err)
	assert.Equal(t, "GB", corrected.CountryCode)

	require.Len(t, pendingSignals(t, db, "client-a"), 1)

	var count int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).
		Where("action = ?", "client.correct").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCorrectSameCountryIsNoOp(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertClientRequest{ExternalID: "client-a", CountryCode: "NG"})
	require.NoError(t, err)

	_, err = svc.Correct(ctx, domain.CorrectClientRequest{ExternalID: "client-a", CountryCode: "NG"})
	require.NoError(t, err)

	assert.Empty(t, pendingSignals(t, db, "client-a"))
}

func TestUpsertRejectsBadCountryCodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, code := range []string{"N", "NGA", "N1", "--"} {
		_, err := svc.Upsert(ctx, domain.UpsertClientRequest{ExternalID: "client-x", CountryCode: code})
		assert.ErrorIs(t, err, domain.ErrInvalidCountryCode, "code %q", code)
	}
}
