package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/sentinel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubLoader struct {
	mu      sync.Mutex
	entries []Entry
	calls   int
}

func (s *stubLoader) LoadEntries(_ context.Context, _ string, after, until time.Time) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	var out []Entry
	for _, entry := range s.entries {
		if !entry.At.After(after) {
			continue
		}
		if !until.IsZero() && entry.At.After(until) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *stubLoader) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestAggregator(t *testing.T, loader Loader) *Aggregator {
	t.Helper()
	return NewAggregator(Params{
		Loader: loader,
		Holder: config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
		Log:    zap.NewNop(),
	})
}

func TestRollingWindowBounds(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(t, &stubLoader{})
	asOf := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	windowStart := asOf.Add(-agg.Window())

	cases := []struct {
		name   string
		at     time.Time
		wantIn bool
	}{
		{name: "exactly thirty days before is excluded", at: windowStart, wantIn: false},
		{name: "one second inside the lower bound", at: windowStart.Add(time.Second), wantIn: true},
		{name: "at the query instant is included", at: asOf, wantIn: true},
		{name: "after the query instant is excluded", at: asOf.Add(time.Second), wantIn: false},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg.Forget("client-bounds")
			outcome, err := agg.Record(ctx, "client-bounds", tc.name, tc.at, 100)
			require.NoError(t, err)
			require.NotEqual(t, OutcomeDuplicate, outcome)

			count, err := agg.RollingCount(ctx, "client-bounds", asOf)
			require.NoError(t, err)
			sum, err := agg.RollingSum(ctx, "client-bounds", asOf)
			require.NoError(t, err)

			if tc.wantIn {
				assert.Equal(t, 1, count, "case %d", i)
				assert.Equal(t, 100.0, sum)
			} else {
				assert.Equal(t, 0, count, "case %d", i)
				assert.Equal(t, 0.0, sum)
			}
		})
	}
}

func TestRecordIsIdempotentByTransactionID(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(t, &stubLoader{})
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	outcome, err := agg.Record(ctx, "client-a", "txn-1", at, 500)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	// Same ID with a different amount must not double count.
	outcome, err = agg.Record(ctx, "client-a", "txn-1", at, 999)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)

	sum, err := agg.RollingSum(ctx, "client-a", at)
	require.NoError(t, err)
	assert.Equal(t, 500.0, sum)

	count, err := agg.RollingCount(ctx, "client-a", at)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLateArrivalRecordedAndCounted(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(t, &stubLoader{})
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	outcome, err := agg.Record(ctx, "client-a", "txn-now", base, 100)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	outcome, err = agg.Record(ctx, "client-a", "txn-late", base.Add(-48*time.Hour), 200)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLate, outcome)

	sum, err := agg.RollingSum(ctx, "client-a", base)
	require.NoError(t, err)
	assert.Equal(t, 300.0, sum)

	maxSeen, err := agg.MaxSeen(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, maxSeen.Equal(base), "late arrival must not move the high-water mark")
}

func TestRecordAtMaxSeenIsNotLate(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(t, &stubLoader{})
	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := agg.Record(ctx, "client-a", "txn-1", at, 100)
	require.NoError(t, err)

	outcome, err := agg.Record(ctx, "client-a", "txn-2", at, 100)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)
}

func TestReplaceSwapsEntry(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(t, &stubLoader{})
	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := agg.Record(ctx, "client-a", "txn-1", at, 1000)
	require.NoError(t, err)
	_, err = agg.Record(ctx, "client-a", "txn-2", at.Add(time.Hour), 50)
	require.NoError(t, err)

	outcome, err := agg.Replace(ctx, "client-a", "txn-1", at, at.Add(30*time.Minute), 750)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplaced, outcome)

	sum, err := agg.RollingSum(ctx, "client-a", at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 800.0, sum)

	count, err := agg.RollingCount(ctx, "client-a", at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHydratesFromLoaderOnFirstTouch(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	loader := &stubLoader{entries: []Entry{
		{TxnID: "stored-1", At: base.Add(-24 * time.Hour), Amount: 100},
		{TxnID: "stored-2", At: base.Add(-12 * time.Hour), Amount: 200},
	}}
	agg := newTestAggregator(t, loader)

	sum, err := agg.RollingSum(ctx, "client-a", base)
	require.NoError(t, err)
	assert.Equal(t, 300.0, sum)
	assert.Equal(t, 1, loader.callCount())

	// Hydrating again for the same range must hit memory only.
	count, err := agg.RollingCount(ctx, "client-a", base)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, loader.callCount())

	// A stored ID re-sent through the API is a duplicate.
	outcome, err := agg.Record(ctx, "client-a", "stored-1", base.Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestEvictedHistoryReloadsForOldQueries(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	loader := &stubLoader{entries: []Entry{
		{TxnID: "old-1", At: base, Amount: 100},
		{TxnID: "old-2", At: base.Add(24 * time.Hour), Amount: 200},
	}}
	agg := newTestAggregator(t, loader)

	// First touch hydrates, then an entry far in the future evicts the old rows.
	_, err := agg.Record(ctx, "client-a", "new-1", base.Add(90*24*time.Hour), 50)
	require.NoError(t, err)
	require.Equal(t, 1, loader.callCount())

	sum, err := agg.RollingSum(ctx, "client-a", base.Add(90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 50.0, sum)

	// Querying back at the old range must reload the evicted history.
	sum, err = agg.RollingSum(ctx, "client-a", base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 300.0, sum)
	assert.Equal(t, 2, loader.callCount())
}

func TestClientsAreIsolated(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(t, &stubLoader{})
	at := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := agg.Record(ctx, "client-a", "txn-1", at, 100)
	require.NoError(t, err)
	_, err = agg.Record(ctx, "client-b", "txn-1", at, 900)
	require.NoError(t, err)

	sumA, err := agg.RollingSum(ctx, "client-a", at)
	require.NoError(t, err)
	sumB, err := agg.RollingSum(ctx, "client-b", at)
	require.NoError(t, err)

	assert.Equal(t, 100.0, sumA)
	assert.Equal(t, 900.0, sumB)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := NewKeyedMutex()

	var mu sync.Mutex
	active := map[string]int{}
	maxActive := map[string]int{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, key := range []string{"client-a", "client-b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := km.Lock(key)
				defer unlock()

				mu.Lock()
				active[key]++
				if active[key] > maxActive[key] {
					maxActive[key] = active[key]
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active[key]--
				mu.Unlock()
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive["client-a"])
	assert.Equal(t, 1, maxActive["client-b"])
}
