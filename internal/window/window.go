package window

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/smallbiznis/sentinel/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// RecordOutcome describes what happened to a window entry on mutation.
type RecordOutcome string

const (
	// OutcomeRecorded is a fresh entry at or beyond the client's max timestamp.
	OutcomeRecorded RecordOutcome = "recorded"
	// OutcomeDuplicate means the transaction ID was already present; no-op.
	OutcomeDuplicate RecordOutcome = "duplicate"
	// OutcomeReplaced means a corrected version displaced the prior entry.
	OutcomeReplaced RecordOutcome = "replaced"
	// OutcomeLate is a fresh entry that precedes the client's max timestamp.
	// The entry is still recorded; the caller decides whether to raise a
	// re-score signal.
	OutcomeLate RecordOutcome = "late"
)

// Entry is one transaction inside a client's rolling window.
type Entry struct {
	TxnID  string    `gorm:"column:txn_id"`
	At     time.Time `gorm:"column:at"`
	Amount float64   `gorm:"column:amount"`
}

// clientWindow holds one client's in-memory window state. All fields are
// guarded by mu; entries stay sorted by At with ties in insertion order.
type clientWindow struct {
	mu         sync.Mutex
	entries    []Entry
	index      map[string]Entry
	maxSeen    time.Time
	hydrated   bool
	loadedFrom time.Time
}

type Params struct {
	fx.In

	Loader Loader
	Holder *config.EngineConfigHolder
	Log    *zap.Logger
}

// Aggregator maintains per-client rolling windows over transaction history.
// Mutations and reads for one client serialize on that client's mutex;
// different clients proceed in parallel.
type Aggregator struct {
	loader Loader
	window time.Duration
	log    *zap.Logger

	mu      sync.RWMutex
	clients map[string]*clientWindow
}

func NewAggregator(p Params) *Aggregator {
	return &Aggregator{
		loader:  p.Loader,
		window:  p.Holder.Get().Window,
		log:     p.Log.Named("window.aggregator"),
		clients: make(map[string]*clientWindow),
	}
}

// Window returns the configured window length.
func (a *Aggregator) Window() time.Duration { return a.window }

// Record inserts a transaction into the client's window. Re-recording an
// already-present transaction ID is a no-op and reports OutcomeDuplicate;
// identity is the ID alone, never value equality.
func (a *Aggregator) Record(ctx context.Context, clientID, txnID string, at time.Time, amount float64) (RecordOutcome, error) {
	if clientID == "" || txnID == "" {
		return "", fmt.Errorf("window record: client and transaction IDs are required")
	}
	at = at.UTC()

	cw := a.client(clientID)
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := a.ensureLoaded(ctx, clientID, cw, at.Add(-a.window)); err != nil {
		return "", err
	}

	if _, ok := cw.index[txnID]; ok {
		return OutcomeDuplicate, nil
	}

	late := !cw.maxSeen.IsZero() && at.Before(cw.maxSeen)
	cw.insert(Entry{TxnID: txnID, At: at, Amount: amount})
	a.evict(cw)

	if late {
		return OutcomeLate, nil
	}
	return OutcomeRecorded, nil
}

// Replace swaps the prior entry for txnID with the corrected timestamp and
// amount. priorAt is the superseded version's timestamp so the old entry can
// be hydrated and located even when it left the hot window.
func (a *Aggregator) Replace(ctx context.Context, clientID, txnID string, priorAt, at time.Time, amount float64) (RecordOutcome, error) {
	if clientID == "" || txnID == "" {
		return "", fmt.Errorf("window replace: client and transaction IDs are required")
	}
	priorAt = priorAt.UTC()
	at = at.UTC()

	cw := a.client(clientID)
	cw.mu.Lock()
	defer cw.mu.Unlock()

	needFrom := at.Add(-a.window)
	if earlier := priorAt.Add(-time.Nanosecond); earlier.Before(needFrom) {
		needFrom = earlier
	}
	if err := a.ensureLoaded(ctx, clientID, cw, needFrom); err != nil {
		return "", err
	}

	cw.remove(txnID)
	cw.insert(Entry{TxnID: txnID, At: at, Amount: amount})
	a.evict(cw)

	return OutcomeReplaced, nil
}

// RollingSum aggregates amounts over (asOf-window, asOf]; the lower bound is
// exclusive, the upper bound inclusive.
func (a *Aggregator) RollingSum(ctx context.Context, clientID string, asOf time.Time) (float64, error) {
	entries, err := a.rangeEntries(ctx, clientID, asOf)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, entry := range entries {
		sum += entry.Amount
	}
	return sum, nil
}

// RollingCount counts entries over (asOf-window, asOf].
func (a *Aggregator) RollingCount(ctx context.Context, clientID string, asOf time.Time) (int, error) {
	entries, err := a.rangeEntries(ctx, clientID, asOf)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// MaxSeen returns the max transaction timestamp recorded for the client.
func (a *Aggregator) MaxSeen(ctx context.Context, clientID string) (time.Time, error) {
	cw := a.client(clientID)
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if err := a.ensureLoaded(ctx, clientID, cw, time.Now().UTC().Add(-a.window)); err != nil {
		return time.Time{}, err
	}
	return cw.maxSeen, nil
}

// Forget drops a client's in-memory state so the next touch re-hydrates.
func (a *Aggregator) Forget(clientID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, clientID)
}

func (a *Aggregator) rangeEntries(ctx context.Context, clientID string, asOf time.Time) ([]Entry, error) {
	asOf = asOf.UTC()

	cw := a.client(clientID)
	cw.mu.Lock()
	defer cw.mu.Unlock()

	from := asOf.Add(-a.window)
	if err := a.ensureLoaded(ctx, clientID, cw, from); err != nil {
		return nil, err
	}

	lo := sort.Search(len(cw.entries), func(i int) bool { return cw.entries[i].At.After(from) })
	hi := sort.Search(len(cw.entries), func(i int) bool { return cw.entries[i].At.After(asOf) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]Entry, hi-lo)
	copy(out, cw.entries[lo:hi])
	return out, nil
}

func (a *Aggregator) client(clientID string) *clientWindow {
	a.mu.RLock()
	cw, ok := a.clients[clientID]
	a.mu.RUnlock()
	if ok {
		return cw
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cw, ok = a.clients[clientID]; ok {
		return cw
	}
	cw = &clientWindow{index: make(map[string]Entry)}
	a.clients[clientID] = cw
	return cw
}

// ensureLoaded guarantees entries newer than needFrom are in memory, pulling
// missing history from storage. Callers hold cw.mu.
func (a *Aggregator) ensureLoaded(ctx context.Context, clientID string, cw *clientWindow, needFrom time.Time) error {
	if !cw.hydrated {
		entries, err := a.loader.LoadEntries(ctx, clientID, needFrom, time.Time{})
		if err != nil {
			return fmt.Errorf("hydrate window for client %s: %w", clientID, err)
		}
		for _, entry := range entries {
			cw.insert(entry)
		}
		cw.hydrated = true
		cw.loadedFrom = needFrom
		if len(entries) > 0 {
			a.log.Debug("window hydrated",
				zap.String("client_id", clientID),
				zap.Int("entries", len(entries)),
			)
		}
		return nil
	}

	if !needFrom.Before(cw.loadedFrom) {
		return nil
	}

	entries, err := a.loader.LoadEntries(ctx, clientID, needFrom, cw.loadedFrom)
	if err != nil {
		return fmt.Errorf("extend window for client %s: %w", clientID, err)
	}
	for _, entry := range entries {
		if _, ok := cw.index[entry.TxnID]; ok {
			continue
		}
		cw.insert(entry)
	}
	cw.loadedFrom = needFrom
	return nil
}

// evict drops entries that fell a full window behind the max timestamp.
// Runs only on mutation; reads re-hydrate when they reach further back.
// Callers hold cw.mu.
func (a *Aggregator) evict(cw *clientWindow) {
	if cw.maxSeen.IsZero() {
		return
	}
	cutoff := cw.maxSeen.Add(-a.window)

	keep := sort.Search(len(cw.entries), func(i int) bool { return cw.entries[i].At.After(cutoff) })
	if keep == 0 {
		return
	}
	for _, entry := range cw.entries[:keep] {
		delete(cw.index, entry.TxnID)
	}
	cw.entries = append(cw.entries[:0], cw.entries[keep:]...)
	if cutoff.After(cw.loadedFrom) {
		cw.loadedFrom = cutoff
	}
}

// insert keeps entries sorted by At, ties in arrival order, and advances
// maxSeen monotonically. Callers hold cw.mu.
func (cw *clientWindow) insert(entry Entry) {
	pos := sort.Search(len(cw.entries), func(i int) bool { return cw.entries[i].At.After(entry.At) })
	cw.entries = append(cw.entries, Entry{})
	copy(cw.entries[pos+1:], cw.entries[pos:])
	cw.entries[pos] = entry
	cw.index[entry.TxnID] = entry
	if entry.At.After(cw.maxSeen) {
		cw.maxSeen = entry.At
	}
}

// remove deletes the entry for txnID if present. Callers hold cw.mu.
func (cw *clientWindow) remove(txnID string) {
	prior, ok := cw.index[txnID]
	if !ok {
		return
	}
	pos := sort.Search(len(cw.entries), func(i int) bool { return !cw.entries[i].At.Before(prior.At) })
	for pos < len(cw.entries) && cw.entries[pos].At.Equal(prior.At) {
		if cw.entries[pos].TxnID == txnID {
			cw.entries = append(cw.entries[:pos], cw.entries[pos+1:]...)
			break
		}
		pos++
	}
	delete(cw.index, txnID)
}
