package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/digkill/SmachnoBot/internal/database"
	"github.com/digkill/SmachnoBot/internal/metrics"
	"github.com/digkill/SmachnoBot/internal/repository"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingOpLog struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (r *recordingOpLog) LogOperation(_ context.Context, e OperationLog) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recordingOpLog) last() OperationLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *repository.Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db, database.DriverSQLite))
	return repository.NewStore(db)
}

type fixture struct {
	store        *repository.Store
	clock        *fakeClock
	registry     *prometheus.Registry
	metrics      *metrics.Metrics
	opLog        *recordingOpLog
	ledger       *LedgerService
	entitlements *EntitlementService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	f := &fixture{
		store:    newTestStore(t),
		clock:    &fakeClock{now: testNow},
		registry: reg,
		metrics:  metrics.New(reg),
		opLog:    &recordingOpLog{},
	}
	opts := []Option{WithClock(f.clock.Now), WithMetrics(f.metrics), WithOperationLogger(f.opLog)}
	f.ledger = NewLedgerService(f.store, discardLogger(), opts...)
	f.entitlements = NewEntitlementService(f.store, discardLogger(), 2, 1, opts...)
	return f
}

// counter sums every sample of the named counter whose labels include want.
func (f *fixture) counter(t *testing.T, name string, want map[string]string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)
	var total float64
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	sample:
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue sample
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
