// Package guard serializes per-user generation decisions inside one process.
package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultTTL = 5 * time.Minute

type hold struct {
	token    uint64
	acquired time.Time
}

// Guard holds at most one flag per user. Flags older than the TTL are
// treated as abandoned and may be taken over.
type Guard struct {
	mu   sync.Mutex
	held map[int64]hold
	seq  uint64
	ttl  time.Duration
	now  func() time.Time
	log  *slog.Logger
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(g *Guard) { g.log = log }
}

func New(ttl time.Duration, opts ...Option) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g := &Guard{
		held: make(map[int64]hold),
		ttl:  ttl,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryAcquire sets the flag for userID. ok is false while another holder's
// flag is still fresh. The returned release is idempotent and only clears
// the flag it set, so a holder that was force-released cannot clear a
// newer holder's flag.
func (g *Guard) TryAcquire(userID int64) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if h, busy := g.held[userID]; busy {
		if now.Sub(h.acquired) < g.ttl {
			return nil, false
		}
		g.warnStale(userID, now.Sub(h.acquired))
	}
	g.seq++
	token := g.seq
	g.held[userID] = hold{token: token, acquired: now}

	var once sync.Once
	return func() {
		once.Do(func() { g.releaseToken(userID, token) })
	}, true
}

// Release clears the flag for userID regardless of holder.
func (g *Guard) Release(userID int64) {
	g.mu.Lock()
	delete(g.held, userID)
	g.mu.Unlock()
}

func (g *Guard) Held(userID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.held[userID]
	return ok && g.now().Sub(h.acquired) < g.ttl
}

// Sweep force-releases every stale flag and returns how many were dropped.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	dropped := 0
	for userID, h := range g.held {
		if age := now.Sub(h.acquired); age >= g.ttl {
			g.warnStale(userID, age)
			delete(g.held, userID)
			dropped++
		}
	}
	return dropped
}

// Run sweeps on every tick until ctx is done.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = g.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

func (g *Guard) releaseToken(userID int64, token uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.held[userID]; ok && h.token == token {
		delete(g.held, userID)
	}
}

func (g *Guard) warnStale(userID int64, age time.Duration) {
	if g.log != nil {
		g.log.Warn("force releasing stale generation flag", "telegram_id", userID, "age", age.String())
	}
}
