// Package activity turns user-interaction signals into refresh nudges.
// It is the fallback path for tokens that age past the refresh buffer
// while the scheduled timer could not fire (suspended process, throttled
// background task).
package activity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"crewdesk.app/internal/session"
	"crewdesk.app/internal/token"
)

// DefaultWriteInterval caps how often a last-activity timestamp is
// recorded.
const DefaultWriteInterval = 15 * time.Minute

// Signal is an interaction kind reported by the UI layer.
type Signal string

const (
	SignalPointerDown Signal = "pointer-down"
	SignalKeyDown     Signal = "key-down"
	SignalTouchStart  Signal = "touch-start"
	SignalClick       Signal = "click"
)

// Refresher triggers an immediate token refresh; satisfied by the token
// manager.
type Refresher interface {
	RefreshNow(ctx context.Context) (bool, error)
}

// Tracker observes interaction signals while a session is authenticated.
type Tracker struct {
	store     *session.Store
	refresher Refresher
	buffer    time.Duration
	now       func() time.Time
	limiter   *rate.Limiter

	mu           sync.Mutex
	running      bool
	lastActivity time.Time
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithWriteInterval overrides the last-activity write throttle.
func WithWriteInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithRefreshBuffer overrides the lead time used to decide whether a
// signal should trigger a refresh. It must match the token manager's;
// the composition root passes the manager's configured buffer through.
func WithRefreshBuffer(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.buffer = d
		}
	}
}

// NewTracker wires the tracker to the session store and refresher.
func NewTracker(store *session.Store, refresher Refresher, opts ...Option) *Tracker {
	t := &Tracker{
		store:     store,
		refresher: refresher,
		buffer:    token.DefaultRefreshBuffer,
		now:       time.Now,
		limiter:   rate.NewLimiter(rate.Every(DefaultWriteInterval), 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins accepting signals. Called when the session becomes
// authenticated; idempotent.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
}

// Stop releases the subscription. Called on logout; signals observed after
// Stop are ignored, so no refresh can fire against a cleared session.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.running = false
	t.lastActivity = time.Time{}
	t.mu.Unlock()
}

// Running reports whether the tracker currently accepts signals.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// LastActivity returns the most recently recorded activity timestamp.
func (t *Tracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity
}

// Observe handles one interaction signal: it records last activity
// (throttled) and, when the token is inside the refresh buffer, triggers
// an immediate refresh.
func (t *Tracker) Observe(ctx context.Context, _ Signal) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	now := t.now()
	if t.limiter.AllowN(now, 1) {
		t.lastActivity = now
	}
	t.mu.Unlock()

	snap := t.store.Snapshot()
	if !snap.Authenticated {
		return
	}
	if now.After(snap.ExpiresAt.Add(-t.buffer)) || now.Equal(snap.ExpiresAt.Add(-t.buffer)) {
		_, _ = t.refresher.RefreshNow(ctx)
	}
}
