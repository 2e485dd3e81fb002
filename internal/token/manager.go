package token

import (
	"context"
	"sync"
	"time"

	"crewdesk.app/internal/apperr"
	"crewdesk.app/internal/obs"
	"crewdesk.app/internal/retry"
)

// DefaultRefreshBuffer is the lead time before expiry at which a proactive
// refresh is scheduled.
const DefaultRefreshBuffer = 5 * time.Minute

// State is the manager's position in the token lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

// Source obtains a fresh token from the identity provider.
type Source interface {
	FreshToken(ctx context.Context, force bool) (string, error)
}

// Timer is the handle for a scheduled refresh; satisfied by *time.Timer.
type Timer interface {
	Stop() bool
}

// Manager schedules and performs token refresh. At most one refresh timer
// is armed at any instant, and at most one refresh is in flight; duplicate
// triggers await the shared result.
type Manager struct {
	source   Source
	buffer   time.Duration
	now      func() time.Time
	after    func(d time.Duration, fn func()) Timer
	onToken  func(raw string, claims *Claims)
	onLogout func()
	retry    retry.Options

	mu    sync.Mutex
	state State
	timer Timer
	call  *refreshCall
	gen   uint64
}

type refreshCall struct {
	done chan struct{}
	ok   bool
	err  error
}

// Option configures the Manager.
type Option func(*Manager)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// WithRefreshBuffer overrides the proactive refresh lead time.
func WithRefreshBuffer(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.buffer = d
		}
	}
}

// WithTimerFactory replaces time.AfterFunc so tests can fire timers
// deterministically.
func WithTimerFactory(fn func(d time.Duration, f func()) Timer) Option {
	return func(m *Manager) {
		if fn != nil {
			m.after = fn
		}
	}
}

// WithTokenSink registers the callback that receives every freshly
// obtained token together with its decoded claims.
func WithTokenSink(fn func(raw string, claims *Claims)) Option {
	return func(m *Manager) { m.onToken = fn }
}

// WithLogoutHook registers the callback invoked when a refresh is rejected
// with a 401-class failure and the session must be torn down.
func WithLogoutHook(fn func()) Option {
	return func(m *Manager) { m.onLogout = fn }
}

// WithRetryOptions overrides the retry policy applied to refresh calls.
func WithRetryOptions(opts retry.Options) Option {
	return func(m *Manager) { m.retry = opts }
}

// NewManager constructs a Manager around the given token source.
func NewManager(source Source, opts ...Option) *Manager {
	m := &Manager{
		source: source,
		buffer: DefaultRefreshBuffer,
		now:    time.Now,
		after: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		state: StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RefreshBuffer returns the configured proactive refresh lead time.
func (m *Manager) RefreshBuffer() time.Duration { return m.buffer }

// ScheduleRefresh arms the single refresh timer to fire at
// expiresAt - buffer. The previous timer, if any, is cancelled first. A
// deadline already in the past fires immediately.
func (m *Manager) ScheduleRefresh(expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	if m.state != StateRefreshing {
		m.state = StateAuthenticated
	}
	d := expiresAt.Add(-m.buffer).Sub(m.now())
	if d < 0 {
		d = 0
	}
	m.timer = m.after(d, func() {
		_, _ = m.RefreshNow(context.Background())
	})
}

// CancelScheduled stops any pending refresh timer and returns the manager
// to the unauthenticated state. Called on logout. A refresh already in
// flight is invalidated: its token is discarded when it completes.
func (m *Manager) CancelScheduled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.state = StateUnauthenticated
	m.gen++
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// RefreshNow obtains a fresh token. Idempotent under concurrency: if a
// refresh is already in flight, the caller awaits its result instead of
// issuing a second provider call. Returns true when a fresh token was
// adopted.
func (m *Manager) RefreshNow(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if c := m.call; c != nil {
		m.mu.Unlock()
		select {
		case <-c.done:
			return c.ok, c.err
		case <-ctx.Done():
			return false, apperr.Classify(ctx.Err())
		}
	}
	c := &refreshCall{done: make(chan struct{})}
	m.call = c
	prev := m.state
	gen := m.gen
	m.state = StateRefreshing
	m.mu.Unlock()

	ok, err := m.doRefresh(ctx, prev, gen)

	m.mu.Lock()
	m.call = nil
	m.mu.Unlock()
	c.ok, c.err = ok, err
	close(c.done)
	return ok, err
}

func (m *Manager) doRefresh(ctx context.Context, prev State, gen uint64) (bool, error) {
	raw, err := retry.Do(ctx, "identity.fresh_token", func(ctx context.Context) (string, error) {
		return m.source.FreshToken(ctx, true)
	}, m.retry)
	if err != nil {
		rec := apperr.Classify(err)
		if rec.Unauthorized() {
			// The provider no longer recognizes this session. Retrying
			// would loop forever; tear the session down instead.
			obs.CountTokenRefresh("forced_logout")
			m.forceLogout()
			return false, rec
		}
		obs.CountTokenRefresh("failure")
		m.restoreState(prev, gen)
		obs.LogOp(map[string]any{
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "token refresh failed",
			"op":    "token.refresh",
			"code":  string(rec.Code),
		})
		return false, rec
	}

	claims, decodeErr := Decode(raw)
	if decodeErr != nil {
		obs.CountTokenRefresh("failure")
		m.restoreState(prev, gen)
		return false, apperr.Classify(decodeErr)
	}

	m.mu.Lock()
	if gen != m.gen {
		// Cancelled while the call was in flight. The session is gone;
		// dropping the token keeps it that way.
		m.mu.Unlock()
		obs.CountTokenRefresh("discarded")
		return false, nil
	}
	m.state = StateAuthenticated
	m.mu.Unlock()

	obs.CountTokenRefresh("success")
	if m.onToken != nil {
		m.onToken(raw, claims)
	}
	m.ScheduleRefresh(claims.Expiry())
	return true, nil
}

// restoreState puts the pre-refresh state back after a transient failure,
// unless a cancellation raced the refresh.
func (m *Manager) restoreState(prev State, gen uint64) {
	m.mu.Lock()
	if gen == m.gen {
		m.state = prev
	}
	m.mu.Unlock()
}

func (m *Manager) forceLogout() {
	m.CancelScheduled()
	if m.onLogout != nil {
		m.onLogout()
	}
}
