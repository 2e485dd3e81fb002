package activity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"crewdesk.app/internal/session"
)

type countingRefresher struct {
	calls int32
}

func (r *countingRefresher) RefreshNow(context.Context) (bool, error) {
	atomic.AddInt32(&r.calls, 1)
	return true, nil
}

func authedStore(exp time.Time) *session.Store {
	s := session.NewStore()
	s.SetAuthenticated(&session.UserProfile{ID: "u1"}, "tok", exp)
	return s
}

func TestObserveTriggersRefreshInsideBuffer(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := authedStore(now.Add(3 * time.Minute)) // inside the 5m buffer
	r := &countingRefresher{}
	tr := NewTracker(store, r, WithClock(func() time.Time { return now }))
	tr.Start()

	tr.Observe(context.Background(), SignalClick)
	if got := atomic.LoadInt32(&r.calls); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
}

func TestObserveIgnoresFreshToken(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := authedStore(now.Add(time.Hour))
	r := &countingRefresher{}
	tr := NewTracker(store, r, WithClock(func() time.Time { return now }))
	tr.Start()

	tr.Observe(context.Background(), SignalKeyDown)
	if got := atomic.LoadInt32(&r.calls); got != 0 {
		t.Fatalf("refresh fired with %v left on the token", time.Hour)
	}
}

func TestObserveIgnoredWhenStopped(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := authedStore(now.Add(time.Minute))
	r := &countingRefresher{}
	tr := NewTracker(store, r, WithClock(func() time.Time { return now }))

	// Never started.
	tr.Observe(context.Background(), SignalClick)
	if got := atomic.LoadInt32(&r.calls); got != 0 {
		t.Fatal("signal handled before Start")
	}

	tr.Start()
	tr.Stop()
	tr.Observe(context.Background(), SignalClick)
	if got := atomic.LoadInt32(&r.calls); got != 0 {
		t.Fatal("signal handled after Stop")
	}
	if !tr.LastActivity().IsZero() {
		t.Fatal("Stop must clear last activity")
	}
}

func TestLastActivityThrottled(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	store := authedStore(now.Add(10 * time.Hour))
	r := &countingRefresher{}
	tr := NewTracker(store, r, WithClock(func() time.Time { return *clock }))
	tr.Start()

	tr.Observe(context.Background(), SignalClick)
	first := tr.LastActivity()
	if first.IsZero() {
		t.Fatal("first signal should record activity")
	}

	// A minute later: throttled, timestamp unchanged.
	later := now.Add(time.Minute)
	clock = &later
	tr.Observe(context.Background(), SignalClick)
	if !tr.LastActivity().Equal(first) {
		t.Fatal("activity write not throttled")
	}

	// Past the 15 minute window: recorded again.
	much := now.Add(16 * time.Minute)
	clock = &much
	tr.Observe(context.Background(), SignalClick)
	if !tr.LastActivity().Equal(much) {
		t.Fatalf("activity = %v, want %v", tr.LastActivity(), much)
	}
}

func TestObserveAfterSessionCleared(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := authedStore(now.Add(time.Minute))
	r := &countingRefresher{}
	tr := NewTracker(store, r, WithClock(func() time.Time { return now }))
	tr.Start()

	store.Clear()
	tr.Observe(context.Background(), SignalClick)
	if got := atomic.LoadInt32(&r.calls); got != 0 {
		t.Fatal("refresh fired against a cleared session")
	}
}
