package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/robot-control/rcp/internal/config"
)

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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestReapIdle(t *testing.T) {
	arb, _, auditor, _ := newTestArbiter(t, "1", "2")
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	arb.now = clock.Now
	ctx := context.Background()

	if _, err := arb.Connect(ctx, "1", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := arb.Connect(ctx, "2", "bob"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(4 * time.Minute)
	// bob stays active.
	if err := arb.Guard(ctx, "2", func(ControlState) error { return nil }); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Minute)

	if n := arb.Reap(ctx, 5*time.Minute); n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}
	if owner, _ := arb.CurrentOwner(ctx, "1"); owner != "" {
		t.Errorf("robot 1 owner = %q, want released", owner)
	}
	if owner, _ := arb.CurrentOwner(ctx, "2"); owner != "bob" {
		t.Errorf("robot 2 owner = %q, want bob", owner)
	}

	records := auditor.Records()
	last := records[len(records)-1]
	if last.Description != "user alice disconnected from robot 1 due to idle timeout" {
		t.Errorf("last record = %+v", last)
	}
}

func TestReapIdleDisabled(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t, "1")
	if _, err := arb.Connect(context.Background(), "1", "alice"); err != nil {
		t.Fatal(err)
	}
	if n := arb.Reap(context.Background(), 0); n != 0 {
		t.Errorf("Reap(0) = %d, want 0", n)
	}
}

func TestReapExpiredSession(t *testing.T) {
	arb, store, auditor, _ := newTestArbiter(t, "1", "2")
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	arb.now = clock.Now
	ctx := context.Background()
	idle := config.LoadBaseline().Timing.LeaseIdleTimeout

	lease, err := arb.ConnectUntil(ctx, "1", "alice", clock.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !lease.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Errorf("lease expiry = %v", lease.ExpiresAt)
	}
	// No expiry on robot 2.
	if _, err := arb.Connect(ctx, "2", "bob"); err != nil {
		t.Fatal(err)
	}

	clock.Advance(59 * time.Minute)
	if n := arb.Reap(ctx, idle); n != 0 {
		t.Fatalf("Reap() before expiry = %d, want 0", n)
	}

	clock.Advance(365 * 24 * time.Hour)
	if n := arb.Reap(ctx, idle); n != 1 {
		t.Fatalf("Reap() after expiry = %d, want 1", n)
	}
	if owner, _ := arb.CurrentOwner(ctx, "1"); owner != "" {
		t.Errorf("robot 1 owner = %q, want released", owner)
	}
	if owner, _ := arb.CurrentOwner(ctx, "2"); owner != "bob" {
		t.Errorf("robot 2 owner = %q, want bob", owner)
	}

	stored, _ := store.LoadControl(ctx, "1")
	if stored.Connected || !stored.ExpiresAt.IsZero() {
		t.Errorf("stored state = %+v, want released without expiry", stored)
	}

	records := auditor.Records()
	last := records[len(records)-1]
	if last.Action != "force_release" || last.Description != "user alice disconnected from robot 1 due to session expired" {
		t.Errorf("last record = %+v", last)
	}

	if _, err := arb.Connect(ctx, "1", "carol"); err != nil {
		t.Errorf("Connect after expiry error = %v", err)
	}
}

func TestRenewSession(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t, "1", "2")
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	arb.now = clock.Now
	ctx := context.Background()
	start := clock.Now()

	if _, err := arb.ConnectUntil(ctx, "1", "alice", start.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := arb.ConnectUntil(ctx, "2", "bob", start.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	if err := arb.RenewSession(ctx, "alice", start.Add(3*time.Hour)); err != nil {
		t.Fatalf("RenewSession() error = %v", err)
	}
	// An older token does not shorten the session.
	if err := arb.RenewSession(ctx, "alice", start.Add(2*time.Hour)); err != nil {
		t.Fatalf("RenewSession() error = %v", err)
	}

	state, _ := arb.State(ctx, "1")
	if !state.ExpiresAt.Equal(start.Add(3 * time.Hour)) {
		t.Errorf("alice expiry = %v, want %v", state.ExpiresAt, start.Add(3*time.Hour))
	}

	clock.Advance(2 * time.Hour)
	if n := arb.Reap(ctx, 0); n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}
	if owner, _ := arb.CurrentOwner(ctx, "1"); owner != "alice" {
		t.Errorf("renewed lease owner = %q, want alice", owner)
	}
	if owner, _ := arb.CurrentOwner(ctx, "2"); owner != "" {
		t.Errorf("robot 2 owner = %q, want released", owner)
	}
}

func TestRunReaperEnforcesExpiryWithoutIdleTimeout(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t, "1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := arb.ConnectUntil(ctx, "1", "alice", time.Now().Add(-time.Second)); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- arb.RunReaper(ctx, 0, 10*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		owner, _ := arb.CurrentOwner(ctx, "1")
		if owner == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired lease was never released")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunReaper() error = %v", err)
	}
}

func TestRunReaperStopsOnCancel(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t, "1")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- arb.RunReaper(ctx, time.Minute, 10*time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunReaper() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunReaper did not stop")
	}
}
