package session

import (
	"context"
	"errors"
	"testing"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/config"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/storage/memory"
)

type MockReleaser struct {
	calls []string
	err   error
}

func (m *MockReleaser) ReleaseUser(ctx context.Context, userID, reason string) error {
	m.calls = append(m.calls, userID+"/"+reason)
	return m.err
}

func TestEndDefaultsReason(t *testing.T) {
	bus := NewBus()
	rel := &MockReleaser{}
	bus.Subscribe(ReleaseOnEnd(rel))

	if err := bus.End(context.Background(), "alice", ""); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if len(rel.calls) != 1 || rel.calls[0] != "alice/"+DefaultReason {
		t.Errorf("calls = %v", rel.calls)
	}
}

func TestEndRequiresUser(t *testing.T) {
	if err := NewBus().End(context.Background(), "", "logged off"); err == nil {
		t.Error("expected error for empty user")
	}
}

func TestEndRunsAllHandlers(t *testing.T) {
	bus := NewBus()
	failing := &MockReleaser{err: errors.New("store down")}
	ok := &MockReleaser{}
	bus.Subscribe(ReleaseOnEnd(failing))
	bus.Subscribe(ReleaseOnEnd(ok))

	err := bus.End(context.Background(), "alice", "logged off")
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.calls) != 1 {
		t.Error("second handler skipped after first failed")
	}
}

func TestEndReleasesArbiterLease(t *testing.T) {
	ctx := context.Background()
	catalog := config.DefaultCatalog()
	store := memory.New()
	reg := robot.NewRegistry(store, robot.NewLimitTable(catalog))
	if err := reg.Load(ctx, catalog); err != nil {
		t.Fatal(err)
	}
	arb := arbiter.New(store, reg, arbiter.Options{})

	bus := NewBus()
	bus.Subscribe(ReleaseOnEnd(arb))

	if _, err := arb.Connect(ctx, "1", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := bus.End(ctx, "alice", "logged off"); err != nil {
		t.Fatalf("End() error: %v", err)
	}
	if owner, _ := arb.CurrentOwner(ctx, "1"); owner != "" {
		t.Fatalf("owner after session end = %q", owner)
	}
	if _, err := arb.Connect(ctx, "1", "bob"); err != nil {
		t.Errorf("bob connect after alice's session ended: %v", err)
	}

	// Ending a session that holds nothing is harmless.
	if err := bus.End(ctx, "carol", ""); err != nil {
		t.Errorf("End(carol) error: %v", err)
	}
}
