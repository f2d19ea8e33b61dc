package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/audit"
	"github.com/robot-control/rcp/internal/channel"
	"github.com/robot-control/rcp/internal/channel/fake"
	"github.com/robot-control/rcp/internal/config"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/storage/memory"
	"github.com/robot-control/rcp/internal/telemetry"
)

// MockAuditor records appends and can be made to fail.
type MockAuditor struct {
	mu      sync.Mutex
	records []audit.Record

	AppendFunc func(ctx context.Context, rec audit.Record) error
}

func (m *MockAuditor) Append(ctx context.Context, rec audit.Record) error {
	if m.AppendFunc != nil {
		if err := m.AppendFunc(ctx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *MockAuditor) Records() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.records...)
}

// MockEvents records telemetry events.
type MockEvents struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (m *MockEvents) PublishRobot(robotID string, event telemetry.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.Robot = robotID
	m.events = append(m.events, event)
	return nil
}

func (m *MockEvents) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, len(m.events))
	for i, e := range m.events {
		types[i] = e.Type
	}
	return types
}

type harness struct {
	arb     *arbiter.Arbiter
	auditor *MockAuditor
	pub     *fake.Publisher
	events  *MockEvents
	disp    *Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	catalog := config.DefaultCatalog()
	store := memory.New()
	limits := robot.NewLimitTable(catalog)
	reg := robot.NewRegistry(store, limits)
	if err := reg.Load(ctx, catalog); err != nil {
		t.Fatalf("load registry: %v", err)
	}

	arb := arbiter.New(store, reg, arbiter.Options{StoreTimeout: time.Second})
	h := &harness{
		arb:     arb,
		auditor: &MockAuditor{},
		pub:     fake.New(),
		events:  &MockEvents{},
	}
	h.disp = NewDispatcher(reg, arb, NewValidator(limits, catalog.Scripts), h.auditor, h.pub, h.events, &config.LoadBaseline().Timing)
	return h
}

func (h *harness) connect(t *testing.T, user string) {
	t.Helper()
	if _, err := h.arb.Connect(context.Background(), "1", user); err != nil {
		t.Fatalf("connect %s: %v", user, err)
	}
}

func target(user string, values ...int) Command {
	return Command{Kind: KindManualTarget, UserID: user, RobotID: "1", Values: values}
}

func TestDispatchManualTarget(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	ctx := context.Background()

	if err := h.disp.Dispatch(ctx, target("alice", 0, 0, 0, 0)); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	msgs := h.pub.Messages()
	if len(msgs) != 1 || msgs[0].Topic != channel.TopicManualTarget {
		t.Fatalf("published = %+v", msgs)
	}
	records := h.auditor.Records()
	if len(records) != 1 || records[0].Action != string(KindManualTarget) || records[0].User != "alice" {
		t.Errorf("records = %+v", records)
	}

	found := false
	for _, typ := range h.events.Types() {
		if typ == "commandDispatched" {
			found = true
		}
	}
	if !found {
		t.Errorf("no commandDispatched event: %v", h.events.Types())
	}
}

func TestDispatchRejectionsAreSilent(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	ctx := context.Background()

	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"out of range", target("alice", 200, 0, 0, 0), ErrOutOfRange},
		{"wrong length", target("alice", 0, 0, 0), ErrWrongLength},
		{"unknown joint", Command{Kind: KindJointMove, UserID: "alice", RobotID: "1", JointIndex: 5, Direction: DirectionInc}, ErrUnknownJoint},
		{"non-owner move", Command{Kind: KindJointMove, UserID: "bob", RobotID: "1", JointIndex: 1, Direction: DirectionInc}, arbiter.ErrNotOwner},
		{"script in manual", Command{Kind: KindRunScript, UserID: "alice", RobotID: "1", Script: "pick1"}, ErrModeMismatch},
		{"unknown kind", Command{Kind: "dance", UserID: "alice", RobotID: "1"}, ErrInvalidParameter},
		{"no user", Command{Kind: KindReset, RobotID: "1"}, ErrInvalidParameter},
		{"unknown robot", Command{Kind: KindReset, UserID: "alice", RobotID: "9"}, robot.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.disp.Dispatch(ctx, tt.cmd); !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if n := len(h.auditor.Records()); n != 0 {
		t.Errorf("rejected commands were audited: %d records", n)
	}
	if n := len(h.pub.Messages()); n != 0 {
		t.Errorf("rejected commands were published: %d messages", n)
	}
}

func TestOutOfRangeReportsIndexZero(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	err := h.disp.Dispatch(context.Background(), target("alice", 200, 0, 0, 0))
	var oor *OutOfRangeError
	if !errors.As(err, &oor) || oor.Index != 0 {
		t.Fatalf("error = %v, want OutOfRange(0)", err)
	}
}

func TestEmergencyStopBypassesOwnership(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	ctx := context.Background()

	// bob cannot move the arm...
	move := Command{Kind: KindJointMove, UserID: "bob", RobotID: "1", JointIndex: 1, Direction: DirectionInc}
	if err := h.disp.Dispatch(ctx, move); !errors.Is(err, arbiter.ErrNotOwner) {
		t.Fatalf("JointMove by bob error = %v", err)
	}
	if len(h.pub.Messages()) != 0 || len(h.auditor.Records()) != 0 {
		t.Fatal("rejected move reached the channel or the audit log")
	}

	// ...but can stop it.
	if err := h.disp.Dispatch(ctx, Command{Kind: KindEmergencyStop, UserID: "bob", RobotID: "1"}); err != nil {
		t.Fatalf("EmergencyStop by bob error: %v", err)
	}
	msgs := h.pub.Messages()
	if len(msgs) != 1 || msgs[0].Topic != channel.TopicStop {
		t.Errorf("published = %+v", msgs)
	}
	records := h.auditor.Records()
	if len(records) != 1 || records[0].User != "bob" || records[0].Action != string(KindEmergencyStop) {
		t.Errorf("records = %+v", records)
	}
}

func TestEmergencyStopDoesNotWaitForLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.arb.Guard(ctx, "1", func(arbiter.ControlState) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	done := make(chan error, 1)
	go func() {
		done <- h.disp.Dispatch(ctx, Command{Kind: KindEmergencyStop, UserID: "bob", RobotID: "1"})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("EmergencyStop error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("emergency stop blocked behind the robot lock")
	}
}

func TestAuditBeforePublish(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	ctx := context.Background()

	// jointIndex=5 on a 4-joint robot is rejected.
	bad := Command{Kind: KindJointMove, UserID: "alice", RobotID: "1", JointIndex: 5, Direction: DirectionInc}
	if err := h.disp.Dispatch(ctx, bad); !errors.Is(err, ErrUnknownJoint) {
		t.Fatalf("error = %v, want ErrUnknownJoint", err)
	}

	auditedAtPublish := -1
	h.pub.OnPublish = func(channel.Message) {
		auditedAtPublish = len(h.auditor.Records())
	}

	if err := h.disp.Dispatch(ctx, target("alice", 10, 10, 10, 10)); err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if auditedAtPublish != 1 {
		t.Errorf("audit records at publish time = %d, want 1", auditedAtPublish)
	}
	if n := len(h.auditor.Records()); n != 1 {
		t.Errorf("audit records = %d, want 1", n)
	}
}

func TestDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	h.pub.SetError(errors.New("dial tcp: connection refused"))

	err := h.disp.Dispatch(context.Background(), Command{Kind: KindGripperOpen, UserID: "alice", RobotID: "1"})
	if !errors.Is(err, ErrDispatchChannelUnavailable) {
		t.Fatalf("error = %v, want ErrDispatchChannelUnavailable", err)
	}
	if !errors.Is(err, channel.ErrUnavailable) {
		t.Errorf("error = %v does not carry channel.ErrUnavailable", err)
	}

	records := h.auditor.Records()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Outcome != audit.OutcomeOK || records[1].Outcome != audit.OutcomeDeliveryFailed {
		t.Errorf("outcomes = %q, %q", records[0].Outcome, records[1].Outcome)
	}

	// No rollback: alice still owns the robot.
	if owner, _ := h.arb.CurrentOwner(context.Background(), "1"); owner != "alice" {
		t.Errorf("owner = %q, want alice", owner)
	}

	foundFault := false
	for _, typ := range h.events.Types() {
		if typ == "fault" {
			foundFault = true
		}
	}
	if !foundFault {
		t.Errorf("no fault event: %v", h.events.Types())
	}
}

func TestAuditFailureBlocksForwarding(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	h.auditor.AppendFunc = func(ctx context.Context, rec audit.Record) error {
		return errors.New("disk full")
	}

	err := h.disp.Dispatch(context.Background(), Command{Kind: KindReset, UserID: "alice", RobotID: "1"})
	if !errors.Is(err, ErrAuditFailed) {
		t.Fatalf("error = %v, want ErrAuditFailed", err)
	}
	if len(h.pub.Messages()) != 0 {
		t.Error("command forwarded without an audit record")
	}
}

func TestScriptInAutomaticMode(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")
	ctx := context.Background()

	if _, err := h.arb.SwitchMode(ctx, "1", "alice"); err != nil {
		t.Fatal(err)
	}

	if err := h.disp.Dispatch(ctx, Command{Kind: KindRunScript, UserID: "alice", RobotID: "1", Script: "pick2"}); err != nil {
		t.Fatalf("run_script error: %v", err)
	}
	if err := h.disp.Dispatch(ctx, Command{Kind: KindRunScript, UserID: "alice", RobotID: "1", Script: "rm"}); !errors.Is(err, ErrUnknownScript) {
		t.Errorf("unknown script error = %v", err)
	}
	if err := h.disp.Dispatch(ctx, target("alice", 0, 0, 0, 0)); !errors.Is(err, ErrModeMismatch) {
		t.Errorf("target in automatic error = %v", err)
	}
	// Gripper works in any mode.
	if err := h.disp.Dispatch(ctx, Command{Kind: KindGripperClose, UserID: "alice", RobotID: "1"}); err != nil {
		t.Errorf("gripper in automatic error = %v", err)
	}

	msgs := h.pub.Messages()
	if len(msgs) != 2 || msgs[0].Text != "pick2" || msgs[1].Text != channel.MoverGripperClose {
		t.Errorf("published = %+v", msgs)
	}
}

func TestDispatchActiveAlias(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "alice")

	cmd := Command{Kind: KindEnable, UserID: "alice", RobotID: robot.ActiveAlias}
	if err := h.disp.Dispatch(context.Background(), cmd); err != nil {
		t.Fatalf("Dispatch(active) error: %v", err)
	}
	if records := h.auditor.Records(); records[0].RobotID != "1" {
		t.Errorf("audit robot = %q, want 1", records[0].RobotID)
	}
}
