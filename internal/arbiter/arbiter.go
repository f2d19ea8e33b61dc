package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/robot-control/rcp/internal/audit"
	"github.com/robot-control/rcp/internal/telemetry"
)

// Arbiter owns the control state of every robot.
type Arbiter struct {
	store   StateStore
	robots  Robots
	auditor Auditor
	events  EventPublisher

	storeTimeout time.Duration

	// Per-robot locks, created on first use and never removed.
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// Last committed state per robot, read without locking.
	snapshots sync.Map // robotID -> ControlState

	// Last authorized activity per connected robot.
	activity sync.Map // robotID -> time.Time

	now func() time.Time
}

// Options configures an Arbiter.
type Options struct {
	Auditor      Auditor
	Events       EventPublisher
	StoreTimeout time.Duration
}

// New creates an arbiter over store.
func New(store StateStore, robots Robots, opts Options) *Arbiter {
	timeout := opts.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Arbiter{
		store:        store,
		robots:       robots,
		auditor:      opts.Auditor,
		events:       opts.Events,
		storeTimeout: timeout,
		locks:        make(map[string]*sync.Mutex),
		now:          time.Now,
	}
}

// Connect grants userID the lease on robotID. It fails with ErrAlreadyOwned
// when anyone, the same user included, is already connected.
func (a *Arbiter) Connect(ctx context.Context, robotID, userID string) (Lease, error) {
	return a.ConnectUntil(ctx, robotID, userID, time.Time{})
}

// ConnectUntil is Connect for a session ending at expiresAt. The reaper
// force-releases the lease once that time passes.
func (a *Arbiter) ConnectUntil(ctx context.Context, robotID, userID string, expiresAt time.Time) (Lease, error) {
	if userID == "" {
		return Lease{}, ErrInvalidUser
	}
	id, err := a.robots.Resolve(robotID)
	if err != nil {
		return Lease{}, err
	}

	unlock := a.lock(id)
	defer unlock()

	state, err := a.load(ctx, id)
	if err != nil {
		return Lease{}, err
	}
	if state.Connected {
		return Lease{}, fmt.Errorf("robot %s is connected by %s: %w", id, state.OwnerUserID, ErrAlreadyOwned)
	}

	now := a.now().UTC()
	next := state
	next.Connected = true
	next.OwnerUserID = userID
	next.LeaseID = uuid.NewString()
	next.AcquiredAt = now
	next.ExpiresAt = time.Time{}
	if !expiresAt.IsZero() {
		next.ExpiresAt = expiresAt.UTC()
	}

	committed, err := a.commit(ctx, state, next)
	if err != nil {
		return Lease{}, err
	}
	a.activity.Store(id, now)

	a.record(ctx, audit.Record{
		User:        userID,
		RobotID:     id,
		Action:      "connect",
		Description: fmt.Sprintf("user %s connected to robot %s", userID, id),
		Params:      map[string]interface{}{"leaseId": committed.LeaseID},
	})
	a.publish(id, "leaseAcquired", committed)

	return Lease{
		ID:         committed.LeaseID,
		RobotID:    id,
		UserID:     userID,
		AcquiredAt: committed.AcquiredAt,
		ExpiresAt:  committed.ExpiresAt,
	}, nil
}

// RenewSession moves the session expiry of every lease userID holds forward
// to expiresAt. Leases without an expiry and earlier times are left alone.
func (a *Arbiter) RenewSession(ctx context.Context, userID string, expiresAt time.Time) error {
	if userID == "" || expiresAt.IsZero() {
		return nil
	}
	expiresAt = expiresAt.UTC()

	renewable := func(state ControlState) bool {
		return state.OwnedBy(userID) && !state.ExpiresAt.IsZero() && expiresAt.After(state.ExpiresAt)
	}

	var errs []error
	for _, id := range a.robots.IDs() {
		if state, err := a.State(ctx, id); err != nil || !renewable(state) {
			continue
		}
		if err := a.renew(ctx, id, expiresAt, renewable); err != nil {
			errs = append(errs, fmt.Errorf("robot %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (a *Arbiter) renew(ctx context.Context, robotID string, expiresAt time.Time, cond func(ControlState) bool) error {
	unlock := a.lock(robotID)
	defer unlock()

	state, err := a.load(ctx, robotID)
	if err != nil {
		return err
	}
	if !cond(state) {
		return nil
	}
	next := state
	next.ExpiresAt = expiresAt
	_, err = a.commit(ctx, state, next)
	return err
}

// Disconnect releases the lease. Only the owner may disconnect; a second
// disconnect by the same user fails with ErrNotOwner.
func (a *Arbiter) Disconnect(ctx context.Context, robotID, userID string) error {
	id, err := a.robots.Resolve(robotID)
	if err != nil {
		return err
	}

	unlock := a.lock(id)
	defer unlock()

	state, err := a.load(ctx, id)
	if err != nil {
		return err
	}
	if !state.OwnedBy(userID) {
		return fmt.Errorf("user %s does not hold robot %s: %w", userID, id, ErrNotOwner)
	}

	return a.release(ctx, state, userID, "disconnect", fmt.Sprintf("user %s disconnected from robot %s", userID, id))
}

// ForceRelease clears the lease when userID holds it. It is a no-op otherwise.
func (a *Arbiter) ForceRelease(ctx context.Context, robotID, userID, reason string) error {
	return a.forceRelease(ctx, robotID, userID, reason, nil)
}

func (a *Arbiter) forceRelease(ctx context.Context, robotID, userID, reason string, cond func(ControlState) bool) error {
	id, err := a.robots.Resolve(robotID)
	if err != nil {
		return err
	}

	unlock := a.lock(id)
	defer unlock()

	state, err := a.load(ctx, id)
	if err != nil {
		return err
	}
	if !state.OwnedBy(userID) {
		return nil
	}
	if cond != nil && !cond(state) {
		return nil
	}

	if reason == "" {
		reason = "session end"
	}
	return a.release(ctx, state, userID, "force_release",
		fmt.Sprintf("user %s disconnected from robot %s due to %s", userID, id, reason))
}

// ReleaseUser force-releases every robot held by userID.
func (a *Arbiter) ReleaseUser(ctx context.Context, userID, reason string) error {
	if userID == "" {
		return ErrInvalidUser
	}

	var errs []error
	for _, id := range a.robots.IDs() {
		if err := a.ForceRelease(ctx, id, userID, reason); err != nil {
			errs = append(errs, fmt.Errorf("robot %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// CurrentOwner returns the owner of robotID, or "" when nobody is connected.
func (a *Arbiter) CurrentOwner(ctx context.Context, robotID string) (string, error) {
	state, err := a.State(ctx, robotID)
	if err != nil {
		return "", err
	}
	return state.OwnerUserID, nil
}

// State returns the last committed control state without taking the robot lock.
func (a *Arbiter) State(ctx context.Context, robotID string) (ControlState, error) {
	id, err := a.robots.Resolve(robotID)
	if err != nil {
		return ControlState{}, err
	}
	if v, ok := a.snapshots.Load(id); ok {
		return v.(ControlState), nil
	}

	state, err := a.loadFromStore(ctx, id)
	if err != nil {
		return ControlState{}, err
	}
	v, _ := a.snapshots.LoadOrStore(id, state)
	return v.(ControlState), nil
}

// Guard runs fn under the robot's lock with a fresh state. A nil return from
// fn while the robot is connected counts as activity for the idle reaper.
func (a *Arbiter) Guard(ctx context.Context, robotID string, fn func(ControlState) error) error {
	id, err := a.robots.Resolve(robotID)
	if err != nil {
		return err
	}

	unlock := a.lock(id)
	defer unlock()

	state, err := a.load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(state); err != nil {
		return err
	}
	if state.Connected {
		a.activity.Store(id, a.now().UTC())
	}
	return nil
}

// release commits a disconnected state. Caller holds the robot lock.
func (a *Arbiter) release(ctx context.Context, state ControlState, userID, action, description string) error {
	next := state
	next.Connected = false
	next.OwnerUserID = ""
	next.LeaseID = ""
	next.AcquiredAt = time.Time{}
	next.ExpiresAt = time.Time{}

	committed, err := a.commit(ctx, state, next)
	if err != nil {
		return err
	}
	a.activity.Delete(state.RobotID)

	a.record(ctx, audit.Record{
		User:        userID,
		RobotID:     state.RobotID,
		Action:      action,
		Description: description,
		Params:      map[string]interface{}{"leaseId": state.LeaseID},
	})
	a.publish(state.RobotID, "leaseReleased", committed)
	return nil
}

// lock returns the unlock func for robotID's mutex.
func (a *Arbiter) lock(robotID string) func() {
	a.mu.Lock()
	m, exists := a.locks[robotID]
	if !exists {
		m = &sync.Mutex{}
		a.locks[robotID] = m
	}
	a.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// load reads the authoritative state and refreshes the snapshot. Caller holds the robot lock.
func (a *Arbiter) load(ctx context.Context, robotID string) (ControlState, error) {
	state, err := a.loadFromStore(ctx, robotID)
	if err != nil {
		return ControlState{}, err
	}
	a.snapshots.Store(robotID, state)
	return state, nil
}

func (a *Arbiter) loadFromStore(ctx context.Context, robotID string) (ControlState, error) {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	state, err := a.store.LoadControl(ctx, robotID)
	if err != nil {
		return ControlState{}, fmt.Errorf("failed to load control state for robot %s: %w", robotID, err)
	}
	state.RobotID = robotID
	return state, nil
}

// commit writes next with a compare-and-set against prev.Version.
func (a *Arbiter) commit(ctx context.Context, prev, next ControlState) (ControlState, error) {
	ctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()

	next.Version = prev.Version + 1
	if err := a.store.SaveControl(ctx, next, prev.Version); err != nil {
		a.snapshots.Delete(prev.RobotID)
		return ControlState{}, fmt.Errorf("failed to save control state for robot %s: %w", prev.RobotID, err)
	}
	a.snapshots.Store(next.RobotID, next)
	return next, nil
}

// record appends a transition record. The transition has already committed,
// so a sink failure is logged rather than returned.
func (a *Arbiter) record(ctx context.Context, rec audit.Record) {
	if a.auditor == nil {
		return
	}
	if err := a.auditor.Append(ctx, rec); err != nil {
		log.Printf("audit: failed to record %s on robot %s: %v", rec.Action, rec.RobotID, err)
	}
}

func (a *Arbiter) publish(robotID, eventType string, state ControlState) {
	if a.events == nil {
		return
	}
	event := telemetry.Event{
		Type: eventType,
		Data: map[string]interface{}{
			"robotId":   robotID,
			"connected": state.Connected,
			"owner":     state.OwnerUserID,
			"mode":      string(state.Mode()),
			"ts":        a.now().UTC().Format(time.RFC3339),
		},
	}
	if err := a.events.PublishRobot(robotID, event); err != nil {
		log.Printf("telemetry: failed to publish %s for robot %s: %v", eventType, robotID, err)
	}
}
