// Package memory is an in-process store for robots, control state and joints.
// It is used for tests and single-process runs with storage.driver=memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/telemetry"
)

type jointRow struct {
	values    []int
	updatedAt time.Time
}

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu       sync.RWMutex
	robots   map[string]robot.Robot
	controls map[string]arbiter.ControlState
	joints   map[string]jointRow
	active   string
}

// Compile-time assertions
var (
	_ robot.Store           = (*Store)(nil)
	_ arbiter.StateStore    = (*Store)(nil)
	_ telemetry.JointReader = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		robots:   make(map[string]robot.Robot),
		controls: make(map[string]arbiter.ControlState),
		joints:   make(map[string]jointRow),
	}
}

// ListRobots returns robots sorted by ID.
func (s *Store) ListRobots(ctx context.Context) ([]robot.Robot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]robot.Robot, 0, len(s.robots))
	for _, r := range s.robots {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CreateRobot adds a robot with a disconnected, manual control row.
func (s *Store) CreateRobot(ctx context.Context, r robot.Robot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.robots[r.ID]; exists {
		return fmt.Errorf("robot %s already exists", r.ID)
	}
	s.robots[r.ID] = r
	s.controls[r.ID] = arbiter.ControlState{RobotID: r.ID}
	return nil
}

// ActiveRobot returns the persisted active robot ID, or "".
func (s *Store) ActiveRobot(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

// SetActiveRobot persists the active robot ID.
func (s *Store) SetActiveRobot(ctx context.Context, robotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.robots[robotID]; !exists {
		return fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	s.active = robotID
	return nil
}

// LoadControl returns the control state of a robot.
func (s *Store) LoadControl(ctx context.Context, robotID string) (arbiter.ControlState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, exists := s.controls[robotID]
	if !exists {
		return arbiter.ControlState{}, fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	return state, nil
}

// SaveControl writes state when the stored version matches expectedVersion.
func (s *Store) SaveControl(ctx context.Context, state arbiter.ControlState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.controls[state.RobotID]
	if !exists {
		return fmt.Errorf("robot %s: %w", state.RobotID, robot.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("robot %s at version %d, expected %d: %w",
			state.RobotID, current.Version, expectedVersion, arbiter.ErrConflict)
	}
	s.controls[state.RobotID] = state
	return nil
}

// JointState returns the last reported orientation of a robot.
func (s *Store) JointState(ctx context.Context, robotID string) ([]int, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.robots[robotID]; !exists {
		return nil, time.Time{}, fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	row := s.joints[robotID]
	return slices.Clone(row.values), row.updatedAt, nil
}

// SetJointState records an orientation report from the robot side.
func (s *Store) SetJointState(ctx context.Context, robotID string, values []int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.robots[robotID]; !exists {
		return fmt.Errorf("robot %s: %w", robotID, robot.ErrNotFound)
	}
	s.joints[robotID] = jointRow{values: slices.Clone(values), updatedAt: at}
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
