package robot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/robot-control/rcp/internal/config"
)

// ActiveAlias may be used in place of a robot ID to address the active robot.
const ActiveAlias = "active"

// ErrNotFound indicates a requested robot does not exist.
var ErrNotFound = errors.New("NOT_FOUND")

// Robot is a single arm known to the panel.
type Robot struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	JointCount int    `json:"jointCount"`
}

// RobotList is the response format for GET /robots.
type RobotList struct {
	ActiveRobotID string  `json:"activeRobotId"`
	Items         []Robot `json:"items"`
}

// Store persists the inventory and the active selection.
type Store interface {
	ListRobots(ctx context.Context) ([]Robot, error)
	CreateRobot(ctx context.Context, robot Robot) error
	ActiveRobot(ctx context.Context) (string, error)
	SetActiveRobot(ctx context.Context, robotID string) error
}

// Registry manages the robot inventory and the active selection.
type Registry struct {
	mu            sync.RWMutex
	robots        map[string]*Robot
	activeRobotID string
	limits        *LimitTable
	store         Store
}

// NewRegistry creates a registry. store may be nil for a purely in-memory registry.
func NewRegistry(store Store, limits *LimitTable) *Registry {
	return &Registry{
		robots: make(map[string]*Robot),
		limits: limits,
		store:  store,
	}
}

// Load reads the inventory from the store. An empty store is seeded from the catalog.
func (r *Registry) Load(ctx context.Context, catalog *config.RobotCatalog) error {
	var robots []Robot
	active := ""

	if r.store != nil {
		var err error
		if robots, err = r.store.ListRobots(ctx); err != nil {
			return fmt.Errorf("failed to list robots: %w", err)
		}
		if active, err = r.store.ActiveRobot(ctx); err != nil {
			return fmt.Errorf("failed to read active robot: %w", err)
		}
	}

	if len(robots) == 0 && catalog != nil {
		for _, seed := range catalog.Robots {
			if _, err := r.Register(ctx, seed.ID, seed.Model); err != nil {
				return err
			}
		}
		if catalog.Active != "" {
			return r.SetActive(ctx, catalog.Active)
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, robot := range robots {
		count, err := r.limits.JointCount(robot.Model, robot.ID)
		if err != nil {
			return fmt.Errorf("robot %s: %w", robot.ID, err)
		}
		robot := robot
		robot.JointCount = count
		r.robots[robot.ID] = &robot
	}
	if _, ok := r.robots[active]; ok {
		r.activeRobotID = active
	} else if r.activeRobotID == "" {
		r.activeRobotID = firstID(r.robots)
	}
	return nil
}

// Register adds a robot. The first registered robot becomes active.
func (r *Registry) Register(ctx context.Context, robotID, model string) (*Robot, error) {
	if robotID == "" || robotID == ActiveAlias {
		return nil, fmt.Errorf("invalid robot id %q", robotID)
	}
	count, err := r.limits.JointCount(model, robotID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.robots[robotID]; exists {
		return nil, fmt.Errorf("robot %s already registered", robotID)
	}

	robot := &Robot{ID: robotID, Model: model, JointCount: count}
	if r.store != nil {
		if err := r.store.CreateRobot(ctx, *robot); err != nil {
			return nil, fmt.Errorf("failed to persist robot %s: %w", robotID, err)
		}
	}
	r.robots[robotID] = robot

	if r.activeRobotID == "" {
		r.activeRobotID = robotID
	}

	out := *robot
	return &out, nil
}

// SetActive sets the active robot with existence check.
func (r *Registry) SetActive(ctx context.Context, robotID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.robots[robotID]; !exists {
		return fmt.Errorf("robot %s: %w", robotID, ErrNotFound)
	}
	if r.store != nil {
		if err := r.store.SetActiveRobot(ctx, robotID); err != nil {
			return fmt.Errorf("failed to persist active robot: %w", err)
		}
	}

	r.activeRobotID = robotID
	return nil
}

// GetActive returns the active robot ID.
func (r *Registry) GetActive() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeRobotID
}

// Resolve maps the active alias to a concrete ID and checks existence.
func (r *Registry) Resolve(robotID string) (string, error) {
	robot, err := r.GetRobot(robotID)
	if err != nil {
		return "", err
	}
	return robot.ID, nil
}

// GetRobot returns a copy of a robot by ID (or the active alias).
func (r *Registry) GetRobot(robotID string) (*Robot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if robotID == ActiveAlias {
		robotID = r.activeRobotID
	}

	robot, exists := r.robots[robotID]
	if !exists {
		return nil, fmt.Errorf("robot %q: %w", robotID, ErrNotFound)
	}
	out := *robot
	return &out, nil
}

// IDs returns every robot ID in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.robots))
	for id := range r.robots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the robot list sorted by ID.
func (r *Registry) List() *RobotList {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]Robot, 0, len(r.robots))
	for _, robot := range r.robots {
		items = append(items, *robot)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	return &RobotList{
		ActiveRobotID: r.activeRobotID,
		Items:         items,
	}
}

func firstID(robots map[string]*Robot) string {
	first := ""
	for id := range robots {
		if first == "" || id < first {
			first = id
		}
	}
	return first
}
