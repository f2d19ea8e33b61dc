package telemetry

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"
)

// JointSnapshot is the last observed joint orientation of a robot.
type JointSnapshot struct {
	RobotID   string    `json:"robotId"`
	Values    []int     `json:"values"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JointReader reads the orientation reported by the robot side.
type JointReader interface {
	JointState(ctx context.Context, robotID string) ([]int, time.Time, error)
}

// RobotPublisher is the subset of Hub the poller needs.
type RobotPublisher interface {
	PublishRobot(robotID string, event Event) error
}

// Poller samples the active robot's joints and publishes changes.
type Poller struct {
	reader   JointReader
	active   func() string
	events   RobotPublisher
	interval time.Duration

	mu        sync.RWMutex
	snapshots map[string]JointSnapshot
}

// NewPoller creates a poller. active returns the robot to sample each tick.
func NewPoller(reader JointReader, active func() string, events RobotPublisher, interval time.Duration) *Poller {
	return &Poller{
		reader:    reader,
		active:    active,
		events:    events,
		interval:  interval,
		snapshots: make(map[string]JointSnapshot),
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	lastErr := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := p.Poll(ctx)
			// Log each distinct failure once rather than every tick.
			if err != nil && err.Error() != lastErr {
				log.Printf("telemetry: joint poll failed: %v", err)
			}
			if err == nil {
				lastErr = ""
			} else {
				lastErr = err.Error()
			}
		}
	}
}

// Poll reads the active robot once and publishes a joints event on change.
func (p *Poller) Poll(ctx context.Context) error {
	robotID := p.active()
	if robotID == "" {
		return nil
	}

	snapshot, err := p.read(ctx, robotID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	prev, seen := p.snapshots[robotID]
	changed := !seen || !slices.Equal(prev.Values, snapshot.Values)
	for id := range p.snapshots {
		if id != robotID {
			delete(p.snapshots, id)
		}
	}
	p.snapshots[robotID] = snapshot
	p.mu.Unlock()

	if changed && p.events != nil {
		return p.events.PublishRobot(robotID, Event{
			Type: "joints",
			Data: map[string]interface{}{
				"robotId":   robotID,
				"values":    snapshot.Values,
				"updatedAt": snapshot.UpdatedAt.UTC().Format(time.RFC3339Nano),
			},
		})
	}
	return nil
}

// Joints returns the last polled snapshot of the active robot. Any other
// robot, or one not polled yet, is read from the store.
func (p *Poller) Joints(ctx context.Context, robotID string) (JointSnapshot, error) {
	if robotID == p.active() {
		p.mu.RLock()
		snapshot, ok := p.snapshots[robotID]
		p.mu.RUnlock()
		if ok {
			return snapshot, nil
		}
	}
	return p.read(ctx, robotID)
}

func (p *Poller) read(ctx context.Context, robotID string) (JointSnapshot, error) {
	values, updatedAt, err := p.reader.JointState(ctx, robotID)
	if err != nil {
		return JointSnapshot{}, fmt.Errorf("failed to read joints of robot %s: %w", robotID, err)
	}
	return JointSnapshot{
		RobotID:   robotID,
		Values:    slices.Clone(values),
		UpdatedAt: updatedAt,
	}, nil
}
