package arbiter

import (
	"context"
	"fmt"

	"github.com/robot-control/rcp/internal/audit"
)

// SwitchMode toggles the robot between manual and automatic. Only the owner
// may switch; the mode survives disconnect.
func (a *Arbiter) SwitchMode(ctx context.Context, robotID, userID string) (Mode, error) {
	id, err := a.robots.Resolve(robotID)
	if err != nil {
		return "", err
	}

	unlock := a.lock(id)
	defer unlock()

	state, err := a.load(ctx, id)
	if err != nil {
		return "", err
	}
	if !state.OwnedBy(userID) {
		return state.Mode(), fmt.Errorf("user %s does not hold robot %s: %w", userID, id, ErrNotOwner)
	}

	next := state
	next.Automatic = !state.Automatic

	committed, err := a.commit(ctx, state, next)
	if err != nil {
		return state.Mode(), err
	}
	a.activity.Store(id, a.now().UTC())

	mode := committed.Mode()
	a.record(ctx, audit.Record{
		User:        userID,
		RobotID:     id,
		Action:      "switch_mode",
		Description: fmt.Sprintf("user %s switched robot %s to %s mode", userID, id, mode),
		Params:      map[string]interface{}{"mode": string(mode)},
	})
	a.publish(id, "modeChanged", committed)

	return mode, nil
}

// CurrentMode returns the robot's mode from the last committed snapshot.
func (a *Arbiter) CurrentMode(ctx context.Context, robotID string) (Mode, error) {
	state, err := a.State(ctx, robotID)
	if err != nil {
		return "", err
	}
	return state.Mode(), nil
}
