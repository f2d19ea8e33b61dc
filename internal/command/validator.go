package command

import (
	"fmt"
	"slices"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/robot"
)

// Validator checks commands against a control state snapshot. It holds no
// mutable state and is safe for concurrent use.
type Validator struct {
	limits  *robot.LimitTable
	scripts []string
}

// NewValidator creates a validator with the given script allow-list.
func NewValidator(limits *robot.LimitTable, scripts []string) *Validator {
	return &Validator{
		limits:  limits,
		scripts: slices.Clone(scripts),
	}
}

// Scripts returns the script allow-list.
func (v *Validator) Scripts() []string {
	return slices.Clone(v.scripts)
}

// Validate dispatches to the per-kind check. Emergency stop always passes.
func (v *Validator) Validate(r robot.Robot, state arbiter.ControlState, cmd Command) error {
	switch cmd.Kind {
	case KindJointMove:
		return v.ValidateJointMove(r, state, cmd.UserID, cmd.JointIndex, cmd.Direction)
	case KindManualTarget:
		return v.ValidateManualTarget(r, state, cmd.UserID, cmd.Values)
	case KindRunScript:
		return v.ValidateScript(r, state, cmd.UserID, cmd.Script)
	case KindGripperOpen, KindGripperClose, KindReset, KindEnable:
		return v.ValidateOwner(r, state, cmd.UserID)
	case KindEmergencyStop:
		return nil
	default:
		return fmt.Errorf("unknown command kind %q: %w", cmd.Kind, ErrInvalidParameter)
	}
}

// ValidateOwner checks that userID holds the robot's lease.
func (v *Validator) ValidateOwner(r robot.Robot, state arbiter.ControlState, userID string) error {
	if !state.OwnedBy(userID) {
		return fmt.Errorf("user %s does not hold robot %s: %w", userID, r.ID, arbiter.ErrNotOwner)
	}
	return nil
}

// ValidateJointMove checks a single joint step. Requires owner and manual mode.
func (v *Validator) ValidateJointMove(r robot.Robot, state arbiter.ControlState, userID string, jointIndex int, dir Direction) error {
	if err := v.requireMode(r, state, userID, arbiter.ModeManual); err != nil {
		return err
	}
	if _, err := v.limits.Limits(r.Model, r.ID, jointIndex); err != nil {
		return err
	}
	if dir != DirectionInc && dir != DirectionDec {
		return fmt.Errorf("direction %q: %w", dir, ErrInvalidParameter)
	}
	return nil
}

// ValidateManualTarget checks a full target vector. Requires owner and manual
// mode; every value is checked and the lowest offending index is reported.
func (v *Validator) ValidateManualTarget(r robot.Robot, state arbiter.ControlState, userID string, values []int) error {
	if err := v.requireMode(r, state, userID, arbiter.ModeManual); err != nil {
		return err
	}

	table, err := v.limits.Table(r.Model, r.ID)
	if err != nil {
		return err
	}
	if len(values) != len(table) {
		return fmt.Errorf("got %d values for %d joints: %w", len(values), len(table), ErrWrongLength)
	}

	var first *OutOfRangeError
	for i, value := range values {
		if !table[i].Contains(value) && first == nil {
			first = &OutOfRangeError{Index: i, Value: value, Limit: table[i]}
		}
	}
	if first != nil {
		return first
	}
	return nil
}

// ValidateScript checks a script start. Requires owner and automatic mode.
func (v *Validator) ValidateScript(r robot.Robot, state arbiter.ControlState, userID, script string) error {
	if err := v.requireMode(r, state, userID, arbiter.ModeAutomatic); err != nil {
		return err
	}
	if !slices.Contains(v.scripts, script) {
		return fmt.Errorf("script %q: %w", script, ErrUnknownScript)
	}
	return nil
}

// requireMode checks ownership first, then mode.
func (v *Validator) requireMode(r robot.Robot, state arbiter.ControlState, userID string, mode arbiter.Mode) error {
	if err := v.ValidateOwner(r, state, userID); err != nil {
		return err
	}
	if state.Mode() != mode {
		return fmt.Errorf("robot %s is in %s mode: %w", r.ID, state.Mode(), ErrModeMismatch)
	}
	return nil
}
