package command

import (
	"fmt"
	"slices"
	"time"
)

// Kind names a command.
type Kind string

const (
	KindJointMove     Kind = "joint_move"
	KindManualTarget  Kind = "manual_target"
	KindGripperOpen   Kind = "gripper_open"
	KindGripperClose  Kind = "gripper_close"
	KindReset         Kind = "reset"
	KindEnable        Kind = "enable"
	KindEmergencyStop Kind = "emergency_stop"
	KindRunScript     Kind = "run_script"
)

var kinds = []Kind{
	KindJointMove, KindManualTarget, KindGripperOpen, KindGripperClose,
	KindReset, KindEnable, KindEmergencyStop, KindRunScript,
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if slices.Contains(kinds, k) {
		return k, nil
	}
	return "", fmt.Errorf("unknown command kind %q: %w", s, ErrInvalidParameter)
}

// Direction is the step direction of a joint move.
type Direction string

const (
	DirectionInc Direction = "inc"
	DirectionDec Direction = "dec"
)

// Command is one operator request against a robot.
type Command struct {
	Kind      Kind
	UserID    string
	RobotID   string
	Timestamp time.Time

	// joint_move
	JointIndex int
	Direction  Direction

	// manual_target
	Values []int

	// run_script
	Script string
}

// Params returns the kind-specific parameters for the audit record.
func (c Command) Params() map[string]interface{} {
	switch c.Kind {
	case KindJointMove:
		return map[string]interface{}{"jointIndex": c.JointIndex, "direction": string(c.Direction)}
	case KindManualTarget:
		return map[string]interface{}{"values": slices.Clone(c.Values)}
	case KindRunScript:
		return map[string]interface{}{"script": c.Script}
	default:
		return nil
	}
}

// Describe renders the human-readable audit description.
func (c Command) Describe() string {
	switch c.Kind {
	case KindJointMove:
		return fmt.Sprintf("user %s moving joint %d in direction %s on robot %s", c.UserID, c.JointIndex, c.Direction, c.RobotID)
	case KindManualTarget:
		return fmt.Sprintf("user %s moved robot %s to %v", c.UserID, c.RobotID, c.Values)
	case KindRunScript:
		return fmt.Sprintf("user %s started script %s on robot %s", c.UserID, c.Script, c.RobotID)
	case KindEmergencyStop:
		return fmt.Sprintf("user %s sent emergency stop to robot %s", c.UserID, c.RobotID)
	default:
		return fmt.Sprintf("user %s sent command %s to robot %s", c.UserID, c.Kind, c.RobotID)
	}
}
