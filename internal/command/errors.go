package command

import (
	"errors"
	"fmt"

	"github.com/robot-control/rcp/internal/robot"
)

var (
	// ErrModeMismatch indicates the command is not allowed in the robot's current mode.
	ErrModeMismatch = errors.New("MODE_MISMATCH")

	// ErrUnknownJoint indicates a joint index outside the robot's table.
	ErrUnknownJoint = robot.ErrUnknownJoint

	// ErrWrongLength indicates a target vector whose length differs from the joint count.
	ErrWrongLength = errors.New("WRONG_LENGTH")

	// ErrOutOfRange matches every *OutOfRangeError.
	ErrOutOfRange = errors.New("OUT_OF_RANGE")

	// ErrUnknownScript indicates a script name outside the allow-list.
	ErrUnknownScript = errors.New("UNKNOWN_SCRIPT")

	// ErrInvalidParameter indicates a missing or structurally invalid parameter.
	ErrInvalidParameter = errors.New("BAD_REQUEST")

	// ErrDispatchChannelUnavailable indicates the command was audited but not delivered.
	ErrDispatchChannelUnavailable = errors.New("UNAVAILABLE")

	// ErrAuditFailed indicates the intent could not be recorded, so nothing was sent.
	ErrAuditFailed = errors.New("AUDIT_FAILED")
)

// OutOfRangeError reports the lowest offending index of a target vector (0-based).
type OutOfRangeError struct {
	Index int
	Value int
	Limit robot.JointLimit
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("OUT_OF_RANGE: value %d at index %d outside [%d, %d]",
		e.Value, e.Index, e.Limit.Lower, e.Limit.Upper)
}

// Is lets errors.Is(err, ErrOutOfRange) match.
func (e *OutOfRangeError) Is(target error) bool {
	return target == ErrOutOfRange
}
