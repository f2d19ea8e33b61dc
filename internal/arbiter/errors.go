package arbiter

import (
	"errors"

	"github.com/robot-control/rcp/internal/robot"
)

var (
	// ErrAlreadyOwned indicates the robot is already connected by some user.
	ErrAlreadyOwned = errors.New("ALREADY_OWNED")

	// ErrNotOwner indicates the caller does not hold the robot's lease.
	ErrNotOwner = errors.New("NOT_OWNER")

	// ErrConflict indicates another writer committed first; the caller may retry.
	ErrConflict = errors.New("CONFLICT")

	// ErrInvalidUser indicates an empty user identity.
	ErrInvalidUser = errors.New("BAD_REQUEST")

	// ErrRobotNotFound is the registry's not-found error.
	ErrRobotNotFound = robot.ErrNotFound
)
