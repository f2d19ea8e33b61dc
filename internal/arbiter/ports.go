package arbiter

import (
	"context"
	"time"

	"github.com/robot-control/rcp/internal/audit"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/telemetry"
)

// Mode is the robot's operating mode.
type Mode string

const (
	ModeManual    Mode = "manual"
	ModeAutomatic Mode = "automatic"
)

// ControlState is the per-robot triple plus lease bookkeeping.
// Connected == false implies OwnerUserID == "".
type ControlState struct {
	RobotID     string    `json:"robotId"`
	Connected   bool      `json:"connected"`
	OwnerUserID string    `json:"ownerUserId,omitempty"`
	Automatic   bool      `json:"automatic"`
	LeaseID     string    `json:"leaseId,omitempty"`
	AcquiredAt  time.Time `json:"acquiredAt,omitempty"`

	// ExpiresAt is when the owner's session ends; zero means no expiry.
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	Version int64 `json:"version"`
}

// Mode returns the state's operating mode.
func (s ControlState) Mode() Mode {
	if s.Automatic {
		return ModeAutomatic
	}
	return ModeManual
}

// SessionExpired reports whether the owner's session ended before now.
func (s ControlState) SessionExpired(now time.Time) bool {
	return s.Connected && !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// OwnedBy reports whether userID currently holds the lease.
func (s ControlState) OwnedBy(userID string) bool {
	return s.Connected && userID != "" && s.OwnerUserID == userID
}

// Lease is handed to the user on a successful connect.
type Lease struct {
	ID         string    `json:"leaseId"`
	RobotID    string    `json:"robotId"`
	UserID     string    `json:"userId"`
	AcquiredAt time.Time `json:"acquiredAt"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
}

// StateStore persists control state.
type StateStore interface {
	// LoadControl returns robot.ErrNotFound for unknown robots.
	LoadControl(ctx context.Context, robotID string) (ControlState, error)

	// SaveControl writes state if the stored version equals expectedVersion,
	// and returns ErrConflict otherwise.
	SaveControl(ctx context.Context, state ControlState, expectedVersion int64) error
}

// Robots resolves robot IDs (including the active alias).
type Robots interface {
	Resolve(robotID string) (string, error)
	IDs() []string
}

// Auditor appends audit records.
type Auditor interface {
	Append(ctx context.Context, rec audit.Record) error
}

// EventPublisher fans robot events out to telemetry subscribers.
type EventPublisher interface {
	PublishRobot(robotID string, event telemetry.Event) error
}

// Compile-time assertions
var (
	_ Robots         = (*robot.Registry)(nil)
	_ Auditor        = (*audit.Logger)(nil)
	_ EventPublisher = (*telemetry.Hub)(nil)
)
