package api

import (
	"context"
	"net/http"
	"time"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/command"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/session"
	"github.com/robot-control/rcp/internal/telemetry"
)

// RobotPort is the inventory view the API needs.
type RobotPort interface {
	GetRobot(robotID string) (*robot.Robot, error)
	List() *robot.RobotList
	SetActive(ctx context.Context, robotID string) error
}

// ArbiterPort covers leases and mode.
type ArbiterPort interface {
	ConnectUntil(ctx context.Context, robotID, userID string, expiresAt time.Time) (arbiter.Lease, error)
	RenewSession(ctx context.Context, userID string, expiresAt time.Time) error
	Disconnect(ctx context.Context, robotID, userID string) error
	State(ctx context.Context, robotID string) (arbiter.ControlState, error)
	SwitchMode(ctx context.Context, robotID, userID string) (arbiter.Mode, error)
	CurrentMode(ctx context.Context, robotID string) (arbiter.Mode, error)
}

// TelemetryPort streams server-sent events.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// JointsPort serves the latest joint snapshot.
type JointsPort interface {
	Joints(ctx context.Context, robotID string) (telemetry.JointSnapshot, error)
}

// SessionPort raises session-ended events.
type SessionPort interface {
	End(ctx context.Context, userID, reason string) error
}

// ScriptPort lists the scripts automatic mode may run.
type ScriptPort interface {
	Scripts() []string
}

// Compile-time assertions for port conformance
var (
	_ RobotPort              = (*robot.Registry)(nil)
	_ ArbiterPort            = (*arbiter.Arbiter)(nil)
	_ command.DispatcherPort = (*command.Dispatcher)(nil)
	_ TelemetryPort          = (*telemetry.Hub)(nil)
	_ JointsPort             = (*telemetry.Poller)(nil)
	_ SessionPort            = (*session.Bus)(nil)
	_ ScriptPort             = (*command.Validator)(nil)
)
