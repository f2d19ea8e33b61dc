package command

import (
	"context"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/audit"
	"github.com/robot-control/rcp/internal/robot"
	"github.com/robot-control/rcp/internal/telemetry"
)

// DispatcherPort is the minimal interface the API needs from the dispatcher.
type DispatcherPort interface {
	Dispatch(ctx context.Context, cmd Command) error
}

// RobotLookup resolves a robot (or the active alias).
type RobotLookup interface {
	GetRobot(robotID string) (*robot.Robot, error)
}

// Guard runs fn under the robot's arbiter lock.
type Guard interface {
	Guard(ctx context.Context, robotID string, fn func(arbiter.ControlState) error) error
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
	_ RobotLookup    = (*robot.Registry)(nil)
	_ Guard          = (*arbiter.Arbiter)(nil)
	_ Auditor        = (*audit.Logger)(nil)
	_ EventPublisher = (*telemetry.Hub)(nil)
	_ DispatcherPort = (*Dispatcher)(nil)
)
