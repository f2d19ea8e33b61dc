package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robot-control/rcp/internal/arbiter"
	"github.com/robot-control/rcp/internal/audit"
	"github.com/robot-control/rcp/internal/channel"
	"github.com/robot-control/rcp/internal/config"
	"github.com/robot-control/rcp/internal/telemetry"
)

// Dispatcher routes validated commands to the control channel.
type Dispatcher struct {
	robots    RobotLookup
	guard     Guard
	validator *Validator
	auditor   Auditor
	publisher channel.Publisher
	events    EventPublisher
	config    *config.TimingConfig
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. events may be nil.
func NewDispatcher(robots RobotLookup, guard Guard, validator *Validator, auditor Auditor,
	publisher channel.Publisher, events EventPublisher, timingConfig *config.TimingConfig) *Dispatcher {
	return &Dispatcher{
		robots:    robots,
		guard:     guard,
		validator: validator,
		auditor:   auditor,
		publisher: publisher,
		events:    events,
		config:    timingConfig,
		now:       time.Now,
	}
}

// Dispatch validates cmd, records it, and publishes it. A rejected command is
// neither audited nor published. A delivery failure leaves the first record
// in place, adds a "delivery failed" record and returns ErrDispatchChannelUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	if cmd.UserID == "" {
		return fmt.Errorf("user is required: %w", ErrInvalidParameter)
	}
	if _, err := ParseKind(string(cmd.Kind)); err != nil {
		return err
	}

	r, err := d.robots.GetRobot(cmd.RobotID)
	if err != nil {
		return err
	}
	cmd.RobotID = r.ID
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = d.now().UTC()
	}

	// Emergency stop must not wait behind a slow command on the same robot.
	if cmd.Kind == KindEmergencyStop {
		return d.forward(ctx, cmd)
	}

	return d.guard.Guard(ctx, r.ID, func(state arbiter.ControlState) error {
		if err := d.validator.Validate(*r, state, cmd); err != nil {
			return err
		}
		return d.forward(ctx, cmd)
	})
}

// forward audits then publishes. Caller holds the robot lock, except for emergency stop.
func (d *Dispatcher) forward(ctx context.Context, cmd Command) error {
	msg, err := toMessage(cmd)
	if err != nil {
		return err
	}

	rec := audit.Record{
		Timestamp:   cmd.Timestamp,
		User:        cmd.UserID,
		RobotID:     cmd.RobotID,
		Action:      string(cmd.Kind),
		Description: cmd.Describe(),
		Params:      cmd.Params(),
		Outcome:     audit.OutcomeOK,
	}
	if err := d.auditor.Append(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrAuditFailed, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.config.CommandTimeoutPublish)
	defer cancel()

	start := d.now()
	if err := d.publisher.Publish(publishCtx, msg); err != nil {
		normalized := channel.Normalize(err)

		failed := rec
		failed.Timestamp = d.now().UTC()
		failed.Outcome = audit.OutcomeDeliveryFailed
		failed.Params = map[string]interface{}{"topic": msg.Topic, "error": normalized.Error()}
		if auditErr := d.auditor.Append(ctx, failed); auditErr != nil {
			log.Printf("audit: failed to record delivery failure on robot %s: %v", cmd.RobotID, auditErr)
		}

		d.publishFaultEvent(cmd, normalized)
		return fmt.Errorf("%w: %w", ErrDispatchChannelUnavailable, normalized)
	}

	d.publishDispatchedEvent(cmd, d.now().Sub(start))
	return nil
}

// toMessage maps a command to its control channel message.
func toMessage(cmd Command) (channel.Message, error) {
	switch cmd.Kind {
	case KindJointMove:
		return channel.JointMove(cmd.JointIndex, cmd.Direction == DirectionInc), nil
	case KindManualTarget:
		return channel.ManualTarget(cmd.Values), nil
	case KindGripperOpen:
		return channel.Mover(channel.MoverGripperOpen), nil
	case KindGripperClose:
		return channel.Mover(channel.MoverGripperClose), nil
	case KindReset:
		return channel.Mover(channel.MoverReset), nil
	case KindEnable:
		return channel.Mover(channel.MoverEnable), nil
	case KindEmergencyStop:
		return channel.Stop(), nil
	case KindRunScript:
		return channel.Script(cmd.Script), nil
	default:
		return channel.Message{}, fmt.Errorf("unknown command kind %q: %w", cmd.Kind, ErrInvalidParameter)
	}
}

func (d *Dispatcher) publishDispatchedEvent(cmd Command, latency time.Duration) {
	if d.events == nil {
		return
	}
	data := map[string]interface{}{
		"robotId":   cmd.RobotID,
		"kind":      string(cmd.Kind),
		"user":      cmd.UserID,
		"latencyMs": latency.Milliseconds(),
		"ts":        cmd.Timestamp.Format(time.RFC3339),
	}
	for k, v := range cmd.Params() {
		data[k] = v
	}
	if err := d.events.PublishRobot(cmd.RobotID, telemetry.Event{Type: "commandDispatched", Data: data}); err != nil {
		log.Printf("telemetry: failed to publish commandDispatched: %v", err)
	}
}

func (d *Dispatcher) publishFaultEvent(cmd Command, err error) {
	if d.events == nil {
		return
	}
	code := "INTERNAL"
	if errors.Is(err, channel.ErrUnavailable) {
		code = "UNAVAILABLE"
	}
	event := telemetry.Event{
		Type: "fault",
		Data: map[string]interface{}{
			"robotId": cmd.RobotID,
			"kind":    string(cmd.Kind),
			"code":    code,
			"message": "Failed to deliver command",
			"ts":      d.now().UTC().Format(time.RFC3339),
		},
	}
	if pubErr := d.events.PublishRobot(cmd.RobotID, event); pubErr != nil {
		log.Printf("telemetry: failed to publish fault: %v", pubErr)
	}
}
