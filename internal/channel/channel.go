package channel

import (
	"context"
	"slices"
)

// Topics the robot side subscribes to.
const (
	TopicJointMove    = "/joint_move"
	TopicManualTarget = "/manual_target"
	TopicMover        = "/CPRMoverCommands"
	TopicStop         = "/stop"
	TopicScript       = "/script"
)

// Message types as declared when advertising a topic.
const (
	TypeInt32MultiArray = "std_msgs/Int32MultiArray"
	TypeString          = "std_msgs/String"
)

// Mover commands published on TopicMover.
const (
	MoverGripperOpen  = "GripperOpen"
	MoverGripperClose = "GripperClose"
	MoverReset        = "Reset"
	MoverEnable       = "Enable"
)

// Message is one outbound control message. Exactly one of Ints or Text is meaningful,
// selected by Type.
type Message struct {
	Topic string
	Type  string
	Ints  []int
	Text  string
}

// Payload returns the message body in std_msgs shape.
func (m Message) Payload() map[string]interface{} {
	if m.Type == TypeInt32MultiArray {
		data := m.Ints
		if data == nil {
			data = []int{}
		}
		return map[string]interface{}{"data": data}
	}
	return map[string]interface{}{"data": m.Text}
}

// Publisher delivers control messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// JointMove steps one joint (1-based) up or down.
func JointMove(joint int, increase bool) Message {
	dir := 0
	if increase {
		dir = 1
	}
	return Message{Topic: TopicJointMove, Type: TypeInt32MultiArray, Ints: []int{joint, dir}}
}

// ManualTarget asks the robot to move to absolute joint angles.
func ManualTarget(values []int) Message {
	return Message{Topic: TopicManualTarget, Type: TypeInt32MultiArray, Ints: slices.Clone(values)}
}

// Mover sends one of the Mover* commands.
func Mover(command string) Message {
	return Message{Topic: TopicMover, Type: TypeString, Text: command}
}

// Stop halts all motion.
func Stop() Message {
	return Message{Topic: TopicStop, Type: TypeString, Text: "Stop"}
}

// Script starts a named automatic-mode script.
func Script(name string) Message {
	return Message{Topic: TopicScript, Type: TypeString, Text: name}
}
