// Package command validates and dispatches operator commands to a robot.
//
// The Dispatcher is the single path from an authenticated request to the
// control channel. Under the robot's arbiter lock it checks ownership, then
// mode, then joint shape and range; it appends one audit record, and only
// then publishes. Emergency stop skips ownership, mode and the lock.
package command
