// Package channel defines the publish-only control channel to the robot.
//
// The panel never waits for the robot to act on a message; a successful
// Publish means the message left the process. Concrete transports live in
// sub-packages: rosbridge speaks the rosbridge v2 JSON protocol over a
// websocket, fake records messages for tests and local runs.
package channel
