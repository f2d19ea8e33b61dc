// Package api serves the control panel's northbound HTTP interface: robot
// inventory, connection leases, mode switching, command dispatch, joint
// snapshots and the SSE telemetry stream.
//
// Every JSON response uses one envelope, {result, data} on success and
// {result, code, message, details} on failure, both with a correlationId.
package api
