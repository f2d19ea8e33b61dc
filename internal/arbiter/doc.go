// Package arbiter grants and revokes exclusive control of robots.
//
// Each robot carries one control state: whether a user holds the connection
// lease, who that user is, and whether the robot is in manual or automatic
// mode. Every transition runs under a per-robot mutex and is committed to the
// StateStore with a compare-and-set on the state version, so two processes
// sharing one database cannot both win a connect. Reads of the current owner
// and mode come from the last committed snapshot and never take the lock.
//
// Guard lets the command dispatcher run validation, audit and publish under
// the same per-robot lock, ordering commands against connect and disconnect.
package arbiter
