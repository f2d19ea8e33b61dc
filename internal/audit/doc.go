// Package audit implements the append-only audit trail of operator actions.
//
// Every connect, disconnect, mode switch and dispatched command is written as
// one JSON line carrying the user, robot, action, parameters and outcome.
// Appends are serialized so records for one robot keep submission order.
// The file is rotated by size with lumberjack.
package audit
