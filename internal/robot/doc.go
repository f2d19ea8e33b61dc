// Package robot holds the robot inventory and the per-model joint limit table.
//
// The registry keeps every known robot together with the single active robot
// the panel operates on. The limit table is built once from the robot catalog
// and is read-only afterwards, so it is shared without locking.
package robot
