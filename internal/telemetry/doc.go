// Package telemetry streams robot events to browsers over Server-Sent Events.
//
// The hub fans out lease, mode, command and joint events to every subscriber
// and keeps a bounded per-robot buffer so a reconnecting client can resume
// from its Last-Event-ID. The poller samples joint orientation of the active
// robot on a fixed cadence and publishes a joints event whenever it changes.
package telemetry
