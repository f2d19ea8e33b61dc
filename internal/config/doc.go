// Package config implements the configuration store for the Robot Control Panel.
//
// Configuration is layered: LoadBaseline() defaults, then an optional YAML file,
// then RCP_* environment overrides, then validation. The robot catalog (models,
// joint limits, per-robot overrides and the script allow-list) lives in its own
// YAML file and is immutable once loaded.
package config
