package robot

import (
	"errors"
	"fmt"

	"github.com/robot-control/rcp/internal/config"
)

// ErrUnknownJoint indicates a joint index outside the robot's table.
var ErrUnknownJoint = errors.New("UNKNOWN_JOINT")

// JointLimit is an inclusive [Lower, Upper] bound in degrees.
type JointLimit struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// Contains reports whether value lies within the bound.
func (l JointLimit) Contains(value int) bool {
	return value >= l.Lower && value <= l.Upper
}

// LimitTable maps models (and robot-level overrides) to joint bounds.
type LimitTable struct {
	models    map[string][]JointLimit
	overrides map[string][]JointLimit
}

// NewLimitTable copies the joint tables out of a catalog.
func NewLimitTable(catalog *config.RobotCatalog) *LimitTable {
	t := &LimitTable{
		models:    make(map[string][]JointLimit),
		overrides: make(map[string][]JointLimit),
	}
	if catalog == nil {
		return t
	}
	for model, spec := range catalog.Models {
		t.models[model] = toLimits(spec)
	}
	for robotID, spec := range catalog.Overrides {
		t.overrides[robotID] = toLimits(spec)
	}
	return t
}

func toLimits(spec config.ModelSpec) []JointLimit {
	limits := make([]JointLimit, len(spec.Joints))
	for i, j := range spec.Joints {
		limits[i] = JointLimit{Lower: j.Lower, Upper: j.Upper}
	}
	return limits
}

// Table returns every joint bound for a robot in joint order.
func (t *LimitTable) Table(model, robotID string) ([]JointLimit, error) {
	limits, ok := t.overrides[robotID]
	if !ok {
		limits, ok = t.models[model]
	}
	if !ok {
		return nil, fmt.Errorf("no joint table for model %q: %w", model, ErrUnknownJoint)
	}
	out := make([]JointLimit, len(limits))
	copy(out, limits)
	return out, nil
}

// Limits returns the bound for a 1-based joint index.
func (t *LimitTable) Limits(model, robotID string, jointIndex int) (JointLimit, error) {
	limits, ok := t.overrides[robotID]
	if !ok {
		limits, ok = t.models[model]
	}
	if !ok || jointIndex < 1 || jointIndex > len(limits) {
		return JointLimit{}, fmt.Errorf("joint %d of %s: %w", jointIndex, model, ErrUnknownJoint)
	}
	return limits[jointIndex-1], nil
}

// JointCount returns the number of joints in the robot's table.
func (t *LimitTable) JointCount(model, robotID string) (int, error) {
	limits, ok := t.overrides[robotID]
	if !ok {
		limits, ok = t.models[model]
	}
	if !ok {
		return 0, fmt.Errorf("no joint table for model %q: %w", model, ErrUnknownJoint)
	}
	return len(limits), nil
}
