package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v2"
)

// DefaultModel is the arm the panel was built around.
const DefaultModel = "CPR-Mover4"

// RobotCatalog describes the robot models the panel knows about.
type RobotCatalog struct {
	// Joint tables keyed by robot model.
	Models map[string]ModelSpec `yaml:"models"`

	// Joint tables keyed by robot ID; these win over the model entry.
	Overrides map[string]ModelSpec `yaml:"overrides"`

	// Scripts is the server-side allow-list for automatic mode.
	Scripts []string `yaml:"scripts"`

	// Robots are seeded into an empty store on first start.
	Robots []RobotSeed `yaml:"robots"`

	// Active is the robot ID selected on first start.
	Active string `yaml:"active"`
}

// ModelSpec lists joint bounds in joint order (joint 1 first).
type ModelSpec struct {
	Joints []JointRange `yaml:"joints"`
}

// JointRange is an inclusive [Lower, Upper] bound in degrees.
type JointRange struct {
	Lower int `yaml:"lower"`
	Upper int `yaml:"upper"`
}

// RobotSeed is a robot record created when the store is empty.
type RobotSeed struct {
	ID    string `yaml:"id"`
	Model string `yaml:"model"`
}

// DefaultCatalog returns the catalog used when no catalog file exists.
func DefaultCatalog() *RobotCatalog {
	return &RobotCatalog{
		Models: map[string]ModelSpec{
			DefaultModel: {
				Joints: []JointRange{
					{Lower: -150, Upper: 150},
					{Lower: -30, Upper: 60},
					{Lower: -40, Upper: 140},
					{Lower: -130, Upper: 130},
				},
			},
		},
		Overrides: map[string]ModelSpec{},
		Scripts:   []string{"pick1", "pick2", "pick3", "pickAll"},
		Robots: []RobotSeed{
			{ID: "1", Model: DefaultModel},
		},
		Active: "1",
	}
}

// LoadCatalog reads a robot catalog from a YAML file.
func LoadCatalog(filename string) (*RobotCatalog, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var catalog RobotCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to decode robot catalog from %s: %w", filename, err)
	}
	if catalog.Overrides == nil {
		catalog.Overrides = map[string]ModelSpec{}
	}
	return &catalog, nil
}

// HasModel checks if a model exists in the catalog.
func (c *RobotCatalog) HasModel(model string) bool {
	if c == nil || c.Models == nil {
		return false
	}
	_, ok := c.Models[model]
	return ok
}

// AvailableModels returns the catalog's model names in sorted order.
func (c *RobotCatalog) AvailableModels() []string {
	if c == nil {
		return []string{}
	}
	models := make([]string, 0, len(c.Models))
	for model := range c.Models {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
