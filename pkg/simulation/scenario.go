package simulation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// LoadScenario reads a scenario file. .yaml and .yml are parsed as YAML,
// anything else as JSON.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseScenario(data, "yaml")
	default:
		return ParseScenario(data, "json")
	}
}

// ParseScenario decodes and validates a scenario in the given format
// ("yaml" or "json").
func ParseScenario(data []byte, format string) (Scenario, error) {
	var s Scenario
	var err error
	if format == "yaml" {
		err = yaml.Unmarshal(data, &s)
	} else {
		err = json.Unmarshal(data, &s)
	}
	if err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	s = s.withDefaults()
	if err := validator.New().Struct(s); err != nil {
		return Scenario{}, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

// DefaultScenario is a short mixed walk used when no file is given.
func DefaultScenario() Scenario {
	return Scenario{
		Name:        "Default Demo",
		Description: "Random walk with occasional filters and resets",
		Walkers: []WalkerConfig{
			{
				Name:           "walker-default",
				Count:          3,
				Steps:          25,
				FilterRate:     0.05,
				ResetRate:      0.05,
				BreadcrumbRate: 0.1,
				BogusRate:      0.05,
			},
		},
	}.withDefaults()
}

func (s Scenario) withDefaults() Scenario {
	if s.BreadcrumbMax == 0 {
		s.BreadcrumbMax = 10
	}
	for i := range s.Walkers {
		if s.Walkers[i].Count == 0 {
			s.Walkers[i].Count = 1
		}
	}
	return s
}
