// Package config handles YAML behavior-script parsing.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arunbanswal/mockrtc/internal/step"
)

// Script is the root structure of a YAML behavior script.
type Script struct {
	Session SessionConfig `yaml:"session"`
}

// SessionConfig declares one session's ordered steps. Each step is a flat
// object whose "type" key selects the behavior, matching the JSON wire
// form.
type SessionConfig struct {
	Name  string           `yaml:"name"`
	Steps []map[string]any `yaml:"steps"`
}

// LoadScript reads a YAML script file and resolves its steps through the
// registry. Unknown step types fail here, never at run time.
func LoadScript(path string) ([]step.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file: %w", err)
	}
	return ParseScript(data)
}

// ParseScript resolves YAML script bytes into definitions.
func ParseScript(data []byte) ([]step.Definition, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}

	defs := make([]step.Definition, 0, len(script.Session.Steps))
	for i, raw := range script.Session.Steps {
		// Route through the JSON wire form so YAML and JSON scripts share
		// one decode path.
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("script step %d: %w", i+1, err)
		}
		def, err := step.Decode(encoded)
		if err != nil {
			return nil, fmt.Errorf("script step %d: %w", i+1, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}
