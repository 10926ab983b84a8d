package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan is the declarative step list for a run, loaded from pipeline.yaml.
type Plan struct {
	RunID string   `yaml:"run_id"`
	Steps []string `yaml:"steps"`
}

// DefaultStepOrder is used when no plan file is present.
var DefaultStepOrder = []string{StepSoftLive, StepGate, StepNotify}

func LoadPlan(path string) (Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, err
	}
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	seen := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		name := strings.TrimSpace(s)
		switch name {
		case StepSoftLive, StepGate, StepNotify:
		default:
			return fmt.Errorf("unknown step %q", s)
		}
		if seen[name] {
			return fmt.Errorf("duplicate step %q", name)
		}
		seen[name] = true
	}
	return nil
}
