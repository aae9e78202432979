package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/opnotify/internal/ir"
)

// Scenario defines a notifier test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// MaxListeners overrides the per-entity listener limit when positive.
	MaxListeners int `yaml:"max_listeners,omitempty"`

	// Seed operations are written to the store before the notifier starts.
	Seed []SeedOperation `yaml:"seed,omitempty"`

	// Steps are submitted to the notifier in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions"`
}

// SeedOperation is an operation already in the store when the run starts.
type SeedOperation struct {
	Operation ir.Operation `yaml:"operation"`
	Confirm   bool         `yaml:"confirm"`
}

// Step is exactly one of Subscribe, Dispatch, Cancel or Sweep.
type Step struct {
	Subscribe *SubscribeStep `yaml:"subscribe,omitempty"`
	Dispatch  *ir.Operation  `yaml:"dispatch,omitempty"`
	Cancel    string         `yaml:"cancel,omitempty"`
	Sweep     bool           `yaml:"sweep,omitempty"`
}

// SubscribeStep registers a named waiter.
type SubscribeStep struct {
	Waiter     string       `yaml:"waiter"`
	Tx         *ir.TxHash   `yaml:"tx,omitempty"`
	PriorityOp *ir.SerialID `yaml:"priority_op,omitempty"`
	Level      ir.Level     `yaml:"level"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Waiter names the waiter (delivered, not_delivered).
	Waiter string `yaml:"waiter,omitempty"`

	// Outcome is a subset of the expected outcome fields (delivered).
	Outcome map[string]any `yaml:"outcome,omitempty"`

	// Count is the expected number of parked waiters (pending_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertDelivered    = "delivered"
	AssertNotDelivered = "not_delivered"
	AssertPendingCount = "pending_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, seed := range s.Seed {
		if err := seed.Operation.Validate(); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	waiters := make(map[string]bool)
	for i, step := range s.Steps {
		set := 0
		if step.Subscribe != nil {
			set++
		}
		if step.Dispatch != nil {
			set++
		}
		if step.Cancel != "" {
			set++
		}
		if step.Sweep {
			set++
		}
		if set != 1 {
			return fmt.Errorf("steps[%d]: exactly one of subscribe, dispatch, cancel or sweep is required", i)
		}

		switch {
		case step.Subscribe != nil:
			sub := step.Subscribe
			if sub.Waiter == "" {
				return fmt.Errorf("steps[%d].subscribe: waiter is required", i)
			}
			if waiters[sub.Waiter] {
				return fmt.Errorf("steps[%d].subscribe: duplicate waiter %q", i, sub.Waiter)
			}
			waiters[sub.Waiter] = true
			if (sub.Tx == nil) == (sub.PriorityOp == nil) {
				return fmt.Errorf("steps[%d].subscribe: exactly one of tx or priority_op is required", i)
			}
			if !sub.Level.Valid() {
				return fmt.Errorf("steps[%d].subscribe: level is required", i)
			}
		case step.Dispatch != nil:
			if err := step.Dispatch.Validate(); err != nil {
				return fmt.Errorf("steps[%d].dispatch: %w", i, err)
			}
		case step.Cancel != "":
			if !waiters[step.Cancel] {
				return fmt.Errorf("steps[%d].cancel: unknown waiter %q", i, step.Cancel)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, waiters); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, waiters map[string]bool) error {
	switch a.Type {
	case AssertDelivered, AssertNotDelivered:
		if !waiters[a.Waiter] {
			return fmt.Errorf("assertions[%d]: unknown waiter %q", index, a.Waiter)
		}
	case AssertPendingCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must not be negative", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
