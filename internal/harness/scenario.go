package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a reliability scenario: scripted connectivity, the
// writes and drains performed under it, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config tunes the layer under test. Zero values take defaults.
	Config ScenarioConfig `yaml:"config,omitempty"`

	// Operations maps operation type to CUE payload schema ("" accepts any
	// object).
	Operations map[string]string `yaml:"operations"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// ScenarioConfig tunes the reliability layer for one scenario.
type ScenarioConfig struct {
	Capacity         int    `yaml:"capacity,omitempty"`
	MaxAttempts      int    `yaml:"max_attempts,omitempty"` // outbox dead-letter ceiling, 0 = off
	RetryAttempts    int    `yaml:"retry_attempts,omitempty"`
	FailureThreshold int    `yaml:"failure_threshold,omitempty"`
	Cooldown         string `yaml:"cooldown,omitempty"`
	ReliableWrites   *bool  `yaml:"reliable_writes,omitempty"`
	AIResilience     *bool  `yaml:"ai_resilience,omitempty"`
}

// Step is one scripted action. Exactly one of Remote, Provider, Write,
// Drain, Generate and Advance is set.
type Step struct {
	Remote   string         `yaml:"remote,omitempty"`
	Provider string         `yaml:"provider,omitempty"`
	Write    string         `yaml:"write,omitempty"`
	Actor    string         `yaml:"actor,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Drain    bool           `yaml:"drain,omitempty"`
	Generate string         `yaml:"generate,omitempty"`
	Advance  string         `yaml:"advance,omitempty"`

	// Expect is checked after write, drain and generate steps.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Step kinds.
const (
	StepRemote   = "remote"
	StepProvider = "provider"
	StepWrite    = "write"
	StepDrain    = "drain"
	StepGenerate = "generate"
	StepAdvance  = "advance"
)

// Kind returns the step kind, or "" when none or several are set.
func (s Step) Kind() string {
	var kinds []string
	if s.Remote != "" {
		kinds = append(kinds, StepRemote)
	}
	if s.Provider != "" {
		kinds = append(kinds, StepProvider)
	}
	if s.Write != "" {
		kinds = append(kinds, StepWrite)
	}
	if s.Drain {
		kinds = append(kinds, StepDrain)
	}
	if s.Generate != "" {
		kinds = append(kinds, StepGenerate)
	}
	if s.Advance != "" {
		kinds = append(kinds, StepAdvance)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Expect is the expected outcome of a step. Only set fields are checked.
type Expect struct {
	// Outcome is "applied", "queued", "dropped" or "rejected" for writes
	// and "ok" or "unavailable" for generate.
	Outcome      string `yaml:"outcome,omitempty"`
	Processed    *int   `yaml:"processed,omitempty"`
	Failed       *int   `yaml:"failed,omitempty"`
	DeadLettered *int   `yaml:"dead_lettered,omitempty"`
	Remaining    *int   `yaml:"remaining,omitempty"`
}

// WriteRef identifies a remote write by operation and actor.
type WriteRef struct {
	Operation string `yaml:"operation"`
	Actor     string `yaml:"actor"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by outbox_size, dead_letters, remote_calls and
	// event_count.
	Count int `yaml:"count,omitempty"`

	// Event is used by event_count.
	Event string `yaml:"event,omitempty"`

	// Events is used by event_order.
	Events []string `yaml:"events,omitempty"`

	// Writes is used by remote_applied.
	Writes []WriteRef `yaml:"writes,omitempty"`
}

// Assertion type constants.
const (
	AssertOutboxSize    = "outbox_size"
	AssertDeadLetters   = "dead_letters"
	AssertRemoteCalls   = "remote_calls"
	AssertRemoteApplied = "remote_applied"
	AssertEventCount    = "event_count"
	AssertEventOrder    = "event_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
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
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Config.Cooldown != "" {
		if _, err := time.ParseDuration(s.Config.Cooldown); err != nil {
			return fmt.Errorf("config.cooldown: %w", err)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step, s.Operations); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step, ops map[string]string) error {
	kind := step.Kind()
	switch kind {
	case "":
		return fmt.Errorf("steps[%d]: exactly one of remote, provider, write, drain, generate, advance is required", i)
	case StepRemote, StepProvider:
		v := step.Remote + step.Provider
		if v != "online" && v != "offline" {
			return fmt.Errorf("steps[%d]: %s must be online or offline, got %q", i, kind, v)
		}
	case StepWrite:
		if _, ok := ops[step.Write]; !ok {
			return fmt.Errorf("steps[%d]: operation %q is not declared", i, step.Write)
		}
		if step.Actor == "" {
			return fmt.Errorf("steps[%d]: actor is required for write", i)
		}
	case StepAdvance:
		if d, err := time.ParseDuration(step.Advance); err != nil || d < 0 {
			return fmt.Errorf("steps[%d]: advance must be a non-negative duration, got %q", i, step.Advance)
		}
	}

	if step.Expect != nil && step.Expect.Outcome != "" {
		valid := map[string][]string{
			StepWrite:    {"applied", "queued", "dropped", "rejected"},
			StepGenerate: {"ok", "unavailable"},
		}[kind]
		found := false
		for _, v := range valid {
			found = found || v == step.Expect.Outcome
		}
		if !found {
			return fmt.Errorf("steps[%d].expect: outcome %q is not valid for %s", i, step.Expect.Outcome, kind)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case AssertOutboxSize, AssertDeadLetters, AssertRemoteCalls:
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertRemoteApplied:
		for j, w := range a.Writes {
			if w.Operation == "" || w.Actor == "" {
				return fmt.Errorf("assertions[%d].writes[%d]: operation and actor are required", index, j)
			}
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
