package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/motifcore/internal/config"
	"github.com/roach88/motifcore/internal/engine"
	"github.com/roach88/motifcore/internal/tick"
)

// Scenario defines a deterministic run of the memory core.
// Scenarios drive the engine and its components step by step and assert on
// the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config overrides the default configuration. Keys are the same as in
	// the motifd config file; db_path is ignored and an in-memory store is
	// used instead.
	Config config.Config `yaml:"config,omitempty"`

	// Archive is the archive index content. When set it is written to a
	// temporary file and used as archive_path.
	Archive string `yaml:"archive,omitempty"`

	// Agents is the number of engine agents created up front, named
	// agent-1 .. agent-N. Defaults to 1.
	Agents int `yaml:"agents,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of an emission, a raw tick, a decay cycle or a gate
// event.
type Step struct {
	// Emit carries one emission through the full engine pipeline.
	Emit *EmitStep `yaml:"emit,omitempty"`

	// Tick mints a record with an explicit lamport and ingests it into the
	// ledger directly. Memory and feedback are not involved.
	Tick *TickStep `yaml:"tick,omitempty"`

	// Cycle runs that many memory decay cycles.
	Cycle int `yaml:"cycle,omitempty"`

	// Gate admits one slot and releases it as "success" or "failure".
	Gate string `yaml:"gate,omitempty"`
}

// EmitStep is an engine emission by one of the scenario's agents.
type EmitStep struct {
	// Agent is the 1-based agent index. Defaults to 1.
	Agent int `yaml:"agent,omitempty"`

	engine.Emission `yaml:",inline"`
}

// TickStep is a hand-minted record.
type TickStep struct {
	Motif   string     `yaml:"motif"`
	Lamport uint64     `yaml:"lamport"`
	Agent   string     `yaml:"agent,omitempty"`
	Stage   tick.Stage `yaml:"stage,omitempty"`

	// Secret overrides the signing key. Unset signs with the configured
	// secret; an empty string leaves the record unsigned.
	Secret *string `yaml:"secret,omitempty"`
}

// Gate step values.
const (
	GateSuccess = "success"
	GateFailure = "failure"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "outcomes": the ordered ingest outcomes recorded for Motif
	// - "outcome_count": how many trace events ended in Outcome
	// - "tier": the tier holding Motif after the last step
	// - "weight": the weight of Motif, within Delta of Value
	// - "histogram": the ledger tick count for Motif
	// - "backoff": the gate back-off multiplier, equal to Value
	// - "dyad": the last non-empty dyad completion in the trace
	Type string `yaml:"type"`

	Motif    string   `yaml:"motif,omitempty"`
	Outcomes []string `yaml:"outcomes,omitempty"`
	Outcome  string   `yaml:"outcome,omitempty"`
	Count    int      `yaml:"count,omitempty"`
	Tier     string   `yaml:"tier,omitempty"`
	Value    *float64 `yaml:"value,omitempty"`
	Delta    float64  `yaml:"delta,omitempty"`
	Members  []string `yaml:"members,omitempty"`
}

// Assertion type constants.
const (
	AssertOutcomes     = "outcomes"
	AssertOutcomeCount = "outcome_count"
	AssertTier         = "tier"
	AssertWeight       = "weight"
	AssertHistogram    = "histogram"
	AssertBackoff      = "backoff"
	AssertDyad         = "dyad"
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

// ParseScenario parses scenario YAML. Config keys not given keep their
// defaults.
func ParseScenario(data []byte) (*Scenario, error) {
	scenario := Scenario{Config: config.Default()}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
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
	if s.Agents < 0 {
		return fmt.Errorf("agents must not be negative")
	}
	if s.Agents == 0 {
		s.Agents = 1
	}
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i], s.Agents); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateStep checks that exactly one action is set and fills defaults.
func validateStep(index int, st *Step, agents int) error {
	set := 0
	if st.Emit != nil {
		set++
	}
	if st.Tick != nil {
		set++
	}
	if st.Cycle != 0 {
		set++
	}
	if st.Gate != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of emit, tick, cycle or gate is required", index)
	}

	switch {
	case st.Emit != nil:
		if st.Emit.MotifID == "" {
			return fmt.Errorf("steps[%d].emit: motif is required", index)
		}
		if st.Emit.Agent == 0 {
			st.Emit.Agent = 1
		}
		if st.Emit.Agent < 1 || st.Emit.Agent > agents {
			return fmt.Errorf("steps[%d].emit: agent %d out of range [1, %d]", index, st.Emit.Agent, agents)
		}
	case st.Tick != nil:
		if st.Tick.Motif == "" {
			return fmt.Errorf("steps[%d].tick: motif is required", index)
		}
		if st.Tick.Agent == "" {
			st.Tick.Agent = "external"
		}
		if st.Tick.Stage == "" {
			st.Tick.Stage = tick.StageSeed
		}
	case st.Cycle < 0:
		return fmt.Errorf("steps[%d]: cycle must be positive", index)
	case st.Gate != "":
		if st.Gate != GateSuccess && st.Gate != GateFailure {
			return fmt.Errorf("steps[%d]: gate must be %q or %q, got %q", index, GateSuccess, GateFailure, st.Gate)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertOutcomes:
		if a.Motif == "" || len(a.Outcomes) == 0 {
			return fmt.Errorf("assertions[%d]: motif and outcomes are required for outcomes", index)
		}
	case AssertOutcomeCount:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for outcome_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for outcome_count", index)
		}
	case AssertTier:
		if a.Motif == "" || a.Tier == "" {
			return fmt.Errorf("assertions[%d]: motif and tier are required for tier", index)
		}
	case AssertWeight:
		if a.Motif == "" || a.Value == nil {
			return fmt.Errorf("assertions[%d]: motif and value are required for weight", index)
		}
	case AssertHistogram:
		if a.Motif == "" {
			return fmt.Errorf("assertions[%d]: motif is required for histogram", index)
		}
	case AssertBackoff:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for backoff", index)
		}
	case AssertDyad:
		if len(a.Members) == 0 {
			return fmt.Errorf("assertions[%d]: members are required for dyad", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
