package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/rram/internal/cells"
	"github.com/roach88/rram/internal/recipe"
)

// Scenario is one program-verify test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Settings is the settings directory, relative to the scenario file.
	Settings string `yaml:"settings"`

	// Polarity overrides the device polarity of the settings.
	Polarity string `yaml:"polarity,omitempty"`

	// MaxLen overrides the waveform buffer size of the settings.
	MaxLen int `yaml:"max_len,omitempty"`

	// Mode is READ, SET, RESET or FORM.
	Mode string `yaml:"mode"`

	Request Request    `yaml:"request"`
	Initial Initial    `yaml:"initial"`
	Script  []Response `yaml:"script,omitempty"`
	Fault   *Fault     `yaml:"fault,omitempty"`
	Expect  Expect     `yaml:"expect"`

	// OperationID is the fixed operation ID used in the trace.
	// If empty, defaults to "test-op-default".
	OperationID string `yaml:"operation_id,omitempty"`
}

// Request selects the cells of the operation.
type Request struct {
	Cells           []string `yaml:"cells,omitempty"`
	Wordlines       []string `yaml:"wordlines,omitempty"`
	Bitlines        []string `yaml:"bitlines,omitempty"`
	ExcludeBitlines []string `yaml:"exclude_bitlines,omitempty"`
	Averaged        bool     `yaml:"averaged,omitempty"`
}

// Initial sets the resistances the array starts with.
type Initial struct {
	Default float64            `yaml:"default"`
	Cells   map[string]float64 `yaml:"cells,omitempty"`
}

// Response rewrites cell resistances when a matching pulse is applied.
type Response struct {
	PW        int      `yaml:"pw"`
	Aggressor float64  `yaml:"aggressor"`
	Gate      *float64 `yaml:"vwl,omitempty"`
	Cells     []string `yaml:"cells,omitempty"`
	Res       float64  `yaml:"res"`
}

// Fault makes the array fail at one call.
type Fault struct {
	// Stage is "pulse" or "measure".
	Stage string `yaml:"stage"`
	// At is the 1-based call of the stage that fails.
	At int `yaml:"at"`
	// Timeout reports the failure as a trigger-sync timeout.
	Timeout bool `yaml:"timeout,omitempty"`
}

// Expect is what the operation must produce.
type Expect struct {
	State       string                `yaml:"state,omitempty"`
	Error       string                `yaml:"error,omitempty"`
	Iterations  *int                  `yaml:"iterations,omitempty"`
	Pulses      *int                  `yaml:"pulses,omitempty"`
	Cells       map[string]CellExpect `yaml:"cells,omitempty"`
	WorkingSets [][]string            `yaml:"working_sets,omitempty"`
}

// CellExpect is the expected outcome of one cell. Unset fields are not
// checked.
type CellExpect struct {
	Success *bool         `yaml:"success,omitempty"`
	Recipe  *RecipeExpect `yaml:"recipe,omitempty"`
	// NoRecipe expects the cell to carry no recipe.
	NoRecipe bool     `yaml:"no_recipe,omitempty"`
	Res      *float64 `yaml:"res,omitempty"`
}

// RecipeExpect is the expected converging recipe of a cell.
type RecipeExpect struct {
	PW        int      `yaml:"pw"`
	Aggressor float64  `yaml:"aggressor"`
	Gate      *float64 `yaml:"vwl,omitempty"`
}

// Error classes accepted by Expect.Error.
const (
	ErrorConfig    = "config_error"
	ErrorSelection = "selection_error"
	ErrorOverflow  = "overflow"
	ErrorHardware  = "hardware_fault"
	ErrorTimeout   = "sync_timeout"
)

// LoadScenario reads and parses a scenario YAML file. The settings path is
// resolved relative to the file.
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

	if scenario.Settings != "" && !filepath.IsAbs(scenario.Settings) {
		scenario.Settings = filepath.Join(filepath.Dir(path), scenario.Settings)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml/.yml file in dir, sorted by name. When
// filter is not empty only scenarios whose name contains it are returned.
func LoadScenarios(dir, filter string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		s, err := LoadScenario(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if filter != "" && !strings.Contains(s.Name, filter) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Settings == "" {
		return fmt.Errorf("settings is required")
	}
	if _, err := os.Stat(s.Settings); os.IsNotExist(err) {
		return fmt.Errorf("settings directory not found: %s", s.Settings)
	}

	if _, err := recipe.ParseMode(s.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}

	if s.MaxLen < 0 {
		return fmt.Errorf("max_len must not be negative")
	}
	if s.Initial.Default <= 0 {
		return fmt.Errorf("initial.default must be positive")
	}
	for name, r := range s.Initial.Cells {
		if _, err := cells.ParseCellID(name); err != nil {
			return fmt.Errorf("initial.cells: %w", err)
		}
		if r <= 0 {
			return fmt.Errorf("initial.cells[%s] must be positive", name)
		}
	}
	for _, name := range s.Request.Cells {
		if _, err := cells.ParseCellID(name); err != nil {
			return fmt.Errorf("request.cells: %w", err)
		}
	}

	for i, r := range s.Script {
		if r.PW <= 0 {
			return fmt.Errorf("script[%d]: pw is required", i)
		}
		if r.Res <= 0 {
			return fmt.Errorf("script[%d]: res must be positive", i)
		}
		for _, name := range r.Cells {
			if _, err := cells.ParseCellID(name); err != nil {
				return fmt.Errorf("script[%d]: %w", i, err)
			}
		}
	}

	if s.Fault != nil {
		if s.Fault.Stage != StagePulse && s.Fault.Stage != StageMeasure {
			return fmt.Errorf("fault.stage must be %q or %q, got %q", StagePulse, StageMeasure, s.Fault.Stage)
		}
		if s.Fault.At < 1 {
			return fmt.Errorf("fault.at must be at least 1")
		}
	}

	return validateExpect(&s.Expect)
}

// Fault stages.
const (
	StagePulse   = "pulse"
	StageMeasure = "measure"
)

func validateExpect(e *Expect) error {
	if (e.State == "") == (e.Error == "") {
		return fmt.Errorf("expect needs exactly one of state or error")
	}
	switch e.State {
	case "", "DONE", "PARTIAL":
	default:
		return fmt.Errorf("expect.state must be DONE or PARTIAL, got %q", e.State)
	}
	switch e.Error {
	case "", ErrorConfig, ErrorSelection, ErrorOverflow, ErrorHardware, ErrorTimeout:
	default:
		return fmt.Errorf("expect.error: unknown error class %q", e.Error)
	}
	for name, c := range e.Cells {
		if _, err := cells.ParseCellID(name); err != nil {
			return fmt.Errorf("expect.cells: %w", err)
		}
		if c.NoRecipe && c.Recipe != nil {
			return fmt.Errorf("expect.cells[%s]: recipe and no_recipe are exclusive", name)
		}
	}
	return nil
}
