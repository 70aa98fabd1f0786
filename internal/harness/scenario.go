package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mercury/internal/mercury"
	"github.com/roach88/mercury/internal/notebook"
)

// DefaultPath is the notebook path used when a scenario names none.
const DefaultPath = "scenario.ipynb"

// Scenario defines one end-to-end dashboard scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Path is the notebook path recorded in the trace.
	Path string `yaml:"path,omitempty"`

	// Metadata is the notebook's mercury metadata.
	Metadata MetadataSpec `yaml:"metadata,omitempty"`

	// Execution scripts the executor.
	Execution ExecutionSpec `yaml:"execution,omitempty"`

	// Cells is the initial notebook.
	Cells []CellSpec `yaml:"cells"`

	// Steps run in order, one event each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// MetadataSpec mirrors notebook.Metadata.
type MetadataSpec struct {
	Title     string `yaml:"title,omitempty"`
	ShowCode  bool   `yaml:"show_code,omitempty"`
	AutoRerun *bool  `yaml:"auto_rerun,omitempty"`
}

// ExecutionSpec scripts how cells execute.
type ExecutionSpec struct {
	// Deferred holds every execution until a complete step finishes it.
	Deferred bool `yaml:"deferred,omitempty"`

	// Reject lists cells whose execution request fails.
	Reject []string `yaml:"reject,omitempty"`
}

// CellSpec is one notebook cell.
type CellSpec struct {
	ID      string        `yaml:"id"`
	Kind    notebook.Kind `yaml:"kind,omitempty"`
	Source  string        `yaml:"source,omitempty"`
	Outputs []OutputSpec  `yaml:"outputs,omitempty"`
}

// OutputSpec is one output. Exactly one field is set.
type OutputSpec struct {
	// Control emits the reserved MIME type with this payload.
	Control *ControlSpec `yaml:"control,omitempty"`

	// Raw emits the reserved MIME type with a verbatim payload, used for
	// malformed payloads.
	Raw string `yaml:"raw,omitempty"`

	// Stream emits stdout text.
	Stream string `yaml:"stream,omitempty"`
}

// ControlSpec is a reserved payload.
type ControlSpec struct {
	ModelID  string `yaml:"model_id"`
	Position string `yaml:"position,omitempty"`
	Widget   string `yaml:"widget,omitempty"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	BulkRun      *BulkRunStep      `yaml:"bulk_run,omitempty"`
	Kernel       *KernelStep       `yaml:"kernel,omitempty"`
	Status       *StatusStep       `yaml:"status,omitempty"`
	AddOutput    *AddOutputStep    `yaml:"add_output,omitempty"`
	RemoveOutput *RemoveOutputStep `yaml:"remove_output,omitempty"`
	InsertCell   *InsertCellStep   `yaml:"insert_cell,omitempty"`
	RemoveCell   *RemoveCellStep   `yaml:"remove_cell,omitempty"`
	MoveCell     *MoveCellStep     `yaml:"move_cell,omitempty"`
	Complete     *CompleteStep     `yaml:"complete,omitempty"`
	Metadata     *MetadataSpec     `yaml:"metadata,omitempty"`
}

// BulkRunStep starts the bulk run.
type BulkRunStep struct{}

// KernelStep feeds one kernel message to the interpreter.
type KernelStep struct {
	Direction string `yaml:"direction"`
	Channel   string `yaml:"channel,omitempty"`
	Type      string `yaml:"type"`
	MsgID     string `yaml:"msg_id,omitempty"`
	Parent    string `yaml:"parent,omitempty"`
	CommID    string `yaml:"comm_id,omitempty"`
	Method    string `yaml:"method,omitempty"`
	State     string `yaml:"state,omitempty"`
}

// StatusStep changes the scripted session's status.
type StatusStep struct {
	Connection string `yaml:"connection,omitempty"`
	Kernel     string `yaml:"kernel,omitempty"`
}

// AddOutputStep appends an output to a cell.
type AddOutputStep struct {
	Cell   string     `yaml:"cell"`
	Output OutputSpec `yaml:"output"`
}

// RemoveOutputStep removes one output, or all of them when Index is nil.
type RemoveOutputStep struct {
	Cell  string `yaml:"cell"`
	Index *int   `yaml:"index,omitempty"`
}

// InsertCellStep inserts a cell at Index.
type InsertCellStep struct {
	Index int      `yaml:"index"`
	Cell  CellSpec `yaml:"cell"`
}

// RemoveCellStep removes a cell.
type RemoveCellStep struct {
	Cell string `yaml:"cell"`
}

// MoveCellStep moves a cell to index To.
type MoveCellStep struct {
	Cell string `yaml:"cell"`
	To   int    `yaml:"to"`
}

// CompleteStep finishes held executions: the oldest one of Cell, or all
// of them when Cell is empty.
type CompleteStep struct {
	Cell string `yaml:"cell,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Cells lists cell ids (executed, not_executed, region_order). For
	// executed and not_executed an empty list means the document's
	// executed flag.
	Cells []string `yaml:"cells,omitempty"`

	// Region names the region for region_order.
	Region string `yaml:"region,omitempty"`

	// Count is the expected number for pending_count and binding_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertExecuted     = "executed"
	AssertNotExecuted  = "not_executed"
	AssertRegionOrder  = "region_order"
	AssertPendingCount = "pending_count"
	AssertBindingCount = "binding_count"
	AssertNoticeShown  = "notice_shown"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is missing required fields.
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
	if scenario.Path == "" {
		scenario.Path = DefaultPath
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
	if len(s.Cells) == 0 {
		return fmt.Errorf("cells list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := map[string]bool{}
	for i, c := range s.Cells {
		if err := validateCell(c); err != nil {
			return fmt.Errorf("cells[%d]: %w", i, err)
		}
		if seen[c.ID] {
			return fmt.Errorf("cells[%d]: duplicate id %q", i, c.ID)
		}
		seen[c.ID] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateCell(c CellSpec) error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	switch c.Kind {
	case "", notebook.KindCode, notebook.KindMarkdown, notebook.KindRaw:
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	if len(c.Outputs) > 0 && c.Kind != "" && c.Kind != notebook.KindCode {
		return fmt.Errorf("only code cells have outputs")
	}
	for i, o := range c.Outputs {
		if err := validateOutput(o); err != nil {
			return fmt.Errorf("outputs[%d]: %w", i, err)
		}
	}
	return nil
}

func validateOutput(o OutputSpec) error {
	set := 0
	if o.Control != nil {
		set++
		if o.Control.ModelID == "" {
			return fmt.Errorf("control: model_id is required")
		}
	}
	if o.Raw != "" {
		set++
	}
	if o.Stream != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of control, raw, stream is required")
	}
	return nil
}

func validateStep(step Step) error {
	set := 0
	for _, present := range []bool{
		step.BulkRun != nil, step.Kernel != nil, step.Status != nil,
		step.AddOutput != nil, step.RemoveOutput != nil,
		step.InsertCell != nil, step.RemoveCell != nil, step.MoveCell != nil,
		step.Complete != nil, step.Metadata != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action is required, got %d", set)
	}

	switch {
	case step.Kernel != nil:
		if step.Kernel.Direction != "send" && step.Kernel.Direction != "recv" {
			return fmt.Errorf("kernel: direction must be send or recv")
		}
		if step.Kernel.Type == "" {
			return fmt.Errorf("kernel: type is required")
		}
	case step.AddOutput != nil:
		if step.AddOutput.Cell == "" {
			return fmt.Errorf("add_output: cell is required")
		}
		return validateOutput(step.AddOutput.Output)
	case step.RemoveOutput != nil && step.RemoveOutput.Cell == "":
		return fmt.Errorf("remove_output: cell is required")
	case step.InsertCell != nil:
		return validateCell(step.InsertCell.Cell)
	case step.RemoveCell != nil && step.RemoveCell.Cell == "":
		return fmt.Errorf("remove_cell: cell is required")
	case step.MoveCell != nil && step.MoveCell.Cell == "":
		return fmt.Errorf("move_cell: cell is required")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertExecuted, AssertNotExecuted, AssertNoticeShown:
	case AssertRegionOrder:
		if !mercury.Region(a.Region).Valid() {
			return fmt.Errorf("assertions[%d]: unknown region %q for region_order", index, a.Region)
		}
	case AssertPendingCount, AssertBindingCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
