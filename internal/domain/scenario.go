package domain

import "time"

// Step events that only the simulator understands.
const (
	// StepDropStream closes every open stream of the job cleanly.
	StepDropStream EventKind = "drop_stream"
)

// Scenario scripts one simulated job.
type Scenario struct {
	Name  string         `yaml:"name"`
	Kind  JobKind        `yaml:"kind"`
	Tasks []Task         `yaml:"tasks"`
	Steps []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is one scripted backend event. Delay is waited before the
// step is applied.
type ScenarioStep struct {
	Delay    time.Duration `yaml:"delay"`
	Event    EventKind     `yaml:"event"`
	Task     string        `yaml:"task,omitempty"`
	Progress *float64      `yaml:"progress,omitempty"`
	Message  string        `yaml:"message,omitempty"`
	Error    string        `yaml:"error,omitempty"`
	Result   JSONB         `yaml:"result,omitempty"`
}
