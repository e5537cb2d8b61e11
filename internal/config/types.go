package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that unmarshals from JSON strings like "500ms"
// as well as from nanosecond numbers.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(v)
		return nil
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", v, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration must be a string or number, got %T", raw)
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PipelineConfig describes a pipeline the demo host runs: queue settings and
// the tasks to submit.
type PipelineConfig struct {
	Queue QueueConfig  `json:"queue"`
	Tasks []TaskConfig `json:"tasks"`
}

// QueueConfig holds queue-level settings.
type QueueConfig struct {
	MaxConcurrent int `json:"max_concurrent"`
}

// TaskConfig describes one task in a pipeline.
type TaskConfig struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`               // "echo" or "delay"
	Message   string   `json:"message,omitempty"`  // echo payload
	Duration  Duration `json:"duration,omitempty"` // delay length, or echo work time
	DependsOn []string `json:"depends_on,omitempty"`
	Exclusive []string `json:"exclusive,omitempty"` // exclusivity categories
}

// DefaultConfig returns the built-in pipeline: no tasks, four worker slots.
func DefaultConfig() *PipelineConfig {
	return &PipelineConfig{
		Queue: QueueConfig{MaxConcurrent: 4},
	}
}

// Validate checks the pipeline for structural problems: unnamed or duplicate
// tasks, unknown kinds and dependency references to tasks that don't exist.
func (c *PipelineConfig) Validate() error {
	if c.Queue.MaxConcurrent < 0 {
		return fmt.Errorf("queue.max_concurrent must not be negative, got %d", c.Queue.MaxConcurrent)
	}

	names := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d has no name", i)
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate task name %q", t.Name)
		}
		names[t.Name] = true

		switch t.Kind {
		case "echo", "delay":
		default:
			return fmt.Errorf("task %q: unknown kind %q", t.Name, t.Kind)
		}
	}

	for _, t := range c.Tasks {
		for _, dep := range t.DependsOn {
			if !names[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.Name, dep)
			}
		}
	}
	return nil
}
