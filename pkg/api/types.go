package api

import "time"

// v0 contains public types shared by the runner, the journal and the CLI.

// Dispatch is one journaled task of a run.
type Dispatch struct {
	RunID        string         `json:"run_id" yaml:"run_id"`
	TaskID       string         `json:"task_id" yaml:"task_id"`
	Lane         int            `json:"lane" yaml:"lane"`
	Replica      int            `json:"replica" yaml:"replica"`
	Kind         string         `json:"kind" yaml:"kind"`
	Specs        []string       `json:"specs" yaml:"specs"`
	Capabilities map[string]any `json:"capabilities" yaml:"capabilities"`
	Status       DispatchStatus `json:"status" yaml:"status"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
	DispatchedAt time.Time      `json:"dispatched_at" yaml:"dispatched_at"`
	ReleasedAt   *time.Time     `json:"released_at,omitempty" yaml:"released_at,omitempty"`
}

// Duration is the time the task held its slot, or zero while it still runs.
func (d Dispatch) Duration() time.Duration {
	if d.ReleasedAt == nil {
		return 0
	}
	return d.ReleasedAt.Sub(d.DispatchedAt)
}

type DispatchStatus string

const (
	DispatchRunning   DispatchStatus = "running"
	DispatchSucceeded DispatchStatus = "succeeded"
	DispatchFailed    DispatchStatus = "failed"
)

// RunSummary aggregates the dispatches of one run.
type RunSummary struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Tasks     int       `json:"tasks" yaml:"tasks"`
	Failed    int       `json:"failed" yaml:"failed"`
}
