package models

import "time"

// RunStatus is the outcome of a harness run or one of its phases
type RunStatus string

// RunStatus constants
const (
	RunStatusRunning RunStatus = "running"
	RunStatusPassed  RunStatus = "passed"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// PhaseResult records the outcome of one scenario phase
type PhaseResult struct {
	Name     string        `json:"name"`
	Status   RunStatus     `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// RunRecord is the persisted history of one harness run
type RunRecord struct {
	ID          string        `json:"id"`
	Workflow    string        `json:"workflow" badgerhold:"index"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  time.Time     `json:"finished_at"`
	Status      RunStatus     `json:"status"`
	FailedPhase string        `json:"failed_phase,omitempty"`
	Error       string        `json:"error,omitempty"`
	ResultsDir  string        `json:"results_dir"`
	Phases      []PhaseResult `json:"phases"`
}

// Duration returns how long the run took, or zero while it is still running
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finish stamps the end time and derives the status from err
func (r *RunRecord) Finish(err error) {
	r.FinishedAt = time.Now()
	if err != nil {
		r.Status = RunStatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = RunStatusPassed
}
