package domain

import "time"

// RunStatus is the outcome of a source run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunNoop    RunStatus = "noop"
	RunError   RunStatus = "error"
)

// RunRecord is a historical record of one source run.
type RunRecord struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Stage      string    `json:"stage"` // "list" | "fetch"
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     RunStatus `json:"status"`
	Inventory  int       `json:"inventory"`
	NewIDs     int       `json:"newIds"`
	Fetched    int       `json:"fetched"`
	Failed     int       `json:"failed"`
	Rows       int       `json:"rows"`
	Error      string    `json:"error,omitempty"`
}

// RunStore persists run history.
type RunStore interface {
	CreateRun(r *RunRecord) error
	UpdateRun(r *RunRecord) error
	ListRuns(source string, limit int) ([]RunRecord, error)
}
