package jobs

import (
	"time"

	"github.com/jacentio/kvlens/audit"
	"github.com/jacentio/kvlens/value"
)

// State is the lifecycle state of a run.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
	StateAborted  State = "aborted"
)

// Report summarizes a finished run.
type Report struct {
	ID    string     `json:"id"`
	Kind  audit.Kind `json:"kind"`
	State State      `json:"state"`

	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`

	// Total is the number of items the run set out to process, or -1 when
	// the run scanned a range of unknown size.
	Total int64 `json:"total"`

	// PercentComplete is Processed/Total rounded, 0 when nothing was
	// processed and -1 when Total is unknown.
	PercentComplete int `json:"percentComplete"`

	ReadUnits  int64 `json:"readUnits"`
	WriteUnits int64 `json:"writeUnits"`

	// AuditKey is the key of the run's audit record.
	AuditKey string `json:"auditKey,omitempty"`

	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// Processed counts items attempted, whether they succeeded or failed.
func (r Report) Processed() int64 {
	return r.Succeeded + r.Failed
}

// Percent renders PercentComplete, e.g. "42%" or "unknown".
func (r Report) Percent() string {
	return value.Percent(r.Processed(), r.Total)
}
