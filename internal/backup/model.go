package backup

import "time"

// Kind selects what a backup captures.
type Kind string

const (
	KindFull         Kind = "full"
	KindIncremental  Kind = "incremental"
	KindDifferential Kind = "differential"
	KindSchemaOnly   Kind = "schema_only"
	KindDataOnly     Kind = "data_only"
)

// Valid reports whether k is a known backup kind.
func (k Kind) Valid() bool {
	switch k {
	case KindFull, KindIncremental, KindDifferential, KindSchemaOnly, KindDataOnly:
		return true
	}
	return false
}

// Status is the lifecycle state of one backup run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Info describes one backup artifact. The on-disk catalog of Info records
// is the source of truth across process restarts.
type Info struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Kind      Kind          `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
	SizeBytes int64         `json:"size_bytes"`
	Path      string        `json:"path"`
	Status    Status        `json:"status"`
	Tables    []string      `json:"tables"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Schedule is a recurring backup job description. RunScheduledDue advances
// NextRun regardless of whether the individual backup succeeds.
type Schedule struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Tables   []string      `json:"tables,omitempty"`
	Interval time.Duration `json:"interval"`
	NextRun  time.Time     `json:"next_run"`
}
