package task

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether a status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ItemOutcome records how one item's fetch ended.
type ItemOutcome struct {
	Succeeded bool   `json:"succeeded"`
	Bytes     int64  `json:"bytes"`
	Error     string `json:"error,omitempty"`
}

// Snapshot is an immutable point-in-time view of a task, published whole on
// every state change. CompletedCount never decreases across snapshots of the
// same task.
type Snapshot struct {
	ID             string                 `json:"id"`
	Status         Status                 `json:"status"`
	CompletedCount int                    `json:"completed_count"`
	TotalCount     int                    `json:"total_count"`
	Progress       float64                `json:"progress"`
	Outcomes       map[string]ItemOutcome `json:"outcomes"`
	Cancelled      bool                   `json:"cancelled,omitempty"`
	Err            string                 `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Options configures a Manager.
type Options struct {
	DataDir          string
	FetchConcurrency int
	FetchAttempts    int
	RetryBaseDelay   time.Duration
}

const (
	defaultFetchConcurrency = 4
	defaultFetchAttempts    = 3
	defaultRetryBaseDelay   = 500 * time.Millisecond
)
