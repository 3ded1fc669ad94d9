package statestore

import "time"

// TaskStatus is the status variant of a Task Result Snapshot.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusDisabled  TaskStatus = "disabled"
)

// TaskResult is the Task Result Snapshot embedded inside a Task as
// last_result.
type TaskResult struct {
	TaskID      string     `json:"task_id"`
	Status      TaskStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Output      string     `json:"output"`
}

// maxErrorLength caps the error string stored in a TaskResult.
const maxErrorLength = 2000

// TruncateError caps err to maxErrorLength, appending a marker if cut.
func TruncateError(err string) string {
	if len(err) <= maxErrorLength {
		return err
	}
	return err[:maxErrorLength] + "...(truncated)"
}

// Task is a Scheduled Task: identity plus the scheduling/execution
// attributes the scheduler and executor mutate.
type Task struct {
	ID                    string
	Name                  string
	CronExpr              string
	Subreddits            []string
	Enabled               bool
	MaxPostsPerSubreddit  int
	RetryCount            int
	RetryDelaySeconds     int
	TimeoutSeconds        int
	CreatedAt             time.Time
	LastRun               *time.Time
	NextRun               *time.Time
	LastResult            *TaskResult
}

// Validate enforces the Scheduled Task invariants from spec.md §3: name
// non-empty; subreddits non-empty when enabled; positive post cap,
// timeout, retry delay; non-negative retry count. Cron syntax is
// validated separately by the caller (cronexpr.Validate), since
// validating it here would import cronexpr into every caller that only
// needs the data invariants.
func (t *Task) Validate() error {
	if t.Name == "" {
		return errInvalid("name", "must be non-empty")
	}
	if t.Enabled && len(t.Subreddits) == 0 {
		return errInvalid("subreddits", "must be non-empty when task is enabled")
	}
	if t.MaxPostsPerSubreddit <= 0 {
		return errInvalid("max_posts_per_subreddit", "must be positive")
	}
	if t.TimeoutSeconds <= 0 {
		return errInvalid("timeout_seconds", "must be positive")
	}
	if t.RetryDelaySeconds <= 0 {
		return errInvalid("retry_delay_seconds", "must be positive")
	}
	if t.RetryCount < 0 {
		return errInvalid("retry_count", "must be non-negative")
	}
	return nil
}

// DownloadRecord is a Download Record row.
type DownloadRecord struct {
	RowID        int64
	PostID       string
	PostURL      string
	Subreddit    string
	Title        string
	Author       string
	DownloadedAt time.Time
	FilePath     string
	TaskID       *string
}

// IntegrityReport is the structured report returned by IntegrityCheck.
type IntegrityReport struct {
	OK                  bool
	ForeignKeyViolations []string
	OrphanedRows        int
}

// Stats is the statistics snapshot described in spec.md §4.2.
type Stats struct {
	TotalTasks      int
	EnabledTasks    int
	DisabledTasks   int
	TotalDownloads  int
	UniqueSubreddits int
	UniquePosts     int
	Recent7Days     int
	DBSizeBytes     int64
}
