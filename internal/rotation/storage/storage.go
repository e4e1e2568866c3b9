package storage

import (
	"errors"
	"time"
)

// ErrNoStatus is returned by GetStatus when the account has never been run.
var ErrNoStatus = errors.New("no rotation status recorded")

// Storage defines the interface for run status and history storage
type Storage interface {
	// SaveStatus saves the current rotation status for an account
	SaveStatus(status *RotationStatus) error

	// GetStatus retrieves the current rotation status for an account
	GetStatus(account string) (*RotationStatus, error)

	// SaveHistory saves a run history entry
	SaveHistory(entry *HistoryEntry) error

	// GetHistory retrieves run history for an account, newest first
	GetHistory(account string, limit int) ([]HistoryEntry, error)

	// CleanupOldEntries removes history entries older than the specified duration
	CleanupOldEntries(olderThan time.Duration) error
}

// RotationStatus is the rolled-up state of one account across runs.
type RotationStatus struct {
	Account        string     `json:"account" yaml:"account"`
	Backend        string     `json:"backend" yaml:"backend"`
	Schema         string     `json:"schema,omitempty" yaml:"schema,omitempty"`
	LastRun        time.Time  `json:"last_run" yaml:"last_run"`
	LastRotation   *time.Time `json:"last_rotation,omitempty" yaml:"last_rotation,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	LastResult     string     `json:"last_result" yaml:"last_result"`
	LastDecision   string     `json:"last_decision,omitempty" yaml:"last_decision,omitempty"`
	LastErrorKind  string     `json:"last_error_kind,omitempty" yaml:"last_error_kind,omitempty"`
	LastError      string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	RunCount       int        `json:"run_count" yaml:"run_count"`
	RotationCount  int        `json:"rotation_count" yaml:"rotation_count"`
	FailureCount   int        `json:"failure_count" yaml:"failure_count"`
	PendingPublish bool       `json:"pending_publish,omitempty" yaml:"pending_publish,omitempty"`
}

// HistoryEntry represents a single engine run
type HistoryEntry struct {
	ID        string            `json:"id" yaml:"id"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
	Account   string            `json:"account" yaml:"account"`
	Backend   string            `json:"backend" yaml:"backend"`
	Action    string            `json:"action" yaml:"action"`     // rotate, retrieve
	Decision  string            `json:"decision" yaml:"decision"` // NotDue, DueNormal, DueForced, FailedPrecondition
	Result    string            `json:"result" yaml:"result"`     // Skipped, Rotated, Retrieved, Failed
	ErrorKind string            `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error     string            `json:"error,omitempty" yaml:"error,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Duration  time.Duration     `json:"duration" yaml:"duration"`
	User      string            `json:"user,omitempty" yaml:"user,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
