package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RunOutcome is the final state of an ingestion run.
type RunOutcome string

const (
	RunRunning RunOutcome = "running"
	// RunSuccess means the load transaction committed cleanly.
	RunSuccess RunOutcome = "success"
	// RunPartial means the transaction committed but post-commit
	// row-count anomalies were recorded for operator review.
	RunPartial RunOutcome = "partial"
	RunFailed  RunOutcome = "failed"
)

// Run is one ingestion attempt for one environment. Rows are created
// at run start, finalized once at run end, and never mutated after
// that (append-only audit trail). Owned exclusively by the runner.
type Run struct {
	ID          snowflake.ID      `json:"id" gorm:"primaryKey"`
	Environment string            `json:"environment" gorm:"type:text;not null"`
	ManifestURL string            `json:"manifest_url" gorm:"type:text"`
	StartedAt   time.Time         `json:"started_at" gorm:"not null"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Outcome     RunOutcome        `json:"outcome" gorm:"type:text;not null"`
	Error       *string           `json:"error,omitempty" gorm:"type:text"`
	RowsBefore  datatypes.JSONMap `json:"rows_before,omitempty"`
	RowsAfter   datatypes.JSONMap `json:"rows_after,omitempty"`
}

func (Run) TableName() string { return "ingestion_runs" }

func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FileStatus tracks processing of one submitted source file.
type FileStatus string

const (
	FileStatusPending FileStatus = "pending"
	FileStatusSuccess FileStatus = "success"
	FileStatusFailure FileStatus = "failure"
)

// File is the audit record for one submitted manifest entry.
type File struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	URL        string       `json:"url" gorm:"type:text;not null"`
	Category   FileCategory `json:"category" gorm:"type:text;not null;default:unknown"`
	Checksum   *string      `json:"checksum,omitempty" gorm:"type:text"`
	ByteSize   *int64       `json:"byte_size,omitempty"`
	Status     FileStatus   `json:"status" gorm:"type:text;not null;default:pending"`
	Error      *string      `json:"error,omitempty" gorm:"type:text"`
	RecordedAt time.Time    `json:"recorded_at" gorm:"not null"`
}

func (File) TableName() string { return "files" }

// Lock is the single-row mutex that serializes runs per environment.
// It lives in the database, not in process memory, because runs come
// from different process instances across invocations.
type Lock struct {
	Environment string     `gorm:"primaryKey"`
	Holder      string     `gorm:"type:text;not null"`
	AcquiredAt  time.Time  `gorm:"not null"`
	ReleasedAt  *time.Time `gorm:""`
}

func (Lock) TableName() string { return "ingestion_locks" }
