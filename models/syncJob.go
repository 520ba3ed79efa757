package models

import (
	"encoding/json"
	"time"
)

const (
	SyncJobKindResync    = "resync"
	SyncJobKindReprocess = "reprocess"
)

const (
	SyncJobStatusPending   = "pending"
	SyncJobStatusRunning   = "running"
	SyncJobStatusPaused    = "paused"
	SyncJobStatusCompleted = "completed"
	SyncJobStatusFailed    = "failed"
	SyncJobStatusCancelled = "cancelled"
)

// MaxJobErrorDetails bounds error_details_json; older entries are dropped
// first so a long-running job cannot grow the row without limit.
const MaxJobErrorDetails = 50

// SyncJob is a checkpointed batch job. Cursor plus status=running is the only
// durable progress marker: a crash between batches loses nothing, the next
// trigger re-reads the row and continues from cursor.
type SyncJob struct {
	ID     uint   `gorm:"primary_key" json:"id"`
	Kind   string `gorm:"size:20;not null;index" json:"kind"`
	Status string `gorm:"size:20;not null;index" json:"status"`

	TotalCount     int `gorm:"not null;default:0" json:"total_count"`
	ProcessedCount int `gorm:"not null;default:0" json:"processed_count"`
	UpdatedCount   int `gorm:"not null;default:0" json:"updated_count"`
	SkippedCount   int `gorm:"not null;default:0" json:"skipped_count"`
	ErrorCount     int `gorm:"not null;default:0" json:"error_count"`

	BatchSize int `gorm:"not null" json:"batch_size"`

	// Cursor is the last processed lead id; batches always select id > cursor,
	// so progress is strictly forward-only across invocations.
	Cursor int `gorm:"not null;default:0" json:"cursor"`

	// FilterJSON is immutable after creation; the same predicates drive both
	// the total_count computation and every batch fetch.
	FilterJSON []byte `gorm:"type:json" json:"filter_criteria"`

	ErrorDetailsJSON []byte `gorm:"type:json" json:"error_details"`

	TriggeredBy string     `gorm:"size:20" json:"triggered_by"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// JobErrorDetail is one captured per-record failure.
type JobErrorDetail struct {
	RowID     int       `json:"row_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (j *SyncJob) IsTerminal() bool {
	switch j.Status {
	case SyncJobStatusCompleted, SyncJobStatusFailed, SyncJobStatusCancelled:
		return true
	}
	return false
}

func DecodeJobErrorDetails(raw []byte) []JobErrorDetail {
	if len(raw) == 0 {
		return nil
	}
	var details []JobErrorDetail
	if err := json.Unmarshal(raw, &details); err != nil {
		return nil
	}
	return details
}

// AppendJobErrorDetail appends one failure, keeping only the most recent
// MaxJobErrorDetails entries.
func AppendJobErrorDetails(raw []byte, detail JobErrorDetail) []byte {
	details := DecodeJobErrorDetails(raw)
	details = append(details, detail)
	if len(details) > MaxJobErrorDetails {
		details = details[len(details)-MaxJobErrorDetails:]
	}
	b, _ := json.Marshal(details)
	return b
}
