package models

import "time"

// SyncLogSummary is the cheap per-batch aggregate record: one row per queue
// batch, enough for monitoring without touching the detailed log.
type SyncLogSummary struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	ProcessorID string    `gorm:"size:64" json:"processor_id"`
	Pulled      int       `gorm:"not null" json:"pulled"`
	Succeeded   int       `gorm:"not null" json:"succeeded"`
	Failed      int       `gorm:"not null" json:"failed"`
	Skipped     int       `gorm:"not null" json:"skipped"`
	ElapsedMs   int64     `gorm:"not null" json:"elapsed_ms"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// SyncLogDetail is the expensive per-failure forensic record, written only
// when an event attempt fails.
type SyncLogDetail struct {
	ID          uint      `gorm:"primary_key" json:"id"`
	EventID     uint      `gorm:"index;not null" json:"event_id"`
	TargetRowID int       `gorm:"index" json:"target_row_id"`
	Error       string    `gorm:"type:text" json:"error"`
	DurationMs  int64     `json:"duration_ms"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
