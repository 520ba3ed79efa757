package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	SyncSystemLocal  = "local"
	SyncSystemMirror = "mirror"
	SyncSystemCRM    = "crm"
)

const (
	ChangeOperationInsert = "insert"
	ChangeOperationUpdate = "update"
	ChangeOperationDelete = "delete"
)

const (
	ChangeEventStatusPending    = "pending"
	ChangeEventStatusProcessing = "processing"
	ChangeEventStatusCompleted  = "completed"
	ChangeEventStatusFailed     = "failed"
)

// ChangeEvent is one durable queue item: a full field snapshot of a local
// mutation, applied to the remote mirror by the queue processor. Events are
// never deleted, only status-transitioned, so the queue doubles as an audit
// trail.
type ChangeEvent struct {
	ID           uint   `gorm:"primary_key" json:"id"`
	TargetTable  string `gorm:"size:64;not null;index" json:"target_table"`
	TargetRowID  int    `gorm:"not null;index" json:"target_row_id"`
	Operation    string `gorm:"size:10;not null" json:"operation"`
	PayloadJSON  []byte `gorm:"type:json" json:"payload"`
	OriginSystem string `gorm:"size:20;not null" json:"origin_system"`

	// ChangedAt is the logical timestamp of the local mutation. It drives
	// last-write-wins conflict resolution; an event without it is a
	// configuration error, never defaulted to "now".
	ChangedAt time.Time `gorm:"not null" json:"changed_at"`

	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	Status        string     `gorm:"size:20;not null;index:idx_change_events_pull,priority:1" json:"status"`
	NextAttemptAt *time.Time `json:"next_attempt_at"`
	LastError     *string    `gorm:"type:text" json:"last_error"`
	SkipReason    *string    `gorm:"size:255" json:"skip_reason"`

	// Claim bookkeeping. A processing row whose locked_at has aged past the
	// processor's lock timeout is treated as orphaned and re-pulled.
	LockedAt *time.Time `gorm:"index" json:"locked_at"`
	LockedBy *string    `gorm:"size:64" json:"locked_by"`

	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_change_events_pull,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueChangeEvent is the producer contract: every local mutation to a
// synchronized table appends one pending event with the full current field
// snapshot. Self-sync (origin == destination) is still enqueued and
// short-circuited by the processor, so the audit trail stays complete.
func EnqueueChangeEvent(ctx context.Context, db *gorm.DB, targetTable string, targetRowID int, operation string, payload map[string]interface{}, origin string, changedAt time.Time) (*ChangeEvent, error) {
	if targetTable == "" || targetRowID == 0 {
		return nil, errors.New("target table and row id are required")
	}
	switch operation {
	case ChangeOperationInsert, ChangeOperationUpdate, ChangeOperationDelete:
	default:
		return nil, errors.New("unknown change operation: " + operation)
	}
	if changedAt.IsZero() {
		return nil, errors.New("changed_at is required")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	event := ChangeEvent{
		TargetTable:  targetTable,
		TargetRowID:  targetRowID,
		Operation:    operation,
		PayloadJSON:  payloadJSON,
		OriginSystem: origin,
		ChangedAt:    changedAt,
		Status:       ChangeEventStatusPending,
	}
	if err := db.WithContext(ctx).Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}
