package models

import "time"

// Lead is the synchronized record. The dashboard owns the business fields;
// the sync pipeline owns external_id, raw_payload_json, last_synced_at and
// sync_origin.
type Lead struct {
	ID         int    `gorm:"primary_key" json:"id"`
	Name       string `gorm:"size:255;not null" json:"name"`
	Email      string `gorm:"size:255;index" json:"email"`
	Phone      string `gorm:"size:64" json:"phone"`
	Mobile     string `gorm:"size:64" json:"mobile"`
	Company    string `gorm:"size:255" json:"company"`
	Source     string `gorm:"size:100" json:"source"`
	Stage      string `gorm:"size:50;index" json:"stage"`
	Notes      string `gorm:"type:text" json:"notes"`
	ExternalId string `gorm:"size:128;index" json:"external_id"`

	// RawPayloadJSON keeps the last raw upstream payload so reprocess jobs can
	// re-derive field values without calling the CRM again.
	RawPayloadJSON []byte `gorm:"type:json" json:"raw_payload"`

	// LastSyncedAt/SyncOrigin tag the last successful sync so a change echoed
	// back from the destination system is recognized and not re-enqueued.
	LastSyncedAt *time.Time `json:"last_synced_at"`
	SyncOrigin   string     `gorm:"size:20" json:"sync_origin"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
