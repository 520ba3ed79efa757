package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Mapping channels. Historically the real-time and batch paths each owned a
// mapping table and drifted apart; both are now views over this one table,
// keyed by channel, and diagnostics reports any per-field divergence.
const (
	MappingChannelRealtime = "realtime"
	MappingChannelBatch    = "batch"
)

// FieldMapping maps one source field to one target field within a channel.
// At most one active mapping may exist per (channel, target_field); a
// duplicate is a diagnosed error condition, not a tolerated state.
type FieldMapping struct {
	ID             uint    `gorm:"primary_key" json:"id"`
	Channel        string  `gorm:"size:20;not null;index:idx_field_mappings_channel" json:"channel"`
	SourceField    string  `gorm:"size:128;not null" json:"source_field"`
	TargetField    string  `gorm:"size:128;not null;index" json:"target_field"`
	SourceType     string  `gorm:"size:64;not null" json:"source_type"`
	TargetType     string  `gorm:"size:64;not null" json:"target_type"`
	Transformation *string `gorm:"size:32" json:"transformation"`
	Priority       int     `gorm:"not null;default:0" json:"priority"`
	Active         bool    `gorm:"not null;default:true;index:idx_field_mappings_channel" json:"active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetActiveMappings returns the active mappings of one channel ordered by
// priority then id, so shaping is deterministic.
func GetActiveMappings(ctx context.Context, db *gorm.DB, channel string) ([]FieldMapping, error) {
	var mappings []FieldMapping
	err := db.WithContext(ctx).
		Where("channel = ? AND active = ?", channel, true).
		Order("priority DESC, id ASC").
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}
