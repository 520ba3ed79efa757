package models

import (
	"log"

	"bitbucket.org/mmdatafocus/leads_backend/config"
)

// MigrateTable runs AutoMigrate for every model owned by this service.
// The mirror database is NOT migrated here; its lead table is shaped by the
// schema reconciler, additively, from the column catalogs.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Printf("migrate skipped: database not connected")
		return
	}
	err := db.AutoMigrate(
		&Lead{},
		&ChangeEvent{},
		&SyncJob{},
		&FieldMapping{},
		&SyncLogSummary{},
		&SyncLogDetail{},
	)
	if err != nil {
		log.Printf("auto-migrate failed: %v", err)
	}
}
