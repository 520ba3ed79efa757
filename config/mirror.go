package config

import (
	"log"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var (
	mirrorDB *gorm.DB
)

// GetMirrorDB returns the remote mirror database handle. The mirror is a second
// MySQL instance kept consistent with the primary by the sync pipeline; it is
// never written outside mirrorsync / schemasync.
func GetMirrorDB() *gorm.DB {
	return mirrorDB
}

// ConnectMirrorWithRetry connects the remote mirror database and sets the
// global handle. Call this from main() AFTER the HTTP server is listening.
// Env: MIRROR_DB_USER / MIRROR_DB_PASSWORD / MIRROR_DB_HOST / MIRROR_DB_PORT / MIRROR_DB_NAME.
func ConnectMirrorWithRetry() {
	dsn := mysqlDSNFromEnv("MIRROR_DB")

	var attempt int
	for {
		attempt++
		var err error
		mirrorDB, err = gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			tunePool(mirrorDB)
			if pluginErr := mirrorDB.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("mirror db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			log.Printf("connected to mirror database (attempt=%d)", attempt)
			return
		}

		sleep := connectBackoff(attempt)
		log.Printf("failed to connect mirror database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		time.Sleep(sleep)
	}
}
