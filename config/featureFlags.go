package config

import (
	"os"
	"strings"
)

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// CreateSyncTopics makes the publishers create missing Pub/Sub topics before
// publishing. Dev/staging convenience; keep off in production where topics are
// provisioned by infra.
//
// Set via env:
// - LEADSYNC_CREATE_TOPICS=true
func CreateSyncTopics() bool {
	return envBool("LEADSYNC_CREATE_TOPICS", false)
}

// ReconcileOnMissingColumn lets the queue processor invoke the schema
// reconciler (push direction) when an upsert fails on an unknown mirror column,
// instead of just retrying.
//
// Set via env:
// - LEADSYNC_RECONCILE_ON_MISSING_COLUMN=true
func ReconcileOnMissingColumn() bool {
	return envBool("LEADSYNC_RECONCILE_ON_MISSING_COLUMN", true)
}

// ChainJobTriggers makes the job Pub/Sub handler republish a process trigger
// while a job still has batches left, so a single operator action drives the
// job to a terminal state one batch at a time.
//
// Set via env:
// - LEADSYNC_CHAIN_JOB_TRIGGERS=true
func ChainJobTriggers() bool {
	return envBool("LEADSYNC_CHAIN_JOB_TRIGGERS", true)
}

// DefaultPhoneRegion is the ISO region used when normalizing lead phone
// numbers that carry no country prefix.
//
// Set via env:
// - LEADSYNC_PHONE_REGION=BR
func DefaultPhoneRegion() string {
	v := strings.ToUpper(strings.TrimSpace(os.Getenv("LEADSYNC_PHONE_REGION")))
	if v == "" {
		return "BR"
	}
	return v
}
