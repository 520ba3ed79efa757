package crmsync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/leads_backend/config"
	"bitbucket.org/mmdatafocus/leads_backend/models"
)

func seedBatchMapping(t *testing.T) {
	t.Helper()
	db := config.GetDB()
	mapping := models.FieldMapping{
		Channel:     models.MappingChannelBatch,
		SourceField: "status_field",
		TargetField: "stage",
		SourceType:  "varchar",
		TargetType:  "varchar",
		Active:      true,
	}
	if err := db.Create(&mapping).Error; err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	t.Cleanup(func() {
		db.Model(&models.FieldMapping{}).Where("id = ?", mapping.ID).Update("active", false)
	})
}

// A reprocess job over 120 leads with batch size 50 takes exactly three
// invocations: 50, 100, 120 processed, with more work signalled on the first
// two only. A fourth invocation is a terminal no-op.
func TestProcessJobCheckpointSequence(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()
	seedBatchMapping(t)

	source := fmt.Sprintf("checkpoint-seq-%d", time.Now().UnixNano())
	leads := make([]models.Lead, 0, 120)
	for i := 0; i < 120; i++ {
		leads = append(leads, models.Lead{
			Name:           fmt.Sprintf("Lead %d", i),
			Source:         source,
			RawPayloadJSON: []byte(`{"status_field":"warm"}`),
		})
	}
	if err := db.WithContext(ctx).Create(&leads).Error; err != nil {
		t.Fatalf("seed leads: %v", err)
	}

	e := &Engine{DB: db, Logger: config.GetLogger(), PhoneRegion: "BR"}
	job, err := e.CreateJob(ctx, models.SyncJobKindReprocess,
		[]byte(fmt.Sprintf(`{"source":%q}`, source)), 50, "test")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.TotalCount != 120 {
		t.Fatalf("total_count = %d, want 120", job.TotalCount)
	}

	steps := []struct {
		processed int
		hasMore   bool
	}{
		{50, true},
		{100, true},
		{120, false},
	}
	for i, step := range steps {
		prog, err := e.ProcessJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("ProcessJob call %d: %v", i+1, err)
		}
		if prog.ProcessedCount != step.processed {
			t.Fatalf("call %d: processed = %d, want %d", i+1, prog.ProcessedCount, step.processed)
		}
		if prog.HasMore != step.hasMore {
			t.Fatalf("call %d: has_more = %v, want %v", i+1, prog.HasMore, step.hasMore)
		}
	}

	prog, err := e.ProcessJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("extra ProcessJob: %v", err)
	}
	if prog.Status != models.SyncJobStatusCompleted || prog.ProcessedCount != 120 || prog.HasMore {
		t.Fatalf("terminal report = %+v", prog)
	}
	if prog.UpdatedCount != 120 || prog.ErrorCount != 0 {
		t.Fatalf("counters = %+v", prog)
	}
}

// cancelingFetcher cancels its own job on the first fetch, standing in for an
// operator cancel that lands while a batch is in flight.
type cancelingFetcher struct {
	engine    *Engine
	jobID     uint
	cancelled bool
}

func (f *cancelingFetcher) FetchLead(ctx context.Context, externalID string) (json.RawMessage, error) {
	if !f.cancelled {
		f.cancelled = true
		if _, err := f.engine.CancelJob(ctx, f.jobID); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(`{"status_field":"hot"}`), nil
}

// A cancel that lands mid-batch must stick: the batch in flight finishes but
// its checkpoint loses to the terminal state, and the job stays cancelled.
func TestProcessJobCancelMidBatchStaysCancelled(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	db := config.GetDB()
	seedBatchMapping(t)

	source := fmt.Sprintf("cancel-mid-%d", time.Now().UnixNano())
	for i := 0; i < 3; i++ {
		lead := models.Lead{
			Name:       fmt.Sprintf("Lead %d", i),
			Source:     source,
			ExternalId: fmt.Sprintf("%s-%d", source, i),
		}
		if err := db.WithContext(ctx).Create(&lead).Error; err != nil {
			t.Fatalf("seed lead: %v", err)
		}
	}

	e := &Engine{DB: db, Logger: config.GetLogger(), PhoneRegion: "BR"}
	job, err := e.CreateJob(ctx, models.SyncJobKindResync,
		[]byte(fmt.Sprintf(`{"source":%q}`, source)), 50, "test")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	e.fetcher = &cancelingFetcher{engine: e, jobID: job.ID}

	prog, err := e.ProcessJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}
	if prog.Status != models.SyncJobStatusCancelled || prog.HasMore {
		t.Fatalf("progress after mid-batch cancel = %+v", prog)
	}

	var reloaded models.SyncJob
	if err := db.WithContext(ctx).First(&reloaded, job.ID).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if reloaded.Status != models.SyncJobStatusCancelled {
		t.Fatalf("job status = %s, want cancelled", reloaded.Status)
	}
	if reloaded.Cursor != 0 || reloaded.ProcessedCount != 0 {
		t.Fatalf("discarded batch still checkpointed: cursor = %d processed = %d",
			reloaded.Cursor, reloaded.ProcessedCount)
	}
	if reloaded.CompletedAt == nil {
		t.Fatalf("cancelled job has no completed_at")
	}
}
