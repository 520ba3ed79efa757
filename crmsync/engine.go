// Package crmsync runs checkpointed batch jobs over the lead table: resync
// re-fetches authoritative field values from the upstream CRM, reprocess
// re-derives them from the stored raw payloads. One ProcessJob call is one
// batch; repeated triggers drive a job to a terminal state.
package crmsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/leads_backend/config"
	"bitbucket.org/mmdatafocus/leads_backend/fieldmap"
	"bitbucket.org/mmdatafocus/leads_backend/models"
)

const (
	defaultJobBatchSize = 50
	maxJobBatchSize     = 500
	jobClaimTTL         = 5 * time.Minute
)

// crmFetcher is the slice of the CRM client resync needs.
type crmFetcher interface {
	FetchLead(ctx context.Context, externalID string) (json.RawMessage, error)
}

type Engine struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Locker *redislock.Client

	// RecordDelay spaces out upstream fetches within a batch, on top of the
	// client's own rate limiter.
	RecordDelay time.Duration
	PhoneRegion string

	fetcher crmFetcher
}

func NewEngine(db *gorm.DB, logger *logrus.Logger) *Engine {
	return &Engine{
		DB:          db,
		Logger:      logger,
		Locker:      config.GetRedisLock(),
		RecordDelay: 100 * time.Millisecond,
		PhoneRegion: config.DefaultPhoneRegion(),
	}
}

// Progress is what one ProcessJob invocation reports back to the caller.
type Progress struct {
	JobID          uint   `json:"job_id"`
	Status         string `json:"status"`
	TotalCount     int    `json:"total_count"`
	ProcessedCount int    `json:"processed_count"`
	UpdatedCount   int    `json:"updated_count"`
	SkippedCount   int    `json:"skipped_count"`
	ErrorCount     int    `json:"error_count"`
	Cursor         int    `json:"cursor"`
	HasMore        bool   `json:"has_more"`
}

func progressOf(job *models.SyncJob) *Progress {
	return &Progress{
		JobID:          job.ID,
		Status:         job.Status,
		TotalCount:     job.TotalCount,
		ProcessedCount: job.ProcessedCount,
		UpdatedCount:   job.UpdatedCount,
		SkippedCount:   job.SkippedCount,
		ErrorCount:     job.ErrorCount,
		Cursor:         job.Cursor,
		HasMore:        job.Status == models.SyncJobStatusRunning,
	}
}

// CreateJob validates the request, counts the covered leads under the filter
// and persists a pending job. The filter is frozen into the job row.
func (e *Engine) CreateJob(ctx context.Context, kind string, filterRaw []byte, batchSize int, triggeredBy string) (*models.SyncJob, error) {
	switch kind {
	case models.SyncJobKindResync, models.SyncJobKindReprocess:
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	filter, err := ParseFilter(filterRaw)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = defaultJobBatchSize
	}
	if batchSize > maxJobBatchSize {
		batchSize = maxJobBatchSize
	}

	var total int64
	if err := filter.apply(e.DB.WithContext(ctx).Model(&models.Lead{})).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count leads: %w", err)
	}

	job := models.SyncJob{
		Kind:        kind,
		Status:      models.SyncJobStatusPending,
		TotalCount:  int(total),
		BatchSize:   batchSize,
		FilterJSON:  filterRaw,
		TriggeredBy: triggeredBy,
	}
	if err := e.DB.WithContext(ctx).Create(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ProcessJob runs one batch of the job. The redislock claim keeps concurrent
// triggers from doing duplicate upstream work; correctness rests on the
// atomic pending-to-running transition and the forward-only cursor.
func (e *Engine) ProcessJob(ctx context.Context, jobID uint) (*Progress, error) {
	if e.Locker != nil {
		lock, err := e.Locker.Obtain(ctx, fmt.Sprintf("leadsync:job:%d", jobID), jobClaimTTL, nil)
		if err == nil {
			defer lock.Release(context.WithoutCancel(ctx))
		} else if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("job %d is already being processed", jobID)
		}
		// Any other lock error: redis is degraded, proceed on the SQL guard.
	}

	var job models.SyncJob
	if err := e.DB.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}

	switch job.Status {
	case models.SyncJobStatusPending:
		now := time.Now().UTC()
		res := e.DB.WithContext(ctx).Model(&models.SyncJob{}).
			Where("id = ? AND status = ?", job.ID, models.SyncJobStatusPending).
			Updates(map[string]interface{}{
				"status":     models.SyncJobStatusRunning,
				"started_at": &now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the start race; re-read and fall through to the guard below.
			if err := e.DB.WithContext(ctx).First(&job, jobID).Error; err != nil {
				return nil, err
			}
			if job.Status != models.SyncJobStatusRunning {
				return progressOf(&job), nil
			}
		}
		job.Status = models.SyncJobStatusRunning
	case models.SyncJobStatusRunning:
		// Continue from the persisted cursor.
	case models.SyncJobStatusPaused:
		return progressOf(&job), nil
	default:
		// Terminal: nothing to do, report as-is.
		return progressOf(&job), nil
	}

	filter, err := ParseFilter(job.FilterJSON)
	if err != nil {
		// The frozen filter no longer parses: fail the job, retrying is useless.
		e.finishJob(ctx, &job, models.SyncJobStatusFailed)
		return nil, fmt.Errorf("job %d filter: %w", jobID, err)
	}

	mappings, err := models.GetActiveMappings(ctx, e.DB, models.MappingChannelBatch)
	if err != nil {
		return nil, fmt.Errorf("load batch mappings: %w", err)
	}

	prevCursor := job.Cursor

	var leads []models.Lead
	err = filter.apply(e.DB.WithContext(ctx).Model(&models.Lead{})).
		Where("id > ?", job.Cursor).
		Order("id ASC").
		Limit(job.BatchSize).
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}

	for i := range leads {
		e.processRecord(ctx, &job, &leads[i], mappings)
		if job.Kind == models.SyncJobKindResync && e.RecordDelay > 0 && i < len(leads)-1 {
			time.Sleep(e.RecordDelay)
		}
	}

	if len(leads) > 0 {
		job.Cursor = leads[len(leads)-1].ID
	}
	job.ProcessedCount += len(leads)

	updates := map[string]interface{}{
		"cursor":             job.Cursor,
		"processed_count":    job.ProcessedCount,
		"updated_count":      job.UpdatedCount,
		"skipped_count":      job.SkippedCount,
		"error_count":        job.ErrorCount,
		"error_details_json": job.ErrorDetailsJSON,
	}
	if len(leads) < job.BatchSize {
		// Short batch: the filtered range is exhausted.
		now := time.Now().UTC()
		job.Status = models.SyncJobStatusCompleted
		job.CompletedAt = &now
		updates["status"] = job.Status
		updates["completed_at"] = job.CompletedAt
	}
	// The checkpoint only lands if the job is still running at the cursor we
	// started this batch from. Losing the race means a pause/cancel arrived
	// mid-batch or a concurrent invocation checkpointed first; either way the
	// persisted row wins and this batch's counters are discarded.
	res := e.DB.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status = ? AND cursor = ?", job.ID, models.SyncJobStatusRunning, prevCursor).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("checkpoint job %d: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		if err := e.DB.WithContext(ctx).First(&job, jobID).Error; err != nil {
			return nil, fmt.Errorf("reload job %d: %w", jobID, err)
		}
		config.LogWarn(e.Logger, "crmsync", "ProcessJob", fmt.Sprint(job.ID),
			fmt.Sprintf("lost checkpoint claim, job is %s at cursor %d", job.Status, job.Cursor))
		return progressOf(&job), nil
	}

	e.Logger.WithFields(logrus.Fields{
		"module":    "crmsync",
		"job_id":    job.ID,
		"kind":      job.Kind,
		"status":    job.Status,
		"cursor":    job.Cursor,
		"processed": job.ProcessedCount,
	}).Info("job batch finished")
	return progressOf(&job), nil
}

// processRecord handles one lead, mutating the in-memory job counters. Every
// failure is captured on the job; it never aborts the batch.
func (e *Engine) processRecord(ctx context.Context, job *models.SyncJob, lead *models.Lead, mappings []models.FieldMapping) {
	raw, skipReason, err := e.recordPayload(ctx, job.Kind, lead)
	if err != nil {
		e.captureRecordError(job, lead.ID, err)
		return
	}
	if skipReason != "" {
		job.SkippedCount++
		return
	}

	values, err := e.shapeLead(raw, mappings)
	if err != nil {
		e.captureRecordError(job, lead.ID, err)
		return
	}
	if len(values) == 0 {
		job.SkippedCount++
		return
	}

	if job.Kind == models.SyncJobKindResync {
		// Keep the refreshed raw payload so later reprocess runs see it.
		values["raw_payload_json"] = []byte(raw)
	}

	if err := e.DB.WithContext(ctx).Model(&models.Lead{}).
		Where("id = ?", lead.ID).
		Updates(values).Error; err != nil {
		e.captureRecordError(job, lead.ID, err)
		return
	}
	job.UpdatedCount++
}

// recordPayload resolves the raw payload the job kind works from.
func (e *Engine) recordPayload(ctx context.Context, kind string, lead *models.Lead) (json.RawMessage, string, error) {
	switch kind {
	case models.SyncJobKindResync:
		if lead.ExternalId == "" {
			return nil, "no external id", nil
		}
		fetcher := e.fetcher
		if fetcher == nil {
			client, err := newCRMClient()
			if err != nil {
				return nil, "", err
			}
			e.fetcher = client
			fetcher = client
		}
		payload, err := fetcher.FetchLead(ctx, lead.ExternalId)
		if errors.Is(err, ErrLeadNotFound) {
			return nil, "lead gone from crm", nil
		}
		if err != nil {
			return nil, "", err
		}
		return payload, "", nil
	case models.SyncJobKindReprocess:
		if len(lead.RawPayloadJSON) == 0 {
			return nil, "no stored raw payload", nil
		}
		return lead.RawPayloadJSON, "", nil
	}
	return nil, "", fmt.Errorf("unknown job kind %q", kind)
}

// shapeLead maps a raw payload onto lead columns through the batch-channel
// mappings.
func (e *Engine) shapeLead(raw json.RawMessage, mappings []models.FieldMapping) (map[string]interface{}, error) {
	bag, err := fieldmap.DecodePayload(raw)
	if err != nil {
		return nil, err
	}

	values := make(map[string]interface{}, len(mappings))
	for _, m := range mappings {
		v, ok := bag[m.SourceField]
		if !ok {
			continue
		}
		if m.Transformation != nil && *m.Transformation != "" {
			t, ok := fieldmap.ParseTransformation(*m.Transformation)
			if !ok {
				return nil, fmt.Errorf("mapping %d: unknown transformation %q", m.ID, *m.Transformation)
			}
			if v, err = fieldmap.ApplyTransformation(v, t); err != nil {
				return nil, fmt.Errorf("mapping %d (%s -> %s): %w", m.ID, m.SourceField, m.TargetField, err)
			}
		}
		if !v.MatchesType(m.TargetType) {
			return nil, fmt.Errorf("mapping %d: %s value does not fit target type %s", m.ID, v.Kind, m.TargetType)
		}
		if v.Kind == fieldmap.KindString && fieldmap.IsPhoneField(m.TargetField) {
			v = fieldmap.StringValue(fieldmap.NormalizePhone(v.Str, e.PhoneRegion))
		}
		values[m.TargetField] = v.SQLValue()
	}
	return values, nil
}

func (e *Engine) captureRecordError(job *models.SyncJob, leadID int, err error) {
	job.ErrorCount++
	job.ErrorDetailsJSON = models.AppendJobErrorDetails(job.ErrorDetailsJSON, models.JobErrorDetail{
		RowID:     leadID,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
	config.LogError(e.Logger, "crmsync", "processRecord", fmt.Sprint(job.ID), leadID, err)
}

func (e *Engine) finishJob(ctx context.Context, job *models.SyncJob, status string) {
	now := time.Now().UTC()
	_ = e.DB.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       status,
			"completed_at": &now,
		}).Error
	job.Status = status
	job.CompletedAt = &now
}

// PauseJob moves a running job to paused. The batch in flight (if any)
// finishes; at most one batch of work happens after the pause is requested.
func (e *Engine) PauseJob(ctx context.Context, jobID uint) (*models.SyncJob, error) {
	return e.transition(ctx, jobID, models.SyncJobStatusPaused,
		[]string{models.SyncJobStatusRunning}, nil)
}

// ResumeJob moves a paused job back to running; the next trigger continues
// from the persisted cursor.
func (e *Engine) ResumeJob(ctx context.Context, jobID uint) (*models.SyncJob, error) {
	return e.transition(ctx, jobID, models.SyncJobStatusRunning,
		[]string{models.SyncJobStatusPaused}, nil)
}

// CancelJob terminally cancels a job. Cancelled jobs never resume.
func (e *Engine) CancelJob(ctx context.Context, jobID uint) (*models.SyncJob, error) {
	now := time.Now().UTC()
	return e.transition(ctx, jobID, models.SyncJobStatusCancelled,
		[]string{models.SyncJobStatusPending, models.SyncJobStatusRunning, models.SyncJobStatusPaused},
		map[string]interface{}{"completed_at": &now})
}

func (e *Engine) transition(ctx context.Context, jobID uint, to string, from []string, extra map[string]interface{}) (*models.SyncJob, error) {
	updates := map[string]interface{}{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := e.DB.WithContext(ctx).Model(&models.SyncJob{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}

	var job models.SyncJob
	if err := e.DB.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("job %d is %s, cannot move to %s", jobID, job.Status, to)
	}
	return &job, nil
}

// JobStatus returns the job row plus its decoded error details.
type JobStatusResponse struct {
	Job          *models.SyncJob         `json:"job"`
	ErrorDetails []models.JobErrorDetail `json:"error_details"`
	Progress     *Progress               `json:"progress"`
}

func (e *Engine) JobStatus(ctx context.Context, jobID uint) (*JobStatusResponse, error) {
	var job models.SyncJob
	if err := e.DB.WithContext(ctx).First(&job, jobID).Error; err != nil {
		return nil, fmt.Errorf("load job %d: %w", jobID, err)
	}
	return &JobStatusResponse{
		Job:          &job,
		ErrorDetails: models.DecodeJobErrorDetails(job.ErrorDetailsJSON),
		Progress:     progressOf(&job),
	}, nil
}
