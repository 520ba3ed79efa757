// Package mirrorsync drains the change-event queue into the remote mirror
// database. One ProcessBatch call is one drain pass; repeated invocation
// (Pub/Sub push or HTTP trigger) keeps the queue moving.
package mirrorsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/leads_backend/config"
	"bitbucket.org/mmdatafocus/leads_backend/fieldmap"
	"bitbucket.org/mmdatafocus/leads_backend/models"
	"bitbucket.org/mmdatafocus/leads_backend/schemasync"
)

const mysqlErrUnknownColumn = 1054

// permanentError marks a failure that retrying cannot fix (validation,
// mapping configuration). The processor fails these events immediately
// instead of burning retry attempts.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(format string, args ...interface{}) error {
	return &permanentError{err: fmt.Errorf(format, args...)}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type Processor struct {
	DB     *gorm.DB
	Mirror *gorm.DB
	Logger *logrus.Logger

	ProcessorID    string
	Destination    string
	BatchSize      int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	LockTimeout    time.Duration
	PhoneRegion    string
}

func NewProcessor(db, mirror *gorm.DB, logger *logrus.Logger) *Processor {
	return &Processor{
		DB:             db,
		Mirror:         mirror,
		Logger:         logger,
		ProcessorID:    uuid.NewString(),
		Destination:    models.SyncSystemMirror,
		BatchSize:      100,
		MaxRetries:     5,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		LockTimeout:    30 * time.Second,
		PhoneRegion:    config.DefaultPhoneRegion(),
	}
}

// BatchResult is what one drain pass did, mirroring the summary log row.
type BatchResult struct {
	Pulled    int   `json:"pulled"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
	ElapsedMs int64 `json:"elapsed_ms"`
}

// ProcessBatch pulls one batch of eligible events and applies them to the
// mirror. Always writes one summary row, even for an empty pass.
func (p *Processor) ProcessBatch(ctx context.Context) (*BatchResult, error) {
	started := time.Now()
	res := &BatchResult{}

	mappings, err := models.GetActiveMappings(ctx, p.DB, models.MappingChannelRealtime)
	if err != nil {
		return nil, fmt.Errorf("load realtime mappings: %w", err)
	}

	events, err := p.pullEvents(ctx)
	if err != nil {
		return nil, err
	}
	res.Pulled = len(events)

	for i := range events {
		outcome := p.processEvent(ctx, &events[i], mappings)
		switch outcome {
		case outcomeSucceeded:
			res.Succeeded++
		case outcomeSkipped:
			res.Skipped++
		case outcomeFailed:
			res.Failed++
		}
	}

	res.ElapsedMs = time.Since(started).Milliseconds()
	summary := models.SyncLogSummary{
		ProcessorID: p.ProcessorID,
		Pulled:      res.Pulled,
		Succeeded:   res.Succeeded,
		Failed:      res.Failed,
		Skipped:     res.Skipped,
		ElapsedMs:   res.ElapsedMs,
	}
	if err := p.DB.WithContext(ctx).Create(&summary).Error; err != nil {
		config.LogError(p.Logger, "mirrorsync", "ProcessBatch", p.ProcessorID, res, err)
	}
	return res, nil
}

// pullEvents claims up to BatchSize eligible events oldest-first: pending
// rows whose backoff window has elapsed, plus processing rows whose claim
// aged past LockTimeout (the claimer crashed mid-batch). Claimed rows are
// stamped with locked_at and locked_by inside the same transaction.
func (p *Processor) pullEvents(ctx context.Context) ([]models.ChangeEvent, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTimeout)
	var events []models.ChangeEvent
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where(`(status = ? AND retry_count < ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
				OR (status = ? AND locked_at IS NOT NULL AND locked_at <= ?)`,
				models.ChangeEventStatusPending, p.MaxRetries, now,
				models.ChangeEventStatusProcessing, staleBefore).
			Order("created_at ASC, id ASC").
			Limit(p.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&events).Error; err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(events))
		for _, e := range events {
			ids = append(ids, e.ID)
		}
		return tx.Model(&models.ChangeEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    models.ChangeEventStatusProcessing,
				"locked_at": &now,
				"locked_by": p.ProcessorID,
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("pull change events: %w", err)
	}
	return events, nil
}

type eventOutcome int

const (
	outcomeSucceeded eventOutcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Processor) processEvent(ctx context.Context, event *models.ChangeEvent, mappings []models.FieldMapping) eventOutcome {
	started := time.Now()

	// Echo suppression: an event that originated at the destination would
	// just bounce its own write back.
	if event.OriginSystem == p.Destination {
		p.markSkipped(ctx, event, "self sync: origin equals destination")
		return outcomeSkipped
	}

	skipReason, err := p.applyEvent(ctx, event, mappings)
	if err != nil {
		p.markFailed(ctx, event, err, time.Since(started))
		return outcomeFailed
	}
	if skipReason != "" {
		p.markSkipped(ctx, event, skipReason)
		return outcomeSkipped
	}
	p.markCompleted(ctx, event)
	return outcomeSucceeded
}

// applyEvent performs the mirror write. A non-empty skip reason means the
// event completed without a write (conflict loser). An error is either
// permanent or retryable, decided by classify at mark time.
func (p *Processor) applyEvent(ctx context.Context, event *models.ChangeEvent, mappings []models.FieldMapping) (string, error) {
	if event.ChangedAt.IsZero() {
		return "", permanent("event %d has no change timestamp: producer configuration error", event.ID)
	}

	newer, err := p.remoteIsNewer(ctx, event)
	if err != nil {
		return "", err
	}
	if newer {
		// Last-write-wins covers deletes too: a stale delete must not take
		// out a row the mirror has since rewritten.
		return "skipped: mirror row is newer than this change", nil
	}

	if event.Operation == models.ChangeOperationDelete {
		return "", p.applyDelete(ctx, event)
	}

	bag, err := fieldmap.DecodePayload(event.PayloadJSON)
	if err != nil {
		return "", permanent("event %d payload: %v", event.ID, err)
	}

	values, err := p.shapePayload(bag, mappings)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", permanent("event %d shaped to an empty row: no active mapping matched the payload", event.ID)
	}
	values["id"] = event.TargetRowID
	values["updated_at"] = event.ChangedAt

	if err := p.ensureMirrorColumns(ctx, event.TargetTable, values); err != nil {
		return "", err
	}
	if err := p.upsertMirrorRow(ctx, event.TargetTable, values); err != nil {
		return "", err
	}
	return "", nil
}

// ensureMirrorColumns checks the shaped columns against the cached mirror
// catalog before the write, so a mapping to a column the mirror lacks surfaces
// as a named error (and a reconcile push) instead of a raw driver failure.
// The error is retryable: the reconciler may have added the column by the
// next attempt.
func (p *Processor) ensureMirrorColumns(ctx context.Context, table string, values map[string]interface{}) error {
	cols, err := schemasync.CachedColumns(ctx, p.Mirror, table)
	if err != nil {
		return fmt.Errorf("read mirror catalog for %s: %w", table, err)
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[strings.ToLower(c.Name)] = true
	}
	for col := range values {
		if known[strings.ToLower(col)] {
			continue
		}
		if config.ReconcileOnMissingColumn() {
			if invErr := schemasync.InvalidateSchemaCache(table); invErr != nil {
				config.LogWarn(p.Logger, "mirrorsync", "ensureMirrorColumns", table, invErr.Error())
			}
			if _, recErr := schemasync.Push(ctx, table); recErr != nil {
				config.LogError(p.Logger, "mirrorsync", "ensureMirrorColumns", table, nil, recErr)
			}
		}
		return fmt.Errorf("mirror table %s is missing column %q", table, col)
	}
	return nil
}

func (p *Processor) applyDelete(ctx context.Context, event *models.ChangeEvent) error {
	// Deleting an absent row is success: the mirror already agrees.
	err := p.Mirror.WithContext(ctx).
		Exec(fmt.Sprintf("DELETE FROM `%s` WHERE id = ?", event.TargetTable), event.TargetRowID).Error
	if err != nil {
		return fmt.Errorf("delete mirror row %d: %w", event.TargetRowID, err)
	}
	return nil
}

// remoteIsNewer implements last-write-wins: the mirror row's updated_at
// against the event's change timestamp.
func (p *Processor) remoteIsNewer(ctx context.Context, event *models.ChangeEvent) (bool, error) {
	var remoteUpdatedAt time.Time
	row := p.Mirror.WithContext(ctx).
		Table(event.TargetTable).
		Select("updated_at").
		Where("id = ?", event.TargetRowID).
		Row()
	if err := row.Scan(&remoteUpdatedAt); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("read mirror row %d: %w", event.TargetRowID, err)
	}
	return remoteUpdatedAt.After(event.ChangedAt), nil
}

// shapePayload renames, transforms and normalizes the payload through the
// active realtime mappings. Unknown transformations and untransformable
// values are permanent failures for the event.
func (p *Processor) shapePayload(bag map[string]fieldmap.FieldValue, mappings []models.FieldMapping) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(mappings))
	for _, m := range mappings {
		v, ok := bag[m.SourceField]
		if !ok {
			continue
		}

		if m.Transformation != nil && *m.Transformation != "" {
			t, ok := fieldmap.ParseTransformation(*m.Transformation)
			if !ok {
				return nil, permanent("mapping %d: unknown transformation %q", m.ID, *m.Transformation)
			}
			transformed, err := fieldmap.ApplyTransformation(v, t)
			if err != nil {
				return nil, permanent("mapping %d (%s -> %s): %v", m.ID, m.SourceField, m.TargetField, err)
			}
			v = transformed
		}

		if !v.MatchesType(m.TargetType) {
			return nil, permanent("mapping %d: %s value does not fit target type %s", m.ID, v.Kind, m.TargetType)
		}

		if v.Kind == fieldmap.KindString && fieldmap.IsPhoneField(m.TargetField) {
			v = fieldmap.StringValue(fieldmap.NormalizePhone(v.Str, p.PhoneRegion))
		}

		values[m.TargetField] = v.SQLValue()
	}
	return values, nil
}

func (p *Processor) upsertMirrorRow(ctx context.Context, table string, values map[string]interface{}) error {
	err := p.Mirror.WithContext(ctx).
		Table(table).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(values),
		}).
		Create(values).Error
	if err == nil {
		return nil
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlErrUnknownColumn && config.ReconcileOnMissingColumn() {
		// The cached catalog was stale and the pre-write check missed a
		// column. Drop the cache, push the local catalog over and let the
		// retry redo the write.
		if invErr := schemasync.InvalidateSchemaCache(table); invErr != nil {
			config.LogWarn(p.Logger, "mirrorsync", "upsertMirrorRow", table, invErr.Error())
		}
		if _, recErr := schemasync.Push(ctx, table); recErr != nil {
			config.LogError(p.Logger, "mirrorsync", "upsertMirrorRow", table, nil, recErr)
		}
	}
	return fmt.Errorf("upsert mirror row: %w", err)
}

func (p *Processor) markCompleted(ctx context.Context, event *models.ChangeEvent) {
	err := p.DB.WithContext(ctx).Model(&models.ChangeEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"status":          models.ChangeEventStatusCompleted,
			"last_error":      nil,
			"skip_reason":     nil,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
	if err != nil {
		config.LogError(p.Logger, "mirrorsync", "markCompleted", fmt.Sprint(event.ID), nil, err)
		return
	}

	// Tag the source row so the echo of this write is recognizable.
	now := time.Now().UTC()
	_ = p.DB.WithContext(ctx).Table(event.TargetTable).
		Where("id = ?", event.TargetRowID).
		Updates(map[string]interface{}{
			"last_synced_at": &now,
			"sync_origin":    p.Destination,
		}).Error
}

func (p *Processor) markSkipped(ctx context.Context, event *models.ChangeEvent, reason string) {
	err := p.DB.WithContext(ctx).Model(&models.ChangeEvent{}).
		Where("id = ?", event.ID).
		Updates(map[string]interface{}{
			"status":          models.ChangeEventStatusCompleted,
			"skip_reason":     &reason,
			"last_error":      nil,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
	if err != nil {
		config.LogError(p.Logger, "mirrorsync", "markSkipped", fmt.Sprint(event.ID), reason, err)
	}
}

func (p *Processor) markFailed(ctx context.Context, event *models.ChangeEvent, cause error, elapsed time.Duration) {
	now := time.Now().UTC()
	msg := SanitizeError(cause)
	attempt := event.RetryCount + 1

	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  &msg,
		"locked_at":   nil,
		"locked_by":   nil,
	}
	switch {
	case isPermanent(cause):
		// No number of retries fixes a validation or mapping problem.
		updates["status"] = models.ChangeEventStatusFailed
		updates["next_attempt_at"] = nil
	case attempt >= p.MaxRetries:
		updates["status"] = models.ChangeEventStatusFailed
		updates["next_attempt_at"] = nil
	default:
		next := now.Add(p.backoffFor(attempt))
		updates["status"] = models.ChangeEventStatusPending
		updates["next_attempt_at"] = &next
	}

	if err := p.DB.WithContext(ctx).Model(&models.ChangeEvent{}).
		Where("id = ?", event.ID).
		Updates(updates).Error; err != nil {
		config.LogError(p.Logger, "mirrorsync", "markFailed", fmt.Sprint(event.ID), nil, err)
	}

	detail := models.SyncLogDetail{
		EventID:     event.ID,
		TargetRowID: event.TargetRowID,
		Error:       msg,
		DurationMs:  elapsed.Milliseconds(),
	}
	if err := p.DB.WithContext(ctx).Create(&detail).Error; err != nil {
		config.LogError(p.Logger, "mirrorsync", "markFailed", fmt.Sprint(event.ID), nil, err)
	}

	p.Logger.WithFields(logrus.Fields{
		"module":    "mirrorsync",
		"event_id":  event.ID,
		"row_id":    event.TargetRowID,
		"attempt":   attempt,
		"permanent": isPermanent(cause),
	}).Error("change event failed: " + msg)
}

// backoffFor doubles the initial backoff per prior attempt, capped.
func (p *Processor) backoffFor(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
			break
		}
	}
	return backoff
}
