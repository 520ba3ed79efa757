package crmsync

import (
	"encoding/json"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/leads_backend/fieldmap"
	"bitbucket.org/mmdatafocus/leads_backend/models"
)

func strPtr(s string) *string { return &s }

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter([]byte(`{"stage":"qualified","source":"webinar"}`))
	if err != nil {
		t.Fatalf("ParseFilter: %v", err)
	}
	if f.Stage != "qualified" || f.Source != "webinar" {
		t.Fatalf("filter = %+v", f)
	}

	// Empty criteria cover everything.
	if _, err := ParseFilter(nil); err != nil {
		t.Fatalf("empty filter rejected: %v", err)
	}

	// Unknown keys are rejected, not dropped.
	if _, err := ParseFilter([]byte(`{"stage":"new","nome":"x"}`)); err == nil {
		t.Fatalf("unknown filter field accepted")
	}

	// Inverted date range.
	if _, err := ParseFilter([]byte(`{"updated_after":"2024-06-01T00:00:00Z","updated_before":"2024-05-01T00:00:00Z"}`)); err == nil {
		t.Fatalf("inverted date range accepted")
	}

	if _, err := ParseFilter([]byte(`not json`)); err == nil {
		t.Fatalf("malformed filter accepted")
	}
}

func TestListResponseShapes(t *testing.T) {
	var r crmListResponse
	if err := json.Unmarshal([]byte(`{"data":[{"id":1}],"next_cursor":"abc"}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(r.records()) != 1 || !r.more() {
		t.Fatalf("data-shape response: records=%d more=%v", len(r.records()), r.more())
	}

	r = crmListResponse{}
	if err := json.Unmarshal([]byte(`{"items":[{"id":1},{"id":2}],"has_more":false,"next_cursor":"ignored"}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(r.records()) != 2 {
		t.Fatalf("items-shape records = %d", len(r.records()))
	}
	// Explicit has_more wins over cursor presence.
	if r.more() {
		t.Fatalf("has_more=false ignored")
	}

	r = crmListResponse{}
	if err := json.Unmarshal([]byte(`{"data":[]}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(r.records()) != 0 || r.more() {
		t.Fatalf("final page: records=%d more=%v", len(r.records()), r.more())
	}
}

func TestShapeLead(t *testing.T) {
	e := &Engine{PhoneRegion: "BR"}
	mappings := []models.FieldMapping{
		{ID: 1, SourceField: "full_name", TargetField: "name", TargetType: "varchar"},
		{ID: 2, SourceField: "phone_number", TargetField: "phone", TargetType: "varchar"},
		{ID: 3, SourceField: "lead_score", TargetField: "score", TargetType: "decimal", Transformation: strPtr("to_number")},
	}
	raw := json.RawMessage(`{"full_name":"Bruno Lima","phone_number":"11 91234-5678","lead_score":"8","extra":"dropped"}`)

	values, err := e.shapeLead(raw, mappings)
	if err != nil {
		t.Fatalf("shapeLead: %v", err)
	}
	if values["name"] != "Bruno Lima" {
		t.Fatalf("name = %v", values["name"])
	}
	if values["phone"] != "+5511912345678" {
		t.Fatalf("phone = %v", values["phone"])
	}
	if _, ok := values["extra"]; ok {
		t.Fatalf("unmapped field leaked")
	}

	// Bad transformation value fails the record.
	if _, err := e.shapeLead(json.RawMessage(`{"lead_score":"high"}`), mappings); err == nil {
		t.Fatalf("untransformable value accepted")
	}
}

func TestExternalIDOf(t *testing.T) {
	bag, err := fieldmap.DecodePayload([]byte(`{"id":"crm-123","name":"x"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := externalIDOf(bag); got != "crm-123" {
		t.Fatalf("string id = %q", got)
	}

	bag, _ = fieldmap.DecodePayload([]byte(`{"id":4711}`))
	if got := externalIDOf(bag); got != "4711" {
		t.Fatalf("numeric id = %q", got)
	}

	bag, _ = fieldmap.DecodePayload([]byte(`{"external_id":"x-1"}`))
	if got := externalIDOf(bag); got != "x-1" {
		t.Fatalf("external_id fallback = %q", got)
	}

	bag, _ = fieldmap.DecodePayload([]byte(`{"name":"no id"}`))
	if got := externalIDOf(bag); got != "" {
		t.Fatalf("missing id = %q", got)
	}
}

func TestProgressOf(t *testing.T) {
	job := &models.SyncJob{ID: 9, Status: models.SyncJobStatusRunning, TotalCount: 120, ProcessedCount: 50, Cursor: 73}
	p := progressOf(job)
	if !p.HasMore || p.Cursor != 73 || p.TotalCount != 120 {
		t.Fatalf("running progress = %+v", p)
	}

	now := time.Now()
	job.Status = models.SyncJobStatusCompleted
	job.CompletedAt = &now
	if progressOf(job).HasMore {
		t.Fatalf("completed job reports HasMore")
	}

	job.Status = models.SyncJobStatusPaused
	if progressOf(job).HasMore {
		t.Fatalf("paused job reports HasMore")
	}
}

func TestJobTerminality(t *testing.T) {
	for _, s := range []string{models.SyncJobStatusCompleted, models.SyncJobStatusFailed, models.SyncJobStatusCancelled} {
		if !(&models.SyncJob{Status: s}).IsTerminal() {
			t.Fatalf("%s not terminal", s)
		}
	}
	for _, s := range []string{models.SyncJobStatusPending, models.SyncJobStatusRunning, models.SyncJobStatusPaused} {
		if (&models.SyncJob{Status: s}).IsTerminal() {
			t.Fatalf("%s terminal", s)
		}
	}
}
