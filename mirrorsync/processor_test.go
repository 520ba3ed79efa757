package mirrorsync

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/leads_backend/fieldmap"
	"bitbucket.org/mmdatafocus/leads_backend/models"
)

func strPtr(s string) *string { return &s }

func TestBackoffSequence(t *testing.T) {
	p := &Processor{InitialBackoff: 5 * time.Second, MaxBackoff: 10 * time.Minute}
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
	}
	for i, w := range want {
		if got := p.backoffFor(i + 1); got != w {
			t.Fatalf("backoffFor(%d) = %s, want %s", i+1, got, w)
		}
	}
	// Cap kicks in eventually.
	if got := p.backoffFor(20); got != 10*time.Minute {
		t.Fatalf("backoffFor(20) = %s, want cap", got)
	}
}

func TestPermanentClassification(t *testing.T) {
	err := permanent("bad mapping %d", 7)
	if !isPermanent(err) {
		t.Fatalf("permanent error not classified as permanent")
	}
	if isPermanent(errors.New("connection reset")) {
		t.Fatalf("plain error classified as permanent")
	}
	// Wrapped permanent errors stay permanent.
	if !isPermanent(wrapErr(err)) {
		t.Fatalf("wrapped permanent error lost its class")
	}
}

func wrapErr(err error) error {
	return errors.Join(errors.New("outer"), err)
}

func TestShapePayload(t *testing.T) {
	p := &Processor{PhoneRegion: "BR"}
	mappings := []models.FieldMapping{
		{ID: 1, SourceField: "nome", TargetField: "name", SourceType: "varchar", TargetType: "varchar"},
		{ID: 2, SourceField: "telefone", TargetField: "phone", SourceType: "varchar", TargetType: "varchar"},
		{ID: 3, SourceField: "score", TargetField: "score", SourceType: "varchar", TargetType: "decimal", Transformation: strPtr("to_number")},
	}
	bag := map[string]fieldmap.FieldValue{
		"nome":     fieldmap.StringValue("Ana Souza"),
		"telefone": fieldmap.StringValue("11 98765-4321"),
		"score":    fieldmap.StringValue("9.5"),
		"ignored":  fieldmap.StringValue("no mapping"),
	}

	values, err := p.shapePayload(bag, mappings)
	if err != nil {
		t.Fatalf("shapePayload: %v", err)
	}
	if len(values) != 3 {
		t.Fatalf("shaped %d values, want 3: %+v", len(values), values)
	}
	if values["name"] != "Ana Souza" {
		t.Fatalf("name = %v", values["name"])
	}
	if values["phone"] != "+5511987654321" {
		t.Fatalf("phone = %v", values["phone"])
	}
	score, ok := values["score"].(decimal.Decimal)
	if !ok || !score.Equal(decimal.RequireFromString("9.5")) {
		t.Fatalf("score = %v", values["score"])
	}
	if _, ok := values["ignored"]; ok {
		t.Fatalf("unmapped field leaked into shaped row")
	}
}

func TestShapePayloadPermanentFailures(t *testing.T) {
	p := &Processor{PhoneRegion: "BR"}

	// Unknown transformation on a mapping row.
	_, err := p.shapePayload(
		map[string]fieldmap.FieldValue{"x": fieldmap.StringValue("1")},
		[]models.FieldMapping{{ID: 1, SourceField: "x", TargetField: "x", TargetType: "varchar", Transformation: strPtr("uppercase")}},
	)
	if err == nil || !isPermanent(err) {
		t.Fatalf("unknown transformation: %v", err)
	}

	// Untransformable value.
	_, err = p.shapePayload(
		map[string]fieldmap.FieldValue{"x": fieldmap.StringValue("abc")},
		[]models.FieldMapping{{ID: 1, SourceField: "x", TargetField: "x", TargetType: "decimal", Transformation: strPtr("to_number")}},
	)
	if err == nil || !isPermanent(err) {
		t.Fatalf("untransformable value: %v", err)
	}

	// Shaped value does not fit the target type.
	_, err = p.shapePayload(
		map[string]fieldmap.FieldValue{"x": fieldmap.StringValue("hello")},
		[]models.FieldMapping{{ID: 1, SourceField: "x", TargetField: "x", TargetType: "int"}},
	)
	if err == nil || !isPermanent(err) {
		t.Fatalf("type mismatch: %v", err)
	}
}

func TestSanitizeError(t *testing.T) {
	err := errors.New("upsert failed at /home/app/mirrorsync/processor.go:142: broken pipe")
	got := SanitizeError(err)
	if strings.Contains(got, ".go:") {
		t.Fatalf("file position survived: %q", got)
	}
	if !strings.Contains(got, "broken pipe") {
		t.Fatalf("message lost: %q", got)
	}

	err = errors.New("panic recovered\ngoroutine 42 [running]:\nmain.run()\n\t/app/main.go:10")
	got = SanitizeError(err)
	if strings.Contains(got, "goroutine") || strings.Contains(got, "main.go") {
		t.Fatalf("stack survived: %q", got)
	}

	if SanitizeError(nil) != "" {
		t.Fatalf("nil error produced output")
	}
}
