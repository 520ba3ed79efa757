package fieldmap

import (
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Nome", "nome"},
		{"custom_Telefone", "telefone"},
		{"cf_Lead  Source", "lead_source"},
		{"Email-Address", "email_address"},
		{"  FULL   NAME ", "full_name"},
		{"attr__stage_", "stage"},
		{"x_data_criacao", "data_criacao"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Fatalf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSimilarityProperties(t *testing.T) {
	if got := Similarity("telefone", "telefone"); got != 1 {
		t.Fatalf("identity similarity = %v, want 1", got)
	}
	a, b := "nome", "name"
	if Similarity(a, b) != Similarity(b, a) {
		t.Fatalf("similarity is not symmetric for %q/%q", a, b)
	}
	// nome -> name is one substitution over length 4
	if got := Similarity("nome", "name"); math.Abs(got-0.75) > 1e-9 {
		t.Fatalf("Similarity(nome, name) = %v, want 0.75", got)
	}
	if got := Similarity("kitten", "sitting"); math.Abs(got-(1-3.0/7.0)) > 1e-9 {
		t.Fatalf("Similarity(kitten, sitting) = %v", got)
	}
	if got := Similarity("", ""); got != 1 {
		t.Fatalf("empty-string similarity = %v, want 1", got)
	}
}

func TestAreTypesCompatible(t *testing.T) {
	cases := []struct {
		t1, t2 string
		want   bool
	}{
		{"INT", "bigint", true},
		{"varchar(255)", "TEXT", true},
		{"int", "decimal(10,2)", true},
		{"datetime", "timestamp", true},
		{"tinyint(1)", "boolean", true},
		{"text", "datetime", false},
		{"json", "int", false},
		{"made_up_type", "text", false},
	}
	for _, c := range cases {
		if got := AreTypesCompatible(c.t1, c.t2); got != c.want {
			t.Fatalf("AreTypesCompatible(%q, %q) = %v, want %v", c.t1, c.t2, got, c.want)
		}
		if got := AreTypesCompatible(c.t2, c.t1); got != c.want {
			t.Fatalf("AreTypesCompatible(%q, %q) = %v, want %v (symmetry)", c.t2, c.t1, got, c.want)
		}
	}
}

func TestSuggestTransformation(t *testing.T) {
	// Compatible pair: nothing to do.
	if tr, ok := SuggestTransformation("int", "bigint"); ok {
		t.Fatalf("compatible types suggested %q", tr)
	}
	cases := []struct {
		src, dst string
		want     Transformation
	}{
		{"varchar(255)", "int", TransformToNumber},
		{"text", "decimal(20,6)", TransformToNumber},
		{"bigint", "text", TransformToString},
		{"varchar(10)", "tinyint(1)", TransformToBoolean},
		{"text", "date", TransformToDate},
		{"text", "datetime", TransformToTimestamp},
		{"datetime", "date", TransformToDate},
		{"date", "timestamp", TransformToTimestamp},
	}
	for _, c := range cases {
		tr, ok := SuggestTransformation(c.src, c.dst)
		if !ok || tr != c.want {
			t.Fatalf("SuggestTransformation(%q, %q) = %q/%v, want %q", c.src, c.dst, tr, ok, c.want)
		}
	}
	// Unsupported pair: callers must treat this as manual mapping.
	if tr, ok := SuggestTransformation("json", "datetime"); ok {
		t.Fatalf("unsupported pair suggested %q", tr)
	}
}

func TestValidateMapping(t *testing.T) {
	res := ValidateMapping("int", "bigint")
	if !res.Valid || len(res.Warnings) != 0 || len(res.Errors) != 0 {
		t.Fatalf("compatible mapping result = %+v", res)
	}

	res = ValidateMapping("varchar(255)", "int")
	if !res.Valid || len(res.Warnings) != 1 || len(res.Errors) != 0 {
		t.Fatalf("transformable mapping result = %+v", res)
	}
	if !strings.Contains(res.Warnings[0], string(TransformToNumber)) {
		t.Fatalf("warning does not name the transform: %q", res.Warnings[0])
	}

	res = ValidateMapping("json", "datetime")
	if res.Valid || len(res.Errors) != 1 {
		t.Fatalf("unsupported mapping result = %+v", res)
	}
}

func TestSuggestMappingsDictionaryAndTiers(t *testing.T) {
	sources := []string{"Nome", "Telefone", "custom_campo_extra"}
	targets := []string{"name", "phone", "email"}

	got := SuggestMappings(sources, targets, nil)
	if len(got) != 2 {
		t.Fatalf("expected 2 suggestions, got %d: %+v", len(got), got)
	}
	for _, s := range got {
		if !s.FromDictionary || s.Confidence != ConfidenceHigh || s.Similarity != 1.0 {
			t.Fatalf("dictionary suggestion not high confidence: %+v", s)
		}
	}
}

func TestSuggestMappingsExcludesMappedFields(t *testing.T) {
	sources := []string{"Nome", "Telefone"}
	targets := []string{"name", "phone"}
	existing := []ExistingMapping{{SourceField: "nome", TargetField: "name"}}

	got := SuggestMappings(sources, targets, existing)
	for _, s := range got {
		if Normalize(s.SourceField) == "nome" || Normalize(s.TargetField) == "name" {
			t.Fatalf("already-mapped field suggested again: %+v", s)
		}
	}
	if len(got) != 1 || got[0].TargetField != "phone" {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}

func TestSuggestMappingsDeterministic(t *testing.T) {
	sources := []string{"nome", "telefone", "empresa", "observacoes", "etapa"}
	targets := []string{"name", "phone", "company", "notes", "stage", "email"}

	first := SuggestMappings(sources, targets, nil)
	second := SuggestMappings(sources, targets, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("suggestion output is not deterministic")
	}
	// Ordering: confidence desc, then similarity desc.
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		if confidenceRank(cur.Confidence) > confidenceRank(prev.Confidence) {
			t.Fatalf("suggestions out of confidence order at %d: %+v", i, first)
		}
		if cur.Confidence == prev.Confidence && cur.Similarity > prev.Similarity {
			t.Fatalf("suggestions out of similarity order at %d: %+v", i, first)
		}
	}
}

func TestIsPhoneField(t *testing.T) {
	for _, name := range []string{"Telefone", "phone", "celular", "Mobile_Phone"} {
		if !IsPhoneField(name) {
			t.Fatalf("IsPhoneField(%q) = false", name)
		}
	}
	for _, name := range []string{"email", "nome", "random_field"} {
		if IsPhoneField(name) {
			t.Fatalf("IsPhoneField(%q) = true", name)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	if got := NormalizePhone("11 98765-4321", "BR"); got != "+5511987654321" {
		t.Fatalf("NormalizePhone BR = %q", got)
	}
	// Unparseable values pass through unchanged.
	if got := NormalizePhone("not-a-phone", "BR"); got != "not-a-phone" {
		t.Fatalf("unparseable phone mutated: %q", got)
	}
	if got := NormalizePhone("", "BR"); got != "" {
		t.Fatalf("empty phone mutated: %q", got)
	}
}
