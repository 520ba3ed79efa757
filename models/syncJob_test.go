package models

import (
	"testing"
	"time"
)

func TestAppendJobErrorDetailsBound(t *testing.T) {
	var raw []byte
	for i := 0; i < MaxJobErrorDetails+10; i++ {
		raw = AppendJobErrorDetails(raw, JobErrorDetail{
			RowID:     i,
			Error:     "boom",
			Timestamp: time.Now().UTC(),
		})
	}
	details := DecodeJobErrorDetails(raw)
	if len(details) != MaxJobErrorDetails {
		t.Fatalf("kept %d details, want %d", len(details), MaxJobErrorDetails)
	}
	// Oldest entries are dropped first.
	if details[0].RowID != 10 {
		t.Fatalf("oldest kept detail is row %d, want 10", details[0].RowID)
	}
	if details[len(details)-1].RowID != MaxJobErrorDetails+9 {
		t.Fatalf("newest detail is row %d", details[len(details)-1].RowID)
	}
}

func TestDecodeJobErrorDetailsBadInput(t *testing.T) {
	if got := DecodeJobErrorDetails(nil); got != nil {
		t.Fatalf("nil input produced %v", got)
	}
	if got := DecodeJobErrorDetails([]byte("not json")); got != nil {
		t.Fatalf("malformed input produced %v", got)
	}
}
