package crmsync

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Filter restricts which leads a job covers. It is decoded from the job's
// immutable filter_criteria column, so count and batch queries always agree.
type Filter struct {
	Stage         string     `json:"stage,omitempty"`
	Source        string     `json:"source,omitempty"`
	Company       string     `json:"company,omitempty"`
	UpdatedAfter  *time.Time `json:"updated_after,omitempty"`
	UpdatedBefore *time.Time `json:"updated_before,omitempty"`
}

// filterColumns is the whitelist of lead columns a filter may touch. Filters
// come in over HTTP; anything outside this set is rejected at job creation.
var filterColumns = map[string]bool{
	"stage":          true,
	"source":         true,
	"company":        true,
	"updated_after":  true,
	"updated_before": true,
}

// ParseFilter decodes and validates raw filter criteria. Unknown keys are an
// error rather than silently dropped: a typo in a filter must not turn a
// scoped job into a full-table one.
func ParseFilter(raw []byte) (Filter, error) {
	var f Filter
	if len(raw) == 0 {
		return f, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return f, fmt.Errorf("malformed filter criteria: %w", err)
	}
	for k := range keys {
		if !filterColumns[k] {
			return f, fmt.Errorf("unknown filter field %q", k)
		}
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("malformed filter criteria: %w", err)
	}
	if f.UpdatedAfter != nil && f.UpdatedBefore != nil && f.UpdatedBefore.Before(*f.UpdatedAfter) {
		return f, fmt.Errorf("updated_before precedes updated_after")
	}
	return f, nil
}

// apply adds the filter predicates to a lead query. Used identically by the
// count at creation and every batch fetch.
func (f Filter) apply(q *gorm.DB) *gorm.DB {
	if f.Stage != "" {
		q = q.Where("stage = ?", f.Stage)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.Company != "" {
		q = q.Where("company = ?", f.Company)
	}
	if f.UpdatedAfter != nil {
		q = q.Where("updated_at >= ?", *f.UpdatedAfter)
	}
	if f.UpdatedBefore != nil {
		q = q.Where("updated_at <= ?", *f.UpdatedBefore)
	}
	return q
}
