// Package diagnostics audits the mapping configuration against the live
// schema. It only ever reads; fixing what it finds is an operator action.
package diagnostics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/leads_backend/fieldmap"
	"bitbucket.org/mmdatafocus/leads_backend/models"
	"bitbucket.org/mmdatafocus/leads_backend/schemasync"
)

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

const (
	HealthCritical = "critical"
	HealthWarning  = "warning"
	HealthDegraded = "degraded"
	HealthHealthy  = "healthy"
)

var severityRank = map[string]int{
	SeverityCritical: 3,
	SeverityHigh:     2,
	SeverityMedium:   1,
}

// Issue is one finding: what is wrong, where, and what to do about it.
type Issue struct {
	Severity       string `json:"severity"`
	Code           string `json:"code"`
	Channel        string `json:"channel,omitempty"`
	TargetField    string `json:"target_field,omitempty"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation"`
}

// Report is the full audit result.
type Report struct {
	Table       string    `json:"table"`
	GeneratedAt time.Time `json:"generated_at"`
	Health      string    `json:"health"`
	Issues      []Issue   `json:"issues"`
}

// ignoredColumns are live columns the mapping engine never needs to cover:
// keys, audit timestamps and the pipeline's own bookkeeping fields.
var ignoredColumns = map[string]bool{
	"id":               true,
	"created_at":       true,
	"updated_at":       true,
	"raw_payload_json": true,
	"last_synced_at":   true,
	"sync_origin":      true,
	"external_id":      true,
}

// analyze runs every check over in-memory inputs. Pure, so the checks are
// testable without a database.
func analyze(table string, mappings []models.FieldMapping, columns []schemasync.ColumnDescriptor) *Report {
	report := &Report{
		Table:       table,
		GeneratedAt: time.Now().UTC(),
		Issues:      []Issue{},
	}

	// Duplicate active mappings per (channel, target): the processor would
	// apply whichever sorts last, which is a silent data hazard.
	type key struct{ channel, target string }
	byTarget := map[key][]models.FieldMapping{}
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		k := key{m.Channel, fieldmap.Normalize(m.TargetField)}
		byTarget[k] = append(byTarget[k], m)
	}
	for k, ms := range byTarget {
		if len(ms) < 2 {
			continue
		}
		sources := make([]string, 0, len(ms))
		for _, m := range ms {
			sources = append(sources, m.SourceField)
		}
		sort.Strings(sources)
		report.Issues = append(report.Issues, Issue{
			Severity:    SeverityCritical,
			Code:        "duplicate_target_mapping",
			Channel:     k.channel,
			TargetField: k.target,
			Message: fmt.Sprintf("%d active %s mappings write to %q (sources: %s)",
				len(ms), k.channel, k.target, strings.Join(sources, ", ")),
			Recommendation: "deactivate all but one mapping for this target field",
		})
	}

	// Cross-channel divergence: the realtime and batch channels disagree on
	// where a target field comes from, so the two paths write different data.
	realtimeSource := map[string]string{}
	batchSource := map[string]string{}
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		target := fieldmap.Normalize(m.TargetField)
		source := fieldmap.Normalize(m.SourceField)
		switch m.Channel {
		case models.MappingChannelRealtime:
			realtimeSource[target] = source
		case models.MappingChannelBatch:
			batchSource[target] = source
		}
	}
	for target, rtSource := range realtimeSource {
		bSource, ok := batchSource[target]
		if !ok || bSource == rtSource {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Severity:    SeverityHigh,
			Code:        "channel_divergence",
			TargetField: target,
			Message: fmt.Sprintf("target %q is fed from %q on the realtime channel but %q on the batch channel",
				target, rtSource, bSource),
			Recommendation: "align the two channels on one source field for this target",
		})
	}

	// Unmapped live columns: data the schema carries but no channel fills.
	mappedTargets := map[string]bool{}
	for _, m := range mappings {
		if m.Active {
			mappedTargets[fieldmap.Normalize(m.TargetField)] = true
		}
	}
	for _, col := range columns {
		name := fieldmap.Normalize(col.Name)
		if ignoredColumns[name] || mappedTargets[name] {
			continue
		}
		report.Issues = append(report.Issues, Issue{
			Severity:       SeverityMedium,
			Code:           "unmapped_column",
			TargetField:    name,
			Message:        fmt.Sprintf("column %q exists on %s but no active mapping targets it", col.Name, table),
			Recommendation: "add a mapping for this column or drop it from the sync scope",
		})
	}

	sort.SliceStable(report.Issues, func(i, j int) bool {
		ri, rj := severityRank[report.Issues[i].Severity], severityRank[report.Issues[j].Severity]
		if ri != rj {
			return ri > rj
		}
		return report.Issues[i].TargetField < report.Issues[j].TargetField
	})

	report.Health = healthOf(report.Issues)
	return report
}

func healthOf(issues []Issue) string {
	worst := 0
	for _, issue := range issues {
		if r := severityRank[issue.Severity]; r > worst {
			worst = r
		}
	}
	switch worst {
	case 3:
		return HealthCritical
	case 2:
		return HealthWarning
	case 1:
		return HealthDegraded
	}
	return HealthHealthy
}

// Run audits one table: all mappings of both channels against the live
// column catalog.
func Run(ctx context.Context, db *gorm.DB, table string) (*Report, error) {
	var mappings []models.FieldMapping
	if err := db.WithContext(ctx).Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("load mappings: %w", err)
	}

	columns, err := schemasync.Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	return analyze(table, mappings, columns), nil
}
