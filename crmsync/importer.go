package crmsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/leads_backend/config"
	"bitbucket.org/mmdatafocus/leads_backend/fieldmap"
	"bitbucket.org/mmdatafocus/leads_backend/models"
)

// ImportResult summarizes one paginated CRM import run.
type ImportResult struct {
	Pages   int `json:"pages"`
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

func importPageLimit() int {
	if v := strings.TrimSpace(os.Getenv("LEADSYNC_IMPORT_MAX_PAGES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 20
}

// RunImport walks the CRM lead list page by page and upserts each record into
// the local table, keyed by external id. The raw payload is stored alongside
// so reprocess jobs can re-derive fields later without another fetch.
func RunImport(ctx context.Context, db *gorm.DB) (*ImportResult, error) {
	client, err := newCRMClient()
	if err != nil {
		return nil, err
	}

	mappings, err := models.GetActiveMappings(ctx, db, models.MappingChannelBatch)
	if err != nil {
		return nil, fmt.Errorf("load batch mappings: %w", err)
	}

	engine := &Engine{DB: db, Logger: config.GetLogger(), PhoneRegion: config.DefaultPhoneRegion()}
	res := &ImportResult{}
	cursor := ""
	maxPages := importPageLimit()

	for page := 0; page < maxPages; page++ {
		records, nextCursor, hasMore, err := client.ListLeads(ctx, cursor, 100)
		if err != nil {
			return res, fmt.Errorf("list leads (page %d): %w", page+1, err)
		}
		res.Pages++
		res.Fetched += len(records)

		for _, raw := range records {
			if err := importRecord(ctx, db, engine, mappings, raw, res); err != nil {
				res.Errors++
				config.LogError(config.GetLogger(), "crmsync", "RunImport", "", string(raw), err)
			}
		}

		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
	}
	return res, nil
}

// externalIDOf pulls the CRM record id out of a raw payload. The CRM sends it
// as "id", numeric or string.
func externalIDOf(bag map[string]fieldmap.FieldValue) string {
	v, ok := bag["id"]
	if !ok {
		v, ok = bag["external_id"]
	}
	if !ok {
		return ""
	}
	switch v.Kind {
	case fieldmap.KindString:
		return v.Str
	case fieldmap.KindNumber:
		return v.Num.String()
	}
	return ""
}

func importRecord(ctx context.Context, db *gorm.DB, engine *Engine, mappings []models.FieldMapping, raw json.RawMessage, res *ImportResult) error {
	bag, err := fieldmap.DecodePayload(raw)
	if err != nil {
		return err
	}
	externalID := externalIDOf(bag)
	if externalID == "" {
		res.Skipped++
		return nil
	}

	values, err := engine.shapeLead(raw, mappings)
	if err != nil {
		return err
	}
	delete(values, "id")
	if len(values) == 0 {
		res.Skipped++
		return nil
	}
	values["external_id"] = externalID
	values["raw_payload_json"] = []byte(raw)

	var existing models.Lead
	err = db.WithContext(ctx).Where("external_id = ?", externalID).First(&existing).Error
	switch {
	case err == nil:
		if err := db.WithContext(ctx).Model(&models.Lead{}).
			Where("id = ?", existing.ID).
			Updates(values).Error; err != nil {
			return err
		}
		res.Updated++
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.WithContext(ctx).Model(&models.Lead{}).Create(values).Error; err != nil {
			return err
		}
		res.Created++
	default:
		return err
	}
	return nil
}
