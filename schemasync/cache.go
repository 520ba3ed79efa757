package schemasync

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/leads_backend/config"
)

// The schema cache lets payload shaping check live columns without an
// information_schema round trip per event. The reconciler refills it; the
// queue processor invalidates it when a write outruns the cached catalog.

func schemaCacheKey(table string) string {
	return fmt.Sprintf("leadsync:schema:%s", table)
}

// ReloadSchemaCache re-reads the table catalog and replaces the cached copy.
func ReloadSchemaCache(ctx context.Context, db *gorm.DB, table string) error {
	cols, err := Columns(ctx, db, table)
	if err != nil {
		return err
	}
	return config.SetRedisObject(schemaCacheKey(table), cols, 0)
}

// CachedColumns returns the cached catalog, falling back to a live read (and
// a cache fill) on miss.
func CachedColumns(ctx context.Context, db *gorm.DB, table string) ([]ColumnDescriptor, error) {
	var cols []ColumnDescriptor
	found, err := config.GetRedisObject(schemaCacheKey(table), &cols)
	if err != nil {
		config.LogWarn(config.GetLogger(), "schemasync", "CachedColumns", table, err.Error())
	}
	if found && len(cols) > 0 {
		return cols, nil
	}

	cols, err = Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(schemaCacheKey(table), cols, 0); err != nil {
		config.LogWarn(config.GetLogger(), "schemasync", "CachedColumns", table, err.Error())
	}
	return cols, nil
}

// InvalidateSchemaCache drops the cached catalog for a table.
func InvalidateSchemaCache(table string) error {
	return config.RemoveRedisKey(schemaCacheKey(table))
}
