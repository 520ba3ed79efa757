// Package schemasync keeps the local lead table and its remote mirror
// structurally aligned. Reconciliation is strictly additive: columns present
// on one side and absent on the other are added, nothing is ever dropped or
// retyped.
package schemasync

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/leads_backend/config"
)

// ColumnDescriptor is one column of a table catalog, as read from
// information_schema. Not persisted.
type ColumnDescriptor struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	Nullable   bool   `json:"nullable"`
	HasDefault bool   `json:"has_default"`
}

// SkippedColumn records a remote column whose type has no local equivalent.
// Skips are reported, never silent.
type SkippedColumn struct {
	Name       string `json:"name"`
	RemoteType string `json:"remote_type"`
	Reason     string `json:"reason"`
}

// Result is the outcome of one reconciliation run.
type Result struct {
	Table          string          `json:"table"`
	ColumnsMissing []string        `json:"columns_missing"`
	ColumnsAdded   []string        `json:"columns_added"`
	ColumnsSkipped []SkippedColumn `json:"columns_skipped"`
	IndexesCreated []string        `json:"indexes_created"`
	IndexWarnings  []string        `json:"index_warnings"`
	SchemaReloaded bool            `json:"schema_reloaded"`
	NoOp           bool            `json:"no_op"`
}

// remoteTypeMap translates source-catalog types into the MySQL column types
// we create locally. A remote type outside this map cannot be auto-added.
var remoteTypeMap = map[string]string{
	"text":              "TEXT",
	"varchar":           "VARCHAR(255)",
	"character varying": "VARCHAR(255)",
	"char":              "VARCHAR(255)",
	"character":         "VARCHAR(255)",
	"int":               "INT",
	"integer":           "INT",
	"smallint":          "INT",
	"mediumint":         "INT",
	"bigint":            "BIGINT",
	"numeric":           "DECIMAL(20,6)",
	"decimal":           "DECIMAL(20,6)",
	"double precision":  "DECIMAL(20,6)",
	"real":              "DECIMAL(20,6)",
	"float":             "DECIMAL(20,6)",
	"boolean":           "TINYINT(1)",
	"bool":              "TINYINT(1)",
	"tinyint":           "TINYINT(1)",
	"timestamp":         "DATETIME",
	"timestamptz":       "DATETIME",
	"datetime":          "DATETIME",
	"date":              "DATE",
	"json":              "JSON",
	"jsonb":             "JSON",
	"uuid":              "CHAR(36)",
}

// noIndexColumns never get a secondary index: id is the primary key and the
// audit timestamps already carry table-level indexes.
var noIndexColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

func mapRemoteType(remote string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(remote))
	if idx := strings.IndexByte(s, '('); idx > 0 {
		s = strings.TrimSpace(s[:idx])
	}
	t, ok := remoteTypeMap[s]
	return t, ok
}

// missingColumns returns the remote column names absent from local,
// preserving remote order.
func missingColumns(remote, local []ColumnDescriptor) []ColumnDescriptor {
	have := make(map[string]bool, len(local))
	for _, c := range local {
		have[strings.ToLower(c.Name)] = true
	}
	var out []ColumnDescriptor
	for _, c := range remote {
		if !have[strings.ToLower(c.Name)] {
			out = append(out, c)
		}
	}
	return out
}

// Columns reads the column catalog of a table from information_schema on the
// given handle.
func Columns(ctx context.Context, db *gorm.DB, table string) ([]ColumnDescriptor, error) {
	rows, err := db.WithContext(ctx).Raw(`
		SELECT column_name, data_type, is_nullable, column_default IS NOT NULL
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`, table).Rows()
	if err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	defer rows.Close()

	var cols []ColumnDescriptor
	for rows.Next() {
		var (
			c        ColumnDescriptor
			nullable string
		)
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &c.HasDefault); err != nil {
			return nil, fmt.Errorf("introspect %s: %w", table, err)
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspect %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("introspect %s: table not found", table)
	}
	return cols, nil
}

// buildAlter renders one additive ALTER covering every addable column.
func buildAlter(table string, adds []ColumnDescriptor) string {
	parts := make([]string, 0, len(adds))
	for _, c := range adds {
		localType, _ := mapRemoteType(c.DataType)
		parts = append(parts, fmt.Sprintf("ADD COLUMN `%s` %s NULL", c.Name, localType))
	}
	return fmt.Sprintf("ALTER TABLE `%s` %s", table, strings.Join(parts, ", "))
}

func indexName(table, column string) string {
	return fmt.Sprintf("idx_%s_%s", table, column)
}

// buildIndex renders the CREATE INDEX statement for one added column. TEXT
// columns need a key-length prefix under utf8mb4.
func buildIndex(table string, c ColumnDescriptor) (string, bool) {
	localType, _ := mapRemoteType(c.DataType)
	switch localType {
	case "JSON":
		// MySQL cannot index a JSON column directly.
		return "", false
	case "TEXT":
		return fmt.Sprintf("CREATE INDEX %s ON `%s` (`%s`(191))", indexName(table, c.Name), table, c.Name), true
	default:
		return fmt.Sprintf("CREATE INDEX %s ON `%s` (`%s`)", indexName(table, c.Name), table, c.Name), true
	}
}

// Reconcile brings the table on db up to date with the remote catalog. The
// run is linear: diff, one additive ALTER, per-column indexes, cache reload.
// An ALTER failure aborts the run; an index failure is recorded and the run
// continues.
func Reconcile(ctx context.Context, db *gorm.DB, table string, remote []ColumnDescriptor) (*Result, error) {
	logger := config.GetLogger()
	res := &Result{Table: table}

	local, err := Columns(ctx, db, table)
	if err != nil {
		return nil, err
	}

	missing := missingColumns(remote, local)
	for _, c := range missing {
		res.ColumnsMissing = append(res.ColumnsMissing, c.Name)
	}
	if len(missing) == 0 {
		res.NoOp = true
		return res, nil
	}

	var adds []ColumnDescriptor
	for _, c := range missing {
		if _, ok := mapRemoteType(c.DataType); !ok {
			skip := SkippedColumn{
				Name:       c.Name,
				RemoteType: c.DataType,
				Reason:     fmt.Sprintf("no local type mapping for %q", c.DataType),
			}
			res.ColumnsSkipped = append(res.ColumnsSkipped, skip)
			config.LogWarn(logger, "schemasync", "Reconcile", table,
				fmt.Sprintf("skipping column %s: %s", c.Name, skip.Reason))
			continue
		}
		adds = append(adds, c)
	}
	if len(adds) == 0 {
		return res, nil
	}

	alter := buildAlter(table, adds)
	if err := db.WithContext(ctx).Exec(alter).Error; err != nil {
		config.LogError(logger, "schemasync", "Reconcile", table, alter, err)
		return nil, fmt.Errorf("alter %s: %w", table, err)
	}
	for _, c := range adds {
		res.ColumnsAdded = append(res.ColumnsAdded, c.Name)
	}

	for _, c := range adds {
		if noIndexColumns[strings.ToLower(c.Name)] {
			continue
		}
		stmt, ok := buildIndex(table, c)
		if !ok {
			continue
		}
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			warning := fmt.Sprintf("index %s: %v", indexName(table, c.Name), err)
			res.IndexWarnings = append(res.IndexWarnings, warning)
			config.LogWarn(logger, "schemasync", "Reconcile", table, warning)
			continue
		}
		res.IndexesCreated = append(res.IndexesCreated, indexName(table, c.Name))
	}

	if err := ReloadSchemaCache(ctx, db, table); err != nil {
		config.LogError(logger, "schemasync", "Reconcile", table, nil, err)
	} else {
		res.SchemaReloaded = true
	}

	logger.WithField("result", res).Infof("reconciled schema for %s", table)
	return res, nil
}

// Pull aligns the primary table with the mirror's catalog (mirror is the
// source of column truth for pull).
func Pull(ctx context.Context, table string) (*Result, error) {
	remote, err := Columns(ctx, config.GetMirrorDB(), table)
	if err != nil {
		return nil, err
	}
	return Reconcile(ctx, config.GetDB(), table, remote)
}

// Push aligns the mirror table with the primary's catalog.
func Push(ctx context.Context, table string) (*Result, error) {
	remote, err := Columns(ctx, config.GetDB(), table)
	if err != nil {
		return nil, err
	}
	return Reconcile(ctx, config.GetMirrorDB(), table, remote)
}
