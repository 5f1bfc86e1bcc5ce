package schema

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"relfold/internal/dbexec"
	"relfold/internal/logging"

	"github.com/jinzhu/inflection"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (dbexec.Rows, error)
}

type foreignKey struct {
	ColumnName       string
	ReferencedTable  string
	ReferencedColumn string
	ConstraintName   string
	OrdinalPosition  int
}

type tableInfo struct {
	name          string
	columns       []string
	primaryKeys   []string
	foreignKeys   []foreignKey
	uniqueColumns map[string]bool
}

// Introspect reads MySQL-compatible INFORMATION_SCHEMA for databaseName and returns
// one entity per base table. Single-column foreign keys become BelongsTo relations on
// the referencing table and HasMany (or HasOne, when the column is unique) relations
// on the referenced table.
func Introspect(ctx context.Context, db Queryer, databaseName string) ([]Entity, error) {
	ctx, span := startSpan(ctx, "schema.introspect",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	names, err := getTables(ctx, db, databaseName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}

	tables := make([]tableInfo, 0, len(names))
	for _, name := range names {
		info := tableInfo{name: name}
		if info.columns, err = getColumns(ctx, db, databaseName, name); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get columns for %s: %w", name, err)
		}
		if info.primaryKeys, err = getPrimaryKeys(ctx, db, databaseName, name); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get primary keys for table %s: %w", name, err)
		}
		if info.foreignKeys, err = getForeignKeys(ctx, db, databaseName, name); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", name, err)
		}
		if info.uniqueColumns, err = getUniqueColumns(ctx, db, databaseName, name); err != nil {
			recordSpanError(span, err)
			return nil, fmt.Errorf("failed to get unique indexes for table %s: %w", name, err)
		}
		tables = append(tables, info)
	}

	entities := buildEntities(ctx, tables)
	span.SetAttributes(attribute.Int("schema.entities", len(entities)))
	return entities, nil
}

func buildEntities(ctx context.Context, tables []tableInfo) []Entity {
	logger := logging.FromContext(ctx)

	entities := make([]Entity, len(tables))
	byName := make(map[string]int, len(tables))
	for i, t := range tables {
		pk := ""
		if len(t.primaryKeys) == 1 {
			pk = t.primaryKeys[0]
		}
		entities[i] = Entity{Name: t.name, Table: t.name, PrimaryKey: pk, Columns: t.columns}
		byName[t.name] = i
	}

	addRelation := func(owner int, rel Relation) {
		e := &entities[owner]
		if _, exists := e.Relation(rel.Name); exists || contains(e.Columns, rel.Name) {
			logger.Warn("skipping introspected relation with a conflicting name",
				slog.String("entity", e.Name),
				slog.String("relation", rel.Name),
				slog.String("related", rel.Related),
			)
			return
		}
		e.Relations = append(e.Relations, rel)
	}

	// Count constraints per (source, target) pair so the reverse side can be
	// disambiguated when one table references another more than once.
	fkCount := make(map[string]map[string]int)
	for _, t := range tables {
		for _, fk := range singleColumnForeignKeys(ctx, t) {
			if fkCount[t.name] == nil {
				fkCount[t.name] = make(map[string]int)
			}
			fkCount[t.name][fk.ReferencedTable]++
		}
	}

	for i, t := range tables {
		for _, fk := range singleColumnForeignKeys(ctx, t) {
			if _, ok := byName[fk.ReferencedTable]; !ok {
				continue
			}
			addRelation(i, Relation{
				Name:       belongsToName(fk.ColumnName, fk.ReferencedTable),
				Kind:       BelongsTo,
				Related:    fk.ReferencedTable,
				ForeignKey: fk.ColumnName,
				OwnerKey:   fk.ReferencedColumn,
			})
		}
	}

	for _, t := range tables {
		for _, fk := range singleColumnForeignKeys(ctx, t) {
			target, ok := byName[fk.ReferencedTable]
			if !ok {
				continue
			}
			kind := HasMany
			name := inflection.Plural(t.name)
			if t.uniqueColumns[fk.ColumnName] {
				kind = HasOne
				name = inflection.Singular(t.name)
			}
			if fkCount[t.name][fk.ReferencedTable] > 1 {
				name = columnStem(fk.ColumnName) + "_" + name
			}
			addRelation(target, Relation{
				Name:       name,
				Kind:       kind,
				Related:    t.name,
				ForeignKey: fk.ColumnName,
				LocalKey:   fk.ReferencedColumn,
			})
		}
	}

	return entities
}

// singleColumnForeignKeys groups key usage rows by constraint and keeps the
// single-column ones. Composite constraints are reported and skipped.
func singleColumnForeignKeys(ctx context.Context, t tableInfo) []foreignKey {
	grouped := make(map[string][]foreignKey)
	var order []string
	for _, fk := range t.foreignKeys {
		if _, ok := grouped[fk.ConstraintName]; !ok {
			order = append(order, fk.ConstraintName)
		}
		grouped[fk.ConstraintName] = append(grouped[fk.ConstraintName], fk)
	}
	sort.Strings(order)

	out := make([]foreignKey, 0, len(order))
	for _, name := range order {
		parts := grouped[name]
		if len(parts) != 1 {
			logging.FromContext(ctx).Warn("skipping composite foreign key",
				slog.String("table", t.name),
				slog.String("constraint", name),
				slog.Int("columns", len(parts)),
			)
			continue
		}
		out = append(out, parts[0])
	}
	return out
}

func belongsToName(column, referencedTable string) string {
	if stem := columnStem(column); stem != column {
		return stem
	}
	return inflection.Singular(referencedTable)
}

func columnStem(column string) string {
	lower := strings.ToLower(column)
	if strings.HasSuffix(lower, "_id") && len(column) > 3 {
		return column[:len(column)-3]
	}
	return column
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func getTables(ctx context.Context, db Queryer, databaseName string) ([]string, error) {
	ctx, span := startSpan(ctx, "schema.get_tables",
		attribute.String("db.name", databaseName),
	)
	defer span.End()

	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	names, err := scanStrings(ctx, db, query, databaseName)
	recordSpanError(span, err)
	return names, err
}

func getColumns(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error) {
	ctx, span := startSpan(ctx, "schema.get_columns",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	columns, err := scanStrings(ctx, db, query, databaseName, tableName)
	recordSpanError(span, err)
	return columns, err
}

func getPrimaryKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]string, error) {
	ctx, span := startSpan(ctx, "schema.get_primary_keys",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`
	keys, err := scanStrings(ctx, db, query, databaseName, tableName)
	recordSpanError(span, err)
	return keys, err
}

func getForeignKeys(ctx context.Context, db Queryer, databaseName, tableName string) ([]foreignKey, error) {
	ctx, span := startSpan(ctx, "schema.get_foreign_keys",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT
			COLUMN_NAME,
			REFERENCED_TABLE_NAME,
			REFERENCED_COLUMN_NAME,
			CONSTRAINT_NAME,
			ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var foreignKeys []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTable,
			&fk.ReferencedColumn, &fk.ConstraintName, &fk.OrdinalPosition); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		foreignKeys = append(foreignKeys, fk)
	}

	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return foreignKeys, nil
}

// getUniqueColumns returns columns covered on their own by a unique index.
func getUniqueColumns(ctx context.Context, db Queryer, databaseName, tableName string) (map[string]bool, error) {
	ctx, span := startSpan(ctx, "schema.get_unique_columns",
		attribute.String("db.name", databaseName),
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT INDEX_NAME, COLUMN_NAME
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ?
			AND TABLE_NAME = ?
			AND NON_UNIQUE = 0
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`

	rows, err := db.QueryContext(ctx, query, databaseName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	indexColumns := make(map[string][]string)
	for rows.Next() {
		var indexName, columnName string
		if err := rows.Scan(&indexName, &columnName); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		indexColumns[indexName] = append(indexColumns[indexName], columnName)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	unique := make(map[string]bool)
	for _, cols := range indexColumns {
		if len(cols) == 1 {
			unique[cols[0]] = true
		}
	}
	return unique, nil
}

func scanStrings(ctx context.Context, db Queryer, query string, args ...any) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relfold/schema")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
