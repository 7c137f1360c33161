// Package compiler turns introspected column metadata into per-table
// metadata, type and operation definitions for the external execution
// engine, and the key metadata that parameterizes the query engine. It also
// owns the data-definition surface (createTable/alterTable).
package compiler

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jscomplete/graphfront/internal/datatypes"
	"github.com/jscomplete/graphfront/internal/introspect"
	"github.com/jscomplete/graphfront/internal/naming"
	"github.com/jscomplete/graphfront/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// Field is one entry of the data-definition surface: the shape consumed by
// CreateTable and AlterTable.
type Field struct {
	// ID is the stable field identifier used for alter diffs.
	ID string `json:"id"`
	// Name is the field's semantic (camelCased) name.
	Name string `json:"nameValue"`
	// Type is the semantic type, or the related model name for relations.
	Type     string `json:"typeValue"`
	Required bool   `json:"isRequired"`
	Relation bool   `json:"isRelation"`
}

// TableDefinition is the input of CreateTable and AlterTable.
type TableDefinition struct {
	CollectionName string  `json:"collectionName"`
	Fields         []Field `json:"fields"`
}

// FieldMetadata describes one compiled field of a table.
type FieldMetadata struct {
	// ID is stable across recompilations: "<table>_<column>".
	ID       string `json:"id"`
	Name     string `json:"nameValue"`
	Type     string `json:"typeValue"`
	Required bool   `json:"isRequired"`
	Relation bool   `json:"isRelation"`
	// RelatedTable is set only for relation fields.
	RelatedTable string `json:"relatedTable,omitempty"`
}

// TableMetadata is the compiled metadata of one table.
type TableMetadata struct {
	TableName      string          `json:"tableName"`
	ModelName      string          `json:"modelName"`
	CollectionName string          `json:"collectionName"`
	Fields         []FieldMetadata `json:"fields"`
}

// Compiler builds compiled schemas and executes data-definition statements
// for one namespace.
type Compiler struct {
	db        *sql.DB
	logger    logger.Logger
	namespace string
	intro     *introspect.Introspector
}

// New returns a Compiler for the namespace.
func New(db *sql.DB, log logger.Logger, namespace string) *Compiler {
	return &Compiler{
		db:        db,
		logger:    log.WithPrefix("[compiler]"),
		namespace: namespace,
		intro:     introspect.New(db, log, namespace),
	}
}

// Namespace returns the namespace the compiler operates on.
func (c *Compiler) Namespace() string {
	return c.namespace
}

// Introspector returns the underlying catalog reader.
func (c *Compiler) Introspector() *introspect.Introspector {
	return c.intro
}

// columnDDL renders one field as a column definition. Relation fields become
// text foreign keys into the related table's external identifier, with an
// "_id" suffix added to the column name when missing.
func (c *Compiler) columnDDL(f Field) string {
	name := naming.ToSnakeCase(f.Name)
	if f.Relation && !strings.HasSuffix(name, "_id") {
		name += "_id"
	}
	columnType := datatypes.ToNativeType(f.Type)
	if f.Relation {
		columnType = fmt.Sprintf("text references %s(id)", util.TableRef(c.namespace, naming.ToTableName(f.Type)))
	}
	ddl := util.QuoteIdentifier(name) + " " + columnType
	if f.Required {
		ddl += " not null"
	}
	return ddl
}

// CreateTable creates the table for a collection: a surrogate internal key
// for storage ordering, an opaque externally-visible identifier, one column
// per field, and created/updated timestamps. It returns fresh metadata read
// back from the catalog.
func (c *Compiler) CreateTable(ctx context.Context, def TableDefinition) (*TableMetadata, error) {
	tableName := naming.ToTableName(def.CollectionName)
	columns := []string{
		"idx bigserial primary key",
		"id text not null unique default md5(now()::text || '-' || random()::text)",
	}
	for _, f := range def.Fields {
		columns = append(columns, c.columnDDL(f))
	}
	columns = append(columns,
		"created_at timestamp without time zone not null default (now() at time zone 'utc')",
		"updated_at timestamp without time zone not null default (now() at time zone 'utc')",
	)
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", util.TableRef(c.namespace, tableName), strings.Join(columns, ", "))
	c.logger.Debug("executing: %s", ddl)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("error creating table %s: %w", tableName, err)
	}
	return c.TableMetadata(ctx, tableName)
}

// reservedField returns true for the columns the alter diff never drops.
func reservedField(name string) bool {
	switch name {
	case "idx", "id", "createdAt", "updatedAt":
		return true
	}
	return false
}

// AlterTable diffs the requested fields against the table's current fields
// by stable field identifier: fields only in the request are added, fields
// only in storage (excluding the internal key, external identifier, and
// timestamps) are dropped, and matches are left untouched. No statement is
// issued for an empty diff.
func (c *Compiler) AlterTable(ctx context.Context, def TableDefinition) (*TableMetadata, error) {
	tableName := naming.ToTableName(def.CollectionName)
	current, err := c.TableMetadata(ctx, tableName)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(current.Fields))
	for _, f := range current.Fields {
		existing[f.ID] = true
	}
	requested := make(map[string]bool, len(def.Fields))
	var newFields []Field
	for _, f := range def.Fields {
		requested[f.ID] = true
		if !existing[f.ID] {
			newFields = append(newFields, f)
		}
	}
	var dropFields []FieldMetadata
	for _, f := range current.Fields {
		if !requested[f.ID] && !reservedField(f.Name) {
			dropFields = append(dropFields, f)
		}
	}
	if len(newFields) == 0 && len(dropFields) == 0 {
		return current, nil
	}

	parts := make([]string, 0, len(newFields)+len(dropFields))
	for _, f := range newFields {
		parts = append(parts, "ADD COLUMN "+c.columnDDL(f))
	}
	for _, f := range dropFields {
		parts = append(parts, "DROP COLUMN "+util.QuoteIdentifier(naming.ToSnakeCase(f.Name)))
	}
	ddl := fmt.Sprintf("ALTER TABLE %s %s", util.TableRef(c.namespace, tableName), strings.Join(parts, ", "))
	c.logger.Debug("executing: %s", ddl)
	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("error altering table %s: %w", tableName, err)
	}
	return c.TableMetadata(ctx, tableName)
}

// TableMetadata re-reads one table's metadata from the catalog. The
// synthetic internal key column is never part of the result.
func (c *Compiler) TableMetadata(ctx context.Context, tableName string) (*TableMetadata, error) {
	cols, err := c.intro.TableColumns(ctx, tableName)
	if err != nil {
		return nil, err
	}
	return c.tableMetadata(tableName, cols), nil
}

// ModelsInfo returns the compiled metadata for every table in the namespace.
func (c *Compiler) ModelsInfo(ctx context.Context, includePK bool) (map[string]*TableMetadata, error) {
	data, err := c.intro.AllColumns(ctx, includePK)
	if err != nil {
		return nil, err
	}
	res := make(map[string]*TableMetadata, len(data))
	for tableName, cols := range data {
		res[tableName] = c.tableMetadata(tableName, cols)
	}
	return res, nil
}

func (c *Compiler) tableMetadata(tableName string, cols []introspect.ColumnDescriptor) *TableMetadata {
	fields := make([]FieldMetadata, 0, len(cols))
	for _, col := range cols {
		fields = append(fields, FieldMetadata{
			ID:           tableName + "_" + col.ColumnName,
			Name:         naming.ToCamelCase(col.ColumnName),
			Type:         datatypes.ToFieldType(col.DataType),
			Required:     !col.IsNullable,
			Relation:     col.IsForeignKey(),
			RelatedTable: col.RelatedTableName,
		})
	}
	return &TableMetadata{
		TableName:      tableName,
		ModelName:      naming.ToModelName(tableName),
		CollectionName: naming.ToCollectionName(tableName),
		Fields:         fields,
	}
}

func sortedTables(data map[string][]introspect.ColumnDescriptor) []string {
	tables := make([]string, 0, len(data))
	for table := range data {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables
}
