// Package introspect reads table and column metadata for a database
// namespace from the information schema.
package introspect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopmonkeyus/go-common/logger"
)

// Constraint classifications as reported by the information schema.
const (
	ConstraintPrimaryKey = "PRIMARY KEY"
	ConstraintUnique     = "UNIQUE"
	ConstraintForeignKey = "FOREIGN KEY"
)

// InternalKeyColumn is the synthetic surrogate key column added by the
// compiler for storage ordering. It is never exposed to API consumers.
const InternalKeyColumn = "idx"

// columnsView joins the information schema columns with their constraint
// classification and, for foreign keys, the referenced table and column.
const columnsView = `
	SELECT cols.table_schema,
		cols.table_name,
		cols.column_name,
		cols.is_nullable,
		cols.data_type,
		cols.column_default,
		fkv.constraint_type,
		cols.ordinal_position,
		fkv.related_table_name,
		fkv.related_column_name
	FROM information_schema.columns cols
		LEFT OUTER JOIN (
			SELECT tc.table_schema,
				tc.table_name,
				tc.constraint_type,
				kcu.column_name,
				ccu.table_name AS related_table_name,
				ccu.column_name AS related_column_name
			FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND kcu.table_schema = tc.table_schema
				JOIN information_schema.constraint_column_usage ccu
					ON ccu.constraint_name = tc.constraint_name
					AND ccu.table_schema = tc.table_schema
		) fkv
			ON fkv.table_schema = cols.table_schema
			AND fkv.table_name = cols.table_name
			AND fkv.column_name = cols.column_name
`

// ColumnDescriptor describes one column of a base table, including its
// constraint classification when it carries one.
type ColumnDescriptor struct {
	TableName         string
	ColumnName        string
	IsNullable        bool
	DataType          string
	ColumnDefault     *string
	ConstraintType    string
	OrdinalPosition   int
	RelatedTableName  string
	RelatedColumnName string
}

// IsPrimaryKey returns true if the column is classified as the primary key.
func (c ColumnDescriptor) IsPrimaryKey() bool {
	return c.ConstraintType == ConstraintPrimaryKey
}

// IsForeignKey returns true if the column is classified as a foreign key.
func (c ColumnDescriptor) IsForeignKey() bool {
	return c.ConstraintType == ConstraintForeignKey
}

// Introspector reads catalog metadata for a single namespace.
type Introspector struct {
	db        *sql.DB
	logger    logger.Logger
	namespace string
}

// New returns an Introspector for the namespace.
func New(db *sql.DB, logger logger.Logger, namespace string) *Introspector {
	return &Introspector{
		db:        db,
		logger:    logger.WithPrefix("[introspect]"),
		namespace: namespace,
	}
}

// Namespace returns the namespace the introspector reads from.
func (i *Introspector) Namespace() string {
	return i.namespace
}

// TableNames returns the base tables of the namespace.
func (i *Introspector) TableNames(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT table_name FROM information_schema.tables WHERE table_type = 'BASE TABLE' AND table_schema = $1 ORDER BY table_name`,
		i.namespace)
	if err != nil {
		return nil, fmt.Errorf("error querying tables for %s: %w", i.namespace, err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// AllColumns returns the column descriptors for every base table in the
// namespace, ordered by ordinal position. Primary key rows are filtered out
// when includePK is false.
func (i *Introspector) AllColumns(ctx context.Context, includePK bool) (map[string][]ColumnDescriptor, error) {
	tables, err := i.TableNames(ctx)
	if err != nil {
		return nil, err
	}
	res := make(map[string][]ColumnDescriptor, len(tables))
	for _, table := range tables {
		res[table] = nil
	}
	if len(tables) == 0 {
		return res, nil
	}
	rows, err := i.db.QueryContext(ctx,
		`SELECT * FROM (`+columnsView+`) cv WHERE table_schema = $1 AND table_name = ANY($2) ORDER BY ordinal_position`,
		i.namespace, pq.Array(tables))
	if err != nil {
		return nil, fmt.Errorf("error querying columns for %s: %w", i.namespace, err)
	}
	defer rows.Close()
	for rows.Next() {
		col, err := scanColumn(rows)
		if err != nil {
			return nil, err
		}
		if !includePK && col.IsPrimaryKey() {
			continue
		}
		res[col.TableName] = append(res[col.TableName], col)
	}
	i.logger.Debug("introspected %d tables in %s", len(tables), i.namespace)
	return res, rows.Err()
}

// TableColumns returns the column descriptors for one table, excluding the
// synthetic internal key column.
func (i *Introspector) TableColumns(ctx context.Context, tableName string) ([]ColumnDescriptor, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT * FROM (`+columnsView+`) cv WHERE table_schema = $1 AND table_name = $2 AND column_name != '`+InternalKeyColumn+`' ORDER BY ordinal_position`,
		i.namespace, tableName)
	if err != nil {
		return nil, fmt.Errorf("error querying columns for %s.%s: %w", i.namespace, tableName, err)
	}
	defer rows.Close()
	var cols []ColumnDescriptor
	for rows.Next() {
		col, err := scanColumn(rows)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func scanColumn(rows *sql.Rows) (ColumnDescriptor, error) {
	var col ColumnDescriptor
	var schema, nullable string
	var constraintType, relatedTable, relatedColumn sql.NullString
	if err := rows.Scan(&schema, &col.TableName, &col.ColumnName, &nullable, &col.DataType,
		&col.ColumnDefault, &constraintType, &col.OrdinalPosition, &relatedTable, &relatedColumn); err != nil {
		return col, err
	}
	col.IsNullable = nullable != "NO"
	col.ConstraintType = constraintType.String
	col.RelatedTableName = relatedTable.String
	col.RelatedColumnName = relatedColumn.String
	return col, nil
}
