// Package engine implements the generic metadata-driven CRUD operations for
// a database namespace. Every operation takes a table name and is
// parameterized by the per-table key metadata computed at schema compile
// time; no per-table code exists.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jscomplete/graphfront/internal/naming"
	"github.com/jscomplete/graphfront/internal/util"
	"github.com/shopmonkeyus/go-common/logger"
)

// DefaultRecordsLimit is the page size applied when the caller supplies none.
const DefaultRecordsLimit = 100

// MaxRecordsLimit is the unconditional page-size ceiling for list operations.
const MaxRecordsLimit = 500

const refreshUpdatedAt = "updated_at = now() at time zone 'utc'"

// TableKeys carries the key metadata the engine needs to validate pagination
// cursor fields for one table. Tables need not declare a primary key; the
// primary key, when present, is always part of UniqueKeys.
type TableKeys struct {
	PrimaryKey string
	UniqueKeys []string
}

// Engine executes generic CRUD operations against a namespace over a shared
// connection pool. It never owns the pool.
type Engine struct {
	db        *sql.DB
	logger    logger.Logger
	namespace string
	keys      map[string]TableKeys
}

// New returns an Engine for the namespace, parameterized by the per-table
// key metadata from the compiled schema.
func New(db *sql.DB, log logger.Logger, namespace string, keys map[string]TableKeys) *Engine {
	if keys == nil {
		keys = make(map[string]TableKeys)
	}
	return &Engine{
		db:        db,
		logger:    log.WithPrefix("[engine]"),
		namespace: namespace,
		keys:      keys,
	}
}

// Namespace returns the namespace the engine operates on.
func (e *Engine) Namespace() string {
	return e.namespace
}

// Keys returns the key metadata for a table.
func (e *Engine) Keys(table string) TableKeys {
	return e.keys[table]
}

// ListOptions are the arguments of the paginated list operation.
type ListOptions struct {
	// Filters are case-insensitive substring matches per field, AND-combined.
	Filters map[string]any
	// Search behaves like Filters and is combined conjunctively with it.
	Search map[string]any
	// Before and After are keyset cursors: the value of IDField on the row
	// the page is anchored to.
	Before string
	After  string
	Limit  int
	// IDField is the unique column the cursors refer to, "id" by default.
	IDField string
	// SortBy is a field name, optionally prefixed with "-" for descending.
	SortBy string
}

// List returns a page of rows using keyset pagination over the table's
// primary key. Tables without a declared primary key fall back to a plain
// filtered list. The page is scanned in primary-key order (ascending when
// After is set, so the page captures the rows immediately following the
// cursor) and then re-sorted into the caller-facing order.
func (e *Engine) List(ctx context.Context, table string, opts ListOptions) ([]*Record, error) {
	keys := e.keys[table]
	if keys.PrimaryKey == "" {
		return e.listNoPK(ctx, table, opts)
	}
	idField := opts.IDField
	if idField == "" {
		idField = "id"
	}
	if !util.SliceContains(keys.UniqueKeys, idField) {
		return nil, errors.Wrapf(ErrInvalidIDField, "%s is not a unique column of %s", idField, table)
	}

	ref := util.TableRef(e.namespace, table)
	pk := util.QuoteIdentifier(keys.PrimaryKey)
	scanDirection := "DESC"
	var args []any
	var where strings.Builder
	where.WriteString(pk + " > 0")

	if opts.Before != "" {
		args = append(args, opts.Before)
		fmt.Fprintf(&where, " AND %s < (SELECT %s FROM %s WHERE %s = $%d)",
			pk, pk, ref, util.QuoteIdentifier(naming.ToSnakeCase(idField)), len(args))
	}
	if opts.After != "" {
		args = append(args, opts.After)
		fmt.Fprintf(&where, " AND %s > (SELECT %s FROM %s WHERE %s = $%d)",
			pk, pk, ref, util.QuoteIdentifier(naming.ToSnakeCase(idField)), len(args))
		scanDirection = "ASC"
	}
	for _, field := range sortedFields(opts.Filters) {
		args = append(args, substringPattern(opts.Filters[field]))
		fmt.Fprintf(&where, " AND lower(%s) like $%d", util.QuoteIdentifier(naming.ToSnakeCase(field)), len(args))
	}
	for _, field := range sortedFields(opts.Search) {
		args = append(args, substringPattern(opts.Search[field]))
		fmt.Fprintf(&where, " AND lower(%s) like $%d", util.QuoteIdentifier(naming.ToSnakeCase(field)), len(args))
	}

	orderBy := pk + " DESC"
	if opts.SortBy != "" {
		column, direction := opts.SortBy, "ASC"
		if rest, ok := strings.CutPrefix(column, "-"); ok {
			column, direction = rest, "DESC"
		}
		orderBy = util.QuoteIdentifier(naming.ToSnakeCase(column)) + " " + direction
	}

	query := fmt.Sprintf("SELECT * FROM (SELECT * FROM %s WHERE %s ORDER BY %s %s LIMIT %d) limited_set ORDER BY %s",
		ref, where.String(), pk, scanDirection, clampLimit(opts.Limit), orderBy)
	return e.queryRecords(ctx, query, args)
}

// listNoPK lists rows for tables without a declared primary key: exact-match
// filters, substring search, no cursors.
func (e *Engine) listNoPK(ctx context.Context, table string, opts ListOptions) ([]*Record, error) {
	var args []any
	var where strings.Builder
	where.WriteString("true")
	for _, field := range sortedFields(opts.Filters) {
		args = append(args, opts.Filters[field])
		fmt.Fprintf(&where, " AND %s = $%d", util.QuoteIdentifier(naming.ToSnakeCase(field)), len(args))
	}
	for _, field := range sortedFields(opts.Search) {
		args = append(args, substringPattern(opts.Search[field]))
		fmt.Fprintf(&where, " AND lower(%s) like $%d", util.QuoteIdentifier(naming.ToSnakeCase(field)), len(args))
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d",
		util.TableRef(e.namespace, table), where.String(), clampLimit(opts.Limit))
	return e.queryRecords(ctx, query, args)
}

// Find returns the single row matching all given fields exactly, or nil when
// no row matches.
func (e *Engine) Find(ctx context.Context, table string, args map[string]any) (*Record, error) {
	where, vals := equalityClause(args, 0)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", util.TableRef(e.namespace, table), where)
	recs, err := e.queryRecords(ctx, query, vals)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// CreateRecord inserts the given fields and returns the created row, or nil
// when the statement returned nothing.
func (e *Engine) CreateRecord(ctx context.Context, table string, input map[string]any) (*Record, error) {
	ref := util.TableRef(e.namespace, table)
	fields := sortedFields(input)
	var query string
	var vals []any
	if len(fields) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING *", ref)
	} else {
		columns := make([]string, len(fields))
		placeholders := make([]string, len(fields))
		for i, field := range fields {
			vals = append(vals, input[field])
			columns[i] = util.QuoteIdentifier(naming.ToSnakeCase(field))
			placeholders[i] = fmt.Sprintf("$%d", len(vals))
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
			ref, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	}
	recs, err := e.queryRecords(ctx, query, vals)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// FindOrCreateRecord looks the row up over findFields and returns it when
// exactly one matches; with no match the input (minus any identifier) is
// inserted as a new row. An ambiguous match fails.
func (e *Engine) FindOrCreateRecord(ctx context.Context, table string, input map[string]any, findFields []string) (*Record, error) {
	recs, _, err := e.matchRecords(ctx, table, input, findFields)
	if err != nil {
		return nil, err
	}
	if len(recs) > 1 {
		return nil, errors.Wrapf(ErrInvalidOperation, "%d rows of %s match the find fields", len(recs), table)
	}
	if len(recs) == 1 {
		return recs[0], nil
	}
	return e.CreateRecord(ctx, table, withoutField(input, "id"))
}

// CreateOrUpdateRecord looks the row up over findFields; one match is
// overwritten with every input field (minus the identifier) and its
// updated-timestamp refreshed, no match creates a new row, and an ambiguous
// match fails.
func (e *Engine) CreateOrUpdateRecord(ctx context.Context, table string, input map[string]any, findFields []string) (*Record, error) {
	recs, lookup, err := e.matchRecords(ctx, table, input, findFields)
	if err != nil {
		return nil, err
	}
	if len(recs) > 1 {
		return nil, errors.Wrapf(ErrInvalidOperation, "%d rows of %s match the find fields", len(recs), table)
	}
	values := withoutField(input, "id")
	if len(recs) == 0 {
		return e.CreateRecord(ctx, table, values)
	}
	sets := []string{refreshUpdatedAt}
	var vals []any
	for _, field := range sortedFields(values) {
		vals = append(vals, values[field])
		sets = append(sets, fmt.Sprintf("%s = $%d", util.QuoteIdentifier(naming.ToSnakeCase(field)), len(vals)))
	}
	where, whereVals := equalityClause(lookup, len(vals))
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
		util.TableRef(e.namespace, table), strings.Join(sets, ", "), where)
	updated, err := e.queryRecords(ctx, query, append(vals, whereVals...))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, nil
	}
	return updated[0], nil
}

// Update operation types.
const (
	OpSet       = "set"
	OpIncrement = "increment"
	OpMultiply  = "multiply"
	OpSquare    = "square"
	OpDefault   = "default"
)

// UpdateOperation selects the mutation applied to the matched row.
type UpdateOperation struct {
	Type  string
	Field string
	Value any
}

// UpdateRecord looks the row up over findFields (exactly one match required)
// and applies the update operation to it. The updated-timestamp is always
// refreshed.
func (e *Engine) UpdateRecord(ctx context.Context, table string, input map[string]any, findFields []string, op *UpdateOperation) (*Record, error) {
	if op == nil {
		op = &UpdateOperation{Type: OpDefault}
	}
	recs, lookup, err := e.matchRecords(ctx, table, input, findFields)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		return nil, errors.Wrapf(ErrInvalidOperation, "%d rows of %s match the find fields, expected exactly one", len(recs), table)
	}

	sets := []string{refreshUpdatedAt}
	var vals []any
	field := util.QuoteIdentifier(naming.ToSnakeCase(op.Field))
	switch op.Type {
	case OpSet:
		vals = append(vals, op.Value)
		sets = append(sets, fmt.Sprintf("%s = $%d", field, len(vals)))
	case OpIncrement:
		vals = append(vals, op.Value)
		sets = append(sets, fmt.Sprintf("%s = %s + $%d", field, field, len(vals)))
	case OpMultiply:
		vals = append(vals, op.Value)
		sets = append(sets, fmt.Sprintf("%s = %s * $%d", field, field, len(vals)))
	case OpSquare:
		sets = append(sets, fmt.Sprintf("%s = %s * %s", field, field, field))
	case OpDefault:
		for _, name := range sortedFields(input) {
			column := naming.ToSnakeCase(name)
			if reservedColumn(column) {
				continue
			}
			vals = append(vals, input[name])
			sets = append(sets, fmt.Sprintf("%s = $%d", util.QuoteIdentifier(column), len(vals)))
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedOperation, "%s", op.Type)
	}

	where, whereVals := equalityClause(lookup, len(vals))
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING *",
		util.TableRef(e.namespace, table), strings.Join(sets, ", "), where)
	updated, err := e.queryRecords(ctx, query, append(vals, whereVals...))
	if err != nil {
		return nil, err
	}
	if len(updated) == 0 {
		return nil, nil
	}
	return updated[0], nil
}

// DeletedRecord carries the external identifier of a deleted row.
type DeletedRecord struct {
	DeletedID string `json:"deletedId"`
}

// DeleteRecord looks the row up over findFields (exactly one match required),
// deletes it, and returns its external identifier.
func (e *Engine) DeleteRecord(ctx context.Context, table string, input map[string]any, findFields []string) (*DeletedRecord, error) {
	recs, lookup, err := e.matchRecords(ctx, table, input, findFields)
	if err != nil {
		return nil, err
	}
	if len(recs) != 1 {
		return nil, errors.Wrapf(ErrInvalidOperation, "%d rows of %s match the find fields, expected exactly one", len(recs), table)
	}
	where, vals := equalityClause(lookup, 0)
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", util.TableRef(e.namespace, table), where)
	e.logger.Trace("query: %s args: %s", query, util.JSONStringify(vals))
	if _, err := e.db.ExecContext(ctx, query, vals...); err != nil {
		return nil, err
	}
	id, _ := recs[0].Get("id")
	return &DeletedRecord{DeletedID: fmt.Sprintf("%v", id)}, nil
}

// matchRecords selects the rows whose findFields values equal the input's,
// returning them along with the lookup arguments for clause reuse.
func (e *Engine) matchRecords(ctx context.Context, table string, input map[string]any, findFields []string) ([]*Record, map[string]any, error) {
	lookup := make(map[string]any, len(findFields))
	for _, field := range findFields {
		lookup[field] = input[field]
	}
	where, vals := equalityClause(lookup, 0)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", util.TableRef(e.namespace, table), where)
	recs, err := e.queryRecords(ctx, query, vals)
	if err != nil {
		return nil, nil, err
	}
	return recs, lookup, nil
}

func (e *Engine) queryRecords(ctx context.Context, query string, args []any) ([]*Record, error) {
	e.logger.Trace("query: %s args: %s", query, util.JSONStringify(args))
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return e.scanRecords(rows)
}

// scanRecords reads every row into a camelCased field map wrapped as a Record.
func (e *Engine) scanRecords(rows *sql.Rows) ([]*Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var recs []*Record
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		data := make(map[string]any, len(columns))
		for i, column := range columns {
			data[naming.ToCamelCase(column)] = normalizeValue(vals[i])
		}
		recs = append(recs, e.wrap(data))
	}
	return recs, rows.Err()
}

// equalityClause builds an AND-combined parameterized equality predicate over
// the snake-cased field names, with placeholders starting after offset.
func equalityClause(args map[string]any, offset int) (string, []any) {
	if len(args) == 0 {
		return "true", nil
	}
	parts := make([]string, 0, len(args))
	vals := make([]any, 0, len(args))
	for _, field := range sortedFields(args) {
		vals = append(vals, args[field])
		parts = append(parts, fmt.Sprintf("%s = $%d", util.QuoteIdentifier(naming.ToSnakeCase(field)), offset+len(vals)))
	}
	return strings.Join(parts, " AND "), vals
}

// sortedFields returns the map keys in a stable order so generated statements
// are deterministic.
func sortedFields(m map[string]any) []string {
	fields := make([]string, 0, len(m))
	for field := range m {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func substringPattern(val any) string {
	return "%" + strings.ToLower(fmt.Sprintf("%v", val)) + "%"
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecordsLimit
	}
	if limit > MaxRecordsLimit {
		return MaxRecordsLimit
	}
	return limit
}

func reservedColumn(name string) bool {
	switch name {
	case "id", "idx", "created_at", "updated_at":
		return true
	}
	return false
}

func withoutField(input map[string]any, field string) map[string]any {
	res := make(map[string]any, len(input))
	for k, v := range input {
		if k == field {
			continue
		}
		res[k] = v
	}
	return res
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
