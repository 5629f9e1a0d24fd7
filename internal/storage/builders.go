package storage

import (
	"context"
	"maps"
	"slices"

	"github.com/maruel/csvdb/internal/csvdb"
)

// SelectBuilder accumulates a read. Methods return a modified copy.
type SelectBuilder struct {
	t         *Table
	filter    csvdb.Filter
	fields    []string
	sortField string
	dir       csvdb.SortDirection
	offset    int
	limit     int
	hasLimit  bool
}

// Where adds predicates to the filter.
func (b SelectBuilder) Where(preds ...csvdb.Predicate) SelectBuilder {
	b.filter = b.filter.And(preds...)
	return b
}

// Eq is shorthand for Where(csvdb.Eq(field, v)).
func (b SelectBuilder) Eq(field string, v any) SelectBuilder {
	return b.Where(csvdb.Eq(field, v))
}

// Fields sets the projection. No fields selects whole rows.
func (b SelectBuilder) Fields(fields ...string) SelectBuilder {
	b.fields = slices.Clone(fields)
	return b
}

// OrderBy sorts ascending by field.
func (b SelectBuilder) OrderBy(field string) SelectBuilder {
	b.sortField, b.dir = field, csvdb.SortAsc
	return b
}

// OrderByDesc sorts descending by field.
func (b SelectBuilder) OrderByDesc(field string) SelectBuilder {
	b.sortField, b.dir = field, csvdb.SortDesc
	return b
}

// Offset skips the first n matching rows.
func (b SelectBuilder) Offset(n int) SelectBuilder {
	b.offset = n
	return b
}

// Limit returns at most n rows.
func (b SelectBuilder) Limit(n int) SelectBuilder {
	b.limit, b.hasLimit = n, true
	return b
}

// Query returns the resolved query.
func (b SelectBuilder) Query() *csvdb.Query {
	return &csvdb.Query{
		Filter:     b.filter,
		Fields:     slices.Clone(b.fields),
		SortField:  b.sortField,
		Direction:  b.dir,
		Offset:     b.offset,
		Limit:      b.limit,
		HasLimit:   b.hasLimit,
		Comparator: b.t.db.opts.Comparator,
	}
}

// Execute runs the read.
func (b SelectBuilder) Execute(ctx context.Context) ([]csvdb.Record, error) {
	return b.t.query(ctx, b.Query())
}

// FetchOne returns the first row of the result, or false if there is none.
func (b SelectBuilder) FetchOne(ctx context.Context) (csvdb.Record, bool, error) {
	q := b.Query()
	if !q.HasLimit || q.Limit > 1 {
		q.Limit, q.HasLimit = 1, true
	}
	rows, err := b.t.query(ctx, q)
	if err != nil || len(rows) == 0 {
		return nil, false, err
	}
	return rows[0], true, nil
}

// UpdateBuilder accumulates assignments applied to matching rows.
type UpdateBuilder struct {
	t      *Table
	filter csvdb.Filter
	set    map[string]any
}

// Where adds predicates to the filter. Without any, every row is updated.
func (b UpdateBuilder) Where(preds ...csvdb.Predicate) UpdateBuilder {
	b.filter = b.filter.And(preds...)
	return b
}

// Eq is shorthand for Where(csvdb.Eq(field, v)).
func (b UpdateBuilder) Eq(field string, v any) UpdateBuilder {
	return b.Where(csvdb.Eq(field, v))
}

// Set assigns v to field. nil clears the field.
func (b UpdateBuilder) Set(field string, v any) UpdateBuilder {
	set := maps.Clone(b.set)
	if set == nil {
		set = make(map[string]any, 1)
	}
	set[field] = v
	b.set = set
	return b
}

// Execute applies the update and returns the number of rows matched.
func (b UpdateBuilder) Execute(ctx context.Context) (int, error) {
	return b.t.mutate(ctx, "update", &csvdb.Update{Filter: b.filter, Set: maps.Clone(b.set)})
}

// UpdateByBuilder accumulates whole-row replacements keyed by one field.
type UpdateByBuilder struct {
	t     *Table
	field string
	rows  map[string]csvdb.Record
}

// Row replaces the row whose key field equals key with r. r is used verbatim
// and is not merged with the existing row.
func (b UpdateByBuilder) Row(key string, r csvdb.Record) UpdateByBuilder {
	rows := maps.Clone(b.rows)
	if rows == nil {
		rows = make(map[string]csvdb.Record, 1)
	}
	rows[key] = r.Clone()
	b.rows = rows
	return b
}

// Execute applies the replacements and returns the number of rows replaced.
// Keys without a matching row are ignored.
func (b UpdateByBuilder) Execute(ctx context.Context) (int, error) {
	return b.t.mutate(ctx, "updateBy", &csvdb.UpdateByKey{Field: b.field, Rows: maps.Clone(b.rows)})
}

// DeleteBuilder accumulates the filter of a deletion.
type DeleteBuilder struct {
	t      *Table
	filter csvdb.Filter
}

// Where adds predicates to the filter. Without any, every row is deleted.
func (b DeleteBuilder) Where(preds ...csvdb.Predicate) DeleteBuilder {
	b.filter = b.filter.And(preds...)
	return b
}

// Eq is shorthand for Where(csvdb.Eq(field, v)).
func (b DeleteBuilder) Eq(field string, v any) DeleteBuilder {
	return b.Where(csvdb.Eq(field, v))
}

// Execute deletes the matching rows and returns how many were removed.
func (b DeleteBuilder) Execute(ctx context.Context) (int, error) {
	return b.t.mutate(ctx, "delete", &csvdb.Delete{Filter: b.filter})
}

// InsertBuilder accumulates rows to append.
type InsertBuilder struct {
	t    *Table
	rows []csvdb.Record
}

// Values appends rows. Fields missing from a row are written empty and fields
// outside the header are dropped.
func (b InsertBuilder) Values(rows ...csvdb.Record) InsertBuilder {
	out := make([]csvdb.Record, 0, len(b.rows)+len(rows))
	out = append(out, b.rows...)
	for _, r := range rows {
		out = append(out, r.Clone())
	}
	b.rows = out
	return b
}

// Execute appends the rows and returns how many were added.
func (b InsertBuilder) Execute(ctx context.Context) (int, error) {
	return b.t.mutate(ctx, "insert", &csvdb.Insert{Rows: slices.Clone(b.rows)})
}
