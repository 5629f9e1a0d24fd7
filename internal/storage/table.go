package storage

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/maruel/csvdb/internal/blob"
	"github.com/maruel/csvdb/internal/csvdb"
	dberr "github.com/maruel/csvdb/internal/errors"
	"github.com/maruel/ksid"
)

// Table is one table file.
type Table struct {
	db   *DB
	name string
	path string
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Path returns the path of the backing object in the store.
func (t *Table) Path() string {
	return t.path
}

// Create writes an empty table with the given header. It fails with CONFLICT
// if the table already exists.
func (t *Table) Create(ctx context.Context, header ...string) error {
	if err := validateHeader(header); err != nil {
		return err
	}
	start := time.Now()
	if _, err := t.db.store.Write(ctx, t.path, csvdb.Encode(header, nil), ""); err != nil {
		return err
	}
	t.log(ctx, "create", ksid.NewID(), start, 0, 0)
	return nil
}

// CreateIfNotExist creates the table unless it exists and reports whether it
// did. Probe failures other than NOT_FOUND are returned as is.
func (t *Table) CreateIfNotExist(ctx context.Context, header ...string) (bool, error) {
	if err := validateHeader(header); err != nil {
		return false, err
	}
	if _, err := t.db.store.Probe(ctx, t.path); err == nil {
		return false, nil
	} else if !dberr.IsNotFound(err) {
		return false, err
	}
	if err := t.Create(ctx, header...); err != nil {
		return false, err
	}
	return true, nil
}

func validateHeader(header []string) error {
	if len(header) == 0 {
		return dberr.Validation("a table needs at least one field")
	}
	for i, h := range header {
		if h == "" {
			return dberr.Validation("empty field name").WithDetail("index", i)
		}
		if slices.Contains(header[:i], h) {
			return dberr.Validation("duplicate field name").WithDetail("field", h)
		}
	}
	return nil
}

// Header returns the table's field names.
func (t *Table) Header(ctx context.Context) ([]string, error) {
	tbl, _, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(tbl.Header), nil
}

// Drop deletes the table. It fails with CONFLICT if the table changes while
// being dropped.
func (t *Table) Drop(ctx context.Context) error {
	start := time.Now()
	info, err := t.db.store.Probe(ctx, t.path)
	if err != nil {
		return err
	}
	if err := t.db.store.Delete(ctx, t.path, info.Version); err != nil {
		return err
	}
	t.db.cache.InvalidateTable(t.path)
	t.log(ctx, "drop", ksid.NewID(), start, 0, 0)
	return nil
}

// load reads and decodes the table, reusing the cached decode when the
// version did not change.
func (t *Table) load(ctx context.Context) (*csvdb.Table, blob.Version, error) {
	obj, err := t.db.store.Read(ctx, t.path)
	if err != nil {
		return nil, "", err
	}
	if tbl, ok := t.db.cache.GetTable(t.path, obj.Version); ok {
		return tbl, obj.Version, nil
	}
	tbl, err := csvdb.Decode(obj.Content)
	if err != nil {
		return nil, "", err
	}
	t.db.cache.SetTable(t.path, obj.Version, tbl)
	return tbl, obj.Version, nil
}

func (t *Table) query(ctx context.Context, q *csvdb.Query) ([]csvdb.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	tbl, _, err := t.load(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := q.Apply(tbl.Rows)
	if err != nil {
		return nil, err
	}
	t.log(ctx, "select", ksid.NewID(), start, len(rows), 0)
	return rows, nil
}

// mutate runs p through a read, compute, write cycle, repeated up to
// ConflictRetries more times when the write loses a race.
func (t *Table) mutate(ctx context.Context, op string, p csvdb.RowProcessor) (int, error) {
	id := ksid.NewID()
	start := time.Now()
	for attempt := 0; ; attempt++ {
		n, err := t.mutateOnce(ctx, p)
		if err == nil {
			t.log(ctx, op, id, start, n, attempt)
			return n, nil
		}
		if !dberr.IsConflict(err) || attempt >= t.db.opts.ConflictRetries {
			return 0, err
		}
		slog.DebugContext(ctx, "Retrying after conflict", "id", id, "table", t.name, "op", op, "attempt", attempt+1)
	}
}

func (t *Table) mutateOnce(ctx context.Context, p csvdb.RowProcessor) (int, error) {
	obj, err := t.db.store.Read(ctx, t.path)
	if err != nil {
		return 0, err
	}
	body, n, err := csvdb.Mutate(obj.Content, p)
	if err != nil {
		return 0, err
	}
	expected := obj.Version
	if t.db.opts.Policy == VersionRefetch {
		info, err := t.db.store.Probe(ctx, t.path)
		if err != nil {
			return 0, err
		}
		expected = info.Version
	}
	if _, err := t.db.store.Write(ctx, t.path, body, expected); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *Table) log(ctx context.Context, op string, id ksid.ID, start time.Time, n, retries int) {
	slog.DebugContext(ctx, "Table operation", "id", id, "table", t.name, "op", op, "affected", n, "retries", retries, "dur", time.Since(start))
}

// Select starts a read of the table.
func (t *Table) Select() SelectBuilder {
	return SelectBuilder{t: t}
}

// Update starts an update of the rows matching a filter.
func (t *Table) Update() UpdateBuilder {
	return UpdateBuilder{t: t}
}

// UpdateBy starts a replacement of whole rows identified by the value of
// field.
func (t *Table) UpdateBy(field string) UpdateByBuilder {
	return UpdateByBuilder{t: t, field: field}
}

// Delete starts a deletion of the rows matching a filter.
func (t *Table) Delete() DeleteBuilder {
	return DeleteBuilder{t: t}
}

// InsertInto starts an append of rows.
func (t *Table) InsertInto() InsertBuilder {
	return InsertBuilder{t: t}
}
