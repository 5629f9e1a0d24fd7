// Package storage is the record store facade: named tables on a blob.Store,
// read with select builders and changed with update, updateBy, delete and
// insert builders.
//
// Every mutation is one read, compute, conditional write cycle on the table's
// backing object. There is no cross-table atomicity.
package storage

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/maruel/csvdb/internal/blob"
	"github.com/maruel/csvdb/internal/csvdb"
	dberr "github.com/maruel/csvdb/internal/errors"
)

// Policy selects which version a mutation passes to the conditional write.
type Policy int

const (
	// VersionFromRead writes with the version observed by the read that
	// produced the new body. A concurrent change fails with CONFLICT.
	VersionFromRead Policy = iota
	// VersionRefetch probes the version again right before writing. A change
	// made between the read and the probe is silently overwritten.
	VersionRefetch
)

func (p Policy) String() string {
	switch p {
	case VersionFromRead:
		return "cas"
	case VersionRefetch:
		return "refetch"
	default:
		return "unknown"
	}
}

// Options configures a DB.
type Options struct {
	// BasePath is the directory holding the tables. Empty is the store root.
	BasePath string
	// Ext is the table file extension without the dot. Defaults to "csv".
	Ext string
	// Comparator orders select results. nil uses csvdb.Default.
	Comparator *csvdb.Comparator
	// Policy defaults to VersionFromRead.
	Policy Policy
	// ConflictRetries is how many times a mutation that lost a race is rerun
	// from its read. 0 surfaces the first CONFLICT.
	ConflictRetries int
}

// DB is a set of tables stored under one base path.
type DB struct {
	store blob.Store
	opts  Options
	cache *Cache
}

// New returns a DB on store.
func New(store blob.Store, opts Options) (*DB, error) {
	base, err := blob.CleanPath(opts.BasePath)
	if err != nil {
		return nil, err
	}
	opts.BasePath = base
	opts.Ext = strings.TrimPrefix(opts.Ext, ".")
	if opts.Ext == "" {
		opts.Ext = "csv"
	}
	if opts.Comparator == nil {
		opts.Comparator = csvdb.Default
	}
	if opts.ConflictRetries < 0 {
		return nil, dberr.Validation("conflict retries must be non-negative")
	}
	return &DB{store: store, opts: opts, cache: NewCache()}, nil
}

// Store returns the underlying blob store.
func (db *DB) Store() blob.Store {
	return db.store
}

// Table returns the table called name. It does not touch the store.
func (db *DB) Table(name string) *Table {
	return &Table{db: db, name: name, path: path.Join(db.opts.BasePath, name+"."+db.opts.Ext)}
}

// Tables lists the tables under the base path, sorted by name. Tables in
// subdirectories are named with their relative directory.
func (db *DB) Tables(ctx context.Context) ([]string, error) {
	infos, err := db.store.List(ctx, db.opts.BasePath)
	if err != nil {
		if dberr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := ""
	if db.opts.BasePath != "" {
		prefix = db.opts.BasePath + "/"
	}
	suffix := "." + db.opts.Ext
	var names []string
	for _, i := range infos {
		rel, ok := strings.CutPrefix(i.Path, prefix)
		if !ok {
			continue
		}
		if name, ok := strings.CutSuffix(rel, suffix); ok && name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
