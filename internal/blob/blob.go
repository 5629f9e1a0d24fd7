// Package blob defines the versioned object store tables are kept in, and its
// backends.
//
// Every object carries a [Version] tied to its exact content. Writes are
// conditional: the caller passes the version it expects to replace, or the
// empty version to create an object that must not exist yet. A mismatch fails
// with a CONFLICT error from package errors; a missing object with NOT_FOUND.
//
// Backends:
//   - [Memory] keeps objects in a map, for tests and dry runs.
//   - [Dir] keeps objects as files under a local directory.
//   - [Git] keeps objects in a git repository and commits every change.
//   - [GitHub] talks to the GitHub contents API.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	dberr "github.com/maruel/csvdb/internal/errors"
)

// Version is an opaque token identifying one exact content of an object.
//
// The empty Version means "no object".
type Version string

// Info describes a stored object.
type Info struct {
	Path    string
	Size    int64
	Version Version
}

// Object is the content of a stored object with its version.
type Object struct {
	Content []byte
	Version Version
}

// Store is a versioned object store.
//
// Paths are slash separated and relative to the store root.
type Store interface {
	// Probe returns the object's metadata.
	Probe(ctx context.Context, path string) (Info, error)
	// Read returns the object's content.
	Read(ctx context.Context, path string) (Object, error)
	// Write replaces the object if its current version is expected. An empty
	// expected version creates the object and fails if it already exists.
	Write(ctx context.Context, path string, content []byte, expected Version) (Version, error)
	// Delete removes the object if its current version is expected.
	Delete(ctx context.Context, path string, expected Version) error
	// List returns every object under path, recursively, sorted by path.
	List(ctx context.Context, path string) ([]Info, error)
}

// Commit is one entry of an object's history.
type Commit struct {
	Hash           string    `json:"hash"`
	Message        string    `json:"message"` // Subject line.
	Body           string    `json:"body"`    // Commit body (may be empty).
	Author         string    `json:"author"`
	AuthorEmail    string    `json:"author_email"`
	AuthorDate     time.Time `json:"author_date"`
	Committer      string    `json:"committer"`
	CommitterEmail string    `json:"committer_email"`
	CommitDate     time.Time `json:"commit_date"`
}

// Historian is implemented by stores that keep past versions.
type Historian interface {
	// History returns the most recent commits touching path, newest first.
	// n is capped at 1000. If n <= 0, defaults to 1000.
	History(ctx context.Context, path string, n int) ([]*Commit, error)
	// ReadAt returns path as of the given revision.
	ReadAt(ctx context.Context, path, rev string) (Object, error)
}

// base32Enc uses base32 "Extended Hex" alphabet (0-9A-V) which is ASCII-sorted.
var base32Enc = base32.HexEncoding.WithPadding(base32.NoPadding)

// contentVersion returns "sha256:<BASE32>-<size>" for data.
func contentVersion(data []byte) Version {
	sum := sha256.Sum256(data)
	return Version(fmt.Sprintf("sha256:%s-%d", base32Enc.EncodeToString(sum[:]), len(data)))
}

// CleanPath normalizes p to a slash separated relative path.
func CleanPath(p string) (string, error) {
	p = strings.TrimPrefix(strings.ReplaceAll(p, `\`, "/"), "/")
	if p == "" {
		return "", nil
	}
	c := path.Clean(p)
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", dberr.Validation(fmt.Sprintf("path %q escapes the store root", p))
	}
	if c == "." {
		return "", nil
	}
	return c, nil
}

// checkVersion enforces the conditional write contract given the current
// version (empty when the object does not exist).
func checkVersion(p string, current, expected Version) error {
	if current != expected {
		return dberr.Conflict(p).WithDetail("expected", string(expected)).WithDetail("current", string(current))
	}
	return nil
}

// storageError wraps a local I/O failure.
func storageError(op, p string, err error) error {
	return dberr.New(http.StatusInternalServerError, dberr.ErrRemote, fmt.Sprintf("%s %s", op, p)).Wrap(err)
}
