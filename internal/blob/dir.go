// Stores objects as plain files under a local directory.

package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	dberr "github.com/maruel/csvdb/internal/errors"
)

// Dir is a Store backed by a local directory.
//
// Versions are content addresses, so they survive restarts and edits made by
// other tools. Conditional writes are only atomic within one process.
type Dir struct {
	root string
	mu   sync.Mutex
}

// NewDir returns a Dir rooted at root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory the store lives in.
func (d *Dir) Root() string {
	return d.root
}

func (d *Dir) full(p string) string {
	return filepath.Join(d.root, filepath.FromSlash(p))
}

// Probe implements Store.
func (d *Dir) Probe(ctx context.Context, p string) (Info, error) {
	obj, err := d.Read(ctx, p)
	if err != nil {
		return Info{}, err
	}
	p, _ = CleanPath(p)
	return Info{Path: p, Size: int64(len(obj.Content)), Version: obj.Version}, nil
}

// Read implements Store.
func (d *Dir) Read(_ context.Context, p string) (Object, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Object{}, err
	}
	data, err := d.readFile(p)
	if err != nil {
		return Object{}, err
	}
	return Object{Content: data, Version: contentVersion(data)}, nil
}

func (d *Dir) readFile(p string) ([]byte, error) {
	if p == "" {
		return nil, dberr.NotFound(p)
	}
	data, err := os.ReadFile(d.full(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isDirErr(err) {
			return nil, dberr.NotFound(p)
		}
		return nil, storageError("read", p, err)
	}
	return data, nil
}

// current returns the version on disk, or "" if the file does not exist.
func (d *Dir) current(p string) (Version, error) {
	data, err := d.readFile(p)
	if err != nil {
		if dberr.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return contentVersion(data), nil
}

// Write implements Store.
//
// Data goes to a temporary file in the target directory which is then renamed
// over the target, so readers never see a partial body.
func (d *Dir) Write(_ context.Context, p string, content []byte, expected Version) (Version, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", dberr.Validation("empty path")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, err := d.current(p)
	if err != nil {
		return "", err
	}
	if err := checkVersion(p, cur, expected); err != nil {
		return "", err
	}

	target := d.full(p)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return "", storageError("mkdir", p, err)
	}
	f, err := os.CreateTemp(filepath.Dir(target), ".*.tmp")
	if err != nil {
		return "", storageError("create temp", p, err)
	}
	tmp := f.Name()
	// CreateTemp uses 0o600; keep the table's mode instead.
	mode := fs.FileMode(0o644)
	if st, err := os.Stat(target); err == nil {
		mode = st.Mode().Perm()
	}
	if err := f.Chmod(mode); err != nil {
		return "", storageError("chmod", p, errors.Join(err, f.Close(), os.Remove(tmp)))
	}
	if _, err := f.Write(content); err != nil {
		return "", storageError("write", p, errors.Join(err, f.Close(), os.Remove(tmp)))
	}
	if err := f.Close(); err != nil {
		return "", storageError("close", p, errors.Join(err, os.Remove(tmp)))
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", storageError("rename", p, errors.Join(err, os.Remove(tmp)))
	}
	return contentVersion(content), nil
}

// Delete implements Store.
func (d *Dir) Delete(_ context.Context, p string, expected Version) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, err := d.current(p)
	if err != nil {
		return err
	}
	if cur == "" {
		return dberr.NotFound(p)
	}
	if err := checkVersion(p, cur, expected); err != nil {
		return err
	}
	if err := os.Remove(d.full(p)); err != nil {
		return storageError("remove", p, err)
	}
	return nil
}

// List implements Store.
//
// Hidden entries (names starting with a dot) are skipped, which excludes
// in-flight temporary files and VCS metadata.
func (d *Dir) List(_ context.Context, p string) ([]Info, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(d.full(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, dberr.NotFound(p)
		}
		return nil, storageError("stat", p, err)
	}
	if !st.IsDir() {
		data, err := d.readFile(p)
		if err != nil {
			return nil, err
		}
		return []Info{{Path: p, Size: int64(len(data)), Version: contentVersion(data)}}, nil
	}

	var out []Info
	stack := []string{p}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entries, err := os.ReadDir(d.full(dir))
		if err != nil {
			return nil, storageError("readdir", dir, err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			child := path.Join(dir, e.Name())
			if e.IsDir() {
				stack = append(stack, child)
				continue
			}
			if !e.Type().IsRegular() {
				continue
			}
			data, err := d.readFile(child)
			if err != nil {
				return nil, err
			}
			out = append(out, Info{Path: child, Size: int64(len(data)), Version: contentVersion(data)})
		}
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// Watch calls fn every time the object at p is created or replaced, until ctx
// is canceled.
//
// The parent directory is watched rather than the file itself since writes
// replace the file by renaming over it.
func (d *Dir) Watch(ctx context.Context, p string, fn func(ctx context.Context)) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	target := d.full(p)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return storageError("mkdir", p, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fn(ctx)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Error watching table", "path", p, "err", err)
		}
	}
}

// isDirErr reports whether err came from reading a directory as a file.
func isDirErr(err error) bool {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		st, serr := os.Stat(pe.Path)
		return serr == nil && st.IsDir()
	}
	return false
}
