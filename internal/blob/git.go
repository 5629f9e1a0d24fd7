// Implements Store on a git repository using go-git (pure Go, no git binary dependency).

package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	dberr "github.com/maruel/csvdb/internal/errors"
)

// Git is a Store backed by a git repository.
//
// Reads resolve paths in the HEAD commit, so uncommitted edits in the working
// tree are invisible. A version is the git blob hash of the content. Every
// successful Write and Delete is one commit.
type Git struct {
	dir          string
	defaultName  string
	defaultEmail string
	repo         *gogit.Repository
	mu           sync.Mutex
}

// OpenGit opens the repository at dir, initializing it if needed.
func OpenGit(dir, defaultName, defaultEmail string) (*Git, error) {
	if defaultName == "" {
		defaultName = "csvdb"
	}
	if defaultEmail == "" {
		defaultEmail = "csvdb@localhost"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet, initialize.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaultName
		cfg.User.Email = defaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}

	return &Git{
		dir:          dir,
		defaultName:  defaultName,
		defaultEmail: defaultEmail,
		repo:         repo,
	}, nil
}

// headTree returns the tree of HEAD, or nil for an unborn repository.
func (g *Git) headTree() (*object.Tree, error) {
	ref, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, storageError("resolve HEAD", "", err)
	}
	c, err := g.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, storageError("read HEAD commit", "", err)
	}
	t, err := c.Tree()
	if err != nil {
		return nil, storageError("read HEAD tree", "", err)
	}
	return t, nil
}

func (g *Git) lookup(p string) (*object.File, error) {
	t, err := g.headTree()
	if err != nil {
		return nil, err
	}
	if t == nil || p == "" {
		return nil, dberr.NotFound(p)
	}
	f, err := t.File(p)
	if err != nil {
		// A directory entry is not a blob.
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, dberr.NotFound(p)
		}
		return nil, storageError("lookup", p, err)
	}
	return f, nil
}

func (g *Git) current(p string) (Version, error) {
	f, err := g.lookup(p)
	if err != nil {
		if dberr.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return Version(f.Hash.String()), nil
}

// Probe implements Store.
func (g *Git) Probe(_ context.Context, p string) (Info, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Info{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, err := g.lookup(p)
	if err != nil {
		return Info{}, err
	}
	return Info{Path: p, Size: f.Size, Version: Version(f.Hash.String())}, nil
}

// Read implements Store.
func (g *Git) Read(_ context.Context, p string) (Object, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Object{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	f, err := g.lookup(p)
	if err != nil {
		return Object{}, err
	}
	s, err := f.Contents()
	if err != nil {
		return Object{}, storageError("read", p, err)
	}
	return Object{Content: []byte(s), Version: Version(f.Hash.String())}, nil
}

// Write implements Store.
func (g *Git) Write(ctx context.Context, p string, content []byte, expected Version) (Version, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", dberr.Validation("empty path")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, err := g.current(p)
	if err != nil {
		return "", err
	}
	if err := checkVersion(p, cur, expected); err != nil {
		return "", err
	}

	target := filepath.Join(g.dir, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return "", storageError("mkdir", p, err)
	}
	if err := os.WriteFile(target, content, 0o644); err != nil { //nolint:gosec // G306: table files are not secret
		return "", storageError("write", p, err)
	}
	msg := "Create " + p
	if expected != "" {
		msg = "Update " + p
	}
	if err := g.commit(ctx, msg, p, false); err != nil {
		return "", err
	}
	return Version(plumbing.ComputeHash(plumbing.BlobObject, content).String()), nil
}

// Delete implements Store.
func (g *Git) Delete(ctx context.Context, p string, expected Version) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, err := g.current(p)
	if err != nil {
		return err
	}
	if cur == "" {
		return dberr.NotFound(p)
	}
	if err := checkVersion(p, cur, expected); err != nil {
		return err
	}
	return g.commit(ctx, "Delete "+p, p, true)
}

// commit stages p (or its removal) and commits it. Must be called with mu held.
//
// Only p may be staged: the commit fails if the index holds other changes, and
// p is unstaged again when the commit does not happen.
func (g *Git) commit(ctx context.Context, msg, p string, remove bool) error {
	w, err := g.repo.Worktree()
	if err != nil {
		return storageError("worktree", p, err)
	}
	if remove {
		if _, err := w.Remove(p); err != nil {
			return storageError("stage removal", p, err)
		}
	} else if _, err := w.Add(p); err != nil {
		return storageError("stage", p, err)
	}

	status, err := w.Status()
	if err != nil {
		g.unstage(ctx, w, p)
		return storageError("status", p, err)
	}
	for other, fs := range status {
		if other != p && fs.Staging != gogit.Unmodified && fs.Staging != gogit.Untracked {
			g.unstage(ctx, w, p)
			return storageError("commit", p, fmt.Errorf("index holds staged changes to %s", other))
		}
	}
	// Rewriting identical content stages nothing.
	if fs, ok := status[p]; !ok || fs.Staging == gogit.Unmodified {
		return nil
	}

	now := time.Now()
	sig := &object.Signature{Name: g.defaultName, Email: g.defaultEmail, When: now}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		g.unstage(ctx, w, p)
		return storageError("commit", p, err)
	}
	return nil
}

// unstage resets the index entry of p to HEAD. The working tree file is left
// alone; reads only look at HEAD.
func (g *Git) unstage(ctx context.Context, w *gogit.Worktree, p string) {
	if err := w.Restore(&gogit.RestoreOptions{Staged: true, Files: []string{p}}); err != nil {
		slog.WarnContext(ctx, "Failed to unstage", "path", p, "err", err)
	}
}

// List implements Store. It walks HEAD trees with an explicit stack.
func (g *Git) List(_ context.Context, p string) ([]Info, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	root, err := g.headTree()
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, dberr.NotFound(p)
	}
	if p != "" {
		if f, err := root.File(p); err == nil {
			return []Info{{Path: p, Size: f.Size, Version: Version(f.Hash.String())}}, nil
		}
		sub, err := root.Tree(p)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) {
				return nil, dberr.NotFound(p)
			}
			return nil, storageError("lookup", p, err)
		}
		root = sub
	}

	type frame struct {
		prefix string
		tree   *object.Tree
	}
	var out []Info
	stack := []frame{{p, root}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range fr.tree.Entries {
			child := path.Join(fr.prefix, e.Name)
			switch {
			case e.Mode == filemode.Dir:
				t, err := g.repo.TreeObject(e.Hash)
				if err != nil {
					return nil, storageError("read tree", child, err)
				}
				stack = append(stack, frame{child, t})
			case e.Mode.IsFile():
				b, err := g.repo.BlobObject(e.Hash)
				if err != nil {
					return nil, storageError("read blob", child, err)
				}
				out = append(out, Info{Path: child, Size: b.Size, Version: Version(e.Hash.String())})
			}
		}
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

// History implements Historian.
func (g *Git) History(_ context.Context, p string, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	opts := &gogit.LogOptions{}
	if p != "" {
		opts.FileName = &p
	}
	iter, err := g.repo.Log(opts)
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:           c.Hash.String(),
			Message:        subject,
			Body:           strings.TrimSpace(body),
			Author:         c.Author.Name,
			AuthorEmail:    c.Author.Email,
			AuthorDate:     c.Author.When,
			Committer:      c.Committer.Name,
			CommitterEmail: c.Committer.Email,
			CommitDate:     c.Committer.When,
		})
	}
	return commits, nil
}

// ReadAt implements Historian. rev is anything git rev-parse accepts that
// go-git supports, such as "HEAD~1" or a commit hash.
func (g *Git) ReadAt(_ context.Context, p, rev string) (Object, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Object{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	h, err := g.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return Object{}, dberr.NotFound(rev).Wrap(err)
	}
	c, err := g.repo.CommitObject(*h)
	if err != nil {
		return Object{}, storageError("read commit", rev, err)
	}
	f, err := c.File(p)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return Object{}, dberr.NotFound(p).WithDetail("rev", rev)
		}
		return Object{}, storageError("lookup", p, err)
	}
	s, err := f.Contents()
	if err != nil {
		return Object{}, storageError("read", p, err)
	}
	return Object{Content: []byte(s), Version: Version(f.Hash.String())}, nil
}
