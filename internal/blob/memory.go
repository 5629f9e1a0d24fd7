package blob

import (
	"context"
	"slices"
	"strings"
	"sync"

	dberr "github.com/maruel/csvdb/internal/errors"
)

// Memory is an in-process Store.
type Memory struct {
	// BeforeWrite, when set, runs at the start of every Write and Delete
	// without the store lock held. Tests use it to interleave writers.
	BeforeWrite func(path string)

	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

// Probe implements Store.
func (m *Memory) Probe(_ context.Context, p string) (Info, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Info{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[p]
	if !ok {
		return Info{}, dberr.NotFound(p)
	}
	return Info{Path: p, Size: int64(len(data)), Version: contentVersion(data)}, nil
}

// Read implements Store.
func (m *Memory) Read(_ context.Context, p string) (Object, error) {
	p, err := CleanPath(p)
	if err != nil {
		return Object{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[p]
	if !ok {
		return Object{}, dberr.NotFound(p)
	}
	return Object{Content: slices.Clone(data), Version: contentVersion(data)}, nil
}

// Write implements Store.
func (m *Memory) Write(_ context.Context, p string, content []byte, expected Version) (Version, error) {
	p, err := CleanPath(p)
	if err != nil {
		return "", err
	}
	if m.BeforeWrite != nil {
		m.BeforeWrite(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := checkVersion(p, m.current(p), expected); err != nil {
		return "", err
	}
	m.objects[p] = slices.Clone(content)
	return contentVersion(content), nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, p string, expected Version) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if m.BeforeWrite != nil {
		m.BeforeWrite(p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.current(p)
	if cur == "" {
		return dberr.NotFound(p)
	}
	if err := checkVersion(p, cur, expected); err != nil {
		return err
	}
	delete(m.objects, p)
	return nil
}

// List implements Store.
func (m *Memory) List(_ context.Context, p string) ([]Info, error) {
	p, err := CleanPath(p)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Info
	for k, data := range m.objects {
		if p == "" || k == p || strings.HasPrefix(k, p+"/") {
			out = append(out, Info{Path: k, Size: int64(len(data)), Version: contentVersion(data)})
		}
	}
	slices.SortFunc(out, func(a, b Info) int { return strings.Compare(a.Path, b.Path) })
	return out, nil
}

func (m *Memory) current(p string) Version {
	data, ok := m.objects[p]
	if !ok {
		return ""
	}
	return contentVersion(data)
}
