package storage

import (
	"sync"

	"github.com/maruel/csvdb/internal/blob"
	"github.com/maruel/csvdb/internal/csvdb"
)

// Cache keeps decoded tables keyed by path and version.
//
// Cached tables are shared between readers and must be treated as read-only.
type Cache struct {
	mu sync.RWMutex

	tables map[string]cachedTable

	// Adding a new path when this many are held empties the cache.
	maxTables int
}

type cachedTable struct {
	version blob.Version
	table   *csvdb.Table
}

// NewCache initializes a new cache.
func NewCache() *Cache {
	return &Cache{
		tables:    make(map[string]cachedTable),
		maxTables: 100,
	}
}

// GetTable returns the decoded table at path if the cached copy has version v.
func (c *Cache) GetTable(path string, v blob.Version) (*csvdb.Table, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.tables[path]
	if !ok || e.version != v {
		return nil, false
	}
	return e.table, true
}

// SetTable caches the decoded table at path for version v.
func (c *Cache) SetTable(path string, v blob.Version, t *csvdb.Table) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[path]; !ok && len(c.tables) >= c.maxTables {
		c.tables = make(map[string]cachedTable)
	}
	c.tables[path] = cachedTable{version: v, table: t}
}

// InvalidateTable removes a table from cache.
func (c *Cache) InvalidateTable(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tables, path)
}
