// Package stmtcache maps a caller-chosen statement ID to an open
// engine.Stmt, so a tunnel client can Prepare once and Bind/Query many
// times without re-sending SQL text on every round trip. Supplementing the
// distilled spec: the original dqlite gateway keeps exactly this kind of
// small fixed-size table of open statement handles.
package stmtcache

import (
	"context"

	"github.com/nodeql/tunnel/engine"
)

type entry struct {
	id         uint32
	stmt       engine.Stmt
	normalized string
}

// Cache holds prepared statements keyed by a caller-chosen uint32 ID,
// evicting the oldest entry (FIFO) once capacity is reached. It also
// indexes entries by their normalized SQL shape, so a caller can ask
// whether the query it just prepared is one a different id is already
// running — the same repeated-shape signal chatter.Monitor watches for in
// time, surfaced here structurally instead.
type Cache struct {
	db       engine.DB
	capacity int
	order    []uint32
	entries  map[uint32]*entry

	// byNormalized groups currently-cached ids by normalized SQL shape.
	byNormalized map[string]map[uint32]struct{}
}

// New creates a Cache backed by db, bounded to capacity entries. A
// capacity of 0 means unbounded.
func New(db engine.DB, capacity int) *Cache {
	return &Cache{
		db:           db,
		capacity:     capacity,
		entries:      make(map[uint32]*entry),
		byNormalized: make(map[string]map[uint32]struct{}),
	}
}

// Prepare compiles sql and caches the resulting statement under id,
// closing and replacing whatever was previously cached at id. If the cache
// is at capacity, the oldest entry is evicted and closed first. The
// literal SQL text is always recompiled — two ids sharing a normalized
// shape may still carry different literal values, so engine.Stmt handles
// are never shared across ids — but the normalized shape is indexed for
// NormalizedPeers.
func (c *Cache) Prepare(ctx context.Context, id uint32, sql string) (engine.Stmt, error) {
	if old, ok := c.entries[id]; ok {
		c.closeEntry(id, old)
		c.removeFromOrder(id)
	}

	stmt, _, err := c.db.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}

	if c.capacity > 0 && len(c.order) >= c.capacity {
		c.evictOldest()
	}

	normalized := Normalize(sql)
	e := &entry{id: id, stmt: stmt, normalized: normalized}
	c.entries[id] = e
	c.order = append(c.order, id)
	c.indexNormalized(id, normalized)
	return stmt, nil
}

// Get returns the statement cached under id, if any.
func (c *Cache) Get(id uint32) (engine.Stmt, bool) {
	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return e.stmt, true
}

// NormalizedSQL returns the normalized SQL text cached under id, if any.
func (c *Cache) NormalizedSQL(id uint32) (string, bool) {
	e, ok := c.entries[id]
	if !ok {
		return "", false
	}
	return e.normalized, true
}

// NormalizedPeers returns the ids of other currently-cached statements
// whose SQL normalizes to the same shape as id's. An empty result means id
// isn't cached, or no other cached statement shares its shape.
func (c *Cache) NormalizedPeers(id uint32) []uint32 {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	group := c.byNormalized[e.normalized]
	peers := make([]uint32, 0, len(group))
	for other := range group {
		if other != id {
			peers = append(peers, other)
		}
	}
	return peers
}

// Evict closes and removes the entry cached under id, if any.
func (c *Cache) Evict(id uint32) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.closeEntry(id, e)
	c.removeFromOrder(id)
}

// Len reports the number of cached statements.
func (c *Cache) Len() int { return len(c.entries) }

func (c *Cache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	id := c.order[0]
	c.order = c.order[1:]
	if e, ok := c.entries[id]; ok {
		c.closeEntry(id, e)
	}
}

func (c *Cache) removeFromOrder(id uint32) {
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// closeEntry closes id's statement and removes it from both the entry
// table and the normalized-shape index.
func (c *Cache) closeEntry(id uint32, e *entry) {
	e.stmt.Close()
	delete(c.entries, id)
	if group, ok := c.byNormalized[e.normalized]; ok {
		delete(group, id)
		if len(group) == 0 {
			delete(c.byNormalized, e.normalized)
		}
	}
}

func (c *Cache) indexNormalized(id uint32, normalized string) {
	group, ok := c.byNormalized[normalized]
	if !ok {
		group = make(map[uint32]struct{})
		c.byNormalized[normalized] = group
	}
	group[id] = struct{}{}
}

// Close closes every cached statement.
func (c *Cache) Close() error {
	var firstErr error
	for _, e := range c.entries {
		if err := e.stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.entries = make(map[uint32]*entry)
	c.order = nil
	c.byNormalized = make(map[string]map[uint32]struct{})
	return firstErr
}
