package compiler

import "sync"

// Cache holds compiled schemas keyed by namespace. Lookups and population
// are individually synchronized but a miss followed by Put is not: two
// callers compiling the same namespace concurrently both succeed and the
// last writer wins, which is harmless since both compile the same catalog.
type Cache struct {
	mu      sync.RWMutex
	schemas map[string]*CompiledSchema
}

// NewCache returns an empty schema cache.
func NewCache() *Cache {
	return &Cache{schemas: make(map[string]*CompiledSchema)}
}

// Get returns the cached schema for the namespace, if any.
func (c *Cache) Get(namespace string) (*CompiledSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[namespace]
	return s, ok
}

// Put stores a compiled schema under its namespace.
func (c *Cache) Put(schema *CompiledSchema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[schema.Namespace] = schema
}

// Reset drops the cached schema for the namespace so the next lookup
// recompiles from the catalog.
func (c *Cache) Reset(namespace string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.schemas, namespace)
}
