// Package cache keeps recently read public menus in process memory.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/atinyakov/qrmenu/internal/models"
)

// Menus is a ristretto-backed cache of menus keyed by tenant. Entries are
// weighted by the size of their stored document.
type Menus struct {
	c   *ristretto.Cache[string, []models.MenuItem]
	ttl time.Duration
}

// NewMenus creates a cache holding at most maxCostBytes of menu documents,
// each for at most ttl.
func NewMenus(maxCostBytes int64, ttl time.Duration) (*Menus, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []models.MenuItem]{
		NumCounters: 10_000,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Menus{c: c, ttl: ttl}, nil
}

// Get returns the cached menu of tenant.
func (m *Menus) Get(tenant string) ([]models.MenuItem, bool) {
	return m.c.Get(tenant)
}

// Set caches items for tenant. size is the byte size of the stored document.
// Writes are applied asynchronously.
func (m *Menus) Set(tenant string, items []models.MenuItem, size int) {
	if size < 1 {
		size = 1
	}
	m.c.SetWithTTL(tenant, items, int64(size), m.ttl)
}

// Delete drops the cached menu of tenant.
func (m *Menus) Delete(tenant string) {
	m.c.Del(tenant)
}

// Wait blocks until pending writes are visible to Get.
func (m *Menus) Wait() {
	m.c.Wait()
}

// Close releases the cache's background goroutines.
func (m *Menus) Close() {
	m.c.Close()
}
