package builder

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tobsdb/tdb/internal/path"
	"github.com/tobsdb/tdb/internal/values"
)

// Caches holds the per-database memoization the planner relies on.
type Caches struct {
	Matcher *values.Matcher
	Paths   *path.Resolver
	// prepared WHERE trees keyed by table and caller supplied id
	where *lru.Cache[string, any]
}

func NewCaches(size int) *Caches {
	if size <= 0 {
		size = values.DefaultCacheSize
	}
	where, _ := lru.New[string, any](size)
	return &Caches{
		Matcher: values.NewMatcher(size),
		Paths:   path.NewResolver(size),
		where:   where,
	}
}

func whereCacheKey(table, id string) string { return table + "\x00" + id }

func (c *Caches) Where(table, id string) (any, bool) {
	return c.where.Get(whereCacheKey(table, id))
}

func (c *Caches) SetWhere(table, id string, prepared any) {
	c.where.Add(whereCacheKey(table, id), prepared)
}

// ForgetTable drops the prepared WHERE trees of a table whose definition
// changed.
func (c *Caches) ForgetTable(table string) {
	prefix := table + "\x00"
	for _, key := range c.where.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.where.Remove(key)
		}
	}
}
