package rag

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tapestryhq/tapestry/pkg/metrics"
)

// contextCache is a bounded cache with insertion-order eviction. Updating
// an existing key does not rotate its eviction slot; a hot entry ages out
// on schedule like any other, which keeps the cache from pinning stale
// contexts forever.
type contextCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*Context
	order   []string
}

func newContextCache(maxSize int) *contextCache {
	if maxSize <= 0 {
		maxSize = 128
	}
	return &contextCache{
		maxSize: maxSize,
		entries: make(map[string]*Context),
	}
}

func (c *contextCache) get(key string) (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, ok := c.entries[key]
	if ok {
		metrics.ContextCacheHits.WithLabelValues("hit").Inc()
	} else {
		metrics.ContextCacheHits.WithLabelValues("miss").Inc()
	}
	return ctx, ok
}

func (c *contextCache) put(key string, ctx *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = ctx
		return
	}
	for len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = ctx
	c.order = append(c.order, key)
}

func (c *contextCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// cacheKey folds every output-shaping request field into the key. The
// request must already carry its defaults; edge types are sorted so the
// caller's ordering does not split entries.
func cacheKey(req ContextRequest) string {
	edgeTypes := append([]string(nil), req.EdgeTypes...)
	sort.Strings(edgeTypes)
	kinds := append([]string(nil), req.EntityKinds...)
	sort.Strings(kinds)
	return fmt.Sprintf("%s|%s|%s|%d|%g|%d|%d|%d|%s|%t|%d|%t|%d|%s",
		req.TenantID,
		req.ProjectID,
		req.Query,
		req.TopK,
		req.ScoreThreshold,
		req.MaxHops,
		req.MaxNodesPerHop,
		req.MaxTotalNodes,
		strings.Join(edgeTypes, ","),
		req.IncludeCommunities,
		req.MaxCommunities,
		req.IncludeContent,
		req.MaxContentLength,
		strings.Join(kinds, ","),
	)
}
