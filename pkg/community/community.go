// Package community derives entity communities from the knowledge graph.
//
// Communities are the connected components of a tenant's graph, computed
// with a disjoint-set union over the edge list. Component membership moves
// slowly relative to queries, so each tenant's view is cached for a TTL
// and rebuilds are collapsed through singleflight: a burst of requests
// after expiry triggers exactly one scan.
package community

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/store"
)

// Community is one connected component of a tenant's graph.
type Community struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Label    string   `json:"label"`
	Members  []string `json:"members"`
	Size     int      `json:"size"`
}

// Provider serves the communities covering a set of entities.
type Provider interface {
	EntityCommunities(ctx context.Context, tenantID string, entityIDs []string, max int) ([]Community, error)
}

// DefaultTTL bounds how stale a tenant's community view may get.
const DefaultTTL = 5 * time.Minute

type tenantView struct {
	byEntity map[string]int
	all      []Community
	builtAt  time.Time
}

// DSUProvider computes communities with union-find over the metadata
// store's edges.
type DSUProvider struct {
	meta store.Store
	ttl  time.Duration

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*tenantView
}

func NewDSUProvider(meta store.Store, ttl time.Duration) *DSUProvider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DSUProvider{
		meta:  meta,
		ttl:   ttl,
		cache: make(map[string]*tenantView),
	}
}

// EntityCommunities returns up to max communities that contain any of the
// given entities, largest first.
func (p *DSUProvider) EntityCommunities(ctx context.Context, tenantID string, entityIDs []string, max int) ([]Community, error) {
	if tenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	if max <= 0 {
		max = 5
	}

	view, err := p.view(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	picked := make(map[int]bool)
	var out []Community
	for _, id := range entityIDs {
		idx, ok := view.byEntity[id]
		if !ok || picked[idx] {
			continue
		}
		picked[idx] = true
		out = append(out, view.all[idx])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size > out[j].Size
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Invalidate drops a tenant's cached view; the next query rebuilds.
func (p *DSUProvider) Invalidate(tenantID string) {
	p.mu.Lock()
	delete(p.cache, tenantID)
	p.mu.Unlock()
}

func (p *DSUProvider) view(ctx context.Context, tenantID string) (*tenantView, error) {
	p.mu.RLock()
	cached := p.cache[tenantID]
	p.mu.RUnlock()
	if cached != nil && time.Since(cached.builtAt) < p.ttl {
		return cached, nil
	}

	v, err, _ := p.group.Do(tenantID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have rebuilt
		// while this one waited to enter.
		p.mu.RLock()
		fresh := p.cache[tenantID]
		p.mu.RUnlock()
		if fresh != nil && time.Since(fresh.builtAt) < p.ttl {
			return fresh, nil
		}

		view, err := p.rebuild(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.cache[tenantID] = view
		p.mu.Unlock()
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tenantView), nil
}

func (p *DSUProvider) rebuild(ctx context.Context, tenantID string) (*tenantView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes, err := p.meta.ListNodes(store.NodeFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	edges, err := p.meta.ListEdges(store.EdgeFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	dsu := newDSU()
	names := make(map[string]string, len(nodes))
	degree := make(map[string]int)
	for _, node := range nodes {
		dsu.add(node.ID)
		names[node.ID] = node.DisplayName
	}
	for _, edge := range edges {
		dsu.add(edge.SourceNodeID)
		dsu.add(edge.TargetNodeID)
		dsu.union(edge.SourceNodeID, edge.TargetNodeID)
		degree[edge.SourceNodeID]++
		degree[edge.TargetNodeID]++
	}

	components := make(map[string][]string)
	for id := range dsu.parent {
		root := dsu.find(id)
		components[root] = append(components[root], id)
	}

	view := &tenantView{
		byEntity: make(map[string]int),
		builtAt:  time.Now(),
	}
	for _, members := range components {
		sort.Strings(members)
		c := Community{
			ID:       communityID(tenantID, members),
			TenantID: tenantID,
			Label:    pickLabel(members, names, degree),
			Members:  members,
			Size:     len(members),
		}
		idx := len(view.all)
		view.all = append(view.all, c)
		for _, m := range members {
			view.byEntity[m] = idx
		}
	}
	return view, nil
}

// communityID is a stable digest of the sorted membership, so a community
// keeps its id across rebuilds while its membership holds.
func communityID(tenantID string, sortedMembers []string) string {
	sum := sha256.Sum256([]byte(tenantID + "\x00" + strings.Join(sortedMembers, "\x00")))
	return "cm-" + hex.EncodeToString(sum[:8])
}

// pickLabel names the community after its best-connected member.
func pickLabel(members []string, names map[string]string, degree map[string]int) string {
	best, bestDegree := "", -1
	for _, m := range members {
		if names[m] == "" {
			continue
		}
		if degree[m] > bestDegree {
			best, bestDegree = names[m], degree[m]
		}
	}
	return best
}

// dsu is a path-compressing union-find.
type dsu struct {
	parent map[string]string
	rank   map[string]int
}

func newDSU() *dsu {
	return &dsu{parent: make(map[string]string), rank: make(map[string]int)}
}

func (d *dsu) add(id string) {
	if id == "" {
		return
	}
	if _, ok := d.parent[id]; !ok {
		d.parent[id] = id
	}
}

func (d *dsu) find(id string) string {
	for d.parent[id] != id {
		d.parent[id] = d.parent[d.parent[id]]
		id = d.parent[id]
	}
	return id
}

func (d *dsu) union(a, b string) {
	if a == "" || b == "" {
		return
	}
	ra, rb := d.find(a), d.find(b)
	if ra == rb {
		return
	}
	if d.rank[ra] < d.rank[rb] {
		ra, rb = rb, ra
	}
	d.parent[rb] = ra
	if d.rank[ra] == d.rank[rb] {
		d.rank[ra]++
	}
}

var _ Provider = (*DSUProvider)(nil)
