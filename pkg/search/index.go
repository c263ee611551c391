package search

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// BM25 constants. k1 dampens term-frequency saturation, b scales length
// normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// indexedTextProperties are the node properties folded into the searchable
// text alongside the display name and canonical path.
var indexedTextProperties = []string{"description", "body", "content", "text", "summary"}

// document is one indexed node.
type document struct {
	nodeID     string
	tenantID   string
	projectID  string
	entityType string
	profileID  string
	terms      map[string]int
	length     int
}

// Index is an in-process BM25 inverted index over graph nodes, partitioned
// by tenant. All methods are safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	docs    map[string]*document            // nodeID -> document
	byTerm  map[string]map[string]struct{}  // tenantID|term -> nodeIDs
	docsPer map[string]int                  // tenantID -> doc count
	lenSum  map[string]int                  // tenantID -> total term count
}

func NewIndex() *Index {
	return &Index{
		docs:    make(map[string]*document),
		byTerm:  make(map[string]map[string]struct{}),
		docsPer: make(map[string]int),
		lenSum:  make(map[string]int),
	}
}

// tokenize lowercases and splits on anything that is not a letter or digit.
// Single-character tokens carry no signal and are dropped.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			out = append(out, f)
		}
	}
	return out
}

// NodeText gathers the indexable text of a node.
func NodeText(node *types.Node) string {
	parts := make([]string, 0, 4)
	if node.DisplayName != "" {
		parts = append(parts, node.DisplayName)
	}
	if node.CanonicalPath != "" {
		parts = append(parts, node.CanonicalPath)
	}
	for _, key := range indexedTextProperties {
		if v, ok := node.Properties[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n")
}

// Put indexes a node, replacing any previous version of it.
func (ix *Index) Put(node *types.Node) {
	terms := make(map[string]int)
	length := 0
	for _, tok := range tokenize(NodeText(node)) {
		terms[tok]++
		length++
	}

	profileID, _ := node.Properties["profileId"].(string)
	doc := &document{
		nodeID:     node.ID,
		tenantID:   node.TenantID,
		projectID:  node.ProjectID,
		entityType: node.EntityType,
		profileID:  profileID,
		terms:      terms,
		length:     length,
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(node.ID)

	ix.docs[node.ID] = doc
	ix.docsPer[doc.tenantID]++
	ix.lenSum[doc.tenantID] += length
	for term := range terms {
		key := doc.tenantID + "|" + term
		posting := ix.byTerm[key]
		if posting == nil {
			posting = make(map[string]struct{})
			ix.byTerm[key] = posting
		}
		posting[node.ID] = struct{}{}
	}
}

// Remove drops a node from the index. Removing an unindexed node is a no-op.
func (ix *Index) Remove(nodeID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(nodeID)
}

func (ix *Index) removeLocked(nodeID string) {
	doc, ok := ix.docs[nodeID]
	if !ok {
		return
	}
	delete(ix.docs, nodeID)
	ix.docsPer[doc.tenantID]--
	ix.lenSum[doc.tenantID] -= doc.length
	for term := range doc.terms {
		key := doc.tenantID + "|" + term
		if posting := ix.byTerm[key]; posting != nil {
			delete(posting, nodeID)
			if len(posting) == 0 {
				delete(ix.byTerm, key)
			}
		}
	}
}

// Size returns the number of indexed documents for a tenant.
func (ix *Index) Size(tenantID string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.docsPer[tenantID]
}

// KeywordHit is one keyword-search result.
type KeywordHit struct {
	NodeID string
	Score  float64
}

// docFilter narrows keyword candidates before scoring.
type docFilter struct {
	projectID   string
	entityKinds []string
	profileIDs  []string
}

func (f docFilter) match(doc *document) bool {
	if f.projectID != "" && doc.projectID != f.projectID {
		return false
	}
	if len(f.entityKinds) > 0 {
		found := false
		for _, kind := range f.entityKinds {
			if doc.entityType == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.profileIDs) > 0 {
		found := false
		for _, id := range f.profileIDs {
			if doc.profileID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Search scores the tenant's documents against the query with BM25 and
// returns the top limit hits, best first. Ties break on node id for
// deterministic ordering.
func (ix *Index) Search(tenantID, query string, filter docFilter, limit int) []KeywordHit {
	tokens := tokenize(query)
	if len(tokens) == 0 || tenantID == "" {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	total := ix.docsPer[tenantID]
	if total == 0 {
		return nil
	}
	avgLen := float64(ix.lenSum[tenantID]) / float64(total)
	if avgLen == 0 {
		avgLen = 1
	}

	scores := make(map[string]float64)
	for _, term := range tokens {
		posting := ix.byTerm[tenantID+"|"+term]
		if len(posting) == 0 {
			continue
		}
		idf := math.Log(1 + (float64(total)-float64(len(posting))+0.5)/(float64(len(posting))+0.5))
		for nodeID := range posting {
			doc := ix.docs[nodeID]
			if doc == nil || doc.tenantID != tenantID || !filter.match(doc) {
				continue
			}
			tf := float64(doc.terms[term])
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(doc.length)/avgLen))
			scores[nodeID] += idf * norm
		}
	}

	hits := make([]KeywordHit, 0, len(scores))
	for nodeID, score := range scores {
		hits = append(hits, KeywordHit{NodeID: nodeID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].NodeID < hits[j].NodeID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Reindex rebuilds the tenant's documents from a node listing.
func (ix *Index) Reindex(ctx context.Context, tenantID string, nodes []*types.Node) error {
	if tenantID == "" {
		return errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if node.TenantID != tenantID {
			continue
		}
		ix.Put(node)
	}
	return nil
}
