package observer

import (
	"context"
	"strings"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// Candidate is one canonical entity a matcher proposes for an observation.
type Candidate struct {
	CanonicalID string  `json:"canonicalId"`
	Score       float64 `json:"score"` // 0..1
	Rule        string  `json:"rule"`  // rule that fired
}

// Matcher proposes canonical candidates for an extracted entity. An empty
// candidate list means nothing plausible exists yet.
type Matcher interface {
	Match(ctx context.Context, tenantID string, entity types.ExtractedEntity) ([]Candidate, error)
}

// Matching rules, recorded on observations as matchedBy.
const (
	RuleExactNormalized = "exact-normalized"
	RuleCaseFold        = "case-fold"
	RuleAlias           = "alias"
	RuleManualApproval  = "manual-approval"
)

// IndexMatcher matches against the tenant's entity index: exact normalized
// hits score 1.0, case-folded hits 0.85, alias hits 0.7. Only the best rule
// per canonical id is reported.
type IndexMatcher struct {
	meta store.Store
}

func NewIndexMatcher(meta store.Store) *IndexMatcher {
	return &IndexMatcher{meta: meta}
}

func (m *IndexMatcher) Match(ctx context.Context, tenantID string, entity types.ExtractedEntity) ([]Candidate, error) {
	if tenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "matching requires a tenantId")
	}
	seen := make(map[string]bool)
	var out []Candidate

	add := func(canonicalID string, score float64, rule string) {
		if canonicalID == "" || seen[canonicalID] {
			return
		}
		seen[canonicalID] = true
		out = append(out, Candidate{CanonicalID: canonicalID, Score: score, Rule: rule})
	}

	if id, err := m.meta.GetEntityIndex(tenantID, entity.Type, entity.Normalized); err == nil {
		add(id, 1.0, RuleExactNormalized)
	} else if !errdefs.Is(err, errdefs.KindNotFound) {
		return nil, err
	}

	folded := strings.ToLower(strings.TrimSpace(entity.Normalized))
	if folded != entity.Normalized {
		if id, err := m.meta.GetEntityIndex(tenantID, entity.Type, folded); err == nil {
			add(id, 0.85, RuleCaseFold)
		} else if !errdefs.Is(err, errdefs.KindNotFound) {
			return nil, err
		}
	}

	// Qualifiers carry aliases the extractor saw alongside the mention
	// ("ACME" next to "ACME Corporation"). They are weaker evidence.
	for _, alias := range entity.Qualifiers {
		if id, err := m.meta.GetEntityIndex(tenantID, entity.Type, alias); err == nil {
			add(id, 0.7, RuleAlias)
		} else if !errdefs.Is(err, errdefs.KindNotFound) {
			return nil, err
		}
	}

	return out, nil
}

var _ Matcher = (*IndexMatcher)(nil)
