package observer

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// DefaultAutoMergeThreshold is the match score at which an observation is
// merged into its candidate without review.
const DefaultAutoMergeThreshold = 0.9

// Options configures an Observer. Meta and Matcher are required. Graph may
// be nil; created entities then get a bare canonical id instead of a node.
type Options struct {
	Meta    store.Store
	Graph   *graph.Graph
	Matcher Matcher
	Broker  *events.Broker
	// AutoMergeThreshold overrides the default when > 0.
	AutoMergeThreshold float64
}

// Observer is the tenant-scoped observation index and resolver. All
// lookups go through the metadata store, so views survive restarts.
type Observer struct {
	meta      store.Store
	graph     *graph.Graph
	matcher   Matcher
	broker    *events.Broker
	threshold float64
}

func New(opts Options) (*Observer, error) {
	if opts.Meta == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "observer requires a metadata store")
	}
	if opts.Matcher == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "observer requires a matcher")
	}
	threshold := opts.AutoMergeThreshold
	if threshold <= 0 {
		threshold = DefaultAutoMergeThreshold
	}
	return &Observer{
		meta:      opts.Meta,
		graph:     opts.Graph,
		matcher:   opts.Matcher,
		broker:    opts.Broker,
		threshold: threshold,
	}, nil
}

// obsNotFound is the uniform reply for missing and foreign observations.
// Cross-tenant probes must be indistinguishable from misses.
func obsNotFound(id string) error {
	return errdefs.New(errdefs.KindNotFound, "observation not found: %s", id)
}

// Record stores a new observation and immediately resolves it. The
// observation enters pending and leaves in matched, review or created.
func (o *Observer) Record(ctx context.Context, obs *types.Observation) (*types.Observation, error) {
	if obs == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "observation is required")
	}
	if obs.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "observation requires a tenantId")
	}
	if obs.Entity.Normalized == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "observation requires a normalized entity")
	}
	if !types.KnownEntityType(obs.Entity.Type) {
		obs.Entity.Type = types.EntityOther
	}

	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now().UTC()
	}
	obs.Status = types.ObservationPending

	if err := o.meta.PutObservation(obs); err != nil {
		return nil, err
	}

	if o.broker != nil {
		o.broker.Publish(&events.Event{
			Type:     events.EventObservationRecorded,
			TenantID: obs.TenantID,
			EntityID: obs.ID,
			Metadata: map[string]string{
				"normalized": obs.Entity.Normalized,
				"entityType": string(obs.Entity.Type),
			},
		})
	}

	return o.Resolve(ctx, obs.TenantID, obs.ID)
}

// Resolve runs the matcher over a pending observation and transitions it.
// Resolving an already-resolved observation is a no-op that returns the
// stored record, so retried enrichment never double-creates entities.
func (o *Observer) Resolve(ctx context.Context, tenantID, obsID string) (*types.Observation, error) {
	obs, err := o.get(tenantID, obsID)
	if err != nil {
		return nil, err
	}
	if obs.Status != types.ObservationPending {
		return obs, nil
	}

	candidates, err := o.matcher.Match(ctx, tenantID, obs.Entity)
	if err != nil {
		return nil, err
	}

	best := Candidate{}
	for _, c := range candidates {
		if c.Score > best.Score {
			best = c
		}
	}

	switch {
	case best.Score >= o.threshold:
		obs.Status = types.ObservationMatched
		obs.CanonicalID = best.CanonicalID
		obs.MatchScore = best.Score
		obs.MatchedBy = best.Rule
	case best.Score > 0:
		obs.Status = types.ObservationReview
		obs.CanonicalID = ""
		obs.MatchScore = best.Score
		obs.MatchedBy = best.Rule
	default:
		canonicalID, err := o.createCanonical(ctx, obs)
		if err != nil {
			return nil, err
		}
		obs.Status = types.ObservationCreated
		obs.CanonicalID = canonicalID
	}

	if obs.Status != types.ObservationReview {
		if err := o.meta.SetEntityIndex(tenantID, obs.Entity.Type, obs.Entity.Normalized, obs.CanonicalID); err != nil {
			return nil, err
		}
	}
	if err := o.meta.PutObservation(obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// createCanonical makes the canonical entity a first-of-its-kind
// observation resolves to.
func (o *Observer) createCanonical(ctx context.Context, obs *types.Observation) (string, error) {
	if o.graph == nil {
		return uuid.New().String(), nil
	}
	node, err := o.graph.UpsertNode(ctx, graph.NodeInput{
		TenantID:    obs.TenantID,
		EntityType:  string(obs.Entity.Type),
		DisplayName: obs.Entity.Text,
		Scope:       types.Scope{OrgID: obs.TenantID},
		FallbackID:  obs.Entity.Normalized,
		Properties: map[string]any{
			"normalized": obs.Entity.Normalized,
			"extracted":  true,
		},
		Provenance: map[string]any{
			"firstObservation": obs.ID,
			"sourceType":       obs.SourceType,
		},
	})
	if err != nil {
		return "", err
	}
	logger := log.WithTenant(obs.TenantID)
	logger.Debug().
		Str("node_id", node.ID).
		Str("normalized", obs.Entity.Normalized).
		Msg("Created canonical entity from observation")
	return node.ID, nil
}

// Approve moves a review observation to matched with the given canonical
// id. Approving an already-matched observation with the same id is a no-op.
func (o *Observer) Approve(ctx context.Context, tenantID, obsID, canonicalID string) (*types.Observation, error) {
	if canonicalID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "approval requires a canonicalId")
	}
	obs, err := o.get(tenantID, obsID)
	if err != nil {
		return nil, err
	}
	switch obs.Status {
	case types.ObservationMatched:
		if obs.CanonicalID == canonicalID {
			return obs, nil
		}
		return nil, errdefs.New(errdefs.KindConflict,
			"observation %s is already matched to a different entity", obsID)
	case types.ObservationReview, types.ObservationPending:
	default:
		return nil, errdefs.New(errdefs.KindConflict,
			"observation %s is %s and cannot be approved", obsID, obs.Status)
	}

	obs.Status = types.ObservationMatched
	obs.CanonicalID = canonicalID
	obs.MatchedBy = RuleManualApproval
	if err := o.meta.SetEntityIndex(tenantID, obs.Entity.Type, obs.Entity.Normalized, canonicalID); err != nil {
		return nil, err
	}
	if err := o.meta.PutObservation(obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// Reject marks an observation as a bad extraction. Terminal; the entity
// index is untouched.
func (o *Observer) Reject(ctx context.Context, tenantID, obsID string) (*types.Observation, error) {
	obs, err := o.get(tenantID, obsID)
	if err != nil {
		return nil, err
	}
	if obs.Status == types.ObservationRejected {
		return obs, nil
	}
	obs.Status = types.ObservationRejected
	obs.CanonicalID = ""
	if err := o.meta.PutObservation(obs); err != nil {
		return nil, err
	}
	return obs, nil
}

// Get returns one observation. Foreign observations look missing.
func (o *Observer) Get(ctx context.Context, tenantID, obsID string) (*types.Observation, error) {
	return o.get(tenantID, obsID)
}

func (o *Observer) get(tenantID, obsID string) (*types.Observation, error) {
	if tenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	obs, err := o.meta.GetObservation(obsID)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil, obsNotFound(obsID)
		}
		return nil, err
	}
	if obs.TenantID != tenantID {
		return nil, obsNotFound(obsID)
	}
	return obs, nil
}

// List returns the tenant's observations, newest first.
func (o *Observer) List(ctx context.Context, filter store.ObservationFilter) ([]*types.Observation, error) {
	if filter.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	return o.meta.ListObservations(filter)
}

// BySource returns the observations recorded from one source document.
func (o *Observer) BySource(ctx context.Context, tenantID, sourceType, sourceID string) ([]*types.Observation, error) {
	if tenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	return o.meta.ListObservations(store.ObservationFilter{
		TenantID:   tenantID,
		SourceType: sourceType,
		SourceID:   sourceID,
	})
}

// BuildView assembles the cross-source view of one normalized entity.
func (o *Observer) BuildView(ctx context.Context, tenantID, normalized string, entityType types.EntityType) (*types.EntityView, error) {
	if tenantID == "" || normalized == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId and normalized are required")
	}

	observations, err := o.meta.ListObservations(store.ObservationFilter{
		TenantID:   tenantID,
		Normalized: normalized,
		EntityType: entityType,
	})
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, errdefs.New(errdefs.KindNotFound, "entity not found: %s", normalized)
	}

	view := &types.EntityView{
		Normalized: normalized,
		Type:       entityType,
	}
	if id, err := o.meta.GetEntityIndex(tenantID, entityType, normalized); err == nil {
		view.CanonicalID = id
	} else if !errdefs.Is(err, errdefs.KindNotFound) {
		return nil, err
	}

	sources := make(map[string]bool)
	var confidence float64
	for _, obs := range observations {
		view.Observations = append(view.Observations, *obs)
		sources[obs.SourceType] = true
		confidence += obs.Entity.Confidence
		if view.FirstSeen.IsZero() || obs.ObservedAt.Before(view.FirstSeen) {
			view.FirstSeen = obs.ObservedAt
		}
		if obs.ObservedAt.After(view.LastSeen) {
			view.LastSeen = obs.ObservedAt
		}
	}
	view.Confidence = confidence / float64(len(observations))

	for s := range sources {
		view.Sources = append(view.Sources, s)
	}
	sort.Strings(view.Sources)
	return view, nil
}

// CountByStatus reports the tenant's observation counts for the inventory
// collector.
func (o *Observer) CountByStatus(ctx context.Context, tenantID string) (map[string]int, error) {
	observations, err := o.meta.ListObservations(store.ObservationFilter{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, obs := range observations {
		counts[string(obs.Status)]++
	}
	return counts, nil
}
