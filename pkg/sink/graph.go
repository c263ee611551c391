package sink

import (
	"context"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/filter"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// GraphSink is the default sink: it writes normalized records into the
// knowledge graph. Record edges reference sibling records by logical id;
// the sink resolves those against the logical keys of everything upserted
// since Begin, so edges may point at records from earlier batches of the
// same run.
//
// Upserts apply immediately. Abort drops the resolution state only; the
// deterministic logical keys make a replayed run converge on the same
// records rather than duplicate them.
type GraphSink struct {
	g        *graph.Graph
	endpoint *types.Endpoint
	flt      *filter.Filter

	began     bool
	localKeys map[string]string
}

// NewGraphFactory returns a Factory producing graph sinks.
func NewGraphFactory(g *graph.Graph) Factory {
	return func(endpoint *types.Endpoint, cfg *types.UnitConfig) (Sink, error) {
		var flt *filter.Filter
		if cfg != nil && cfg.Filter != "" {
			var err error
			flt, err = filter.Compile(cfg.Filter)
			if err != nil {
				return nil, err
			}
		}
		return &GraphSink{g: g, endpoint: endpoint, flt: flt}, nil
	}
}

func (s *GraphSink) ID() string {
	return DefaultSinkID
}

func (s *GraphSink) Begin(ctx context.Context) error {
	if s.began {
		return errdefs.New(errdefs.KindInternal, "sink already begun")
	}
	s.began = true
	s.localKeys = make(map[string]string)
	return nil
}

// WriteBatch applies one batch: nodes first, then the batch's edges, so an
// edge may reference any record of this batch or an earlier one.
func (s *GraphSink) WriteBatch(ctx context.Context, batch *types.Batch) (*BatchResult, error) {
	if !s.began {
		return nil, errdefs.New(errdefs.KindInternal, "write before begin")
	}

	logger := log.WithComponent("sink").With().
		Str("endpoint_id", s.endpoint.ID).Logger()

	result := &BatchResult{}
	kept := make([]*types.NormalizedRecord, 0, len(batch.Records))
	for i := range batch.Records {
		rec := &batch.Records[i]

		match, err := s.flt.Match(rec)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		if err := s.checkScope(rec); err != nil {
			return nil, err
		}

		node, err := s.g.UpsertNode(ctx, s.nodeInput(rec))
		if err != nil {
			return nil, err
		}
		if rec.LogicalID != "" {
			s.localKeys[rec.LogicalID] = node.LogicalKey
		}
		result.Upserts++
		kept = append(kept, rec)
	}

	for _, rec := range kept {
		for _, re := range rec.Edges {
			sourceKey, ok := s.localKeys[re.SourceLogicalID]
			if !ok {
				logger.Warn().Str("logical_id", re.SourceLogicalID).Str("edge_type", re.Type).
					Msg("Edge source not seen this run, skipping")
				continue
			}
			targetKey, ok := s.localKeys[re.TargetLogicalID]
			if !ok {
				logger.Warn().Str("logical_id", re.TargetLogicalID).Str("edge_type", re.Type).
					Msg("Edge target not seen this run, skipping")
				continue
			}
			_, err := s.g.UpsertEdge(ctx, graph.EdgeInput{
				TenantID:         s.endpoint.TenantID,
				EdgeType:         re.Type,
				SourceLogicalKey: sourceKey,
				TargetLogicalKey: targetKey,
				Scope:            s.recordScope(rec),
				Metadata:         re.Properties,
				OriginEndpointID: rec.Provenance.EndpointID,
				OriginVendor:     rec.Provenance.Vendor,
			})
			if err != nil {
				return nil, err
			}
			result.Edges++
		}
	}
	return result, nil
}

func (s *GraphSink) Commit(ctx context.Context, stats map[string]float64) error {
	if !s.began {
		return errdefs.New(errdefs.KindInternal, "commit before begin")
	}
	s.began = false
	s.localKeys = nil
	return nil
}

func (s *GraphSink) Abort(ctx context.Context, cause error) error {
	s.began = false
	s.localKeys = nil
	return nil
}

// checkScope refuses records claiming a different org than the endpoint
// they arrived through. Drivers do not get to write across tenants.
func (s *GraphSink) checkScope(rec *types.NormalizedRecord) error {
	if rec.Scope.OrgID != "" && rec.Scope.OrgID != s.endpoint.TenantID {
		return errdefs.New(errdefs.KindTenantMismatch,
			"record scope org %q does not match endpoint tenant", rec.Scope.OrgID)
	}
	return nil
}

// recordScope is the record's own scope, falling back to the endpoint's
// for fields the driver left empty.
func (s *GraphSink) recordScope(rec *types.NormalizedRecord) types.Scope {
	scope := rec.Scope
	epScope := s.endpoint.Scope()
	if scope.OrgID == "" {
		scope.OrgID = epScope.OrgID
	}
	if scope.DomainID == "" {
		scope.DomainID = epScope.DomainID
	}
	if scope.ProjectID == "" {
		scope.ProjectID = epScope.ProjectID
	}
	return scope
}

func (s *GraphSink) nodeInput(rec *types.NormalizedRecord) graph.NodeInput {
	scope := s.recordScope(rec)
	in := graph.NodeInput{
		TenantID:         scope.OrgID,
		ProjectID:        scope.ProjectID,
		EntityType:       rec.EntityType,
		DisplayName:      rec.DisplayName,
		Properties:       rec.Payload,
		Scope:            scope,
		OriginEndpointID: rec.Provenance.EndpointID,
		OriginVendor:     rec.Provenance.Vendor,
		FallbackID:       rec.LogicalID,
		Phase:            rec.Phase,
	}
	if in.OriginEndpointID == "" {
		in.OriginEndpointID = s.endpoint.ID
	}
	if in.Provenance == nil && rec.Provenance.SourceEventID != "" {
		in.Provenance = map[string]any{"sourceEventId": rec.Provenance.SourceEventID}
	}
	return in
}

var _ Sink = (*GraphSink)(nil)
