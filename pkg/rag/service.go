package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tapestryhq/tapestry/pkg/community"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/expand"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/metrics"
)

// Expansion defaults applied by ExpandGraph. Deliberately shallower than
// the context builder's: callers expanding explicitly usually want the
// immediate neighborhood.
const (
	expandDefaultMaxHops        = 2
	expandDefaultMaxNodesPerHop = 20
	expandDefaultMaxTotalNodes  = 100
)

// defaultAnswerTokens bounds answer generation when the caller does not.
const defaultAnswerTokens = 1024

// ServiceOptions wires the GraphRAG service. Builder is required.
// Provider may be nil; answers then come from the deterministic fallback.
type ServiceOptions struct {
	Builder     *Builder
	Expander    *expand.Expander
	Communities community.Provider
	Provider    llm.ChatProvider
	// MaxTokens is the answer budget applied when a request carries none.
	// Zero falls back to the package default.
	MaxTokens int
}

// Service is the request-level GraphRAG facade.
type Service struct {
	builder     *Builder
	expander    *expand.Expander
	communities community.Provider
	provider    llm.ChatProvider
	maxTokens   int
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Builder == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "service requires a context builder")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultAnswerTokens
	}
	return &Service{
		builder:     opts.Builder,
		expander:    opts.Expander,
		communities: opts.Communities,
		provider:    opts.Provider,
		maxTokens:   opts.MaxTokens,
	}, nil
}

// ContextResponse wraps a built context with its wall time.
type ContextResponse struct {
	Context *Context `json:"context"`
	TookMS  int64    `json:"tookMs"`
}

// BuildContext validates the request and builds the context.
func (s *Service) BuildContext(ctx context.Context, req ContextRequest) (*ContextResponse, error) {
	started := time.Now()
	built, err := s.builder.Build(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ContextResponse{
		Context: built,
		TookMS:  time.Since(started).Milliseconds(),
	}, nil
}

// ExpandRequest asks for a graph expansion from explicit seeds.
type ExpandRequest struct {
	TenantID       string           `json:"tenantId"`
	SeedIDs        []string         `json:"seedIds"`
	MaxHops        int              `json:"maxHops,omitempty"`
	MaxNodesPerHop int              `json:"maxNodesPerHop,omitempty"`
	MaxTotalNodes  int              `json:"maxTotalNodes,omitempty"`
	EdgeTypes      []string         `json:"edgeTypes,omitempty"`
	Direction      expand.Direction `json:"direction,omitempty"`
}

// ExpandGraph validates and runs one expansion.
func (s *Service) ExpandGraph(ctx context.Context, req ExpandRequest) (*expand.Result, error) {
	if req.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "expansion requires a tenantId")
	}
	if len(req.SeedIDs) == 0 {
		return nil, errdefs.New(errdefs.KindInvalidInput, "expansion requires seed ids")
	}
	if s.expander == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "no expander configured")
	}
	if req.MaxHops <= 0 {
		req.MaxHops = expandDefaultMaxHops
	}
	if req.MaxNodesPerHop <= 0 {
		req.MaxNodesPerHop = expandDefaultMaxNodesPerHop
	}
	if req.MaxTotalNodes <= 0 {
		req.MaxTotalNodes = expandDefaultMaxTotalNodes
	}
	return s.expander.Expand(ctx, expand.Request{
		TenantID:       req.TenantID,
		SeedIDs:        req.SeedIDs,
		MaxHops:        req.MaxHops,
		MaxNodesPerHop: req.MaxNodesPerHop,
		MaxTotalNodes:  req.MaxTotalNodes,
		EdgeTypes:      req.EdgeTypes,
		Direction:      req.Direction,
	})
}

// GetEntityCommunities returns the communities covering the entities.
func (s *Service) GetEntityCommunities(ctx context.Context, tenantID string, entityIDs []string, max int) ([]community.Community, error) {
	if tenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "tenantId is required")
	}
	if s.communities == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "no community provider configured")
	}
	return s.communities.EntityCommunities(ctx, tenantID, entityIDs, max)
}

// AnswerRequest asks for a grounded answer over an already-built context.
type AnswerRequest struct {
	TenantID  string   `json:"tenantId"`
	Query     string   `json:"query"`
	Context   *Context `json:"context"`
	MaxTokens int      `json:"maxTokens,omitempty"`
}

// Citation ties an answer span to a context entity. Offsets are byte
// positions into the answer text; -1 means the provider could not anchor
// the citation.
type Citation struct {
	EntityID    string `json:"entityId"`
	Name        string `json:"name"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
}

// Answer is a generated reply with its grounding.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
	Model     string     `json:"model"`
	TookMS    int64      `json:"tookMs"`
}

// GenerateAnswer turns a context into a grounded answer. The context must
// belong to the requesting tenant.
func (s *Service) GenerateAnswer(ctx context.Context, req AnswerRequest) (*Answer, error) {
	if req.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "answer generation requires a tenantId")
	}
	if req.Context == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "answer generation requires a context")
	}
	if req.Context.TenantID != req.TenantID {
		return nil, errdefs.New(errdefs.KindTenantMismatch, "context does not belong to the requesting tenant")
	}
	if req.Query == "" {
		req.Query = req.Context.Query
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = s.maxTokens
	}

	started := time.Now()
	if s.provider == nil {
		answer := mockAnswer(req)
		answer.TookMS = time.Since(started).Milliseconds()
		return answer, nil
	}

	prompt := buildAnswerPrompt(req)
	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		System:    answerSystemPrompt,
		Prompt:    prompt,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("answer", "error").Inc()
		return nil, errdefs.Wrap(errdefs.KindInternal, err, "answer generation failed")
	}
	metrics.LLMCalls.WithLabelValues("answer", "ok").Inc()

	answer := &Answer{
		Text:   resp.Text,
		Model:  resp.Model,
		TookMS: time.Since(started).Milliseconds(),
	}
	// Model output is prose; cite the grounding entities without offsets.
	for _, seed := range req.Context.Seeds {
		answer.Citations = append(answer.Citations, Citation{
			EntityID:    seed.ID,
			Name:        seed.Name,
			StartOffset: -1,
			EndOffset:   -1,
		})
	}
	return answer, nil
}

const answerSystemPrompt = "You answer questions strictly from the provided knowledge-graph context. " +
	"If the context does not contain the answer, say so. Never invent entities or relationships."

// buildAnswerPrompt renders the context for the model, bounded by
// maxTokens*4 characters (the usual bytes-per-token rule of thumb).
func buildAnswerPrompt(req AnswerRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nContext entities:\n", req.Query)
	for _, seed := range req.Context.Seeds {
		fmt.Fprintf(&b, "- %s (%s, relevance %.3f)", seed.Name, seed.EntityType, seed.Score)
		if seed.Content != "" {
			fmt.Fprintf(&b, ": %s", seed.Content)
		}
		b.WriteString("\n")
	}

	if g := req.Context.Graph; g != nil && len(g.Edges) > 0 {
		b.WriteString("\nRelationships:\n")
		for _, edge := range g.Edges {
			fmt.Fprintf(&b, "- %s -[%s]-> %s\n",
				nodeName(g, edge.SourceNodeID), edge.EdgeType, nodeName(g, edge.TargetNodeID))
		}
	}

	if len(req.Context.Communities) > 0 {
		b.WriteString("\nCommunities:\n")
		for _, c := range req.Context.Communities {
			fmt.Fprintf(&b, "- %s (%d members)\n", c.Label, c.Size)
		}
	}

	prompt := b.String()
	if budget := req.MaxTokens * 4; len(prompt) > budget {
		prompt = prompt[:budget]
	}
	return prompt
}

// mockAnswer produces a deterministic grounded answer. Every seed is cited
// with exact substring offsets into the answer text.
func mockAnswer(req AnswerRequest) *Answer {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on the knowledge graph, the entities most relevant to %q are: ", req.Query)

	answer := &Answer{Model: "mock"}
	for i, seed := range req.Context.Seeds {
		if i > 0 {
			b.WriteString(", ")
		}
		start := b.Len()
		b.WriteString(seed.Name)
		answer.Citations = append(answer.Citations, Citation{
			EntityID:    seed.ID,
			Name:        seed.Name,
			StartOffset: start,
			EndOffset:   start + len(seed.Name),
		})
	}
	if len(req.Context.Seeds) == 0 {
		b.WriteString("none found in the indexed sources")
	}
	b.WriteString(".")

	if g := req.Context.Graph; g != nil && len(g.Edges) > 0 {
		fmt.Fprintf(&b, " The graph connects them through %d relationship(s).", len(g.Edges))
	}
	if len(req.Context.Communities) > 0 {
		fmt.Fprintf(&b, " They belong to %d community(ies).", len(req.Context.Communities))
	}

	answer.Text = b.String()
	return answer
}
