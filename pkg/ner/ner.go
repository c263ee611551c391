package ner

import (
	"context"
	"fmt"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/types"
)

const extractMaxTokens = 2048

// ExtractRequest is one piece of text to mine for entity mentions.
type ExtractRequest struct {
	TenantID   string `json:"tenantId"`
	Text       string `json:"text"`
	SourceID   string `json:"sourceId"`
	SourceType string `json:"sourceType"`
}

// Extractor finds entity mentions in free text through a chat provider.
type Extractor struct {
	provider llm.ChatProvider
}

func NewExtractor(provider llm.ChatProvider) *Extractor {
	return &Extractor{provider: provider}
}

// Extract asks the model for entity mentions and parses its reply
// strictly: unknown types collapse to "other", offsets are recomputed
// against the input, and a reply that is not valid JSON is an
// INVALID_INPUT error carrying a sample of the payload.
func (x *Extractor) Extract(ctx context.Context, req ExtractRequest) ([]types.ExtractedEntity, error) {
	if req.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "extraction requires a tenantId")
	}
	if req.Text == "" {
		return nil, nil
	}

	resp, err := x.provider.Chat(ctx, llm.ChatRequest{
		System:    extractSystemPrompt,
		Prompt:    fmt.Sprintf(extractPromptFmt, req.SourceType, req.Text),
		MaxTokens: extractMaxTokens,
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("ner", "error").Inc()
		return nil, err
	}
	metrics.LLMCalls.WithLabelValues("ner", "ok").Inc()

	return parseEntities(resp.Text, req.Text)
}

// BulkItem is the outcome for one request in a bulk extraction.
type BulkItem struct {
	Entities []types.ExtractedEntity `json:"entities,omitempty"`
	Err      error                   `json:"-"`
	Error    string                  `json:"error,omitempty"`
}

// ExtractBulk runs every request and accumulates per-item outcomes. One
// bad document never fails the batch; its slot carries the error instead.
func (x *Extractor) ExtractBulk(ctx context.Context, reqs []ExtractRequest) []BulkItem {
	items := make([]BulkItem, len(reqs))
	for i, req := range reqs {
		entities, err := x.Extract(ctx, req)
		if err != nil {
			items[i] = BulkItem{Err: err, Error: errdefs.Sanitize(err)}
			continue
		}
		items[i] = BulkItem{Entities: entities}
	}
	return items
}
