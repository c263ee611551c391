package ner

import (
	"encoding/json"
	"strings"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/types"
)

const defaultConfidence = 0.8

// wireEntity is the shape the model is asked to emit. Confidence is a
// pointer so an absent field can be told apart from an explicit zero.
type wireEntity struct {
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	Normalized string   `json:"normalized"`
	Confidence *float64 `json:"confidence"`
	Qualifiers []string `json:"qualifiers"`
	Context    string   `json:"context"`
}

// parseEntities decodes a model reply into extracted entities. The reply
// may be fenced or wrapped in prose; the JSON inside must be an array of
// entity objects.
func parseEntities(reply, sourceText string) ([]types.ExtractedEntity, error) {
	payload := llm.ExtractJSON(reply)

	var wire []wireEntity
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, errdefs.New(errdefs.KindInvalidInput,
			"model returned malformed entity json: %s", payloadSample(reply))
	}

	entities := make([]types.ExtractedEntity, 0, len(wire))
	for _, w := range wire {
		if w.Text == "" {
			continue
		}

		entityType := types.EntityType(strings.ToLower(w.Type))
		if !types.KnownEntityType(entityType) {
			entityType = types.EntityOther
		}

		normalized := w.Normalized
		if normalized == "" {
			normalized = strings.ToLower(w.Text)
		}

		confidence := defaultConfidence
		if w.Confidence != nil {
			confidence = *w.Confidence
		}

		// Offsets come from the input, not the model: the verbatim
		// mention is located by search. -1 marks a paraphrased mention.
		start := strings.Index(sourceText, w.Text)
		end := -1
		if start >= 0 {
			end = start + len(w.Text)
		}

		entities = append(entities, types.ExtractedEntity{
			Text:        w.Text,
			Type:        entityType,
			Normalized:  normalized,
			Confidence:  confidence,
			StartOffset: start,
			EndOffset:   end,
			Qualifiers:  w.Qualifiers,
			Context:     w.Context,
		})
	}
	return entities, nil
}

func payloadSample(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
