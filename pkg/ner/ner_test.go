package ner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/types"
)

const reviewText = "Dana Rivera approved the rollout of Atlas to the Lisbon office."

func TestParseEntitiesFencedReply(t *testing.T) {
	reply := "```json\n" +
		`[{"text":"Dana Rivera","type":"person","normalized":"dana rivera","confidence":0.95,"context":"approved the rollout"}]` +
		"\n```"

	entities, err := parseEntities(reply, reviewText)
	require.NoError(t, err)
	require.Len(t, entities, 1)

	e := entities[0]
	assert.Equal(t, "Dana Rivera", e.Text)
	assert.Equal(t, types.EntityPerson, e.Type)
	assert.Equal(t, 0.95, e.Confidence)
	assert.Equal(t, 0, e.StartOffset)
	assert.Equal(t, len("Dana Rivera"), e.EndOffset)
}

func TestParseEntitiesStrictness(t *testing.T) {
	reply := `[
		{"text":"Atlas","type":"superweapon"},
		{"text":"Lisbon","type":"LOCATION","confidence":0.7},
		{"text":"the big launch","type":"project"},
		{"text":"","type":"person"}
	]`

	entities, err := parseEntities(reply, reviewText)
	require.NoError(t, err)
	require.Len(t, entities, 3)

	// Unknown types collapse to other; casing is forgiven.
	assert.Equal(t, types.EntityOther, entities[0].Type)
	assert.Equal(t, types.EntityLocation, entities[1].Type)

	// Missing confidence defaults, explicit values survive.
	assert.Equal(t, 0.8, entities[0].Confidence)
	assert.Equal(t, 0.7, entities[1].Confidence)

	// Missing normalized falls back to the lowercase mention.
	assert.Equal(t, "atlas", entities[0].Normalized)

	// Paraphrased mentions get no offsets.
	assert.Equal(t, -1, entities[2].StartOffset)
	assert.Equal(t, -1, entities[2].EndOffset)

	// Offsets of verbatim mentions come from the input.
	wantStart := len("Dana Rivera approved the rollout of ")
	assert.Equal(t, wantStart, entities[0].StartOffset)
}

func TestParseEntitiesMalformed(t *testing.T) {
	_, err := parseEntities("I found two people and a city.", reviewText)
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
	assert.Contains(t, err.Error(), "I found two people")
}

func TestExtractorRoundTrip(t *testing.T) {
	provider := &llm.MockProvider{Replies: []string{
		`[{"text":"Dana Rivera","type":"person","confidence":0.9}]`,
	}}
	x := NewExtractor(provider)

	entities, err := x.Extract(context.Background(), ExtractRequest{
		TenantID:   "org-1",
		Text:       reviewText,
		SourceID:   "doc-1",
		SourceType: "document",
	})
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "dana rivera", entities[0].Normalized)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].Prompt, reviewText)
	assert.Contains(t, calls[0].System, "person, organization")
}

func TestExtractorRequiresTenant(t *testing.T) {
	x := NewExtractor(&llm.MockProvider{})
	_, err := x.Extract(context.Background(), ExtractRequest{Text: "hello"})
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
}

func TestExtractorSkipsEmptyText(t *testing.T) {
	provider := &llm.MockProvider{}
	x := NewExtractor(provider)

	entities, err := x.Extract(context.Background(), ExtractRequest{TenantID: "org-1"})
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Empty(t, provider.Calls())
}

func TestExtractBulkAccumulatesPerItem(t *testing.T) {
	provider := &llm.MockProvider{Replies: []string{
		`[{"text":"Dana Rivera","type":"person"}]`,
		`sorry, I had trouble with this one`,
	}}
	x := NewExtractor(provider)

	items := x.ExtractBulk(context.Background(), []ExtractRequest{
		{TenantID: "org-1", Text: reviewText},
		{TenantID: "org-1", Text: "second document"},
	})
	require.Len(t, items, 2)

	require.NoError(t, items[0].Err)
	assert.Len(t, items[0].Entities, 1)

	require.Error(t, items[1].Err)
	assert.True(t, errdefs.Is(items[1].Err, errdefs.KindInvalidInput))
	assert.NotEmpty(t, items[1].Error)
}
