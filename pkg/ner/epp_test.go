package ner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/llm"
)

func TestClassifyEntityStopsAfterOneCall(t *testing.T) {
	provider := &llm.MockProvider{Replies: []string{
		`{"type":"entity","confidence":0.92}`,
	}}
	c := NewClassifier(provider)

	result, err := c.Classify(context.Background(), "Dana Rivera is the head of payments.")
	require.NoError(t, err)
	assert.Equal(t, DocEntity, result.Kind)
	assert.Equal(t, 0.92, result.Confidence)
	assert.Nil(t, result.Policy)
	assert.Nil(t, result.Process)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, classifyMaxTokens, calls[0].MaxTokens)
}

func TestClassifyPolicyExtractsRules(t *testing.T) {
	provider := &llm.MockProvider{Replies: []string{
		`{"type":"policy","confidence":0.88}`,
		`{"name":"Data Retention Policy","summary":"How long data lives.","rules":[
			{"text":"Customer data is purged after 90 days."},
			{"id":"DR-7","text":"Backups rotate monthly.","severity":"high"}
		]}`,
	}}
	c := NewClassifier(provider)

	result, err := c.Classify(context.Background(), "Data Retention Policy ...")
	require.NoError(t, err)
	assert.Equal(t, DocPolicy, result.Kind)
	require.NotNil(t, result.Policy)
	require.Len(t, result.Policy.Rules, 2)

	// Unnumbered rules get sequential ids; explicit ids survive.
	assert.Equal(t, "R1", result.Policy.Rules[0].ID)
	assert.Equal(t, "DR-7", result.Policy.Rules[1].ID)

	calls := provider.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, detailsMaxTokens, calls[1].MaxTokens)
}

func TestClassifyProcessExtractsSteps(t *testing.T) {
	provider := &llm.MockProvider{Replies: []string{
		`{"type":"process","confidence":0.8}`,
		`{"name":"Incident Response","steps":[
			{"text":"Page the on-call engineer.","role":"sre"},
			{"text":"Open an incident channel."}
		]}`,
	}}
	c := NewClassifier(provider)

	result, err := c.Classify(context.Background(), "Incident Response runbook ...")
	require.NoError(t, err)
	assert.Equal(t, DocProcess, result.Kind)
	require.NotNil(t, result.Process)
	require.Len(t, result.Process.Steps, 2)
	assert.Equal(t, "S1", result.Process.Steps[0].ID)
	assert.Equal(t, "S2", result.Process.Steps[1].ID)
	assert.Equal(t, "sre", result.Process.Steps[0].Role)
}

func TestClassifyUnknownTypeDefaultsToEntity(t *testing.T) {
	provider := &llm.MockProvider{Replies: []string{
		`{"type":"memo","confidence":0.4}`,
	}}
	c := NewClassifier(provider)

	result, err := c.Classify(context.Background(), "Lunch is at noon.")
	require.NoError(t, err)
	assert.Equal(t, DocEntity, result.Kind)
	assert.Len(t, provider.Calls(), 1)
}

func TestClassifyMalformedReply(t *testing.T) {
	provider := &llm.MockProvider{Replies: []string{"this is a policy I think"}}
	c := NewClassifier(provider)

	_, err := c.Classify(context.Background(), "some text")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
}

func TestClassifyRequiresText(t *testing.T) {
	c := NewClassifier(&llm.MockProvider{})
	_, err := c.Classify(context.Background(), "")
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
}
