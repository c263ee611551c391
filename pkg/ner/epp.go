package ner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/metrics"
)

const (
	classifyMaxTokens = 128
	detailsMaxTokens  = 2048
)

// DocKind is the entity/policy/process classification of a document.
type DocKind string

const (
	DocEntity  DocKind = "entity"
	DocPolicy  DocKind = "policy"
	DocProcess DocKind = "process"
)

// PolicyRule is one rule inside a policy document.
type PolicyRule struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Severity string `json:"severity,omitempty"`
}

// PolicyDetails is the extracted structure of a policy document.
type PolicyDetails struct {
	Name    string       `json:"name"`
	Summary string       `json:"summary,omitempty"`
	Rules   []PolicyRule `json:"rules"`
}

// ProcessStep is one step inside a process document.
type ProcessStep struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Role string `json:"role,omitempty"`
}

// ProcessDetails is the extracted structure of a process document.
type ProcessDetails struct {
	Name    string        `json:"name"`
	Summary string        `json:"summary,omitempty"`
	Steps   []ProcessStep `json:"steps"`
}

// Classification is the outcome of the two-call pipeline. Policy and
// Process are set only when Kind warrants the second call.
type Classification struct {
	Kind       DocKind         `json:"kind"`
	Confidence float64         `json:"confidence"`
	Policy     *PolicyDetails  `json:"policy,omitempty"`
	Process    *ProcessDetails `json:"process,omitempty"`
}

// Classifier runs entity/policy/process classification over documents.
type Classifier struct {
	provider llm.ChatProvider
}

func NewClassifier(provider llm.ChatProvider) *Classifier {
	return &Classifier{provider: provider}
}

// Classify first types the document on a small token budget, then pulls
// structured details only for policies and processes. Rules and steps the
// model leaves unnumbered get R1..Rn / S1..Sn ids in order.
func (c *Classifier) Classify(ctx context.Context, text string) (*Classification, error) {
	if text == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "classification requires text")
	}

	resp, err := c.chat(ctx, classifySystemPrompt, fmt.Sprintf(classifyPromptFmt, text), classifyMaxTokens)
	if err != nil {
		return nil, err
	}

	var head struct {
		Type       string  `json:"type"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text)), &head); err != nil {
		return nil, errdefs.New(errdefs.KindInvalidInput,
			"model returned malformed classification json: %s", payloadSample(resp.Text))
	}

	result := &Classification{Confidence: head.Confidence}
	switch DocKind(head.Type) {
	case DocPolicy:
		result.Kind = DocPolicy
	case DocProcess:
		result.Kind = DocProcess
	default:
		result.Kind = DocEntity
		return result, nil
	}

	if result.Kind == DocPolicy {
		details, err := c.policyDetails(ctx, text)
		if err != nil {
			return nil, err
		}
		result.Policy = details
		return result, nil
	}

	details, err := c.processDetails(ctx, text)
	if err != nil {
		return nil, err
	}
	result.Process = details
	return result, nil
}

func (c *Classifier) policyDetails(ctx context.Context, text string) (*PolicyDetails, error) {
	resp, err := c.chat(ctx, policyDetailsSystemPrompt, fmt.Sprintf(detailsPromptFmt, text), detailsMaxTokens)
	if err != nil {
		return nil, err
	}
	var details PolicyDetails
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text)), &details); err != nil {
		return nil, errdefs.New(errdefs.KindInvalidInput,
			"model returned malformed policy json: %s", payloadSample(resp.Text))
	}
	for i := range details.Rules {
		if details.Rules[i].ID == "" {
			details.Rules[i].ID = fmt.Sprintf("R%d", i+1)
		}
	}
	return &details, nil
}

func (c *Classifier) processDetails(ctx context.Context, text string) (*ProcessDetails, error) {
	resp, err := c.chat(ctx, processDetailsSystemPrompt, fmt.Sprintf(detailsPromptFmt, text), detailsMaxTokens)
	if err != nil {
		return nil, err
	}
	var details ProcessDetails
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text)), &details); err != nil {
		return nil, errdefs.New(errdefs.KindInvalidInput,
			"model returned malformed process json: %s", payloadSample(resp.Text))
	}
	for i := range details.Steps {
		if details.Steps[i].ID == "" {
			details.Steps[i].ID = fmt.Sprintf("S%d", i+1)
		}
	}
	return &details, nil
}

func (c *Classifier) chat(ctx context.Context, system, prompt string, maxTokens int) (*llm.ChatResponse, error) {
	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		System:    system,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("epp", "error").Inc()
		return nil, err
	}
	metrics.LLMCalls.WithLabelValues("epp", "ok").Inc()
	return resp, nil
}
