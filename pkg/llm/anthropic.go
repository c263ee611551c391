package llm

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

const (
	// DefaultAnthropicModel is used when the config names no model.
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	// DefaultAPIKeyEnv is the environment variable holding the API key.
	DefaultAPIKeyEnv = "ANTHROPIC_API_KEY"

	defaultMaxTokens = 1024
)

// AnthropicConfig configures the hosted provider. APIKeyEnv names the
// environment variable carrying the key; the key itself is never stored.
type AnthropicConfig struct {
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
}

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewAnthropic builds a provider from config. A missing API key fails here
// rather than on the first call.
func NewAnthropic(cfg AnthropicConfig) (*AnthropicProvider, error) {
	keyEnv := cfg.APIKeyEnv
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "anthropic api key not set in %s", keyEnv)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultAnthropicModel
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(key)),
		model:  anthropic.Model(model),
	}, nil
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     p.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &ChatResponse{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// classifyAnthropicError maps SDK errors onto the platform taxonomy so
// callers can decide on retries the same way they do for source drivers.
func classifyAnthropicError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if kind := errdefs.FromHTTPStatus(apierr.StatusCode); kind != "" {
			return errdefs.Wrap(kind, err, "anthropic request failed")
		}
	}
	return errdefs.Wrap(errdefs.KindRetriableTransport, err, "anthropic request failed")
}

var _ ChatProvider = (*AnthropicProvider)(nil)
