package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// MockProvider is a scripted chat provider for tests and offline use.
// Replies are consumed in order; once exhausted further calls return a
// fixed acknowledgement.
type MockProvider struct {
	Replies []string
	Fail    error

	mu     sync.Mutex
	cursor int
	calls  []ChatRequest
}

func (p *MockProvider) Name() string {
	return "mock"
}

func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)

	if p.Fail != nil {
		return nil, p.Fail
	}
	text := "ok"
	if p.cursor < len(p.Replies) {
		text = p.Replies[p.cursor]
		p.cursor++
	}
	return &ChatResponse{
		Text:         text,
		Model:        "mock",
		InputTokens:  len(req.Prompt) / 4,
		OutputTokens: len(text) / 4,
	}, nil
}

// Calls returns the recorded chat requests.
func (p *MockProvider) Calls() []ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChatRequest(nil), p.calls...)
}

// MockEmbedder produces deterministic vectors by feature-hashing tokens
// into a fixed number of buckets. Texts sharing tokens land near each
// other, which is enough signal for ranking tests without a model.
type MockEmbedder struct {
	Dim   int
	Model string
}

func (e *MockEmbedder) ModelID() string {
	if e.Model != "" {
		return e.Model
	}
	return "mock-embed-v1"
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := e.Dim
	if dim <= 0 {
		dim = 32
	}
	vec := make([]float32, dim)

	for _, token := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		idx := int(sum % uint32(dim))
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

var (
	_ ChatProvider = (*MockProvider)(nil)
	_ Embedder     = (*MockEmbedder)(nil)
)
