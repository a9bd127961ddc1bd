package embedding

import (
	"context"
	"crypto/sha256"
)

const mockDefaultDimension = 1536

// MockProvider derives vectors purely from a SHA-256 hash of the input text:
// equal text always yields an identical vector, different text yields a
// different vector with overwhelming probability. No network, no model.
type MockProvider struct {
	dims int
}

func NewMockProvider(dims int) *MockProvider {
	if dims <= 0 {
		dims = mockDefaultDimension
	}
	return &MockProvider{dims: dims}
}

func (p *MockProvider) Dimension() int { return p.dims }

func (p *MockProvider) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, p.dims)
	for i := range vec {
		b := int(sum[i%len(sum)])
		vec[i] = float32((b+i)%256)/255.0*2 - 1
	}
	return vec, nil
}

func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
