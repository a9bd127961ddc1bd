package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

const localDefaultDimension = 384

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// LocalProvider embeds text in-process with no network or model dependency.
// It hashes character trigrams and word tokens into a fixed number of FNV
// buckets and L2-normalizes the result. Quality is far below a learned model
// but it gives usable similarity for offline and air-gapped setups.
type LocalProvider struct {
	dims int
}

func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = localDefaultDimension
	}
	return &LocalProvider{dims: dims}
}

func (p *LocalProvider) Dimension() int { return p.dims }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, p.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec, nil
	}
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		vec[p.bucket(window[i:i+3])] += 1
	}
	for _, token := range tokenize(normalized) {
		vec[p.bucket("tok:"+token)] += 1.25
	}
	normalizeVector(vec)
	return vec, nil
}

func (p *LocalProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (p *LocalProvider) bucket(s string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(p.dims))
}

func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(matches) == 0 {
		return []string{text}
	}
	return matches
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v * v)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}
