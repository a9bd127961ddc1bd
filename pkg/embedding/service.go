package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Service wraps a Provider with a content-addressed cache. The cache key is
// the SHA-256 of the exact text, so equal text never hits the provider twice.
//
// The mutex guards the cache map only; provider calls happen outside it, so
// concurrent batches can overlap their in-flight network work. The cache is
// unbounded; callers that need eviction call ClearCache periodically.
type Service struct {
	provider Provider

	mu    sync.Mutex
	cache map[string][]float32
}

func NewService(provider Provider) *Service {
	return &Service{
		provider: provider,
		cache:    map[string][]float32{},
	}
}

func (s *Service) Dimension() int { return s.provider.Dimension() }

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	s.mu.Lock()
	if vec, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return vec, nil
	}
	s.mu.Unlock()

	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = vec
	s.mu.Unlock()
	return vec, nil
}

// EmbedBatch partitions the input into cached and uncached subsets, calls the
// provider once for the uncached texts, and merges results back into the
// original order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))

	s.mu.Lock()
	for i, text := range texts {
		if vec, ok := s.cache[cacheKey(text)]; ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
	}
	s.mu.Unlock()

	if len(missIdx) > 0 {
		missing := make([]string, len(missIdx))
		for j, i := range missIdx {
			missing[j] = texts[i]
		}
		vecs, err := s.provider.EmbedBatch(ctx, missing)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		for j, i := range missIdx {
			results[i] = vecs[j]
			s.cache[cacheKey(texts[i])] = vecs[j]
		}
		s.mu.Unlock()
	}

	return results, nil
}

func (s *Service) ClearCache() {
	s.mu.Lock()
	s.cache = map[string][]float32{}
	s.mu.Unlock()
}

func (s *Service) CacheSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
