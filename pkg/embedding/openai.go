package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	openAIEmbedURL  = "https://api.openai.com/v1/embeddings"
	openAIModel     = "text-embedding-3-small"
	openAIDimension = 1536

	defaultMaxBatchSize = 100
	defaultMaxRetries   = 3
	retryBaseDelay      = 500 * time.Millisecond
	requestTimeout      = 30 * time.Second
)

// OpenAIProvider embeds text via the OpenAI embeddings API.
type OpenAIProvider struct {
	apiKey     string
	apiURL     string
	model      string
	maxBatch   int
	maxRetries int
	httpClient *http.Client
}

func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai provider: %w", ErrMissingAPIKey)
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		apiURL:     openAIEmbedURL,
		model:      openAIModel,
		maxBatch:   defaultMaxBatchSize,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (p *OpenAIProvider) Dimension() int { return openAIDimension }

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callAPI(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.maxBatch {
		end := start + p.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := p.callAPI(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *OpenAIProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"model": p.model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed marshal: %w", err)
	}

	var lastErr error
	var lastBody string
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("openai embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		lastBody = string(body)
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		}

		vecs, err := decodeEmbeddings(body, len(texts))
		if err != nil {
			lastErr = err
			continue
		}
		return vecs, nil
	}

	return nil, &Error{Provider: "openai", Attempts: p.maxRetries, Body: lastBody, Err: lastErr}
}

// decodeEmbeddings parses an embeddings API response and reassembles vectors
// in input order. Backends may return rows out of order, so rows are sorted
// by their declared index before reassembly.
func decodeEmbeddings(body []byte, want int) ([][]float32, error) {
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(parsed.Data) != want {
		return nil, fmt.Errorf("decode embeddings: got %d vectors for %d inputs", len(parsed.Data), want)
	}
	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, len(parsed.Data))
	for i, row := range parsed.Data {
		out[i] = row.Embedding
	}
	return out, nil
}

// sleepBackoff waits attempt*base before the next retry, honoring cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	timer := time.NewTimer(retryBaseDelay * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
