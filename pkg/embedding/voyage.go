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
)

const (
	voyageEmbedURL     = "https://api.voyageai.com/v1/embeddings"
	voyageDefaultModel = "voyage-3"
	voyageMaxBatchSize = 128
)

// voyageModels maps supported model names to their native dimensions.
var voyageModels = map[string]int{
	"voyage-3":       1024,
	"voyage-3-large": 1024,
	"voyage-code-3":  1024,
	"voyage-3-lite":  512,
}

// VoyageProvider embeds text via the Voyage AI embeddings API.
type VoyageProvider struct {
	apiKey     string
	apiURL     string
	model      string
	dimension  int
	maxBatch   int
	maxRetries int
	httpClient *http.Client
}

func NewVoyageProvider(apiKey, model string) (*VoyageProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("voyage provider: %w", ErrMissingAPIKey)
	}
	if model == "" {
		model = voyageDefaultModel
	}
	dim, ok := voyageModels[model]
	if !ok {
		known := make([]string, 0, len(voyageModels))
		for name := range voyageModels {
			known = append(known, name)
		}
		sort.Strings(known)
		return nil, fmt.Errorf("voyage provider: unknown model %q (available: %s)", model, strings.Join(known, ", "))
	}
	return &VoyageProvider{
		apiKey:     apiKey,
		apiURL:     voyageEmbedURL,
		model:      model,
		dimension:  dim,
		maxBatch:   voyageMaxBatchSize,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{Timeout: requestTimeout},
	}, nil
}

func (p *VoyageProvider) Dimension() int { return p.dimension }

func (p *VoyageProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.callAPI(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *VoyageProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
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

func (p *VoyageProvider) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"model":      p.model,
		"input":      texts,
		"input_type": "document",
	})
	if err != nil {
		return nil, fmt.Errorf("voyage embed marshal: %w", err)
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
			return nil, fmt.Errorf("voyage embed request: %w", err)
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

	return nil, &Error{Provider: "voyage", Attempts: p.maxRetries, Body: lastBody, Err: lastErr}
}
