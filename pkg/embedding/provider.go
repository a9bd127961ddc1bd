package embedding

import (
	"context"
	"errors"
	"fmt"
)

// Provider generates fixed-dimension vector embeddings for text.
// EmbedBatch preserves input order and splits oversized inputs into
// provider-sized chunks internally.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// ErrMissingAPIKey indicates a remote provider was constructed without
// credentials. This fails at construction time, never at call time.
var ErrMissingAPIKey = errors.New("embedding api key required")

// Error is the terminal embedding failure: the provider exhausted its retry
// budget. It carries the last underlying error and, when one was read, the
// last raw response body.
type Error struct {
	Provider string
	Attempts int
	Body     string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s embedding failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
	if e.Body != "" {
		body := e.Body
		if len(body) > 500 {
			body = body[:500]
		}
		msg += "\n  response body: " + body
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
