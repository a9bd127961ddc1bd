package memory

import (
	"context"
	"time"
)

// Store is the persistent memory surface used by the CLI, the recall shell,
// and the extraction daemon. All implementations scope core and archival
// operations to the session (and optional agent) they were opened for;
// session-registry operations are global.
type Store interface {
	// Core memory.
	SetCore(ctx context.Context, key, value string) error
	GetCore(ctx context.Context, key string) (string, bool, error)
	ListCoreKeys(ctx context.Context) ([]string, error)
	DeleteCore(ctx context.Context, key string) error
	GetAllCore(ctx context.Context) ([]CoreBlock, error)

	// Archival memory.
	Store(ctx context.Context, content string, metadata map[string]string, embedding []float32, tags []string) (string, error)
	GetArchival(ctx context.Context, id string) (Fact, error)
	DeleteArchival(ctx context.Context, id string) error

	// Tags.
	AddTag(ctx context.Context, memoryID, tag string) error
	RemoveTag(ctx context.Context, memoryID, tag string) error
	GetTags(ctx context.Context, memoryID string) ([]string, error)
	ListSessionTags(ctx context.Context) ([]string, error)

	// Search.
	SearchText(ctx context.Context, query string, limit int, dateRange DateRange) ([]SearchResult, error)
	SearchVector(ctx context.Context, queryEmbedding []float32, limit int, dateRange DateRange) ([]SearchResult, error)
	SearchVectorThreshold(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]SearchResult, error)
	SearchHybridRRF(ctx context.Context, textQuery string, queryEmbedding []float32, limit, k int) ([]SearchResult, error)
	SearchWithTags(ctx context.Context, query string, tags []string, mode TagMatchMode, limit int) ([]SearchResult, error)

	// Recall surfaces.
	Recall(ctx context.Context, query string, includeCore bool, limit int, dateRange DateRange) (string, error)
	ToContext(ctx context.Context, maxArchival int) (string, error)

	// Session registry.
	UpsertSession(ctx context.Context, id, project string) error
	TouchHeartbeat(ctx context.Context, id string) error
	StaleSessions(ctx context.Context, olderThan time.Duration) ([]SessionRecord, error)
	MarkExtracted(ctx context.Context, id string) error

	Close() error
}
