package memory

import "time"

// CoreBlock is one always-in-context key/value entry. Identity is the
// (session, agent, key) triple; an absent agent is a distinct identity from
// any concrete agent. At most one live row exists per identity.
type CoreBlock struct {
	SessionID string
	AgentID   string // empty means no agent scoping
	Key       string
	Value     string
	UpdatedAt time.Time
}

// Fact is one archival memory record. The ID is assigned at insert and never
// changes; CreatedAt is immutable. Embedding, when present, is exactly the
// store's target dimension.
type Fact struct {
	ID        string
	SessionID string
	AgentID   string
	Content   string
	Metadata  map[string]string
	Embedding []float32
	CreatedAt time.Time
}

// SearchResult pairs a fact with the score of the search mode that produced
// it: bm25-derived relevance for text, cosine similarity for vector, the
// fused reciprocal-rank score for hybrid.
type SearchResult struct {
	Fact
	Score float64
}

// SessionRecord tracks one agent session for the extraction daemon. A session
// is stale once its heartbeat is older than the threshold and it has not been
// extracted; ExtractedAt stays zero until then.
type SessionRecord struct {
	ID            string
	Project       string
	LastHeartbeat time.Time
	ExtractedAt   time.Time
}

// DateRange bounds a search by creation time. Zero values leave that side
// unbounded.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// TagMatchMode selects how SearchWithTags combines the requested tags.
type TagMatchMode string

const (
	// TagMatchAny keeps records carrying at least one of the requested tags.
	TagMatchAny TagMatchMode = "any"
	// TagMatchAll keeps records carrying every requested tag.
	TagMatchAll TagMatchMode = "all"
)

// DefaultRRFK is the reciprocal-rank-fusion constant used when callers pass
// k <= 0 to SearchHybridRRF.
const DefaultRRFK = 60
