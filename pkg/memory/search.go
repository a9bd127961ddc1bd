package memory

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

const factColumns = `id, session_id, COALESCE(agent_id, ''), content, metadata_json, embedding_json, created_at_ms`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFact(row rowScanner) (Fact, error) {
	var f Fact
	var metaRaw, vecRaw string
	var createdMS int64
	if err := row.Scan(&f.ID, &f.SessionID, &f.AgentID, &f.Content, &metaRaw, &vecRaw, &createdMS); err != nil {
		return Fact{}, err
	}
	f.Metadata = decodeMap(metaRaw)
	f.Embedding = decodeVector(vecRaw)
	f.CreatedAt = time.UnixMilli(createdMS)
	return f, nil
}

func dateBounds(dr DateRange) (int64, int64) {
	var start, end int64
	if !dr.Start.IsZero() {
		start = dr.Start.UnixMilli()
	}
	if !dr.End.IsZero() {
		end = dr.End.UnixMilli()
	}
	return start, end
}

// SearchText runs an FTS5 match over the session's archival memory, best
// match first by bm25. The returned score is the negated bm25 rank so that
// higher means more relevant.
func (s *SQLiteStore) SearchText(ctx context.Context, query string, limit int, dateRange DateRange) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := buildFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	startMS, endMS := dateBounds(dateRange)
	rows, err := s.db.QueryContext(ctx, `
SELECT a.id, a.session_id, COALESCE(a.agent_id, ''), a.content, a.metadata_json, a.embedding_json, a.created_at_ms,
	bm25(archival_fts) AS rank
FROM archival_fts
JOIN archival_memory a ON a.id = archival_fts.memory_id
WHERE archival_fts.content MATCH ?
AND a.session_id = ?
AND a.agent_id IS ?
AND (? = 0 OR a.created_at_ms >= ?)
AND (? = 0 OR a.created_at_ms <= ?)
ORDER BY rank
LIMIT ?`, ftsQuery, s.sessionID, s.agentArg(), startMS, startMS, endMS, endMS, limit)
	if err != nil {
		return nil, fmt.Errorf("search text: %w", err)
	}
	defer rows.Close()

	out := []SearchResult{}
	for rows.Next() {
		var f Fact
		var metaRaw, vecRaw string
		var createdMS int64
		var rank float64
		if err := rows.Scan(&f.ID, &f.SessionID, &f.AgentID, &f.Content, &metaRaw, &vecRaw, &createdMS, &rank); err != nil {
			return nil, fmt.Errorf("scan text result: %w", err)
		}
		f.Metadata = decodeMap(metaRaw)
		f.Embedding = decodeVector(vecRaw)
		f.CreatedAt = time.UnixMilli(createdMS)
		out = append(out, SearchResult{Fact: f, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate text results: %w", err)
	}
	return out, nil
}

// SearchVector orders the session's embedded facts by cosine similarity to
// the query vector. The query is reconciled to the store dimension first;
// rows without an embedding never match.
func (s *SQLiteStore) SearchVector(ctx context.Context, queryEmbedding []float32, limit int, dateRange DateRange) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(queryEmbedding) == 0 {
		return nil, nil
	}
	scored, err := s.scoreVectors(ctx, queryEmbedding, dateRange)
	if err != nil {
		return nil, err
	}
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// SearchVectorThreshold keeps only matches at or above the similarity floor.
func (s *SQLiteStore) SearchVectorThreshold(ctx context.Context, queryEmbedding []float32, threshold float64, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if len(queryEmbedding) == 0 {
		return nil, nil
	}
	scored, err := s.scoreVectors(ctx, queryEmbedding, DateRange{})
	if err != nil {
		return nil, err
	}
	out := make([]SearchResult, 0, limit)
	for _, r := range scored {
		if r.Score < threshold {
			break
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *SQLiteStore) scoreVectors(ctx context.Context, queryEmbedding []float32, dateRange DateRange) ([]SearchResult, error) {
	queryVec := padVector(queryEmbedding, s.dims)
	startMS, endMS := dateBounds(dateRange)
	rows, err := s.db.QueryContext(ctx, `
SELECT `+factColumns+`
FROM archival_memory
WHERE session_id = ?
AND agent_id IS ?
AND embedding_json <> ''
AND (? = 0 OR created_at_ms >= ?)
AND (? = 0 OR created_at_ms <= ?)`, s.sessionID, s.agentArg(), startMS, startMS, endMS, endMS)
	if err != nil {
		return nil, fmt.Errorf("search vector: %w", err)
	}
	defer rows.Close()

	scored := []SearchResult{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		sim := cosineSimilarity(queryVec, f.Embedding)
		scored = append(scored, SearchResult{Fact: f, Score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vector results: %w", err)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].CreatedAt.After(scored[j].CreatedAt)
		}
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// SearchHybridRRF fuses the text and vector rankings with reciprocal rank
// fusion: each modality contributes 1/(k+rank) with 1-based ranks, a record
// absent from a modality contributes nothing there. A record ranked first in
// both lists therefore always beats one ranked first in only one.
func (s *SQLiteStore) SearchHybridRRF(ctx context.Context, textQuery string, queryEmbedding []float32, limit, k int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if k <= 0 {
		k = DefaultRRFK
	}

	// Rank each leg over a deep candidate pool: truncating a leg at the
	// caller's limit would strip that leg's contribution from records ranked
	// just below it, distorting the fused order.
	pool := limit * 20
	if pool < 200 {
		pool = 200
	}
	textResults, err := s.SearchText(ctx, textQuery, pool, DateRange{})
	if err != nil {
		return nil, fmt.Errorf("hybrid text leg: %w", err)
	}
	vecResults, err := s.SearchVector(ctx, queryEmbedding, pool, DateRange{})
	if err != nil {
		return nil, fmt.Errorf("hybrid vector leg: %w", err)
	}

	scores := map[string]float64{}
	facts := map[string]Fact{}
	for rank, r := range textResults {
		scores[r.ID] += 1.0 / float64(k+rank+1)
		facts[r.ID] = r.Fact
	}
	for rank, r := range vecResults {
		scores[r.ID] += 1.0 / float64(k+rank+1)
		facts[r.ID] = r.Fact
	}

	fused := make([]SearchResult, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, SearchResult{Fact: facts[id], Score: score})
	}
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score == fused[j].Score {
			if fused[i].CreatedAt.Equal(fused[j].CreatedAt) {
				return fused[i].ID < fused[j].ID
			}
			return fused[i].CreatedAt.After(fused[j].CreatedAt)
		}
		return fused[i].Score > fused[j].Score
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}
	return fused, nil
}

// SearchWithTags applies a tag filter on top of text search. Mode "any"
// keeps records carrying at least one requested tag, "all" requires every
// requested tag.
func (s *SQLiteStore) SearchWithTags(ctx context.Context, query string, tags []string, mode TagMatchMode, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	wanted := dedupeTags(tags)
	if len(wanted) == 0 {
		return s.SearchText(ctx, query, limit, DateRange{})
	}
	if mode != TagMatchAll {
		mode = TagMatchAny
	}

	// Over-fetch before filtering so a sparse tag still fills the limit.
	pool, err := s.SearchText(ctx, query, limit*4, DateRange{})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, limit)
	for _, r := range pool {
		have, err := s.GetTags(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if !matchTags(have, wanted, mode) {
			continue
		}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func matchTags(have, wanted []string, mode TagMatchMode) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	if mode == TagMatchAll {
		for _, t := range wanted {
			if _, ok := set[t]; !ok {
				return false
			}
		}
		return true
	}
	for _, t := range wanted {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

var ftsTokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// buildFTSQuery turns free text into a safe FTS5 OR query. Tokens are quoted
// so user input can never inject FTS syntax.
func buildFTSQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(strings.ToLower(query), -1)
	if len(tokens) == 0 {
		return ""
	}
	seen := map[string]struct{}{}
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		quoted = append(quoted, `"`+strings.ReplaceAll(tok, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// recallEmptySentinel is returned verbatim when a recall finds nothing, so
// callers injecting the result into a prompt always have a line to show.
const recallEmptySentinel = "No relevant memories found."

// Recall renders a prompt-ready digest: core entries whose key overlaps the
// query in either direction, then the best text matches from archival memory.
func (s *SQLiteStore) Recall(ctx context.Context, query string, includeCore bool, limit int, dateRange DateRange) (string, error) {
	if limit <= 0 {
		limit = 5
	}
	lines := []string{}

	if includeCore {
		blocks, err := s.GetAllCore(ctx)
		if err != nil {
			return "", err
		}
		needle := strings.ToLower(strings.TrimSpace(query))
		for _, b := range blocks {
			key := strings.ToLower(b.Key)
			if needle == "" || strings.Contains(key, needle) || strings.Contains(needle, key) {
				lines = append(lines, fmt.Sprintf("[Core/%s]: %s", b.Key, b.Value))
			}
		}
	}

	results, err := s.SearchText(ctx, query, limit, dateRange)
	if err != nil {
		return "", err
	}
	for _, r := range results {
		lines = append(lines, "[Archival]: "+r.Content)
	}

	if len(lines) == 0 {
		return recallEmptySentinel, nil
	}
	return strings.Join(lines, "\n"), nil
}

// ToContext renders the session's memory as a markdown block for prompt
// injection: every core entry, then the most recent archival facts
// regardless of relevance.
func (s *SQLiteStore) ToContext(ctx context.Context, maxArchival int) (string, error) {
	if maxArchival <= 0 {
		maxArchival = 10
	}

	var b strings.Builder
	b.WriteString("# Memory Context\n\n## Core Memory\n")

	blocks, err := s.GetAllCore(ctx)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, block := range blocks {
		fmt.Fprintf(&b, "- %s: %s\n", block.Key, block.Value)
	}

	b.WriteString("\n## Recent Archival Memory\n")
	facts, err := s.recentFacts(ctx, maxArchival)
	if err != nil {
		return "", err
	}
	if len(facts) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, f := range facts {
		b.WriteString("- " + f.Content + "\n")
	}

	return b.String(), nil
}

func (s *SQLiteStore) recentFacts(ctx context.Context, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+factColumns+`
FROM archival_memory
WHERE session_id = ? AND agent_id IS ?
ORDER BY created_at_ms DESC, id
LIMIT ?`, s.sessionID, s.agentArg(), limit)
	if err != nil {
		return nil, fmt.Errorf("recent facts: %w", err)
	}
	defer rows.Close()

	out := []Fact{}
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recent fact: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent facts: %w", err)
	}
	return out, nil
}
