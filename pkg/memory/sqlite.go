package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const defaultDimension = 1536

// StoreOptions scope a store to one session. AgentID may stay empty; an empty
// agent is its own identity, distinct from every named agent. Dimension is
// the width every persisted embedding is reconciled to.
type StoreOptions struct {
	SessionID string
	AgentID   string
	Dimension int
}

// SQLiteStore is the canonical persistent memory storage.
type SQLiteStore struct {
	db        *sql.DB
	sessionID string
	agentID   string
	dims      int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string, opts StoreOptions) (*SQLiteStore, error) {
	if strings.TrimSpace(opts.SessionID) == "" {
		return nil, fmt.Errorf("open memory store: empty session id")
	}
	if opts.Dimension <= 0 {
		opts.Dimension = defaultDimension
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process memory service. Use one shared connection to avoid
	// writer lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{
		db:        db,
		sessionID: opts.SessionID,
		agentID:   opts.AgentID,
		dims:      opts.Dimension,
	}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`PRAGMA foreign_keys=ON;`,
		`CREATE TABLE IF NOT EXISTS core_memory (
			session_id TEXT NOT NULL,
			agent_id TEXT,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS core_memory_identity ON core_memory(session_id, agent_id, key);`,
		`CREATE TABLE IF NOT EXISTS archival_memory (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			agent_id TEXT,
			content TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			embedding_json TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS archival_scope_idx ON archival_memory(session_id, agent_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS memory_tags (
			memory_id TEXT NOT NULL REFERENCES archival_memory(id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			session_id TEXT NOT NULL,
			PRIMARY KEY(memory_id, tag)
		);`,
		`CREATE INDEX IF NOT EXISTS memory_tags_session_idx ON memory_tags(session_id, tag);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL DEFAULT '',
			last_heartbeat_ms INTEGER NOT NULL,
			memory_extracted_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_stale_idx ON sessions(memory_extracted_at_ms, last_heartbeat_ms);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS archival_fts USING fts5(memory_id UNINDEXED, content, tokenize='unicode61 remove_diacritics 2');`,
		`CREATE TRIGGER IF NOT EXISTS archival_ai AFTER INSERT ON archival_memory BEGIN
			INSERT INTO archival_fts(memory_id, content) VALUES (new.id, new.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS archival_ad AFTER DELETE ON archival_memory BEGIN
			DELETE FROM archival_fts WHERE memory_id = old.id;
		END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

// agentArg yields the bound value for agent_id comparisons. An empty agent is
// stored and matched as NULL, which `IS ?` handles where `=` would not.
func (s *SQLiteStore) agentArg() interface{} {
	if s.agentID == "" {
		return nil
	}
	return s.agentID
}

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

func encodeVector(vec []float32) string {
	if len(vec) == 0 {
		return ""
	}
	b, err := json.Marshal(vec)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeVector(raw string) []float32 {
	if raw == "" {
		return nil
	}
	out := []float32{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// SetCore replaces the value for a core key. Delete-then-insert in one
// transaction keeps a single live row per identity: a plain upsert cannot
// match an existing NULL agent_id row and would duplicate it.
func (s *SQLiteStore) SetCore(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("set core: empty key")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("set core begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM core_memory
WHERE session_id = ? AND agent_id IS ? AND key = ?`, s.sessionID, s.agentArg(), key); err != nil {
		return fmt.Errorf("set core delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO core_memory(session_id, agent_id, key, value, updated_at_ms)
VALUES(?, ?, ?, ?, ?)`, s.sessionID, s.agentArg(), key, value, nowMS()); err != nil {
		return fmt.Errorf("set core insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("set core commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCore(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT value FROM core_memory
WHERE session_id = ? AND agent_id IS ? AND key = ?`, s.sessionID, s.agentArg(), key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get core: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) ListCoreKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT key FROM core_memory
WHERE session_id = ? AND agent_id IS ?
ORDER BY key`, s.sessionID, s.agentArg())
	if err != nil {
		return nil, fmt.Errorf("list core keys: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan core key: %w", err)
		}
		out = append(out, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate core keys: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteCore(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM core_memory
WHERE session_id = ? AND agent_id IS ? AND key = ?`, s.sessionID, s.agentArg(), key)
	if err != nil {
		return fmt.Errorf("delete core: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete core %q: %w", key, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetAllCore(ctx context.Context) ([]CoreBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, COALESCE(agent_id, ''), key, value, updated_at_ms
FROM core_memory
WHERE session_id = ? AND agent_id IS ?
ORDER BY key`, s.sessionID, s.agentArg())
	if err != nil {
		return nil, fmt.Errorf("get all core: %w", err)
	}
	defer rows.Close()

	out := []CoreBlock{}
	for rows.Next() {
		var b CoreBlock
		var updatedMS int64
		if err := rows.Scan(&b.SessionID, &b.AgentID, &b.Key, &b.Value, &updatedMS); err != nil {
			return nil, fmt.Errorf("scan core block: %w", err)
		}
		b.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate core blocks: %w", err)
	}
	return out, nil
}

// Store persists one archival fact with its tags. The embedding, when
// present, is reconciled to the store's dimension before writing; tags are
// deduplicated and inserted in the same transaction.
func (s *SQLiteStore) Store(ctx context.Context, content string, metadata map[string]string, embedding []float32, tags []string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("store archival: %w", ErrEmptyContent)
	}
	id := uuid.NewString()
	var encoded string
	if len(embedding) > 0 {
		encoded = encodeVector(padVector(embedding, s.dims))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("store archival begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO archival_memory(id, session_id, agent_id, content, metadata_json, embedding_json, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)`, id, s.sessionID, s.agentArg(), content, encodeMap(metadata), encoded, nowMS()); err != nil {
		return "", fmt.Errorf("store archival insert: %w", err)
	}

	for _, tag := range dedupeTags(tags) {
		if _, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO memory_tags(memory_id, tag, session_id)
VALUES(?, ?, ?)`, id, tag, s.sessionID); err != nil {
			return "", fmt.Errorf("store archival tag: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("store archival commit: %w", err)
	}
	return id, nil
}

func dedupeTags(tags []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

func (s *SQLiteStore) GetArchival(ctx context.Context, id string) (Fact, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, session_id, COALESCE(agent_id, ''), content, metadata_json, embedding_json, created_at_ms
FROM archival_memory
WHERE id = ? AND session_id = ? AND agent_id IS ?`, id, s.sessionID, s.agentArg())
	fact, err := scanFact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Fact{}, fmt.Errorf("get archival %q: %w", id, ErrNotFound)
		}
		return Fact{}, fmt.Errorf("get archival: %w", err)
	}
	return fact, nil
}

// DeleteArchival removes a fact; its tag rows cascade.
func (s *SQLiteStore) DeleteArchival(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM archival_memory
WHERE id = ? AND session_id = ? AND agent_id IS ?`, id, s.sessionID, s.agentArg())
	if err != nil {
		return fmt.Errorf("delete archival: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete archival %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) AddTag(ctx context.Context, memoryID, tag string) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("add tag: empty tag")
	}
	if _, err := s.GetArchival(ctx, memoryID); err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT OR IGNORE INTO memory_tags(memory_id, tag, session_id)
VALUES(?, ?, ?)`, memoryID, tag, s.sessionID)
	if err != nil {
		return fmt.Errorf("add tag: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveTag(ctx context.Context, memoryID, tag string) error {
	res, err := s.db.ExecContext(ctx, `
DELETE FROM memory_tags WHERE memory_id = ? AND tag = ?`, memoryID, strings.TrimSpace(tag))
	if err != nil {
		return fmt.Errorf("remove tag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("remove tag %q: %w", tag, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) GetTags(ctx context.Context, memoryID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT tag FROM memory_tags WHERE memory_id = ? ORDER BY tag`, memoryID)
	if err != nil {
		return nil, fmt.Errorf("get tags: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) ListSessionTags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT tag FROM memory_tags WHERE session_id = ? ORDER BY tag`, s.sessionID)
	if err != nil {
		return nil, fmt.Errorf("list session tags: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan session tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session tags: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertSession(ctx context.Context, id, project string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("upsert session: empty id")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, project, last_heartbeat_ms, memory_extracted_at_ms)
VALUES(?, ?, ?, 0)
ON CONFLICT(id) DO UPDATE SET
	project = CASE WHEN excluded.project <> '' THEN excluded.project ELSE sessions.project END,
	last_heartbeat_ms = excluded.last_heartbeat_ms`, id, project, nowMS())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TouchHeartbeat(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, project, last_heartbeat_ms, memory_extracted_at_ms)
VALUES(?, '', ?, 0)
ON CONFLICT(id) DO UPDATE SET last_heartbeat_ms = excluded.last_heartbeat_ms`, id, nowMS())
	if err != nil {
		return fmt.Errorf("touch heartbeat: %w", err)
	}
	return nil
}

// StaleSessions returns sessions whose heartbeat is older than the threshold
// and that have not been extracted yet, oldest first.
func (s *SQLiteStore) StaleSessions(ctx context.Context, olderThan time.Duration) ([]SessionRecord, error) {
	cutoff := nowMS() - olderThan.Milliseconds()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, project, last_heartbeat_ms, memory_extracted_at_ms
FROM sessions
WHERE memory_extracted_at_ms = 0 AND last_heartbeat_ms <= ?
ORDER BY last_heartbeat_ms ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale sessions: %w", err)
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var heartbeatMS, extractedMS int64
		if err := rows.Scan(&rec.ID, &rec.Project, &heartbeatMS, &extractedMS); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.LastHeartbeat = time.UnixMilli(heartbeatMS)
		if extractedMS > 0 {
			rec.ExtractedAt = time.UnixMilli(extractedMS)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkExtracted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions SET memory_extracted_at_ms = ? WHERE id = ?`, nowMS(), id)
	if err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	return nil
}
