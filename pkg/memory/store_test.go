package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts StoreOptions) *SQLiteStore {
	t.Helper()
	if opts.SessionID == "" {
		opts.SessionID = "sess-test"
	}
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := NewSQLiteStore(path, opts)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreOptions{})

	if _, ok, err := store.GetCore(ctx, "persona"); err != nil || ok {
		t.Fatalf("GetCore on empty store = ok=%v err=%v, want absent", ok, err)
	}

	if err := store.SetCore(ctx, "persona", "terse"); err != nil {
		t.Fatalf("SetCore: %v", err)
	}
	got, ok, err := store.GetCore(ctx, "persona")
	if err != nil || !ok || got != "terse" {
		t.Fatalf("GetCore = %q ok=%v err=%v, want terse", got, ok, err)
	}

	// Overwrite is last-writer-wins and must not grow the table.
	if err := store.SetCore(ctx, "persona", "verbose"); err != nil {
		t.Fatalf("SetCore overwrite: %v", err)
	}
	got, _, _ = store.GetCore(ctx, "persona")
	if got != "verbose" {
		t.Fatalf("GetCore after overwrite = %q, want verbose", got)
	}
	blocks, err := store.GetAllCore(ctx)
	if err != nil {
		t.Fatalf("GetAllCore: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("GetAllCore returned %d rows after overwrite, want 1", len(blocks))
	}
}

func TestCoreNullAgentIsDistinctIdentity(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	plain, err := NewSQLiteStore(path, StoreOptions{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("open plain store: %v", err)
	}
	defer plain.Close()
	scoped, err := NewSQLiteStore(path, StoreOptions{SessionID: "sess-1", AgentID: "agent-a"})
	if err != nil {
		t.Fatalf("open scoped store: %v", err)
	}
	defer scoped.Close()

	if err := plain.SetCore(ctx, "home", "null-agent value"); err != nil {
		t.Fatalf("SetCore plain: %v", err)
	}
	if err := scoped.SetCore(ctx, "home", "agent-a value"); err != nil {
		t.Fatalf("SetCore scoped: %v", err)
	}

	got, _, _ := plain.GetCore(ctx, "home")
	if got != "null-agent value" {
		t.Fatalf("plain GetCore = %q, want null-agent value", got)
	}
	got, _, _ = scoped.GetCore(ctx, "home")
	if got != "agent-a value" {
		t.Fatalf("scoped GetCore = %q, want agent-a value", got)
	}

	// Overwriting through the null-agent identity must leave exactly one
	// null-agent row and never touch the named agent's row.
	if err := plain.SetCore(ctx, "home", "updated"); err != nil {
		t.Fatalf("SetCore plain overwrite: %v", err)
	}
	blocks, err := plain.GetAllCore(ctx)
	if err != nil {
		t.Fatalf("GetAllCore: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("plain GetAllCore returned %d rows, want 1", len(blocks))
	}
	got, _, _ = scoped.GetCore(ctx, "home")
	if got != "agent-a value" {
		t.Fatalf("scoped GetCore after plain overwrite = %q, want agent-a value", got)
	}
}

func TestCoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreOptions{})

	for _, kv := range [][2]string{{"b-key", "2"}, {"a-key", "1"}, {"c-key", "3"}} {
		if err := store.SetCore(ctx, kv[0], kv[1]); err != nil {
			t.Fatalf("SetCore %s: %v", kv[0], err)
		}
	}
	keys, err := store.ListCoreKeys(ctx)
	if err != nil {
		t.Fatalf("ListCoreKeys: %v", err)
	}
	want := []string{"a-key", "b-key", "c-key"}
	if len(keys) != len(want) {
		t.Fatalf("ListCoreKeys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("ListCoreKeys = %v, want %v", keys, want)
		}
	}

	if err := store.DeleteCore(ctx, "b-key"); err != nil {
		t.Fatalf("DeleteCore: %v", err)
	}
	if _, ok, _ := store.GetCore(ctx, "b-key"); ok {
		t.Fatal("b-key still present after delete")
	}
	if err := store.DeleteCore(ctx, "b-key"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteCore missing key err = %v, want ErrNotFound", err)
	}
}

func TestStoreArchivalValidatesAndPads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreOptions{Dimension: 4})

	if _, err := store.Store(ctx, "   ", nil, nil, nil); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("Store empty content err = %v, want ErrEmptyContent", err)
	}

	shortID, err := store.Store(ctx, "short embedding", nil, []float32{1, 2}, nil)
	if err != nil {
		t.Fatalf("Store short: %v", err)
	}
	longID, err := store.Store(ctx, "long embedding", nil, []float32{1, 2, 3, 4, 5, 6}, nil)
	if err != nil {
		t.Fatalf("Store long: %v", err)
	}

	short, err := store.GetArchival(ctx, shortID)
	if err != nil {
		t.Fatalf("GetArchival short: %v", err)
	}
	if len(short.Embedding) != 4 || short.Embedding[2] != 0 || short.Embedding[3] != 0 {
		t.Fatalf("short embedding = %v, want [1 2 0 0]", short.Embedding)
	}
	long, err := store.GetArchival(ctx, longID)
	if err != nil {
		t.Fatalf("GetArchival long: %v", err)
	}
	if len(long.Embedding) != 4 || long.Embedding[3] != 4 {
		t.Fatalf("long embedding = %v, want [1 2 3 4]", long.Embedding)
	}
}

func TestStoreArchivalMetadataAndImmutableID(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreOptions{})

	id, err := store.Store(ctx, "deploy uses blue/green", map[string]string{"source": "transcript"}, nil, nil)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id == "" {
		t.Fatal("Store returned empty id")
	}
	fact, err := store.GetArchival(ctx, id)
	if err != nil {
		t.Fatalf("GetArchival: %v", err)
	}
	if fact.Metadata["source"] != "transcript" {
		t.Fatalf("metadata = %v, want source=transcript", fact.Metadata)
	}
	if fact.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}
}

func TestDeleteArchivalCascadesTags(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreOptions{})

	id, err := store.Store(ctx, "tagged deploy fact", nil, nil, []string{"infra", "infra", " ", "deploy"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := store.Store(ctx, "untagged deploy fact", nil, nil, nil); err != nil {
		t.Fatalf("Store second: %v", err)
	}
	tags, err := store.GetTags(ctx, id)
	if err != nil {
		t.Fatalf("GetTags: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("tags = %v, want deduplicated [deploy infra]", tags)
	}

	if err := store.DeleteArchival(ctx, id); err != nil {
		t.Fatalf("DeleteArchival: %v", err)
	}
	tags, err = store.GetTags(ctx, id)
	if err != nil {
		t.Fatalf("GetTags after delete: %v", err)
	}
	if len(tags) != 0 {
		t.Fatalf("tags survived delete: %v", tags)
	}

	// The full-text index drops the row too; the surviving fact still matches.
	results, err := store.SearchText(ctx, "deploy", 10, DateRange{})
	if err != nil {
		t.Fatalf("SearchText after delete: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results after delete = %d, want 1", len(results))
	}
	if results[0].ID == id {
		t.Fatalf("deleted fact %s still indexed", id)
	}

	if err := store.DeleteArchival(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteArchival missing err = %v, want ErrNotFound", err)
	}
}

func TestTagOperations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreOptions{})

	id, err := store.Store(ctx, "fact", nil, nil, []string{"alpha"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := store.AddTag(ctx, id, "beta"); err != nil {
		t.Fatalf("AddTag: %v", err)
	}
	// Duplicate add is a no-op.
	if err := store.AddTag(ctx, id, "beta"); err != nil {
		t.Fatalf("AddTag duplicate: %v", err)
	}
	if err := store.AddTag(ctx, "no-such-id", "beta"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddTag to missing record err = %v, want ErrNotFound", err)
	}

	all, err := store.ListSessionTags(ctx)
	if err != nil {
		t.Fatalf("ListSessionTags: %v", err)
	}
	if len(all) != 2 || all[0] != "alpha" || all[1] != "beta" {
		t.Fatalf("ListSessionTags = %v, want [alpha beta]", all)
	}

	if err := store.RemoveTag(ctx, id, "alpha"); err != nil {
		t.Fatalf("RemoveTag: %v", err)
	}
	if err := store.RemoveTag(ctx, id, "alpha"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveTag missing err = %v, want ErrNotFound", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, StoreOptions{})

	if err := store.UpsertSession(ctx, "sess-a", "projx"); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := store.TouchHeartbeat(ctx, "sess-a"); err != nil {
		t.Fatalf("TouchHeartbeat: %v", err)
	}

	// Fresh heartbeat: not stale against a 5 minute threshold.
	stale, err := store.StaleSessions(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("StaleSessions: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh session reported stale: %v", stale)
	}

	// Backdate the heartbeat past the threshold.
	old := time.Now().Add(-10 * time.Minute).UnixMilli()
	if _, err := store.db.ExecContext(ctx, `UPDATE sessions SET last_heartbeat_ms = ? WHERE id = ?`, old, "sess-a"); err != nil {
		t.Fatalf("backdate heartbeat: %v", err)
	}
	stale, err = store.StaleSessions(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("StaleSessions: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "sess-a" || stale[0].Project != "projx" {
		t.Fatalf("StaleSessions = %+v, want sess-a/projx", stale)
	}

	if err := store.MarkExtracted(ctx, "sess-a"); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}
	stale, err = store.StaleSessions(ctx, 5*time.Minute)
	if err != nil {
		t.Fatalf("StaleSessions after extract: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("extracted session still stale: %v", stale)
	}
}

func TestPadVector(t *testing.T) {
	cases := []struct {
		in     []float32
		target int
		want   []float32
	}{
		{nil, 3, []float32{0, 0, 0}},
		{[]float32{1, 2}, 4, []float32{1, 2, 0, 0}},
		{[]float32{1, 2, 3, 4}, 2, []float32{1, 2}},
		{[]float32{5}, 1, []float32{5}},
	}
	for _, tc := range cases {
		got := padVector(tc.in, tc.target)
		if len(got) != tc.target {
			t.Fatalf("padVector(%v, %d) len = %d", tc.in, tc.target, len(got))
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("padVector(%v, %d) = %v, want %v", tc.in, tc.target, got, tc.want)
			}
		}
	}
}
