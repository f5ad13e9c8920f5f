package store_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	_ "github.com/mattn/go-sqlite3"

	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
)

func setupSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	runContract(t, func(t *testing.T) store.Store { return setupSQLite(t) })
}

func TestSQLiteSearchSubstringByRecency(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	sat := newRecord(t, "the cat sat", models.MemoryTypeEpisodic, "A", base)
	dog := newRecord(t, "a dog barked", models.MemoryTypeEpisodic, "A", base.Add(time.Minute))
	ran := newRecord(t, "the cat ran", models.MemoryTypeEpisodic, "A", base.Add(2*time.Minute))
	for _, r := range []*models.Record{sat, dog, ran} {
		gt.NoError(t, s.Save(ctx, r))
	}

	got, err := s.Search(ctx, models.SearchQuery{Text: "cat", Limit: 10})
	gt.NoError(t, err)
	gt.Equal(t, ids(got), []string{ran.ID, sat.ID})

	got, err = s.Search(ctx, models.SearchQuery{Text: "CAT", Limit: 1})
	gt.NoError(t, err)
	gt.Equal(t, ids(got), []string{ran.ID})

	semantic := models.MemoryTypeSemantic
	got, err = s.Search(ctx, models.SearchQuery{Text: "cat", Type: &semantic, Limit: 10})
	gt.NoError(t, err)
	gt.A(t, got).Length(0)

	got, err = s.Search(ctx, models.SearchQuery{Text: "100%", Limit: 10})
	gt.NoError(t, err)
	gt.A(t, got).Length(0)
}

func TestSQLiteSearchFoldsNonASCII(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	rec := newRecord(t, "Ich war in ÖSTERREICH", models.MemoryTypeEpisodic, "A", base)
	gt.NoError(t, s.Save(ctx, rec))

	for _, query := range []string{"österreich", "ÖSTERREICH", "Österreich"} {
		hits, err := s.Search(ctx, models.SearchQuery{Text: query})
		gt.NoError(t, err)
		gt.A(t, hits).Length(1)
		gt.Equal(t, hits[0].ID, rec.ID)
	}
}

func TestSQLiteRecordWithoutEmbedding(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	rec := newRecord(t, "no vector", models.MemoryTypeSemantic, "", base)
	rec.Embedding = nil
	rec.Metadata = nil
	rec.Tags = nil
	gt.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.Nil(t, got.Embedding)
	gt.Equal(t, got.Metadata, map[string]any{})
	gt.Equal(t, got.Tags, []string{})
	gt.Equal(t, got.AgentID, "")
}

func TestSQLiteConcurrentUpdatesAreSerialized(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	rec := newRecord(t, "counter", models.MemoryTypeSemantic, "A", base)
	gt.NoError(t, s.Save(ctx, rec))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RecordAccess(ctx, []string{rec.ID}, base)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		gt.NoError(t, err)
	}

	got, err := s.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.AccessCount, 20)
}

func TestSQLiteMigratesLegacySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	legacy, err := sql.Open("sqlite3", path)
	gt.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE memories (
		id TEXT PRIMARY KEY, content TEXT NOT NULL, memory_type TEXT NOT NULL,
		agent_id TEXT, session_id TEXT, metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB, created_at INTEGER NOT NULL, updated_at INTEGER NOT NULL)`)
	gt.NoError(t, err)
	_, err = legacy.Exec(`INSERT INTO memories (id, content, memory_type, metadata, created_at, updated_at)
		VALUES ('old-1', 'from before', 'episodic', '{}', 1, 1)`)
	gt.NoError(t, err)
	gt.NoError(t, legacy.Close())

	s, err := store.NewSQLiteStore(path)
	gt.NoError(t, err)
	defer s.Close()

	got, err := s.Get(context.Background(), "old-1")
	gt.NoError(t, err)
	gt.Equal(t, got.Importance, 5.0)
	gt.Equal(t, got.Tags, []string{})
	gt.Equal(t, got.AccessCount, 0)
}

func TestSQLiteClosedIsConnectivityError(t *testing.T) {
	s := setupSQLite(t)
	gt.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "any")
	gt.Error(t, err)
	gt.True(t, models.IsConnectivity(err))

	err = s.Save(context.Background(), newRecord(t, "x", models.MemoryTypeEpisodic, "", base))
	gt.Error(t, err)
	gt.True(t, models.IsConnectivity(err))
}
