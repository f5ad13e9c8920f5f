package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
	"github.com/iammorganparry/agentmem/internal/vectorstore"
	"github.com/iammorganparry/agentmem/internal/vectorstore/qdranttest"
)

func setupQdrant(t *testing.T) (*store.QdrantStore, *qdranttest.Server) {
	t.Helper()
	srv := qdranttest.New(t)
	client := vectorstore.NewQdrantClient(srv.URL, "", testDim, 5*time.Second)
	s, err := store.NewQdrantStore(client, "agent_memory", embedding.NewHashEmbedder(testDim))
	gt.NoError(t, err)
	return s, srv
}

func TestQdrantContract(t *testing.T) {
	runContract(t, func(t *testing.T) store.Store {
		s, _ := setupQdrant(t)
		return s
	})
}

func TestQdrantSearchRanksExactMatchFirst(t *testing.T) {
	s, _ := setupQdrant(t)
	ctx := context.Background()

	target := newRecord(t, "the build uses make", models.MemoryTypeSemantic, "A", base)
	gt.NoError(t, s.Save(ctx, target))
	for _, c := range []string{"lunch was pasta", "the cat sat", "rain tomorrow"} {
		gt.NoError(t, s.Save(ctx, newRecord(t, c, models.MemoryTypeSemantic, "A", base.Add(time.Minute))))
	}

	got, err := s.Search(ctx, models.SearchQuery{Text: "the build uses make", Limit: 3})
	gt.NoError(t, err)
	gt.A(t, got).Length(3)
	gt.Equal(t, got[0].ID, target.ID)
	gt.Equal(t, got[0].Embedding, target.Embedding)
}

func TestQdrantCreatesCollectionOnce(t *testing.T) {
	s, srv := setupQdrant(t)
	ctx := context.Background()

	gt.NoError(t, s.Save(ctx, newRecord(t, "one", models.MemoryTypeEpisodic, "A", base)))
	gt.NoError(t, s.Save(ctx, newRecord(t, "two", models.MemoryTypeEpisodic, "A", base)))
	gt.Equal(t, srv.PointCount("agent_memory"), 2)

	creates := 0
	for _, r := range srv.Requests() {
		if r == "PUT /collections/agent_memory" {
			creates++
		}
	}
	gt.Equal(t, creates, 1)
}

func TestQdrantRejectsNonUUID(t *testing.T) {
	s, _ := setupQdrant(t)
	rec := newRecord(t, "bad id", models.MemoryTypeEpisodic, "A", base)
	rec.ID = "not-a-uuid"

	err := s.Save(context.Background(), rec)
	gt.Error(t, err)
	gt.True(t, models.IsValidation(err))

	_, err = s.Get(context.Background(), "not-a-uuid")
	gt.True(t, models.IsValidation(err))
}

func TestQdrantUnavailableIsConnectivityError(t *testing.T) {
	s, srv := setupQdrant(t)
	ctx := context.Background()
	rec := newRecord(t, "fine at first", models.MemoryTypeEpisodic, "A", base)
	gt.NoError(t, s.Save(ctx, rec))

	srv.Fail.Store(true)

	_, err := s.Get(ctx, rec.ID)
	gt.Error(t, err)
	gt.True(t, models.IsConnectivity(err))

	_, err = s.Search(ctx, models.SearchQuery{Text: "fine", Limit: 5})
	gt.True(t, models.IsConnectivity(err))

	_, err = s.Stats(ctx)
	gt.True(t, models.IsConnectivity(err))
}

func TestQdrantDimensionMismatch(t *testing.T) {
	srv := qdranttest.New(t)
	client := vectorstore.NewQdrantClient(srv.URL, "", 8, time.Second)
	_, err := store.NewQdrantStore(client, "agent_memory", embedding.NewHashEmbedder(testDim))
	gt.Error(t, err)
	gt.True(t, models.IsConfiguration(err))
}
