package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
)

func setupChromem(t *testing.T) *store.ChromemStore {
	t.Helper()
	s, err := store.NewChromemStore(embedding.NewHashEmbedder(testDim))
	gt.NoError(t, err)
	return s
}

func TestChromemContract(t *testing.T) {
	runContract(t, func(t *testing.T) store.Store { return setupChromem(t) })
}

func TestChromemSearchRanksExactMatchFirst(t *testing.T) {
	s := setupChromem(t)
	ctx := context.Background()

	target := newRecord(t, "deploys happen on fridays", models.MemoryTypeSemantic, "A", base)
	other := newRecord(t, "coffee is brewed at nine", models.MemoryTypeSemantic, "A", base.Add(time.Minute))
	episodic := newRecord(t, "deploys happen on fridays", models.MemoryTypeEpisodic, "A", base.Add(2*time.Minute))
	for _, r := range []*models.Record{target, other, episodic} {
		gt.NoError(t, s.Save(ctx, r))
	}

	semantic := models.MemoryTypeSemantic
	got, err := s.Search(ctx, models.SearchQuery{Text: "deploys happen on fridays", Type: &semantic, Limit: 5})
	gt.NoError(t, err)
	gt.A(t, got).Length(2)
	gt.Equal(t, got[0].ID, target.ID)

	// Identical content scores the same; the newer record wins the tie.
	got, err = s.Search(ctx, models.SearchQuery{Text: "deploys happen on fridays", Limit: 2})
	gt.NoError(t, err)
	gt.Equal(t, ids(got), []string{episodic.ID, target.ID})
}

func TestChromemSearchLimitAboveCount(t *testing.T) {
	s := setupChromem(t)
	ctx := context.Background()

	got, err := s.Search(ctx, models.SearchQuery{Text: "anything", Limit: 50})
	gt.NoError(t, err)
	gt.A(t, got).Length(0)

	gt.NoError(t, s.Save(ctx, newRecord(t, "only one", models.MemoryTypeEpisodic, "A", base)))
	got, err = s.Search(ctx, models.SearchQuery{Text: "anything", Limit: 50})
	gt.NoError(t, err)
	gt.A(t, got).Length(1)
}

func TestChromemBlankSearchListsByRecency(t *testing.T) {
	s := setupChromem(t)
	ctx := context.Background()

	older := newRecord(t, "older", models.MemoryTypeEpisodic, "A", base)
	newer := newRecord(t, "newer", models.MemoryTypeEpisodic, "A", base.Add(time.Minute))
	gt.NoError(t, s.Save(ctx, older))
	gt.NoError(t, s.Save(ctx, newer))

	got, err := s.Search(ctx, models.SearchQuery{Text: "  ", Limit: 10})
	gt.NoError(t, err)
	gt.Equal(t, ids(got), []string{newer.ID, older.ID})
}

func TestChromemEmbedsRecordsWithoutVector(t *testing.T) {
	s := setupChromem(t)
	ctx := context.Background()

	rec := newRecord(t, "needs a vector", models.MemoryTypeSemantic, "A", base)
	rec.Embedding = nil
	gt.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	gt.NoError(t, err)
	gt.A(t, got.Embedding).Length(testDim)
}

func TestChromemRejectsWrongDimension(t *testing.T) {
	s := setupChromem(t)
	rec := newRecord(t, "short", models.MemoryTypeSemantic, "A", base)
	rec.Embedding = []float32{1, 2, 3}

	err := s.Save(context.Background(), rec)
	gt.Error(t, err)
	gt.True(t, models.IsConfiguration(err))
	gt.True(t, models.IsEmbedding(err))
}
