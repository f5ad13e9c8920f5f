package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
)

const testDim = 16

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newRecord(t *testing.T, content string, memType models.MemoryType, agentID string, createdAt time.Time) *models.Record {
	t.Helper()
	vec, err := embedding.NewHashEmbedder(testDim).Embed(context.Background(), content)
	gt.NoError(t, err)
	return &models.Record{
		ID:         uuid.NewString(),
		Content:    content,
		MemoryType: memType,
		AgentID:    agentID,
		SessionID:  "session-1",
		Metadata:   map[string]any{"source": "test", "turn": 3.0, "nested": map[string]any{"ok": true}},
		Importance: 7.5,
		Tags:       []string{"alpha", "beta"},
		Embedding:  vec,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func assertSameRecord(t *testing.T, want, got *models.Record) {
	t.Helper()
	gt.V(t, got).NotNil()
	gt.Equal(t, got.ID, want.ID)
	gt.Equal(t, got.Content, want.Content)
	gt.Equal(t, got.MemoryType, want.MemoryType)
	gt.Equal(t, got.AgentID, want.AgentID)
	gt.Equal(t, got.SessionID, want.SessionID)
	gt.Equal(t, got.Metadata, want.Metadata)
	gt.Equal(t, got.Importance, want.Importance)
	gt.Equal(t, got.Tags, want.Tags)
	gt.Equal(t, got.Embedding, want.Embedding)
	gt.True(t, got.CreatedAt.Equal(want.CreatedAt))
	gt.True(t, got.UpdatedAt.Equal(want.UpdatedAt))
}

func ids(recs []*models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

// runContract exercises the behaviour every backend shares.
func runContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	ctx := context.Background()

	t.Run("save then get round-trips every field", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, "the user prefers dark mode", models.MemoryTypeSemantic, "agent-a", base)
		gt.NoError(t, s.Save(ctx, rec))

		got, err := s.Get(ctx, rec.ID)
		gt.NoError(t, err)
		assertSameRecord(t, rec, got)
		gt.Equal(t, got.AccessCount, 0)
		gt.Nil(t, got.LastAccessed)
	})

	t.Run("get of absent id is nil without error", func(t *testing.T) {
		s := newStore(t)
		got, err := s.Get(ctx, uuid.NewString())
		gt.NoError(t, err)
		gt.Nil(t, got)
	})

	t.Run("empty id is a validation error", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "")
		gt.Error(t, err)
		gt.True(t, models.IsValidation(err))
	})

	t.Run("save is an upsert that keeps created_at", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, "first", models.MemoryTypeEpisodic, "agent-a", base)
		gt.NoError(t, s.Save(ctx, rec))

		again := rec.Clone()
		again.Content = "second"
		again.CreatedAt = base.Add(time.Hour)
		again.UpdatedAt = base.Add(time.Hour)
		gt.NoError(t, s.Save(ctx, again))

		got, err := s.Get(ctx, rec.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.Content, "second")
		gt.True(t, got.CreatedAt.Equal(base))

		stats, err := s.Stats(ctx)
		gt.NoError(t, err)
		gt.Equal(t, stats.Total, 1)
	})

	t.Run("update applies only provided fields", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, "original", models.MemoryTypeEpisodic, "agent-a", base)
		gt.NoError(t, s.Save(ctx, rec))

		importance := 9.0
		got, err := s.Update(ctx, rec.ID, &models.Patch{Importance: &importance, Tags: []string{"gamma"}})
		gt.NoError(t, err)
		gt.V(t, got).NotNil()
		gt.Equal(t, got.Importance, 9.0)
		gt.Equal(t, got.Tags, []string{"gamma"})
		gt.Equal(t, got.Content, "original")
		gt.Equal(t, got.Metadata, rec.Metadata)
		gt.True(t, got.UpdatedAt.After(rec.UpdatedAt))

		fetched, err := s.Get(ctx, rec.ID)
		gt.NoError(t, err)
		gt.Equal(t, fetched.Importance, 9.0)
		gt.True(t, fetched.UpdatedAt.Equal(got.UpdatedAt))
		gt.True(t, fetched.CreatedAt.Equal(base))
	})

	t.Run("update of absent id is nil without error", func(t *testing.T) {
		s := newStore(t)
		content := "x"
		got, err := s.Update(ctx, uuid.NewString(), &models.Patch{Content: &content})
		gt.NoError(t, err)
		gt.Nil(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, "forget me", models.MemoryTypeEpisodic, "agent-a", base)
		gt.NoError(t, s.Save(ctx, rec))

		deleted, err := s.Delete(ctx, rec.ID)
		gt.NoError(t, err)
		gt.True(t, deleted)

		deleted, err = s.Delete(ctx, rec.ID)
		gt.NoError(t, err)
		gt.False(t, deleted)

		got, err := s.Get(ctx, rec.ID)
		gt.NoError(t, err)
		gt.Nil(t, got)
	})

	t.Run("list by scope filters exactly and orders newest first", func(t *testing.T) {
		s := newStore(t)
		a1 := newRecord(t, "a1", models.MemoryTypeEpisodic, "A", base)
		a2 := newRecord(t, "a2", models.MemoryTypeEpisodic, "A", base.Add(2*time.Minute))
		a3 := newRecord(t, "a3", models.MemoryTypeSemantic, "A", base.Add(3*time.Minute))
		b1 := newRecord(t, "b1", models.MemoryTypeEpisodic, "B", base.Add(time.Minute))
		for _, r := range []*models.Record{a1, a2, a3, b1} {
			gt.NoError(t, s.Save(ctx, r))
		}

		episodic := models.MemoryTypeEpisodic
		got, err := s.ListByScope(ctx, models.ScopeQuery{Type: &episodic, AgentID: "A", Limit: 10})
		gt.NoError(t, err)
		gt.Equal(t, ids(got), []string{a2.ID, a1.ID})

		got, err = s.ListByScope(ctx, models.ScopeQuery{AgentID: "B", Limit: 10})
		gt.NoError(t, err)
		gt.Equal(t, ids(got), []string{b1.ID})

		got, err = s.ListByScope(ctx, models.ScopeQuery{Limit: 2})
		gt.NoError(t, err)
		gt.Equal(t, ids(got), []string{a3.ID, a2.ID})

		got, err = s.ListByScope(ctx, models.ScopeQuery{SessionID: "other", Limit: 10})
		gt.NoError(t, err)
		gt.A(t, got).Length(0)
	})

	t.Run("list by time range is inclusive and chronological", func(t *testing.T) {
		s := newStore(t)
		r3 := newRecord(t, "third", models.MemoryTypeTemporal, "A", base.Add(3*time.Hour))
		r1 := newRecord(t, "first", models.MemoryTypeEpisodic, "A", base.Add(1*time.Hour))
		r4 := newRecord(t, "fourth", models.MemoryTypeEpisodic, "A", base.Add(4*time.Hour))
		r2 := newRecord(t, "second", models.MemoryTypeSemantic, "A", base.Add(2*time.Hour))
		other := newRecord(t, "other agent", models.MemoryTypeEpisodic, "B", base.Add(2*time.Hour))
		for _, r := range []*models.Record{r3, r1, r4, r2, other} {
			gt.NoError(t, s.Save(ctx, r))
		}

		got, err := s.ListByTimeRange(ctx, models.TimeRangeQuery{
			AgentID: "A",
			Start:   base.Add(1 * time.Hour),
			End:     base.Add(3 * time.Hour),
			Limit:   10,
		})
		gt.NoError(t, err)
		gt.Equal(t, ids(got), []string{r1.ID, r2.ID, r3.ID})

		got, err = s.ListByTimeRange(ctx, models.TimeRangeQuery{
			Start: base,
			End:   base.Add(10 * time.Hour),
			Limit: 10,
		})
		gt.NoError(t, err)
		gt.A(t, got).Length(5)
		for i := 1; i < len(got); i++ {
			gt.False(t, got[i].CreatedAt.Before(got[i-1].CreatedAt))
		}
	})

	t.Run("record access bumps counters", func(t *testing.T) {
		s := newStore(t)
		rec := newRecord(t, "recall me", models.MemoryTypeEpisodic, "A", base)
		gt.NoError(t, s.Save(ctx, rec))

		at := base.Add(time.Hour)
		gt.NoError(t, s.RecordAccess(ctx, []string{rec.ID, uuid.NewString()}, at))
		gt.NoError(t, s.RecordAccess(ctx, []string{rec.ID}, at.Add(time.Minute)))

		got, err := s.Get(ctx, rec.ID)
		gt.NoError(t, err)
		gt.Equal(t, got.AccessCount, 2)
		gt.V(t, got.LastAccessed).NotNil()
		gt.True(t, got.LastAccessed.Equal(at.Add(time.Minute)))
		gt.True(t, got.UpdatedAt.Equal(rec.UpdatedAt))
	})

	t.Run("stats counts per type", func(t *testing.T) {
		s := newStore(t)
		gt.NoError(t, s.Save(ctx, newRecord(t, "e1", models.MemoryTypeEpisodic, "A", base)))
		gt.NoError(t, s.Save(ctx, newRecord(t, "e2", models.MemoryTypeEpisodic, "A", base)))
		gt.NoError(t, s.Save(ctx, newRecord(t, "s1", models.MemoryTypeSemantic, "A", base)))

		stats, err := s.Stats(ctx)
		gt.NoError(t, err)
		gt.Equal(t, stats.Total, 3)
		gt.Equal(t, stats.ByType[models.MemoryTypeEpisodic], 2)
		gt.Equal(t, stats.ByType[models.MemoryTypeSemantic], 1)
		gt.Equal(t, stats.ByType[models.MemoryTypeTemporal], 0)
		gt.Equal(t, stats.Backend, s.Name())
	})
}
