package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/models"
)

// ChromemStore is an in-process vector backend. Nearest-neighbour search
// runs in chromem-go; full records live in a map for scans.
type ChromemStore struct {
	col      *chromem.Collection
	embedder embedding.Embedder

	mu      sync.RWMutex
	records map[string]*models.Record
}

// NewChromemStore creates an empty in-memory store.
func NewChromemStore(embedder embedding.Embedder) (*ChromemStore, error) {
	db := chromem.NewDB()
	// No embedding func: every document arrives with its vector.
	col, err := db.CreateCollection("memories", nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "create chromem collection")
	}
	return &ChromemStore{
		col:      col,
		embedder: embedder,
		records:  make(map[string]*models.Record),
	}, nil
}

func (s *ChromemStore) Name() string { return "chromem" }

func (s *ChromemStore) Close() error { return nil }

func (s *ChromemStore) Save(ctx context.Context, rec *models.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	toSave := rec.Clone()
	if toSave.Embedding == nil {
		vec, err := s.embedder.Embed(ctx, rec.Content)
		if err != nil {
			return models.EmbeddingFailure(err, "embed content for chromem", "id", rec.ID)
		}
		toSave.Embedding = vec
	}
	if len(toSave.Embedding) != s.embedder.Dimension() {
		return models.EmbeddingFailure(
			models.Configuration("embedding length does not match embedder",
				"want", s.embedder.Dimension(), "got", len(toSave.Embedding)),
			"save to chromem", "id", rec.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok {
		toSave.CreatedAt = existing.CreatedAt
	}
	if err := s.addDocument(ctx, toSave); err != nil {
		return err
	}
	s.records[rec.ID] = toSave
	return nil
}

func (s *ChromemStore) addDocument(ctx context.Context, rec *models.Record) error {
	err := s.col.AddDocument(ctx, chromem.Document{
		ID:        rec.ID,
		Content:   rec.Content,
		Embedding: append([]float32(nil), rec.Embedding...),
		Metadata:  map[string]string{"memory_type": string(rec.MemoryType)},
	})
	if err != nil {
		return goerr.Wrap(err, "add chromem document", goerr.V("id", rec.ID))
	}
	return nil
}

func (s *ChromemStore) Get(_ context.Context, id string) (*models.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

func (s *ChromemStore) Update(ctx context.Context, id string, patch *models.Patch) (*models.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if patch == nil {
		patch = &models.Patch{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	rec := current.Clone()
	rec.Apply(patch, time.Now())
	if err := s.addDocument(ctx, rec); err != nil {
		return nil, err
	}
	s.records[id] = rec
	return rec.Clone(), nil
}

func (s *ChromemStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	if err := s.col.Delete(ctx, nil, nil, id); err != nil {
		return false, goerr.Wrap(err, "delete chromem document", goerr.V("id", id))
	}
	delete(s.records, id)
	return true, nil
}

// Search ranks by cosine similarity of the embedded query. Blank queries
// list by recency.
func (s *ChromemStore) Search(ctx context.Context, q models.SearchQuery) ([]*models.Record, error) {
	if strings.TrimSpace(q.Text) == "" {
		return s.ListByScope(ctx, models.ScopeQuery{Type: q.Type, Limit: q.Limit})
	}

	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, goerr.Wrap(err, "embed search query")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem-go rejects nResults larger than the collection, and a where
	// filter can leave fewer candidates than that, so type filtering runs
	// over the full ranking here.
	n := s.col.Count()
	if n == 0 {
		return []*models.Record{}, nil
	}
	results, err := s.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query")
	}

	hits := make([]scored, 0, len(results))
	for _, r := range results {
		rec, ok := s.records[r.ID]
		if !ok || (q.Type != nil && rec.MemoryType != *q.Type) {
			continue
		}
		hits = append(hits, scored{rec: rec.Clone(), score: float64(r.Similarity)})
	}
	return truncate(byScore(hits), normalizeLimit(q.Limit)), nil
}

func (s *ChromemStore) ListByScope(_ context.Context, q models.ScopeQuery) ([]*models.Record, error) {
	recs := s.filter(func(r *models.Record) bool { return matchesScope(r, q) })
	sortRecords(recs, newerFirst)
	return truncate(recs, normalizeLimit(q.Limit)), nil
}

func (s *ChromemStore) ListByTimeRange(_ context.Context, q models.TimeRangeQuery) ([]*models.Record, error) {
	recs := s.filter(func(r *models.Record) bool {
		return q.Contains(r.CreatedAt) && (q.AgentID == "" || r.AgentID == q.AgentID)
	})
	sortRecords(recs, olderFirst)
	return truncate(recs, normalizeLimit(q.Limit)), nil
}

func (s *ChromemStore) filter(keep func(*models.Record) bool) []*models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*models.Record{}
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	return out
}

func (s *ChromemStore) RecordAccess(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			rec.Touch(at.UTC())
		}
	}
	return nil
}

func (s *ChromemStore) Stats(_ context.Context) (*models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.NewStats(s.Name())
	for _, r := range s.records {
		stats.ByType[r.MemoryType]++
		stats.Total++
	}
	return stats, nil
}
