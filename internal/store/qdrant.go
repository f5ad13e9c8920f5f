package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/vectorstore"
)

const createdAtKey = "created_at_us"

// payload is the full record as stored alongside each Qdrant point.
type payload struct {
	Content      string         `json:"content"`
	MemoryType   string         `json:"memory_type"`
	AgentID      string         `json:"agent_id"`
	SessionID    string         `json:"session_id"`
	Metadata     map[string]any `json:"metadata"`
	Importance   float64        `json:"importance"`
	Tags         []string       `json:"tags"`
	CreatedAt    time.Time      `json:"created_at"`
	CreatedAtUS  int64          `json:"created_at_us"`
	UpdatedAt    time.Time      `json:"updated_at"`
	AccessCount  int            `json:"access_count"`
	LastAccessed *time.Time     `json:"last_accessed,omitempty"`
	// Embedding keeps the raw vector; Qdrant normalizes the point vector.
	Embedding    []float32      `json:"embedding,omitempty"`
}

// QdrantStore is the managed vector-search backend. Search embeds the query
// and ranks by cosine similarity.
type QdrantStore struct {
	client      *vectorstore.QdrantClient
	collections *vectorstore.CollectionManager
	collection  string
	embedder    embedding.Embedder
}

// NewQdrantStore builds a store over client. Collections are created lazily.
func NewQdrantStore(client *vectorstore.QdrantClient, collection string, embedder embedding.Embedder) (*QdrantStore, error) {
	if collection == "" {
		return nil, models.Configuration("qdrant collection name must not be empty")
	}
	if client.Dimension() != embedder.Dimension() {
		return nil, models.Configuration("qdrant dimension does not match embedder",
			"qdrant", client.Dimension(), "embedder", embedder.Dimension())
	}
	return &QdrantStore{
		client:      client,
		collections: vectorstore.NewCollectionManager(client, []string{"memory_type", "agent_id", "session_id"}, []string{createdAtKey}),
		collection:  collection,
		embedder:    embedder,
	}, nil
}

func (s *QdrantStore) Name() string { return "qdrant" }

func (s *QdrantStore) Close() error { return nil }

// HealthCheck verifies Qdrant connectivity.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func (s *QdrantStore) ensure(ctx context.Context) error {
	return s.collections.Ensure(ctx, s.collection)
}

func validatePointID(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return models.Validation("qdrant ids must be UUIDs", "id", id)
	}
	return nil
}

// Save upserts rec. A record without an embedding is embedded here since
// every point needs a vector.
func (s *QdrantStore) Save(ctx context.Context, rec *models.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	if err := validatePointID(rec.ID); err != nil {
		return err
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}

	vec := rec.Embedding
	if vec == nil {
		var err error
		if vec, err = s.embedder.Embed(ctx, rec.Content); err != nil {
			return models.EmbeddingFailure(err, "embed content for qdrant", "id", rec.ID)
		}
	}

	existing, err := s.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	toSave := rec.Clone()
	toSave.Embedding = vec
	if existing != nil {
		toSave.CreatedAt = existing.CreatedAt
	}
	return s.upsert(ctx, toSave)
}

func (s *QdrantStore) upsert(ctx context.Context, recs ...*models.Record) error {
	points := make([]vectorstore.Point, 0, len(recs))
	for _, rec := range recs {
		p, err := toPoint(rec)
		if err != nil {
			return err
		}
		points = append(points, p)
	}
	return s.client.Upsert(ctx, s.collection, points)
}

func (s *QdrantStore) Get(ctx context.Context, id string) (*models.Record, error) {
	if err := validatePointID(id); err != nil {
		return nil, err
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	points, err := s.client.Retrieve(ctx, s.collection, []string{id})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return fromPoint(points[0].ID, points[0].Vector, points[0].Payload)
}

// Update rewrites the point. Without a new embedding in the patch the
// stored vector is kept as is.
func (s *QdrantStore) Update(ctx context.Context, id string, patch *models.Patch) (*models.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if patch == nil {
		patch = &models.Patch{}
	}
	rec.Apply(patch, time.Now())
	if err := s.upsert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *QdrantStore) Delete(ctx context.Context, id string) (bool, error) {
	rec, err := s.Get(ctx, id)
	if err != nil || rec == nil {
		return false, err
	}
	if err := s.client.DeletePoints(ctx, s.collection, []string{id}); err != nil {
		return false, err
	}
	return true, nil
}

// Search embeds the query and returns nearest neighbours. Blank queries
// list by recency.
func (s *QdrantStore) Search(ctx context.Context, q models.SearchQuery) ([]*models.Record, error) {
	if strings.TrimSpace(q.Text) == "" {
		return s.ListByScope(ctx, models.ScopeQuery{Type: q.Type, Limit: q.Limit})
	}
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}

	vec, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, goerr.Wrap(err, "embed search query")
	}

	filter := &vectorstore.Filter{}
	if q.Type != nil {
		filter.Must = append(filter.Must, vectorstore.MatchValue("memory_type", string(*q.Type)))
	}

	results, err := s.client.Search(ctx, s.collection, vec, normalizeLimit(q.Limit), filter)
	if err != nil {
		return nil, err
	}

	hits := make([]scored, 0, len(results))
	for _, r := range results {
		rec, err := fromPoint(r.ID, r.Vector, r.Payload)
		if err != nil {
			return nil, err
		}
		hits = append(hits, scored{rec: rec, score: r.Score})
	}
	return byScore(hits), nil
}

func (s *QdrantStore) ListByScope(ctx context.Context, q models.ScopeQuery) ([]*models.Record, error) {
	filter := &vectorstore.Filter{}
	if q.Type != nil {
		filter.Must = append(filter.Must, vectorstore.MatchValue("memory_type", string(*q.Type)))
	}
	if q.AgentID != "" {
		filter.Must = append(filter.Must, vectorstore.MatchValue("agent_id", q.AgentID))
	}
	if q.SessionID != "" {
		filter.Must = append(filter.Must, vectorstore.MatchValue("session_id", q.SessionID))
	}
	recs, err := s.scroll(ctx, filter, "desc", normalizeLimit(q.Limit))
	if err != nil {
		return nil, err
	}
	sortRecords(recs, newerFirst)
	return recs, nil
}

func (s *QdrantStore) ListByTimeRange(ctx context.Context, q models.TimeRangeQuery) ([]*models.Record, error) {
	filter := &vectorstore.Filter{Must: []vectorstore.Condition{
		vectorstore.Between(createdAtKey, float64(toMicros(q.Start)), float64(toMicros(q.End))),
	}}
	if q.AgentID != "" {
		filter.Must = append(filter.Must, vectorstore.MatchValue("agent_id", q.AgentID))
	}
	recs, err := s.scroll(ctx, filter, "asc", normalizeLimit(q.Limit))
	if err != nil {
		return nil, err
	}
	sortRecords(recs, olderFirst)
	return recs, nil
}

func (s *QdrantStore) scroll(ctx context.Context, filter *vectorstore.Filter, direction string, limit int) ([]*models.Record, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	points, err := s.client.Scroll(ctx, s.collection, filter, &vectorstore.OrderBy{Key: createdAtKey, Direction: direction}, limit)
	if err != nil {
		return nil, err
	}
	recs := make([]*models.Record, 0, len(points))
	for _, p := range points {
		rec, err := fromPoint(p.ID, p.Vector, p.Payload)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// RecordAccess rewrites the touched points. Concurrent recalls of the same
// record may lose an increment; the server owns write ordering.
func (s *QdrantStore) RecordAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensure(ctx); err != nil {
		return err
	}
	points, err := s.client.Retrieve(ctx, s.collection, ids)
	if err != nil {
		return err
	}
	recs := make([]*models.Record, 0, len(points))
	for _, p := range points {
		rec, err := fromPoint(p.ID, p.Vector, p.Payload)
		if err != nil {
			return err
		}
		rec.Touch(at.UTC())
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil
	}
	return s.upsert(ctx, recs...)
}

func (s *QdrantStore) Stats(ctx context.Context) (*models.Stats, error) {
	if err := s.ensure(ctx); err != nil {
		return nil, err
	}
	stats := models.NewStats(s.Name())
	for _, t := range models.MemoryTypes {
		n, err := s.client.Count(ctx, s.collection, &vectorstore.Filter{
			Must: []vectorstore.Condition{vectorstore.MatchValue("memory_type", string(t))},
		})
		if err != nil {
			return nil, err
		}
		stats.ByType[t] = n
		stats.Total += n
	}
	return stats, nil
}

func toPoint(rec *models.Record) (vectorstore.Point, error) {
	p := payload{
		Content:      rec.Content,
		MemoryType:   string(rec.MemoryType),
		AgentID:      rec.AgentID,
		SessionID:    rec.SessionID,
		Metadata:     rec.Metadata,
		Importance:   models.ClampImportance(rec.Importance),
		Tags:         rec.Tags,
		CreatedAt:    rec.CreatedAt,
		CreatedAtUS:  toMicros(rec.CreatedAt),
		UpdatedAt:    rec.UpdatedAt,
		AccessCount:  rec.AccessCount,
		LastAccessed: rec.LastAccessed,
		Embedding:    rec.Embedding,
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return vectorstore.Point{}, models.Validation("metadata is not serializable", "id", rec.ID)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return vectorstore.Point{}, goerr.Wrap(err, "failed to build qdrant payload", goerr.V("id", rec.ID))
	}
	return vectorstore.Point{ID: rec.ID, Vector: rec.Embedding, Payload: m}, nil
}

func fromPoint(id string, vec []float32, m map[string]any) (*models.Record, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read qdrant payload", goerr.V("id", id))
	}
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, goerr.Wrap(err, "failed to decode qdrant payload", goerr.V("id", id))
	}

	rec := &models.Record{
		ID:           id,
		Content:      p.Content,
		MemoryType:   models.MemoryType(p.MemoryType),
		AgentID:      p.AgentID,
		SessionID:    p.SessionID,
		Metadata:     p.Metadata,
		Importance:   models.ClampImportance(p.Importance),
		Tags:         p.Tags,
		Embedding:    vec,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
		AccessCount:  p.AccessCount,
		LastAccessed: p.LastAccessed,
	}
	if len(p.Embedding) > 0 {
		rec.Embedding = p.Embedding
	}
	if rec.Metadata == nil {
		rec.Metadata = map[string]any{}
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.LastAccessed != nil {
		t := rec.LastAccessed.UTC()
		rec.LastAccessed = &t
	}
	return rec, nil
}
