package store

import (
	"context"
	"sort"
	"time"

	"github.com/iammorganparry/agentmem/internal/models"
)

// Store is the persistence contract every backend implements. Absent
// records are reported as nil results, never as errors.
type Store interface {
	// Name identifies the backend in logs and stats.
	Name() string

	// Save upserts rec keyed by ID. created_at of an existing row is kept.
	Save(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, id string) (*models.Record, error)
	// Update applies the non-nil patch fields and refreshes updated_at.
	Update(ctx context.Context, id string, patch *models.Patch) (*models.Record, error)
	// Delete reports whether a record existed and was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// Search returns the most relevant records first. Ties go to the most
	// recently created record.
	Search(ctx context.Context, q models.SearchQuery) ([]*models.Record, error)
	// ListByScope is an exact-match filter ordered newest first.
	ListByScope(ctx context.Context, q models.ScopeQuery) ([]*models.Record, error)
	// ListByTimeRange returns records in [Start, End] in ascending created_at order.
	ListByTimeRange(ctx context.Context, q models.TimeRangeQuery) ([]*models.Record, error)

	// RecordAccess bumps access_count and last_accessed for ids that exist.
	RecordAccess(ctx context.Context, ids []string, at time.Time) error
	Stats(ctx context.Context) (*models.Stats, error)
	Close() error
}

const (
	defaultLimit = 10
	maxLimit     = 1000
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// newerFirst orders by created_at descending, then id descending.
func newerFirst(a, b *models.Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// olderFirst orders by created_at ascending, then id ascending.
func olderFirst(a, b *models.Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortRecords(recs []*models.Record, less func(a, b *models.Record) bool) {
	sort.SliceStable(recs, func(i, j int) bool { return less(recs[i], recs[j]) })
}

func truncate(recs []*models.Record, limit int) []*models.Record {
	if len(recs) > limit {
		return recs[:limit]
	}
	return recs
}

// scored pairs a record with a backend relevance score.
type scored struct {
	rec   *models.Record
	score float64
}

// byScore orders by score descending, then by newerFirst.
func byScore(hits []scored) []*models.Record {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return newerFirst(hits[i].rec, hits[j].rec)
	})
	out := make([]*models.Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

func matchesScope(rec *models.Record, q models.ScopeQuery) bool {
	if q.Type != nil && rec.MemoryType != *q.Type {
		return false
	}
	if q.AgentID != "" && rec.AgentID != q.AgentID {
		return false
	}
	if q.SessionID != "" && rec.SessionID != q.SessionID {
		return false
	}
	return true
}

func validateID(id string) error {
	if id == "" {
		return models.Validation("memory id must not be empty")
	}
	return nil
}

func validateRecord(rec *models.Record) error {
	if rec == nil {
		return models.Validation("record must not be nil")
	}
	if err := validateID(rec.ID); err != nil {
		return err
	}
	if !rec.MemoryType.IsValid() {
		return models.Validation("unknown memory type", "memory_type", string(rec.MemoryType))
	}
	return nil
}
