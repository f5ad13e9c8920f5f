// Package memory is the single entry point callers use to read and write
// agent memories. Writes are best-effort and report a WriteOutcome; reads
// are strict and return every store failure.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iammorganparry/agentmem/internal/backend"
	"github.com/iammorganparry/agentmem/internal/config"
	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
)

const (
	DefaultSearchLimit   = 10
	DefaultEpisodicLimit = 50
	DefaultTimelineLimit = 100
	MaxLimit             = 1000

	// timelineLookahead is how far past now the default timeline window ends.
	timelineLookahead = 24 * time.Hour
)

// Manager owns one Store and one Embedder for the process lifetime.
type Manager struct {
	store    store.Store
	embedder embedding.Embedder
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// New builds a Manager over an already opened store.
func New(st store.Store, embedder embedding.Embedder, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    st,
		embedder: embedder,
		logger:   logger,
		tracer:   otel.Tracer("agentmem/memory"),
		now:      time.Now,
	}
}

// NewFromConfig resolves the backend before building the embedder or
// touching any store, so an ambiguous configuration fails without side
// effects.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	settings := cfg.StoreSettings()
	if _, err := backend.Select(settings); err != nil {
		return nil, err
	}

	embedder, err := embedding.New(cfg.Embedding())
	if err != nil {
		return nil, err
	}

	st, err := backend.Open(ctx, settings, embedder)
	if err != nil {
		return nil, goerr.Wrap(err, "open memory store")
	}
	return New(st, embedder, logger), nil
}

// Backend names the active store.
func (m *Manager) Backend() string { return m.store.Name() }

// Embedder names the active embedding configuration.
func (m *Manager) Embedder() string { return m.embedder.Name() }

// Close releases the store and any embedder cache.
func (m *Manager) Close() error {
	if c, ok := m.embedder.(interface{ Close() }); ok {
		c.Close()
	}
	return m.store.Close()
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

func (m *Manager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("memory.backend", m.store.Name()))
	return m.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddInput holds the fields of a new memory. Importance nil means default.
type AddInput struct {
	Content    string
	MemoryType models.MemoryType
	AgentID    string
	SessionID  string
	Metadata   map[string]any
	Importance *float64
	Tags       []string
}

// Add creates a memory. The error is non-nil only for invalid input; an
// embedding or store failure still returns the record with a degraded or
// failed outcome.
func (m *Manager) Add(ctx context.Context, in AddInput) (rec *models.Record, outcome WriteOutcome, err error) {
	ctx, span := m.startSpan(ctx, "memory.Add",
		attribute.String("memory.type", string(in.MemoryType)),
		attribute.String("memory.agent_id", in.AgentID),
	)
	defer func() {
		span.SetAttributes(attribute.String("memory.outcome", string(outcome.Status)))
		endSpan(span, err)
	}()

	if strings.TrimSpace(in.Content) == "" {
		return nil, WriteOutcome{}, models.Validation("content must not be empty", "field", "content")
	}
	if !in.MemoryType.IsValid() {
		return nil, WriteOutcome{}, models.Validation("unknown memory type", "memory_type", string(in.MemoryType))
	}
	importance := models.DefaultImportance
	if in.Importance != nil {
		if err := models.ValidateImportance(*in.Importance); err != nil {
			return nil, WriteOutcome{}, err
		}
		importance = *in.Importance
	}
	metadata, err := models.NormalizeMetadata(in.Metadata)
	if err != nil {
		return nil, WriteOutcome{}, err
	}

	now := m.timestamp()
	rec = &models.Record{
		ID:         uuid.NewString(),
		Content:    in.Content,
		MemoryType: in.MemoryType,
		AgentID:    in.AgentID,
		SessionID:  in.SessionID,
		Metadata:   metadata,
		Importance: importance,
		Tags:       models.NormalizeTags(in.Tags),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	outcome = okOutcome()

	vec, embedErr := m.embedder.Embed(ctx, in.Content)
	if embedErr != nil {
		m.logger.Warn("embedding failed, storing memory without vector",
			slog.String("id", rec.ID),
			slog.String("embedder", m.embedder.Name()),
			slog.Any("error", embedErr),
		)
		outcome = outcome.degrade("embedding unavailable: " + embedErr.Error())
	} else {
		rec.Embedding = vec
	}

	if saveErr := m.store.Save(ctx, rec); saveErr != nil {
		if surfaces(saveErr) {
			return nil, WriteOutcome{}, saveErr
		}
		m.logger.Error("failed to persist memory",
			slog.String("id", rec.ID),
			slog.String("backend", m.store.Name()),
			slog.Any("error", saveErr),
		)
		outcome = outcome.fail("not persisted: " + saveErr.Error())
	}

	m.logger.Debug("memory added",
		slog.String("id", rec.ID),
		slog.String("memory_type", string(rec.MemoryType)),
		slog.String("status", string(outcome.Status)),
	)
	return rec, outcome, nil
}

// Search returns the backend's most relevant records and counts the
// returned page as recalled.
func (m *Manager) Search(ctx context.Context, query string, memType *models.MemoryType, limit int) (recs []*models.Record, err error) {
	ctx, span := m.startSpan(ctx, "memory.Search", attribute.Int("memory.limit", limit))
	defer func() { endSpan(span, err) }()

	if memType != nil && !memType.IsValid() {
		return nil, models.Validation("unknown memory type", "memory_type", string(*memType))
	}

	recs, err = m.store.Search(ctx, models.SearchQuery{
		Text:  query,
		Type:  memType,
		Limit: resolveLimit(limit, DefaultSearchLimit),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "search memories")
	}
	if len(recs) == 0 {
		return recs, nil
	}

	now := m.timestamp()
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
		r.Touch(now)
	}
	if accessErr := m.store.RecordAccess(ctx, ids, now); accessErr != nil {
		m.logger.Warn("failed to record memory access",
			slog.Int("count", len(ids)),
			slog.Any("error", accessErr),
		)
	}
	span.SetAttributes(attribute.Int("memory.results", len(recs)))
	return recs, nil
}

// Episodic lists episodic memories for the given scope, newest first.
func (m *Manager) Episodic(ctx context.Context, agentID, sessionID string, limit int) (recs []*models.Record, err error) {
	ctx, span := m.startSpan(ctx, "memory.Episodic",
		attribute.String("memory.agent_id", agentID),
		attribute.String("memory.session_id", sessionID),
	)
	defer func() { endSpan(span, err) }()

	episodic := models.MemoryTypeEpisodic
	recs, err = m.store.ListByScope(ctx, models.ScopeQuery{
		Type:      &episodic,
		AgentID:   agentID,
		SessionID: sessionID,
		Limit:     resolveLimit(limit, DefaultEpisodicLimit),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "list episodic memories")
	}
	return recs, nil
}

// ListAgentMemories lists one agent's memories, newest first.
func (m *Manager) ListAgentMemories(ctx context.Context, agentID string, memType *models.MemoryType, limit int) (recs []*models.Record, err error) {
	ctx, span := m.startSpan(ctx, "memory.ListAgentMemories", attribute.String("memory.agent_id", agentID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(agentID) == "" {
		return nil, models.Validation("agent_id must not be empty")
	}
	if memType != nil && !memType.IsValid() {
		return nil, models.Validation("unknown memory type", "memory_type", string(*memType))
	}

	recs, err = m.store.ListByScope(ctx, models.ScopeQuery{
		Type:    memType,
		AgentID: agentID,
		Limit:   resolveLimit(limit, DefaultEpisodicLimit),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "list agent memories")
	}
	return recs, nil
}

// Timeline lists memories created within [start, end] in chronological
// order. A nil start means the Unix epoch; a nil end means a day from now.
func (m *Manager) Timeline(ctx context.Context, agentID string, start, end *time.Time, limit int) (recs []*models.Record, err error) {
	ctx, span := m.startSpan(ctx, "memory.Timeline", attribute.String("memory.agent_id", agentID))
	defer func() { endSpan(span, err) }()

	from, to := m.timelineBounds(start, end)
	if from.After(to) {
		return nil, models.Validation("start_time must not be after end_time",
			"start_time", from, "end_time", to)
	}

	recs, err = m.store.ListByTimeRange(ctx, models.TimeRangeQuery{
		AgentID: agentID,
		Start:   from,
		End:     to,
		Limit:   resolveLimit(limit, DefaultTimelineLimit),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "list timeline")
	}
	return recs, nil
}

func (m *Manager) timelineBounds(start, end *time.Time) (time.Time, time.Time) {
	from := time.Unix(0, 0).UTC()
	if start != nil {
		from = start.UTC()
	}
	to := m.timestamp().Add(timelineLookahead)
	if end != nil {
		to = end.UTC()
	}
	return from, to
}

// Get returns the record or nil when it does not exist. It does not count
// as a recall.
func (m *Manager) Get(ctx context.Context, id string) (rec *models.Record, err error) {
	ctx, span := m.startSpan(ctx, "memory.Get", attribute.String("memory.id", id))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(id) == "" {
		return nil, models.Validation("memory id must not be empty")
	}
	rec, err = m.store.Get(ctx, id)
	if err != nil {
		return nil, goerr.Wrap(err, "get memory", goerr.V("id", id))
	}
	return rec, nil
}

// Update applies patch to the record. A content change is re-embedded
// first; if that fails the old vector is kept and the outcome is degraded.
// A missing record returns nil with an ok outcome.
func (m *Manager) Update(ctx context.Context, id string, patch models.Patch) (rec *models.Record, outcome WriteOutcome, err error) {
	ctx, span := m.startSpan(ctx, "memory.Update", attribute.String("memory.id", id))
	defer func() {
		span.SetAttributes(attribute.String("memory.outcome", string(outcome.Status)))
		endSpan(span, err)
	}()

	if strings.TrimSpace(id) == "" {
		return nil, WriteOutcome{}, models.Validation("memory id must not be empty")
	}
	if err := patch.Validate(); err != nil {
		return nil, WriteOutcome{}, err
	}
	if patch.Metadata != nil {
		if patch.Metadata, err = models.NormalizeMetadata(patch.Metadata); err != nil {
			return nil, WriteOutcome{}, err
		}
	}
	patch.Embedding = nil
	outcome = okOutcome()

	current, getErr := m.store.Get(ctx, id)
	if getErr != nil {
		if surfaces(getErr) {
			return nil, WriteOutcome{}, getErr
		}
		m.logger.Error("failed to read memory for update",
			slog.String("id", id),
			slog.Any("error", getErr),
		)
		return nil, outcome.fail("not updated: " + getErr.Error()), nil
	}
	if current == nil {
		return nil, outcome, nil
	}

	if patch.Content != nil && *patch.Content != current.Content {
		vec, embedErr := m.embedder.Embed(ctx, *patch.Content)
		if embedErr != nil {
			m.logger.Warn("re-embedding failed, keeping previous vector",
				slog.String("id", id),
				slog.String("embedder", m.embedder.Name()),
				slog.Any("error", embedErr),
			)
			outcome = outcome.degrade("embedding is stale: " + embedErr.Error())
		} else {
			patch.Embedding = vec
		}
	}

	updated, updErr := m.store.Update(ctx, id, &patch)
	if updErr != nil {
		if surfaces(updErr) {
			return nil, WriteOutcome{}, updErr
		}
		m.logger.Error("failed to persist memory update",
			slog.String("id", id),
			slog.String("backend", m.store.Name()),
			slog.Any("error", updErr),
		)
		current.Apply(&patch, m.timestamp())
		return current, outcome.fail("not persisted: " + updErr.Error()), nil
	}
	if updated == nil {
		// Deleted between the read and the write.
		return nil, outcome, nil
	}
	return updated, outcome, nil
}

// Delete removes the record and reports whether it existed.
func (m *Manager) Delete(ctx context.Context, id string) (deleted bool, err error) {
	ctx, span := m.startSpan(ctx, "memory.Delete", attribute.String("memory.id", id))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(id) == "" {
		return false, models.Validation("memory id must not be empty")
	}
	deleted, err = m.store.Delete(ctx, id)
	if err != nil {
		return false, goerr.Wrap(err, "delete memory", goerr.V("id", id))
	}
	if deleted {
		m.logger.Debug("memory deleted", slog.String("id", id))
	}
	return deleted, nil
}

// Stats reports record counts for the active store.
func (m *Manager) Stats(ctx context.Context) (stats *models.Stats, err error) {
	ctx, span := m.startSpan(ctx, "memory.Stats")
	defer func() { endSpan(span, err) }()

	stats, err = m.store.Stats(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "memory stats")
	}
	return stats, nil
}

func resolveLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// surfaces reports whether a write-path error must reach the caller rather
// than be absorbed into the outcome. A store that could not vectorize the
// record reports an embedding fault, which is absorbed like any other
// embedding failure.
func surfaces(err error) bool {
	if models.IsEmbedding(err) {
		return false
	}
	return models.IsValidation(err) || models.IsConfiguration(err)
}
