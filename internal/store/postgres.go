package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"

	"github.com/iammorganparry/agentmem/internal/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id            TEXT PRIMARY KEY,
	content       TEXT NOT NULL,
	memory_type   TEXT NOT NULL,
	agent_id      TEXT,
	session_id    TEXT,
	metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
	importance    DOUBLE PRECISION NOT NULL DEFAULT 5.0,
	tags          TEXT[] NOT NULL DEFAULT '{}',
	embedding     REAL[],
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL,
	access_count  INTEGER NOT NULL DEFAULT 0,
	last_accessed TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_memories_agent_id ON memories(agent_id);
CREATE INDEX IF NOT EXISTS idx_memories_session_id ON memories(session_id);
CREATE INDEX IF NOT EXISTS idx_memories_memory_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance);
CREATE INDEX IF NOT EXISTS idx_memories_content_gin ON memories USING gin(to_tsvector('english', content));
`

const pgColumns = `id, content, memory_type, agent_id, session_id, metadata::text,
	importance, tags, embedding, created_at, updated_at, access_count, last_accessed`

// PostgresStore is the relational full-text backend. Search uses the
// english text-search configuration ranked by ts_rank.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgresStore connects, verifies reachability and creates the schema.
func NewPostgresStore(ctx context.Context, connStr string, timeout time.Duration) (*PostgresStore, error) {
	if connStr == "" {
		return nil, models.Configuration("postgres connection string must not be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, models.Configuration("invalid postgres connection string")
	}
	s := &PostgresStore{pool: pool, timeout: timeout}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, models.Connectivity(err, "postgres ping")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, s.wrap(err, "postgres create schema")
	}
	return s, nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *models.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return models.Validation("metadata is not serializable", "id", rec.ID)
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO memories (id, content, memory_type, agent_id, session_id, metadata,
			importance, tags, embedding, created_at, updated_at, access_count, last_accessed)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			memory_type = EXCLUDED.memory_type,
			agent_id = EXCLUDED.agent_id,
			session_id = EXCLUDED.session_id,
			metadata = EXCLUDED.metadata,
			importance = EXCLUDED.importance,
			tags = EXCLUDED.tags,
			embedding = EXCLUDED.embedding,
			updated_at = EXCLUDED.updated_at,
			access_count = EXCLUDED.access_count,
			last_accessed = EXCLUDED.last_accessed
	`,
		rec.ID, rec.Content, string(rec.MemoryType), optional(rec.AgentID), optional(rec.SessionID),
		metadata, models.ClampImportance(rec.Importance), tags, rec.Embedding,
		rec.CreatedAt, rec.UpdatedAt, rec.AccessCount, rec.LastAccessed,
	)
	if err != nil {
		return s.wrap(err, "postgres save", "id", rec.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rec, err := scanPgRecord(s.pool.QueryRow(ctx, `SELECT `+pgColumns+` FROM memories WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap(err, "postgres get", "id", id)
	}
	return rec, nil
}

// Update locks the row for the duration of the read-modify-write.
func (s *PostgresStore) Update(ctx context.Context, id string, patch *models.Patch) (*models.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if patch == nil {
		patch = &models.Patch{}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, s.wrap(err, "postgres begin", "id", id)
	}
	defer tx.Rollback(ctx)

	rec, err := scanPgRecord(tx.QueryRow(ctx, `SELECT `+pgColumns+` FROM memories WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap(err, "postgres get for update", "id", id)
	}

	rec.Apply(patch, time.Now())
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return nil, models.Validation("metadata is not serializable", "id", id)
	}

	_, err = tx.Exec(ctx, `
		UPDATE memories SET content = $1, memory_type = $2, metadata = $3::jsonb, importance = $4,
			tags = $5, embedding = $6, updated_at = $7
		WHERE id = $8
	`, rec.Content, string(rec.MemoryType), metadata, rec.Importance, rec.Tags, rec.Embedding, rec.UpdatedAt, id)
	if err != nil {
		return nil, s.wrap(err, "postgres update", "id", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, s.wrap(err, "postgres commit", "id", id)
	}
	return rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return false, s.wrap(err, "postgres delete", "id", id)
	}
	return tag.RowsAffected() > 0, nil
}

// Search ranks full-text matches by ts_rank. Blank queries list by recency.
func (s *PostgresStore) Search(ctx context.Context, q models.SearchQuery) ([]*models.Record, error) {
	if strings.TrimSpace(q.Text) == "" {
		return s.ListByScope(ctx, models.ScopeQuery{Type: q.Type, Limit: q.Limit})
	}

	b := &pgQuery{}
	tsq := b.arg(q.Text)
	b.where("to_tsvector('english', content) @@ plainto_tsquery('english', " + tsq + ")")
	if q.Type != nil {
		b.where("memory_type = " + b.arg(string(*q.Type)))
	}
	limit := b.arg(normalizeLimit(q.Limit))

	return s.query(ctx, "postgres search", `
		SELECT `+pgColumns+` FROM memories
		WHERE `+b.conditions()+`
		ORDER BY ts_rank(to_tsvector('english', content), plainto_tsquery('english', `+tsq+`)) DESC,
			created_at DESC, id DESC
		LIMIT `+limit, b.args...)
}

func (s *PostgresStore) ListByScope(ctx context.Context, q models.ScopeQuery) ([]*models.Record, error) {
	b := &pgQuery{}
	if q.Type != nil {
		b.where("memory_type = " + b.arg(string(*q.Type)))
	}
	if q.AgentID != "" {
		b.where("agent_id = " + b.arg(q.AgentID))
	}
	if q.SessionID != "" {
		b.where("session_id = " + b.arg(q.SessionID))
	}
	limit := b.arg(normalizeLimit(q.Limit))

	return s.query(ctx, "postgres list by scope", `
		SELECT `+pgColumns+` FROM memories
		WHERE `+b.conditions()+`
		ORDER BY created_at DESC, id DESC
		LIMIT `+limit, b.args...)
}

func (s *PostgresStore) ListByTimeRange(ctx context.Context, q models.TimeRangeQuery) ([]*models.Record, error) {
	b := &pgQuery{}
	b.where("created_at >= " + b.arg(q.Start))
	b.where("created_at <= " + b.arg(q.End))
	if q.AgentID != "" {
		b.where("agent_id = " + b.arg(q.AgentID))
	}
	limit := b.arg(normalizeLimit(q.Limit))

	return s.query(ctx, "postgres list by time range", `
		SELECT `+pgColumns+` FROM memories
		WHERE `+b.conditions()+`
		ORDER BY created_at ASC, id ASC
		LIMIT `+limit, b.args...)
}

func (s *PostgresStore) RecordAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed = $1
		WHERE id = ANY($2)`, at, ids)
	if err != nil {
		return s.wrap(err, "postgres record access", "count", len(ids))
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*models.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `SELECT memory_type, COUNT(*) FROM memories GROUP BY memory_type`)
	if err != nil {
		return nil, s.wrap(err, "postgres stats")
	}
	defer rows.Close()

	stats := models.NewStats(s.Name())
	for rows.Next() {
		var (
			t string
			n int64
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, s.wrap(err, "postgres stats")
		}
		stats.ByType[models.MemoryType(t)] = int(n)
		stats.Total += int(n)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, "postgres stats")
	}
	return stats, nil
}

func (s *PostgresStore) query(ctx context.Context, op, sql string, args ...any) ([]*models.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, s.wrap(err, op)
	}
	defer rows.Close()

	recs := []*models.Record{}
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, s.wrap(err, op)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(err, op)
	}
	return recs, nil
}

// wrap classifies server-reported errors as plain failures and everything
// else (dial, timeout, closed pool) as connectivity failures.
func (s *PostgresStore) wrap(err error, op string, kv ...any) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return goerr.Wrap(err, op, goerr.V("code", pgErr.Code))
	}
	return models.Connectivity(err, op, kv...)
}

func scanPgRecord(row pgx.Row) (*models.Record, error) {
	var (
		rec        models.Record
		memoryType string
		agentID    *string
		sessionID  *string
		metadata   string
	)
	err := row.Scan(
		&rec.ID, &rec.Content, &memoryType, &agentID, &sessionID, &metadata,
		&rec.Importance, &rec.Tags, &rec.Embedding, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.AccessCount, &rec.LastAccessed,
	)
	if err != nil {
		return nil, err
	}

	rec.MemoryType = models.MemoryType(memoryType)
	if agentID != nil {
		rec.AgentID = *agentID
	}
	if sessionID != nil {
		rec.SessionID = *sessionID
	}
	rec.Importance = models.ClampImportance(rec.Importance)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if rec.LastAccessed != nil {
		t := rec.LastAccessed.UTC()
		rec.LastAccessed = &t
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if rec.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	return &rec, nil
}

// pgQuery accumulates positional arguments and WHERE predicates.
type pgQuery struct {
	args  []any
	preds []string
}

func (b *pgQuery) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *pgQuery) where(pred string) { b.preds = append(b.preds, pred) }

func (b *pgQuery) conditions() string {
	if len(b.preds) == 0 {
		return "TRUE"
	}
	return strings.Join(b.preds, " AND ")
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
