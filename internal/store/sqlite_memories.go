package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/iammorganparry/agentmem/internal/models"
)

// memoryColumns is the canonical column list for all SELECT queries.
// Order must match scanRecord.
const memoryColumns = `id, content, memory_type, agent_id, session_id, metadata,
	importance, tags, embedding, created_at, updated_at, access_count, last_accessed`

// SQLiteStore is the embedded backend. Search is a case-insensitive
// substring match ranked by recency.
type SQLiteStore struct {
	db *DB
	// writeMu serializes writers on the file so read-modify-write
	// updates cannot interleave.
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(ctx context.Context, rec *models.Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return models.Validation("metadata is not serializable", "id", rec.ID)
	}

	var lastAccessed *int64
	if rec.LastAccessed != nil {
		us := toMicros(*rec.LastAccessed)
		lastAccessed = &us
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			memory_type = excluded.memory_type,
			agent_id = excluded.agent_id,
			session_id = excluded.session_id,
			metadata = excluded.metadata,
			importance = excluded.importance,
			tags = excluded.tags,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at,
			access_count = excluded.access_count,
			last_accessed = excluded.last_accessed
	`,
		rec.ID, rec.Content, string(rec.MemoryType), nullString(rec.AgentID), nullString(rec.SessionID),
		metadata, models.ClampImportance(rec.Importance), encodeTags(rec.Tags), Float32ToBytes(rec.Embedding),
		toMicros(rec.CreatedAt), toMicros(rec.UpdatedAt), rec.AccessCount, lastAccessed,
	)
	if err != nil {
		return models.Connectivity(err, "sqlite save", "id", rec.ID)
	}
	return nil
}

// Get retrieves a record by ID. Returns nil, nil if not found.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return s.getOne(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getOne(ctx context.Context, q queryRower, id string) (*models.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.Connectivity(err, "sqlite get", "id", id)
	}
	return rec, nil
}

// Update applies the patch inside a transaction so concurrent updates to the
// same row are serialized.
func (s *SQLiteStore) Update(ctx context.Context, id string, patch *models.Patch) (*models.Record, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if patch == nil {
		patch = &models.Patch{}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, models.Connectivity(err, "sqlite begin", "id", id)
	}
	defer tx.Rollback()

	rec, err := s.getOne(ctx, tx, id)
	if err != nil || rec == nil {
		return nil, err
	}

	rec.Apply(patch, time.Now())
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return nil, models.Validation("metadata is not serializable", "id", id)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memories SET content = ?, memory_type = ?, metadata = ?, importance = ?,
			tags = ?, embedding = ?, updated_at = ?
		WHERE id = ?
	`,
		rec.Content, string(rec.MemoryType), metadata, rec.Importance,
		encodeTags(rec.Tags), Float32ToBytes(rec.Embedding), toMicros(rec.UpdatedAt), id,
	)
	if err != nil {
		return nil, models.Connectivity(err, "sqlite update", "id", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, models.Connectivity(err, "sqlite commit", "id", id)
	}
	return rec, nil
}

// Delete removes a record by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, models.Connectivity(err, "sqlite delete", "id", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, models.Connectivity(err, "sqlite delete", "id", id)
	}
	return n > 0, nil
}

// Search matches query text anywhere in content, ignoring case with
// unicode folding.
func (s *SQLiteStore) Search(ctx context.Context, q models.SearchQuery) ([]*models.Record, error) {
	conditions := []string{"instr(fold(content), fold(?)) > 0"}
	args := []any{q.Text}
	if q.Type != nil {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, string(*q.Type))
	}
	args = append(args, normalizeLimit(q.Limit))

	return s.query(ctx, "sqlite search", `
		SELECT `+memoryColumns+` FROM memories
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, args...)
}

func (s *SQLiteStore) ListByScope(ctx context.Context, q models.ScopeQuery) ([]*models.Record, error) {
	conditions := []string{"1=1"}
	var args []any
	if q.Type != nil {
		conditions = append(conditions, "memory_type = ?")
		args = append(args, string(*q.Type))
	}
	if q.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	if q.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, q.SessionID)
	}
	args = append(args, normalizeLimit(q.Limit))

	return s.query(ctx, "sqlite list by scope", `
		SELECT `+memoryColumns+` FROM memories
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, args...)
}

func (s *SQLiteStore) ListByTimeRange(ctx context.Context, q models.TimeRangeQuery) ([]*models.Record, error) {
	conditions := []string{"created_at >= ?", "created_at <= ?"}
	args := []any{toMicros(q.Start), toMicros(q.End)}
	if q.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, q.AgentID)
	}
	args = append(args, normalizeLimit(q.Limit))

	return s.query(ctx, "sqlite list by time range", `
		SELECT `+memoryColumns+` FROM memories
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, args...)
}

// RecordAccess increments access_count and sets last_accessed.
func (s *SQLiteStore) RecordAccess(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{toMicros(at)}
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed = ?
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return models.Connectivity(err, "sqlite record access", "count", len(ids))
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*models.Stats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT memory_type, COUNT(*) FROM memories GROUP BY memory_type`)
	if err != nil {
		return nil, models.Connectivity(err, "sqlite stats")
	}
	defer rows.Close()

	stats := models.NewStats(s.Name())
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, models.Connectivity(err, "sqlite stats")
		}
		stats.ByType[models.MemoryType(t)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, models.Connectivity(err, "sqlite stats")
	}
	return stats, nil
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, models.Connectivity(err, op)
	}
	defer rows.Close()

	recs := []*models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to scan memory row", goerr.V("op", op))
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, models.Connectivity(err, op)
	}
	return recs, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*models.Record, error) {
	var (
		rec          models.Record
		memoryType   string
		agentID      sql.NullString
		sessionID    sql.NullString
		metadata     sql.NullString
		tags         sql.NullString
		embedding    []byte
		createdAt    int64
		updatedAt    int64
		lastAccessed sql.NullInt64
	)
	err := sc.Scan(
		&rec.ID, &rec.Content, &memoryType, &agentID, &sessionID, &metadata,
		&rec.Importance, &tags, &embedding, &createdAt, &updatedAt, &rec.AccessCount, &lastAccessed,
	)
	if err != nil {
		return nil, err
	}

	rec.MemoryType = models.MemoryType(memoryType)
	rec.AgentID = agentID.String
	rec.SessionID = sessionID.String
	rec.Importance = models.ClampImportance(rec.Importance)
	rec.Embedding = BytesToFloat32(embedding)
	rec.CreatedAt = fromMicros(createdAt)
	rec.UpdatedAt = fromMicros(updatedAt)
	if lastAccessed.Valid {
		t := fromMicros(lastAccessed.Int64)
		rec.LastAccessed = &t
	}
	if rec.Metadata, err = decodeMetadata(metadata.String); err != nil {
		return nil, err
	}
	if rec.Tags, err = decodeTags(tags.String); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
