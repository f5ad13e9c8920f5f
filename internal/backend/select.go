// Package backend resolves which Store implementation to use and builds it.
package backend

import (
	"strings"
	"time"

	"github.com/iammorganparry/agentmem/internal/models"
)

// Kind names a concrete Store implementation.
type Kind string

const (
	KindSQLite   Kind = "sqlite"
	KindQdrant   Kind = "qdrant"
	KindPostgres Kind = "postgres"
	KindChromem  Kind = "chromem"
)

func (k Kind) String() string { return string(k) }

var aliases = map[string]Kind{
	"sqlite":     KindSQLite,
	"sqlite3":    KindSQLite,
	"embedded":   KindSQLite,
	"qdrant":     KindQdrant,
	"vector":     KindQdrant,
	"postgres":   KindPostgres,
	"postgresql": KindPostgres,
	"pg":         KindPostgres,
	"fulltext":   KindPostgres,
	"chromem":    KindChromem,
	"memory":     KindChromem,
}

// Settings is everything the selector looks at.
type Settings struct {
	// Explicit is the caller's backend choice. Empty means auto-detect.
	Explicit         string
	SQLitePath       string
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	PostgresURL      string
	Timeout          time.Duration
}

// Select resolves the backend kind. An explicit choice wins. Otherwise a
// single set of managed-backend credentials picks that backend, and with
// none the embedded sqlite store is used. Credentials for both managed
// backends without an explicit choice are rejected rather than guessed.
func Select(s Settings) (Kind, error) {
	qdrant := strings.TrimSpace(s.QdrantURL) != ""
	postgres := strings.TrimSpace(s.PostgresURL) != ""

	if name := strings.ToLower(strings.TrimSpace(s.Explicit)); name != "" {
		kind, ok := aliases[name]
		if !ok {
			return "", models.Configuration("unknown memory backend", "backend", s.Explicit)
		}
		switch {
		case kind == KindQdrant && !qdrant:
			return "", models.Configuration("qdrant backend requires QDRANT_URL")
		case kind == KindPostgres && !postgres:
			return "", models.Configuration("postgres backend requires POSTGRES_URL")
		}
		return kind, nil
	}

	switch {
	case qdrant && postgres:
		return "", models.Configuration(
			"both QDRANT_URL and POSTGRES_URL are set; choose one with MEMORY_BACKEND")
	case qdrant:
		return KindQdrant, nil
	case postgres:
		return KindPostgres, nil
	default:
		return KindSQLite, nil
	}
}
