package backend

import (
	"context"
	"log/slog"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/logging"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
	"github.com/iammorganparry/agentmem/internal/vectorstore"
)

const (
	defaultSQLitePath       = "agent_memory.db"
	defaultQdrantCollection = "agent_memory"
)

// Open selects a backend from s and constructs it. Selection errors are
// returned before any connection is attempted.
func Open(ctx context.Context, s Settings, embedder embedding.Embedder) (store.Store, error) {
	kind, err := Select(s)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, models.Configuration("embedder must not be nil")
	}

	logging.From(ctx).Info("opening memory store",
		slog.String("backend", kind.String()),
		slog.String("embedder", embedder.Name()),
	)

	switch kind {
	case KindQdrant:
		collection := s.QdrantCollection
		if collection == "" {
			collection = defaultQdrantCollection
		}
		client := vectorstore.NewQdrantClient(s.QdrantURL, s.QdrantAPIKey, embedder.Dimension(), s.Timeout)
		return store.NewQdrantStore(client, collection, embedder)
	case KindPostgres:
		return store.NewPostgresStore(ctx, s.PostgresURL, s.Timeout)
	case KindChromem:
		return store.NewChromemStore(embedder)
	default:
		path := s.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		return store.NewSQLiteStore(path)
	}
}
