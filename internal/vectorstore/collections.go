package vectorstore

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// CollectionManager creates Qdrant collections on first use and remembers
// which ones are known to exist. Only the creation path takes the write
// lock; steady-state lookups share a read lock.
type CollectionManager struct {
	client      *QdrantClient
	keywordKeys []string
	integerKeys []string
	known       map[string]bool
	mu          sync.RWMutex
}

// NewCollectionManager ensures collections with payload indexes on the
// given keyword and integer keys.
func NewCollectionManager(client *QdrantClient, keywordKeys, integerKeys []string) *CollectionManager {
	return &CollectionManager{
		client:      client,
		keywordKeys: keywordKeys,
		integerKeys: integerKeys,
		known:       make(map[string]bool),
	}
}

// Ensure creates the named collection if it doesn't already exist.
func (m *CollectionManager) Ensure(ctx context.Context, name string) error {
	m.mu.RLock()
	if m.known[name] {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if m.known[name] {
		return nil
	}

	if err := m.client.EnsureCollection(ctx, name, m.keywordKeys, m.integerKeys); err != nil {
		return goerr.Wrap(err, "ensure collection", goerr.V("collection", name))
	}

	m.known[name] = true
	return nil
}

