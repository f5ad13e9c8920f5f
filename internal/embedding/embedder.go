package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"strings"

	"github.com/iammorganparry/agentmem/internal/models"
)

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimension is the length of every vector this embedder returns.
	Dimension() int
	Name() string
}

const DefaultDimension = 384

// Config selects and parameterises an embedder.
type Config struct {
	Provider  string // hash, ollama, openai
	Dimension int
	Model     string
	BaseURL   string
	APIKey    string
	CacheSize int64
}

// New builds the embedder named by cfg.Provider, wrapped in a cache when
// cfg.CacheSize is positive.
func New(cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", "hash":
		e = NewHashEmbedder(cfg.Dimension)
	case "ollama":
		e, err = NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Dimension)
	case "openai":
		e, err = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Dimension)
	default:
		return nil, models.Configuration("unsupported embedding provider", "provider", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(e, cfg.CacheSize)
	}
	return e, nil
}

// Similarity is the cosine similarity of a and b. Vectors of different
// length are a configuration error. A zero vector scores 0.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, models.Configuration("embedding length mismatch", "left", len(a), "right", len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	return math.Max(-1, math.Min(1, dot/denom)), nil
}

// ContentHash computes a SHA-256 hash of text content.
func ContentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", h)
}

// checkDimension verifies a provider returned the configured length.
func checkDimension(name string, want int, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%s returned no embeddings", name)
	}
	if want > 0 && len(vec) != want {
		return models.Configuration("embedding dimension does not match configuration",
			"embedder", name, "want", want, "got", len(vec))
	}
	return nil
}
