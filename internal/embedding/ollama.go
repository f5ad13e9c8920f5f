package embedding

import (
	"context"
	"net/http"
	"net/url"
	"time"

	ollama "github.com/ollama/ollama/api"

	"github.com/iammorganparry/agentmem/internal/models"
)

const defaultOllamaModel = "nomic-embed-text"

// OllamaEmbedder generates text embeddings via a local Ollama server.
type OllamaEmbedder struct {
	client *ollama.Client
	model  string
	dim    int
}

func NewOllamaEmbedder(baseURL, model string, dim int) (*OllamaEmbedder, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, models.Configuration("invalid ollama url", "url", baseURL)
	}
	if model == "" {
		model = defaultOllamaModel
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	return &OllamaEmbedder{
		client: ollama.NewClient(u, httpClient),
		model:  model,
		dim:    dim,
	}, nil
}

func (e *OllamaEmbedder) Name() string   { return "ollama:" + e.model }
func (e *OllamaEmbedder) Dimension() int { return e.dim }

// Embed generates an embedding vector for the given text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: text,
	})
	if err != nil {
		return nil, models.Connectivity(err, "ollama embed", "model", e.model)
	}
	var vec []float32
	if res != nil && len(res.Embeddings) > 0 {
		vec = res.Embeddings[0]
	}
	if err := checkDimension(e.Name(), e.dim, vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// HealthCheck verifies Ollama is reachable.
func (e *OllamaEmbedder) HealthCheck(ctx context.Context) error {
	if err := e.client.Heartbeat(ctx); err != nil {
		return models.Connectivity(err, "ollama health check")
	}
	return nil
}
