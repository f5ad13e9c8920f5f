package embedding

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/iammorganparry/agentmem/internal/models"
)

const defaultOpenAIModel = "text-embedding-3-small"

// OpenAIEmbedder generates embeddings with the OpenAI embeddings API or
// any compatible endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, models.Configuration("openai embedder requires an api key")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
	}, nil
}

func (e *OpenAIEmbedder) Name() string   { return "openai:" + e.model }
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	}
	if e.dim > 0 {
		req.Dimensions = e.dim
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, models.Connectivity(err, "openai embed", "model", e.model)
	}
	var vec []float32
	if len(resp.Data) > 0 {
		vec = resp.Data[0].Embedding
	}
	if err := checkDimension(e.Name(), e.dim, vec); err != nil {
		return nil, err
	}
	return vec, nil
}
