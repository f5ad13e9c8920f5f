package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/iammorganparry/agentmem/internal/models"
)

// QdrantClient interfaces with the Qdrant REST API for vector operations.
type QdrantClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dimension  int
}

// NewQdrantClient builds a client whose requests never outlive timeout.
func NewQdrantClient(baseURL, apiKey string, dimension int, timeout time.Duration) *QdrantClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QdrantClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		dimension: dimension,
	}
}

func (c *QdrantClient) Dimension() int { return c.dimension }

// Point represents a vector point in Qdrant.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SearchResult is a single scored result from Qdrant.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Filter is a payload filter. Every Must condition has to hold.
type Filter struct {
	Must []Condition `json:"must,omitempty"`
}

// Condition matches one payload key by exact value or numeric range.
type Condition struct {
	Key   string `json:"key"`
	Match *Match `json:"match,omitempty"`
	Range *Range `json:"range,omitempty"`
}

type Match struct {
	Value any `json:"value"`
}

type Range struct {
	Gte *float64 `json:"gte,omitempty"`
	Lte *float64 `json:"lte,omitempty"`
}

// MatchValue is shorthand for an exact-match condition.
func MatchValue(key string, value any) Condition {
	return Condition{Key: key, Match: &Match{Value: value}}
}

// Between is shorthand for an inclusive numeric range condition.
func Between(key string, gte, lte float64) Condition {
	return Condition{Key: key, Range: &Range{Gte: &gte, Lte: &lte}}
}

// OrderBy sorts scroll results by a numeric payload key.
type OrderBy struct {
	Key       string `json:"key"`
	Direction string `json:"direction"` // asc or desc
}

// HealthCheck verifies Qdrant connectivity.
func (c *QdrantClient) HealthCheck(ctx context.Context) error {
	_, status, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return models.Connectivity(fmt.Errorf("status %d", status), "qdrant health check")
	}
	return nil
}

// CollectionExists checks if a collection exists.
func (c *QdrantClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, status, err := c.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(name), nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

// EnsureCollection creates a cosine collection if it doesn't exist, plus
// payload indexes for the given keyword and integer keys.
func (c *QdrantClient) EnsureCollection(ctx context.Context, name string, keywordKeys, integerKeys []string) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     c.dimension,
			"distance": "Cosine",
		},
	}
	if _, err := c.call(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body); err != nil {
		return err
	}

	for _, key := range keywordKeys {
		if err := c.createIndex(ctx, name, key, "keyword"); err != nil {
			return err
		}
	}
	for _, key := range integerKeys {
		if err := c.createIndex(ctx, name, key, "integer"); err != nil {
			return err
		}
	}
	return nil
}

func (c *QdrantClient) createIndex(ctx context.Context, collection, field, schema string) error {
	body := map[string]any{
		"field_name":   field,
		"field_schema": schema,
	}
	_, err := c.call(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/index?wait=true", body)
	return err
}

// Upsert inserts or updates points and waits until they are applied.
func (c *QdrantClient) Upsert(ctx context.Context, collection string, points []Point) error {
	for _, p := range points {
		if len(p.Vector) != c.dimension {
			return models.Configuration("vector length does not match collection dimension",
				"id", p.ID, "want", c.dimension, "got", len(p.Vector))
		}
	}
	body := map[string]any{
		"points": points,
	}
	_, err := c.call(ctx, http.MethodPut, "/collections/"+url.PathEscape(collection)+"/points?wait=true", body)
	return err
}

// Retrieve fetches points by id. Missing ids are simply absent from the result.
func (c *QdrantClient) Retrieve(ctx context.Context, collection string, ids []string) ([]Point, error) {
	body := map[string]any{
		"ids":          ids,
		"with_payload": true,
		"with_vector":  true,
	}
	respBody, err := c.call(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []Point `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, goerr.Wrap(err, "decode retrieve response")
	}
	return resp.Result, nil
}

// Search finds the nearest vectors in a collection.
func (c *QdrantClient) Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]SearchResult, error) {
	if len(vector) != c.dimension {
		return nil, models.Configuration("query vector length does not match collection dimension",
			"want", c.dimension, "got", len(vector))
	}
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if filter != nil && len(filter.Must) > 0 {
		body["filter"] = filter
	}

	respBody, err := c.call(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/search", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result []SearchResult `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, goerr.Wrap(err, "decode search response")
	}
	return resp.Result, nil
}

// Scroll lists points matching filter, ordered by orderBy when given.
func (c *QdrantClient) Scroll(ctx context.Context, collection string, filter *Filter, orderBy *OrderBy, limit int) ([]Point, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if filter != nil && len(filter.Must) > 0 {
		body["filter"] = filter
	}
	if orderBy != nil {
		body["order_by"] = orderBy
	}

	respBody, err := c.call(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/scroll", body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			Points []Point `json:"points"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, goerr.Wrap(err, "decode scroll response")
	}
	return resp.Result.Points, nil
}

// Count returns the exact number of points matching filter.
func (c *QdrantClient) Count(ctx context.Context, collection string, filter *Filter) (int, error) {
	body := map[string]any{"exact": true}
	if filter != nil && len(filter.Must) > 0 {
		body["filter"] = filter
	}
	respBody, err := c.call(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/count", body)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, goerr.Wrap(err, "decode count response")
	}
	return resp.Result.Count, nil
}

// DeletePoints removes points by their IDs from a collection.
func (c *QdrantClient) DeletePoints(ctx context.Context, collection string, ids []string) error {
	body := map[string]any{
		"points": ids,
	}
	_, err := c.call(ctx, http.MethodPost, "/collections/"+url.PathEscape(collection)+"/points/delete?wait=true", body)
	return err
}

// call performs a request and treats any status >= 400 as a failure.
func (c *QdrantClient) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	respBody, status, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, models.Connectivity(
			fmt.Errorf("status %d: %s", status, strings.TrimSpace(string(respBody))),
			"qdrant request failed", "method", method, "path", path)
	}
	return respBody, nil
}

func (c *QdrantClient) do(ctx context.Context, method, path string, body any) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, goerr.Wrap(err, "marshal request", goerr.V("path", path))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, models.Configuration("invalid qdrant url", "url", c.baseURL)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, models.Connectivity(err, "qdrant request", "method", method, "path", path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, models.Connectivity(err, "read qdrant response", "path", path)
	}
	return respBody, resp.StatusCode, nil
}
