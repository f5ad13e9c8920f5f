package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/iammorganparry/agentmem/internal/api"
	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/logging"
	"github.com/iammorganparry/agentmem/internal/memory"
	"github.com/iammorganparry/agentmem/internal/models"
	"github.com/iammorganparry/agentmem/internal/store"
)

type testServer struct {
	*httptest.Server
	apiKey string
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	gt.NoError(t, err)
	return serve(t, sqlite, apiKey)
}

func serve(t *testing.T, st store.Store, apiKey string) *testServer {
	t.Helper()
	logger := logging.New("error", "console", io.Discard)
	mgr := memory.New(st, embedding.NewHashEmbedder(16), logger)
	srv := httptest.NewServer(api.NewRouter(mgr, apiKey, logger))
	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
	})
	return &testServer{Server: srv, apiKey: apiKey}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		gt.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	gt.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	gt.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		gt.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestMemoryLifecycle(t *testing.T) {
	s := newTestServer(t, "")

	var created models.WriteResponse
	status := s.do(t, http.MethodPost, "/memories", map[string]any{
		"content":     "the cat sat",
		"memory_type": "episodic",
		"agent_id":    "A",
		"metadata":    map[string]any{"turn": 1},
		"tags":        []string{"pets"},
	}, &created)
	gt.Equal(t, status, http.StatusCreated)
	gt.Equal(t, created.Status, "ok")
	gt.V(t, created.Memory).NotNil()
	id := created.Memory.ID

	var got models.Record
	gt.Equal(t, s.do(t, http.MethodGet, "/memories/"+id, nil, &got), http.StatusOK)
	gt.Equal(t, got.Content, "the cat sat")
	gt.Equal(t, got.Tags, []string{"pets"})

	var updated models.WriteResponse
	status = s.do(t, http.MethodPatch, "/memories/"+id, map[string]any{"content": "the cat ran", "importance": 9}, &updated)
	gt.Equal(t, status, http.StatusOK)
	gt.Equal(t, updated.Memory.Content, "the cat ran")
	gt.Equal(t, updated.Memory.Importance, 9.0)
	gt.True(t, updated.Memory.UpdatedAt.After(created.Memory.UpdatedAt))

	var found models.ListResponse
	gt.Equal(t, s.do(t, http.MethodPost, "/memories/search", map[string]any{"query": "cat"}, &found), http.StatusOK)
	gt.Equal(t, found.Count, 1)
	gt.Equal(t, found.Memories[0].AccessCount, 1)

	gt.Equal(t, s.do(t, http.MethodGet, "/memories/search?q=CAT&memory_type=episodic&limit=5", nil, &found), http.StatusOK)
	gt.Equal(t, found.Count, 1)

	var deleted models.DeleteResponse
	gt.Equal(t, s.do(t, http.MethodDelete, "/memories/"+id, nil, &deleted), http.StatusOK)
	gt.True(t, deleted.Deleted)
	gt.Equal(t, s.do(t, http.MethodDelete, "/memories/"+id, nil, nil), http.StatusNotFound)
	gt.Equal(t, s.do(t, http.MethodGet, "/memories/"+id, nil, nil), http.StatusNotFound)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, "")

	var e struct {
		Error string `json:"error"`
	}
	gt.Equal(t, s.do(t, http.MethodPost, "/memories", map[string]any{"content": "x", "memory_type": "dream"}, &e), http.StatusBadRequest)
	gt.Equal(t, s.do(t, http.MethodPost, "/memories", map[string]any{"content": "", "memory_type": "semantic"}, &e), http.StatusBadRequest)
	gt.Equal(t, s.do(t, http.MethodPost, "/memories", map[string]any{"content": "x", "memory_type": "semantic", "importance": 42}, &e), http.StatusBadRequest)
	gt.S(t, e.Error).Contains("importance")
	gt.Equal(t, s.do(t, http.MethodPost, "/memories/search", map[string]any{"query": " "}, &e), http.StatusBadRequest)
	gt.Equal(t, s.do(t, http.MethodGet, "/memories/search?q=x&limit=abc", nil, &e), http.StatusBadRequest)
	gt.Equal(t, s.do(t, http.MethodPatch, "/memories/missing", map[string]any{"importance": 3}, &e), http.StatusNotFound)
}

func TestAddDefaultsToEpisodic(t *testing.T) {
	s := newTestServer(t, "")

	var created models.WriteResponse
	gt.Equal(t, s.do(t, http.MethodPost, "/memories", map[string]any{"content": "untyped"}, &created), http.StatusCreated)
	gt.Equal(t, created.Memory.MemoryType, models.MemoryTypeEpisodic)
}

func TestEpisodicTimelineAndAgentRoutes(t *testing.T) {
	s := newTestServer(t, "")

	for _, body := range []map[string]any{
		{"content": "a1", "memory_type": "episodic"},
		{"content": "a2", "memory_type": "semantic"},
	} {
		gt.Equal(t, s.do(t, http.MethodPost, "/agents/A/memories", body, nil), http.StatusCreated)
	}
	gt.Equal(t, s.do(t, http.MethodPost, "/memories", map[string]any{"content": "b1", "memory_type": "episodic", "agent_id": "B"}, nil), http.StatusCreated)

	var list models.ListResponse
	gt.Equal(t, s.do(t, http.MethodPost, "/memories/episodic", map[string]any{"agent_id": "B"}, &list), http.StatusOK)
	gt.Equal(t, list.Count, 1)
	gt.Equal(t, list.Memories[0].Content, "b1")

	gt.Equal(t, s.do(t, http.MethodGet, "/agents/A/memories", nil, &list), http.StatusOK)
	gt.Equal(t, list.Count, 2)

	gt.Equal(t, s.do(t, http.MethodGet, "/agents/A/memories?memory_type=semantic", nil, &list), http.StatusOK)
	gt.Equal(t, list.Count, 1)
	gt.Equal(t, list.Memories[0].Content, "a2")

	gt.Equal(t, s.do(t, http.MethodPost, "/memories/timeline", map[string]any{"agent_id": "A"}, &list), http.StatusOK)
	gt.Equal(t, list.Count, 2)
	gt.False(t, list.Memories[1].CreatedAt.Before(list.Memories[0].CreatedAt))

	gt.Equal(t, s.do(t, http.MethodPost, "/memories/timeline", map[string]any{
		"start_time": "2030-01-01T00:00:00Z",
		"end_time":   "2020-01-01T00:00:00Z",
	}, nil), http.StatusBadRequest)
}

func TestHealthAndStats(t *testing.T) {
	s := newTestServer(t, "")
	gt.Equal(t, s.do(t, http.MethodPost, "/memories", map[string]any{"content": "x", "memory_type": "temporal"}, nil), http.StatusCreated)

	var health models.HealthResponse
	gt.Equal(t, s.do(t, http.MethodGet, "/health", nil, &health), http.StatusOK)
	gt.Equal(t, health.Status, "ok")
	gt.Equal(t, health.Backend, "sqlite")
	gt.Equal(t, health.Embedder, "hash")
	gt.Equal(t, health.Total, 1)

	var stats models.Stats
	gt.Equal(t, s.do(t, http.MethodGet, "/stats", nil, &stats), http.StatusOK)
	gt.Equal(t, stats.Total, 1)
	gt.Equal(t, stats.ByType[models.MemoryTypeTemporal], 1)
}

func TestBearerAuth(t *testing.T) {
	s := newTestServer(t, "secret")

	gt.Equal(t, s.do(t, http.MethodGet, "/stats", nil, nil), http.StatusOK)

	resp, err := http.Get(s.URL + "/stats")
	gt.NoError(t, err)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusUnauthorized)

	resp, err = http.Get(s.URL + "/health")
	gt.NoError(t, err)
	resp.Body.Close()
	gt.Equal(t, resp.StatusCode, http.StatusOK)
}

// downStore fails every operation as unreachable.
type downStore struct{ store.Store }

var errDown = models.Connectivity(errors.New("connection refused"), "store down")

func (downStore) Name() string { return "down" }
func (downStore) Close() error { return nil }
func (downStore) Save(context.Context, *models.Record) error {
	return errDown
}
func (downStore) Get(context.Context, string) (*models.Record, error) { return nil, errDown }
func (downStore) Search(context.Context, models.SearchQuery) ([]*models.Record, error) {
	return nil, errDown
}
func (downStore) Stats(context.Context) (*models.Stats, error) { return nil, errDown }

func TestStoreOutageStrictReadLenientWrite(t *testing.T) {
	s := serve(t, downStore{}, "")

	var created models.WriteResponse
	gt.Equal(t, s.do(t, http.MethodPost, "/memories", map[string]any{"content": "x", "memory_type": "semantic"}, &created), http.StatusAccepted)
	gt.Equal(t, created.Status, "failed")
	gt.A(t, created.Warnings).Length(1)
	gt.V(t, created.Memory).NotNil()

	gt.Equal(t, s.do(t, http.MethodGet, "/memories/"+created.Memory.ID, nil, nil), http.StatusServiceUnavailable)

	var patched models.WriteResponse
	status := s.do(t, http.MethodPatch, "/memories/"+created.Memory.ID, map[string]any{"importance": 7}, &patched)
	gt.Equal(t, status, http.StatusServiceUnavailable)
	gt.Equal(t, patched.Status, "failed")
	gt.A(t, patched.Warnings).Length(1)
	gt.V(t, patched.Memory).Nil()
	gt.Equal(t, s.do(t, http.MethodPost, "/memories/search", map[string]any{"query": "x"}, nil), http.StatusServiceUnavailable)

	var health models.HealthResponse
	gt.Equal(t, s.do(t, http.MethodGet, "/health", nil, &health), http.StatusServiceUnavailable)
	gt.Equal(t, health.Status, "degraded")
}
