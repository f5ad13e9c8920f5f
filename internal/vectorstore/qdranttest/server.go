// Package qdranttest provides an in-memory stand-in for the subset of the
// Qdrant REST API used by the vector backend.
package qdranttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/agentmem/internal/embedding"
	"github.com/iammorganparry/agentmem/internal/vectorstore"
)

type collection struct {
	size   int
	points map[string]vectorstore.Point
}

// Server is a fake Qdrant. Set Fail to make every request return 503.
type Server struct {
	*httptest.Server
	Fail atomic.Bool

	mu          sync.Mutex
	collections map[string]*collection
	requests    []string
}

// New starts a fake server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{collections: map[string]*collection{}}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			s.mu.Lock()
			s.requests = append(s.requests, req.Method+" "+req.URL.Path)
			s.mu.Unlock()
			if s.Fail.Load() {
				http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/collections/{name}", s.getCollection)
	r.Put("/collections/{name}", s.createCollection)
	r.Put("/collections/{name}/index", s.withCollection(func(w http.ResponseWriter, _ *http.Request, _ *collection) {
		writeResult(w, map[string]any{"status": "acknowledged"})
	}))
	r.Put("/collections/{name}/points", s.withCollection(s.upsert))
	r.Post("/collections/{name}/points", s.withCollection(s.retrieve))
	r.Post("/collections/{name}/points/search", s.withCollection(s.search))
	r.Post("/collections/{name}/points/scroll", s.withCollection(s.scroll))
	r.Post("/collections/{name}/points/count", s.withCollection(s.count))
	r.Post("/collections/{name}/points/delete", s.withCollection(s.delete))

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// PointCount returns how many points a collection holds.
func (s *Server) PointCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c, ok := s.collections[chi.URLParam(r, "name")]
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"status":{"error":"not found"}}`, http.StatusNotFound)
		return
	}
	writeResult(w, map[string]any{"config": map[string]any{"params": map[string]any{"vectors": map[string]any{"size": c.size}}}})
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vectors struct {
			Size     int    `json:"size"`
			Distance string `json:"distance"`
		} `json:"vectors"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Vectors.Size < 1 {
		http.Error(w, `{"status":{"error":"bad request"}}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.collections[chi.URLParam(r, "name")] = &collection{size: body.Vectors.Size, points: map[string]vectorstore.Point{}}
	s.mu.Unlock()
	writeResult(w, true)
}

func (s *Server) withCollection(h func(http.ResponseWriter, *http.Request, *collection)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		c, ok := s.collections[chi.URLParam(r, "name")]
		if !ok {
			http.Error(w, `{"status":{"error":"collection not found"}}`, http.StatusNotFound)
			return
		}
		h(w, r, c)
	}
}

func (s *Server) upsert(w http.ResponseWriter, r *http.Request, c *collection) {
	var body struct {
		Points []vectorstore.Point `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, p := range body.Points {
		if len(p.Vector) != c.size {
			http.Error(w, `{"status":{"error":"wrong vector dimension"}}`, http.StatusBadRequest)
			return
		}
	}
	for _, p := range body.Points {
		c.points[p.ID] = p
	}
	writeResult(w, map[string]any{"status": "completed"})
}

func (s *Server) retrieve(w http.ResponseWriter, r *http.Request, c *collection) {
	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out := []vectorstore.Point{}
	for _, id := range body.IDs {
		if p, ok := c.points[id]; ok {
			out = append(out, p)
		}
	}
	writeResult(w, out)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request, c *collection) {
	var body struct {
		Vector []float32            `json:"vector"`
		Limit  int                  `json:"limit"`
		Filter *vectorstore.Filter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	results := []vectorstore.SearchResult{}
	for _, p := range c.points {
		if !matches(p.Payload, body.Filter) {
			continue
		}
		score, err := embedding.Similarity(body.Vector, p.Vector)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		results = append(results, vectorstore.SearchResult{ID: p.ID, Score: score, Vector: p.Vector, Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if body.Limit > 0 && len(results) > body.Limit {
		results = results[:body.Limit]
	}
	writeResult(w, results)
}

func (s *Server) scroll(w http.ResponseWriter, r *http.Request, c *collection) {
	var body struct {
		Limit   int                  `json:"limit"`
		Filter  *vectorstore.Filter  `json:"filter"`
		OrderBy *vectorstore.OrderBy `json:"order_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	points := []vectorstore.Point{}
	for _, p := range c.points {
		if matches(p.Payload, body.Filter) {
			points = append(points, p)
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if body.OrderBy == nil {
			return points[i].ID < points[j].ID
		}
		a, b := number(points[i].Payload[body.OrderBy.Key]), number(points[j].Payload[body.OrderBy.Key])
		if body.OrderBy.Direction == "desc" {
			return a > b
		}
		return a < b
	})
	if body.Limit > 0 && len(points) > body.Limit {
		points = points[:body.Limit]
	}
	writeResult(w, map[string]any{"points": points, "next_page_offset": nil})
}

func (s *Server) count(w http.ResponseWriter, r *http.Request, c *collection) {
	var body struct {
		Filter *vectorstore.Filter `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := 0
	for _, p := range c.points {
		if matches(p.Payload, body.Filter) {
			n++
		}
	}
	writeResult(w, map[string]any{"count": n})
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, c *collection) {
	var body struct {
		Points []string `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, id := range body.Points {
		delete(c.points, id)
	}
	writeResult(w, map[string]any{"status": "completed"})
}

func matches(payload map[string]any, f *vectorstore.Filter) bool {
	if f == nil {
		return true
	}
	for _, cond := range f.Must {
		v, ok := payload[cond.Key]
		if !ok {
			return false
		}
		if cond.Match != nil && fmt.Sprint(v) != fmt.Sprint(cond.Match.Value) {
			return false
		}
		if cond.Range != nil {
			n := number(v)
			if cond.Range.Gte != nil && n < *cond.Range.Gte {
				return false
			}
			if cond.Range.Lte != nil && n > *cond.Range.Lte {
				return false
			}
		}
	}
	return true
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}
