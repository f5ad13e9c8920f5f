package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/agentmem/internal/memory"
	"github.com/iammorganparry/agentmem/internal/models"
)

type MemoryHandler struct {
	mgr *memory.Manager
}

func NewMemoryHandler(mgr *memory.Manager) *MemoryHandler {
	return &MemoryHandler{mgr: mgr}
}

func writeOutcome(w http.ResponseWriter, okStatus int, rec *models.Record, outcome memory.WriteOutcome) {
	status := okStatus
	if outcome.Status == memory.StatusFailed {
		status = http.StatusAccepted
	}
	writeJSON(w, status, models.WriteResponse{
		Memory:   rec,
		Status:   string(outcome.Status),
		Warnings: outcome.Warnings,
	})
}

func (h *MemoryHandler) add(w http.ResponseWriter, r *http.Request, req models.AddRequest) {
	if req.MemoryType == "" {
		req.MemoryType = models.DefaultMemoryType
	}
	rec, outcome, err := h.mgr.Add(r.Context(), memory.AddInput{
		Content:    req.Content,
		MemoryType: req.MemoryType,
		AgentID:    req.AgentID,
		SessionID:  req.SessionID,
		Metadata:   req.Metadata,
		Importance: req.Importance,
		Tags:       req.Tags,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeOutcome(w, http.StatusCreated, rec, outcome)
}

// Add handles POST /memories
func (h *MemoryHandler) Add(w http.ResponseWriter, r *http.Request) {
	var req models.AddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.add(w, r, req)
}

// AddForAgent handles POST /agents/{agentID}/memories
func (h *MemoryHandler) AddForAgent(w http.ResponseWriter, r *http.Request) {
	var req models.AddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.AgentID = chi.URLParam(r, "agentID")
	h.add(w, r, req)
}

// Search handles POST /memories/search
func (h *MemoryHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req models.SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.search(w, r, req)
}

// SearchQuery handles GET /memories/search?q=&memory_type=&limit=
func (h *MemoryHandler) SearchQuery(w http.ResponseWriter, r *http.Request) {
	memType, err := queryMemoryType(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	h.search(w, r, models.SearchRequest{
		Query:      r.URL.Query().Get("q"),
		MemoryType: memType,
		Limit:      limit,
	})
}

func (h *MemoryHandler) search(w http.ResponseWriter, r *http.Request, req models.SearchRequest) {
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	recs, err := h.mgr.Search(r.Context(), req.Query, req.MemoryType, req.Limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewListResponse(recs))
}

// Episodic handles POST /memories/episodic
func (h *MemoryHandler) Episodic(w http.ResponseWriter, r *http.Request) {
	var req models.EpisodicRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	recs, err := h.mgr.Episodic(r.Context(), req.AgentID, req.SessionID, req.Limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewListResponse(recs))
}

// Timeline handles POST /memories/timeline
func (h *MemoryHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	var req models.TimelineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	recs, err := h.mgr.Timeline(r.Context(), req.AgentID, req.StartTime, req.EndTime, req.Limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewListResponse(recs))
}

// ListAgent handles GET /agents/{agentID}/memories?memory_type=&limit=
func (h *MemoryHandler) ListAgent(w http.ResponseWriter, r *http.Request) {
	memType, err := queryMemoryType(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	recs, err := h.mgr.ListAgentMemories(r.Context(), chi.URLParam(r, "agentID"), memType, limit)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.NewListResponse(recs))
}

// Get handles GET /memories/{id}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.mgr.Get(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Update handles PATCH and PUT /memories/{id}
func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch models.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, outcome, err := h.mgr.Update(r.Context(), id, patch)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if rec == nil && outcome.Status == memory.StatusFailed {
		// The record could not be read, so whether it exists is unknown.
		writeJSON(w, http.StatusServiceUnavailable, models.WriteResponse{
			Status:   string(outcome.Status),
			Warnings: outcome.Warnings,
		})
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}

	writeOutcome(w, http.StatusOK, rec, outcome)
}

// Delete handles DELETE /memories/{id}
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.mgr.Delete(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "memory not found")
		return
	}

	writeJSON(w, http.StatusOK, models.DeleteResponse{ID: id, Deleted: true})
}

func queryMemoryType(r *http.Request) (*models.MemoryType, error) {
	raw := r.URL.Query().Get("memory_type")
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseMemoryType(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.Validation("limit must be an integer", "limit", raw)
	}
	return limit, nil
}
