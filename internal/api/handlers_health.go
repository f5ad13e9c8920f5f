package api

import (
	"net/http"

	"github.com/iammorganparry/agentmem/internal/memory"
	"github.com/iammorganparry/agentmem/internal/models"
)

type HealthHandler struct {
	mgr *memory.Manager
}

func NewHealthHandler(mgr *memory.Manager) *HealthHandler {
	return &HealthHandler{mgr: mgr}
}

// Health handles GET /health. A store that cannot answer a count makes the
// service degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status:   "ok",
		Backend:  h.mgr.Backend(),
		Embedder: h.mgr.Embedder(),
	}

	stats, err := h.mgr.Stats(r.Context())
	if err != nil {
		resp.Store = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.Store = models.ServiceCheck{Status: "ok"}
		resp.Total = stats.Total
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Stats handles GET /stats
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.mgr.Stats(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
