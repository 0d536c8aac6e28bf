package api

import (
	"net/http"

	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
	"github.com/iammorganparry/clive/apps/usermemory/internal/store"
)

type HealthHandler struct {
	db       *store.DB
	svc      *memory.Service
	provider string
}

func NewHealthHandler(db *store.DB, svc *memory.Service, provider string) *HealthHandler {
	return &HealthHandler{db: db, svc: svc, provider: provider}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := models.HealthResponse{
		Status: "ok",
	}

	// Extraction is best-effort, so a disabled backend does not degrade health.
	if h.svc.ExtractionEnabled() {
		resp.Extraction = models.ServiceCheck{Status: "ok", Message: h.provider}
	} else {
		resp.Extraction = models.ServiceCheck{Status: "disabled"}
	}

	// Check DB
	count, err := h.db.MemoryCount(r.Context())
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.MemoryCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
