package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

type MemoryHandler struct {
	svc          *memory.Service
	contextLimit int
}

func NewMemoryHandler(svc *memory.Service, contextLimit int) *MemoryHandler {
	if contextLimit <= 0 {
		contextLimit = memory.DefaultRankLimit
	}
	return &MemoryHandler{svc: svc, contextLimit: contextLimit}
}

// List handles GET /memories
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	req := &models.ListRequest{
		UserID:   GetUserID(r),
		Search:   strings.TrimSpace(q.Get("search")),
		Page:     page,
		PageSize: pageSize,
	}

	if c := q.Get("category"); c != "" {
		cat := models.Category(strings.ToLower(c))
		if !cat.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid category")
			return
		}
		req.Category = cat
	}
	if t := q.Get("tags"); t != "" {
		req.Tags = strings.Split(t, ",")
	}
	if a := q.Get("isActive"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			writeError(w, http.StatusBadRequest, "isActive must be true or false")
			return
		}
		req.IsActive = &active
	}

	resp, err := h.svc.ListMemories(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Create handles POST /memories
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateMemoryRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mem, err := h.svc.CreateMemory(r.Context(), GetUserID(r), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, mem)
}

// Get handles GET /memories/{id}
func (h *MemoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	mem, err := h.svc.GetMemory(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mem)
}

// Update handles PATCH /memories/{id}
func (h *MemoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateMemoryRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mem, err := h.svc.UpdateMemory(r.Context(), GetUserID(r), chi.URLParam(r, "id"), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mem)
}

// Verify handles POST /memories/{id}/verify
func (h *MemoryHandler) Verify(w http.ResponseWriter, r *http.Request) {
	mem, err := h.svc.VerifyMemory(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mem)
}

// ToggleActive handles POST /memories/{id}/toggle-active
func (h *MemoryHandler) ToggleActive(w http.ResponseWriter, r *http.Request) {
	mem, err := h.svc.ToggleActive(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"memory":  mem,
		"message": fmt.Sprintf("Memory %s", activeWord(mem.IsActive)),
	})
}

func activeWord(active bool) string {
	if active {
		return "activated"
	}
	return "deactivated"
}

// Context handles POST /memories/context
func (h *MemoryHandler) Context(w http.ResponseWriter, r *http.Request) {
	var req models.ContextRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit == 0 {
		req.Limit = h.contextLimit
	}

	resp, err := h.svc.BuildContext(r.Context(), GetUserID(r), req.Message, req.Limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Recent handles GET /memories/recent
func (h *MemoryHandler) Recent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var category models.Category
	if c := q.Get("category"); c != "" {
		category = models.Category(strings.ToLower(c))
		if !category.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid category")
			return
		}
	}

	memories, err := h.svc.RecentMemories(r.Context(), GetUserID(r), category, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"memories": memories,
		"context":  memory.FormatContext(memories),
	})
}

// Stats handles GET /memories/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), GetUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
