package api

import (
	"net/http"

	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
)

type TagHandler struct {
	svc *memory.Service
}

func NewTagHandler(svc *memory.Service) *TagHandler {
	return &TagHandler{svc: svc}
}

// List handles GET /memory-tags
func (h *TagHandler) List(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.ListTags(r.Context(), GetUserID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tags)
}
