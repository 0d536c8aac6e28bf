package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

type ChatHandler struct {
	svc               *memory.Service
	extractOnExchange bool
}

func NewChatHandler(svc *memory.Service, extractOnExchange bool) *ChatHandler {
	return &ChatHandler{svc: svc, extractOnExchange: extractOnExchange}
}

// Create handles POST /chats
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateChatRequest
	if err := decodeAndValidate(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.svc.CreateChat(r.Context(), GetUserID(r), req.Title)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, chat)
}

// Get handles GET /chats/{id}
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	chat, err := h.svc.GetChat(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Delete handles DELETE /chats/{id}
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteChat(r.Context(), GetUserID(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AppendExchange handles POST /chats/{id}/exchanges
func (h *ChatHandler) AppendExchange(w http.ResponseWriter, r *http.Request) {
	var req models.AppendExchangeRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ex, outcome, err := h.svc.AppendExchange(r.Context(), GetUserID(r), chi.URLParam(r, "id"), req.Messages, h.extractOnExchange)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := models.AppendExchangeResponse{Exchange: ex}
	if outcome != nil {
		resp.Extraction = outcome.Summary()
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ExtractMemories handles POST /chats/{id}/extract-memories. The body is optional;
// without an exchangeId the chat's recent history is used.
func (h *ChatHandler) ExtractMemories(w http.ResponseWriter, r *http.Request) {
	var req models.ExtractRequest
	if err := decodeAndValidate(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.svc.GetChat(r.Context(), GetUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	outcome := h.svc.ExtractMemories(r.Context(), chat, req.ExchangeID)
	writeJSON(w, http.StatusOK, outcome.Summary())
}
