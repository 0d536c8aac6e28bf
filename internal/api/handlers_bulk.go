package api

import (
	"net/http"

	"github.com/samber/lo"

	"github.com/iammorganparry/clive/apps/usermemory/internal/memory"
	"github.com/iammorganparry/clive/apps/usermemory/internal/models"
)

type BulkHandler struct {
	svc *memory.Service
}

func NewBulkHandler(svc *memory.Service) *BulkHandler {
	return &BulkHandler{svc: svc}
}

// Ingest handles POST /memories/ingest
func (h *BulkHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := decodeAndValidate(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	src := memory.Provenance{UserID: GetUserID(r), ChatID: req.ChatID, ExchangeID: req.ExchangeID}
	facts := lo.Map(req.Candidates, func(c models.IngestCandidate, _ int) models.FactCandidate { return c.ToFact() })
	result := h.svc.IngestCandidates(r.Context(), src, facts)

	writeJSON(w, http.StatusOK, models.IngestResponse{
		Memories:  result.Memories,
		Created:   result.Created,
		Updated:   result.Updated,
		Unchanged: result.Unchanged,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
	})
}
