package handlers

import (
	"net/http"

	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/generation"
	"mailoreply.ai/platform/internal/models"
)

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	var req models.GenerationRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	res := h.generator.Run(r.Context(), generation.Caller{UserID: claims.UserID, Role: claims.Role}, req)

	data := map[string]interface{}{
		"state":    res.State,
		"response": res.Response,
	}
	if res.State == generation.StateRecordedSuccess || res.State == generation.StateRecordedFailure {
		if stats, err := h.usage.GetUsageStats(r.Context(), claims.UserID); err == nil {
			data["usage"] = stats
		}
	}

	if res.Err != nil {
		h.sendJSON(w, apperr.HTTPStatus(res.Err), Response{
			Success: false,
			Error:   apperr.Message(res.Err),
			Data:    data,
		})
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: data})
}
