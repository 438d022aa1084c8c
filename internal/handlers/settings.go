package handlers

import (
	"net/http"

	"mailoreply.ai/platform/internal/auth"
)

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	var patch auth.SettingsPatch
	if err := decode(r, &patch); err != nil {
		h.sendError(w, err)
		return
	}

	settings, err := h.accounts.UpdateSettings(r.Context(), claims.UserID, patch)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.logger.Info("Settings updated", "user_id", claims.UserID)
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Settings updated", Data: settings})
}
