package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *Handler) GetPressure(w http.ResponseWriter, r *http.Request) {
	snap, err := h.pressure.Snapshot(r.Context())
	if err != nil {
		h.logger.Warn("Pressure snapshot unavailable", "error", err)
		h.sendJSON(w, http.StatusServiceUnavailable, Response{Success: false, Error: "Pressure data is not available yet"})
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: snap})
}

func (h *Handler) GetPressureAlerts(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: h.pressure.Alerts()})
}

func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	id := mux.Vars(r)["id"]
	if !h.pressure.Acknowledge(id) {
		h.sendJSON(w, http.StatusNotFound, Response{Success: false, Error: "Alert not found"})
		return
	}
	h.logger.Info("Alert acknowledged", "alert_id", id, "by", claims.UserID)
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Alert acknowledged"})
}
