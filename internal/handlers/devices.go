package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"mailoreply.ai/platform/internal/fingerprint"
)

type DeviceRequest struct {
	Fingerprint string  `json:"device_fingerprint"`
	Name        *string `json:"device_name,omitempty"`
}

// deviceFingerprint prefers the body and falls back to one derived from the
// request headers.
func deviceFingerprint(r *http.Request, req DeviceRequest) string {
	if req.Fingerprint != "" {
		return req.Fingerprint
	}
	if fp := r.Header.Get("X-Device-Fingerprint"); fp != "" {
		return fp
	}
	env := fingerprint.FromRequest(r)
	if env.UserAgent == "" {
		return ""
	}
	return fingerprint.Compute(env)
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	var req DeviceRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	device, created, err := h.usage.RegisterDevice(r.Context(), claims.UserID, deviceFingerprint(r, req), req.Name)
	if err != nil {
		h.sendError(w, err)
		return
	}

	status := http.StatusOK
	msg := "Device updated"
	if created {
		status = http.StatusCreated
		msg = "Device registered"
	}
	h.sendJSON(w, status, Response{Success: true, Message: msg, Data: device})
}

func (h *Handler) GetDevices(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	devices, err := h.usage.ListDevices(r.Context(), claims.UserID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: devices})
}

func (h *Handler) DeviceHeartbeat(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	var req DeviceRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	fp := deviceFingerprint(r, req)
	if fp == "" {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Device fingerprint is required"})
		return
	}

	if err := h.usage.TouchDevice(r.Context(), claims.UserID, fp); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true})
}

func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.usage.RemoveDevice(r.Context(), claims.UserID, id); err != nil {
		h.sendError(w, err)
		return
	}

	h.logger.Info("Device removed", "user_id", claims.UserID, "device_id", id)
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Device removed"})
}

func (h *Handler) ExtensionLimits(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	limits, err := h.usage.ExtensionLimits(r.Context(), claims.UserID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: limits})
}

// ValidateExtension checks that the extension may run on this device. An
// allowed device is registered (or refreshed) on the way out.
func (h *Handler) ValidateExtension(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	var req DeviceRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	fp := deviceFingerprint(r, req)

	allowed, err := h.usage.ValidateExtensionAccess(r.Context(), claims.UserID, fp)
	if err != nil {
		h.sendError(w, err)
		return
	}
	if !allowed {
		h.sendJSON(w, http.StatusForbidden, Response{Success: false, Error: "Device limit reached or account inactive"})
		return
	}

	if _, _, err := h.usage.RegisterDevice(r.Context(), claims.UserID, fp, req.Name); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Extension access granted", Data: map[string]bool{"valid": true}})
}
