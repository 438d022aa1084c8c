package handlers

import (
	"net/http"

	"mailoreply.ai/platform/internal/models"
)

// GetMe returns the profile, settings and current usage in one call so the
// dashboard renders from a single request.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	profile := h.accounts.Profile(r.Context(), claims)
	data := map[string]interface{}{
		"user":     profile.User,
		"settings": profile.Settings,
		"fallback": profile.Fallback,
	}

	if stats, err := h.usage.GetUsageStats(r.Context(), claims.UserID); err == nil {
		data["usage"] = stats
	} else {
		data["usage"] = models.NewUsageStats(profile.User, 0)
	}

	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	stats, err := h.usage.GetUsageStats(r.Context(), claims.UserID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: stats})
}

func (h *Handler) GetUsageBreakdown(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	breakdown, err := h.usage.GetUsageBreakdown(r.Context(), claims.UserID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: breakdown})
}

// CanGenerate never answers 5xx for an unreachable ledger: the answer is
// simply false.
func (h *Handler) CanGenerate(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	ok, err := h.usage.CanGenerate(r.Context(), claims.UserID, claims.Role)
	if err != nil {
		h.logger.Warn("Quota check failed", "user_id", claims.UserID, "error", err)
		ok = false
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]bool{"can_generate": ok}})
}

type TrackRequest struct {
	models.GenerationRequest
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TrackUsage records a generation made outside /api/generate.
func (h *Handler) TrackUsage(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	var req TrackRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	if req.Source == "" {
		req.Source = models.SourceWebsite
	}
	if req.GenerationType != models.GenerationReply && req.GenerationType != models.GenerationEmail {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Generation type must be reply or email"})
		return
	}

	if err := h.usage.TrackGeneration(r.Context(), claims.UserID, req.GenerationRequest, req.Success, req.Error); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, Response{Success: true, Message: "Generation tracked"})
}
