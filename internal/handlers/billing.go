package handlers

import (
	"io"
	"net/http"

	"mailoreply.ai/platform/internal/models"
)

type CheckoutRequest struct {
	PriceID  string `json:"priceId"`
	IsYearly bool   `json:"isYearly"`
}

func (h *Handler) GetPlans(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: models.Catalog()})
}

func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	var req CheckoutRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	url, err := h.billing.CreateCheckoutSession(r.Context(), claims.UserID, claims.Email, req.PriceID, req.IsYearly)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"sessionUrl": url}})
}

func (h *Handler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	url, err := h.billing.CreatePortalSession(r.Context(), claims.UserID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"sessionUrl": url}})
}

func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	if err := h.billing.CancelSubscription(r.Context(), claims.UserID); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Subscription will cancel at the end of the billing period"})
}

func (h *Handler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	if err := h.billing.ReactivateSubscription(r.Context(), claims.UserID); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Subscription reactivated"})
}

// StripeWebhook answers {"received": true} the way Stripe expects; the raw
// body is needed for signature verification.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: "Failed to read body"})
		return
	}

	if err := h.billing.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"received":true}`))
}
