package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"mailoreply.ai/platform/internal/middleware"
	"mailoreply.ai/platform/internal/models"
)

// Register mounts every route. limiter guards /api/generate and may be nil.
func (h *Handler) Register(r *mux.Router, authn *middleware.Authenticator, limiter *middleware.RateLimiter) {
	// ============== PUBLIC ROUTES (No Auth) ==============
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/api/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/api/auth/signup", h.SignUp).Methods("POST")
	r.HandleFunc("/api/auth/login", h.Login).Methods("POST")
	r.HandleFunc("/api/auth/oauth/callback", h.OAuthCallback).Methods("POST")
	r.HandleFunc("/api/auth/oauth/{provider}", h.OAuth).Methods("GET")
	r.HandleFunc("/api/invitations/{token}", h.GetInvitation).Methods("GET")
	r.HandleFunc("/api/plans", h.GetPlans).Methods("GET")
	r.HandleFunc("/api/billing/webhook", h.StripeWebhook).Methods("POST")

	// ============== PROTECTED ROUTES (JWT Auth) ==============
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authn.Middleware)

	api.HandleFunc("/auth/session", h.GetSession).Methods("GET")
	api.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	api.HandleFunc("/auth/refresh", h.RefreshToken).Methods("POST")
	api.HandleFunc("/me", h.GetMe).Methods("GET")
	api.HandleFunc("/settings", h.UpdateSettings).Methods("PUT")
	api.HandleFunc("/company", h.GetMyCompany).Methods("GET")

	api.HandleFunc("/usage", h.GetUsage).Methods("GET")
	api.HandleFunc("/usage/breakdown", h.GetUsageBreakdown).Methods("GET")
	api.HandleFunc("/usage/can-generate", h.CanGenerate).Methods("GET")
	api.HandleFunc("/usage/track", h.TrackUsage).Methods("POST")

	api.HandleFunc("/devices/register", h.RegisterDevice).Methods("POST")
	api.HandleFunc("/devices", h.GetDevices).Methods("GET")
	api.HandleFunc("/devices/heartbeat", h.DeviceHeartbeat).Methods("POST")
	api.HandleFunc("/devices/{id}", h.DeleteDevice).Methods("DELETE")

	var generate http.Handler = http.HandlerFunc(h.Generate)
	if limiter != nil {
		generate = limiter.Middleware(generate)
	}
	api.Handle("/generate", generate).Methods("POST")

	api.HandleFunc("/extension/limits", h.ExtensionLimits).Methods("GET")
	api.HandleFunc("/extension/validate", h.ValidateExtension).Methods("POST")
	api.HandleFunc("/extension/errors", h.CreateExtensionLog).Methods("POST")

	api.HandleFunc("/billing/create-checkout-session", h.CreateCheckoutSession).Methods("POST")
	api.HandleFunc("/billing/create-portal-session", h.CreatePortalSession).Methods("POST")
	api.HandleFunc("/billing/cancel-subscription", h.CancelSubscription).Methods("POST")
	api.HandleFunc("/billing/reactivate-subscription", h.ReactivateSubscription).Methods("POST")

	// ============== ADMIN ROUTES ==============
	admin := api.NewRoute().Subrouter()
	admin.Use(middleware.RequireRole(models.RoleSuperuser, models.RoleEnterpriseManager))

	admin.HandleFunc("/pressure", h.GetPressure).Methods("GET")
	admin.HandleFunc("/pressure/alerts", h.GetPressureAlerts).Methods("GET")
	admin.HandleFunc("/pressure/alerts/{id}/ack", h.AcknowledgeAlert).Methods("POST")
	admin.HandleFunc("/logs", h.GetLogs).Methods("GET")
	admin.HandleFunc("/logs/stats", h.GetLogStats).Methods("GET")

	// company_id selects the company for superusers; managers get their own
	admin.HandleFunc("/team/members", h.GetTeamMembers).Methods("GET")
	admin.HandleFunc("/team/members/{id}", h.RemoveTeamMember).Methods("DELETE")
	admin.HandleFunc("/team/invitations", h.GetInvitations).Methods("GET")
	admin.HandleFunc("/team/invitations", h.SendInvitations).Methods("POST")
	admin.HandleFunc("/team/invitations/bulk", h.BulkInvite).Methods("POST")
	admin.HandleFunc("/team/invitations/{id}/resend", h.ResendInvitation).Methods("POST")
	admin.HandleFunc("/team/invitations/{id}", h.CancelInvitation).Methods("DELETE")

	// ============== SUPERUSER ROUTES ==============
	super := api.NewRoute().Subrouter()
	super.Use(middleware.RequireRole(models.RoleSuperuser))

	super.HandleFunc("/companies", h.GetCompanies).Methods("GET")
	super.HandleFunc("/companies", h.CreateCompany).Methods("POST")
	super.HandleFunc("/companies/{id}", h.GetCompany).Methods("GET")
	super.HandleFunc("/companies/{id}", h.UpdateCompany).Methods("PUT")
	super.HandleFunc("/companies/{id}/suspend", h.SuspendCompany).Methods("POST")
	super.HandleFunc("/companies/{id}/activate", h.ActivateCompany).Methods("POST")
	super.HandleFunc("/companies/{id}", h.DeleteCompany).Methods("DELETE")
}
