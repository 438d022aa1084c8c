package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/auth"
	"mailoreply.ai/platform/internal/company"
	"mailoreply.ai/platform/internal/generation"
	"mailoreply.ai/platform/internal/ledger"
	"mailoreply.ai/platform/internal/middleware"
	"mailoreply.ai/platform/internal/models"
	"mailoreply.ai/platform/internal/pressure"
	"mailoreply.ai/platform/pkg/logger"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Usage is the ledger surface the handlers call.
type Usage interface {
	CanGenerate(ctx context.Context, userID string, roleHint models.Role) (bool, error)
	TrackGeneration(ctx context.Context, userID string, req models.GenerationRequest, success bool, errMsg string) error
	GetUsageStats(ctx context.Context, userID string) (models.UsageStats, error)
	GetUsageBreakdown(ctx context.Context, userID string) (ledger.Breakdown, error)
	ExtensionLimits(ctx context.Context, userID string) (ledger.ExtensionLimits, error)
	ValidateExtensionAccess(ctx context.Context, userID, fingerprint string) (bool, error)
	RegisterDevice(ctx context.Context, userID, fingerprint string, name *string) (models.Device, bool, error)
	TouchDevice(ctx context.Context, userID, fingerprint string) error
	ListDevices(ctx context.Context, userID string) ([]models.Device, error)
	RemoveDevice(ctx context.Context, userID, deviceID string) error
}

type Accounts interface {
	SignUp(ctx context.Context, email, password, name, invitationToken string) (auth.Result, error)
	SignInWithPassword(ctx context.Context, email, password string) (auth.Result, error)
	SignInWithOAuth(provider string) (string, error)
	CompleteOAuth(ctx context.Context, accessToken string) (auth.Result, error)
	Refresh(ctx context.Context, claims *middleware.Claims) (auth.Result, error)
	SignOut(ctx context.Context, claims *middleware.Claims) error
	Profile(ctx context.Context, claims *middleware.Claims) auth.Profile
	UpdateSettings(ctx context.Context, userID string, patch auth.SettingsPatch) (models.UserSettings, error)
}

type Billing interface {
	CreateCheckoutSession(ctx context.Context, userID, email, priceID string, isYearly bool) (string, error)
	CreatePortalSession(ctx context.Context, userID string) (string, error)
	CancelSubscription(ctx context.Context, userID string) error
	ReactivateSubscription(ctx context.Context, userID string) error
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// Companies covers enterprise tenants, their members and invitations.
type Companies interface {
	ListCompanies(ctx context.Context) ([]models.Company, error)
	GetCompany(ctx context.Context, id string) (models.Company, error)
	MyCompany(ctx context.Context, userID string) (models.Company, error)
	CreateCompany(ctx context.Context, in company.CompanyInput) (models.Company, error)
	UpdateCompany(ctx context.Context, id string, patch company.CompanyPatch) (models.Company, error)
	SetStatus(ctx context.Context, id string, status models.CompanyStatus) error
	DeleteCompany(ctx context.Context, id string) error

	ListMembers(ctx context.Context, a company.Actor, companyID string) ([]models.User, error)
	RemoveMember(ctx context.Context, a company.Actor, companyID, userID string) error
	Invite(ctx context.Context, a company.Actor, companyID string, in []company.InviteInput) (company.InviteResult, error)
	ListInvitations(ctx context.Context, a company.Actor, companyID string) ([]models.Invitation, error)
	ResendInvitation(ctx context.Context, a company.Actor, invitationID string) (company.SentInvitation, error)
	CancelInvitation(ctx context.Context, a company.Actor, invitationID string) error
	PendingInvitation(ctx context.Context, token string) (models.Invitation, error)
}

type Generator interface {
	Run(ctx context.Context, caller generation.Caller, req models.GenerationRequest) generation.Result
}

type Pressure interface {
	Snapshot(ctx context.Context) (pressure.Snapshot, error)
	Alerts() []pressure.Alert
	Acknowledge(id string) bool
}

type Deps struct {
	DB        Pinger
	Usage     Usage
	Accounts  Accounts
	Billing   Billing
	Companies Companies
	Generator Generator
	Pressure  Pressure
	Logs      LogStore
}

type Handler struct {
	db        Pinger
	usage     Usage
	accounts  Accounts
	billing   Billing
	companies Companies
	generator Generator
	pressure  Pressure
	logs      LogStore
	logger    *logger.Logger
	now       func() time.Time
}

func New(d Deps, l *logger.Logger) *Handler {
	return &Handler{
		db:        d.DB,
		usage:     d.Usage,
		accounts:  d.Accounts,
		billing:   d.Billing,
		companies: d.Companies,
		generator: d.Generator,
		pressure:  d.Pressure,
		logs:      d.Logs,
		logger:    l,
		now:       time.Now,
	}
}

type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// sendError maps err onto its status code and a message safe to show.
func (h *Handler) sendError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "status", status, "error", err)
	}
	h.sendJSON(w, status, Response{Success: false, Error: apperr.Message(err)})
}

const maxBody = 1 << 20

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v interface{}) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return apperr.Validation("Invalid request body")
}

// Health answers the bare liveness check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"message":   "MailoReply AI is running!",
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	if h.db == nil {
		dbStatus = "not configured"
	} else if err := h.db.PingContext(r.Context()); err != nil {
		dbStatus = "disconnected"
	}

	h.sendJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "MailoReply AI API is running",
		Data: map[string]interface{}{
			"version":   "1.0.0",
			"timestamp": h.now().UTC().Format(time.RFC3339),
			"database":  dbStatus,
		},
	})
}

func (h *Handler) claims(w http.ResponseWriter, r *http.Request) *middleware.Claims {
	claims := middleware.GetUserFromContext(r)
	if claims == nil {
		h.sendJSON(w, http.StatusUnauthorized, Response{Success: false, Error: "Unauthorized"})
	}
	return claims
}
