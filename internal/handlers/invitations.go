package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"mailoreply.ai/platform/internal/apperr"
	"mailoreply.ai/platform/internal/company"
	"mailoreply.ai/platform/internal/models"
)

// InviteRequest carries one invitation inline or several in Invitations.
type InviteRequest struct {
	CompanyID   string                `json:"company_id"`
	Email       string                `json:"email"`
	Name        string                `json:"name"`
	Role        models.Role           `json:"role"`
	Invitations []company.InviteInput `json:"invitations"`
}

func (h *Handler) GetInvitations(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	list, err := h.companies.ListInvitations(r.Context(), a, r.URL.Query().Get("company_id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: list})
}

func (h *Handler) SendInvitations(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req InviteRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}
	in := req.Invitations
	if req.Email != "" {
		in = append(in, company.InviteInput{Email: req.Email, Name: req.Name, Role: req.Role})
	}

	h.invite(w, r, a, req.CompanyID, in)
}

// BulkInvite accepts a CSV of email,name[,role] rows either as the raw
// request body or as the "file" field of a multipart upload.
func (h *Handler) BulkInvite(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	var src io.Reader = io.LimitReader(r.Body, maxBody)
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBody); err != nil {
			h.sendError(w, apperr.Validation("Invalid upload"))
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			h.sendError(w, apperr.Validation("CSV file is required"))
			return
		}
		defer file.Close()
		src = io.LimitReader(file, maxBody)
	}

	in, err := company.ParseInviteCSV(src)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.invite(w, r, a, r.URL.Query().Get("company_id"), in)
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request, a company.Actor, companyID string, in []company.InviteInput) {
	res, err := h.companies.Invite(r.Context(), a, companyID, in)
	if err != nil {
		h.sendError(w, err)
		return
	}

	// every row was skipped; the reasons ride along in Data
	if len(res.Sent) == 0 {
		h.sendJSON(w, http.StatusBadRequest, Response{Success: false, Error: "No invitations sent", Data: res})
		return
	}
	h.sendJSON(w, http.StatusCreated, Response{Success: true, Message: pluralInvites(len(res.Sent)), Data: res})
}

func (h *Handler) ResendInvitation(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	sent, err := h.companies.ResendInvitation(r.Context(), a, mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Invitation resent", Data: sent})
}

func (h *Handler) CancelInvitation(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	if err := h.companies.CancelInvitation(r.Context(), a, mux.Vars(r)["id"]); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Invitation cancelled"})
}

// GetInvitation lets the sign-up page show who the invitation is for.
func (h *Handler) GetInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := h.companies.PendingInvitation(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"email":      inv.Email,
		"name":       inv.Name,
		"role":       inv.Role,
		"company_id": inv.CompanyID,
		"expires_at": inv.ExpiresAt,
	}})
}

func pluralInvites(n int) string {
	switch n {
	case 1:
		return "1 invitation sent"
	default:
		return strconv.Itoa(n) + " invitations sent"
	}
}
