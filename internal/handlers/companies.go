package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"mailoreply.ai/platform/internal/company"
	"mailoreply.ai/platform/internal/models"
)

func (h *Handler) GetCompanies(w http.ResponseWriter, r *http.Request) {
	list, err := h.companies.ListCompanies(r.Context())
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: list})
}

func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	c, err := h.companies.GetCompany(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: c})
}

// GetMyCompany is the company profile for the signed-in enterprise user.
func (h *Handler) GetMyCompany(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	c, err := h.companies.MyCompany(r.Context(), claims.UserID)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: c})
}

func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req company.CompanyInput
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	c, err := h.companies.CreateCompany(r.Context(), req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, Response{Success: true, Message: "Company created successfully", Data: c})
}

func (h *Handler) UpdateCompany(w http.ResponseWriter, r *http.Request) {
	var req company.CompanyPatch
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	c, err := h.companies.UpdateCompany(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Company updated", Data: c})
}

func (h *Handler) SuspendCompany(w http.ResponseWriter, r *http.Request) {
	h.setCompanyStatus(w, r, models.CompanySuspended, "Company suspended")
}

func (h *Handler) ActivateCompany(w http.ResponseWriter, r *http.Request) {
	h.setCompanyStatus(w, r, models.CompanyActive, "Company activated")
}

func (h *Handler) setCompanyStatus(w http.ResponseWriter, r *http.Request, status models.CompanyStatus, msg string) {
	if err := h.companies.SetStatus(r.Context(), mux.Vars(r)["id"], status); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: msg})
}

func (h *Handler) DeleteCompany(w http.ResponseWriter, r *http.Request) {
	if err := h.companies.DeleteCompany(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Company deleted"})
}

// ============== TEAM ==============

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (company.Actor, bool) {
	claims := h.claims(w, r)
	if claims == nil {
		return company.Actor{}, false
	}
	return company.Actor{UserID: claims.UserID, Role: claims.Role}, true
}

// GetTeamMembers lists the caller's company. Superusers pass ?company_id=.
func (h *Handler) GetTeamMembers(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	members, err := h.companies.ListMembers(r.Context(), a, r.URL.Query().Get("company_id"))
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: members})
}

func (h *Handler) RemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	err := h.companies.RemoveMember(r.Context(), a, r.URL.Query().Get("company_id"), mux.Vars(r)["id"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Team member removed"})
}
