package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FullName        string `json:"full_name"`
	InvitationToken string `json:"invitation_token"`
}

type OAuthCallbackRequest struct {
	AccessToken string `json:"access_token"`
}

func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	res, err := h.accounts.SignUp(r.Context(), req.Email, req.Password, req.FullName, req.InvitationToken)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendJSON(w, http.StatusCreated, Response{
		Success: true,
		Message: "User registered successfully",
		Data:    res,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	res, err := h.accounts.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.sendError(w, err)
		return
	}

	h.sendJSON(w, http.StatusOK, Response{
		Success: true,
		Message: "Login successful",
		Data:    res,
	})
}

// OAuth returns the provider's authorize URL for the frontend to follow.
func (h *Handler) OAuth(w http.ResponseWriter, r *http.Request) {
	url, err := h.accounts.SignInWithOAuth(mux.Vars(r)["provider"])
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: map[string]string{"url": url}})
}

// OAuthCallback trades the provider access token from the redirect for an
// application session.
func (h *Handler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	var req OAuthCallbackRequest
	if err := decode(r, &req); err != nil {
		h.sendError(w, err)
		return
	}

	res, err := h.accounts.CompleteOAuth(r.Context(), req.AccessToken)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Login successful", Data: res})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	data := map[string]interface{}{
		"user_id": claims.UserID,
		"email":   claims.Email,
		"role":    claims.Role,
	}
	if claims.ExpiresAt != nil {
		data["expires_at"] = claims.ExpiresAt.Time
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	res, err := h.accounts.Refresh(r.Context(), claims)
	if err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Data: res})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := h.claims(w, r)
	if claims == nil {
		return
	}

	if err := h.accounts.SignOut(r.Context(), claims); err != nil {
		h.sendError(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, Response{Success: true, Message: "Logged out"})
}
