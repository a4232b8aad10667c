package http

import (
	"net/http"

	"github.com/0ndata/crmbridge/internal/middleware"
	"github.com/0ndata/crmbridge/internal/service"
)

type signupRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	LocationID string `json:"locationId"`
}

type signinRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	LocationID string `json:"locationId"`
}

type userResponse struct {
	User *service.User `json:"user"`
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.Auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Signup creates a contact-backed user account and opens a session.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[signupRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.Email, "email") || !requireField(w, req.Password, "password") {
		return
	}

	if _, exists, err := h.users.FindUserByEmail(r.Context(), req.Email, req.LocationID); err != nil {
		writeDomainError(w, err, "user lookup failed")
		return
	} else if exists {
		writeError(w, http.StatusConflict, "an account with this email already exists")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Email, req.Password, req.Name, req.LocationID)
	if err != nil {
		writeDomainError(w, err, "user not created")
		return
	}

	token, err := h.sessions.Create(user.ContactID, user.Email, user.LocationID)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	h.setSessionCookie(w, token, int(h.cfg.Auth.SessionExpiry.Seconds()))
	writeJSON(w, http.StatusCreated, userResponse{User: user})
}

// Signin verifies credentials and opens a session. Unknown email and wrong
// password are indistinguishable to the caller.
func (h *Handlers) Signin(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[signinRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, req.Email, "email") || !requireField(w, req.Password, "password") {
		return
	}

	user, ok, err := h.users.VerifyPassword(r.Context(), req.Email, req.Password, req.LocationID)
	if err != nil {
		writeDomainError(w, err, "signin failed")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := h.sessions.Create(user.ContactID, user.Email, user.LocationID)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	h.setSessionCookie(w, token, int(h.cfg.Auth.SessionExpiry.Seconds()))
	writeJSON(w, http.StatusOK, userResponse{User: user})
}

// Signout clears the session cookie. Tokens are stateless, so there is
// nothing to revoke server-side.
func (h *Handlers) Signout(w http.ResponseWriter, _ *http.Request) {
	h.setSessionCookie(w, "", -1)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Me returns the authenticated user, refreshed from the CRM when reachable.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	user, found, err := h.users.FindUserByEmail(r.Context(), claims.Email, claims.LocationID)
	if err != nil || !found {
		// Serve the claims we have rather than failing the whole request.
		user = &service.User{
			ContactID:  claims.ContactID,
			Email:      claims.Email,
			LocationID: claims.LocationID,
		}
	}
	writeJSON(w, http.StatusOK, userResponse{User: user})
}
