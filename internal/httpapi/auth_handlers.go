package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"plantops.org/internal/audit"
	"plantops.org/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	identity, err := a.authSvc.Register(r.Context(), req.Username, req.Password, req.FullName, auth.Role(req.Role))
	if err != nil {
		writeAuthError(w, err)
		return
	}
	audit.LogEvent(r.Context(), "user_registered", map[string]any{
		"username": identity.Username,
		"role":     string(identity.Role),
	})
	writeJSON(w, http.StatusCreated, identity)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, identity, err := a.authSvc.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	audit.LogEvent(r.Context(), "user_login", map[string]any{
		"username": identity.Username,
	})
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

type profileRequest struct {
	FullName *string `json:"full_name"`
	Password *string `json:"password"`
}

func (a *API) handleCurrentUser(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, identity)
	case http.MethodPut:
		var req profileRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := a.authSvc.UpdateProfile(r.Context(), identity.ID, auth.ProfileUpdate{
			FullName: req.FullName,
			Password: req.Password,
		})
		if err != nil {
			writeAuthError(w, err)
			return
		}
		audit.LogEvent(r.Context(), "profile_updated", map[string]any{
			"username": updated.Username,
		})
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// handleUsers covers the admin surface: listing, provisioning, role
// changes and deletion. Every branch requires the admin role.
func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if !requireRole(w, r, auth.RoleAdmin) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/users/")
	switch {
	case rest == "":
		switch r.Method {
		case http.MethodGet:
			users, err := a.authSvc.ListUsers(r.Context())
			if err != nil {
				writeAuthError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, users)
		case http.MethodPost:
			var req registerRequest
			if err := decodeJSON(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			identity, err := a.authSvc.CreateUser(r.Context(), req.Username, req.Password, req.FullName, auth.Role(req.Role))
			if err != nil {
				writeAuthError(w, err)
				return
			}
			audit.LogEvent(r.Context(), "user_created", map[string]any{
				"username": identity.Username,
				"role":     string(identity.Role),
			})
			writeJSON(w, http.StatusCreated, identity)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
		}
	case strings.HasSuffix(rest, "/role"):
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		userID := strings.TrimSuffix(rest, "/role")
		var req struct {
			Role string `json:"role"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.authSvc.ChangeRole(r.Context(), userID, auth.Role(req.Role)); err != nil {
			writeAuthError(w, err)
			return
		}
		audit.LogEvent(r.Context(), "role_changed", map[string]any{
			"user_id": userID,
			"role":    req.Role,
		})
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		if err := a.authSvc.DeleteUser(r.Context(), rest); err != nil {
			writeAuthError(w, err)
			return
		}
		audit.LogEvent(r.Context(), "user_deleted", map[string]any{
			"user_id": rest,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "username already taken")
	case errors.Is(err, auth.ErrAdminExists):
		writeError(w, http.StatusForbidden, "admin registration is closed")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
