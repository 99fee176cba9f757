package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	apperrors "vpc-gateway/internal/common/errors"
	"vpc-gateway/internal/common/logging"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login exchanges admin credentials for a bearer token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if !h.auth.LoginEnabled() {
		h.respondError(w, apperrors.AuthError("login is disabled"))
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, apperrors.ValidationError("invalid JSON body"))
		return
	}

	token, expires, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("Login rejected", logging.String("username", req.Username))
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expires})
}
