package handlers

import (
	"encoding/json"
	"net/http"

	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/pkg/errors"
	"sprintwatch/internal/platform/auth"
)

type AuthHandler struct {
	tokenSvc *auth.TokenService
}

func NewAuthHandler(tokenSvc *auth.TokenService) *AuthHandler {
	return &AuthHandler{tokenSvc: tokenSvc}
}

// Token exchanges the credential that passed auth middleware (usually
// an API key) for a short-lived session JWT, so dashboards do not send
// the long-lived key on every request.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	token, err := h.tokenSvc.GenerateAccessToken(claims.OrganizationID, claims.Scopes)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to issue token", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token": token,
		"token_type":   "Bearer",
	})
}
