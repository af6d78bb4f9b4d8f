package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/pkg/errors"
	"sprintwatch/internal/platform/auth"
	"sprintwatch/internal/platform/repositories"
)

// AuthMiddleware accepts either a JWT session token or an operator API
// key (swk_live_...) in the Authorization header.
type AuthMiddleware struct {
	tokenSvc *auth.TokenService
	apiKeys  *repositories.APIKeyRepository
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, apiKeys *repositories.APIKeyRepository) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, apiKeys: apiKeys}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		var claims *auth.Claims
		if strings.HasPrefix(parts[1], "swk_live_") {
			keyClaims, err := m.validateAPIKey(parts[1])
			if err != nil {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
				return
			}
			claims = keyClaims
		} else {
			tokenClaims, err := m.tokenSvc.ValidateToken(parts[1])
			if err != nil {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
				return
			}
			claims = tokenClaims
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}

func (m *AuthMiddleware) validateAPIKey(rawKey string) (*auth.Claims, error) {
	prefix := keyPrefix(rawKey)
	candidates, err := m.apiKeys.GetByPrefix(prefix)
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	for _, key := range candidates {
		if key.ExpiresAt != nil && *key.ExpiresAt < now {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		// Bookkeeping only; a failed update does not invalidate the key.
		_ = m.apiKeys.UpdateLastUsed(key.ID, now)
		return &auth.Claims{OrganizationID: key.OrganizationID, Scopes: key.Scopes}, nil
	}
	return nil, bcrypt.ErrMismatchedHashAndPassword
}

// keyPrefix is the first 12 characters of the raw key, matching what
// the key handler stores at creation.
func keyPrefix(rawKey string) string {
	if len(rawKey) < 12 {
		return rawKey
	}
	return rawKey[:12]
}
