package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"
	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/pkg/errors"
	"sprintwatch/internal/platform/auth"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
)

type APIKeyHandler struct {
	apiKeys *repositories.APIKeyRepository
}

func NewAPIKeyHandler(apiKeys *repositories.APIKeyRepository) *APIKeyHandler {
	return &APIKeyHandler{apiKeys: apiKeys}
}

// Create mints an operator API key. The raw key appears in this
// response only; the database keeps a bcrypt hash and a lookup prefix.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		Name      string   `json:"name"`
		Scopes    []string `json:"scopes"`
		ExpiresIn int64    `json:"expires_in"` // seconds, 0 = never
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "name is required", nil)
		return
	}

	rawKey, err := generateKey()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate key", nil)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash key", nil)
		return
	}

	key := &models.APIKey{
		OrganizationID: claims.OrganizationID,
		Name:           req.Name,
		KeyHash:        string(hash),
		KeyPrefix:      rawKey[:12],
		Scopes:         req.Scopes,
	}
	if req.ExpiresIn > 0 {
		expiresAt := time.Now().Unix() + req.ExpiresIn
		key.ExpiresAt = &expiresAt
	}

	if err := h.apiKeys.Create(key); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to store key", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":         key.ID,
		"name":       key.Name,
		"key":        rawKey,
		"key_prefix": key.KeyPrefix,
		"scopes":     key.Scopes,
		"expires_at": key.ExpiresAt,
	})
}

func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	keys, err := h.apiKeys.List(claims.OrganizationID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list keys", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(keys)
}

func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("key_id")

	keys, err := h.apiKeys.List(claims.OrganizationID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load keys", nil)
		return
	}
	owned := false
	for _, key := range keys {
		if key.ID == id {
			owned = true
			break
		}
	}
	if !owned {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Key not found", nil)
		return
	}

	if err := h.apiKeys.Delete(id); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to delete key", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func generateKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "swk_live_" + hex.EncodeToString(buf), nil
}
