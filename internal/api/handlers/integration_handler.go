package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/engine/client"
	"sprintwatch/internal/pkg/errors"
	"sprintwatch/internal/platform/auth"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
)

type IntegrationHandler struct {
	integrations  *repositories.IntegrationRepository
	credentials   *repositories.CredentialRepository
	subscriptions *repositories.SubscriptionRepository
	clients       *client.Registry
}

func NewIntegrationHandler(integrations *repositories.IntegrationRepository, credentials *repositories.CredentialRepository,
	subscriptions *repositories.SubscriptionRepository, clients *client.Registry) *IntegrationHandler {
	return &IntegrationHandler{
		integrations:  integrations,
		credentials:   credentials,
		subscriptions: subscriptions,
		clients:       clients,
	}
}

func (h *IntegrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req struct {
		Provider    string `json:"provider"`
		Name        string `json:"name"`
		BaseURL     string `json:"base_url"`
		PrincipalID string `json:"principal_id"`
		Credential  struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			TokenType    string `json:"token_type"`
			Scope        string `json:"scope"`
			ExpiresAt    int64  `json:"expires_at"`
		} `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	switch req.Provider {
	case models.ProviderGitHub, models.ProviderGitLab, models.ProviderBitbucket, models.ProviderJira:
	default:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unsupported provider", nil)
		return
	}
	if req.Name == "" || req.PrincipalID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "name and principal_id are required", nil)
		return
	}

	integration := &models.Integration{
		OrganizationID: claims.OrganizationID,
		Provider:       req.Provider,
		Name:           req.Name,
		BaseURL:        req.BaseURL,
		PrincipalID:    req.PrincipalID,
		Status:         "active",
	}
	if err := h.integrations.Create(integration); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create integration", nil)
		return
	}

	cred := &models.Credential{
		IntegrationID: integration.ID,
		PrincipalID:   req.PrincipalID,
		Provider:      req.Provider,
		AccessToken:   req.Credential.AccessToken,
		RefreshToken:  req.Credential.RefreshToken,
		TokenType:     req.Credential.TokenType,
		Scope:         req.Credential.Scope,
		ExpiresAt:     req.Credential.ExpiresAt,
	}
	if err := h.credentials.Create(cred); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to store credential", nil)
		return
	}

	if _, err := h.clients.Add(integration); err != nil {
		log.Error().Err(err).Str("integration_id", integration.ID).Msg("failed to register provider client")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(integration)
}

func (h *IntegrationHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	all, err := h.integrations.List()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list integrations", nil)
		return
	}

	integrations := make([]*models.Integration, 0, len(all))
	for _, integration := range all {
		if integration.OrganizationID == claims.OrganizationID {
			integrations = append(integrations, integration)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integrations)
}

func (h *IntegrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integration)
}

func (h *IntegrationHandler) Update(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req struct {
		Name    string `json:"name"`
		BaseURL string `json:"base_url"`
		Status  string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.Name != "" {
		integration.Name = req.Name
	}
	if req.BaseURL != "" {
		integration.BaseURL = req.BaseURL
	}
	if req.Status != "" {
		if req.Status != "active" && req.Status != "disabled" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "status must be active or disabled", nil)
			return
		}
		integration.Status = req.Status
	}

	if err := h.integrations.Update(integration); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update integration", nil)
		return
	}

	if integration.Status == "disabled" {
		h.clients.Remove(integration.ID)
	} else if _, registered := h.clients.Get(integration.ID); !registered {
		if _, err := h.clients.Add(integration); err != nil {
			log.Error().Err(err).Str("integration_id", integration.ID).Msg("failed to re-register provider client")
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(integration)
}

// Delete disables the integration rather than removing rows: events and
// synced entities keep their history, but no new traffic is admitted.
func (h *IntegrationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if err := h.integrations.UpdateStatus(integration.ID, "disabled"); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to disable integration", nil)
		return
	}
	if err := h.subscriptions.DeactivateByIntegration(integration.ID); err != nil {
		log.Error().Err(err).Str("integration_id", integration.ID).Msg("failed to deactivate subscriptions")
	}
	h.clients.Remove(integration.ID)

	w.WriteHeader(http.StatusNoContent)
}

func (h *IntegrationHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req struct {
		TargetURL  string   `json:"target_url"`
		EventTypes []string `json:"event_types"`
		Secret     string   `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Secret == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "secret is required", nil)
		return
	}

	// One active subscription per integration; a new one supersedes it.
	if err := h.subscriptions.DeactivateByIntegration(integration.ID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to replace subscription", nil)
		return
	}

	sub := &models.WebhookSubscription{
		IntegrationID: integration.ID,
		TargetURL:     req.TargetURL,
		EventTypes:    req.EventTypes,
		Secret:        req.Secret,
		Active:        true,
	}
	if err := h.subscriptions.Create(sub); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create subscription", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sub)
}

func (h *IntegrationHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	subs, err := h.subscriptions.ListByIntegration(integration.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to list subscriptions", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(subs)
}

func (h *IntegrationHandler) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	integration, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	subID := params.ByName("subscription_id")

	sub, err := h.subscriptions.GetByID(subID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load subscription", nil)
		return
	}
	if sub == nil || sub.IntegrationID != integration.ID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Subscription not found", nil)
		return
	}

	if err := h.subscriptions.Deactivate(sub.ID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to deactivate subscription", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// loadOwned resolves :integration_id and enforces organization
// ownership. A foreign integration reads as not found.
func (h *IntegrationHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.Integration, bool) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
	params := r.Context().Value(apiContext.Params).(httprouter.Params)
	id := params.ByName("integration_id")

	integration, err := h.integrations.GetByID(id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load integration", nil)
		return nil, false
	}
	if integration == nil || integration.OrganizationID != claims.OrganizationID {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Integration not found", nil)
		return nil, false
	}
	return integration, true
}
