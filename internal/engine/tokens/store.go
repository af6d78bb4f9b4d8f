package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
)

// expiryBuffer is the proactive-refresh window: a token whose expiry is
// inside the buffer is refreshed before use rather than risked.
const expiryBuffer = 5 * time.Minute

// Store owns credential lifecycle: cached reads, proactive refresh
// inside the expiry buffer, and persistence of refreshed tokens.
// Concurrent refreshes for the same principal collapse into a single
// in-flight exchange.
type Store struct {
	creds     *repositories.CredentialRepository
	providers map[string]providers.Provider

	mu    sync.RWMutex
	cache map[string]*models.Credential
	group singleflight.Group

	now func() time.Time
}

func NewStore(creds *repositories.CredentialRepository, providerSet map[string]providers.Provider) *Store {
	return &Store{
		creds:     creds,
		providers: providerSet,
		cache:     make(map[string]*models.Credential),
		now:       time.Now,
	}
}

func (s *Store) GetValidToken(ctx context.Context, integrationID, principalID string) (*models.Credential, error) {
	key := integrationID + ":" + principalID

	s.mu.RLock()
	cred := s.cache[key]
	s.mu.RUnlock()

	if cred == nil {
		loaded, err := s.creds.GetByPrincipal(integrationID, principalID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, fmt.Errorf("no credential for principal %s", principalID)
		}
		s.mu.Lock()
		s.cache[key] = loaded
		s.mu.Unlock()
		cred = loaded
	}

	if s.needsRefresh(cred) {
		return s.refresh(ctx, key, cred)
	}
	return cred, nil
}

// ForceRefresh bypasses the buffer check; the client calls it after a
// 401 to get exactly one fresh token.
func (s *Store) ForceRefresh(ctx context.Context, integrationID, principalID string) (*models.Credential, error) {
	key := integrationID + ":" + principalID

	s.mu.RLock()
	cred := s.cache[key]
	s.mu.RUnlock()

	if cred == nil {
		loaded, err := s.creds.GetByPrincipal(integrationID, principalID)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, fmt.Errorf("no credential for principal %s", principalID)
		}
		cred = loaded
	}
	return s.refresh(ctx, key, cred)
}

// Revoke drops a credential from cache and storage.
func (s *Store) Revoke(integrationID, principalID string) error {
	key := integrationID + ":" + principalID

	s.mu.Lock()
	cred := s.cache[key]
	delete(s.cache, key)
	s.mu.Unlock()

	if cred != nil {
		return s.creds.Delete(cred.ID)
	}
	return nil
}

func (s *Store) needsRefresh(cred *models.Credential) bool {
	if cred.ExpiresAt == 0 {
		return false // non-expiring token
	}
	return time.Unix(cred.ExpiresAt, 0).Sub(s.now()) <= expiryBuffer
}

func (s *Store) refresh(ctx context.Context, key string, cred *models.Credential) (*models.Credential, error) {
	result, err, _ := s.group.Do(key, func() (interface{}, error) {
		provider, ok := s.providers[cred.Provider]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", cred.Provider)
		}

		refreshed, err := provider.Refresh(ctx, cred)
		if err != nil {
			return nil, fmt.Errorf("refreshing %s token: %w", cred.Provider, err)
		}

		if err := s.creds.UpdateTokens(refreshed); err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cache[key] = refreshed
		s.mu.Unlock()

		log.Debug().Str("provider", cred.Provider).Str("principal_id", cred.PrincipalID).
			Msg("credential refreshed")
		return refreshed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.Credential), nil
}
