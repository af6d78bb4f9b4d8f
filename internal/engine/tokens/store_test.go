package tokens

import (
	"context"
	"database/sql"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}

	query := `
	CREATE TABLE credentials (
		id TEXT PRIMARY KEY,
		integration_id TEXT NOT NULL,
		principal_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		token_type TEXT NOT NULL DEFAULT 'bearer',
		scope TEXT NOT NULL DEFAULT '',
		expires_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(integration_id, principal_id)
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}

// refreshProvider counts Refresh calls and hands out sequentially
// numbered tokens.
type refreshProvider struct {
	refreshes  int32
	nextExpiry int64
}

func (p *refreshProvider) Name() string { return "gitlab" }

func (p *refreshProvider) BaseURL(integration *models.Integration) string { return "" }

func (p *refreshProvider) Authenticate(req *http.Request, cred *models.Credential) {}

func (p *refreshProvider) Refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	atomic.AddInt32(&p.refreshes, 1)
	fresh := *cred
	fresh.AccessToken = "fresh-token"
	fresh.ExpiresAt = p.nextExpiry
	return &fresh, nil
}

func (p *refreshProvider) VerifySignature(secret string, body []byte, headers http.Header) error {
	return nil
}

func (p *refreshProvider) EventID(headers http.Header, body []byte) string { return "" }

func (p *refreshProvider) EventType(headers http.Header, body []byte) string { return "" }

func (p *refreshProvider) ParseRateLimit(headers http.Header) (providers.RateLimit, bool) {
	return providers.RateLimit{}, false
}

func (p *refreshProvider) Source(d providers.Doer, integration *models.Integration) providers.Source {
	return nil
}

func (p *refreshProvider) ParseWebhook(eventType string, payload []byte) (*providers.WebhookChange, error) {
	return &providers.WebhookChange{}, nil
}

func setupStore(t *testing.T, expiresAt int64) (*Store, *refreshProvider, *repositories.CredentialRepository) {
	db := setupTestDB(t)
	t.Cleanup(func() { db.Close() })

	creds := repositories.NewCredentialRepository(db)
	cred := &models.Credential{
		IntegrationID: "int_1",
		PrincipalID:   "group-9",
		Provider:      "gitlab",
		AccessToken:   "orig-token",
		RefreshToken:  "refresh-1",
		ExpiresAt:     expiresAt,
	}
	if err := creds.Create(cred); err != nil {
		t.Fatalf("Failed to create credential: %v", err)
	}

	provider := &refreshProvider{nextExpiry: expiresAt + 7200}
	store := NewStore(creds, map[string]providers.Provider{"gitlab": provider})
	return store, provider, creds
}

func TestStore_ReturnsTokenOutsideBuffer(t *testing.T) {
	t0 := time.Now()
	store, provider, _ := setupStore(t, t0.Add(time.Hour).Unix())
	store.now = func() time.Time { return t0 }

	cred, err := store.GetValidToken(context.Background(), "int_1", "group-9")
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if cred.AccessToken != "orig-token" {
		t.Errorf("Expected original token, got %s", cred.AccessToken)
	}
	if n := atomic.LoadInt32(&provider.refreshes); n != 0 {
		t.Errorf("Expected no refresh, got %d", n)
	}
}

func TestStore_RefreshesInsideBuffer(t *testing.T) {
	t0 := time.Now()
	store, provider, creds := setupStore(t, t0.Add(time.Hour).Unix())

	// 100 seconds to expiry: inside the 5 minute buffer.
	store.now = func() time.Time { return t0.Add(time.Hour - 100*time.Second) }

	cred, err := store.GetValidToken(context.Background(), "int_1", "group-9")
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if cred.AccessToken != "fresh-token" {
		t.Errorf("Expected refreshed token, got %s", cred.AccessToken)
	}
	if n := atomic.LoadInt32(&provider.refreshes); n != 1 {
		t.Errorf("Expected 1 refresh, got %d", n)
	}

	// The refreshed token was persisted, not just cached.
	stored, err := creds.GetByPrincipal("int_1", "group-9")
	if err != nil {
		t.Fatalf("GetByPrincipal failed: %v", err)
	}
	if stored.AccessToken != "fresh-token" {
		t.Errorf("Expected persisted refresh, got %s", stored.AccessToken)
	}
}

func TestStore_RefreshedTokenIsReused(t *testing.T) {
	t0 := time.Now()
	store, provider, _ := setupStore(t, t0.Add(time.Hour).Unix())
	store.now = func() time.Time { return t0.Add(time.Hour - 100*time.Second) }

	for i := 0; i < 3; i++ {
		if _, err := store.GetValidToken(context.Background(), "int_1", "group-9"); err != nil {
			t.Fatalf("GetValidToken failed: %v", err)
		}
	}
	// The new expiry is outside the buffer, so only the first call refreshed.
	if n := atomic.LoadInt32(&provider.refreshes); n != 1 {
		t.Errorf("Expected 1 refresh across repeated reads, got %d", n)
	}
}

func TestStore_NonExpiringTokenNeverRefreshes(t *testing.T) {
	t0 := time.Now()
	store, provider, _ := setupStore(t, 0)
	store.now = func() time.Time { return t0.Add(1000 * time.Hour) }

	cred, err := store.GetValidToken(context.Background(), "int_1", "group-9")
	if err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if cred.AccessToken != "orig-token" {
		t.Errorf("Expected original token, got %s", cred.AccessToken)
	}
	if n := atomic.LoadInt32(&provider.refreshes); n != 0 {
		t.Errorf("Expected no refresh for non-expiring token, got %d", n)
	}
}

func TestStore_ForceRefreshBypassesBuffer(t *testing.T) {
	t0 := time.Now()
	store, provider, _ := setupStore(t, t0.Add(time.Hour).Unix())
	store.now = func() time.Time { return t0 }

	cred, err := store.ForceRefresh(context.Background(), "int_1", "group-9")
	if err != nil {
		t.Fatalf("ForceRefresh failed: %v", err)
	}
	if cred.AccessToken != "fresh-token" {
		t.Errorf("Expected refreshed token, got %s", cred.AccessToken)
	}
	if n := atomic.LoadInt32(&provider.refreshes); n != 1 {
		t.Errorf("Expected 1 refresh, got %d", n)
	}
}

func TestStore_UnknownPrincipal(t *testing.T) {
	store, _, _ := setupStore(t, 0)

	if _, err := store.GetValidToken(context.Background(), "int_1", "nobody"); err == nil {
		t.Error("Expected error for unknown principal")
	}
}

func TestStore_RevokeDeletesCredential(t *testing.T) {
	store, _, creds := setupStore(t, 0)

	// Load into cache first.
	if _, err := store.GetValidToken(context.Background(), "int_1", "group-9"); err != nil {
		t.Fatalf("GetValidToken failed: %v", err)
	}
	if err := store.Revoke("int_1", "group-9"); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	stored, err := creds.GetByPrincipal("int_1", "group-9")
	if err != nil {
		t.Fatalf("GetByPrincipal failed: %v", err)
	}
	if stored != nil {
		t.Error("Expected credential to be deleted")
	}
}
