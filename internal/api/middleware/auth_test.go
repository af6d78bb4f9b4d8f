package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"
	apiContext "sprintwatch/internal/api/context"
	"sprintwatch/internal/platform/auth"
	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/repositories"
)

func TestAuthMiddleware(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	tokenSvc := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})
	apiKeys := repositories.NewAPIKeyRepository(db)
	middleware := NewAuthMiddleware(tokenSvc, apiKeys)

	rawKey := "swk_live_0123456789abcdef"
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash key: %v", err)
	}

	keyColumns := []string{"id", "organization_id", "name", "key_hash", "key_prefix", "scopes", "expires_at", "last_used_at", "created_at"}

	t.Run("Valid API Key", func(t *testing.T) {
		rows := sqlmock.NewRows(keyColumns).
			AddRow("key_1", "org_123", "ci", string(hash), rawKey[:12], `["read","write"]`, nil, nil, 1234567890)

		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix = ?").
			WithArgs(rawKey[:12]).
			WillReturnRows(rows)
		mock.ExpectExec("UPDATE api_keys SET last_used_at = ?").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req, _ := http.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+rawKey)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if claims.OrganizationID != "org_123" {
				t.Errorf("Expected OrganizationID org_123, got %s", claims.OrganizationID)
			}
			w.WriteHeader(http.StatusOK)
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("API Key Hash Mismatch", func(t *testing.T) {
		wrongKey := "swk_live_0123456789aaaaaa"
		rows := sqlmock.NewRows(keyColumns).
			AddRow("key_1", "org_123", "ci", string(hash), wrongKey[:12], `["read"]`, nil, nil, 1234567890)

		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix = ?").
			WithArgs(wrongKey[:12]).
			WillReturnRows(rows)

		req, _ := http.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+wrongKey)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Expired API Key", func(t *testing.T) {
		expired := time.Now().Add(-time.Hour).Unix()
		rows := sqlmock.NewRows(keyColumns).
			AddRow("key_1", "org_123", "ci", string(hash), rawKey[:12], `["read"]`, expired, nil, 1234567890)

		mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE key_prefix = ?").
			WithArgs(rawKey[:12]).
			WillReturnRows(rows)

		req, _ := http.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+rawKey)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Valid JWT", func(t *testing.T) {
		token, err := tokenSvc.GenerateAccessToken("org_456", []string{"read"})
		if err != nil {
			t.Fatalf("Failed to generate token: %v", err)
		}

		req, _ := http.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if claims.OrganizationID != "org_456" {
				t.Errorf("Expected OrganizationID org_456, got %s", claims.OrganizationID)
			}
			w.WriteHeader(http.StatusOK)
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Garbage Token", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/", nil)
		req.Header.Set("Authorization", "Bearer not-a-real-token")

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Missing Header", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/", nil)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %s", err)
	}
}
