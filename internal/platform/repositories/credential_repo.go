package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"sprintwatch/internal/platform/models"
)

type CredentialRepository struct {
	db *sql.DB
}

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Create(cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = "cred_" + uuid.New().String()
	}
	now := time.Now().Unix()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO credentials (id, integration_id, principal_id, provider, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cred.ID, cred.IntegrationID, cred.PrincipalID, cred.Provider, cred.AccessToken,
		nullString(cred.RefreshToken), cred.TokenType, cred.Scope, nullInt64(cred.ExpiresAt),
		cred.CreatedAt, cred.UpdatedAt)
	return err
}

func (r *CredentialRepository) GetByPrincipal(integrationID, principalID string) (*models.Credential, error) {
	row := r.db.QueryRow(`
		SELECT id, integration_id, principal_id, provider, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at
		FROM credentials WHERE integration_id = ? AND principal_id = ?
	`, integrationID, principalID)

	var c models.Credential
	var refreshToken sql.NullString
	var expiresAt sql.NullInt64

	err := row.Scan(&c.ID, &c.IntegrationID, &c.PrincipalID, &c.Provider, &c.AccessToken,
		&refreshToken, &c.TokenType, &c.Scope, &expiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if refreshToken.Valid {
		c.RefreshToken = refreshToken.String
	}
	if expiresAt.Valid {
		c.ExpiresAt = expiresAt.Int64
	}
	return &c, nil
}

// UpdateTokens is the refresh write path. Nothing else mutates a credential.
func (r *CredentialRepository) UpdateTokens(cred *models.Credential) error {
	cred.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE credentials SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ? WHERE id = ?
	`, cred.AccessToken, nullString(cred.RefreshToken), nullInt64(cred.ExpiresAt), cred.UpdatedAt, cred.ID)
	return err
}

func (r *CredentialRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM credentials WHERE id = ?`, id)
	return err
}

func (r *CredentialRepository) DeleteByIntegration(integrationID string) error {
	_, err := r.db.Exec(`DELETE FROM credentials WHERE integration_id = ?`, integrationID)
	return err
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
