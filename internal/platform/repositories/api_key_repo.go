package repositories

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"sprintwatch/internal/platform/models"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(key *models.APIKey) error {
	if key.ID == "" {
		key.ID = "key_" + uuid.New().String()
	}
	key.CreatedAt = time.Now().Unix()

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO api_keys (id, organization_id, name, key_hash, key_prefix, scopes, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.OrganizationID, key.Name, key.KeyHash, key.KeyPrefix, string(scopesJSON),
		key.ExpiresAt, key.CreatedAt)
	return err
}

// GetByPrefix narrows candidates for bcrypt comparison; prefixes are not
// guaranteed unique so the caller checks each candidate's hash.
func (r *APIKeyRepository) GetByPrefix(prefix string) ([]*models.APIKey, error) {
	rows, err := r.db.Query(`
		SELECT id, organization_id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at
		FROM api_keys WHERE key_prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (r *APIKeyRepository) List(organizationID string) ([]*models.APIKey, error) {
	rows, err := r.db.Query(`
		SELECT id, organization_id, name, key_hash, key_prefix, scopes, expires_at, last_used_at, created_at
		FROM api_keys WHERE organization_id = ? ORDER BY created_at DESC
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAPIKeys(rows)
}

func (r *APIKeyRepository) UpdateLastUsed(id string, timestamp int64) error {
	_, err := r.db.Exec(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, timestamp, id)
	return err
}

func (r *APIKeyRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM api_keys WHERE id = ?`, id)
	return err
}

func scanAPIKeys(rows *sql.Rows) ([]*models.APIKey, error) {
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		var scopesStr string
		var expiresAt, lastUsedAt sql.NullInt64

		if err := rows.Scan(&k.ID, &k.OrganizationID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&scopesStr, &expiresAt, &lastUsedAt, &k.CreatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Int64
		}
		if lastUsedAt.Valid {
			k.LastUsedAt = lastUsedAt.Int64
		}
		json.Unmarshal([]byte(scopesStr), &k.Scopes)
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}
