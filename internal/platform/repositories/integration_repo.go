package repositories

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"sprintwatch/internal/platform/models"
)

type IntegrationRepository struct {
	db *sql.DB
}

func NewIntegrationRepository(db *sql.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

func (r *IntegrationRepository) Create(integration *models.Integration) error {
	if integration.ID == "" {
		integration.ID = "int_" + uuid.New().String()
	}
	now := time.Now().Unix()
	integration.CreatedAt = now
	integration.UpdatedAt = now
	if integration.Status == "" {
		integration.Status = "active"
	}

	_, err := r.db.Exec(`
		INSERT INTO integrations (id, organization_id, provider, name, base_url, principal_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, integration.ID, integration.OrganizationID, integration.Provider, integration.Name,
		nullString(integration.BaseURL), integration.PrincipalID, integration.Status,
		integration.CreatedAt, integration.UpdatedAt)
	return err
}

func (r *IntegrationRepository) GetByID(id string) (*models.Integration, error) {
	row := r.db.QueryRow(`
		SELECT id, organization_id, provider, name, base_url, principal_id, status, created_at, updated_at
		FROM integrations WHERE id = ?
	`, id)
	return scanIntegration(row)
}

func (r *IntegrationRepository) List() ([]*models.Integration, error) {
	rows, err := r.db.Query(`
		SELECT id, organization_id, provider, name, base_url, principal_id, status, created_at, updated_at
		FROM integrations ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, i)
	}
	return integrations, rows.Err()
}

func (r *IntegrationRepository) ListActive() ([]*models.Integration, error) {
	rows, err := r.db.Query(`
		SELECT id, organization_id, provider, name, base_url, principal_id, status, created_at, updated_at
		FROM integrations WHERE status = 'active' ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var integrations []*models.Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, i)
	}
	return integrations, rows.Err()
}

func (r *IntegrationRepository) Update(integration *models.Integration) error {
	integration.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		UPDATE integrations SET name = ?, base_url = ?, status = ?, updated_at = ? WHERE id = ?
	`, integration.Name, nullString(integration.BaseURL), integration.Status, integration.UpdatedAt, integration.ID)
	return err
}

func (r *IntegrationRepository) UpdateStatus(id, status string) error {
	_, err := r.db.Exec(`UPDATE integrations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().Unix(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntegration(row rowScanner) (*models.Integration, error) {
	var i models.Integration
	var baseURL sql.NullString

	err := row.Scan(&i.ID, &i.OrganizationID, &i.Provider, &i.Name, &baseURL, &i.PrincipalID,
		&i.Status, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if baseURL.Valid {
		i.BaseURL = baseURL.String
	}
	return &i, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
