package repositories

import (
	"database/sql"
	"time"

	"sprintwatch/internal/platform/models"
)

type CursorRepository struct {
	db *sql.DB
}

func NewCursorRepository(db *sql.DB) *CursorRepository {
	return &CursorRepository{db: db}
}

func (r *CursorRepository) Get(integrationID string) (*models.SyncCursor, error) {
	row := r.db.QueryRow(`
		SELECT integration_id, last_sync_at, last_created, last_updated, last_errors, updated_at
		FROM sync_cursors WHERE integration_id = ?
	`, integrationID)

	var c models.SyncCursor
	err := row.Scan(&c.IntegrationID, &c.LastSyncAt, &c.LastCreated, &c.LastUpdated, &c.LastErrors, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// Advance overwrites the cursor after a sync pass, full or incremental,
// regardless of per-entity errors in the pass.
func (r *CursorRepository) Advance(cursor *models.SyncCursor) error {
	cursor.UpdatedAt = time.Now().Unix()
	_, err := r.db.Exec(`
		INSERT INTO sync_cursors (integration_id, last_sync_at, last_created, last_updated, last_errors, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(integration_id) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_created = excluded.last_created,
			last_updated = excluded.last_updated,
			last_errors = excluded.last_errors,
			updated_at = excluded.updated_at
	`, cursor.IntegrationID, cursor.LastSyncAt, cursor.LastCreated, cursor.LastUpdated,
		cursor.LastErrors, cursor.UpdatedAt)
	return err
}

func (r *CursorRepository) Delete(integrationID string) error {
	_, err := r.db.Exec(`DELETE FROM sync_cursors WHERE integration_id = ?`, integrationID)
	return err
}
