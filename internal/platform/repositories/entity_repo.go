package repositories

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"sprintwatch/internal/platform/models"
)

// EntityRepository is the single write path for mirrored provider
// entities. Every write is an idempotent upsert on the
// (integration_id, external_id) natural key.
type EntityRepository struct {
	db *sql.DB
}

func NewEntityRepository(db *sql.DB) *EntityRepository {
	return &EntityRepository{db: db}
}

func (r *EntityRepository) UpsertRepo(repo *models.Repo) (bool, error) {
	existing, err := r.getID("repos", repo.IntegrationID, repo.ExternalID)
	if err != nil {
		return false, err
	}
	now := time.Now().Unix()

	if existing == "" {
		repo.ID = "repo_" + uuid.New().String()
		repo.CreatedAt = now
		repo.UpdatedAt = now
		_, err := r.db.Exec(`
			INSERT INTO repos (id, integration_id, external_id, name, full_name, default_branch, url, private, remote_updated_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, repo.ID, repo.IntegrationID, repo.ExternalID, repo.Name, repo.FullName,
			repo.DefaultBranch, repo.URL, repo.Private, repo.RemoteUpdatedAt, repo.CreatedAt, repo.UpdatedAt)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, err
		}
		// Lost an insert race; fall through to update.
	}

	_, err = r.db.Exec(`
		UPDATE repos SET name = ?, full_name = ?, default_branch = ?, url = ?, private = ?, remote_updated_at = ?, updated_at = ?
		WHERE integration_id = ? AND external_id = ?
	`, repo.Name, repo.FullName, repo.DefaultBranch, repo.URL, repo.Private,
		repo.RemoteUpdatedAt, now, repo.IntegrationID, repo.ExternalID)
	return false, err
}

func (r *EntityRepository) UpsertPullRequest(pr *models.PullRequest) (bool, error) {
	existing, err := r.getID("pull_requests", pr.IntegrationID, pr.ExternalID)
	if err != nil {
		return false, err
	}
	now := time.Now().Unix()

	refsJSON, err := json.Marshal(pr.TicketRefs)
	if err != nil {
		return false, err
	}

	if existing == "" {
		pr.ID = "pr_" + uuid.New().String()
		pr.CreatedAt = now
		pr.UpdatedAt = now
		_, err := r.db.Exec(`
			INSERT INTO pull_requests (id, integration_id, external_id, repo_external_id, title, body, state, author, source_branch, target_branch, url, ticket_refs, remote_updated_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, pr.ID, pr.IntegrationID, pr.ExternalID, pr.RepoExternalID, pr.Title, pr.Body,
			pr.State, pr.Author, pr.SourceBranch, pr.TargetBranch, pr.URL, string(refsJSON),
			pr.RemoteUpdatedAt, pr.CreatedAt, pr.UpdatedAt)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, err
		}
	}

	_, err = r.db.Exec(`
		UPDATE pull_requests SET repo_external_id = ?, title = ?, body = ?, state = ?, author = ?, source_branch = ?, target_branch = ?, url = ?, ticket_refs = ?, remote_updated_at = ?, updated_at = ?
		WHERE integration_id = ? AND external_id = ?
	`, pr.RepoExternalID, pr.Title, pr.Body, pr.State, pr.Author, pr.SourceBranch,
		pr.TargetBranch, pr.URL, string(refsJSON), pr.RemoteUpdatedAt, now,
		pr.IntegrationID, pr.ExternalID)
	return false, err
}

func (r *EntityRepository) UpsertCommit(commit *models.Commit) (bool, error) {
	existing, err := r.getID("commits", commit.IntegrationID, commit.ExternalID)
	if err != nil {
		return false, err
	}
	now := time.Now().Unix()

	refsJSON, err := json.Marshal(commit.TicketRefs)
	if err != nil {
		return false, err
	}

	if existing == "" {
		commit.ID = "com_" + uuid.New().String()
		commit.CreatedAt = now
		commit.UpdatedAt = now
		_, err := r.db.Exec(`
			INSERT INTO commits (id, integration_id, external_id, repo_external_id, message, author, url, ticket_refs, committed_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, commit.ID, commit.IntegrationID, commit.ExternalID, commit.RepoExternalID,
			commit.Message, commit.Author, commit.URL, string(refsJSON), commit.CommittedAt,
			commit.CreatedAt, commit.UpdatedAt)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, err
		}
	}

	_, err = r.db.Exec(`
		UPDATE commits SET repo_external_id = ?, message = ?, author = ?, url = ?, ticket_refs = ?, committed_at = ?, updated_at = ?
		WHERE integration_id = ? AND external_id = ?
	`, commit.RepoExternalID, commit.Message, commit.Author, commit.URL, string(refsJSON),
		commit.CommittedAt, now, commit.IntegrationID, commit.ExternalID)
	return false, err
}

func (r *EntityRepository) UpsertIssue(issue *models.Issue) (bool, error) {
	existing, err := r.getID("issues", issue.IntegrationID, issue.ExternalID)
	if err != nil {
		return false, err
	}
	now := time.Now().Unix()

	if existing == "" {
		issue.ID = "iss_" + uuid.New().String()
		issue.CreatedAt = now
		issue.UpdatedAt = now
		_, err := r.db.Exec(`
			INSERT INTO issues (id, integration_id, external_id, key, title, state, assignee, issue_type, story_points, sprint_external_id, url, remote_updated_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, issue.ID, issue.IntegrationID, issue.ExternalID, issue.Key, issue.Title, issue.State,
			issue.Assignee, issue.IssueType, issue.StoryPoints, issue.SprintExternalID, issue.URL,
			issue.RemoteUpdatedAt, issue.CreatedAt, issue.UpdatedAt)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, err
		}
	}

	_, err = r.db.Exec(`
		UPDATE issues SET key = ?, title = ?, state = ?, assignee = ?, issue_type = ?, story_points = ?, sprint_external_id = ?, url = ?, remote_updated_at = ?, updated_at = ?
		WHERE integration_id = ? AND external_id = ?
	`, issue.Key, issue.Title, issue.State, issue.Assignee, issue.IssueType, issue.StoryPoints,
		issue.SprintExternalID, issue.URL, issue.RemoteUpdatedAt, now,
		issue.IntegrationID, issue.ExternalID)
	return false, err
}

func (r *EntityRepository) UpsertSprint(sprint *models.Sprint) (bool, error) {
	existing, err := r.getID("sprints", sprint.IntegrationID, sprint.ExternalID)
	if err != nil {
		return false, err
	}
	now := time.Now().Unix()

	if existing == "" {
		sprint.ID = "spr_" + uuid.New().String()
		sprint.CreatedAt = now
		sprint.UpdatedAt = now
		_, err := r.db.Exec(`
			INSERT INTO sprints (id, integration_id, external_id, name, state, starts_at, ends_at, remote_updated_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, sprint.ID, sprint.IntegrationID, sprint.ExternalID, sprint.Name, sprint.State,
			sprint.StartsAt, sprint.EndsAt, sprint.RemoteUpdatedAt, sprint.CreatedAt, sprint.UpdatedAt)
		if err == nil {
			return true, nil
		}
		if !isUniqueViolation(err) {
			return false, err
		}
	}

	_, err = r.db.Exec(`
		UPDATE sprints SET name = ?, state = ?, starts_at = ?, ends_at = ?, remote_updated_at = ?, updated_at = ?
		WHERE integration_id = ? AND external_id = ?
	`, sprint.Name, sprint.State, sprint.StartsAt, sprint.EndsAt, sprint.RemoteUpdatedAt, now,
		sprint.IntegrationID, sprint.ExternalID)
	return false, err
}

func (r *EntityRepository) CountByIntegration(table, integrationID string) (int, error) {
	switch table {
	case "repos", "pull_requests", "commits", "issues", "sprints":
	default:
		return 0, sql.ErrNoRows
	}
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE integration_id = ?`, integrationID).Scan(&count)
	return count, err
}

func (r *EntityRepository) getID(table, integrationID, externalID string) (string, error) {
	var id string
	err := r.db.QueryRow(`SELECT id FROM `+table+` WHERE integration_id = ? AND external_id = ?`,
		integrationID, externalID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
