package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"sprintwatch/internal/engine/client"
	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/config"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
)

// Stats aggregates one sync pass. Per-entity failures land in Errors
// and never abort the remaining entities.
type Stats struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Stats) count(created bool) {
	if created {
		s.Created++
	} else {
		s.Updated++
	}
}

func (s *Stats) fail(format string, args ...interface{}) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Orchestrator reconciles the local mirror with provider truth, as a
// full bootstrap or an incremental catch-up bounded by the sync cursor.
type Orchestrator struct {
	clients *client.Registry
	applier *Applier
	cursors *repositories.CursorRepository
	cfg     config.SyncConfig
}

func NewOrchestrator(clients *client.Registry, applier *Applier, cursors *repositories.CursorRepository, cfg config.SyncConfig) *Orchestrator {
	return &Orchestrator{clients: clients, applier: applier, cursors: cursors, cfg: cfg}
}

// FullSync enumerates everything the credential can see and pulls
// bounded recent history for each repository.
func (o *Orchestrator) FullSync(ctx context.Context, integration *models.Integration) (*Stats, error) {
	window := o.cfg.HistoryWindow
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return o.run(ctx, integration, time.Now().Add(-window))
}

// IncrementalSync pulls only items changed since the cursor. The cursor
// advances to the pass start time even when some entities failed:
// failed entities reappear on the next pass while they still match the
// changed-since window. Best-effort by design.
func (o *Orchestrator) IncrementalSync(ctx context.Context, integration *models.Integration) (*Stats, error) {
	since := time.Now().Add(-o.defaultWindow())
	cursor, err := o.cursors.Get(integration.ID)
	if err != nil {
		return nil, err
	}
	if cursor != nil && cursor.LastSyncAt > 0 {
		since = time.Unix(cursor.LastSyncAt, 0)
	}
	return o.run(ctx, integration, since)
}

func (o *Orchestrator) run(ctx context.Context, integration *models.Integration, since time.Time) (*Stats, error) {
	c, ok := o.clients.Get(integration.ID)
	if !ok {
		return nil, fmt.Errorf("no client registered for integration %s", integration.ID)
	}
	source := c.Source()

	passStart := time.Now()
	stats := &Stats{}

	repos, err := source.ListRepos(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	for _, repo := range repos {
		created, err := o.applier.ApplyRepo(ctx, integration.ID, repo)
		if err != nil {
			stats.fail("repo %s: %v", repo.ExternalID, err)
			continue
		}
		stats.count(created)

		o.syncPulls(ctx, integration, source, repo, stats)
		o.syncCommits(ctx, integration, source, repo, since, stats)
	}

	o.syncIssues(ctx, integration, source, since, stats)
	o.syncSprints(ctx, integration, source, stats)

	if err := o.cursors.Advance(&models.SyncCursor{
		IntegrationID: integration.ID,
		LastSyncAt:    passStart.Unix(),
		LastCreated:   stats.Created,
		LastUpdated:   stats.Updated,
		LastErrors:    len(stats.Errors),
	}); err != nil {
		return stats, fmt.Errorf("advancing sync cursor: %w", err)
	}

	log.Info().Str("integration_id", integration.ID).Str("provider", integration.Provider).
		Int("created", stats.Created).Int("updated", stats.Updated).
		Int("errors", len(stats.Errors)).Dur("took", time.Since(passStart)).
		Msg("sync pass finished")
	return stats, nil
}

func (o *Orchestrator) syncPulls(ctx context.Context, integration *models.Integration, source providers.Source, repo providers.RemoteRepo, stats *Stats) {
	pulls, err := source.ListOpenPullRequests(ctx, repo)
	if err != nil {
		stats.fail("pull requests for %s: %v", repo.FullName, err)
		return
	}
	for _, pr := range pulls {
		created, err := o.applier.ApplyPullRequest(ctx, integration.ID, pr)
		if err != nil {
			stats.fail("pull request %s: %v", pr.ExternalID, err)
			continue
		}
		stats.count(created)
	}
}

func (o *Orchestrator) syncCommits(ctx context.Context, integration *models.Integration, source providers.Source, repo providers.RemoteRepo, since time.Time, stats *Stats) {
	commits, err := source.ListCommitsSince(ctx, repo, since)
	if err != nil {
		stats.fail("commits for %s: %v", repo.FullName, err)
		return
	}
	for _, commit := range commits {
		created, err := o.applier.ApplyCommit(ctx, integration.ID, commit)
		if err != nil {
			stats.fail("commit %s: %v", commit.ExternalID, err)
			continue
		}
		stats.count(created)
	}
}

func (o *Orchestrator) syncIssues(ctx context.Context, integration *models.Integration, source providers.Source, since time.Time, stats *Stats) {
	issues, err := source.ListIssuesUpdatedSince(ctx, since)
	if err != nil {
		stats.fail("issues: %v", err)
		return
	}
	for _, issue := range issues {
		created, err := o.applier.ApplyIssue(ctx, integration.ID, issue)
		if err != nil {
			stats.fail("issue %s: %v", issue.ExternalID, err)
			continue
		}
		stats.count(created)
	}
}

func (o *Orchestrator) syncSprints(ctx context.Context, integration *models.Integration, source providers.Source, stats *Stats) {
	sprints, err := source.ListSprints(ctx)
	if err != nil {
		stats.fail("sprints: %v", err)
		return
	}
	for _, sprint := range sprints {
		created, err := o.applier.ApplySprint(ctx, integration.ID, sprint)
		if err != nil {
			stats.fail("sprint %s: %v", sprint.ExternalID, err)
			continue
		}
		stats.count(created)
	}
}

func (o *Orchestrator) defaultWindow() time.Duration {
	if o.cfg.DefaultWindow > 0 {
		return o.cfg.DefaultWindow
	}
	return 24 * time.Hour
}
