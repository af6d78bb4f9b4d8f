package sync

import (
	"context"

	"sprintwatch/internal/engine/providers"
	"sprintwatch/internal/platform/models"
	"sprintwatch/internal/platform/repositories"
)

// Applier maps remote entities onto local rows through the idempotent
// upsert path and emits change signals. It is shared by the sync
// orchestrator and the webhook event processor.
type Applier struct {
	entities *repositories.EntityRepository
	notifier Notifier
}

func NewApplier(entities *repositories.EntityRepository, notifier Notifier) *Applier {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Applier{entities: entities, notifier: notifier}
}

func (a *Applier) ApplyRepo(ctx context.Context, integrationID string, remote providers.RemoteRepo) (bool, error) {
	created, err := a.entities.UpsertRepo(&models.Repo{
		IntegrationID:   integrationID,
		ExternalID:      remote.ExternalID,
		Name:            remote.Name,
		FullName:        remote.FullName,
		DefaultBranch:   remote.DefaultBranch,
		URL:             remote.URL,
		Private:         remote.Private,
		RemoteUpdatedAt: remote.UpdatedAt.Unix(),
	})
	if err != nil {
		return false, err
	}
	a.notifier.EntityChanged(ctx, integrationID, "repo", remote.ExternalID, created)
	return created, nil
}

func (a *Applier) ApplyPullRequest(ctx context.Context, integrationID string, remote providers.RemotePullRequest) (bool, error) {
	refs := ExtractTicketRefs(remote.Title, remote.Body, remote.SourceBranch)
	created, err := a.entities.UpsertPullRequest(&models.PullRequest{
		IntegrationID:   integrationID,
		ExternalID:      remote.ExternalID,
		RepoExternalID:  remote.RepoExternalID,
		Title:           remote.Title,
		Body:            remote.Body,
		State:           remote.State,
		Author:          remote.Author,
		SourceBranch:    remote.SourceBranch,
		TargetBranch:    remote.TargetBranch,
		URL:             remote.URL,
		TicketRefs:      refs,
		RemoteUpdatedAt: remote.UpdatedAt.Unix(),
	})
	if err != nil {
		return false, err
	}
	a.notifier.EntityChanged(ctx, integrationID, "pull_request", remote.ExternalID, created)
	if len(refs) > 0 {
		a.notifier.TicketRefsResolved(ctx, integrationID, refs)
	}
	return created, nil
}

func (a *Applier) ApplyCommit(ctx context.Context, integrationID string, remote providers.RemoteCommit) (bool, error) {
	refs := ExtractTicketRefs(remote.Message)
	created, err := a.entities.UpsertCommit(&models.Commit{
		IntegrationID:  integrationID,
		ExternalID:     remote.ExternalID,
		RepoExternalID: remote.RepoExternalID,
		Message:        remote.Message,
		Author:         remote.Author,
		URL:            remote.URL,
		TicketRefs:     refs,
		CommittedAt:    remote.CommittedAt.Unix(),
	})
	if err != nil {
		return false, err
	}
	a.notifier.EntityChanged(ctx, integrationID, "commit", remote.ExternalID, created)
	if len(refs) > 0 {
		a.notifier.TicketRefsResolved(ctx, integrationID, refs)
	}
	return created, nil
}

func (a *Applier) ApplyIssue(ctx context.Context, integrationID string, remote providers.RemoteIssue) (bool, error) {
	created, err := a.entities.UpsertIssue(&models.Issue{
		IntegrationID:    integrationID,
		ExternalID:       remote.ExternalID,
		Key:              remote.Key,
		Title:            remote.Title,
		State:            remote.State,
		Assignee:         remote.Assignee,
		IssueType:        remote.IssueType,
		StoryPoints:      remote.StoryPoints,
		SprintExternalID: remote.SprintID,
		URL:              remote.URL,
		RemoteUpdatedAt:  remote.UpdatedAt.Unix(),
	})
	if err != nil {
		return false, err
	}
	a.notifier.EntityChanged(ctx, integrationID, "issue", remote.ExternalID, created)
	return created, nil
}

func (a *Applier) ApplySprint(ctx context.Context, integrationID string, remote providers.RemoteSprint) (bool, error) {
	created, err := a.entities.UpsertSprint(&models.Sprint{
		IntegrationID:   integrationID,
		ExternalID:      remote.ExternalID,
		Name:            remote.Name,
		State:           remote.State,
		StartsAt:        remote.StartsAt.Unix(),
		EndsAt:          remote.EndsAt.Unix(),
		RemoteUpdatedAt: remote.UpdatedAt.Unix(),
	})
	if err != nil {
		return false, err
	}
	a.notifier.EntityChanged(ctx, integrationID, "sprint", remote.ExternalID, created)
	return created, nil
}

// ApplyChange applies a parsed webhook payload. Payloads carry full
// entity state, so repeated or out-of-order application converges.
func (a *Applier) ApplyChange(ctx context.Context, integrationID string, change *providers.WebhookChange) error {
	if change == nil {
		return nil
	}
	if change.Repo != nil {
		if _, err := a.ApplyRepo(ctx, integrationID, *change.Repo); err != nil {
			return err
		}
	}
	if change.PullRequest != nil {
		if _, err := a.ApplyPullRequest(ctx, integrationID, *change.PullRequest); err != nil {
			return err
		}
	}
	for _, commit := range change.Commits {
		if _, err := a.ApplyCommit(ctx, integrationID, commit); err != nil {
			return err
		}
	}
	if change.Issue != nil {
		if _, err := a.ApplyIssue(ctx, integrationID, *change.Issue); err != nil {
			return err
		}
	}
	if change.Sprint != nil {
		if _, err := a.ApplySprint(ctx, integrationID, *change.Sprint); err != nil {
			return err
		}
	}
	return nil
}
