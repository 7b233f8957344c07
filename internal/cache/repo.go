package cache

import (
	"context"
	"time"

	"github.com/wesm/issuemirror/internal/models"
)

// Fetcher reads resources from the remote tracker. The GetUpdated* calls are
// conditional on a previously stored SyncToken.
type Fetcher interface {
	GetIssues(ctx context.Context, repoID string) ([]*models.Issue, error)
	GetLabels(ctx context.Context, repoID string) ([]*models.Label, error)
	GetMilestones(ctx context.Context, repoID string) ([]*models.Milestone, error)
	GetCollaborators(ctx context.Context, repoID string) ([]*models.User, error)

	GetUpdatedIssues(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Issue], error)
	GetUpdatedLabels(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Label], error)
	GetUpdatedMilestones(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Milestone], error)
	GetUpdatedCollaborators(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.User], error)
}

// Mutator pushes local changes to the remote tracker
type Mutator interface {
	CreateIssue(ctx context.Context, repoID string, draft *models.Issue) (*models.Issue, error)
	EditIssue(ctx context.Context, repoID string, id int, edit models.IssueEdit) (*models.Issue, error)
	SetLabels(ctx context.Context, repoID string, id int, labels []string) ([]string, error)
	DeleteIssue(ctx context.Context, repoID string, id int) error

	CreateLabel(ctx context.Context, repoID string, label *models.Label) (*models.Label, error)
	EditLabel(ctx context.Context, repoID string, name string, label *models.Label) (*models.Label, error)
	DeleteLabel(ctx context.Context, repoID string, name string) error

	CreateMilestone(ctx context.Context, repoID string, milestone *models.Milestone) (*models.Milestone, error)
	EditMilestone(ctx context.Context, repoID string, milestone *models.Milestone) (*models.Milestone, error)
	DeleteMilestone(ctx context.Context, repoID string, id int) error
}

// Repo is the full remote capability
type Repo interface {
	Fetcher
	Mutator

	// Login verifies the configured credentials
	Login(ctx context.Context) error
	// RateLimit returns the remaining calls and when the quota resets
	RateLimit(ctx context.Context) (int, time.Time, error)
}
