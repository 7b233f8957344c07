package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/issuemirror/internal/models"
	"golang.org/x/oauth2"
)

const perPage = 100

// GitHubClient implements the remote tracker capability over the GitHub REST
// API, with issue deletion going through GraphQL
type GitHubClient struct {
	client *github.Client
	gql    *GraphQLClient
	logger *slog.Logger
}

// Option configures a GitHubClient
type Option func(*GitHubClient, *http.Client)

// WithBaseURLs points the client at another REST and GraphQL endpoint, such
// as GitHub Enterprise or a test server
func WithBaseURLs(restURL, graphqlURL string) Option {
	return func(c *GitHubClient, hc *http.Client) {
		if u, err := url.Parse(restURL); err == nil {
			if u.Path == "" || u.Path[len(u.Path)-1] != '/' {
				u.Path += "/"
			}
			c.client.BaseURL = u
		}
		c.gql = NewEnterpriseGraphQLClient(graphqlURL, hc)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *GitHubClient, _ *http.Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewGitHubClient creates a new GitHub API client
func NewGitHubClient(token string, opts ...Option) *GitHubClient {
	var tc *http.Client

	if token != "" {
		// Create an authenticated client if a token is provided
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	c := &GitHubClient{
		client: github.NewClient(tc),
		gql:    NewGraphQLClient(tc),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c, tc)
	}
	c.gql.logger = c.logger
	return c
}

// Login verifies the token by fetching the authenticated user
func (c *GitHubClient) Login(ctx context.Context) error {
	user, _, err := c.client.Users.Get(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", translate(err))
	}
	c.logger.Info("authenticated", "login", user.GetLogin())
	return nil
}

// RateLimit returns the remaining core API calls and when the quota resets
func (c *GitHubClient) RateLimit(ctx context.Context) (int, time.Time, error) {
	limits, _, err := c.client.RateLimits(ctx)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get rate limit: %w", translate(err))
	}
	core := limits.GetCore()
	if core == nil {
		return 0, time.Time{}, fmt.Errorf("failed to get rate limit: %w: no core quota reported", models.ErrTransport)
	}
	return core.Remaining, core.Reset.Time, nil
}

// GetIssues gets every issue of a repository, most recently updated first.
// Pull requests are skipped.
func (c *GitHubClient) GetIssues(ctx context.Context, repoID string) ([]*models.Issue, error) {
	update, err := c.GetUpdatedIssues(ctx, repoID, models.SyncToken{})
	if err != nil {
		return nil, err
	}
	return update.Items, nil
}

// GetLabels gets every label of a repository
func (c *GitHubClient) GetLabels(ctx context.Context, repoID string) ([]*models.Label, error) {
	update, err := c.GetUpdatedLabels(ctx, repoID, models.SyncToken{})
	if err != nil {
		return nil, err
	}
	return update.Items, nil
}

// GetMilestones gets every open and closed milestone of a repository
func (c *GitHubClient) GetMilestones(ctx context.Context, repoID string) ([]*models.Milestone, error) {
	update, err := c.GetUpdatedMilestones(ctx, repoID, models.SyncToken{})
	if err != nil {
		return nil, err
	}
	return update.Items, nil
}

// GetCollaborators gets every collaborator of a repository
func (c *GitHubClient) GetCollaborators(ctx context.Context, repoID string) ([]*models.User, error) {
	update, err := c.GetUpdatedCollaborators(ctx, repoID, models.SyncToken{})
	if err != nil {
		return nil, err
	}
	return update.Items, nil
}

// GetUpdatedIssues gets the issues updated since token.LastCheck. The
// request is conditional on token.ETag.
func (c *GitHubClient) GetUpdatedIssues(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Issue], error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return models.Update[*models.Issue]{}, err
	}
	q := url.Values{
		"state":     {"all"},
		"sort":      {"updated"},
		"direction": {"desc"},
	}
	if !token.LastCheck.IsZero() {
		q.Set("since", token.LastCheck.UTC().Format(time.RFC3339))
	}

	page, err := conditionalList[*github.Issue](ctx, c.client, fmt.Sprintf("repos/%v/%v/issues", owner, name), q, token)
	if err != nil {
		return models.Update[*models.Issue]{}, fmt.Errorf("failed to list issues: %w", err)
	}
	out := models.Update[*models.Issue]{Token: page.token, Modified: page.modified}
	for _, issue := range page.items {
		if issue.IsPullRequest() {
			continue
		}
		out.Items = append(out.Items, ConvertGitHubIssue(issue))
	}
	if out.Modified {
		c.logger.Debug("fetched issues", "repo", repoID, "count", len(out.Items), "since", token.LastCheck)
	}
	return out, nil
}

// GetUpdatedLabels gets the full label list when it changed since token
func (c *GitHubClient) GetUpdatedLabels(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Label], error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return models.Update[*models.Label]{}, err
	}
	page, err := conditionalList[*github.Label](ctx, c.client, fmt.Sprintf("repos/%v/%v/labels", owner, name), url.Values{}, token)
	if err != nil {
		return models.Update[*models.Label]{}, fmt.Errorf("failed to list labels: %w", err)
	}
	return convertUpdate(page, ConvertGitHubLabel), nil
}

// GetUpdatedMilestones gets the full milestone list when it changed since token
func (c *GitHubClient) GetUpdatedMilestones(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Milestone], error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return models.Update[*models.Milestone]{}, err
	}
	q := url.Values{"state": {"all"}}
	page, err := conditionalList[*github.Milestone](ctx, c.client, fmt.Sprintf("repos/%v/%v/milestones", owner, name), q, token)
	if err != nil {
		return models.Update[*models.Milestone]{}, fmt.Errorf("failed to list milestones: %w", err)
	}
	return convertUpdate(page, ConvertGitHubMilestone), nil
}

// GetUpdatedCollaborators gets the full collaborator list when it changed since token
func (c *GitHubClient) GetUpdatedCollaborators(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.User], error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return models.Update[*models.User]{}, err
	}
	page, err := conditionalList[*github.User](ctx, c.client, fmt.Sprintf("repos/%v/%v/collaborators", owner, name), url.Values{}, token)
	if err != nil {
		return models.Update[*models.User]{}, fmt.Errorf("failed to list collaborators: %w", err)
	}
	return convertUpdate(page, ConvertGitHubUser), nil
}

// listing is every page of a conditional list request
type listing[T any] struct {
	items    []T
	token    models.SyncToken
	modified bool
}

// conditionalList fetches every page of a list endpoint. The first request
// carries If-None-Match; a 304 answer reports the list as unmodified and
// keeps the old token.
func conditionalList[T any](ctx context.Context, client *github.Client, path string, q url.Values, token models.SyncToken) (listing[T], error) {
	q.Set("per_page", strconv.Itoa(perPage))
	out := listing[T]{token: token}

	for page := 1; page != 0; {
		if page > 1 {
			q.Set("page", strconv.Itoa(page))
		}
		req, err := client.NewRequest(http.MethodGet, path+"?"+q.Encode(), nil)
		if err != nil {
			return listing[T]{}, fmt.Errorf("failed to build request: %w", err)
		}
		if page == 1 && token.ETag != "" {
			req.Header.Set("If-None-Match", token.ETag)
		}

		var items []T
		resp, err := client.Do(ctx, req, &items)
		if resp != nil && resp.StatusCode == http.StatusNotModified {
			return listing[T]{token: token}, nil
		}
		if err != nil {
			return listing[T]{}, translate(err)
		}

		if page == 1 {
			out.token = models.SyncToken{ETag: resp.Header.Get("ETag"), LastCheck: serverTime(resp.Response)}
			out.modified = true
		}
		out.items = append(out.items, items...)
		page = resp.NextPage
	}
	return out, nil
}

func convertUpdate[G any, M any](page listing[G], convert func(G) M) models.Update[M] {
	out := models.Update[M]{Token: page.token, Modified: page.modified}
	for _, item := range page.items {
		out.Items = append(out.Items, convert(item))
	}
	return out
}

// serverTime returns the response's Date header, or the local time when the
// server sent none
func serverTime(resp *http.Response) time.Time {
	if resp != nil {
		if t, err := http.ParseTime(resp.Header.Get("Date")); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// CreateIssue creates an issue and returns it with its server-assigned number
func (c *GitHubClient) CreateIssue(ctx context.Context, repoID string, draft *models.Issue) (*models.Issue, error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return nil, err
	}
	req := &github.IssueRequest{
		Title:  github.String(draft.Title),
		Body:   github.String(draft.Body()),
		Labels: nonNil(draft.Labels),
	}
	if draft.Milestone != 0 {
		req.Milestone = github.Int(draft.Milestone)
	}
	if draft.Assignee != "" {
		req.Assignees = &[]string{draft.Assignee}
	}

	issue, _, err := c.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", translate(err))
	}
	return ConvertGitHubIssue(issue), nil
}

// EditIssue sends the changed fields of an issue. A zero milestone clears it.
func (c *GitHubClient) EditIssue(ctx context.Context, repoID string, id int, edit models.IssueEdit) (*models.Issue, error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return nil, err
	}

	body := make(map[string]any)
	if edit.Title != nil {
		body["title"] = *edit.Title
	}
	if edit.Body != nil {
		body["body"] = *edit.Body
	}
	if edit.State != nil {
		body["state"] = string(*edit.State)
	}
	if edit.Milestone != nil {
		if *edit.Milestone == 0 {
			body["milestone"] = nil
		} else {
			body["milestone"] = *edit.Milestone
		}
	}
	if edit.Assignee != nil {
		assignees := []string{}
		if *edit.Assignee != "" {
			assignees = append(assignees, *edit.Assignee)
		}
		body["assignees"] = assignees
	}
	if edit.SetLabels {
		body["labels"] = *nonNil(edit.Labels)
	}

	req, err := c.client.NewRequest(http.MethodPatch, fmt.Sprintf("repos/%v/%v/issues/%d", owner, name, id), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	issue := new(github.Issue)
	if _, err := c.client.Do(ctx, req, issue); err != nil {
		return nil, fmt.Errorf("failed to edit issue #%d: %w", id, translate(err))
	}
	return ConvertGitHubIssue(issue), nil
}

// SetLabels replaces the labels of an issue
func (c *GitHubClient) SetLabels(ctx context.Context, repoID string, id int, labels []string) ([]string, error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return nil, err
	}
	set, _, err := c.client.Issues.ReplaceLabelsForIssue(ctx, owner, name, id, *nonNil(labels))
	if err != nil {
		return nil, fmt.Errorf("failed to set labels on issue #%d: %w", id, translate(err))
	}
	names := make([]string, 0, len(set))
	for _, l := range set {
		names = append(names, l.GetName())
	}
	return names, nil
}

// DeleteIssue deletes an issue. REST has no endpoint for this, so it goes
// through the GraphQL deleteIssue mutation.
func (c *GitHubClient) DeleteIssue(ctx context.Context, repoID string, id int) error {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return err
	}
	return c.gql.DeleteIssue(ctx, owner, name, id)
}

// CreateLabel creates a label
func (c *GitHubClient) CreateLabel(ctx context.Context, repoID string, label *models.Label) (*models.Label, error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return nil, err
	}
	created, _, err := c.client.Issues.CreateLabel(ctx, owner, name, &github.Label{
		Name:        github.String(label.Name),
		Color:       github.String(label.Color),
		Description: github.String(label.Description),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create label %s: %w", label.Name, translate(err))
	}
	return ConvertGitHubLabel(created), nil
}

// EditLabel updates the label currently named name. A different label.Name
// renames it.
func (c *GitHubClient) EditLabel(ctx context.Context, repoID string, name string, label *models.Label) (*models.Label, error) {
	owner, repo, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return nil, err
	}
	body := map[string]string{
		"new_name":    label.Name,
		"color":       label.Color,
		"description": label.Description,
	}
	req, err := c.client.NewRequest(http.MethodPatch, fmt.Sprintf("repos/%v/%v/labels/%v", owner, repo, url.PathEscape(name)), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	updated := new(github.Label)
	if _, err := c.client.Do(ctx, req, updated); err != nil {
		return nil, fmt.Errorf("failed to edit label %s: %w", name, translate(err))
	}
	return ConvertGitHubLabel(updated), nil
}

// DeleteLabel deletes a label
func (c *GitHubClient) DeleteLabel(ctx context.Context, repoID string, name string) error {
	owner, repo, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return err
	}
	if _, err := c.client.Issues.DeleteLabel(ctx, owner, repo, name); err != nil {
		return fmt.Errorf("failed to delete label %s: %w", name, translate(err))
	}
	return nil
}

// CreateMilestone creates a milestone
func (c *GitHubClient) CreateMilestone(ctx context.Context, repoID string, milestone *models.Milestone) (*models.Milestone, error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return nil, err
	}
	created, _, err := c.client.Issues.CreateMilestone(ctx, owner, name, toGitHubMilestone(milestone))
	if err != nil {
		return nil, fmt.Errorf("failed to create milestone %s: %w", milestone.Title, translate(err))
	}
	return ConvertGitHubMilestone(created), nil
}

// EditMilestone updates the milestone numbered milestone.ID
func (c *GitHubClient) EditMilestone(ctx context.Context, repoID string, milestone *models.Milestone) (*models.Milestone, error) {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return nil, err
	}
	updated, _, err := c.client.Issues.EditMilestone(ctx, owner, name, milestone.ID, toGitHubMilestone(milestone))
	if err != nil {
		return nil, fmt.Errorf("failed to edit milestone %d: %w", milestone.ID, translate(err))
	}
	return ConvertGitHubMilestone(updated), nil
}

// DeleteMilestone deletes a milestone
func (c *GitHubClient) DeleteMilestone(ctx context.Context, repoID string, id int) error {
	owner, name, err := models.ParseRepositoryString(repoID)
	if err != nil {
		return err
	}
	if _, err := c.client.Issues.DeleteMilestone(ctx, owner, name, id); err != nil {
		return fmt.Errorf("failed to delete milestone %d: %w", id, translate(err))
	}
	return nil
}

func nonNil(s []string) *[]string {
	if s == nil {
		s = []string{}
	}
	return &s
}

func toGitHubMilestone(m *models.Milestone) *github.Milestone {
	state := "closed"
	if m.Open {
		state = "open"
	}
	out := &github.Milestone{
		Title:       github.String(m.Title),
		Description: github.String(m.Description),
		State:       github.String(state),
	}
	if m.DueOn != nil {
		out.DueOn = &github.Timestamp{Time: *m.DueOn}
	}
	return out
}

// ConvertGitHubUser converts a GitHub user to our model
func ConvertGitHubUser(user *github.User) *models.User {
	if user == nil {
		return nil
	}

	return &models.User{
		Login:     user.GetLogin(),
		Name:      user.GetName(),
		AvatarURL: user.GetAvatarURL(),
	}
}

// ConvertGitHubIssue converts a GitHub issue to our model. The parent links
// are parsed out of the body.
func ConvertGitHubIssue(issue *github.Issue) *models.Issue {
	description, parents := models.ParseBody(issue.GetBody())

	out := &models.Issue{
		ID:          issue.GetNumber(),
		Title:       issue.GetTitle(),
		Description: description,
		State:       models.IssueState(issue.GetState()),
		Parents:     parents,
		CreatedAt:   issue.GetCreatedAt().Time,
		UpdatedAt:   issue.GetUpdatedAt().Time,
	}
	for _, label := range issue.Labels {
		out.Labels = append(out.Labels, label.GetName())
	}
	if issue.Milestone != nil {
		out.Milestone = issue.Milestone.GetNumber()
	}
	if issue.Assignee != nil {
		out.Assignee = issue.Assignee.GetLogin()
	} else if len(issue.Assignees) > 0 {
		out.Assignee = issue.Assignees[0].GetLogin()
	}
	return out
}

// ConvertGitHubLabel converts a GitHub label to our model
func ConvertGitHubLabel(label *github.Label) *models.Label {
	return &models.Label{
		Name:        label.GetName(),
		Color:       label.GetColor(),
		Description: label.GetDescription(),
	}
}

// ConvertGitHubMilestone converts a GitHub milestone to our model
func ConvertGitHubMilestone(milestone *github.Milestone) *models.Milestone {
	out := &models.Milestone{
		ID:           milestone.GetNumber(),
		Title:        milestone.GetTitle(),
		Description:  milestone.GetDescription(),
		Open:         milestone.GetState() != "closed",
		OpenIssues:   milestone.GetOpenIssues(),
		ClosedIssues: milestone.GetClosedIssues(),
	}
	if milestone.DueOn != nil {
		due := milestone.DueOn.Time
		out.DueOn = &due
	}
	return out
}
