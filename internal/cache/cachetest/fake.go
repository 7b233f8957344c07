// Package cachetest provides an in-memory remote tracker for tests.
package cachetest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/wesm/issuemirror/internal/models"
)

// State is the remote content of one repository
type State struct {
	Issues        []*models.Issue
	Labels        []*models.Label
	Milestones    []*models.Milestone
	Collaborators []*models.User

	versions map[models.ResourceKind]int
}

// Repo is a fake remote. Errors and Gates are keyed by method name, e.g.
// "CreateLabel" or "GetUpdatedIssues".
type Repo struct {
	mu    sync.Mutex
	repos map[string]*State
	clock time.Time

	// Errors makes the named method fail
	Errors map[string]error
	// Gates blocks the named method until the channel is closed or receives
	Gates map[string]chan struct{}
	// Remaining is reported by RateLimit
	Remaining int

	calls    map[string]int
	inflight map[string]int
	maxIn    map[string]int
	created  []string
}

// New creates an empty fake remote
func New() *Repo {
	return &Repo{
		repos:     make(map[string]*State),
		clock:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Errors:    make(map[string]error),
		Gates:     make(map[string]chan struct{}),
		Remaining: 5000,
		calls:     make(map[string]int),
		inflight:  make(map[string]int),
		maxIn:     make(map[string]int),
	}
}

// Seed installs the remote content of a repository
func (r *Repo) Seed(repoID string, st *State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st.versions = map[models.ResourceKind]int{}
	r.repos[repoID] = st
}

// Mutate runs fn against a repository's remote state and bumps the version
// of kind, as a change made by another client would
func (r *Repo) Mutate(repoID string, kind models.ResourceKind, fn func(st *State, now time.Time)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(repoID)
	fn(st, r.tick())
	st.versions[kind]++
}

// Now returns the fake clock's next instant
func (r *Repo) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tick()
}

// Calls returns how often a method was invoked
func (r *Repo) Calls(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[method]
}

// MaxConcurrent returns the highest number of simultaneous calls seen for a method
func (r *Repo) MaxConcurrent(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxIn[method]
}

// CreatedLabels returns the names of labels created through the fake, in order
func (r *Repo) CreatedLabels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.created)
}

func (r *Repo) state(repoID string) *State {
	st, ok := r.repos[repoID]
	if !ok {
		st = &State{versions: map[models.ResourceKind]int{}}
		r.repos[repoID] = st
	}
	return st
}

func (r *Repo) tick() time.Time {
	r.clock = r.clock.Add(time.Second)
	return r.clock
}

// enter records a call, waits on its gate and returns the injected error
func (r *Repo) enter(ctx context.Context, method string) (func(), error) {
	r.mu.Lock()
	r.calls[method]++
	r.inflight[method]++
	if r.inflight[method] > r.maxIn[method] {
		r.maxIn[method] = r.inflight[method]
	}
	gate := r.Gates[method]
	err := r.Errors[method]
	r.mu.Unlock()

	leave := func() {
		r.mu.Lock()
		r.inflight[method]--
		r.mu.Unlock()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			leave()
			return nil, ctx.Err()
		}
	}
	if err != nil {
		leave()
		return nil, err
	}
	return leave, nil
}

func etag(kind models.ResourceKind, version int) string {
	return fmt.Sprintf(`"%s-%d"`, kind, version)
}

func cloneAll[T interface{ Clone() T }](in []T) []T {
	out := make([]T, len(in))
	for i, v := range in {
		out[i] = v.Clone()
	}
	return out
}

func (r *Repo) Login(ctx context.Context) error {
	leave, err := r.enter(ctx, "Login")
	if err != nil {
		return err
	}
	defer leave()
	return nil
}

func (r *Repo) RateLimit(ctx context.Context) (int, time.Time, error) {
	leave, err := r.enter(ctx, "RateLimit")
	if err != nil {
		return 0, time.Time{}, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Remaining, r.clock.Add(time.Hour), nil
}

func (r *Repo) GetIssues(ctx context.Context, repoID string) ([]*models.Issue, error) {
	leave, err := r.enter(ctx, "GetIssues")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.state(repoID).Issues), nil
}

func (r *Repo) GetLabels(ctx context.Context, repoID string) ([]*models.Label, error) {
	leave, err := r.enter(ctx, "GetLabels")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.state(repoID).Labels), nil
}

func (r *Repo) GetMilestones(ctx context.Context, repoID string) ([]*models.Milestone, error) {
	leave, err := r.enter(ctx, "GetMilestones")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.state(repoID).Milestones), nil
}

func (r *Repo) GetCollaborators(ctx context.Context, repoID string) ([]*models.User, error) {
	leave, err := r.enter(ctx, "GetCollaborators")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneAll(r.state(repoID).Collaborators), nil
}

// GetUpdatedIssues returns issues updated after token.LastCheck, or an
// unmodified result when the ETag still matches
func (r *Repo) GetUpdatedIssues(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Issue], error) {
	leave, err := r.enter(ctx, "GetUpdatedIssues")
	if err != nil {
		return models.Update[*models.Issue]{}, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	tag := etag(models.KindIssues, st.versions[models.KindIssues])
	if token.ETag == tag {
		return models.Update[*models.Issue]{Token: token}, nil
	}
	var delta []*models.Issue
	for _, issue := range st.Issues {
		if token.LastCheck.IsZero() || issue.UpdatedAt.After(token.LastCheck) {
			delta = append(delta, issue.Clone())
		}
	}
	return models.Update[*models.Issue]{
		Items:    delta,
		Token:    models.SyncToken{ETag: tag, LastCheck: r.clock},
		Modified: true,
	}, nil
}

func (r *Repo) GetUpdatedLabels(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Label], error) {
	leave, err := r.enter(ctx, "GetUpdatedLabels")
	if err != nil {
		return models.Update[*models.Label]{}, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(repoID)
	return conditional(token, etag(models.KindLabels, st.versions[models.KindLabels]), r.clock, st.Labels), nil
}

func (r *Repo) GetUpdatedMilestones(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.Milestone], error) {
	leave, err := r.enter(ctx, "GetUpdatedMilestones")
	if err != nil {
		return models.Update[*models.Milestone]{}, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(repoID)
	return conditional(token, etag(models.KindMilestones, st.versions[models.KindMilestones]), r.clock, st.Milestones), nil
}

func (r *Repo) GetUpdatedCollaborators(ctx context.Context, repoID string, token models.SyncToken) (models.Update[*models.User], error) {
	leave, err := r.enter(ctx, "GetUpdatedCollaborators")
	if err != nil {
		return models.Update[*models.User]{}, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state(repoID)
	return conditional(token, etag(models.KindCollaborators, st.versions[models.KindCollaborators]), r.clock, st.Collaborators), nil
}

func conditional[T interface{ Clone() T }](token models.SyncToken, tag string, now time.Time, items []T) models.Update[T] {
	if token.ETag == tag {
		return models.Update[T]{Token: token}
	}
	return models.Update[T]{
		Items:    cloneAll(items),
		Token:    models.SyncToken{ETag: tag, LastCheck: now},
		Modified: true,
	}
}

func (r *Repo) CreateIssue(ctx context.Context, repoID string, draft *models.Issue) (*models.Issue, error) {
	leave, err := r.enter(ctx, "CreateIssue")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	next := 1
	for _, issue := range st.Issues {
		if issue.ID >= next {
			next = issue.ID + 1
		}
	}
	created := draft.Clone()
	created.ID = next
	if created.State == "" {
		created.State = models.StateOpen
	}
	created.CreatedAt = r.tick()
	created.UpdatedAt = created.CreatedAt
	st.Issues = append([]*models.Issue{created}, st.Issues...)
	st.versions[models.KindIssues]++
	return created.Clone(), nil
}

func (r *Repo) EditIssue(ctx context.Context, repoID string, id int, edit models.IssueEdit) (*models.Issue, error) {
	leave, err := r.enter(ctx, "EditIssue")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	idx := slices.IndexFunc(st.Issues, func(i *models.Issue) bool { return i.ID == id })
	if idx < 0 {
		return nil, models.ErrNotFound
	}
	issue := st.Issues[idx]
	if edit.Title != nil {
		issue.Title = *edit.Title
	}
	if edit.Body != nil {
		issue.Description, issue.Parents = models.ParseBody(*edit.Body)
	}
	if edit.State != nil {
		issue.State = *edit.State
	}
	if edit.Milestone != nil {
		issue.Milestone = *edit.Milestone
	}
	if edit.Assignee != nil {
		issue.Assignee = *edit.Assignee
	}
	if edit.SetLabels {
		issue.Labels = slices.Clone(edit.Labels)
	}
	issue.UpdatedAt = r.tick()
	st.versions[models.KindIssues]++
	return issue.Clone(), nil
}

func (r *Repo) SetLabels(ctx context.Context, repoID string, id int, labels []string) ([]string, error) {
	leave, err := r.enter(ctx, "SetLabels")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	idx := slices.IndexFunc(st.Issues, func(i *models.Issue) bool { return i.ID == id })
	if idx < 0 {
		return nil, models.ErrNotFound
	}
	st.Issues[idx].Labels = slices.Clone(labels)
	st.Issues[idx].UpdatedAt = r.tick()
	st.versions[models.KindIssues]++
	return slices.Clone(labels), nil
}

func (r *Repo) DeleteIssue(ctx context.Context, repoID string, id int) error {
	leave, err := r.enter(ctx, "DeleteIssue")
	if err != nil {
		return err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	st.Issues = slices.DeleteFunc(st.Issues, func(i *models.Issue) bool { return i.ID == id })
	st.versions[models.KindIssues]++
	return nil
}

func (r *Repo) CreateLabel(ctx context.Context, repoID string, label *models.Label) (*models.Label, error) {
	leave, err := r.enter(ctx, "CreateLabel")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	if slices.ContainsFunc(st.Labels, func(l *models.Label) bool { return l.Name == label.Name }) {
		return nil, fmt.Errorf("label %s already exists: %w", label.Name, models.ErrConflict)
	}
	st.Labels = append(st.Labels, label.Clone())
	st.versions[models.KindLabels]++
	r.created = append(r.created, label.Name)
	return label.Clone(), nil
}

func (r *Repo) EditLabel(ctx context.Context, repoID string, name string, label *models.Label) (*models.Label, error) {
	leave, err := r.enter(ctx, "EditLabel")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	idx := slices.IndexFunc(st.Labels, func(l *models.Label) bool { return l.Name == name })
	if idx < 0 {
		return nil, models.ErrNotFound
	}
	st.Labels[idx] = label.Clone()
	for _, issue := range st.Issues {
		if i := slices.Index(issue.Labels, name); i >= 0 {
			issue.Labels[i] = label.Name
		}
	}
	st.versions[models.KindLabels]++
	return label.Clone(), nil
}

func (r *Repo) DeleteLabel(ctx context.Context, repoID string, name string) error {
	leave, err := r.enter(ctx, "DeleteLabel")
	if err != nil {
		return err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	st.Labels = slices.DeleteFunc(st.Labels, func(l *models.Label) bool { return l.Name == name })
	st.versions[models.KindLabels]++
	return nil
}

func (r *Repo) CreateMilestone(ctx context.Context, repoID string, milestone *models.Milestone) (*models.Milestone, error) {
	leave, err := r.enter(ctx, "CreateMilestone")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	created := milestone.Clone()
	created.ID = len(st.Milestones) + 1
	created.Open = true
	st.Milestones = append(st.Milestones, created)
	st.versions[models.KindMilestones]++
	return created.Clone(), nil
}

func (r *Repo) EditMilestone(ctx context.Context, repoID string, milestone *models.Milestone) (*models.Milestone, error) {
	leave, err := r.enter(ctx, "EditMilestone")
	if err != nil {
		return nil, err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	idx := slices.IndexFunc(st.Milestones, func(m *models.Milestone) bool { return m.ID == milestone.ID })
	if idx < 0 {
		return nil, models.ErrNotFound
	}
	st.Milestones[idx] = milestone.Clone()
	st.versions[models.KindMilestones]++
	return milestone.Clone(), nil
}

func (r *Repo) DeleteMilestone(ctx context.Context, repoID string, id int) error {
	leave, err := r.enter(ctx, "DeleteMilestone")
	if err != nil {
		return err
	}
	defer leave()
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(repoID)
	st.Milestones = slices.DeleteFunc(st.Milestones, func(m *models.Milestone) bool { return m.ID == id })
	st.versions[models.KindMilestones]++
	return nil
}
