// Package sync coordinates refreshes of every open repository cache against
// the remote tracker.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/issuemirror/internal/cache"
	"github.com/wesm/issuemirror/internal/inherit"
	"github.com/wesm/issuemirror/internal/models"
)

var (
	// ErrRefreshQueued is returned when a refresh of the same repository is
	// already running. The running refresh is repeated once it finishes.
	ErrRefreshQueued = errors.New("refresh already in progress, queued")

	ErrUnknownRepository = errors.New("repository is not open")
	ErrAlreadyOpen       = errors.New("repository is already open")
)

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPolicy sets the excluded-label policy handed to every cache
func WithPolicy(policy inherit.Policy) Option {
	return func(c *Coordinator) { c.policy = policy }
}

// Coordinator owns the open repository caches and refreshes them
type Coordinator struct {
	remote  cache.Repo
	tokens  TokenStore
	logger  *slog.Logger
	policy  inherit.Policy
	workers int

	mu    sync.Mutex
	repos map[string]*repoState
}

// repoState tracks one open repository. running and pending implement the
// one-refresh-at-a-time rule: a request arriving while a refresh runs marks
// pending, and the running refresh goes around once more.
type repoState struct {
	id     string
	cache  *cache.Cache
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running bool
	pending bool
	tokens  map[models.ResourceKind]models.SyncToken
}

// New creates a coordinator fetching through remote and persisting sync
// tokens in tokens
func New(remote cache.Repo, tokens TokenStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:  remote,
		tokens:  tokens,
		logger:  slog.Default(),
		policy:  inherit.DefaultPolicy(),
		workers: 5,
		repos:   make(map[string]*repoState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetWorkers sets the number of concurrent fetches
func (c *Coordinator) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > 10 {
		workers = 10 // Cap at 10 to avoid overwhelming GitHub API
	}
	c.mu.Lock()
	c.workers = workers
	c.mu.Unlock()
}

func (c *Coordinator) workerLimit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workers
}

// OpenRepository performs a full load of every resource kind and registers
// the cache for later refreshes. Labels are loaded and the status labels
// bootstrapped before issues are fetched. A failed collaborator or milestone
// load is logged and that kind starts empty with no sync token, so the next
// refresh fetches it in full; a failed label or issue load fails the open.
func (c *Coordinator) OpenRepository(ctx context.Context, repoID string) (*cache.Cache, error) {
	if _, _, err := models.ParseRepositoryString(repoID); err != nil {
		return nil, err
	}
	if _, ok := c.lookup(repoID); ok {
		return nil, fmt.Errorf("%s: %w", repoID, ErrAlreadyOpen)
	}
	logger := c.logger.With("repo", repoID)

	var (
		labels     []*models.Label
		milestones []*models.Milestone
		users      []*models.User
		labelErr   error
		failedMu   sync.Mutex
	)
	failed := make(map[models.ResourceKind]error)
	optional := func(kind models.ResourceKind, err error) {
		if err == nil {
			return
		}
		logger.Warn("failed to load resource kind, will retry on refresh", "kind", kind, "err", err)
		failedMu.Lock()
		failed[kind] = err
		failedMu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(c.workerLimit())
	g.Go(func() (err error) {
		users, err = c.remote.GetCollaborators(ctx, repoID)
		optional(models.KindCollaborators, wrapFetch(err, models.KindCollaborators, repoID))
		return nil
	})
	g.Go(func() (err error) {
		labels, err = c.remote.GetLabels(ctx, repoID)
		labelErr = wrapFetch(err, models.KindLabels, repoID)
		return nil
	})
	g.Go(func() (err error) {
		milestones, err = c.remote.GetMilestones(ctx, repoID)
		optional(models.KindMilestones, wrapFetch(err, models.KindMilestones, repoID))
		return nil
	})
	_ = g.Wait()
	if labelErr != nil {
		return nil, labelErr
	}

	rc := cache.New(repoID, c.remote, cache.WithLogger(c.logger), cache.WithPolicy(c.policy))
	labels, err := rc.BootstrapStatusLabels(ctx, labels)
	if err != nil {
		logger.Warn("some status labels could not be created", "err", err)
	}

	// the full listing carries the server's own ETag and Date, used as the
	// first incremental token
	issues, err := c.remote.GetUpdatedIssues(ctx, repoID, models.SyncToken{})
	if err != nil {
		rc.Close()
		return nil, wrapFetch(err, models.KindIssues, repoID)
	}
	rc.Load(issues.Items, labels, milestones, users)

	tokens, err := c.tokens.LoadTokens(repoID)
	if err != nil {
		logger.Warn("failed to load sync tokens", "err", err)
		tokens = nil
	}
	if tokens == nil {
		tokens = make(map[models.ResourceKind]models.SyncToken)
	}
	save := func(kind models.ResourceKind, token models.SyncToken) {
		tokens[kind] = token
		if err := c.tokens.SaveToken(repoID, kind, token); err != nil {
			logger.Warn("failed to save sync token", "kind", kind, "err", err)
		}
	}
	// the full load supersedes any stored issue token
	save(models.KindIssues, issues.Token)
	for kind := range failed {
		save(kind, models.SyncToken{})
	}

	rctx, cancel := context.WithCancel(context.Background())
	st := &repoState{id: repoID, cache: rc, ctx: rctx, cancel: cancel, tokens: tokens}

	c.mu.Lock()
	if _, ok := c.repos[repoID]; ok {
		c.mu.Unlock()
		cancel()
		rc.Close()
		return nil, fmt.Errorf("%s: %w", repoID, ErrAlreadyOpen)
	}
	c.repos[repoID] = st
	c.mu.Unlock()

	logger.Info("opened repository", "issues", len(issues.Items), "labels", len(labels),
		"milestones", len(milestones), "collaborators", len(users), "failed_kinds", len(failed))
	return rc, nil
}

// CloseRepository unregisters a repository, cancels its outstanding fetches
// and discards its cache
func (c *Coordinator) CloseRepository(repoID string) error {
	c.mu.Lock()
	st, ok := c.repos[repoID]
	delete(c.repos, repoID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", repoID, ErrUnknownRepository)
	}

	st.cancel()
	st.cache.Close()
	c.logger.Info("closed repository", "repo", repoID)
	return nil
}

// Close closes every open repository
func (c *Coordinator) Close() {
	for _, id := range c.Repositories() {
		_ = c.CloseRepository(id)
	}
}

// Cache returns the cache of an open repository
func (c *Coordinator) Cache(repoID string) (*cache.Cache, bool) {
	st, ok := c.lookup(repoID)
	if !ok {
		return nil, false
	}
	return st.cache, true
}

// Repositories returns the ids of the open repositories, sorted
func (c *Coordinator) Repositories() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.repos))
	for id := range c.repos {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Token returns the sync token currently held for a repository's resource kind
func (c *Coordinator) Token(repoID string, kind models.ResourceKind) (models.SyncToken, bool) {
	st, ok := c.lookup(repoID)
	if !ok {
		return models.SyncToken{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	token, ok := st.tokens[kind]
	return token, ok
}

func (c *Coordinator) lookup(repoID string) (*repoState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.repos[repoID]
	return st, ok
}

// RefreshAll refreshes every open repository concurrently. Repositories
// reconcile independently; the returned error joins the per-repository
// failures. A cycle is skipped when the remote reports no remaining quota.
func (c *Coordinator) RefreshAll(ctx context.Context) error {
	ids := c.Repositories()
	if len(ids) == 0 {
		return nil
	}

	remaining, reset, err := c.remote.RateLimit(ctx)
	if err != nil {
		c.logger.Warn("failed to check rate limit", "err", err)
	} else if remaining == 0 {
		c.logger.Warn("rate limit exhausted, skipping refresh", "reset", reset.Format(time.RFC3339))
		return &models.RateLimitError{ResetTime: reset}
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(c.workerLimit())
	for _, id := range ids {
		g.Go(func() error {
			err := c.Refresh(ctx, id)
			if err != nil && !errors.Is(err, ErrRefreshQueued) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Refresh issues one conditional request per resource kind and reconciles
// the results into the repository's cache. If a refresh of the repository is
// already running, Refresh returns ErrRefreshQueued and the running refresh
// repeats once it completes, even when its own pass failed. The error of the
// last failing pass is returned.
func (c *Coordinator) Refresh(ctx context.Context, repoID string) error {
	st, ok := c.lookup(repoID)
	if !ok {
		return fmt.Errorf("%s: %w", repoID, ErrUnknownRepository)
	}

	st.mu.Lock()
	if st.running {
		st.pending = true
		st.mu.Unlock()
		return ErrRefreshQueued
	}
	st.running = true
	st.mu.Unlock()

	var lastErr error
	for {
		if err := c.refreshOnce(ctx, st); err != nil {
			lastErr = err
		}

		st.mu.Lock()
		if !st.pending || ctx.Err() != nil {
			st.running = false
			st.pending = false
			st.mu.Unlock()
			return lastErr
		}
		st.pending = false
		st.mu.Unlock()
	}
}

// fetched holds the outcome of one conditional request
type fetched[T any] struct {
	update models.Update[T]
	err    error
}

func (c *Coordinator) refreshOnce(ctx context.Context, st *repoState) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(st.ctx, cancel)
	defer stop()

	st.mu.Lock()
	tokens := make(map[models.ResourceKind]models.SyncToken, len(st.tokens))
	for k, v := range st.tokens {
		tokens[k] = v
	}
	st.mu.Unlock()

	var (
		g          errgroup.Group
		users      fetched[*models.User]
		labels     fetched[*models.Label]
		milestones fetched[*models.Milestone]
		issues     fetched[*models.Issue]
	)
	g.SetLimit(c.workerLimit())
	g.Go(func() error {
		users.update, users.err = c.remote.GetUpdatedCollaborators(ctx, st.id, tokens[models.KindCollaborators])
		return nil
	})
	g.Go(func() error {
		labels.update, labels.err = c.remote.GetUpdatedLabels(ctx, st.id, tokens[models.KindLabels])
		return nil
	})
	g.Go(func() error {
		milestones.update, milestones.err = c.remote.GetUpdatedMilestones(ctx, st.id, tokens[models.KindMilestones])
		return nil
	})
	g.Go(func() error {
		issues.update, issues.err = c.remote.GetUpdatedIssues(ctx, st.id, tokens[models.KindIssues])
		return nil
	})
	_ = g.Wait()

	// a closed repository discards whatever arrived
	if st.ctx.Err() != nil || st.cache.Closed() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(c.commit(st, models.KindCollaborators, users.err, users.update.Modified, users.update.Token, func() {
		st.cache.ReconcileCollaborators(users.update.Items)
	}))
	collect(c.commit(st, models.KindLabels, labels.err, labels.update.Modified, labels.update.Token, func() {
		st.cache.ReconcileLabels(labels.update.Items)
	}))
	collect(c.commit(st, models.KindMilestones, milestones.err, milestones.update.Modified, milestones.update.Token, func() {
		st.cache.ReconcileMilestones(milestones.update.Items)
	}))
	collect(c.commit(st, models.KindIssues, issues.err, issues.update.Modified, issues.update.Token, func() {
		st.cache.MergeIssues(issues.update.Items)
	}))
	return errors.Join(errs...)
}

// commit applies one fetched resource kind and stores its new token. A failed
// fetch leaves the cache and the token untouched, as does an unmodified one.
func (c *Coordinator) commit(st *repoState, kind models.ResourceKind, fetchErr error, modified bool, token models.SyncToken, reconcile func()) error {
	if fetchErr != nil {
		err := wrapFetch(fetchErr, kind, st.id)
		c.logger.Warn("skipping resource kind this cycle", "repo", st.id, "kind", kind, "err", fetchErr)
		return err
	}
	if !modified {
		return nil
	}
	// a repository closed mid-cycle keeps neither the content nor the token
	if st.ctx.Err() != nil || st.cache.Closed() {
		return nil
	}

	reconcile()

	st.mu.Lock()
	st.tokens[kind] = token
	st.mu.Unlock()
	if err := c.tokens.SaveToken(st.id, kind, token); err != nil {
		c.logger.Warn("failed to save sync token", "repo", st.id, "kind", kind, "err", err)
	}
	return nil
}

// Run refreshes every open repository each interval until ctx is done
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := c.RefreshAll(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("refresh cycle finished with errors", "err", err)
			}
			c.logger.Debug("refresh cycle complete", "repos", len(c.Repositories()), "took", time.Since(start))
		}
	}
}

func wrapFetch(err error, kind models.ResourceKind, repoID string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to fetch %s for %s: %w", kind, repoID, err)
}
