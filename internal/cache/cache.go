// Package cache holds the in-memory mirror of one repository's issues,
// labels, milestones and collaborators. All writes funnel through the
// cache's apply step, which holds the write lock only while mutating; calls
// into the remote are made without any lock held.
package cache

import (
	"log/slog"
	"sync"

	"github.com/wesm/issuemirror/internal/inherit"
	"github.com/wesm/issuemirror/internal/models"
)

// Change is published once per applied batch. Consumers re-read the cache.
type Change struct {
	RepoID   string
	Kind     models.ResourceKind
	Revision uint64
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the logger used for non-fatal failures
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPolicy sets the excluded-label policy used for inheritance
func WithPolicy(policy inherit.Policy) Option {
	return func(c *Cache) { c.policy = policy }
}

// Cache is the authoritative store for one open repository
type Cache struct {
	repoID string
	remote Mutator
	policy inherit.Policy
	logger *slog.Logger

	mu            sync.RWMutex
	closed        bool
	issues        []*models.Issue
	issueIndex    map[int]int
	labels        []*models.Label
	milestones    []*models.Milestone
	collaborators []*models.User

	// direct holds labels the user applied by hand, per issue id
	direct map[int]map[string]struct{}
	// removedIssues holds ids dropped by reconciliation or deletion
	removedIssues map[int]struct{}

	revisions [4]uint64 // indexed by models.ResourceKind
	subs      map[int]chan Change
	nextSub   int
}

// New creates an empty cache for repoID that pushes writes through remote
func New(repoID string, remote Mutator, opts ...Option) *Cache {
	c := &Cache{
		repoID:        repoID,
		remote:        remote,
		policy:        inherit.DefaultPolicy(),
		logger:        slog.Default(),
		issueIndex:    make(map[int]int),
		direct:        make(map[int]map[string]struct{}),
		removedIssues: make(map[int]struct{}),
		subs:          make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("repo", repoID)
	return c
}

// RepoID returns the repository this cache mirrors
func (c *Cache) RepoID() string { return c.repoID }

// Policy returns the excluded-label policy
func (c *Cache) Policy() inherit.Policy { return c.policy }

// Issues returns a snapshot of the cached issues, most recent first
func (c *Cache) Issues() []*models.Issue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAll(c.issues)
}

// Labels returns a snapshot of the cached labels
func (c *Cache) Labels() []*models.Label {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAll(c.labels)
}

// Milestones returns a snapshot of the cached milestones
func (c *Cache) Milestones() []*models.Milestone {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAll(c.milestones)
}

// Collaborators returns a snapshot of the cached collaborators
func (c *Cache) Collaborators() []*models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneAll(c.collaborators)
}

// Issue returns a copy of the issue with the given id
func (c *Cache) Issue(id int) (*models.Issue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if issue := c.issueLocked(id); issue != nil {
		return issue.Clone(), true
	}
	return nil, false
}

// IndexOfIssue returns the position of the issue in the cached ordering
func (c *Cache) IndexOfIssue(id int) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.issueIndex[id]
	return idx, ok
}

// Label returns a copy of the named label
func (c *Cache) Label(name string) (*models.Label, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if l := find(c.labels, name); l != nil {
		return l.Clone(), true
	}
	return nil, false
}

// Milestone returns a copy of the milestone with the given id
func (c *Cache) Milestone(id int) (*models.Milestone, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m := find(c.milestones, id); m != nil {
		return m.Clone(), true
	}
	return nil, false
}

// Collaborator returns a copy of the collaborator with the given login
func (c *Cache) Collaborator(login string) (*models.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if u := find(c.collaborators, login); u != nil {
		return u.Clone(), true
	}
	return nil, false
}

// DirectLabels returns the labels the user applied to an issue by hand
func (c *Cache) DirectLabels(id int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for name := range c.direct[id] {
		out = append(out, name)
	}
	return out
}

// Revision returns the number of batches applied to a resource kind
func (c *Cache) Revision(kind models.ResourceKind) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revisions[kind]
}

// Subscribe registers for change notifications. A notification is dropped
// when the subscriber's buffer is full, since consumers re-read the cache
// and the pending notification already covers it. The returned func
// unsubscribes.
func (c *Cache) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Close discards the cache. Later writes and reconciliations are no-ops.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
}

// Closed reports whether Close was called
func (c *Cache) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// publishLocked bumps the revision of kind and notifies subscribers.
// Caller holds the write lock.
func (c *Cache) publishLocked(kind models.ResourceKind) {
	c.revisions[kind]++
	change := Change{RepoID: c.repoID, Kind: kind, Revision: c.revisions[kind]}
	for _, ch := range c.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (c *Cache) issueLocked(id int) *models.Issue {
	if idx, ok := c.issueIndex[id]; ok {
		return c.issues[idx]
	}
	return nil
}

func (c *Cache) reindexLocked() {
	clear(c.issueIndex)
	for i, issue := range c.issues {
		c.issueIndex[issue.ID] = i
	}
}

type keyed[K comparable] interface {
	Key() K
}

func find[K comparable, T keyed[K]](list []T, key K) T {
	for _, item := range list {
		if item.Key() == key {
			return item
		}
	}
	var zero T
	return zero
}

func cloneAll[T interface{ Clone() T }](list []T) []T {
	out := make([]T, len(list))
	for i, item := range list {
		out[i] = item.Clone()
	}
	return out
}
