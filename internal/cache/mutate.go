package cache

import (
	"context"
	"fmt"
	"slices"

	"github.com/wesm/issuemirror/internal/inherit"
	"github.com/wesm/issuemirror/internal/models"
)

// CreateIssue sends a draft to the remote and, on success, inserts the
// server-assigned issue at the front of the cache
func (c *Cache) CreateIssue(ctx context.Context, draft *models.Issue) (*models.Issue, error) {
	if c.Closed() {
		return nil, ErrClosed
	}

	created, err := c.remote.CreateIssue(ctx, c.repoID, draft)
	if err != nil {
		return nil, opError(OpCreate, models.KindIssues, nil, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return created.Clone(), nil
	}
	delete(c.removedIssues, created.ID)
	if existing := c.issueLocked(created.ID); existing != nil {
		existing.CopyFrom(created)
	} else {
		c.issues = append([]*models.Issue{created.Clone()}, c.issues...)
		c.reindexLocked()
	}
	c.publishLocked(models.KindIssues)
	return created.Clone(), nil
}

// UpdateIssue pushes the fields that differ between original and edited.
// When the parent links changed, inherited labels are recomputed before the
// push. On success the cached issue is overwritten in place with the
// server's version; on failure the cache is left untouched.
func (c *Cache) UpdateIssue(ctx context.Context, original, edited *models.Issue) (*models.Issue, error) {
	key := original.ID

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	cached := c.issueLocked(key)
	if cached == nil {
		c.mu.RUnlock()
		return nil, opError(OpUpdate, models.KindIssues, key, models.ErrNotFound)
	}
	if !original.UpdatedAt.IsZero() && cached.UpdatedAt.After(original.UpdatedAt) {
		c.mu.RUnlock()
		return nil, opError(OpUpdate, models.KindIssues, key,
			fmt.Errorf("%w: issue #%d changed remotely at %s", models.ErrConflict, key, cached.UpdatedAt))
	}

	next := edited.Clone()
	next.ID = key
	userAdded, userRemoved := labelChanges(original.Labels, edited.Labels)
	direct := c.directAfterLocked(key, userAdded, userRemoved)
	var inherited inherit.Result
	if !slices.Equal(original.Parents, next.Parents) {
		inherited = inherit.New(c.policy, c.issueLocked).Reconcile(next, original.Parents, direct)
	}
	c.mu.RUnlock()

	edit := models.DiffIssue(original, next)
	if edit.IsEmpty() {
		return next, nil
	}

	result, err := c.pushIssueEdit(ctx, key, edit, next)
	if err != nil {
		return nil, opError(OpUpdate, models.KindIssues, key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return result.Clone(), nil
	}
	if cached := c.issueLocked(key); cached != nil {
		cached.CopyFrom(result)
	}
	if len(direct) > 0 {
		c.direct[key] = direct
	} else {
		delete(c.direct, key)
	}
	c.publishLocked(models.KindIssues)
	if inherited.Changed() {
		c.logger.Debug("inherited labels updated", "issue", key, "added", inherited.Added, "removed", inherited.Removed)
	}
	return result.Clone(), nil
}

// pushIssueEdit sends an edit. A labels-only edit goes through SetLabels.
func (c *Cache) pushIssueEdit(ctx context.Context, id int, edit models.IssueEdit, next *models.Issue) (*models.Issue, error) {
	labelsOnly := edit.SetLabels && edit.Title == nil && edit.Body == nil &&
		edit.State == nil && edit.Milestone == nil && edit.Assignee == nil
	if !labelsOnly {
		return c.remote.EditIssue(ctx, c.repoID, id, edit)
	}

	labels, err := c.remote.SetLabels(ctx, c.repoID, id, edit.Labels)
	if err != nil {
		return nil, err
	}
	result := next.Clone()
	result.Labels = labels
	return result, nil
}

// DeleteIssue deletes an issue remotely and, on success, drops it from the
// cache and from every parent list
func (c *Cache) DeleteIssue(ctx context.Context, id int) error {
	if c.Closed() {
		return ErrClosed
	}
	if err := c.remote.DeleteIssue(ctx, c.repoID, id); err != nil {
		return opError(OpDelete, models.KindIssues, id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	idx, ok := c.issueIndex[id]
	if ok {
		c.issues = slices.Delete(c.issues, idx, idx+1)
		c.reindexLocked()
	}
	c.forgetIssueLocked(id)
	for _, issue := range c.issues {
		issue.RemoveParent(id)
	}
	c.publishLocked(models.KindIssues)
	return nil
}

// CreateLabel creates a label remotely and appends it to the cache
func (c *Cache) CreateLabel(ctx context.Context, draft *models.Label) (*models.Label, error) {
	if c.Closed() {
		return nil, ErrClosed
	}
	created, err := c.remote.CreateLabel(ctx, c.repoID, draft)
	if err != nil {
		return nil, opError(OpCreate, models.KindLabels, draft.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.labels = upsert[string](c.labels, created)
		c.publishLocked(models.KindLabels)
	}
	return created.Clone(), nil
}

// UpdateLabel edits a label remotely. A rename rewrites the label name on
// every cached issue carrying it.
func (c *Cache) UpdateLabel(ctx context.Context, original, edited *models.Label) (*models.Label, error) {
	if c.Closed() {
		return nil, ErrClosed
	}
	if original.Equal(edited) {
		return edited.Clone(), nil
	}
	updated, err := c.remote.EditLabel(ctx, c.repoID, original.Name, edited)
	if err != nil {
		return nil, opError(OpUpdate, models.KindLabels, original.Name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return updated.Clone(), nil
	}
	if cached := find(c.labels, original.Name); cached != nil {
		cached.CopyFrom(updated)
	} else {
		c.labels = append(c.labels, updated.Clone())
	}
	c.publishLocked(models.KindLabels)

	if updated.Name != original.Name && c.renameLabelLocked(original.Name, updated.Name) {
		c.publishLocked(models.KindIssues)
	}
	return updated.Clone(), nil
}

// DeleteLabel deletes a label remotely and, on success, removes it from the
// cache and from every cached issue
func (c *Cache) DeleteLabel(ctx context.Context, name string) error {
	if c.Closed() {
		return ErrClosed
	}
	if err := c.remote.DeleteLabel(ctx, c.repoID, name); err != nil {
		return opError(OpDelete, models.KindLabels, name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.labels = remove(c.labels, name)
	c.publishLocked(models.KindLabels)
	if c.stripLabelLocked(name) {
		c.publishLocked(models.KindIssues)
	}
	return nil
}

// CreateMilestone creates a milestone remotely and appends it to the cache
func (c *Cache) CreateMilestone(ctx context.Context, draft *models.Milestone) (*models.Milestone, error) {
	if c.Closed() {
		return nil, ErrClosed
	}
	created, err := c.remote.CreateMilestone(ctx, c.repoID, draft)
	if err != nil {
		return nil, opError(OpCreate, models.KindMilestones, draft.Title, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.milestones = upsert[int](c.milestones, created)
		c.publishLocked(models.KindMilestones)
	}
	return created.Clone(), nil
}

// UpdateMilestone edits a milestone remotely and overwrites it in place
func (c *Cache) UpdateMilestone(ctx context.Context, original, edited *models.Milestone) (*models.Milestone, error) {
	if c.Closed() {
		return nil, ErrClosed
	}
	if original.Equal(edited) {
		return edited.Clone(), nil
	}
	next := edited.Clone()
	next.ID = original.ID
	updated, err := c.remote.EditMilestone(ctx, c.repoID, next)
	if err != nil {
		return nil, opError(OpUpdate, models.KindMilestones, original.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.milestones = upsert[int](c.milestones, updated)
		c.publishLocked(models.KindMilestones)
	}
	return updated.Clone(), nil
}

// DeleteMilestone deletes a milestone remotely and, on success, removes it
// from the cache and clears it from cached issues
func (c *Cache) DeleteMilestone(ctx context.Context, id int) error {
	if c.Closed() {
		return ErrClosed
	}
	if err := c.remote.DeleteMilestone(ctx, c.repoID, id); err != nil {
		return opError(OpDelete, models.KindMilestones, id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.milestones = remove(c.milestones, id)
	c.publishLocked(models.KindMilestones)
	if c.clearMilestoneLocked(id) {
		c.publishLocked(models.KindIssues)
	}
	return nil
}

// directAfterLocked returns the user-applied label set of an issue after
// applying the user's own label additions and removals
func (c *Cache) directAfterLocked(id int, added, removed []string) map[string]struct{} {
	out := make(map[string]struct{}, len(c.direct[id])+len(added))
	for name := range c.direct[id] {
		out[name] = struct{}{}
	}
	for _, name := range added {
		out[name] = struct{}{}
	}
	for _, name := range removed {
		delete(out, name)
	}
	return out
}

func (c *Cache) renameLabelLocked(from, to string) bool {
	touched := false
	for _, issue := range c.issues {
		if idx := slices.Index(issue.Labels, from); idx >= 0 {
			if issue.HasLabel(to) {
				issue.Labels = slices.Delete(issue.Labels, idx, idx+1)
			} else {
				issue.Labels[idx] = to
			}
			touched = true
		}
	}
	for _, labels := range c.direct {
		if _, ok := labels[from]; ok {
			delete(labels, from)
			labels[to] = struct{}{}
		}
	}
	return touched
}

func labelChanges(before, after []string) (added, removed []string) {
	for _, l := range after {
		if !slices.Contains(before, l) {
			added = append(added, l)
		}
	}
	for _, l := range before {
		if !slices.Contains(after, l) {
			removed = append(removed, l)
		}
	}
	return added, removed
}

func upsert[K comparable, T record[K, T]](list []T, item T) []T {
	for _, existing := range list {
		if existing.Key() == item.Key() {
			existing.CopyFrom(item)
			return list
		}
	}
	return append(list, item.Clone())
}

func remove[K comparable, T keyed[K]](list []T, key K) []T {
	return slices.DeleteFunc(list, func(item T) bool { return item.Key() == key })
}
