package cache

import (
	"github.com/wesm/issuemirror/internal/diff"
	"github.com/wesm/issuemirror/internal/models"
)

type record[K comparable, T any] interface {
	diff.Record[K, T]
	Clone() T
	CopyFrom(T)
}

// applySnapshot merges a full remote snapshot into list: removed identities
// are dropped, existing ones are overwritten in place and new ones are
// appended in snapshot order. The change set is empty when nothing changed.
func applySnapshot[K comparable, T record[K, T]](list, incoming []T) ([]T, diff.ChangeSet[K]) {
	cs := diff.Compute[K](list, incoming)
	if cs.IsEmpty() {
		return list, cs
	}

	if len(cs.Removed) > 0 {
		removed := cs.RemovedSet()
		kept := list[:0]
		for _, item := range list {
			if _, ok := removed[item.Key()]; !ok {
				kept = append(kept, item)
			}
		}
		clear(list[len(kept):])
		list = kept
	}

	pos := make(map[K]int, len(list))
	for i, item := range list {
		pos[item.Key()] = i
	}
	for _, item := range incoming {
		if i, ok := pos[item.Key()]; ok {
			if !list[i].Equal(item) {
				list[i].CopyFrom(item)
			}
			continue
		}
		pos[item.Key()] = len(list)
		list = append(list, item.Clone())
	}
	return list, cs
}

// ReconcileIssues merges a full issue snapshot in one batch. Issues absent
// from the snapshot are removed and their ids are dropped from every
// remaining issue's parent list.
func (c *Cache) ReconcileIssues(remote []*models.Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.reviveLocked(remote)
	incoming := c.pruneParentsLocked(remote)
	var cs diff.ChangeSet[int]
	c.issues, cs = applySnapshot[int](c.issues, incoming)
	if cs.IsEmpty() {
		return
	}

	if len(cs.Removed) > 0 {
		for _, id := range cs.Removed {
			c.forgetIssueLocked(id)
		}
		for _, issue := range c.issues {
			for _, id := range cs.Removed {
				issue.RemoveParent(id)
			}
		}
	}
	c.reindexLocked()
	c.publishLocked(models.KindIssues)
	c.logger.Debug("reconciled issues", "added", len(cs.Added), "changed", len(cs.Changed), "removed", len(cs.Removed))
}

// MergeIssues applies an incremental delta: known issues are overwritten in
// place and new ones are prepended, most recent first. Nothing is removed.
func (c *Cache) MergeIssues(delta []*models.Issue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(delta) == 0 {
		return
	}

	c.reviveLocked(delta)
	var fresh []*models.Issue
	changed := false
	seen := make(map[int]struct{}, len(delta))
	for _, issue := range c.pruneParentsLocked(delta) {
		if _, dup := seen[issue.ID]; dup {
			continue
		}
		seen[issue.ID] = struct{}{}
		if existing := c.issueLocked(issue.ID); existing != nil {
			if !existing.Equal(issue) {
				existing.CopyFrom(issue)
				changed = true
			}
			continue
		}
		fresh = append(fresh, issue.Clone())
	}

	if len(fresh) > 0 {
		c.issues = append(fresh, c.issues...)
		c.reindexLocked()
		changed = true
	}
	if changed {
		c.publishLocked(models.KindIssues)
	}
}

// ReconcileLabels merges a full label snapshot. Labels that disappeared are
// also stripped from cached issues.
func (c *Cache) ReconcileLabels(remote []*models.Label) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var cs diff.ChangeSet[string]
	c.labels, cs = applySnapshot[string](c.labels, remote)
	if cs.IsEmpty() {
		return
	}
	c.publishLocked(models.KindLabels)

	touched := false
	for _, name := range cs.Removed {
		if c.stripLabelLocked(name) {
			touched = true
		}
	}
	if touched {
		c.publishLocked(models.KindIssues)
	}
}

// ReconcileMilestones merges a full milestone snapshot. Issues referring to
// a removed milestone lose the reference.
func (c *Cache) ReconcileMilestones(remote []*models.Milestone) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var cs diff.ChangeSet[int]
	c.milestones, cs = applySnapshot[int](c.milestones, remote)
	if cs.IsEmpty() {
		return
	}
	c.publishLocked(models.KindMilestones)

	touched := false
	for _, id := range cs.Removed {
		if c.clearMilestoneLocked(id) {
			touched = true
		}
	}
	if touched {
		c.publishLocked(models.KindIssues)
	}
}

// ReconcileCollaborators merges a full collaborator snapshot
func (c *Cache) ReconcileCollaborators(remote []*models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	var cs diff.ChangeSet[string]
	c.collaborators, cs = applySnapshot[string](c.collaborators, remote)
	if !cs.IsEmpty() {
		c.publishLocked(models.KindCollaborators)
	}
}

// Load populates the cache from a full load of every resource kind
func (c *Cache) Load(issues []*models.Issue, labels []*models.Label, milestones []*models.Milestone, users []*models.User) {
	c.ReconcileCollaborators(users)
	c.ReconcileLabels(labels)
	c.ReconcileMilestones(milestones)
	c.ReconcileIssues(issues)
}

// pruneParentsLocked returns copies of issues without parent links to
// issues that were removed from this cache
func (c *Cache) pruneParentsLocked(issues []*models.Issue) []*models.Issue {
	if len(c.removedIssues) == 0 {
		return issues
	}
	out := make([]*models.Issue, len(issues))
	for i, issue := range issues {
		out[i] = issue
		for _, p := range issue.Parents {
			if _, gone := c.removedIssues[p]; gone {
				out[i] = issue.Clone()
				for id := range c.removedIssues {
					out[i].RemoveParent(id)
				}
				break
			}
		}
	}
	return out
}

// reviveLocked clears the removal mark of issues the remote reports again
func (c *Cache) reviveLocked(issues []*models.Issue) {
	for _, issue := range issues {
		delete(c.removedIssues, issue.ID)
	}
}

func (c *Cache) forgetIssueLocked(id int) {
	c.removedIssues[id] = struct{}{}
	delete(c.direct, id)
}

func (c *Cache) stripLabelLocked(name string) bool {
	touched := false
	for _, issue := range c.issues {
		if issue.RemoveLabel(name) {
			touched = true
		}
	}
	for _, labels := range c.direct {
		delete(labels, name)
	}
	return touched
}

func (c *Cache) clearMilestoneLocked(id int) bool {
	touched := false
	for _, issue := range c.issues {
		if issue.Milestone == id {
			issue.Milestone = 0
			touched = true
		}
	}
	return touched
}
