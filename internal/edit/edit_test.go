package edit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/issuemirror/internal/cache"
	"github.com/wesm/issuemirror/internal/cache/cachetest"
	"github.com/wesm/issuemirror/internal/models"
)

const testRepo = "wesm/argh"

func newTestCache(t *testing.T, issues ...*models.Issue) (*cache.Cache, *cachetest.Repo) {
	t.Helper()
	remote := cachetest.New()
	remote.Seed(testRepo, &cachetest.State{Issues: issues})
	c := cache.New(testRepo, remote)
	c.ReconcileIssues(issues)
	return c, remote
}

func mustIssue(t *testing.T, c *cache.Cache, id int) *models.Issue {
	t.Helper()
	issue, ok := c.Issue(id)
	if !ok {
		t.Fatalf("issue #%d not cached", id)
	}
	return issue
}

func TestUndoRedoTitle(t *testing.T) {
	c, _ := newTestCache(t, &models.Issue{ID: 1, Title: "old", State: models.StateOpen})
	h := NewHistory(c, 0)
	ctx := context.Background()

	if err := h.Do(ctx, SetTitle(mustIssue(t, c, 1), "new")); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got := mustIssue(t, c, 1).Title; got != "new" {
		t.Fatalf("title after Do = %q", got)
	}

	if err := h.Undo(ctx); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	if got := mustIssue(t, c, 1).Title; got != "old" {
		t.Errorf("title after Undo = %q", got)
	}
	if !h.CanRedo() || h.CanUndo() {
		t.Error("expected only redo to be possible")
	}

	if err := h.Redo(ctx); err != nil {
		t.Fatalf("Redo: %v", err)
	}
	if got := mustIssue(t, c, 1).Title; got != "new" {
		t.Errorf("title after Redo = %q", got)
	}
}

func TestFieldOps(t *testing.T) {
	base := &models.Issue{ID: 1, Title: "t", Description: "d", State: models.StateOpen, Labels: []string{"bug"}, Parents: []int{9}}
	tests := []struct {
		name  string
		op    func(*models.Issue) Op
		check func(*models.Issue) bool
	}{
		{"description", func(i *models.Issue) Op { return SetDescription(i, "more") }, func(i *models.Issue) bool {
			return i.Description == "more" && cmp.Equal(i.Parents, []int{9})
		}},
		{"state", func(i *models.Issue) Op { return SetState(i, models.StateClosed) }, func(i *models.Issue) bool { return i.State == models.StateClosed }},
		{"milestone", func(i *models.Issue) Op { return SetMilestone(i, 3) }, func(i *models.Issue) bool { return i.Milestone == 3 }},
		{"assignee", func(i *models.Issue) Op { return SetAssignee(i, "wesm") }, func(i *models.Issue) bool { return i.Assignee == "wesm" }},
		{"labels", func(i *models.Issue) Op { return SetLabels(i, []string{"ui"}) }, func(i *models.Issue) bool { return cmp.Equal(i.Labels, []string{"ui"}) }},
		{"parents", func(i *models.Issue) Op { return SetParents(i, nil) }, func(i *models.Issue) bool { return len(i.Parents) == 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t, base.Clone(), &models.Issue{ID: 9, Title: "parent"})
			h := NewHistory(c, 0)
			ctx := context.Background()
			before := mustIssue(t, c, 1)

			if err := h.Do(ctx, tt.op(before)); err != nil {
				t.Fatalf("Do: %v", err)
			}
			if !tt.check(mustIssue(t, c, 1)) {
				t.Errorf("edit not applied: %+v", mustIssue(t, c, 1))
			}
			if err := h.Undo(ctx); err != nil {
				t.Fatalf("Undo: %v", err)
			}
			after := mustIssue(t, c, 1)
			if after.Title != before.Title || after.Description != before.Description ||
				after.State != before.State || after.Milestone != before.Milestone ||
				after.Assignee != before.Assignee || !cmp.Equal(after.Labels, before.Labels) ||
				!cmp.Equal(after.Parents, before.Parents) {
				t.Errorf("undo did not restore the issue:\nbefore %+v\nafter  %+v", before, after)
			}
		})
	}
}

func TestUndoFailureKeepsEdit(t *testing.T) {
	c, remote := newTestCache(t, &models.Issue{ID: 1, Title: "old"})
	h := NewHistory(c, 0)
	ctx := context.Background()

	if err := h.Do(ctx, SetTitle(mustIssue(t, c, 1), "new")); err != nil {
		t.Fatal(err)
	}
	remote.Errors["EditIssue"] = models.ErrTransport

	err := h.Undo(ctx)
	if !errors.Is(err, models.ErrTransport) || !errors.Is(err, cache.ErrUpdateFailed) {
		t.Fatalf("Undo = %v", err)
	}
	if !h.CanUndo() {
		t.Error("a failed undo must stay undoable")
	}
	if got := mustIssue(t, c, 1).Title; got != "new" {
		t.Errorf("title = %q", got)
	}
}

func TestDoFailureIsNotRecorded(t *testing.T) {
	c, remote := newTestCache(t, &models.Issue{ID: 1, Title: "old"})
	remote.Errors["EditIssue"] = models.ErrTransport
	h := NewHistory(c, 0)

	if err := h.Do(context.Background(), SetTitle(mustIssue(t, c, 1), "new")); err == nil {
		t.Fatal("expected an error")
	}
	if h.CanUndo() {
		t.Error("a failed edit must not be recorded")
	}
}

func TestNewEditClearsRedoAndLimitApplies(t *testing.T) {
	c, _ := newTestCache(t, &models.Issue{ID: 1, Title: "a"})
	h := NewHistory(c, 2)
	ctx := context.Background()

	for _, title := range []string{"b", "c", "d"} {
		if err := h.Do(ctx, SetTitle(mustIssue(t, c, 1), title)); err != nil {
			t.Fatal(err)
		}
	}
	if err := h.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.Undo(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.Undo(ctx); !errors.Is(err, ErrNothingToUndo) {
		t.Errorf("third Undo = %v, want ErrNothingToUndo", err)
	}
	if got := mustIssue(t, c, 1).Title; got != "b" {
		t.Errorf("title = %q, want b", got)
	}

	if err := h.Do(ctx, SetTitle(mustIssue(t, c, 1), "e")); err != nil {
		t.Fatal(err)
	}
	if err := h.Redo(ctx); !errors.Is(err, ErrNothingToRedo) {
		t.Errorf("Redo after a new edit = %v, want ErrNothingToRedo", err)
	}
}

func TestApplyMissingIssue(t *testing.T) {
	c, _ := newTestCache(t)
	op := SetTitle(&models.Issue{ID: 42}, "x")
	if err := op.Apply(context.Background(), c); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Apply = %v, want ErrNotFound", err)
	}
}
