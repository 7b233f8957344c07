// Package edit provides reversible single-field issue edits and an undo/redo
// history on top of the cache's update operation.
package edit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/wesm/issuemirror/internal/models"
)

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Updater reads and updates cached issues. *cache.Cache satisfies it.
type Updater interface {
	Issue(id int) (*models.Issue, bool)
	UpdateIssue(ctx context.Context, original, edited *models.Issue) (*models.Issue, error)
}

// Op is a reversible edit
type Op interface {
	// Apply performs the edit against the current cached issue
	Apply(ctx context.Context, u Updater) error
	// Inverse returns the edit restoring the value captured before Apply
	Inverse() Op
	String() string
}

type fieldOp[V any] struct {
	issueID int
	field   string
	set     func(*models.Issue, V)
	before  V
	after   V
}

func (o *fieldOp[V]) Apply(ctx context.Context, u Updater) error {
	current, ok := u.Issue(o.issueID)
	if !ok {
		return fmt.Errorf("issue #%d: %w", o.issueID, models.ErrNotFound)
	}
	edited := current.Clone()
	o.set(edited, o.after)
	if _, err := u.UpdateIssue(ctx, current, edited); err != nil {
		return fmt.Errorf("failed to set %s of issue #%d: %w", o.field, o.issueID, err)
	}
	return nil
}

func (o *fieldOp[V]) Inverse() Op {
	return &fieldOp[V]{issueID: o.issueID, field: o.field, set: o.set, before: o.after, after: o.before}
}

func (o *fieldOp[V]) String() string {
	return fmt.Sprintf("set %s of #%d", o.field, o.issueID)
}

// SetTitle changes the title of issue
func SetTitle(issue *models.Issue, title string) Op {
	return &fieldOp[string]{
		issueID: issue.ID, field: "title",
		set:    func(i *models.Issue, v string) { i.Title = v },
		before: issue.Title, after: title,
	}
}

// SetDescription changes the description of issue, keeping its parent links
func SetDescription(issue *models.Issue, description string) Op {
	return &fieldOp[string]{
		issueID: issue.ID, field: "description",
		set:    func(i *models.Issue, v string) { i.Description = v },
		before: issue.Description, after: description,
	}
}

// SetState opens or closes issue
func SetState(issue *models.Issue, state models.IssueState) Op {
	return &fieldOp[models.IssueState]{
		issueID: issue.ID, field: "state",
		set:    func(i *models.Issue, v models.IssueState) { i.State = v },
		before: issue.State, after: state,
	}
}

// SetMilestone moves issue to another milestone; 0 clears it
func SetMilestone(issue *models.Issue, milestone int) Op {
	return &fieldOp[int]{
		issueID: issue.ID, field: "milestone",
		set:    func(i *models.Issue, v int) { i.Milestone = v },
		before: issue.Milestone, after: milestone,
	}
}

// SetAssignee assigns issue to login; "" unassigns it
func SetAssignee(issue *models.Issue, login string) Op {
	return &fieldOp[string]{
		issueID: issue.ID, field: "assignee",
		set:    func(i *models.Issue, v string) { i.Assignee = v },
		before: issue.Assignee, after: login,
	}
}

// SetLabels replaces the labels of issue
func SetLabels(issue *models.Issue, labels []string) Op {
	return &fieldOp[[]string]{
		issueID: issue.ID, field: "labels",
		set:    func(i *models.Issue, v []string) { i.Labels = slices.Clone(v) },
		before: slices.Clone(issue.Labels), after: slices.Clone(labels),
	}
}

// SetParents replaces the parent links of issue
func SetParents(issue *models.Issue, parents []int) Op {
	return &fieldOp[[]int]{
		issueID: issue.ID, field: "parents",
		set:    func(i *models.Issue, v []int) { i.Parents = slices.Clone(v) },
		before: slices.Clone(issue.Parents), after: slices.Clone(parents),
	}
}

// History applies edits and keeps them for undo and redo
type History struct {
	updater Updater
	limit   int

	mu   sync.Mutex
	undo []Op
	redo []Op
}

// NewHistory creates a history remembering at most limit edits; limit <= 0
// means unbounded
func NewHistory(u Updater, limit int) *History {
	return &History{updater: u, limit: limit}
}

// Do applies op and records it. A new edit clears the redo stack.
func (h *History) Do(ctx context.Context, op Op) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := op.Apply(ctx, h.updater); err != nil {
		return err
	}
	h.undo = append(h.undo, op)
	if h.limit > 0 && len(h.undo) > h.limit {
		h.undo = slices.Delete(h.undo, 0, len(h.undo)-h.limit)
	}
	h.redo = nil
	return nil
}

// Undo reverts the most recent edit. On failure the edit stays undoable.
func (h *History) Undo(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.undo) == 0 {
		return ErrNothingToUndo
	}
	op := h.undo[len(h.undo)-1]
	if err := op.Inverse().Apply(ctx, h.updater); err != nil {
		return fmt.Errorf("failed to undo %s: %w", op, err)
	}
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, op)
	return nil
}

// Redo reapplies the most recently undone edit
func (h *History) Redo(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.redo) == 0 {
		return ErrNothingToRedo
	}
	op := h.redo[len(h.redo)-1]
	if err := op.Apply(ctx, h.updater); err != nil {
		return fmt.Errorf("failed to redo %s: %w", op, err)
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, op)
	return nil
}

// CanUndo reports whether there is an edit to undo
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether there is an undone edit to reapply
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}
