// Package inherit keeps a child issue's labels consistent with the labels of
// the parent issues it links to.
package inherit

import (
	"strings"

	"github.com/wesm/issuemirror/internal/diff"
	"github.com/wesm/issuemirror/internal/models"
)

// DefaultExcludedPrefixes are label prefixes that never propagate to children
var DefaultExcludedPrefixes = []string{"status."}

// Policy classifies labels as excluded from inheritance by name prefix
type Policy struct {
	ExcludedPrefixes []string
}

// DefaultPolicy returns the policy excluding status labels
func DefaultPolicy() Policy {
	return Policy{ExcludedPrefixes: DefaultExcludedPrefixes}
}

// Excluded reports whether a label must not be inherited
func (p Policy) Excluded(name string) bool {
	for _, prefix := range p.ExcludedPrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Lookup resolves a parent id against the cache. It returns nil when the
// parent is no longer cached.
type Lookup func(id int) *models.Issue

// Result lists the labels that were applied to or stripped from the child
type Result struct {
	Added   []string
	Removed []string
}

func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0
}

// Engine recomputes inherited labels when parent links change
type Engine struct {
	policy Policy
	lookup Lookup
}

// New creates an inheritance engine resolving parents through lookup
func New(policy Policy, lookup Lookup) *Engine {
	return &Engine{policy: policy, lookup: lookup}
}

// Reconcile updates issue.Labels after its parent list changed from
// oldParents to issue.Parents. Labels in direct were applied by the user and
// are never stripped. Parents missing from the cache contribute nothing.
func (e *Engine) Reconcile(issue *models.Issue, oldParents []int, direct map[string]struct{}) Result {
	removedParents, addedParents := diff.Keys(oldParents, issue.Parents)

	var res Result
	for _, id := range removedParents {
		parent := e.lookup(id)
		if parent == nil {
			continue
		}
		for _, label := range parent.Labels {
			if e.policy.Excluded(label) {
				continue
			}
			if _, ok := direct[label]; ok {
				continue
			}
			if e.justified(label, issue.Parents) {
				continue
			}
			if issue.RemoveLabel(label) {
				res.Removed = append(res.Removed, label)
			}
		}
	}

	for _, id := range addedParents {
		parent := e.lookup(id)
		if parent == nil {
			continue
		}
		for _, label := range parent.Labels {
			if e.policy.Excluded(label) {
				continue
			}
			if issue.AddLabel(label) {
				res.Added = append(res.Added, label)
			}
		}
	}
	return res
}

// justified reports whether any cached parent in parents still carries label
func (e *Engine) justified(label string, parents []int) bool {
	for _, id := range parents {
		if p := e.lookup(id); p != nil && p.HasLabel(label) {
			return true
		}
	}
	return false
}
