package inherit

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/issuemirror/internal/models"
)

func lookupFrom(issues ...*models.Issue) Lookup {
	byID := make(map[int]*models.Issue, len(issues))
	for _, i := range issues {
		byID[i.ID] = i
	}
	return func(id int) *models.Issue { return byID[id] }
}

func TestPolicyExcluded(t *testing.T) {
	p := DefaultPolicy()
	if !p.Excluded("status.new") {
		t.Error("status labels should be excluded")
	}
	if p.Excluded("feature") || p.Excluded("mystatus.new") {
		t.Error("only prefixed labels are excluded")
	}
	if (Policy{ExcludedPrefixes: []string{""}}).Excluded("anything") {
		t.Error("an empty prefix must not exclude every label")
	}
}

func TestRemovingOnlyParentWithLabelStripsIt(t *testing.T) {
	p10 := &models.Issue{ID: 10, Labels: []string{"feature"}}
	p11 := &models.Issue{ID: 11}
	child := &models.Issue{ID: 5, Labels: []string{"feature"}, Parents: []int{11}}

	res := New(DefaultPolicy(), lookupFrom(p10, p11)).Reconcile(child, []int{10, 11}, nil)

	if child.HasLabel("feature") {
		t.Errorf("feature should be stripped, labels = %v", child.Labels)
	}
	if diff := cmp.Diff(Result{Removed: []string{"feature"}}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestRemainingParentJustifiesLabel(t *testing.T) {
	p10 := &models.Issue{ID: 10, Labels: []string{"feature", "ui"}}
	p11 := &models.Issue{ID: 11, Labels: []string{"feature"}}
	child := &models.Issue{ID: 5, Labels: []string{"feature", "ui"}, Parents: []int{11}}

	New(DefaultPolicy(), lookupFrom(p10, p11)).Reconcile(child, []int{10, 11}, nil)

	if diff := cmp.Diff([]string{"feature"}, child.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestAddedParentContributesNonExcludedLabels(t *testing.T) {
	p := &models.Issue{ID: 10, Labels: []string{"feature", "status.started", "bug"}}
	child := &models.Issue{ID: 5, Labels: []string{"bug"}, Parents: []int{10}}

	res := New(DefaultPolicy(), lookupFrom(p)).Reconcile(child, nil, nil)

	if diff := cmp.Diff([]string{"bug", "feature"}, child.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"feature"}, res.Added); diff != "" {
		t.Errorf("added mismatch (-want +got):\n%s", diff)
	}
}

func TestExcludedLabelsAreNeverStripped(t *testing.T) {
	p := &models.Issue{ID: 10, Labels: []string{"status.done"}}
	child := &models.Issue{ID: 5, Labels: []string{"status.done"}}

	res := New(DefaultPolicy(), lookupFrom(p)).Reconcile(child, []int{10}, nil)

	if res.Changed() || !child.HasLabel("status.done") {
		t.Errorf("excluded label touched: %+v, labels %v", res, child.Labels)
	}
}

func TestMissingParentsAreSkipped(t *testing.T) {
	child := &models.Issue{ID: 5, Labels: []string{"feature"}, Parents: []int{99}}

	res := New(DefaultPolicy(), lookupFrom()).Reconcile(child, []int{98}, nil)

	if res.Changed() {
		t.Errorf("missing parents should contribute nothing: %+v", res)
	}
}

func TestDirectLabelsSurviveParentRemoval(t *testing.T) {
	p := &models.Issue{ID: 10, Labels: []string{"feature"}}
	child := &models.Issue{ID: 5, Labels: []string{"feature"}}
	direct := map[string]struct{}{"feature": {}}

	New(DefaultPolicy(), lookupFrom(p)).Reconcile(child, []int{10}, direct)

	if !child.HasLabel("feature") {
		t.Error("a user-applied label must not be stripped")
	}
}

func TestSwappingParentsKeepsSharedLabel(t *testing.T) {
	p10 := &models.Issue{ID: 10, Labels: []string{"feature"}}
	p12 := &models.Issue{ID: 12, Labels: []string{"feature", "perf"}}
	child := &models.Issue{ID: 5, Labels: []string{"feature"}, Parents: []int{12}}

	New(DefaultPolicy(), lookupFrom(p10, p12)).Reconcile(child, []int{10}, nil)

	if diff := cmp.Diff([]string{"feature", "perf"}, child.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}
