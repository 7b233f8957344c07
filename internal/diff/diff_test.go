package diff

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type item struct {
	id  int
	val string
}

func (i item) Key() int          { return i.id }
func (i item) Equal(o item) bool { return i == o }

func items(pairs ...any) []item {
	var out []item
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, item{pairs[i].(int), pairs[i+1].(string)})
	}
	return out
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		old     []item
		new     []item
		removed []int
		added   []int
		changed []int
		upserts []int
	}{
		{"both empty", nil, nil, nil, nil, nil, nil},
		{"all new", nil, items(1, "a", 2, "b"), nil, []int{1, 2}, nil, []int{1, 2}},
		{"all removed", items(1, "a", 2, "b"), nil, []int{1, 2}, nil, nil, nil},
		{"identical", items(1, "a"), items(1, "a"), nil, nil, nil, nil},
		{"changed content", items(1, "a", 2, "b"), items(1, "a", 2, "c"), nil, nil, []int{2}, []int{2}},
		{
			"mixed keeps new order",
			items(1, "a", 2, "b", 3, "c"),
			items(4, "d", 3, "x", 1, "a", 5, "e"),
			[]int{2}, []int{4, 5}, []int{3}, []int{4, 3, 5},
		},
		{"changed before added", items(2, "b"), items(2, "B", 3, "c"), nil, []int{3}, []int{2}, []int{2, 3}},
		{"duplicate identity in new uses last", items(1, "a"), items(1, "b", 1, "a"), nil, nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := Compute[int](tt.old, tt.new)
			if diff := cmp.Diff(tt.removed, cs.Removed); diff != "" {
				t.Errorf("removed mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.added, cs.Added); diff != "" {
				t.Errorf("added mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.changed, cs.Changed); diff != "" {
				t.Errorf("changed mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.upserts, cs.Upserts); diff != "" {
				t.Errorf("upserts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestComputePartitionProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	gen := func() []item {
		n := r.Intn(12)
		out := make([]item, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, item{r.Intn(15), string(rune('a' + r.Intn(3)))})
		}
		return out
	}
	keys := func(s []item) map[int]bool {
		m := map[int]bool{}
		for _, it := range s {
			m[it.id] = true
		}
		return m
	}

	for round := 0; round < 500; round++ {
		oldItems, newItems := gen(), gen()
		cs := Compute[int](oldItems, newItems)
		oldKeys, newKeys := keys(oldItems), keys(newItems)

		seen := map[int]string{}
		mark := func(group string, ks []int) {
			for _, k := range ks {
				if prev, ok := seen[k]; ok {
					t.Fatalf("round %d: identity %d in both %s and %s", round, k, prev, group)
				}
				seen[k] = group
			}
		}
		mark("removed", cs.Removed)
		mark("added", cs.Added)
		mark("changed", cs.Changed)

		for _, k := range cs.Removed {
			if !oldKeys[k] || newKeys[k] {
				t.Fatalf("round %d: removed %d must be only in old", round, k)
			}
		}
		if len(cs.Upserts) != len(cs.Added)+len(cs.Changed) {
			t.Fatalf("round %d: upserts %v is not added %v plus changed %v", round, cs.Upserts, cs.Added, cs.Changed)
		}
		last := -1
		for _, k := range cs.Upserts {
			if !newKeys[k] {
				t.Fatalf("round %d: upserted %d not in new", round, k)
			}
			pos := slices.IndexFunc(newItems, func(it item) bool { return it.id == k })
			if pos < last {
				t.Fatalf("round %d: upserts %v out of new-collection order", round, cs.Upserts)
			}
			last = pos
		}
		for _, k := range cs.Added {
			if oldKeys[k] {
				t.Fatalf("round %d: added %d already in old", round, k)
			}
		}
	}
}

func TestComputeIsPure(t *testing.T) {
	oldItems := items(1, "a", 2, "b")
	newItems := items(2, "c", 3, "d")
	first := Compute[int](oldItems, newItems)
	second := Compute[int](oldItems, newItems)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("repeated Compute differs:\n%s", diff)
	}
	if diff := cmp.Diff(items(1, "a", 2, "b"), oldItems, cmp.AllowUnexported(item{})); diff != "" {
		t.Errorf("input mutated:\n%s", diff)
	}
}

func TestKeys(t *testing.T) {
	removed, added := Keys([]int{10, 11, 12}, []int{11, 13, 13})
	if diff := cmp.Diff([]int{10, 12}, removed); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{13}, added); diff != "" {
		t.Errorf("added mismatch (-want +got):\n%s", diff)
	}

	removed, added = Keys[int](nil, nil)
	if removed != nil || added != nil {
		t.Errorf("empty inputs should produce nil sets, got %v %v", removed, added)
	}
}
