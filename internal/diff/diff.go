// Package diff computes change sets between two ordered collections of
// identity-bearing records.
package diff

// Record is an item with a stable identity and a content equality test
type Record[K comparable, T any] interface {
	Key() K
	Equal(T) bool
}

// ChangeSet partitions the identities of two collections. Removed, Added and
// Changed are disjoint; Added and Changed preserve the order of the new
// collection. Upserts holds Added and Changed interleaved in that order, the
// identities whose content the caller must write.
type ChangeSet[K comparable] struct {
	Removed []K
	Added   []K
	Changed []K
	Upserts []K
}

// IsEmpty reports whether the two collections were identical
func (c ChangeSet[K]) IsEmpty() bool {
	return len(c.Removed) == 0 && len(c.Added) == 0 && len(c.Changed) == 0
}

// RemovedSet returns Removed as a membership set
func (c ChangeSet[K]) RemovedSet() map[K]struct{} {
	return toSet(c.Removed)
}

// Compute diffs two record collections by identity and content. An item
// present in both with different content is reported as Changed. When an
// identity repeats within one collection, the last occurrence wins.
func Compute[K comparable, T Record[K, T]](oldItems, newItems []T) ChangeSet[K] {
	old := make(map[K]T, len(oldItems))
	for _, item := range oldItems {
		old[item.Key()] = item
	}

	var cs ChangeSet[K]
	seen := make(map[K]struct{}, len(newItems))
	latest := make(map[K]T, len(newItems))
	var order []K
	for _, item := range newItems {
		k := item.Key()
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			order = append(order, k)
		}
		latest[k] = item
	}

	for _, k := range order {
		prev, ok := old[k]
		switch {
		case !ok:
			cs.Added = append(cs.Added, k)
		case !prev.Equal(latest[k]):
			cs.Changed = append(cs.Changed, k)
		default:
			continue
		}
		cs.Upserts = append(cs.Upserts, k)
	}

	removed := make(map[K]struct{})
	for _, item := range oldItems {
		k := item.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		if _, dup := removed[k]; dup {
			continue
		}
		removed[k] = struct{}{}
		cs.Removed = append(cs.Removed, k)
	}
	return cs
}

// Keys diffs two plain identity lists, such as parent issue ids
func Keys[K comparable](oldKeys, newKeys []K) (removed, added []K) {
	oldSet := toSet(oldKeys)
	newSet := toSet(newKeys)
	for _, k := range oldKeys {
		if _, ok := newSet[k]; !ok {
			removed = appendUnique(removed, k)
		}
	}
	for _, k := range newKeys {
		if _, ok := oldSet[k]; !ok {
			added = appendUnique(added, k)
		}
	}
	return removed, added
}

func toSet[K comparable](keys []K) map[K]struct{} {
	set := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

func appendUnique[K comparable](s []K, k K) []K {
	for _, x := range s {
		if x == k {
			return s
		}
	}
	return append(s, k)
}
