// Package pathops provides pure functions over a mutable draft of a
// StateTree: extracting leaves up to a depth cap, setting and deleting
// values by path, and structural equality with a bounded memoisation
// cache. Callers warrant the input is acyclic; these functions do not
// detect cycles.
package pathops

import (
	"reflect"
	"sort"
)

// Leaf is one decomposed (path, value) pair produced by ExtractLeaves.
type Leaf struct {
	Path  []string
	Value any
}

// ExtractLeaves walks tree depth-first and returns one Leaf per path up
// to length zFactor+1. Once a path reaches that length the remainder —
// whatever subtree, array, or scalar still sits there — is emitted as a
// single leaf rather than decomposed further. Keys are visited in
// sorted order so repeated calls over an unchanged tree produce leaves
// in a stable order.
func ExtractLeaves(tree map[string]any, zFactor int) []Leaf {
	var leaves []Leaf
	stopDepth := zFactor + 1

	var walk func(node any, path []string, depth int)
	walk = func(node any, path []string, depth int) {
		m, isMap := node.(map[string]any)
		if depth >= stopDepth || !isMap {
			leaves = append(leaves, Leaf{Path: append([]string(nil), path...), Value: node})
			return
		}
		if len(m) == 0 {
			return
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(m[k], append(path, k), depth+1)
		}
	}

	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		walk(tree[k], []string{k}, 1)
	}
	return leaves
}

// SetValue creates intermediate objects as needed and stores value at
// path. Arrays are treated as opaque leaves: if an existing node along
// the path is not a map but the path still needs to descend through it,
// that node is replaced with a fresh map (coalescing). A nil or empty
// path is a no-op.
func SetValue(draft map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	cur := draft
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = value
}

// DeleteValue removes the value at path from a map ancestor, reporting
// whether anything was removed. It does not clean up now-empty parents;
// call CleanupEmptyParents for that.
func DeleteValue(draft map[string]any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	cur := draft
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return false
		}
		cur = next
	}
	last := path[len(path)-1]
	if _, ok := cur[last]; !ok {
		return false
	}
	delete(cur, last)
	return true
}

// CleanupEmptyParents walks up from the parent of a just-deleted path,
// removing now-empty intermediate map objects. The top-level field
// (path[0]) is never removed — it is kept present as an empty map so
// hosts observing the tree never lose the key itself, only its contents.
func CleanupEmptyParents(draft map[string]any, path []string) {
	for depth := len(path) - 1; depth >= 2; depth-- {
		parentPath := path[:depth]
		container, ok := mapAtPath(draft, parentPath[:len(parentPath)-1])
		if !ok {
			return
		}
		key := parentPath[len(parentPath)-1]
		child, ok := container[key].(map[string]any)
		if !ok {
			return
		}
		if len(child) > 0 {
			return
		}
		delete(container, key)
	}
}

// mapAtPath navigates to the map at prefix, returning draft itself for
// an empty prefix.
func mapAtPath(draft map[string]any, prefix []string) (map[string]any, bool) {
	cur := draft
	for _, seg := range prefix {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Comparer memoises structural-equality results for the lifetime of a
// single comparison pass (e.g. one DiffEngine.Diff call), bounded so a
// pathological input with many distinct shared subtrees can't grow the
// cache without limit. A Comparer is not safe for concurrent use, and
// must not outlive the pass it was created for: its cache keys subtree
// pairs by map identity, which is only valid while those maps are not
// mutated out from under it.
type Comparer struct {
	cap   int
	cache map[[2]uintptr]bool
}

// NewComparer returns a Comparer scoped to one comparison pass.
func NewComparer() *Comparer {
	return &Comparer{cap: 4096, cache: make(map[[2]uintptr]bool)}
}

// Equals reports whether a and b are structurally equal: maps compare
// by key/value regardless of insertion order, slices elementwise,
// scalars by value. Functions are never equal to anything, including
// another function, since they are never serialised.
func (c *Comparer) Equals(a, b any) bool {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		key, ok := mapIdentityKey(am, bm)
		if ok {
			if cached, found := c.cache[key]; found {
				return cached
			}
			result := c.mapsEqual(am, bm)
			if len(c.cache) < c.cap {
				c.cache[key] = result
			}
			return result
		}
		return c.mapsEqual(am, bm)
	}
	if isFunc(a) || isFunc(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func (c *Comparer) mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !c.Equals(av, bv) {
			return false
		}
	}
	return true
}

// Equals is a convenience one-off comparison for callers that don't need
// to amortise repeated subtree comparisons across many calls.
func Equals(a, b any) bool {
	return NewComparer().Equals(a, b)
}

func isFunc(v any) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}

// mapIdentityKey builds a cache key from the two maps' header pointers.
// Reflect is needed since Go gives no portable way to take a map's
// address directly; ok is false for nil maps, which carry no identity.
func mapIdentityKey(a, b map[string]any) ([2]uintptr, bool) {
	if a == nil || b == nil {
		return [2]uintptr{}, false
	}
	pa := reflect.ValueOf(a).Pointer()
	pb := reflect.ValueOf(b).Pointer()
	return [2]uintptr{pa, pb}, true
}
