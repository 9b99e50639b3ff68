// Package diffengine computes the writes and deletes needed to bring a
// remote snapshot in line with a local one: deep equality with
// memoisation, skipping functions and the reserved multiplayer subtree.
package diffengine

import (
	"reflect"
	"sort"
	"strings"

	"github.com/hpkv-io/multiplayer-go/internal/pathops"
	"github.com/hpkv-io/multiplayer-go/internal/coretypes"
)

// Write is a leaf that is new or has changed between prev and next.
type Write struct {
	Path  []string
	Value any
}

// Delete is a leaf present in prev but absent from next.
type Delete struct {
	Path []string
}

// Result is the output of one Diff call.
type Result struct {
	Writes  []Write
	Deletes []Delete
}

// keySeparator joins a path into a map key. \x1f (unit separator) is
// vanishingly unlikely to appear in an application field name.
const keySeparator = "\x1f"

func pathKey(path []string) string {
	return strings.Join(path, keySeparator)
}

// Diff compares prev and next, both decomposed to leaves bounded by
// zFactor, and reports what must be written or deleted remotely to
// bring the two in line. Paths under the reserved multiplayer subtree
// and leaf values of type func are always skipped.
func Diff(prev, next map[string]any, zFactor int) Result {
	prevLeaves := pathops.ExtractLeaves(prev, zFactor)
	nextLeaves := pathops.ExtractLeaves(next, zFactor)

	prevByKey := make(map[string]pathops.Leaf, len(prevLeaves))
	for _, l := range prevLeaves {
		if isReserved(l.Path) || isFunc(l.Value) {
			continue
		}
		prevByKey[pathKey(l.Path)] = l
	}

	cmp := pathops.NewComparer()
	var result Result

	nextKeys := make(map[string]struct{}, len(nextLeaves))
	for _, l := range nextLeaves {
		if isReserved(l.Path) || isFunc(l.Value) {
			continue
		}
		key := pathKey(l.Path)
		nextKeys[key] = struct{}{}

		prevLeaf, existed := prevByKey[key]
		if !existed || !cmp.Equals(prevLeaf.Value, l.Value) {
			result.Writes = append(result.Writes, Write{Path: l.Path, Value: l.Value})
		}
	}

	for key, l := range prevByKey {
		if _, stillPresent := nextKeys[key]; !stillPresent {
			result.Deletes = append(result.Deletes, Delete{Path: l.Path})
		}
	}

	sort.Slice(result.Writes, func(i, j int) bool {
		return pathKey(result.Writes[i].Path) < pathKey(result.Writes[j].Path)
	})
	sort.Slice(result.Deletes, func(i, j int) bool {
		return pathKey(result.Deletes[i].Path) < pathKey(result.Deletes[j].Path)
	})

	return result
}

func isReserved(path []string) bool {
	return len(path) > 0 && path[0] == coretypes.ReservedField
}

func isFunc(v any) bool {
	if v == nil {
		return false
	}
	return reflect.ValueOf(v).Kind() == reflect.Func
}
