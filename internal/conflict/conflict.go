// Package conflict implements three-way conflict detection and
// resolution between the state just before a disconnect, the state just
// after re-hydrating from the remote service, and the mutations queued
// while offline.
package conflict

import (
	"log/slog"

	"github.com/hpkv-io/multiplayer-go/internal/metrics"
	"github.com/hpkv-io/multiplayer-go/internal/pathops"
	"github.com/hpkv-io/multiplayer-go/internal/syncqueue"
	"github.com/hpkv-io/multiplayer-go/internal/coretypes"
)

// OnConflictFunc is the host-supplied policy callback. A nil func, a
// func returning an unrecognised Strategy, or one that panics all fall
// back to KeepRemote. A panic is logged as a
// *coretypes.ConflictResolutionError, an unrecognised Strategy as a plain
// warning, and a nil func is not logged.
type OnConflictFunc func(conflicts []coretypes.Conflict) coretypes.ConflictDecision

// Resolve detects three-way divergence between staleSnapshot (state
// just before disconnect), remoteSnapshot (state just after
// re-hydration), and queue (mutations buffered while offline), then
// resolves it per onConflict's chosen strategy. It returns the ordered
// mutations to apply against the current, post-hydration state.
func Resolve(staleSnapshot, remoteSnapshot map[string]any, queue []syncqueue.Mutation, onConflict OnConflictFunc) []syncqueue.Mutation {
	pending := pendingTopLevelValues(staleSnapshot, queue)

	conflicts := detect(staleSnapshot, remoteSnapshot, pending)
	if len(conflicts) == 0 {
		return queue
	}

	decision := decide(conflicts, onConflict)
	metrics.ConflictsTotal.WithLabelValues(decision.Strategy.String()).Inc()

	switch decision.Strategy {
	case coretypes.KeepLocal:
		return queue
	case coretypes.Merge:
		if decision.MergedValues == nil {
			slog.Warn("conflict: merge strategy chosen with no merged values, falling back to keep-remote")
			return keepRemote(queue, conflictFields(conflicts))
		}
		return []syncqueue.Mutation{syncqueue.NewPatchMutation(decision.MergedValues, false)}
	default: // KeepRemote and anything unrecognised
		return keepRemote(queue, conflictFields(conflicts))
	}
}

// pendingTopLevelValues resolves every queued mutation's patch against
// staleSnapshot (the state as it was before the queue started buffering,
// so a functional patch such as an increment resolves against the value
// the host intended it to apply on top of, not whatever the remote
// happens to hold after re-hydration) and returns, per top-level field,
// the value the queue would leave it at if applied in order.
func pendingTopLevelValues(staleSnapshot map[string]any, queue []syncqueue.Mutation) map[string]any {
	draft := map[string]any{}
	for k, v := range staleSnapshot {
		draft[k] = v
	}

	for _, m := range queue {
		switch m.Kind {
		case syncqueue.KindPatch:
			mergePatch(draft, m.Patch, m.Replace)
		case syncqueue.KindFn:
			if m.Fn != nil {
				mergePatch(draft, m.Fn(draft), m.Replace)
			}
		case syncqueue.KindExplicit:
			for k, v := range m.Explicit.Changes {
				draft[k] = v
			}
			for _, path := range m.Explicit.Deletions {
				pathops.DeleteValue(draft, path)
				pathops.CleanupEmptyParents(draft, path)
			}
		}
	}
	return draft
}

func mergePatch(draft map[string]any, patch any, replace bool) {
	patchMap, ok := patch.(map[string]any)
	if !ok {
		return
	}
	if replace {
		for k := range draft {
			delete(draft, k)
		}
	}
	for k, v := range patchMap {
		draft[k] = v
	}
}

// detect reports every top-level field where stale ≠ remote and
// pending ≠ remote — remote changed under us, and our own pending value
// doesn't already agree with it.
func detect(stale, remote, pending map[string]any) []coretypes.Conflict {
	seen := map[string]bool{}
	var conflicts []coretypes.Conflict
	for field := range stale {
		if field == coretypes.ReservedField || seen[field] {
			continue
		}
		seen[field] = true
		staleV, remoteV, pendingV := stale[field], remote[field], pending[field]
		if !pathops.Equals(staleV, remoteV) && !pathops.Equals(pendingV, remoteV) {
			conflicts = append(conflicts, coretypes.Conflict{
				Field: field, StaleValue: staleV, RemoteValue: remoteV, PendingValue: pendingV,
			})
		}
	}
	for field := range pending {
		if field == coretypes.ReservedField || seen[field] {
			continue
		}
		seen[field] = true
		staleV, remoteV, pendingV := stale[field], remote[field], pending[field]
		if !pathops.Equals(staleV, remoteV) && !pathops.Equals(pendingV, remoteV) {
			conflicts = append(conflicts, coretypes.Conflict{
				Field: field, StaleValue: staleV, RemoteValue: remoteV, PendingValue: pendingV,
			})
		}
	}
	return conflicts
}

func conflictFields(conflicts []coretypes.Conflict) map[string]bool {
	fields := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		fields[c.Field] = true
	}
	return fields
}

// decide invokes the host policy, recovering from a panic and falling
// back to KeepRemote, matching the source's "any other or throwing
// policy defaults to keep-remote" rule.
func decide(conflicts []coretypes.Conflict, onConflict OnConflictFunc) (decision coretypes.ConflictDecision) {
	if onConflict == nil {
		return coretypes.ConflictDecision{Strategy: coretypes.KeepRemote}
	}
	defer func() {
		if r := recover(); r != nil {
			err := &coretypes.ConflictResolutionError{Cause: errorFromPanic(r)}
			slog.Warn(err.Error())
			decision = coretypes.ConflictDecision{Strategy: coretypes.KeepRemote}
		}
	}()
	decision = onConflict(conflicts)
	switch decision.Strategy {
	case coretypes.KeepRemote, coretypes.KeepLocal, coretypes.Merge:
		return decision
	default:
		slog.Warn("conflict: policy returned an unrecognised strategy, falling back to keep-remote", "strategy", int(decision.Strategy))
		return coretypes.ConflictDecision{Strategy: coretypes.KeepRemote}
	}
}

// keepRemote strips conflicting top-level fields from every queued
// mutation's patch, dropping any mutation left with nothing to apply.
func keepRemote(queue []syncqueue.Mutation, conflicting map[string]bool) []syncqueue.Mutation {
	var out []syncqueue.Mutation
	for _, m := range queue {
		stripped, empty := stripConflictingFields(m, conflicting)
		if empty {
			continue
		}
		out = append(out, stripped)
	}
	return out
}

func stripConflictingFields(m syncqueue.Mutation, conflicting map[string]bool) (syncqueue.Mutation, bool) {
	switch m.Kind {
	case syncqueue.KindPatch:
		patchMap, ok := m.Patch.(map[string]any)
		if !ok {
			return m, false
		}
		filtered := map[string]any{}
		for k, v := range patchMap {
			if !conflicting[k] {
				filtered[k] = v
			}
		}
		m.Patch = filtered
		return m, len(filtered) == 0
	case syncqueue.KindExplicit:
		filteredChanges := map[string]any{}
		for k, v := range m.Explicit.Changes {
			if !conflicting[k] {
				filteredChanges[k] = v
			}
		}
		var filteredDeletions [][]string
		for _, path := range m.Explicit.Deletions {
			if len(path) == 0 || !conflicting[path[0]] {
				filteredDeletions = append(filteredDeletions, path)
			}
		}
		m.Explicit = syncqueue.Explicit{Changes: filteredChanges, Deletions: filteredDeletions}
		return m, len(filteredChanges) == 0 && len(filteredDeletions) == 0
	default: // KindFn: resolved lazily, can't statically strip fields; keep as-is.
		return m, false
	}
}

func errorFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{r}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "panic: " + formatPanic(p.v) }

func formatPanic(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "non-error panic value"
}
