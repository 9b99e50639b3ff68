// Package filter implements the publish/subscribe allow-lists that
// decide which top-level state fields are replicated remotely and which
// remote updates are applied locally.
package filter

import "github.com/hpkv-io/multiplayer-go/internal/keycodec"

// reservedField mirrors pkg/multiplayer.ReservedField; duplicated here
// (rather than imported) to keep this package free of a dependency on
// the public package, which would otherwise create an import cycle once
// pkg/multiplayer wires filter in.
const reservedField = "multiplayer"

// Allowlist decides whether a top-level field passes a publish or
// subscribe filter. An empty Patterns allows every non-reserved field;
// otherwise a field must exactly match a pattern, or match a pattern
// ending in "*" as a prefix.
type Allowlist struct {
	patterns []string
}

// New builds an Allowlist from the configured field patterns. A nil or
// empty slice means "allow everything", matching the default described
// for publishUpdatesFor/subscribeToUpdatesFor.
func New(patterns []string) *Allowlist {
	return &Allowlist{patterns: patterns}
}

// Allows reports whether field may be published or subscribed to. The
// reserved multiplayer field is never allowed, regardless of configuration.
func (a *Allowlist) Allows(field string) bool {
	if field == reservedField {
		return false
	}
	return keycodec.MatchesAllow(field, a.patterns)
}

// Merge combines a field's own pattern list with the shorthand `sync[]`
// list (fields configured via `sync` are both published and subscribed).
func Merge(explicit, sync []string) []string {
	if len(explicit) == 0 && len(sync) == 0 {
		return nil
	}
	out := make([]string, 0, len(explicit)+len(sync))
	out = append(out, explicit...)
	out = append(out, sync...)
	return out
}
