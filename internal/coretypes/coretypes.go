// Package coretypes holds the vocabulary shared between the public
// pkg/multiplayer facade and every internal package it wires together:
// the host-facing StateStore contract, the connection and conflict
// state machines, and the typed error hierarchy. Defining these once
// here (rather than in pkg/multiplayer itself) lets internal packages
// depend on the shared types without pkg/multiplayer needing to import
// those same internal packages back, which would otherwise form an
// import cycle. pkg/multiplayer re-exports everything here under its
// own names via type aliases, so host code never imports this package
// directly.
package coretypes

import "time"

// StateTree is a JSON-serialisable mapping that a host application keeps
// in its own store. The reserved top-level field named by ReservedField
// is owned by this package and never written to or read from the remote
// store.
type StateTree = map[string]any

// ReservedField is the top-level field reserved for the core: it is never
// published, subscribed to, or persisted remotely. The core does not write
// connection status, hydration status or metrics into it; those are read
// through GetConnectionStatus and GetMetrics.
const ReservedField = "multiplayer"

// StateStore is the host application's observable container, consumed
// exactly as the host's own code would use it. The orchestrator does not
// wrap SetState: only writes made through Store.Set/SetFunc are queued,
// diffed and published, and a host's direct SetState call is not
// published. The orchestrator applies remote and hydrated state by
// calling SetState itself.
type StateStore interface {
	// GetState returns the current state tree.
	GetState() StateTree

	// SetState applies the patch. When replace is true, patch replaces the
	// entire tree; otherwise it is shallow-merged into the existing tree
	// at the top level, matching the host store's own merge semantics.
	SetState(patch StateTree, replace bool) error

	// Subscribe registers a listener invoked after every SetState. The
	// returned function removes the listener.
	Subscribe(listener func(state, prevState StateTree)) (unsubscribe func())
}

// ConnectionState is the connection lifecycle state machine driving
// orchestrator gating.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ConflictStrategy selects how the conflict resolver resolves a
// three-way divergence between a pre-disconnect snapshot, a
// post-reconnect remote snapshot, and queued local mutations.
type ConflictStrategy int

const (
	KeepRemote ConflictStrategy = iota
	KeepLocal
	Merge
)

func (s ConflictStrategy) String() string {
	switch s {
	case KeepRemote:
		return "keep-remote"
	case KeepLocal:
		return "keep-local"
	case Merge:
		return "merge"
	default:
		return "keep-remote"
	}
}

// Conflict describes a single top-level field whose fresh remote value
// differs from both the pre-disconnect value and the pending local value.
type Conflict struct {
	Field        string
	StaleValue   any
	RemoteValue  any
	PendingValue any
}

// ConflictDecision is what a host's OnConflict callback returns: the
// strategy to apply, plus the merged values to use when Strategy is
// Merge. MergedValues is ignored for every other strategy.
type ConflictDecision struct {
	Strategy     ConflictStrategy
	MergedValues map[string]any
}

// PerformanceMetrics is the read-only snapshot returned by GetMetrics.
type PerformanceMetrics struct {
	HydrationCount       int64
	LastHydrationLatency time.Duration
	QueueDepth           int
	ConflictCount        int64
	WriteCount           int64
	DeleteCount          int64
}

// ConnectionStatus is exposed through GetConnectionStatus.
type ConnectionStatus struct {
	State       ConnectionState
	HasHydrated bool
}
