// Package multiplayer turns a local, observable key/value application
// state into a replicated, eventually-consistent shared state backed by
// a remote key-value service reached over a persistent connection.
package multiplayer

import "github.com/hpkv-io/multiplayer-go/internal/coretypes"

// StateTree is a JSON-serialisable mapping that a host application keeps
// in its own store. The reserved top-level field named by ReservedField
// is owned by this package and never written to or read from the remote
// store.
type StateTree = coretypes.StateTree

// ReservedField is the top-level field reserved for the core: it is never
// published, subscribed to, or persisted remotely. The core does not write
// connection status, hydration status or metrics into it; those are read
// through Store.GetConnectionStatus and Store.GetMetrics.
const ReservedField = coretypes.ReservedField

// StateStore is the host application's observable container, consumed
// exactly as the host's own code would use it.
type StateStore = coretypes.StateStore

// ConnectionState is the connection lifecycle state machine driving
// orchestrator gating.
type ConnectionState = coretypes.ConnectionState

const (
	Disconnected = coretypes.Disconnected
	Connecting   = coretypes.Connecting
	Connected    = coretypes.Connected
	Reconnecting = coretypes.Reconnecting
)

// ConflictStrategy selects how the conflict resolver resolves a
// three-way divergence between a pre-disconnect snapshot, a
// post-reconnect remote snapshot, and queued local mutations.
type ConflictStrategy = coretypes.ConflictStrategy

const (
	KeepRemote = coretypes.KeepRemote
	KeepLocal  = coretypes.KeepLocal
	Merge      = coretypes.Merge
)

// Conflict describes a single top-level field whose fresh remote value
// differs from both the pre-disconnect value and the pending local value.
type Conflict = coretypes.Conflict

// ConflictDecision is what a host's OnConflict callback returns: the
// strategy to apply, plus the merged values to use when Strategy is
// Merge. MergedValues is ignored for every other strategy.
type ConflictDecision = coretypes.ConflictDecision

// PerformanceMetrics is the read-only snapshot returned by Store.GetMetrics.
type PerformanceMetrics = coretypes.PerformanceMetrics

// ConnectionStatus is exposed through GetConnectionStatus.
type ConnectionStatus = coretypes.ConnectionStatus
