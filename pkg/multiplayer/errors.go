package multiplayer

import "github.com/hpkv-io/multiplayer-go/internal/coretypes"

// ConfigurationError is a fatal, construction-time error: missing auth,
// an invalid namespace, an invalid URL, or a zFactor out of range.
type ConfigurationError = coretypes.ConfigurationError

// AuthenticationError wraps a token issuance or refresh failure. It is
// recoverable by refreshing the token.
type AuthenticationError = coretypes.AuthenticationError

// NetworkError wraps a transport failure that the retry policy will
// attempt again.
type NetworkError = coretypes.NetworkError

// RetryableError is returned by the retry policy when the next backoff
// would overrun MaxElapsedTime: it wraps the last failure and records how
// many attempts were made.
type RetryableError = coretypes.RetryableError

// CircuitBreakerError is returned in place of a retry attempt once the
// circuit breaker has opened after too many consecutive failures.
type CircuitBreakerError = coretypes.CircuitBreakerError

// HydrationError is surfaced from Hydrator.Run. The orchestrator leaves
// hasHydrated=false and returns the error to the caller.
type HydrationError = coretypes.HydrationError

// ConflictResolutionError is non-fatal; it is logged when a custom
// conflict policy panics, and the keep-remote strategy is used instead.
type ConflictResolutionError = coretypes.ConflictResolutionError

// StateError signals a programmer error: an operation attempted after
// Destroy().
type StateError = coretypes.StateError
