package multiplayer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hpkv-io/multiplayer-go/internal/conflict"
	"github.com/hpkv-io/multiplayer-go/internal/filter"
	"github.com/hpkv-io/multiplayer-go/internal/hydrator"
	"github.com/hpkv-io/multiplayer-go/internal/idgen"
	"github.com/hpkv-io/multiplayer-go/internal/keycodec"
	"github.com/hpkv-io/multiplayer-go/internal/orchestrator"
	"github.com/hpkv-io/multiplayer-go/internal/remotestore"
	"github.com/hpkv-io/multiplayer-go/internal/retry"
	"github.com/hpkv-io/multiplayer-go/internal/syncqueue"
	"github.com/hpkv-io/multiplayer-go/internal/token"
	"github.com/hpkv-io/multiplayer-go/internal/wsconn"
)

// Store is the API surface: connect, disconnect, destroy, re-hydrate,
// clear remote storage, read connection status and performance metrics,
// and the Set/SetFunc mutation entry points. Reads go through the host's
// own StateStore; writes made directly to that StateStore bypass the
// orchestrator and are not published.
type Store struct {
	orc *orchestrator.Orchestrator
}

// New validates opts, wires every collaborator (token fetch, transport,
// remote store, hydrator, sync queue, conflict resolver, publish/
// subscribe filters), and returns a Store bound to the host's state.
// The returned Store is not yet connected; call Connect to begin.
func New(state StateStore, opts *Options) (*Store, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	tokenClient := token.New(opts.APIKey, opts.TokenGenerationURL)
	scopeFields := dedupe(filter.Merge(opts.PublishFields, opts.SubscribeFields))
	authToken, err := tokenClient.Fetch(context.Background(), opts.Namespace, scopeFields)
	if err != nil {
		return nil, fmt.Errorf("multiplayer: fetch token: %w", err)
	}

	wsURL, err := wsURLFromBase(opts.APIBaseURL)
	if err != nil {
		return nil, &ConfigurationError{Field: "apiBaseUrl", Reason: err.Error()}
	}

	codec := keycodec.New(opts.Namespace, opts.ZFactor)
	conn := wsconn.New(wsURL, authToken)
	retryPolicy := retry.New(opts.Retry)
	remote := remotestore.New(conn, codec, retryPolicy, idgen.NewClientID(), opts.Client.DestroyTimeout)

	orc := orchestrator.New(orchestrator.Deps{
		Store:           state,
		Remote:          remote,
		Hydrator:        hydrator.New(),
		Queue:           syncqueue.New(),
		PublishFilter:   filter.New(opts.PublishFields),
		SubscribeFilter: filter.New(opts.SubscribeFields),
		OnConflict:      conflict.OnConflictFunc(opts.OnConflict),
		OnHydrate:       opts.OnHydrate,
		ZFactor:         opts.ZFactor,
	})

	return &Store{orc: orc}, nil
}

// Connect dials the remote service and begins hydrating host state.
func (s *Store) Connect(ctx context.Context) error { return s.orc.Connect(ctx) }

// Disconnect drops the remote connection; Connect may be called again.
func (s *Store) Disconnect(ctx context.Context) error { return s.orc.Disconnect(ctx) }

// Set is the mutation entry point: hosts call this (rather than writing
// directly to their own StateStore) so the change is queued, applied to
// local state, diffed, and published to the remote service. It is
// queued instead of applied immediately while the Store is not yet
// hydrated or is disconnected or connecting; while reconnecting after a
// hydration it is applied immediately.
func (s *Store) Set(patch map[string]any, replace bool) error { return s.orc.Set(patch, replace) }

// SetFunc queues or applies a functional patch computed from whatever
// state is current at apply time, useful for read-modify-write updates
// such as incrementing a counter.
func (s *Store) SetFunc(fn func(state map[string]any) any, replace bool) error {
	return s.orc.SetFunc(fn, replace)
}

// Destroy tears the Store down permanently. Idempotent.
func (s *Store) Destroy(ctx context.Context) error { return s.orc.Destroy(ctx) }

// ReHydrate forces a fresh range-scan of remote state, regardless of
// whether the Store was already hydrated. The result is applied to the
// host store only when it differs from the last successful fetch.
func (s *Store) ReHydrate(ctx context.Context) error { return s.orc.ReHydrate(ctx) }

// ClearStorage deletes every remote key in this Store's namespace.
func (s *Store) ClearStorage(ctx context.Context) error { return s.orc.ClearStorage(ctx) }

// GetConnectionStatus reports the current connection state and whether
// the host store has been hydrated at least once since the last drop.
func (s *Store) GetConnectionStatus() ConnectionStatus { return s.orc.GetConnectionStatus() }

// GetMetrics returns a snapshot of hydration, conflict, and write/delete
// counters; they are not written into the reserved multiplayer subtree.
func (s *Store) GetMetrics() PerformanceMetrics { return s.orc.GetMetrics() }

// wsURLFromBase derives the websocket endpoint for the remote key-value
// service from its HTTP(S) base URL: scheme swapped to ws/wss, path
// suffixed with "/ws".
func wsURLFromBase(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

func dedupe(fields []string) []string {
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
