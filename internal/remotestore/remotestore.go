// Package remotestore adapts the external, persistently-connected
// key-value service to the vocabulary the orchestrator speaks: paths
// instead of flat keys, wrapped envelopes with echo suppression, and a
// connection state machine that reconnects with backoff.
package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hpkv-io/multiplayer-go/internal/keycodec"
	"github.com/hpkv-io/multiplayer-go/internal/metrics"
	"github.com/hpkv-io/multiplayer-go/internal/pathops"
	"github.com/hpkv-io/multiplayer-go/internal/retry"
	"github.com/hpkv-io/multiplayer-go/internal/coretypes"
)

// Transport is the external, persistently-connected key-value service,
// consumed through this narrow interface so RemoteStore can be tested
// against a fake. A concrete implementation lives in internal/wsconn.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Range(ctx context.Context, start, end string, limit int) (map[string][]byte, error)
	Notifications() <-chan Notification
	// OnConnectionChange registers a callback the transport invokes
	// whenever its own link state changes unexpectedly (e.g. the
	// connection drops and the transport notices before any RemoteStore
	// call fails). RemoteStore uses this to trigger its reconnect loop.
	OnConnectionChange(func(linkUp bool))
}

// Notification is one remote change delivered for a key this store is
// subscribed to. A nil Value means the remote service reports the key
// as deleted.
type Notification struct {
	Key       string
	Value     []byte
	Timestamp time.Time
}

// Change is a decoded Notification, translated back to path space and
// with echo suppression already applied.
type Change struct {
	Path    []string
	Value   any
	Deleted bool
}

// envelope is the wire format stamped on every write: the value plus
// enough metadata (clientId) to let every writer recognise and drop its
// own echoes, without a side channel.
type envelope struct {
	Value     any    `json:"value"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// RemoteStore adapts Transport with path<->key translation, envelope
// wrapping, echo suppression, retry/circuit breaking, and the
// connection state machine.
type RemoteStore struct {
	transport      Transport
	codec          *keycodec.Codec
	retryPolicy    *retry.Policy
	clientID       string
	destroyTimeout time.Duration

	mu            sync.Mutex
	state         coretypes.ConnectionState
	changeListeners []func(Change)
	connListeners   []func(coretypes.ConnectionState)
	destroyOnce     sync.Once
	destroyed       bool
	wg              sync.WaitGroup
}

// New returns a RemoteStore. destroyTimeout bounds how long Destroy
// waits for in-flight operations and the notification-dispatch loop.
func New(transport Transport, codec *keycodec.Codec, retryPolicy *retry.Policy, clientID string, destroyTimeout time.Duration) *RemoteStore {
	r := &RemoteStore{
		transport:      transport,
		codec:          codec,
		retryPolicy:    retryPolicy,
		clientID:       clientID,
		destroyTimeout: destroyTimeout,
		state:          coretypes.Disconnected,
	}
	transport.OnConnectionChange(r.handleLinkChange)
	return r
}

func (r *RemoteStore) setState(s coretypes.ConnectionState) {
	r.mu.Lock()
	changed := r.state != s
	r.state = s
	listeners := append([]func(coretypes.ConnectionState){}, r.connListeners...)
	r.mu.Unlock()
	if !changed {
		return
	}
	metrics.ConnectionState.Set(float64(s))
	for _, l := range listeners {
		safeCall(func() { l(s) })
	}
}

// State returns the current connection state.
func (r *RemoteStore) State() coretypes.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect dials the transport, retrying with backoff through the
// circuit breaker, then starts the notification-dispatch loop.
func (r *RemoteStore) Connect(ctx context.Context) error {
	r.setState(coretypes.Connecting)
	err := r.retryPolicy.Do(ctx, "connect", r.transport.Connect)
	if err != nil {
		r.setState(coretypes.Disconnected)
		return err
	}
	r.retryPolicy.Reset()
	r.setState(coretypes.Connected)
	r.wg.Add(1)
	go r.dispatchNotifications()
	return nil
}

// handleLinkChange is invoked by the transport when its link drops or
// is re-established outside of an explicit Connect/Disconnect call.
func (r *RemoteStore) handleLinkChange(linkUp bool) {
	if linkUp {
		r.retryPolicy.Reset()
		r.setState(coretypes.Connected)
		return
	}
	if r.State() == coretypes.Disconnected {
		return
	}
	r.setState(coretypes.Reconnecting)
	metrics.ReconnectsTotal.Inc()
	go func() {
		if err := r.retryPolicy.Do(context.Background(), "reconnect", r.transport.Connect); err != nil {
			slog.Warn("remotestore: reconnect failed permanently", "error", err)
			r.setState(coretypes.Disconnected)
			return
		}
		r.setState(coretypes.Connected)
	}()
}

// Disconnect closes the transport's connection without tearing down
// RemoteStore itself; Connect may be called again afterward.
func (r *RemoteStore) Disconnect(ctx context.Context) error {
	err := r.transport.Disconnect(ctx)
	r.setState(coretypes.Disconnected)
	return err
}

// Destroy disconnects and stops the dispatch loop, waiting up to
// destroyTimeout for it to drain. Idempotent.
func (r *RemoteStore) Destroy(ctx context.Context) error {
	var err error
	r.destroyOnce.Do(func() {
		r.mu.Lock()
		r.destroyed = true
		r.mu.Unlock()
		err = r.transport.Disconnect(ctx)
		r.setState(coretypes.Disconnected)

		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(r.destroyTimeout):
			slog.Warn("remotestore: destroy timed out waiting for dispatch loop")
		}
	})
	return err
}

// SetItem wraps value in an envelope stamped with this store's
// clientID, then writes it through the retry policy.
func (r *RemoteStore) SetItem(ctx context.Context, path []string, value any) error {
	data, err := json.Marshal(envelope{Value: value, ClientID: r.clientID, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("remotestore: marshal envelope: %w", err)
	}
	key := r.codec.Build(path)
	err = r.retryPolicy.Do(ctx, "set", func(ctx context.Context) error {
		return r.transport.Set(ctx, key, data)
	})
	if err == nil {
		metrics.WritesTotal.Inc()
	}
	return err
}

// RemoveItem deletes the value at path remotely, through the retry policy.
func (r *RemoteStore) RemoveItem(ctx context.Context, path []string) error {
	key := r.codec.Build(path)
	err := r.retryPolicy.Do(ctx, "delete", func(ctx context.Context) error {
		return r.transport.Delete(ctx, key)
	})
	if err == nil {
		metrics.DeletesTotal.Inc()
	}
	return err
}

// RangeAll scans the entire namespace and returns every stored leaf,
// decoded back to path space, unwrapped from its envelope. Used by the
// Hydrator to reconstruct state from scratch.
func (r *RemoteStore) RangeAll(ctx context.Context) (map[string]any, error) {
	start, end := r.codec.RangeBounds()
	const pageLimit = 1000

	result := make(map[string]any)
	for {
		var page map[string][]byte
		err := r.retryPolicy.Do(ctx, "range", func(ctx context.Context) error {
			var rangeErr error
			page, rangeErr = r.transport.Range(ctx, start, end, pageLimit)
			return rangeErr
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		lastKey := ""
		for key, raw := range page {
			parsed, parseErr := r.codec.Parse(key)
			if parseErr != nil {
				slog.Warn("remotestore: dropping key outside namespace during range", "key", key, "error", parseErr)
				continue
			}
			value, deleted := unwrapEnvelope(raw)
			if !deleted {
				pathops.SetValue(result, parsed.Path, value)
			}
			if key > lastKey {
				lastKey = key
			}
		}
		if len(page) < pageLimit {
			break
		}
		start = lastKey + "\x00"
	}
	return result, nil
}

// OnChange registers a listener for decoded remote changes (after echo
// suppression). Returns an unsubscribe function.
func (r *RemoteStore) OnChange(listener func(Change)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changeListeners = append(r.changeListeners, listener)
	idx := len(r.changeListeners) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.changeListeners) {
			r.changeListeners[idx] = func(Change) {}
		}
	}
}

// OnConnectionChange registers a listener for connection state transitions.
func (r *RemoteStore) OnConnectionChange(listener func(coretypes.ConnectionState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connListeners = append(r.connListeners, listener)
}

func (r *RemoteStore) dispatchNotifications() {
	defer r.wg.Done()
	for n := range r.transport.Notifications() {
		r.handleNotification(n)
	}
}

func (r *RemoteStore) handleNotification(n Notification) {
	parsed, err := r.codec.Parse(n.Key)
	if err != nil {
		slog.Warn("remotestore: notification for key outside namespace", "key", n.Key, "error", err)
		return
	}

	value, deleted := unwrapEnvelopeWithEcho(n.Value, r.clientID)
	if deleted == echoSuppressed {
		return
	}

	change := Change{Path: parsed.Path, Value: value, Deleted: deleted == isDelete}

	r.mu.Lock()
	listeners := append([]func(Change){}, r.changeListeners...)
	r.mu.Unlock()
	for _, l := range listeners {
		safeCall(func() { l(change) })
	}
}

type notificationOutcome int

const (
	isValue notificationOutcome = iota
	isDelete
	echoSuppressed
)

// unwrapEnvelopeWithEcho unwraps a notification payload, reporting a
// delete when the remote service signals null (tombstone) and dropping
// (echoSuppressed) any envelope stamped with our own clientID.
func unwrapEnvelopeWithEcho(raw []byte, ourClientID string) (any, notificationOutcome) {
	if isNullOrEmpty(raw) {
		return nil, isDelete
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Warn("remotestore: malformed envelope, treating as delete", "error", err)
		return nil, isDelete
	}
	if env.ClientID == ourClientID {
		return nil, echoSuppressed
	}
	return env.Value, isValue
}

// unwrapEnvelope is the non-echo-suppressing variant used by RangeAll,
// where every stored value (including our own prior writes) must be
// incorporated into the hydrated snapshot.
func unwrapEnvelope(raw []byte) (value any, deleted bool) {
	if isNullOrEmpty(raw) {
		return nil, true
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, true
	}
	return env.Value, false
}

func isNullOrEmpty(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func safeCall(f func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("remotestore: listener panicked", "panic", r)
		}
	}()
	f()
}
