// Package orchestrator is the central mediator between the
// host's observable state store, the sync queue, the hydrator, the
// conflict resolver, and the remote store. Every state-affecting
// operation — host writes, remote notifications, and connection events
// — is funneled through one actor goroutine, so the fields that record
// orchestration state (hasHydrated, previousState, the pre-disconnect
// snapshot, connection state) are only ever touched from that one
// goroutine and need no lock, matching the single-threaded cooperative
// scheduling model: suspension happens only at the I/O calls the actor
// itself awaits (remote set/get/range, hydration, retries).
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hpkv-io/multiplayer-go/internal/conflict"
	"github.com/hpkv-io/multiplayer-go/internal/diffengine"
	"github.com/hpkv-io/multiplayer-go/internal/filter"
	"github.com/hpkv-io/multiplayer-go/internal/hydrator"
	"github.com/hpkv-io/multiplayer-go/internal/metrics"
	"github.com/hpkv-io/multiplayer-go/internal/pathops"
	"github.com/hpkv-io/multiplayer-go/internal/remotestore"
	"github.com/hpkv-io/multiplayer-go/internal/syncqueue"
	"github.com/hpkv-io/multiplayer-go/internal/coretypes"
)

// Deps bundles every collaborator the orchestrator needs. Most are
// concrete types; tests substitute fakes one level down, at
// remotestore.Transport and coretypes.StateStore.
type Deps struct {
	Store           coretypes.StateStore
	Remote          *remotestore.RemoteStore
	Hydrator        *hydrator.Hydrator
	Queue           *syncqueue.Queue
	PublishFilter   *filter.Allowlist
	SubscribeFilter *filter.Allowlist
	OnConflict      conflict.OnConflictFunc
	OnHydrate       func(state map[string]any)
	ZFactor         int
}

// Orchestrator mediates every state-affecting operation for one Store.
type Orchestrator struct {
	store           coretypes.StateStore
	remote          *remotestore.RemoteStore
	hydrator        *hydrator.Hydrator
	queue           *syncqueue.Queue
	publishFilter   *filter.Allowlist
	subscribeFilter *filter.Allowlist
	onConflict      conflict.OnConflictFunc
	onHydrate       func(state map[string]any)
	zFactor         int

	cmds    chan func()
	stop    chan struct{}
	stopped chan struct{}
	started sync.Once
	destroy sync.Once
	destroyed atomic.Bool

	unsubscribeChange func()

	// Actor-confined state; read and written only inside run().
	hasHydrated              bool
	connState                coretypes.ConnectionState
	previousState            map[string]any
	stateBeforeDisconnection map[string]any
	perf                     coretypes.PerformanceMetrics
}

// New wires Deps into a ready, not-yet-started Orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		store:           d.Store,
		remote:          d.Remote,
		hydrator:        d.Hydrator,
		queue:           d.Queue,
		publishFilter:   d.PublishFilter,
		subscribeFilter: d.SubscribeFilter,
		onConflict:      d.OnConflict,
		onHydrate:       d.OnHydrate,
		zFactor:         d.ZFactor,
		cmds:            make(chan func()),
		stop:            make(chan struct{}),
		stopped:         make(chan struct{}),
		connState:       coretypes.Disconnected,
		previousState:   map[string]any{},
	}
}

// Connect starts the actor goroutine (once) and dials the remote store.
func (o *Orchestrator) Connect(ctx context.Context) error {
	if o.destroyed.Load() {
		return &coretypes.StateError{Op: "Connect"}
	}
	o.started.Do(func() {
		o.unsubscribeChange = o.remote.OnChange(func(c remotestore.Change) {
			o.submit(func() { o.handleRemoteChange(c) })
		})
		o.remote.OnConnectionChange(func(s coretypes.ConnectionState) {
			o.submit(func() { o.handleConnState(s) })
		})
		go o.run()
	})
	return o.remote.Connect(ctx)
}

// Disconnect drops the remote connection without destroying the
// orchestrator; Connect may be called again afterward.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	if o.destroyed.Load() {
		return &coretypes.StateError{Op: "Disconnect"}
	}
	return o.remote.Disconnect(ctx)
}

// Set is the host's local mutation entry point. It is queued if the
// store is not yet hydrated or is disconnected or connecting; otherwise
// (including while reconnecting after a hydration) it is applied
// immediately and diffed/published.
func (o *Orchestrator) Set(patch any, replace bool) error {
	return o.setMutation(syncqueue.NewPatchMutation(patch, replace))
}

// SetFunc queues or applies a functional patch, resolved against
// whatever state is current at apply time.
func (o *Orchestrator) SetFunc(fn func(state map[string]any) any, replace bool) error {
	return o.setMutation(syncqueue.NewFnMutation(fn, replace))
}

func (o *Orchestrator) setMutation(m syncqueue.Mutation) error {
	if o.destroyed.Load() {
		return &coretypes.StateError{Op: "Set"}
	}
	var result error
	o.submitSync(func() { result = o.handleLocalSet(m) })
	return result
}

// ReHydrate forces a fresh range-scan regardless of hasHydrated. The
// hydrator applies the result to the host store only when it differs
// from the last successful fetch.
func (o *Orchestrator) ReHydrate(ctx context.Context) error {
	if o.destroyed.Load() {
		return &coretypes.StateError{Op: "ReHydrate"}
	}
	var result error
	o.submitSync(func() { result = o.doHydrate(ctx, nil) })
	return result
}

// ClearStorage deletes every remote key in the namespace. Local state is
// left untouched; a subsequent ReHydrate will observe an empty remote
// tree.
func (o *Orchestrator) ClearStorage(ctx context.Context) error {
	if o.destroyed.Load() {
		return &coretypes.StateError{Op: "ClearStorage"}
	}
	var result error
	o.submitSync(func() {
		state, err := o.remote.RangeAll(ctx)
		if err != nil {
			result = err
			return
		}
		for _, leaf := range pathops.ExtractLeaves(state, o.zFactor) {
			if err := o.remote.RemoveItem(ctx, leaf.Path); err != nil {
				result = err
				return
			}
		}
	})
	return result
}

// GetConnectionStatus reports the current connection state and
// hydration flag.
func (o *Orchestrator) GetConnectionStatus() coretypes.ConnectionStatus {
	var status coretypes.ConnectionStatus
	o.submitSync(func() {
		status = coretypes.ConnectionStatus{State: o.connState, HasHydrated: o.hasHydrated}
	})
	return status
}

// GetMetrics returns a snapshot of the performance counters.
func (o *Orchestrator) GetMetrics() coretypes.PerformanceMetrics {
	var snap coretypes.PerformanceMetrics
	o.submitSync(func() {
		snap = o.perf
		snap.QueueDepth = o.queue.Len()
	})
	return snap
}

// Destroy disconnects, stops the actor goroutine, empties the queue,
// and rejects every subsequent operation. Idempotent.
func (o *Orchestrator) Destroy(ctx context.Context) error {
	var err error
	o.destroy.Do(func() {
		o.destroyed.Store(true)
		if o.unsubscribeChange != nil {
			o.unsubscribeChange()
		}
		err = o.remote.Destroy(ctx)
		o.queue.Clear()
		select {
		case <-o.stopped:
			// run() has already returned; nothing to stop.
		default:
			close(o.stop)
		}
	})
	return err
}

func (o *Orchestrator) run() {
	defer close(o.stopped)
	for {
		select {
		case cmd := <-o.cmds:
			cmd()
		case <-o.stop:
			return
		}
	}
}

// submit hands cmd to the actor goroutine without waiting for it to
// run. cmds is unbuffered, so before Connect starts the actor it blocks
// until the actor starts or Destroy closes stop; after Destroy the
// command is dropped.
func (o *Orchestrator) submit(cmd func()) {
	select {
	case o.cmds <- cmd:
	case <-o.stop:
	}
}

// submitSync enqueues cmd and blocks until it has run.
func (o *Orchestrator) submitSync(cmd func()) {
	done := make(chan struct{})
	select {
	case o.cmds <- func() { cmd(); close(done) }:
		<-done
	case <-o.stop:
	}
}

// handleLocalSet implements the host-set row of the transition table.
func (o *Orchestrator) handleLocalSet(m syncqueue.Mutation) error {
	if !o.hasHydrated || o.connState == coretypes.Disconnected || o.connState == coretypes.Connecting {
		o.queue.Push(m)
		if o.connState == coretypes.Disconnected {
			go func() {
				if err := o.remote.Connect(context.Background()); err != nil {
					slog.Warn("orchestrator: connect triggered by local write failed", "error", err)
				}
			}()
		}
		return nil
	}
	return o.applyAndPublish(m)
}

// handleConnState implements the connection-event rows of the
// transition table.
func (o *Orchestrator) handleConnState(s coretypes.ConnectionState) {
	prev := o.connState
	o.connState = s

	switch s {
	case coretypes.Disconnected:
		if prev == coretypes.Connected || prev == coretypes.Reconnecting {
			o.stateBeforeDisconnection = cloneState(o.store.GetState())
			o.hasHydrated = false
		}
	case coretypes.Connected:
		if err := o.doHydrate(context.Background(), o.stateBeforeDisconnection); err != nil {
			slog.Error("orchestrator: hydration after connect failed", "error", err)
		}
	}
}

// doHydrate runs the hydrator, then either resolves conflicts against
// staleSnapshot (when non-nil and the queue is non-empty) or drains the
// queue straight through, per the "Conn -> CONNECTED" transition row.
func (o *Orchestrator) doHydrate(ctx context.Context, staleSnapshot map[string]any) error {
	start := time.Now()
	_, err := o.hydrator.Run(ctx, o.remote.RangeAll, func(state map[string]any) {
		if err := o.store.SetState(state, true); err != nil {
			slog.Error("orchestrator: applying hydrated state failed", "error", err)
			return
		}
		o.previousState = cloneState(state)
	}, o.onHydrate)
	if err != nil {
		return err
	}
	o.perf.HydrationCount++
	o.perf.LastHydrationLatency = time.Since(start)

	if staleSnapshot != nil && o.queue.Len() > 0 {
		pending := o.queue.Peek()
		resolved := conflict.Resolve(staleSnapshot, o.store.GetState(), pending, o.onConflict)
		if len(resolved) != len(pending) {
			o.perf.ConflictCount++
		}
		o.queue.Clear()
		for _, m := range resolved {
			if err := o.applyAndPublish(m); err != nil {
				slog.Error("orchestrator: applying resolved mutation failed", "error", err)
			}
		}
	} else {
		if err := o.queue.Drain(func(m syncqueue.Mutation) error { return o.applyAndPublish(m) }); err != nil {
			slog.Error("orchestrator: draining sync queue failed", "error", err)
		}
	}

	o.hasHydrated = true
	o.stateBeforeDisconnection = nil
	o.perf.QueueDepth = o.queue.Len()
	return nil
}

// handleRemoteChange implements the remote-notification rows of the
// transition table: applied locally, never republished.
func (o *Orchestrator) handleRemoteChange(c remotestore.Change) {
	if len(c.Path) == 0 || !o.subscribeFilter.Allows(c.Path[0]) {
		return
	}

	draft := cloneState(o.store.GetState())
	if c.Deleted {
		pathops.DeleteValue(draft, c.Path)
		pathops.CleanupEmptyParents(draft, c.Path)
	} else {
		pathops.SetValue(draft, c.Path, c.Value)
	}

	if err := o.store.SetState(draft, true); err != nil {
		slog.Error("orchestrator: applying remote change failed", "error", err)
		return
	}
	o.previousState = cloneState(draft)
}

// applyAndPublish applies one mutation's patch to the host store, diffs
// the result against previousState, and concurrently publishes every
// write/delete the publish filter allows. previousState only advances
// once every publish has resolved, so a mid-flight failure re-publishes
// the same changes on the next diff.
func (o *Orchestrator) applyAndPublish(m syncqueue.Mutation) error {
	patch, replace, err := resolvePatch(m, o.store.GetState())
	if err != nil {
		return err
	}
	if err := o.store.SetState(patch, replace); err != nil {
		return err
	}

	next := o.store.GetState()
	result := diffengine.Diff(o.previousState, next, o.zFactor)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for _, w := range result.Writes {
		if len(w.Path) == 0 || !o.publishFilter.Allows(w.Path[0]) {
			continue
		}
		wg.Add(1)
		go func(w diffengine.Write) {
			defer wg.Done()
			record(o.remote.SetItem(context.Background(), w.Path, w.Value))
		}(w)
	}
	for _, d := range result.Deletes {
		if len(d.Path) == 0 || !o.publishFilter.Allows(d.Path[0]) {
			continue
		}
		wg.Add(1)
		go func(d diffengine.Delete) {
			defer wg.Done()
			record(o.remote.RemoveItem(context.Background(), d.Path))
		}(d)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	o.perf.WriteCount += int64(len(result.Writes))
	o.perf.DeleteCount += int64(len(result.Deletes))
	metrics.SyncQueueDepth.Set(float64(o.queue.Len()))
	o.previousState = cloneState(next)
	return nil
}

// resolvePatch turns a queued Mutation into the (patch, replace) pair
// StateStore.SetState expects. Explicit mutations are resolved against a
// full clone of state since deletions may touch arbitrarily nested paths
// that a shallow patch cannot express.
func resolvePatch(m syncqueue.Mutation, state map[string]any) (any, bool, error) {
	switch m.Kind {
	case syncqueue.KindPatch:
		return m.Patch, m.Replace, nil
	case syncqueue.KindFn:
		if m.Fn == nil {
			return map[string]any{}, false, nil
		}
		return m.Fn(state), m.Replace, nil
	case syncqueue.KindExplicit:
		draft := cloneState(state)
		for k, v := range m.Explicit.Changes {
			draft[k] = v
		}
		for _, path := range m.Explicit.Deletions {
			pathops.DeleteValue(draft, path)
			pathops.CleanupEmptyParents(draft, path)
		}
		return draft, true, nil
	default:
		return map[string]any{}, false, nil
	}
}

func cloneState(state map[string]any) map[string]any {
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}
