// Package syncqueue implements the FIFO of local mutations buffered
// while the store is disconnected, reconnecting, or not yet hydrated.
package syncqueue

import (
	"sync"
	"time"

	"github.com/hpkv-io/multiplayer-go/internal/idgen"
	"github.com/hpkv-io/multiplayer-go/internal/metrics"
)

// Kind discriminates the three shapes a queued mutation's payload can
// take, replacing the source's untyped union with a closed tag.
type Kind int

const (
	// KindPatch carries a literal patch value to shallow-merge (or
	// replace) onto the state tree.
	KindPatch Kind = iota
	// KindFn carries a function of the current state producing the
	// patch, resolved lazily against whatever snapshot is current when
	// the mutation is finally applied.
	KindFn
	// KindExplicit carries a pre-split set of field changes and
	// deletions, bypassing patch resolution entirely.
	KindExplicit
)

// Explicit is the payload for a KindExplicit mutation.
type Explicit struct {
	Changes   map[string]any
	Deletions [][]string
}

// Mutation is one queued local change, tagged by Kind so only the
// matching field is populated.
type Mutation struct {
	ID        string
	Timestamp time.Time
	Kind      Kind
	Patch     any
	Fn        func(state map[string]any) any
	Explicit  Explicit
	Replace   bool
}

// NewPatchMutation stamps a new id and timestamp onto a literal patch.
func NewPatchMutation(patch any, replace bool) Mutation {
	return Mutation{ID: idgen.NewMutationID(), Timestamp: time.Now(), Kind: KindPatch, Patch: patch, Replace: replace}
}

// NewFnMutation stamps a new id and timestamp onto a functional patch.
func NewFnMutation(fn func(state map[string]any) any, replace bool) Mutation {
	return Mutation{ID: idgen.NewMutationID(), Timestamp: time.Now(), Kind: KindFn, Fn: fn, Replace: replace}
}

// NewExplicitMutation stamps a new id and timestamp onto a pre-split
// change/deletion set.
func NewExplicitMutation(explicit Explicit) Mutation {
	return Mutation{ID: idgen.NewMutationID(), Timestamp: time.Now(), Kind: KindExplicit, Explicit: explicit}
}

// Queue is a FIFO of pending mutations with a processing latch: Drain
// empties the queue under lock before invoking applyFn, so mutations
// pushed while a drain is in flight land in the now-empty live queue and
// are picked up by the next drain rather than interleaved into this one.
type Queue struct {
	mu         sync.Mutex
	items      []Mutation
	processing bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Push appends m to the tail of the queue.
func (q *Queue) Push(m Mutation) {
	q.mu.Lock()
	q.items = append(q.items, m)
	n := len(q.items)
	q.mu.Unlock()
	metrics.SyncQueueDepth.Set(float64(n))
}

// Peek returns a snapshot copy of the queue's current contents without
// draining it.
func (q *Queue) Peek() []Mutation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Mutation(nil), q.items...)
}

// Len reports the number of queued mutations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards every queued mutation, used by Destroy.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
	metrics.SyncQueueDepth.Set(0)
}

// Drain takes a snapshot of the queue, empties it, and invokes applyFn
// once per mutation in order. The processing latch is released via
// defer on both the success and error path. If applyFn returns an error
// the drain stops immediately; mutations remaining in the snapshot are
// not re-enqueued, matching the source's "applied-or-lost by the time
// conflict resolution already ran" contract — conflict resolution, not
// Drain, is responsible for deciding what survives a disconnect.
func (q *Queue) Drain(applyFn func(Mutation) error) error {
	q.mu.Lock()
	q.processing = true
	snapshot := q.items
	q.items = nil
	q.mu.Unlock()
	metrics.SyncQueueDepth.Set(0)

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	for _, m := range snapshot {
		if err := applyFn(m); err != nil {
			return err
		}
	}
	return nil
}

// Processing reports whether a Drain is currently in flight.
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}
