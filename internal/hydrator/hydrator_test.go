package hydrator_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpkv-io/multiplayer-go/internal/hydrator"
	"github.com/hpkv-io/multiplayer-go/pkg/multiplayer"
)

func TestRun_AppliesFetchedStateAndCallsOnHydrate(t *testing.T) {
	h := hydrator.New()
	want := map[string]any{"todos": map[string]any{"a": "1"}}

	var applied, notified map[string]any
	var order []string
	state, err := h.Run(context.Background(),
		func(ctx context.Context) (map[string]any, error) { return want, nil },
		func(s map[string]any) { applied = s; order = append(order, "apply") },
		func(s map[string]any) { notified = s; order = append(order, "onHydrate") },
	)

	require.NoError(t, err)
	assert.Equal(t, want, state)
	assert.Equal(t, want, applied)
	assert.Equal(t, want, notified)
	assert.Equal(t, []string{"onHydrate", "apply"}, order, "onHydrate must observe the draft before it is committed via apply")
}

func TestRun_WrapsFetchFailureAsHydrationError(t *testing.T) {
	h := hydrator.New()
	cause := errors.New("range failed")

	applyCalled := false
	_, err := h.Run(context.Background(),
		func(ctx context.Context) (map[string]any, error) { return nil, cause },
		func(s map[string]any) { applyCalled = true },
		nil,
	)

	require.Error(t, err)
	var hydrationErr *multiplayer.HydrationError
	require.ErrorAs(t, err, &hydrationErr)
	assert.ErrorIs(t, err, cause)
	assert.False(t, applyCalled, "apply must not run after a failed fetch")
}

func TestRun_RecoversFromApplyPanic(t *testing.T) {
	h := hydrator.New()

	assert.NotPanics(t, func() {
		_, err := h.Run(context.Background(),
			func(ctx context.Context) (map[string]any, error) { return map[string]any{}, nil },
			func(s map[string]any) { panic("boom") },
			nil,
		)
		assert.NoError(t, err)
	})
}

func TestRun_ConcurrentCallsShareOneFetch(t *testing.T) {
	h := hydrator.New()

	var fetchCount int
	var mu sync.Mutex
	release := make(chan struct{})

	fetch := func(ctx context.Context) (map[string]any, error) {
		mu.Lock()
		fetchCount++
		mu.Unlock()
		<-release
		return map[string]any{"x": 1}, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]map[string]any, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.Run(context.Background(), fetch, nil, nil)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fetchCount, "only one fetch should run for concurrent callers")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, map[string]any{"x": 1}, results[i])
	}
}

func TestRun_SequentialCallsEachFetchAgain(t *testing.T) {
	h := hydrator.New()
	var fetchCount int

	fetch := func(ctx context.Context) (map[string]any, error) {
		fetchCount++
		return map[string]any{}, nil
	}

	_, err := h.Run(context.Background(), fetch, nil, nil)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), fetch, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, fetchCount, "each sequential call still fetches; only reconstruction is memoised")
}

func TestRun_SequentialCallsWithUnchangedDataSkipReconstruction(t *testing.T) {
	h := hydrator.New()
	var fetchCount, applyCount, onHydrateCount int

	fetch := func(ctx context.Context) (map[string]any, error) {
		fetchCount++
		return map[string]any{"todos": map[string]any{"a": "1"}}, nil
	}
	apply := func(s map[string]any) { applyCount++ }
	onHydrate := func(s map[string]any) { onHydrateCount++ }

	_, err := h.Run(context.Background(), fetch, apply, onHydrate)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), fetch, apply, onHydrate)
	require.NoError(t, err)

	assert.Equal(t, 2, fetchCount, "a fresh fetch still runs on every call")
	assert.Equal(t, 1, applyCount, "unchanged data must not re-apply on the second call")
	assert.Equal(t, 1, onHydrateCount, "unchanged data must not re-notify on the second call")
}

func TestRun_SequentialCallsWithChangedDataReconstructAgain(t *testing.T) {
	h := hydrator.New()
	var applyCount int
	results := []map[string]any{
		{"todos": map[string]any{"a": "1"}},
		{"todos": map[string]any{"a": "2"}},
	}
	call := 0
	fetch := func(ctx context.Context) (map[string]any, error) {
		state := results[call]
		call++
		return state, nil
	}
	apply := func(s map[string]any) { applyCount++ }

	_, err := h.Run(context.Background(), fetch, apply, nil)
	require.NoError(t, err)
	_, err = h.Run(context.Background(), fetch, apply, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, applyCount, "changed data must reconstruct on every call")
}
