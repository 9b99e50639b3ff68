// Command multiplayer-demo exercises a Store end to end against a real
// remote key-value service: it loads Options from flags/env/file, wires
// an in-memory host store, connects, prints every local and remote
// state change, and applies a few sample mutations before shutting down
// cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hpkv-io/multiplayer-go/internal/config"
	"github.com/hpkv-io/multiplayer-go/internal/logging"
	"github.com/hpkv-io/multiplayer-go/pkg/multiplayer"
)

var version = "dev"

func main() {
	logging.Setup()

	fs := flag.NewFlagSet("multiplayer-demo", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a multiplayer.yaml config file")
	namespace := fs.String("namespace", "", "overrides the namespace from config/env")
	showVersion := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath, *namespace); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath, namespaceOverride string) error {
	opts, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if namespaceOverride != "" {
		opts.Namespace = namespaceOverride
	}
	if lvl, err := logging.ParseLevel(opts.LogLevel); err == nil {
		logging.SetLevel(lvl)
	}
	opts.OnHydrate = func(state map[string]any) {
		slog.Info("hydrated", "fields", len(state))
	}
	opts.OnConflict = func(conflicts []multiplayer.Conflict) multiplayer.ConflictDecision {
		for _, c := range conflicts {
			slog.Warn("conflict", "field", c.Field, "stale", c.StaleValue, "remote", c.RemoteValue, "pending", c.PendingValue)
		}
		return multiplayer.ConflictDecision{Strategy: multiplayer.KeepRemote}
	}

	store := newMemStore()
	store.Subscribe(func(state, prev multiplayer.StateTree) {
		b, _ := json.Marshal(state)
		slog.Info("state changed", "state", string(b))
	})

	mp, err := multiplayer.New(store, opts)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mp.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Destroy(shutdownCtx); err != nil {
			slog.Error("destroy", "error", err)
		}
	}()

	slog.Info("connected", "namespace", opts.Namespace)

	if err := mp.Set(map[string]any{"cursor": map[string]any{"x": 0, "y": 0}}, false); err != nil {
		slog.Error("set", "error", err)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	x := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			return nil
		case <-ticker.C:
			x++
			status := mp.GetConnectionStatus()
			slog.Info("tick", "x", x, "connection", status.State.String(), "hydrated", status.HasHydrated)
			if err := mp.Set(map[string]any{"cursor": map[string]any{"x": x, "y": 0}}, false); err != nil {
				slog.Error("set", "error", err)
			}
		}
	}
}

// memStore is a minimal, goroutine-safe multiplayer.StateStore backed by
// a plain map, standing in for a host's own observable state container.
type memStore struct {
	mu        sync.Mutex
	state     multiplayer.StateTree
	listeners []func(state, prev multiplayer.StateTree)
}

func newMemStore() *memStore {
	return &memStore{state: multiplayer.StateTree{}}
}

func (s *memStore) GetState() multiplayer.StateTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneTree(s.state)
}

func (s *memStore) SetState(patch multiplayer.StateTree, replace bool) error {
	s.mu.Lock()
	prev := cloneTree(s.state)
	if replace {
		s.state = cloneTree(patch)
	} else {
		for k, v := range patch {
			s.state[k] = v
		}
	}
	next := cloneTree(s.state)
	listeners := append([]func(state, prev multiplayer.StateTree){}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		if l != nil {
			l(next, prev)
		}
	}
	return nil
}

func (s *memStore) Subscribe(listener func(state, prev multiplayer.StateTree)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
	idx := len(s.listeners) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners[idx] = nil
	}
}

func cloneTree(t multiplayer.StateTree) multiplayer.StateTree {
	out := make(multiplayer.StateTree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}
