// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// touch rewrites path and pushes its modtime forward so the poller sees it
// regardless of filesystem timestamp granularity.
func touch(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("failed to bump modtime: %v", err)
	}
}

func TestWatcherDetectsChanges(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "perpetua.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher([]string{configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	first := make(chan *Config, 1)
	second := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) { first <- cfg })
	watcher.OnChange(func(cfg *Config) { second <- cfg })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watcher.Start(ctx)
	defer watcher.Stop()

	if got := watcher.Config().Log.Level; got != "info" {
		t.Fatalf("expected initial level info, got %q", got)
	}

	touch(t, configPath, "log:\n  level: debug\n")

	for i, ch := range []chan *Config{first, second} {
		select {
		case cfg := <-ch:
			if cfg.Log.Level != "debug" {
				t.Errorf("listener %d: expected debug, got %q", i, cfg.Log.Level)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("listener %d: timeout waiting for change notification", i)
		}
	}
	if got := watcher.Config().Log.Level; got != "debug" {
		t.Errorf("expected current config to be debug, got %q", got)
	}
}

func TestWatcherKeepsLastValidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "perpetua.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher([]string{configPath}, WithWatchInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	changes := make(chan *Config, 1)
	watcher.OnChange(func(cfg *Config) { changes <- cfg })

	watcher.Start(context.Background())
	defer watcher.Stop()

	touch(t, configPath, "store:\n  backend: etcd\n")

	select {
	case cfg := <-changes:
		t.Fatalf("listener called with invalid config: %+v", cfg.Store)
	case <-time.After(200 * time.Millisecond):
	}
	if got := watcher.Config().Log.Level; got != "warn" {
		t.Errorf("expected last valid config, got level %q", got)
	}
}

func TestWatcherAppliesOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "perpetua.yaml")
	if err := os.WriteFile(configPath, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("failed to write initial config: %v", err)
	}

	watcher, err := NewWatcher([]string{configPath}, WithOverrides([]string{"log.format=json"}))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if got := watcher.Config().Log.Format; got != "json" {
		t.Errorf("expected override json, got %q", got)
	}
}

func TestWatcherStops(t *testing.T) {
	watcher, err := NewWatcher(nil, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	// Stop before Start must not block.
	done := make(chan struct{})
	go func() {
		watcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a watcher that never started")
	}
}

func TestWatchConfig(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, cfg, err := WatchConfig(ctx, "")
	if err != nil {
		t.Fatalf("WatchConfig failed: %v", err)
	}
	defer watcher.Stop()
	if cfg.Store.Backend != "memory" {
		t.Errorf("expected default backend, got %q", cfg.Store.Backend)
	}
	// A second Stop is harmless.
	watcher.Stop()
}
