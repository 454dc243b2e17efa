// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// fileSnapshot is the on-disk layout of a FileStore.
type fileSnapshot struct {
	Context map[string]any `json:"context"`
	Events  []EventRecord  `json:"events"`
	Memory  []MemoryItem   `json:"memory"`
}

// FileStore keeps state in memory and rewrites a JSON snapshot after every
// mutation. The file is replaced atomically, so a crash leaves either the
// previous or the new snapshot.
type FileStore struct {
	*InMemory
	path string
}

// NewFileStore creates a store persisted at path. Parent directories are
// created on Initialize.
func NewFileStore(path string, opts ...Option) *FileStore {
	f := &FileStore{InMemory: NewInMemory(opts...), path: path}
	f.backend = "file"
	f.onChange = f.flushLocked
	return f
}

// Path returns the snapshot location.
func (f *FileStore) Path() string {
	return f.path
}

// Initialize loads an existing snapshot, if any.
func (f *FileStore) Initialize(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return persistErr("creating store directory", err)
	}

	raw, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return persistErr("reading store snapshot", err)
	default:
		var snap fileSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return persistErr("decoding store snapshot", err)
		}
		f.values = make(map[string]any, len(snap.Context))
		for k, v := range snap.Context {
			f.values[k] = v
		}
		f.events.reset(snap.Events)
		f.memory.reset(snap.Memory)
	}
	f.open = true
	return nil
}

// Shutdown writes a final snapshot.
func (f *FileStore) Shutdown(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil
	}
	err := f.flushLocked()
	f.open = false
	return err
}

// SetContext implements Store. Values must be JSON serializable.
func (f *FileStore) SetContext(ctx context.Context, key string, value any) error {
	if _, err := encodeValue(key, value); err != nil {
		return err
	}
	return f.InMemory.SetContext(ctx, key, value)
}

// UpdateContext implements Store. Values must be JSON serializable.
func (f *FileStore) UpdateContext(ctx context.Context, values map[string]any) error {
	for k, v := range values {
		if _, err := encodeValue(k, v); err != nil {
			return err
		}
	}
	return f.InMemory.UpdateContext(ctx, values)
}

// StoreEvent implements Store.
func (f *FileStore) StoreEvent(ctx context.Context, record EventRecord) error {
	if _, err := encodeValue("event:"+record.Type, record.Data); err != nil {
		return err
	}
	return f.InMemory.StoreEvent(ctx, record)
}

// AddMemory implements Store.
func (f *FileStore) AddMemory(ctx context.Context, item MemoryItem) error {
	if _, err := encodeValue("memory", item.Metadata); err != nil {
		return err
	}
	return f.InMemory.AddMemory(ctx, item)
}

func (f *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(fileSnapshot{
		Context: f.values,
		Events:  f.events.items,
		Memory:  f.memory.items,
	}, "", "  ")
	if err != nil {
		return persistErr("encoding store snapshot", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return persistErr("creating snapshot file", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return persistErr("writing snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return persistErr("closing snapshot file", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return persistErr("replacing snapshot file", err)
	}
	return nil
}
