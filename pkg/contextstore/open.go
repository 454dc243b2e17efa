// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package contextstore

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"

	"github.com/jllopis/perpetua/pkg/errors"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	Backend        string
	Path           string // directory for the file backend, one snapshot per agent
	DSN            string
	RedisURL       string
	KeyPrefix      string
	MaxHistorySize int
	MaxMemorySize  int
}

// Open builds a dedicated, uninitialized store for agentID.
func Open(cfg Config, agentID string) (Store, error) {
	opts := []Option{
		WithMaxHistorySize(cfg.MaxHistorySize),
		WithMaxMemorySize(cfg.MaxMemorySize),
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewInMemory(opts...), nil
	case BackendFile:
		dir := cfg.Path
		if dir == "" {
			dir = "data"
		}
		return NewFileStore(filepath.Join(dir, snapshotName(agentID)), opts...), nil
	case BackendSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file:perpetua.db"
		}
		return OpenSQLite(dsn, agentID, opts...)
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New(errors.CodeInvalidInput, "redis backend requires store.redis_url", nil)
		}
		return OpenRedis(cfg.RedisURL, agentID, cfg.KeyPrefix, opts...)
	default:
		return nil, errors.New(errors.CodeInvalidInput, "unknown store backend", nil).
			WithAttribute("backend", cfg.Backend)
	}
}

// snapshotName maps an agent id to a file name. Ids that need escaping get a
// suffix derived from the raw id so that "a/b" and "a_b" never share a file.
func snapshotName(agentID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, agentID)
	if clean == agentID && strings.Trim(clean, ".") != "" {
		return clean + ".json"
	}
	sum := sha256.Sum256([]byte(agentID))
	return clean + "-" + hex.EncodeToString(sum[:4]) + ".json"
}
