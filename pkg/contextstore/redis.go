// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package contextstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/jllopis/perpetua/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key written by RedisStore.
const DefaultKeyPrefix = "perpetua:"

// RedisStore persists state in Redis: the context in a hash and each log in
// a list capped with LTRIM.
type RedisStore struct {
	rdb     *redis.Client
	agentID string
	prefix  string
	opts    options
	ownsRDB bool

	mu   sync.RWMutex
	open bool
}

// NewRedisStore creates a store for agentID on an existing client.
func NewRedisStore(rdb *redis.Client, agentID, prefix string, opts ...Option) (*RedisStore, error) {
	if rdb == nil {
		return nil, errors.New(errors.CodeInvalidInput, "redis client is nil", nil)
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "agent id is required", nil)
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, agentID: agentID, prefix: prefix, opts: defaultOptions(opts)}, nil
}

// OpenRedis parses url (redis://...) and returns a store that closes its
// client on Shutdown.
func OpenRedis(url, agentID, prefix string, opts ...Option) (*RedisStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "parsing redis url", err)
	}
	s, err := NewRedisStore(redis.NewClient(opt), agentID, prefix, opts...)
	if err != nil {
		return nil, err
	}
	s.ownsRDB = true
	return s, nil
}

func (s *RedisStore) key(part string) string {
	return s.prefix + s.agentID + ":" + part
}

// Initialize checks connectivity.
func (s *RedisStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return persistErr("pinging redis", err)
	}
	s.open = true
	return nil
}

// Shutdown implements Store.
func (s *RedisStore) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	if s.ownsRDB {
		return persistErr("closing redis client", s.rdb.Close())
	}
	return nil
}

func (s *RedisStore) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return ErrClosed
	}
	return nil
}

// SetContext implements Store.
func (s *RedisStore) SetContext(ctx context.Context, key string, value any) error {
	return s.UpdateContext(ctx, map[string]any{key: value})
}

// GetContext implements Store.
func (s *RedisStore) GetContext(ctx context.Context, key string, def any) (any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	raw, err := s.rdb.HGet(ctx, s.key("context"), key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return def, nil
	}
	if err != nil {
		return nil, persistErr("reading context", err)
	}
	return decodeValue(raw)
}

// UpdateContext implements Store.
func (s *RedisStore) UpdateContext(ctx context.Context, values map[string]any) error {
	if err := s.ready(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		b, err := encodeValue(k, v)
		if err != nil {
			return err
		}
		fields[k] = string(b)
	}
	return persistErr("writing context", s.rdb.HSet(ctx, s.key("context"), fields).Err())
}

// GetAllContext implements Store.
func (s *RedisStore) GetAllContext(ctx context.Context) (map[string]any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	all, err := s.rdb.HGetAll(ctx, s.key("context")).Result()
	if err != nil {
		return nil, persistErr("listing context", err)
	}
	out := make(map[string]any, len(all))
	for k, raw := range all {
		v, err := decodeValue([]byte(raw))
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// StoreEvent implements Store.
func (s *RedisStore) StoreEvent(ctx context.Context, record EventRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	record = s.opts.stampEvent(record)
	raw, err := encodeValue("event:"+record.Type, record)
	if err != nil {
		return err
	}
	return s.pushCapped(ctx, "events", raw, s.opts.maxHistory)
}

// GetEvents implements Store.
func (s *RedisStore) GetEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	raws, err := s.tail(ctx, "events", limit)
	if err != nil {
		return nil, err
	}
	out := make([]EventRecord, 0, len(raws))
	for _, raw := range raws {
		var rec EventRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, persistErr("decoding event record", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// AddMemory implements Store.
func (s *RedisStore) AddMemory(ctx context.Context, item MemoryItem) error {
	if err := s.ready(); err != nil {
		return err
	}
	item = s.opts.stampMemory(item)
	raw, err := encodeValue("memory", item)
	if err != nil {
		return err
	}
	return s.pushCapped(ctx, "memory", raw, s.opts.maxMemory)
}

// GetMemory implements Store.
func (s *RedisStore) GetMemory(ctx context.Context, limit int) ([]MemoryItem, error) {
	raws, err := s.tail(ctx, "memory", limit)
	if err != nil {
		return nil, err
	}
	out := make([]MemoryItem, 0, len(raws))
	for _, raw := range raws {
		var item MemoryItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, persistErr("decoding memory item", err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Statistics implements Store.
func (s *RedisStore) Statistics(ctx context.Context) (Statistics, error) {
	if err := s.ready(); err != nil {
		return Statistics{}, err
	}
	pipe := s.rdb.Pipeline()
	keys := pipe.HLen(ctx, s.key("context"))
	events := pipe.LLen(ctx, s.key("events"))
	memory := pipe.LLen(ctx, s.key("memory"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Statistics{}, persistErr("reading statistics", err)
	}
	return Statistics{
		Backend:        "redis",
		ContextKeys:    int(keys.Val()),
		Events:         int(events.Val()),
		Memories:       int(memory.Val()),
		MaxHistorySize: s.opts.maxHistory,
		MaxMemorySize:  s.opts.maxMemory,
	}, nil
}

func (s *RedisStore) pushCapped(ctx context.Context, part string, raw []byte, max int) error {
	key := s.key(part)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, string(raw))
		pipe.LTrim(ctx, key, int64(-max), -1)
		return nil
	})
	return persistErr("appending to "+part, err)
}

func (s *RedisStore) tail(ctx context.Context, part string, limit int) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.rdb.LRange(ctx, s.key(part), start, -1).Result()
	if err != nil {
		return nil, persistErr("listing "+part, err)
	}
	return raws, nil
}
