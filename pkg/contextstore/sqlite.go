// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package contextstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"

	"github.com/jllopis/perpetua/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists state in SQLite. Several agents may share one
// database; rows are scoped by agent id.
type SQLiteStore struct {
	db      *sql.DB
	agentID string
	opts    options
	release func() error

	mu   sync.RWMutex
	open bool
}

// NewSQLiteStore creates a store for agentID on db. The schema is created on
// Initialize. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB, agentID string, opts ...Option) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New(errors.CodeInvalidInput, "db is nil", nil)
	}
	if strings.TrimSpace(agentID) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "agent id is required", nil)
	}
	return &SQLiteStore{db: db, agentID: agentID, opts: defaultOptions(opts)}, nil
}

// OpenSQLite returns a store for agentID on dsn. Stores opened on the same
// file DSN share one database handle, which is closed when the last of them
// shuts down. File databases get a busy timeout and WAL journaling unless the
// DSN sets them.
func OpenSQLite(dsn, agentID string, opts ...Option) (*SQLiteStore, error) {
	dsn = sqliteDSN(dsn)
	db, err := sqliteDBs.acquire(dsn)
	if err != nil {
		return nil, persistErr("opening sqlite database", err)
	}
	s, err := NewSQLiteStore(db, agentID, opts...)
	if err != nil {
		_ = sqliteDBs.release(dsn, db)
		return nil, err
	}
	var once sync.Once
	s.release = func() error {
		var err error
		once.Do(func() { err = sqliteDBs.release(dsn, db) })
		return err
	}
	return s, nil
}

var sqliteDBs = &dbPool{dbs: make(map[string]*pooledDB)}

type pooledDB struct {
	db   *sql.DB
	refs int
}

// dbPool reference-counts database handles by DSN. In-memory databases are
// private to each store and never pooled.
type dbPool struct {
	mu  sync.Mutex
	dbs map[string]*pooledDB
}

func (p *dbPool) acquire(dsn string) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.dbs[dsn]; ok {
		e.refs++
		return e.db, nil
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers inside the process and keeps
	// ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	if !isMemoryDSN(dsn) {
		p.dbs[dsn] = &pooledDB{db: db, refs: 1}
	}
	return db, nil
}

func (p *dbPool) release(dsn string, db *sql.DB) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.dbs[dsn]
	if !ok || e.db != db {
		return db.Close()
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(p.dbs, dsn)
	return db.Close()
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func sqliteDSN(dsn string) string {
	if isMemoryDSN(dsn) {
		return dsn
	}
	var pragmas []string
	if !strings.Contains(dsn, "busy_timeout") {
		pragmas = append(pragmas, "_pragma=busy_timeout(5000)")
	}
	if !strings.Contains(dsn, "journal_mode") {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
	}
	if len(pragmas) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Initialize implements Store.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	if err := s.db.PingContext(ctx); err != nil {
		return persistErr("pinging sqlite database", err)
	}
	if err := ensureContextSchema(ctx, s.db); err != nil {
		return persistErr("creating context schema", err)
	}
	s.open = true
	return nil
}

// Shutdown implements Store. A store from OpenSQLite drops its reference to
// the shared handle even if it was never initialized.
func (s *SQLiteStore) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	if s.release != nil {
		return persistErr("closing sqlite database", s.release())
	}
	return nil
}

func (s *SQLiteStore) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.open {
		return ErrClosed
	}
	return nil
}

const upsertContext = `
	INSERT INTO agent_context (agent_id, key, value_json, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(agent_id, key) DO UPDATE SET
		value_json = excluded.value_json,
		updated_at = excluded.updated_at
`

// SetContext implements Store.
func (s *SQLiteStore) SetContext(ctx context.Context, key string, value any) error {
	return s.UpdateContext(ctx, map[string]any{key: value})
}

// GetContext implements Store.
func (s *SQLiteStore) GetContext(ctx context.Context, key string, def any) (any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value_json FROM agent_context WHERE agent_id = ? AND key = ?`,
		s.agentID, key,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return def, nil
	}
	if err != nil {
		return nil, persistErr("reading context", err)
	}
	return decodeValue([]byte(raw))
}

// UpdateContext implements Store. All values are written in one transaction.
func (s *SQLiteStore) UpdateContext(ctx context.Context, values map[string]any) error {
	if err := s.ready(); err != nil {
		return err
	}
	encoded := make(map[string]string, len(values))
	for k, v := range values {
		b, err := encodeValue(k, v)
		if err != nil {
			return err
		}
		encoded[k] = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("starting context transaction", err)
	}
	defer tx.Rollback()

	now := s.opts.now()
	for k, v := range encoded {
		if _, err := tx.ExecContext(ctx, upsertContext, s.agentID, k, v, now); err != nil {
			return persistErr("writing context", err)
		}
	}
	return persistErr("committing context", tx.Commit())
}

// GetAllContext implements Store.
func (s *SQLiteStore) GetAllContext(ctx context.Context) (map[string]any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value_json FROM agent_context WHERE agent_id = ?`, s.agentID)
	if err != nil {
		return nil, persistErr("listing context", err)
	}
	defer rows.Close()

	out := make(map[string]any)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, persistErr("scanning context", err)
		}
		v, err := decodeValue([]byte(raw))
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing context", err)
	}
	return out, nil
}

// StoreEvent implements Store.
func (s *SQLiteStore) StoreEvent(ctx context.Context, record EventRecord) error {
	if err := s.ready(); err != nil {
		return err
	}
	record = s.opts.stampEvent(record)
	data, err := encodeValue("event:"+record.Type, record.Data)
	if err != nil {
		return err
	}
	return s.appendAndTrim(ctx, "agent_events", s.opts.maxHistory,
		`INSERT INTO agent_events (agent_id, event_id, event_type, data_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.agentID, record.EventID, record.Type, string(data), record.Timestamp,
	)
}

// GetEvents implements Store.
func (s *SQLiteStore) GetEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, event_type, data_json, created_at FROM (
			SELECT id, event_id, event_type, data_json, created_at
			FROM agent_events WHERE agent_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, s.agentID, sqlLimit(limit))
	if err != nil {
		return nil, persistErr("listing events", err)
	}
	defer rows.Close()

	out := []EventRecord{}
	for rows.Next() {
		var (
			rec     EventRecord
			eventID sql.NullString
			data    sql.NullString
			created sql.NullTime
		)
		if err := rows.Scan(&eventID, &rec.Type, &data, &created); err != nil {
			return nil, persistErr("scanning events", err)
		}
		rec.EventID = eventID.String
		if data.Valid && data.String != "" && data.String != "null" {
			if err := json.Unmarshal([]byte(data.String), &rec.Data); err != nil {
				return nil, persistErr("decoding event data", err)
			}
		}
		if created.Valid {
			rec.Timestamp = created.Time.UTC()
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing events", err)
	}
	return out, nil
}

// AddMemory implements Store.
func (s *SQLiteStore) AddMemory(ctx context.Context, item MemoryItem) error {
	if err := s.ready(); err != nil {
		return err
	}
	item = s.opts.stampMemory(item)
	meta, err := encodeValue("memory", item.Metadata)
	if err != nil {
		return err
	}
	return s.appendAndTrim(ctx, "agent_memory", s.opts.maxMemory,
		`INSERT INTO agent_memory (agent_id, content, kind, metadata_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.agentID, item.Content, item.Kind, string(meta), item.Timestamp,
	)
}

// GetMemory implements Store.
func (s *SQLiteStore) GetMemory(ctx context.Context, limit int) ([]MemoryItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content, kind, metadata_json, created_at FROM (
			SELECT id, content, kind, metadata_json, created_at
			FROM agent_memory WHERE agent_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, s.agentID, sqlLimit(limit))
	if err != nil {
		return nil, persistErr("listing memory", err)
	}
	defer rows.Close()

	out := []MemoryItem{}
	for rows.Next() {
		var (
			item    MemoryItem
			kind    sql.NullString
			meta    sql.NullString
			created sql.NullTime
		)
		if err := rows.Scan(&item.Content, &kind, &meta, &created); err != nil {
			return nil, persistErr("scanning memory", err)
		}
		item.Kind = kind.String
		if meta.Valid && meta.String != "" && meta.String != "null" {
			if err := json.Unmarshal([]byte(meta.String), &item.Metadata); err != nil {
				return nil, persistErr("decoding memory metadata", err)
			}
		}
		if created.Valid {
			item.Timestamp = created.Time.UTC()
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("listing memory", err)
	}
	return out, nil
}

// Statistics implements Store.
func (s *SQLiteStore) Statistics(ctx context.Context) (Statistics, error) {
	if err := s.ready(); err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		Backend:        "sqlite",
		MaxHistorySize: s.opts.maxHistory,
		MaxMemorySize:  s.opts.maxMemory,
	}
	counts := []struct {
		table string
		dst   *int
	}{
		{"agent_context", &stats.ContextKeys},
		{"agent_events", &stats.Events},
		{"agent_memory", &stats.Memories},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+c.table+` WHERE agent_id = ?`, s.agentID,
		).Scan(c.dst); err != nil {
			return Statistics{}, persistErr("counting "+c.table, err)
		}
	}
	return stats, nil
}

// appendAndTrim inserts a row and evicts the oldest rows of the agent beyond max.
func (s *SQLiteStore) appendAndTrim(ctx context.Context, table string, max int, insert string, args ...any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("starting "+table+" transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return persistErr("inserting into "+table, err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM `+table+` WHERE agent_id = ? AND id NOT IN (
			SELECT id FROM `+table+` WHERE agent_id = ? ORDER BY id DESC LIMIT ?
		)
	`, s.agentID, s.agentID, max); err != nil {
		return persistErr("trimming "+table, err)
	}
	return persistErr("committing "+table, tx.Commit())
}

// sqlLimit maps "no limit" to SQLite's LIMIT -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func ensureContextSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_context (
			agent_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value_json TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (agent_id, key)
		);
		CREATE TABLE IF NOT EXISTS agent_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			event_id TEXT,
			event_type TEXT NOT NULL,
			data_json TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agent_events_agent ON agent_events(agent_id, id);
		CREATE TABLE IF NOT EXISTS agent_memory (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			kind TEXT,
			metadata_json TEXT,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agent_memory_agent ON agent_memory(agent_id, id);
	`)
	return err
}
