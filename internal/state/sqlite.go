// internal/state/sqlite.go
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/user/feedlane/internal/types"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore backs both the cache and the conversation store with a single
// SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dsn and applies
// migrations. The DSN should be a file path to the SQLite database file.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer per account; a single connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("sqlite store ready", "dsn", dsn)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var value []byte
	var expires sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache entry: %w", err)
	}
	if expires.Valid && s.now().UnixMilli() >= expires.Int64 {
		return nil, false, nil
	}
	return json.RawMessage(value), true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value any, expires time.Time) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	var exp sql.NullInt64
	if !expires.IsZero() {
		exp = sql.NullInt64{Int64: expires.UnixMilli(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, stored_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, stored_at = excluded.stored_at, expires_at = excluded.expires_at`,
		key, raw, s.now().UnixMilli(), exp,
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, record *types.Record) error {
	if record.ID == "" || record.RoomID == "" {
		return fmt.Errorf("record id and room id are required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = ?`, string(record.ID)).Scan(&exists)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check record %s: %w", record.ID, err)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM records WHERE room_id = ?`, string(record.RoomID),
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq for room %s: %w", record.RoomID, err)
	}

	stored := *record
	stored.Seq = seq
	body, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO records (id, room_id, seq, created_at, body) VALUES (?, ?, ?, ?, ?)`,
		string(record.ID), string(record.RoomID), seq, record.CreatedAt.UnixMilli(), string(body),
	); err != nil {
		return fmt.Errorf("insert record %s: %w", record.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record %s: %w", record.ID, err)
	}
	record.Seq = seq
	return nil
}

func (s *SQLiteStore) RecordsIn(ctx context.Context, rooms []types.RoomID) ([]*types.Record, error) {
	if len(rooms) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(rooms)), ",")
	args := make([]any, len(rooms))
	for i, r := range rooms {
		args[i] = string(r)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM records WHERE room_id IN (`+placeholders+`) ORDER BY room_id, seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return scanRecords(rows)
}

func (s *SQLiteStore) RecordByID(ctx context.Context, id types.RecordID) (*types.Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM records WHERE id = ?`, string(id)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", id, err)
	}
	var record types.Record
	if err := json.Unmarshal([]byte(body), &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &record, nil
}

func (s *SQLiteStore) Rooms(ctx context.Context) ([]types.RoomID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT room_id FROM records ORDER BY room_id`)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []types.RoomID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, types.RoomID(id))
	}
	return rooms, rows.Err()
}

func (s *SQLiteStore) Tail(ctx context.Context, room types.RoomID, limit int) ([]*types.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM (SELECT body, seq FROM records WHERE room_id = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq`,
		string(room), limit)
	if err != nil {
		return nil, fmt.Errorf("query room tail: %w", err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*types.Record, error) {
	defer rows.Close()
	var out []*types.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var record types.Record
		if err := json.Unmarshal([]byte(body), &record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
