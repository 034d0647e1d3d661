package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/spr/internal/errors"
)

// maxKeysPerQuery keeps IN (...) lists well below SQLite's variable limit.
const maxKeysPerQuery = 500

// Reader is the read half of Store.
type Reader interface {
	// Get returns the stored JSON for each key that exists. Missing keys are absent from the map.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
}

// Store is the persistent key-value contract shared by every component.
// Each Set call is applied atomically as a whole; there is no cross-call transaction.
type Store interface {
	Reader

	// Set writes every key in the patch in one transaction. A nil value deletes the key.
	Set(ctx context.Context, patch Patch) error

	// Update runs a read-modify-write cycle: fn reads through r and returns the patch to
	// write. No other Set or Update of the same store interleaves with it. fn must not
	// call back into the store except through r.
	Update(ctx context.Context, fn func(r Reader) (Patch, error)) error
}

// Patch maps keys to values. Values are JSON-encoded on write; nil deletes the key.
type Patch map[string]any

// Merge copies other into p (other wins) and returns p.
func (p Patch) Merge(other Patch) Patch {
	for k, v := range other {
		p[k] = v
	}
	return p
}

// Decode unmarshals values[key] into out. Returns false if the key is absent.
func Decode(values map[string]json.RawMessage, key string, out any) (bool, error) {
	raw, ok := values[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, errors.NewStorage(err)
	}
	return true, nil
}

// KV is the SQLite implementation of Store.
type KV struct {
	db *sql.DB

	// mu serializes writers within this process; SQLite's write lock
	// serializes them across processes sharing the file.
	mu sync.Mutex
}

// NewKV wraps an initialized database.
func NewKV(database *sql.DB) *KV {
	return &KV{db: database}
}

// querier is the subset of *sql.DB, *sql.Conn and *sql.Tx the store needs.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get implements Store.
func (s *KV) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	return get(ctx, s.db, keys)
}

// connReader reads inside an Update's transaction.
type connReader struct {
	q querier
}

func (r connReader) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	return get(ctx, r.q, keys)
}

func get(ctx context.Context, q querier, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	for start := 0; start < len(keys); start += maxKeysPerQuery {
		end := min(start+maxKeysPerQuery, len(keys))
		if err := getChunk(ctx, q, keys[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func getChunk(ctx context.Context, q querier, keys []string, out map[string]json.RawMessage) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := q.QueryContext(ctx, "SELECT key, value FROM kv WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value string
		)
		if err := rows.Scan(&key, &value); err != nil {
			return errors.NewStorage(err)
		}
		out[key] = json.RawMessage(value)
	}
	if err := rows.Err(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// Set implements Store.
func (s *KV) Set(ctx context.Context, patch Patch) error {
	if len(patch) == 0 {
		return nil
	}
	// Encode everything before opening the transaction so a bad value never
	// leaves a half-applied patch.
	rows, err := encode(patch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := write(ctx, tx, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// Update implements Store. fn reads and the patch is written inside one
// BEGIN IMMEDIATE transaction on a dedicated connection, so the write lock is
// held from the first read until commit, also against other processes.
func (s *KV) Update(ctx context.Context, fn func(r Reader) (Patch, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return errors.NewStorage(err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return errors.NewStorage(err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	patch, err := fn(connReader{q: conn})
	if err != nil {
		return err
	}
	rows, err := encode(patch)
	if err != nil {
		return err
	}
	if err := write(ctx, conn, rows); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return errors.NewStorage(err)
	}
	committed = true
	return nil
}

// encodedRow is one key of a patch ready to write. An invalid value deletes the key.
type encodedRow struct {
	key   string
	value sql.NullString
}

func encode(patch Patch) ([]encodedRow, error) {
	rows := make([]encodedRow, 0, len(patch))
	for k, v := range patch {
		if v == nil {
			rows = append(rows, encodedRow{key: k})
			continue
		}
		var data []byte
		if raw, ok := v.(json.RawMessage); ok {
			data = raw
		} else {
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return nil, errors.NewInternal(err)
			}
		}
		rows = append(rows, encodedRow{key: k, value: sql.NullString{String: string(data), Valid: true}})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	return rows, nil
}

func write(ctx context.Context, q querier, rows []encodedRow) error {
	now := time.Now().UnixMilli()
	for _, r := range rows {
		if !r.value.Valid {
			if _, err := q.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", r.key); err != nil {
				return errors.NewStorage(err)
			}
			continue
		}
		_, err := q.ExecContext(ctx, `
			INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, r.key, r.value.String, now)
		if err != nil {
			return errors.NewStorage(err)
		}
	}
	return nil
}
