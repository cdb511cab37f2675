package kvstore

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	tl "github.com/tuumbleweed/tintlog/logger"
	"github.com/tuumbleweed/tintlog/palette"
	"github.com/tuumbleweed/xerr"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes incompatibly.
const schemaVersion = 1

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

/*
Store is the local durable key-value store.

Values are brotli-compressed blobs in a single sqlite table. The same database
file also holds the scan history table, so DB() is exposed for the history
package.
*/
type Store struct {
	db   *sql.DB
	path string
}

/*
Open creates (if needed) and opens the sqlite database at dbPath.

WAL journaling and a busy timeout are applied so the fire-and-forget backup
writer and foreground readers don't trip over each other.
*/
func Open(dbPath string) (store *Store, e *xerr.Error) {
	mkdirErr := os.MkdirAll(filepath.Dir(dbPath), 0o755)
	if mkdirErr != nil {
		return nil, xerr.NewError(mkdirErr, "create database directory", dbPath)
	}

	db, openErr := sql.Open("sqlite", dbPath)
	if openErr != nil {
		return nil, xerr.NewError(openErr, "open sqlite db", dbPath)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		_, execErr := db.Exec(pragma)
		if execErr != nil {
			_ = db.Close()
			return nil, xerr.NewError(execErr, "apply pragma", pragma)
		}
	}

	store = &Store{db: db, path: dbPath}
	e = store.initSchema(context.Background())
	if e != nil {
		_ = db.Close()
		return nil, e
	}

	tl.Log(tl.Info1, palette.Green, "Opened key-value store '%s'", dbPath)
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) (e *xerr.Error) {
	_, execErr := s.db.ExecContext(ctx, schemaSQL)
	if execErr != nil {
		return xerr.NewError(execErr, "create schema", s.path)
	}

	var version int
	scanErr := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(scanErr, sql.ErrNoRows) {
		_, insertErr := s.db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion)
		if insertErr != nil {
			return xerr.NewError(insertErr, "record schema version", s.path)
		}
		return nil
	}
	if scanErr != nil {
		return xerr.NewError(scanErr, "read schema version", s.path)
	}
	if version != schemaVersion {
		err := fmt.Errorf("database has version %d, expected %d", version, schemaVersion)
		return xerr.NewError(err, "schema version mismatch (delete the database to start over)", s.path)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the shared connection to packages that keep their own tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

/*
Get returns the raw value stored under key.

found is false when the key is absent. A value that cannot be decompressed is
treated as absent and deleted.
*/
func (s *Store) Get(ctx context.Context, key string) (value []byte, found bool, e *xerr.Error) {
	var stored []byte
	scanErr := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&stored)
	if errors.Is(scanErr, sql.ErrNoRows) {
		return nil, false, nil
	}
	if scanErr != nil {
		return nil, false, xerr.NewError(scanErr, "read kv entry", key)
	}

	value, decodeErr := decompress(stored)
	if decodeErr != nil {
		tl.Log(tl.Warning, palette.Purple, "Dropping %s kv entry '%s': '%s'", "corrupted", key, decodeErr)
		_ = s.Remove(ctx, key)
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) (e *xerr.Error) {
	compressed, compressErr := compress(value)
	if compressErr != nil {
		return xerr.NewError(compressErr, "compress kv value", key)
	}

	execErr := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, compressed, time.Now().UnixMilli(),
		)
		return err
	})
	if execErr != nil {
		return xerr.NewError(execErr, "write kv entry", key)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) (e *xerr.Error) {
	execErr := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		return err
	})
	if execErr != nil {
		return xerr.NewError(execErr, "delete kv entry", key)
	}
	return nil
}

// Keys lists keys sharing prefix, sorted.
func (s *Store) Keys(ctx context.Context, prefix string) (keys []string, e *xerr.Error) {
	rows, queryErr := s.db.QueryContext(ctx, "SELECT key FROM kv WHERE key LIKE ? ESCAPE '\\' ORDER BY key", escapeLike(prefix)+"%")
	if queryErr != nil {
		return nil, xerr.NewError(queryErr, "list kv keys", prefix)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		scanErr := rows.Scan(&key)
		if scanErr != nil {
			return keys, xerr.NewError(scanErr, "scan kv key", prefix)
		}
		keys = append(keys, key)
	}
	rowsErr := rows.Err()
	if rowsErr != nil {
		return keys, xerr.NewError(rowsErr, "iterate kv keys", prefix)
	}
	return keys, nil
}

/*
GetJSON decodes the value under key into target.

Reads are self-healing: when the stored value is not valid JSON for target the
entry is deleted, target is left untouched and found is false, so callers fall
back to their default.
*/
func (s *Store) GetJSON(ctx context.Context, key string, target any) (found bool, e *xerr.Error) {
	value, found, e := s.Get(ctx, key)
	if e != nil || !found {
		return false, e
	}

	decoder := json.NewDecoder(bytes.NewReader(value))
	decodeErr := decoder.Decode(target)
	if decodeErr != nil {
		tl.Log(tl.Warning, palette.Purple, "Dropping %s kv entry '%s': '%s'", "undecodable", key, decodeErr)
		_ = s.Remove(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON marshals value and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, value any) (e *xerr.Error) {
	encoded, marshalErr := json.Marshal(value)
	if marshalErr != nil {
		return xerr.NewError(marshalErr, "marshal kv value", key)
	}
	return s.Set(ctx, key, encoded)
}

func compress(value []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := brotli.NewWriterLevel(&buffer, brotli.DefaultCompression)
	_, writeErr := writer.Write(value)
	if writeErr != nil {
		_ = writer.Close()
		return nil, writeErr
	}
	closeErr := writer.Close()
	if closeErr != nil {
		return nil, closeErr
	}
	return buffer.Bytes(), nil
}

func decompress(stored []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(stored)))
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return replacer.Replace(value)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy re-runs op with exponential backoff while sqlite reports SQLITE_BUSY.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// RetryOnBusy is retryOnBusy for packages sharing the connection.
func RetryOnBusy(ctx context.Context, op func() error) error {
	return retryOnBusy(ctx, op)
}
