// Package docstore wraps the embedded badger database with the small set of
// document primitives the stores are built on: JSON encoded values under
// "<collection>:<id>" keys, read from and written to badger transactions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when no document exists under the requested key.
	ErrNotFound = errors.New("document not found")
	// ErrTimeout is returned when a store operation exceeded its deadline.
	// It is retryable.
	ErrTimeout = errors.New("storage timeout")
	// ErrUnavailable is returned when the database cannot serve requests,
	// e.g. it is closed or writes are blocked. It is retryable with backoff.
	ErrUnavailable = errors.New("storage unavailable")
)

// DB is a handle to the embedded document store.
type DB struct {
	*badger.DB
}

// Open opens (creating if needed) the document store at dir.
func Open(dir string, log *slog.Logger) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log: log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening document store at %s: %w", dir, err)
	}
	return &DB{DB: db}, nil
}

// OpenInMemory opens an in-memory document store. Used in tests.
func OpenInMemory(log *slog.Logger) (*DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(badgerLogger{log: log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory document store: %w", err)
	}
	return &DB{DB: db}, nil
}

// Key builds a document key from a collection name and key parts.
func Key(collection string, parts ...string) []byte {
	if len(parts) == 0 {
		return []byte(collection)
	}
	return []byte(collection + ":" + strings.Join(parts, ":"))
}

// Get reads the document under key into v.
// It returns ErrNotFound if no document exists under the key.
func Get(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return Translate(err)
	}
	return item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, v); err != nil {
			return fmt.Errorf("decoding document %s: %w", key, err)
		}
		return nil
	})
}

// Exists reports whether a document exists under key.
func Exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, Translate(err)
	}
	return true, nil
}

// Put writes v as the document under key.
func Put(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", key, err)
	}
	return Translate(txn.Set(key, data))
}

// PutTTL writes v as the document under key with an expiry. The document
// disappears from reads after ttl elapses.
func PutTTL(txn *badger.Txn, key []byte, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", key, err)
	}
	return Translate(txn.SetEntry(badger.NewEntry(key, data).WithTTL(ttl)))
}

// Delete removes the document under key. Deleting a missing document is not
// an error.
func Delete(txn *badger.Txn, key []byte) error {
	return Translate(txn.Delete(key))
}

// IsConflict reports whether err is a transaction conflict. Conflicted
// transactions left no trace in the store and may be retried.
func IsConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

// Translate maps storage level errors onto the package error kinds. Errors
// with no mapping are returned unchanged.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, badger.ErrDBClosed), errors.Is(err, badger.ErrBlockedWrites):
		return ErrUnavailable
	default:
		return err
	}
}

// badgerLogger adapts slog to badger's Logger interface.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}
