package hostapi

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Backend is the persistence the "storage" accessor works on.
// *storage.Storage implements it.
type Backend interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryJSON(ctx context.Context, query string, args ...any) (string, error)
}

// KeyValue is the key/value half of the backend. *storage.KV implements it.
type KeyValue interface {
	Get(key string) (any, bool)
	Set(key string, value any) error
	Delete(key string) error
}

// Storage is the "storage" accessor. SQL failures are logged and reported to
// the script as -1 (execute) or an empty array (query), never thrown.
type Storage struct {
	db      Backend
	kv      KeyValue
	timeout time.Duration
	logger  *log.Logger
}

func NewStorage(db Backend, kv KeyValue, logger *log.Logger) *Storage {
	if logger == nil {
		logger = log.Default()
	}
	return &Storage{db: db, kv: kv, timeout: 10 * time.Second, logger: logger}
}

// Execute runs a write statement with positional parameters and returns the
// number of affected rows, or -1 on failure.
func (s *Storage) Execute(query string, params ...any) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.db.Exec(ctx, query, params...)
	if err != nil {
		s.logger.Error("script sql execute failed", "err", err)
		return -1
	}
	return n
}

// Query runs a read statement and returns the rows as a JSON array string.
func (s *Storage) Query(query string, params ...any) string {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	out, err := s.db.QueryJSON(ctx, query, params...)
	if err != nil {
		s.logger.Error("script sql query failed", "err", err)
		return "[]"
	}
	return out
}

// Get returns the value stored under key, or null.
func (s *Storage) Get(key string) any {
	v, ok := s.kv.Get(key)
	if !ok {
		return nil
	}
	return v
}

// Set stores value under key and reports success.
func (s *Storage) Set(key string, value any) bool {
	if err := s.kv.Set(key, value); err != nil {
		s.logger.Error("script kv set failed", "key", key, "err", err)
		return false
	}
	return true
}

func (s *Storage) Delete(key string) bool {
	if err := s.kv.Delete(key); err != nil {
		s.logger.Error("script kv delete failed", "key", key, "err", err)
		return false
	}
	return true
}
