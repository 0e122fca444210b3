// Package storage holds the bot's persistent state: a SQLite database that
// scripts query with SQL, and a JSON key/value document for small values and
// host bookkeeping such as command hashes.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
)

type Config struct {
	DatabasePath string
	KVPath       string
	Logger       *log.Logger
}

type Storage struct {
	db *sql.DB
	kv *KV
}

func New(ctx context.Context, cfg Config) (*Storage, error) {
	db, err := OpenSQLite(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	kvCfg := DefaultKVConfig(cfg.KVPath)
	kvCfg.Logger = cfg.Logger
	kv, err := OpenKV(kvCfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Storage{db: db, kv: kv}, nil
}

func (s *Storage) Close() error {
	return errors.Join(s.kv.Close(), s.db.Close())
}

func (s *Storage) KV() *KV { return s.kv }

// Exec runs a write statement against the database.
func (s *Storage) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return Exec(ctx, s.db, query, args...)
}

// QueryJSON runs a read query and returns the rows as a JSON array.
func (s *Storage) QueryJSON(ctx context.Context, query string, args ...any) (string, error) {
	return QueryJSON(ctx, s.db, query, args...)
}

func commandHashKey(scope string) string {
	if scope == "" {
		scope = "global"
	}
	return "commands/" + scope
}

// CommandHashes returns the hashes of the commands last synced to scope
// (a guild id, or "" for global commands).
func (s *Storage) CommandHashes(scope string) (map[string]string, error) {
	hashes := map[string]string{}
	if _, err := s.kv.Decode(commandHashKey(scope), &hashes); err != nil {
		return map[string]string{}, fmt.Errorf("command hashes for %q: %w", scope, err)
	}
	return hashes, nil
}

func (s *Storage) SetCommandHashes(scope string, hashes map[string]string) error {
	return s.kv.Set(commandHashKey(scope), hashes)
}
