package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// ErrKVClosed is returned by KV operations after Close.
var ErrKVClosed = errors.New("key/value store is closed")

// KVConfig tunes the JSON key/value store.
type KVConfig struct {
	Path             string
	AutoSaveInterval time.Duration
	BackupCount      int
	Logger           *log.Logger
}

// DefaultKVConfig returns the settings used by the bot.
func DefaultKVConfig(path string) KVConfig {
	return KVConfig{
		Path:             path,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
	}
}

// KV is an in-memory map persisted as one JSON document. Writes land in
// memory and are flushed periodically, on Save, and on Close.
type KV struct {
	cfg    KVConfig
	logger *log.Logger

	mu           sync.RWMutex
	data         map[string]any
	lastChecksum string
	closed       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenKV loads cfg.Path, creating an empty document if it does not exist.
func OpenKV(cfg KVConfig) (*KV, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("kv path is empty")
	}
	if cfg.AutoSaveInterval <= 0 {
		cfg.AutoSaveInterval = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create kv directory: %w", err)
	}

	kv := &KV{cfg: cfg, logger: logger, data: map[string]any{}}

	raw, err := os.ReadFile(cfg.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := kv.writeFileAtomic([]byte("{}")); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read kv file: %w", err)
	default:
		if err := json.Unmarshal(raw, &kv.data); err != nil {
			return nil, fmt.Errorf("invalid kv file %s: %w", cfg.Path, err)
		}
		if kv.data == nil {
			kv.data = map[string]any{}
		}
		kv.lastChecksum = checksum(raw)
	}

	ctx, cancel := context.WithCancel(context.Background())
	kv.cancel = cancel
	kv.wg.Add(1)
	go kv.autoSave(ctx)
	return kv, nil
}

// Get returns the value stored under key.
func (kv *KV) Get(key string) (any, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	if kv.closed {
		return nil, false
	}
	v, ok := kv.data[key]
	return v, ok
}

// Set stores value under key. value must be JSON-encodable.
func (kv *KV) Set(key string, value any) error {
	if _, err := json.Marshal(value); err != nil {
		return fmt.Errorf("kv value for %q: %w", key, err)
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return ErrKVClosed
	}
	kv.data[key] = value
	return nil
}

// Delete removes key. Removing a missing key is not an error.
func (kv *KV) Delete(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.closed {
		return ErrKVClosed
	}
	delete(kv.data, key)
	return nil
}

// Keys returns the stored keys, sorted.
func (kv *KV) Keys() []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Decode copies the value under key into out through its JSON form.
func (kv *KV) Decode(key string, out any) (bool, error) {
	v, ok := kv.Get(key)
	if !ok {
		return false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return true, fmt.Errorf("marshal %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

// Save flushes to disk now.
func (kv *KV) Save() error {
	kv.mu.RLock()
	closed := kv.closed
	kv.mu.RUnlock()
	if closed {
		return ErrKVClosed
	}
	return kv.save()
}

// Close stops the autosave loop and writes a final copy.
func (kv *KV) Close() error {
	kv.mu.Lock()
	if kv.closed {
		kv.mu.Unlock()
		return nil
	}
	kv.closed = true
	kv.mu.Unlock()

	kv.cancel()
	kv.wg.Wait()
	return kv.save()
}

func (kv *KV) autoSave(ctx context.Context) {
	defer kv.wg.Done()
	ticker := time.NewTicker(kv.cfg.AutoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := kv.save(); err != nil {
				kv.logger.Error("kv autosave failed", "path", kv.cfg.Path, "err", err)
			}
		}
	}
}

func (kv *KV) save() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	raw, err := json.MarshalIndent(kv.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal kv: %w", err)
	}
	sum := checksum(raw)
	if sum == kv.lastChecksum {
		return nil
	}
	if kv.cfg.BackupCount > 0 {
		if err := kv.backup(); err != nil {
			kv.logger.Warn("kv backup failed", "path", kv.cfg.Path, "err", err)
		}
	}
	if err := kv.writeFileAtomic(raw); err != nil {
		return err
	}
	kv.lastChecksum = sum
	return nil
}

func (kv *KV) writeFileAtomic(raw []byte) error {
	tmp := kv.cfg.Path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, kv.cfg.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// backup copies the current file aside and keeps the newest BackupCount copies.
func (kv *KV) backup() error {
	src, err := os.Open(kv.cfg.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	name := fmt.Sprintf("%s.backup.%s", kv.cfg.Path, time.Now().Format("20060102_150405.000000000"))
	dst, err := os.Create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	matches, err := filepath.Glob(kv.cfg.Path + ".backup.*")
	if err != nil || len(matches) <= kv.cfg.BackupCount {
		return err
	}
	// Timestamped names sort chronologically.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-kv.cfg.BackupCount] {
		os.Remove(old)
	}
	return nil
}

func checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
