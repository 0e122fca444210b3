package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/mycelium/internal/logging"
)

func openStorage(t *testing.T) *Storage {
	t.Helper()
	dir := t.TempDir()
	s, err := New(context.Background(), Config{
		DatabasePath: filepath.Join(dir, "bot.db"),
		KVPath:       filepath.Join(dir, "store.json"),
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	return s
}

func TestModLogsRoundTrip(t *testing.T) {
	s := openStorage(t)
	defer s.Close()
	ctx := context.Background()

	n, err := s.Exec(ctx, `INSERT INTO mod_logs (guild_id, moderator_id, target_id, action, reason) VALUES (?, ?, ?, ?, ?)`,
		"g1", "mod", "target", "warn", "spam")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = s.Exec(ctx, `INSERT INTO mod_logs (guild_id, moderator_id, target_id, action) VALUES (?, ?, ?, ?)`,
		"g1", "mod", "target", "kick")
	require.NoError(t, err)

	out, err := s.QueryJSON(ctx, `SELECT id, action, reason FROM mod_logs WHERE guild_id = ? ORDER BY id`, "g1")
	require.NoError(t, err)

	var rows []map[string]*string
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "1", *rows[0]["id"])
	assert.Equal(t, "warn", *rows[0]["action"])
	assert.Equal(t, "spam", *rows[0]["reason"])
	assert.Nil(t, rows[1]["reason"])
}

func TestQueryJSONEmptyAndInvalid(t *testing.T) {
	s := openStorage(t)
	defer s.Close()

	out, err := s.QueryJSON(context.Background(), `SELECT * FROM mod_logs`)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	out, err = s.QueryJSON(context.Background(), `SELECT * FROM nowhere`)
	assert.Error(t, err)
	assert.Equal(t, "[]", out)
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kv", "store.json")

	kv, err := OpenKV(KVConfig{Path: path, BackupCount: 2, Logger: logging.Discard()})
	require.NoError(t, err)
	require.NoError(t, kv.Set("greeting", "hello"))
	require.NoError(t, kv.Set("counts", map[string]any{"a": 1}))
	require.NoError(t, kv.Set("gone", true))
	require.NoError(t, kv.Delete("gone"))
	assert.Error(t, kv.Set("bad", func() {}))
	require.NoError(t, kv.Close())
	assert.ErrorIs(t, kv.Set("late", 1), ErrKVClosed)

	kv, err = OpenKV(KVConfig{Path: path, Logger: logging.Discard()})
	require.NoError(t, err)
	defer kv.Close()

	v, ok := kv.Get("greeting")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, []string{"counts", "greeting"}, kv.Keys())

	var counts map[string]int
	found, err := kv.Decode("counts", &counts)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"a": 1}, counts)
}

func TestKVRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := OpenKV(KVConfig{Path: path})
	assert.Error(t, err)
}

func TestCommandHashes(t *testing.T) {
	s := openStorage(t)
	defer s.Close()

	hashes, err := s.CommandHashes("123")
	require.NoError(t, err)
	assert.Empty(t, hashes)

	require.NoError(t, s.SetCommandHashes("123", map[string]string{"ping": "abc"}))
	require.NoError(t, s.SetCommandHashes("", map[string]string{"help": "def"}))

	hashes, err = s.CommandHashes("123")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ping": "abc"}, hashes)

	hashes, err = s.CommandHashes("")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"help": "def"}, hashes)
}
