package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{"DISCORD_TOKEN": "secret"})
	require.NoError(t, err)

	assert.Equal(t, "./scripts", cfg.ScriptsDir)
	assert.Equal(t, filepath.Join("./data", "bot.db"), cfg.DatabasePath)
	assert.Equal(t, filepath.Join("./data", "datastore.json"), cfg.StoragePath)
	assert.Equal(t, "shared", cfg.ContextPolicy)
	assert.True(t, cfg.LogCommands)
	assert.False(t, cfg.AllowDMCommands)
	assert.Equal(t, 5, cfg.SchedulerWorkers)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Empty(t, cfg.GuildIDs)
}

func TestLists(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"DISCORD_TOKEN":     "secret",
		"DISCORD_GUILD_IDS": "1,2",
		"OWNER_IDS":         "42",
		"DISABLED_SCRIPTS":  "moderation.js,fun.js",
		"CONTEXT_POLICY":    "isolated",
		"HTTP_TIMEOUT":      "3s",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, cfg.GuildIDs)
	assert.Equal(t, []string{"moderation.js", "fun.js"}, cfg.DisabledScripts)
	assert.True(t, cfg.IsOwner("42"))
	assert.False(t, cfg.IsOwner("7"))
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
}

func TestInvalid(t *testing.T) {
	_, err := FromMap(map[string]string{})
	assert.Error(t, err)

	_, err = FromMap(map[string]string{"DISCORD_TOKEN": "x", "CONTEXT_POLICY": "forked"})
	assert.ErrorContains(t, err, "CONTEXT_POLICY")

	_, err = FromMap(map[string]string{"DISCORD_TOKEN": "x", "DISPATCH_WORKERS": "0"})
	assert.ErrorContains(t, err, "DISPATCH_WORKERS")
}

func TestListsAreTrimmed(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"DISCORD_TOKEN":     "secret",
		"DISCORD_GUILD_IDS": " 1 , 2",
		"OWNER_IDS":         "42, ",
		"DISABLED_SCRIPTS":  "moderation.js, fun.js ,",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, cfg.GuildIDs)
	assert.Equal(t, []string{"moderation.js", "fun.js"}, cfg.DisabledScripts)
	assert.True(t, cfg.IsOwner("42"))
}
