package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func scriptsDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, text := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
	}
	return dir
}

const ping = `/** [
	{"name":"ping","description":"Pong","handler":"ping"},
	{"event":"MESSAGE_RECEIVED","handler":"onMessage"}
] */
function ping(i) { i.reply("pong"); }
function onMessage(e) {}
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateClean(t *testing.T) {
	dir := scriptsDir(t, map[string]string{"ping.js": ping, "lib.js": "function helper() {}"})
	out, err := execute(t, "validate", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 script(s) loaded, 1 command(s), 1 event handler(s)")
	assert.Contains(t, out, "helper    lib.js")
}

func TestValidateReportsProblems(t *testing.T) {
	dir := scriptsDir(t, map[string]string{
		"ping.js":  ping,
		"bad.js":   `/** [{"name":"x", */ function x() {}`,
		"throw.js": `/** [{"name":"t","description":"d","handler":"t"}] */ throw new Error("no");`,
		"off.js":   `/** [{"name":"off","description":"d","handler":"off"}] */ function off() {}`,
	})
	out, err := execute(t, "validate", "--dir", dir, "--disable", "off.js")
	assert.ErrorIs(t, err, errInvalid)
	assert.Contains(t, out, "invalid   bad.js")
	assert.Contains(t, out, "failed    throw.js")
	assert.Contains(t, out, "disabled  off.js")
}

func TestListFormats(t *testing.T) {
	dir := scriptsDir(t, map[string]string{"ping.js": ping})

	out, err := execute(t, "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "/ping")
	assert.Contains(t, out, "MESSAGE_RECEIVED")

	out, err = execute(t, "list", "--dir", dir, "-o", "json")
	require.NoError(t, err)
	var l listing
	require.NoError(t, json.Unmarshal([]byte(out), &l))
	require.Len(t, l.Commands, 1)
	assert.Equal(t, "ping.js", l.Commands[0].Script)

	out, err = execute(t, "list", "--dir", dir, "-o", "yaml")
	require.NoError(t, err)
	var y listing
	require.NoError(t, yaml.Unmarshal([]byte(out), &y))
	require.Len(t, y.Events, 1)
	assert.Equal(t, "onMessage", y.Events[0].Handler)

	_, err = execute(t, "list", "--dir", dir, "-o", "xml")
	assert.Error(t, err)
}

func TestShippedScriptsValidate(t *testing.T) {
	out, err := execute(t, "validate", "--dir", filepath.Join("..", "..", "scripts"))
	require.NoError(t, err, out)
	assert.Contains(t, out, "4 script(s) loaded, 8 command(s), 2 event handler(s)")
	assert.NotContains(t, out, "warning")

	out, err = execute(t, "list", "--dir", filepath.Join("..", "..", "scripts"), "-o", "json")
	require.NoError(t, err)
	var l listing
	require.NoError(t, json.Unmarshal([]byte(out), &l))
	var names []string
	for _, c := range l.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"catfact", "remindme", "log", "ban", "kick", "timeout", "ping", "userinfo"}, names)
}
