package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/mycelium/internal/dispatch"
	"github.com/keshon/mycelium/internal/logging"
	"github.com/keshon/mycelium/internal/metadata"
	"github.com/keshon/mycelium/internal/script"
)

type interaction struct {
	mu      sync.Mutex
	replies []string
}

func (i *interaction) Reply(s string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.replies = append(i.replies, s)
	return nil
}

func (i *interaction) ReplyError(s string) error { return i.Reply("error: " + s) }

func (i *interaction) Replies() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.replies...)
}

const modern = `/** [
	{"name":"ping","description":"Replies with pong","handler":"ping"},
	{"event":"MEMBER_JOIN","handler":"welcome"}
] */
var joined = 0;
function ping(interaction, utils, storage, network, scheduler, time) {
	interaction.reply("pong " + greet());
}
function welcome(member, utils) { joined++; }
`

const legacy = `/** [{"name":"hello","description":"Old style","handler":"hello"}] */
function hello(interaction, utils) { interaction.reply("hi"); }
`

const helper = `function greet() { return "from helper"; }`

const broken = `/** [{"name":"boom","description":"never registered","handler":"boom"}] */
function boom(i) {}
throw new Error("top level failure");
`

const disabled = `/** [{"name":"ban","description":"Ban","handler":"ban"}] */
function ban(i) {}
`

func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, text := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(text), 0o644))
	}
	return dir
}

func TestBuild(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"a_helper.js":   helper,
		"broken.js":     broken,
		"legacy.js":     legacy,
		"modern.js":     modern,
		"moderation.js": disabled,
		"syntax.js":     `/** [{"name":"x","description":"d","handler":"x"}] */ function x( {`,
	})

	res, err := Build(context.Background(), Config{ScriptsDir: dir, Disabled: []string{"moderation.js"}}, logging.Discard())
	require.NoError(t, err)

	var names []string
	for _, c := range res.Commands() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"hello", "ping"}, names)
	assert.Equal(t, []string{"a_helper.js", "legacy.js", "modern.js"}, res.Generation.Scripts)
	assert.True(t, res.Generation.Registry.HasEvent(metadata.EventMemberJoin))

	require.Len(t, res.LoadFailures, 2)
	failed := map[string]bool{}
	for _, f := range res.LoadFailures {
		assert.ErrorIs(t, f.Err, script.ErrScriptLoad)
		failed[f.Script] = true
	}
	assert.Equal(t, map[string]bool{"broken.js": true, "syntax.js": true}, failed)

	assert.Equal(t, []string{"moderation.js"}, res.Report.Disabled)
	require.Len(t, res.Report.Skipped, 1)
	assert.Equal(t, "a_helper.js", res.Report.Skipped[0].Script)
	assert.ErrorIs(t, res.Report.Skipped[0].Err, metadata.ErrNoMetadata)
}

func TestBuildMissingDirectory(t *testing.T) {
	_, err := Build(context.Background(), Config{ScriptsDir: filepath.Join(t.TempDir(), "nope")}, logging.Discard())
	assert.Error(t, err)
}

func TestReloadEndToEnd(t *testing.T) {
	dir := writeScripts(t, map[string]string{
		"a_helper.js": helper,
		"legacy.js":   legacy,
		"modern.js":   modern,
	})

	d := dispatch.New(dispatch.Config{Workers: 2}, dispatch.Toolkit{Utils: "utils"}, logging.Discard())
	defer d.Close(context.Background())

	var published [][]string
	h := New(d, Options{
		Config: Config{ScriptsDir: dir, Policy: script.PolicyShared},
		Logger: logging.Discard(),
		AfterSwap: func(_ context.Context, res *Result) error {
			var names []string
			for _, c := range res.Commands() {
				names = append(names, c.Name)
			}
			published = append(published, names)
			return nil
		},
	})

	res, err := h.Reload(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Generation.ID)
	assert.Same(t, res.Generation, d.Current())

	ia := &interaction{}
	require.NoError(t, d.DispatchCommand(context.Background(), "ping", ia))
	require.NoError(t, d.DispatchCommand(context.Background(), "hello", ia))
	require.NoError(t, d.DispatchCommand(context.Background(), "missing", ia))
	require.Eventually(t, func() bool { return len(ia.Replies()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{"pong from helper", "hi", "error: " + dispatch.MsgUnknownCommand}, ia.Replies())

	require.NoError(t, os.Remove(filepath.Join(dir, "legacy.js")))
	res, err = h.Reload(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Generation.ID)
	assert.Same(t, res, h.Last())
	assert.Equal(t, [][]string{{"hello", "ping"}, {"ping"}}, published)

	require.NoError(t, os.RemoveAll(dir))
	_, err = h.Reload(context.Background())
	assert.Error(t, err)
	assert.EqualValues(t, 2, d.Current().ID)
}

func TestReloadHookError(t *testing.T) {
	dir := writeScripts(t, map[string]string{"modern.js": modern, "a_helper.js": helper})
	d := dispatch.New(dispatch.Config{}, dispatch.Toolkit{}, logging.Discard())
	defer d.Close(context.Background())

	hookErr := errors.New("discord unavailable")
	h := New(d, Options{
		Config:    Config{ScriptsDir: dir},
		Logger:    logging.Discard(),
		AfterSwap: func(context.Context, *Result) error { return hookErr },
	})
	res, err := h.Reload(context.Background())
	assert.ErrorIs(t, err, hookErr)
	require.NotNil(t, res)
	assert.Same(t, res.Generation, d.Current())
}
