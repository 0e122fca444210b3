package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/mycelium/internal/logging"
)

func mustCompile(t *testing.T, name, text string) *Program {
	t.Helper()
	p, err := Compile(name, text)
	require.NoError(t, err)
	return p
}

func loadedRuntime(t *testing.T, texts ...string) *Runtime {
	t.Helper()
	rt := NewRuntime(logging.Discard())
	for i, text := range texts {
		require.NoError(t, rt.Load(mustCompile(t, string(rune('a'+i))+".js", text)))
	}
	return rt
}

type greeter struct{ Prefix string }

func (g *greeter) Greet(name string) string { return g.Prefix + name }

func TestCompileSyntaxError(t *testing.T) {
	_, err := Compile("bad.js", "function (")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScriptLoad)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "bad.js", le.Script)
}

func TestLoadFailureRollsBackGlobals(t *testing.T) {
	rt := loadedRuntime(t, `function ping() { return "a"; }`)

	err := rt.Load(mustCompile(t, "broken.js", `
		function ping() { return "b"; }
		function extra() { return 1; }
		throw new Error("boom");
	`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScriptLoad)

	res, err := rt.Invoke(context.Background(), Call{Handler: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "a", res)

	_, err = rt.Invoke(context.Background(), Call{Handler: "extra"})
	assert.ErrorIs(t, err, ErrHandlerResolution)
	assert.Equal(t, []string{"a.js"}, rt.Loaded())
}

func TestInvokeResolution(t *testing.T) {
	rt := loadedRuntime(t, `var notAFunction = 42;`)

	_, err := rt.Invoke(context.Background(), Call{Handler: "missing"})
	assert.ErrorIs(t, err, ErrHandlerResolution)

	_, err = rt.Invoke(context.Background(), Call{Handler: "notAFunction"})
	assert.ErrorIs(t, err, ErrHandlerResolution)
	assert.NotErrorIs(t, err, ErrHandlerInvocation)
}

func TestInvokeArity(t *testing.T) {
	rt := loadedRuntime(t, `
		function legacy(event, utils) { return "legacy"; }
		function rich(event, utils, db, http, scheduler, time) { return "rich"; }
		function greedy(a, b, c, d, e, f, g) { return "greedy"; }
	`)
	six := []any{1, 2, 3, 4, 5, 6}

	_, err := rt.Invoke(context.Background(), Call{Handler: "legacy", Args: six, MinParams: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrArityMismatch)
	assert.ErrorIs(t, err, ErrHandlerInvocation)

	res, err := rt.Invoke(context.Background(), Call{Handler: "legacy", Args: six[:2]})
	require.NoError(t, err)
	assert.Equal(t, "legacy", res)

	res, err = rt.Invoke(context.Background(), Call{Handler: "rich", Args: six, MinParams: 3})
	require.NoError(t, err)
	assert.Equal(t, "rich", res)

	_, err = rt.Invoke(context.Background(), Call{Handler: "greedy", Args: six})
	assert.ErrorIs(t, err, ErrArityMismatch)
}

func TestInvokeException(t *testing.T) {
	rt := loadedRuntime(t, `function fail(a) { throw new Error("nope"); }`)

	_, err := rt.Invoke(context.Background(), Call{Handler: "fail", Args: []any{1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerInvocation)
	assert.NotErrorIs(t, err, ErrArityMismatch)

	var ie *InvocationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "fail", ie.Handler)
	assert.Contains(t, ie.Err.Error(), "nope")
}

func TestInvokeHostObjects(t *testing.T) {
	rt := loadedRuntime(t, `
		function hello(g, name) { return g.greet(name) + "!"; }
		function add(a, b) { return a + b; }
	`)

	res, err := rt.Invoke(context.Background(), Call{Handler: "hello", Args: []any{&greeter{Prefix: "hi "}, "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "hi bob!", res)

	res, err = rt.Invoke(context.Background(), Call{Handler: "add", Args: []any{2, 3}})
	require.NoError(t, err)
	assert.EqualValues(t, 5, res)
}

func TestInvokeCancelInterruptsHandler(t *testing.T) {
	rt := loadedRuntime(t, `
		function spin() { for (;;) {} }
		function ok() { return "still usable"; }
	`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := rt.Invoke(ctx, Call{Handler: "spin"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerInvocation)

	res, err := rt.Invoke(context.Background(), Call{Handler: "ok"})
	require.NoError(t, err)
	assert.Equal(t, "still usable", res)
}

const counterScript = `
var count = 0;
function bump() { count++; return count; }
`

func TestPoolShared(t *testing.T) {
	pool, failures := NewPool(context.Background(), []*Program{mustCompile(t, "c.js", counterScript)},
		PoolConfig{Policy: PolicyShared, Logger: logging.Discard()})
	require.Empty(t, failures)

	for i := 1; i <= 3; i++ {
		res, err := pool.Invoke(context.Background(), Call{Handler: "bump"})
		require.NoError(t, err)
		assert.EqualValues(t, i, res)
	}
}

func TestPoolIsolated(t *testing.T) {
	pool, _ := NewPool(context.Background(), []*Program{mustCompile(t, "c.js", counterScript)},
		PoolConfig{Policy: PolicyIsolated, Logger: logging.Discard()})

	for range 3 {
		res, err := pool.Invoke(context.Background(), Call{Handler: "bump"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, res)
	}
}

func TestPoolPooledRunsConcurrently(t *testing.T) {
	programs := []*Program{
		mustCompile(t, "c.js", counterScript),
		mustCompile(t, "bad.js", `throw new Error("top level")`),
		mustCompile(t, "d.js", `function echo(x) { return x; }`),
	}
	pool, failures := NewPool(context.Background(), programs,
		PoolConfig{Policy: PolicyPooled, Size: 4, Logger: logging.Discard()})

	require.Len(t, failures, 1)
	assert.True(t, errors.Is(failures[0], ErrScriptLoad))
	assert.Equal(t, []string{"c.js", "d.js"}, pool.Loaded())
	assert.Equal(t, PolicyPooled, pool.Policy())

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := pool.Invoke(context.Background(), Call{Handler: "echo", Args: []any{i}})
			assert.NoError(t, err)
			assert.EqualValues(t, i, res)
		}()
	}
	wg.Wait()
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("Pooled")
	require.NoError(t, err)
	assert.Equal(t, PolicyPooled, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyShared, p)

	_, err = ParsePolicy("forked")
	assert.Error(t, err)
}

func TestJSName(t *testing.T) {
	cases := map[string]string{
		"Reply":      "reply",
		"UserID":     "userId",
		"AvatarURL":  "avatarUrl",
		"ID":         "id",
		"LatencyMs":  "latencyMs",
		"ReplyEmbed": "replyEmbed",
	}
	for in, want := range cases {
		assert.Equal(t, want, jsName(in), in)
	}
}

type palette struct {
	InfoColor int `js:"INFO_COLOR"`
	OwnerID   string
}

func TestTaggedFieldNames(t *testing.T) {
	rt := NewRuntime(logging.Discard())
	require.NoError(t, rt.Load(mustCompile(t, "tags.js", `
		function read(p) { return [typeof p.infoColor, p.INFO_COLOR, p.ownerId].join(","); }
	`)))

	res, err := rt.Invoke(context.Background(), Call{Handler: "read", Args: []any{&palette{InfoColor: 7, OwnerID: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "undefined,7,x", res)
}
