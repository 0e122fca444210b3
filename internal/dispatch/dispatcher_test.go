package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/mycelium/internal/logging"
	"github.com/keshon/mycelium/internal/metadata"
	"github.com/keshon/mycelium/internal/registry"
	"github.com/keshon/mycelium/internal/script"
)

// fakeInvoker mimics script.Runtime arity rules without a VM.
type fakeInvoker struct {
	mu       sync.Mutex
	declared map[string]int
	fail     map[string]error
	calls    []script.Call
	block    chan struct{}
}

func (f *fakeInvoker) Invoke(_ context.Context, call script.Call) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	declared, ok := f.declared[call.Handler]
	failure := f.fail[call.Handler]
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if !ok {
		return nil, &script.ResolutionError{Handler: call.Handler, Reason: "not defined"}
	}
	if declared < call.MinParams || declared > len(call.Args) {
		return nil, &script.InvocationError{Handler: call.Handler, Err: script.ErrArityMismatch}
	}
	if failure != nil {
		return nil, &script.InvocationError{Handler: call.Handler, Err: failure}
	}
	return "ok", nil
}

func (f *fakeInvoker) Calls() []script.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]script.Call(nil), f.calls...)
}

type fakeInteraction struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeInteraction) ReplyError(message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, message)
	return nil
}

func (f *fakeInteraction) Replies() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.replies...)
}

const commandsMeta = `/** [
	{"name":"ping","description":"d","handler":"ping"},
	{"name":"old","description":"d","handler":"oldStyle"},
	{"name":"broken","description":"d","handler":"broken"},
	{"name":"greedy","description":"d","handler":"greedy"},
	{"name":"slow","description":"d","handler":"slow"},
	{"event":"MEMBER_JOIN","handler":"first"},
	{"event":"MEMBER_JOIN","handler":"second"},
	{"event":"MEMBER_JOIN","handler":"third"}
] */`

func generation(t *testing.T, id uint64, inv Invoker) *Generation {
	t.Helper()
	snap, rep := registry.Rebuild([]registry.Source{{Name: "bot.js", Text: commandsMeta, Enabled: true}},
		registry.Options{Logger: logging.Discard()})
	require.Empty(t, rep.Skipped)
	return &Generation{ID: id, Registry: snap, Invoker: inv, Scripts: []string{"bot.js", "helpers.js"}}
}

func newInvoker() *fakeInvoker {
	return &fakeInvoker{
		declared: map[string]int{
			"ping": 6, "oldStyle": 2, "broken": 6, "greedy": 9, "slow": 3,
			"first": 2, "second": 1, "third": 6,
		},
		fail: map[string]error{
			"broken": errors.New("TypeError: x is undefined"),
			"second": errors.New("boom"),
		},
	}
}

var kit = Toolkit{Client: "client", Utils: "utils", Storage: "storage", Network: "network", Scheduler: "scheduler", Time: "time"}

func newDispatcher(t *testing.T, cfg Config, inv Invoker) *Dispatcher {
	t.Helper()
	d := New(cfg, kit, logging.Discard())
	d.Swap(generation(t, 1, inv))
	return d
}

func closeNow(t *testing.T, d *Dispatcher) {
	t.Helper()
	require.NoError(t, d.Close(context.Background()))
}

func TestUnknownCommandNeverReachesInvoker(t *testing.T) {
	inv := newInvoker()
	d := newDispatcher(t, Config{}, inv)
	ia := &fakeInteraction{}

	require.NoError(t, d.DispatchCommand(context.Background(), "nope", ia))
	closeNow(t, d)

	assert.Empty(t, inv.Calls())
	assert.Equal(t, []string{MsgUnknownCommand}, ia.Replies())
}

func TestCommandSignatures(t *testing.T) {
	cases := []struct {
		command  string
		calls    int
		lastArgs int
		replies  []string
	}{
		{command: "ping", calls: 1, lastArgs: 6},
		{command: "old", calls: 2, lastArgs: 2},
		{command: "broken", calls: 1, lastArgs: 6, replies: []string{MsgCommandFailed}},
		{command: "greedy", calls: 2, lastArgs: 2, replies: []string{MsgCommandFailed}},
	}
	for _, tc := range cases {
		t.Run(tc.command, func(t *testing.T) {
			inv := newInvoker()
			d := newDispatcher(t, Config{}, inv)
			ia := &fakeInteraction{}

			require.NoError(t, d.DispatchCommand(context.Background(), tc.command, ia))
			closeNow(t, d)

			calls := inv.Calls()
			require.Len(t, calls, tc.calls)
			assert.Equal(t, preferredMinParams, calls[0].MinParams)
			assert.Len(t, calls[0].Args, 6)
			assert.Same(t, ia, calls[0].Args[0])
			assert.Len(t, calls[len(calls)-1].Args, tc.lastArgs)
			if tc.calls == 2 {
				assert.Equal(t, 0, calls[1].MinParams)
				assert.Equal(t, []any{ia, "utils"}, calls[1].Args)
			}
			assert.Equal(t, tc.replies, ia.Replies())
		})
	}
}

func TestEventHandlersRunIndependently(t *testing.T) {
	inv := newInvoker()
	d := newDispatcher(t, Config{Workers: 1}, inv)

	require.NoError(t, d.DispatchEvent(context.Background(), metadata.EventMemberJoin, "member"))
	require.NoError(t, d.DispatchEvent(context.Background(), metadata.EventMessageReceived, "message"))
	closeNow(t, d)

	calls := inv.Calls()
	require.Len(t, calls, 3)
	for i, name := range []string{"first", "second", "third"} {
		assert.Equal(t, name, calls[i].Handler)
		assert.Equal(t, 0, calls[i].MinParams)
		assert.Equal(t, []any{"member", "utils", "storage", "network", "scheduler", "time"}, calls[i].Args)
	}
}

func TestEventHandlerOrderWithManyWorkers(t *testing.T) {
	inv := newInvoker()
	d := newDispatcher(t, Config{Workers: 4, QueueSize: 512}, inv)

	const events = 300
	for i := range events {
		require.NoError(t, d.DispatchEvent(context.Background(), metadata.EventMemberJoin, i))
	}
	closeNow(t, d)

	order := map[int][]string{}
	for _, c := range inv.Calls() {
		i := c.Args[0].(int)
		order[i] = append(order[i], c.Handler)
	}
	require.Len(t, order, events)
	for i, handlers := range order {
		assert.Equal(t, []string{"first", "second", "third"}, handlers, "event %d", i)
	}
}

func TestBusyRejection(t *testing.T) {
	inv := newInvoker()
	inv.block = make(chan struct{})
	d := newDispatcher(t, Config{Workers: 1, QueueSize: 1}, inv)

	first := &fakeInteraction{}
	require.NoError(t, d.DispatchCommand(context.Background(), "slow", first))
	require.Eventually(t, func() bool { return len(inv.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, d.DispatchCommand(context.Background(), "slow", &fakeInteraction{}))

	rejected := &fakeInteraction{}
	err := d.DispatchCommand(context.Background(), "slow", rejected)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, []string{MsgBusy}, rejected.Replies())

	err = d.DispatchEvent(context.Background(), metadata.EventMemberJoin, "member")
	assert.ErrorIs(t, err, ErrBusy)

	close(inv.block)
	closeNow(t, d)
	assert.Len(t, inv.Calls(), 2)
	assert.Empty(t, first.Replies())
}

func TestQueuedTaskKeepsItsGeneration(t *testing.T) {
	older := newInvoker()
	older.block = make(chan struct{})
	d := newDispatcher(t, Config{Workers: 1}, older)

	require.NoError(t, d.DispatchCommand(context.Background(), "slow", &fakeInteraction{}))
	require.Eventually(t, func() bool { return len(older.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.DispatchCommand(context.Background(), "ping", &fakeInteraction{}))

	newer := newInvoker()
	prev := d.Swap(generation(t, 2, newer))
	assert.EqualValues(t, 1, prev.ID)
	assert.EqualValues(t, 2, d.Current().ID)

	close(older.block)
	require.NoError(t, d.DispatchCommand(context.Background(), "ping", &fakeInteraction{}))
	closeNow(t, d)

	require.Len(t, older.Calls(), 2)
	assert.Equal(t, "ping", older.Calls()[1].Handler)
	require.Len(t, newer.Calls(), 1)
}

func TestFireScheduled(t *testing.T) {
	inv := newInvoker()
	d := newDispatcher(t, Config{}, inv)
	defer closeNow(t, d)

	require.NoError(t, d.FireScheduled(context.Background(), "helpers.js", "ping"))
	calls := inv.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []any{"client", "utils", "storage", "network", "scheduler", "time"}, calls[0].Args)

	err := d.FireScheduled(context.Background(), "gone.js", "ping")
	assert.ErrorIs(t, err, script.ErrHandlerResolution)
	assert.Len(t, inv.Calls(), 1)

	err = d.FireScheduled(context.Background(), "bot.js", "broken")
	assert.ErrorIs(t, err, script.ErrHandlerInvocation)
}

func TestClosedDispatcherRejects(t *testing.T) {
	d := newDispatcher(t, Config{}, newInvoker())
	closeNow(t, d)
	closeNow(t, d)

	assert.ErrorIs(t, d.DispatchCommand(context.Background(), "ping", &fakeInteraction{}), ErrClosed)
	assert.ErrorIs(t, d.DispatchEvent(context.Background(), metadata.EventMemberJoin, nil), ErrClosed)
}

func TestEmptyGenerationBeforeFirstSwap(t *testing.T) {
	d := New(Config{}, kit, logging.Discard())
	ia := &fakeInteraction{}
	require.NoError(t, d.DispatchCommand(context.Background(), "ping", ia))
	closeNow(t, d)
	assert.Equal(t, []string{MsgUnknownCommand}, ia.Replies())
}

type panicInvoker struct{}

func (panicInvoker) Invoke(context.Context, script.Call) (any, error) { panic("kaboom") }

func TestPanickingInvokerIsContained(t *testing.T) {
	d := newDispatcher(t, Config{Workers: 1}, panicInvoker{})
	ia := &fakeInteraction{}
	require.NoError(t, d.DispatchCommand(context.Background(), "ping", ia))
	closeNow(t, d)
	assert.Equal(t, []string{MsgCommandFailed}, ia.Replies())
}
