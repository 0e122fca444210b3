// Package dispatch routes commands, events and scheduled fires to script
// handlers.
//
// Callers only enqueue. A fixed set of workers drains a bounded queue, so a
// slow handler never blocks the gateway goroutine that received the event.
// Every task runs against the generation that was current when it was
// enqueued; a reload swapping in a new generation never affects work already
// in the queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/internal/metadata"
	"github.com/keshon/mycelium/internal/registry"
	"github.com/keshon/mycelium/internal/script"
)

var (
	// ErrBusy is returned when the task queue is full.
	ErrBusy = errors.New("dispatcher busy")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Replies shown to users. Diagnostics go to the log only.
const (
	MsgUnknownCommand = "Unknown command."
	MsgBusy           = "The bot is busy right now, try again in a moment."
	MsgCommandFailed  = "Something went wrong while running this command."
)

// Preferred handlers declare at least the interaction, utils and storage.
const preferredMinParams = 3

// Invoker runs one handler call. *script.Pool implements it.
type Invoker interface {
	Invoke(ctx context.Context, call script.Call) (any, error)
}

// Interaction is the part of a command interaction the dispatcher itself
// needs. Handlers receive the full value.
type Interaction interface {
	ReplyError(message string) error
}

// Generation is one load pass: the command/event table plus the runtimes
// loaded from the same sources.
type Generation struct {
	ID       uint64
	Registry *registry.Snapshot
	Invoker  Invoker
	// Scripts are the scripts loaded into the runtimes, including helpers
	// without metadata.
	Scripts []string
}

func (g *Generation) hasScript(name string) bool {
	return slices.Contains(g.Scripts, name) || g.Registry.HasScript(name)
}

type Config struct {
	Workers   int
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

type task struct {
	kind string
	name string
	run  func(ctx context.Context)
}

// Dispatcher owns the worker pool and the current generation.
type Dispatcher struct {
	cfg    Config
	kit    Toolkit
	logger *log.Logger

	gen atomic.Pointer[Generation]

	mu     sync.RWMutex
	closed bool
	tasks  chan task
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New starts cfg.Workers workers. The dispatcher serves an empty generation
// until the first Swap.
func New(cfg Config, kit Toolkit, logger *log.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		kit:    kit,
		logger: logger,
		tasks:  make(chan task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.gen.Store(&Generation{Registry: registry.Empty(), Invoker: nopInvoker{}})

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Swap installs gen and returns the generation it replaced. Tasks already
// queued keep the generation they captured.
func (d *Dispatcher) Swap(gen *Generation) *Generation {
	if gen.Registry == nil {
		gen.Registry = registry.Empty()
	}
	if gen.Invoker == nil {
		gen.Invoker = nopInvoker{}
	}
	old := d.gen.Swap(gen)
	d.logger.Info("generation swapped", "generation", gen.ID,
		"commands", len(gen.Registry.Commands()), "scripts", len(gen.Scripts))
	return old
}

// Current returns the generation new tasks will run against.
func (d *Dispatcher) Current() *Generation {
	return d.gen.Load()
}

// SetToolkit replaces the accessors handed to handlers. Call it before the
// first dispatch.
func (d *Dispatcher) SetToolkit(kit Toolkit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kit = kit
}

func (d *Dispatcher) toolkit() Toolkit {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.kit
}

// DispatchCommand queues the command name for ia and returns at once.
// When the queue is full the user is told the bot is busy and ErrBusy is
// returned.
func (d *Dispatcher) DispatchCommand(ctx context.Context, name string, ia Interaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen := d.Current()
	err := d.enqueue(task{kind: "command", name: name, run: func(ctx context.Context) {
		d.runCommand(ctx, gen, name, ia)
	}})
	if errors.Is(err, ErrBusy) {
		d.logger.Warn("dispatch queue full, rejecting command", "command", name)
		if rerr := ia.ReplyError(MsgBusy); rerr != nil {
			d.logger.Debug("busy reply failed", "command", name, "err", rerr)
		}
	}
	return err
}

// DispatchEvent queues one task for the event. The task runs every handler
// bound to tag in registration order, on whichever worker picks it up, so
// the order holds however many workers there are. Handlers are independent:
// one failing never stops the others.
func (d *Dispatcher) DispatchEvent(ctx context.Context, tag metadata.EventTag, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen := d.Current()
	bindings := gen.Registry.BindingsFor(tag)
	if len(bindings) == 0 {
		return nil
	}

	err := d.enqueue(task{kind: "event", name: string(tag), run: func(ctx context.Context) {
		for _, b := range bindings {
			if ctx.Err() != nil {
				return
			}
			d.runEvent(ctx, gen, b, event)
		}
	}})
	if errors.Is(err, ErrBusy) {
		d.logger.Warn("dispatch queue full, dropped event", "event", tag, "handlers", len(bindings))
		return fmt.Errorf("%w: %d %s handlers dropped", ErrBusy, len(bindings), tag)
	}
	return err
}

// FireScheduled runs handler of script on the calling goroutine. The script
// must belong to the current generation.
func (d *Dispatcher) FireScheduled(ctx context.Context, scriptName, handler string) error {
	gen := d.Current()
	if !gen.hasScript(scriptName) {
		return &script.ResolutionError{Handler: handler, Reason: fmt.Sprintf("script %s is not loaded", scriptName)}
	}
	_, err := d.invoke(ctx, gen, script.Call{Handler: handler, Args: d.toolkit().scheduled()})
	if err != nil {
		d.logFailure("scheduled task failed", err, "script", scriptName, "handler", handler)
	}
	return err
}

// Close stops intake and waits for the queue to drain. If ctx ends first,
// running handlers are interrupted and ctx.Err() is returned once the
// workers have exited.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.tasks)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(t task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.tasks <- t:
		return nil
	default:
		return ErrBusy
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.tasks {
		d.safeRun(t)
	}
}

func (d *Dispatcher) safeRun(t task) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("recovered panic in dispatch worker", "kind", t.kind, "name", t.name, "panic", rec)
		}
	}()
	t.run(d.ctx)
}

func (d *Dispatcher) runCommand(ctx context.Context, gen *Generation, name string, ia Interaction) {
	binding, err := gen.Registry.Resolve(name)
	if err != nil {
		d.logger.Warn("unknown command", "command", name, "generation", gen.ID)
		d.reply(ia, name, MsgUnknownCommand)
		return
	}

	kit := d.toolkit()
	call := script.Call{Handler: binding.Handler, Args: kit.preferred(ia), MinParams: preferredMinParams}
	_, err = d.invoke(ctx, gen, call)
	if errors.Is(err, script.ErrArityMismatch) {
		d.logger.Debug("retrying with legacy signature", "command", name, "handler", binding.Handler)
		_, err = d.invoke(ctx, gen, script.Call{Handler: binding.Handler, Args: kit.legacy(ia)})
	}
	if err != nil {
		d.logFailure("command failed", err, "command", name, "script", binding.Script, "handler", binding.Handler)
		d.reply(ia, name, MsgCommandFailed)
	}
}

func (d *Dispatcher) runEvent(ctx context.Context, gen *Generation, b metadata.EventBinding, event any) {
	call := script.Call{Handler: b.Handler, Args: d.toolkit().preferred(event)}
	// invoke recovers panics, so a crashing handler does not skip the rest
	if _, err := d.invoke(ctx, gen, call); err != nil {
		d.logFailure("event handler failed", err, "event", b.Event, "script", b.Script, "handler", b.Handler)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, gen *Generation, call script.Call) (res any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &script.InvocationError{Handler: call.Handler, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	return gen.Invoker.Invoke(ctx, call)
}

func (d *Dispatcher) reply(ia Interaction, name, msg string) {
	if err := ia.ReplyError(msg); err != nil {
		d.logger.Warn("failed to reply", "command", name, "err", err)
	}
}

func (d *Dispatcher) logFailure(msg string, err error, keyvals ...any) {
	d.logger.Error(msg, append(keyvals, "err", err)...)
	var ie *script.InvocationError
	if errors.As(err, &ie) && ie.Stack != "" {
		d.logger.Debug("script stack", append(keyvals, "stack", ie.Stack)...)
	}
}

type nopInvoker struct{}

func (nopInvoker) Invoke(_ context.Context, call script.Call) (any, error) {
	return nil, &script.ResolutionError{Handler: call.Handler, Reason: "no scripts loaded"}
}
