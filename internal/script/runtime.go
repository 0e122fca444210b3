// Package script is the boundary to the embedded JavaScript engine (goja).
//
// A Runtime owns one goja VM. Scripts are compiled once into Programs and run
// into one or more Runtimes; handlers are then looked up by global name and
// invoked with a host-supplied argument tuple.
//
// goja VMs are not safe for concurrent use, so every Runtime serializes its
// own calls. Concurrency across invocations comes from Pool.
package script

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"
)

// Program is a compiled script.
type Program struct {
	Name string
	prog *goja.Program
}

// Compile parses text. Syntax errors come back as a *LoadError.
func Compile(name, text string) (*Program, error) {
	p, err := goja.Compile(name, text, false)
	if err != nil {
		return nil, &LoadError{Script: name, Err: err}
	}
	return &Program{Name: name, prog: p}, nil
}

// Call is one handler invocation.
type Call struct {
	Handler string
	Args    []any
	// MinParams is the fewest parameters the handler may declare for this
	// call. The most it may declare is len(Args).
	MinParams int
}

// Runtime is one goja VM plus the scripts loaded into it.
type Runtime struct {
	mu     sync.Mutex
	vm     *goja.Runtime
	logger *log.Logger
	loaded []string
}

// NewRuntime creates an empty VM. Go methods and fields of values passed to
// handlers are exposed in camel case (see jsName).
func NewRuntime(logger *log.Logger) *Runtime {
	if logger == nil {
		logger = log.Default()
	}
	vm := goja.New()
	vm.SetFieldNameMapper(fieldNameMapper{})

	r := &Runtime{vm: vm, logger: logger}
	r.installConsole()
	return r
}

// Load runs the top level of p. On failure every global the script added or
// replaced is rolled back, so p contributes no handlers while earlier scripts
// keep theirs. Top-level let/const bindings are outside the global object and
// are not rolled back.
func (r *Runtime) Load(p *Program) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	global := r.vm.GlobalObject()
	before := make(map[string]goja.Value)
	for _, k := range global.Keys() {
		before[k] = global.Get(k)
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = &LoadError{Script: p.Name, Err: fmt.Errorf("panic: %v", rec)}
		}
		if err != nil {
			r.rollback(before)
		}
	}()

	if _, runErr := r.vm.RunProgram(p.prog); runErr != nil {
		return &LoadError{Script: p.Name, Err: runErr}
	}
	r.loaded = append(r.loaded, p.Name)
	return nil
}

func (r *Runtime) rollback(before map[string]goja.Value) {
	global := r.vm.GlobalObject()
	for _, k := range global.Keys() {
		prev, existed := before[k]
		switch {
		case !existed:
			if err := global.Delete(k); err != nil {
				_ = global.Set(k, goja.Undefined())
			}
		case !prev.SameAs(global.Get(k)):
			_ = global.Set(k, prev)
		}
	}
}

// Loaded returns the names of the scripts successfully loaded, in order.
func (r *Runtime) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loaded...)
}

// Invoke calls the global function call.Handler with call.Args.
//
// The declared parameter count of the handler must lie within
// [call.MinParams, len(call.Args)]; otherwise the call fails with an
// InvocationError wrapping ErrArityMismatch and the handler is not run.
// Cancelling ctx interrupts a running handler.
func (r *Runtime) Invoke(ctx context.Context, call Call) (result any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = &InvocationError{Handler: call.Handler, Err: fmt.Errorf("panic: %v", rec), Stack: string(debug.Stack())}
		}
	}()

	v := r.vm.Get(call.Handler)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, &ResolutionError{Handler: call.Handler, Reason: "not defined"}
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, &ResolutionError{Handler: call.Handler, Reason: "not callable"}
	}

	declared := int(v.ToObject(r.vm).Get("length").ToInteger())
	if declared < call.MinParams || declared > len(call.Args) {
		return nil, &InvocationError{
			Handler: call.Handler,
			Err: fmt.Errorf("%w: handler declares %d, call accepts %d..%d",
				ErrArityMismatch, declared, call.MinParams, len(call.Args)),
		}
	}

	args := make([]goja.Value, len(call.Args))
	for i, a := range call.Args {
		args[i] = r.vm.ToValue(a)
	}

	r.vm.ClearInterrupt()
	stop := context.AfterFunc(ctx, func() { r.vm.Interrupt(ctx.Err()) })
	defer func() {
		if !stop() {
			r.vm.ClearInterrupt()
		}
	}()

	res, callErr := fn(goja.Undefined(), args...)
	if callErr != nil {
		ie := &InvocationError{Handler: call.Handler, Err: callErr}
		var ex *goja.Exception
		if errors.As(callErr, &ex) {
			ie.Stack = ex.String()
		}
		return nil, ie
	}
	if res == nil {
		return nil, nil
	}
	return res.Export(), nil
}

func (r *Runtime) installConsole() {
	console := r.vm.NewObject()
	levels := map[string]func(msg any, keyvals ...any){
		"log":   r.logger.Info,
		"info":  r.logger.Info,
		"warn":  r.logger.Warn,
		"error": r.logger.Error,
		"debug": r.logger.Debug,
	}
	for name, emit := range levels {
		_ = console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			emit(strings.Join(parts, " "), "source", "script")
			return goja.Undefined()
		})
	}
	_ = r.vm.Set("console", console)
}
