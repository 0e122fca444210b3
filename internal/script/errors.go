package script

import (
	"errors"
	"fmt"
)

var (
	// ErrScriptLoad marks a script that failed to compile or to run its top level.
	ErrScriptLoad = errors.New("script load error")
	// ErrHandlerResolution marks a handler name that is unbound or not callable.
	ErrHandlerResolution = errors.New("handler resolution error")
	// ErrHandlerInvocation marks a failure raised while a handler ran.
	ErrHandlerInvocation = errors.New("handler invocation error")
	// ErrArityMismatch marks a handler whose declared parameters do not fit the
	// supplied argument tuple. It is always wrapped in an InvocationError.
	ErrArityMismatch = errors.New("invalid number of arguments")
)

type LoadError struct {
	Script string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Script, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrScriptLoad, e.Err} }

type ResolutionError struct {
	Handler string
	Reason  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("handler %s: %s", e.Handler, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return ErrHandlerResolution }

// InvocationError carries the underlying failure of one handler call. Stack
// holds the script stack trace when the engine provided one.
type InvocationError struct {
	Handler string
	Err     error
	Stack   string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handler, e.Err)
}

func (e *InvocationError) Unwrap() []error { return []error{ErrHandlerInvocation, e.Err} }
