// Package cmd is a transport-agnostic command core: a command has a name, a
// description and Run(ctx, invocation). Adapters decide how commands are
// registered and what they put in the invocation.
package cmd

import "context"

// Invocation carries arguments and an adapter-specific payload (the Discord
// adapter puts the interaction facade in Data).
type Invocation struct {
	Args []string
	Data any
}

type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}

// Func adapts a plain function to Command.
type Func struct {
	CmdName        string
	CmdDescription string
	RunFunc        func(ctx context.Context, inv *Invocation) error
}

func (f *Func) Name() string        { return f.CmdName }
func (f *Func) Description() string { return f.CmdDescription }
func (f *Func) Run(ctx context.Context, inv *Invocation) error {
	return f.RunFunc(ctx, inv)
}
