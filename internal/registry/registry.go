// Package registry builds the command and event tables of one load generation.
//
// A Snapshot is immutable once Rebuild returns it. Reloading never patches a
// live snapshot: a new one is built from scratch and swapped in by the owner.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/internal/metadata"
)

// ErrUnknownCommand is returned by Resolve for a name no script declares.
var ErrUnknownCommand = errors.New("unknown command")

// Binding is what a command name resolves to.
type Binding struct {
	Script  string
	Handler string
	Command metadata.Command
}

// Snapshot is the command/event table of one load generation.
type Snapshot struct {
	commands map[string]metadata.Command
	order    []string
	events   map[metadata.EventTag][]metadata.EventBinding
	scripts  []string
}

// Empty returns a snapshot with nothing registered.
func Empty() *Snapshot {
	return &Snapshot{
		commands: map[string]metadata.Command{},
		events:   map[metadata.EventTag][]metadata.EventBinding{},
	}
}

// Commands returns the descriptors in registration order.
func (s *Snapshot) Commands() []metadata.Command {
	out := make([]metadata.Command, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.commands[name])
	}
	return out
}

// Resolve returns the script and handler serving name.
func (s *Snapshot) Resolve(name string) (Binding, error) {
	cmd, ok := s.commands[name]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return Binding{Script: cmd.Script, Handler: cmd.Handler, Command: cmd}, nil
}

func (s *Snapshot) HasCommand(name string) bool {
	_, ok := s.commands[name]
	return ok
}

func (s *Snapshot) HasEvent(tag metadata.EventTag) bool {
	return len(s.events[tag]) > 0
}

// BindingsFor returns the handlers bound to tag in registration order.
func (s *Snapshot) BindingsFor(tag metadata.EventTag) []metadata.EventBinding {
	return slices.Clone(s.events[tag])
}

// HasScript reports whether script contributed to this snapshot.
func (s *Snapshot) HasScript(name string) bool {
	return slices.Contains(s.scripts, name)
}

// Scripts returns the names of the scripts folded into this snapshot.
func (s *Snapshot) Scripts() []string {
	return slices.Clone(s.scripts)
}

// ScriptFailure is a script that contributed nothing.
type ScriptFailure struct {
	Script string
	Err    error
}

// Override records a command name redefined by a later script.
type Override struct {
	Command  string
	Previous string
	Script   string
}

// Report summarizes one Rebuild for logging.
type Report struct {
	Loaded    []string
	Disabled  []string
	Skipped   []ScriptFailure
	Partial   []ScriptFailure
	Overrides []Override
	Warnings  []string
	Commands  int
	Events    int
}

// Options tunes Rebuild.
type Options struct {
	Logger *log.Logger
}

// Rebuild folds sources, in order, into a fresh snapshot.
//
// Duplicate command names follow last-registration-wins: the later script
// replaces the earlier binding and the descriptor moves to the later position
// in the registration order. Every override is logged and reported.
func Rebuild(sources []Source, opts Options) (*Snapshot, Report) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	snap := Empty()
	var rep Report

	for _, src := range sources {
		if !src.Enabled {
			logger.Info("skipping disabled script", "script", src.Name)
			rep.Disabled = append(rep.Disabled, src.Name)
			continue
		}

		block, ok := metadata.Extract(src.Text)
		if !ok {
			err := &metadata.ParseError{Script: src.Name, Record: -1, Reason: "no metadata block", NoBlock: true}
			if strings.Contains(src.Text, "/**") {
				err.Reason, err.NoBlock = "unterminated metadata block", false
			}
			logger.Warn("script has no usable metadata block", "script", src.Name, "reason", err.Reason)
			rep.Skipped = append(rep.Skipped, ScriptFailure{Script: src.Name, Err: err})
			continue
		}

		defs, err := metadata.Parse(block, src.Name)
		if err != nil {
			logger.Error("failed to parse metadata", "script", src.Name, "err", err)
			rep.Skipped = append(rep.Skipped, ScriptFailure{Script: src.Name, Err: err})
			continue
		}

		for _, f := range defs.Failures {
			logger.Warn("skipped definition", "script", src.Name, "err", f)
			rep.Partial = append(rep.Partial, ScriptFailure{Script: src.Name, Err: f})
		}
		for _, w := range defs.Warnings {
			logger.Warn(w, "script", src.Name)
			rep.Warnings = append(rep.Warnings, src.Name+": "+w)
		}

		for _, cmd := range defs.Commands {
			if prev, exists := snap.commands[cmd.Name]; exists {
				logger.Warn("command redefined, later script wins",
					"command", cmd.Name, "previous", prev.Script, "script", cmd.Script)
				rep.Overrides = append(rep.Overrides, Override{Command: cmd.Name, Previous: prev.Script, Script: cmd.Script})
				snap.order = slices.DeleteFunc(snap.order, func(n string) bool { return n == cmd.Name })
			}
			snap.commands[cmd.Name] = cmd
			snap.order = append(snap.order, cmd.Name)
		}
		for _, ev := range defs.Events {
			snap.events[ev.Event] = append(snap.events[ev.Event], ev)
		}

		snap.scripts = append(snap.scripts, src.Name)
		rep.Loaded = append(rep.Loaded, src.Name)
		logger.Info("parsed script", "script", src.Name,
			"commands", len(defs.Commands), "events", len(defs.Events), "failures", defs.Failed())
	}

	rep.Commands = len(snap.order)
	for _, b := range snap.events {
		rep.Events += len(b)
	}
	return snap, rep
}
