// Package host runs the load pipeline: read the scripts directory, compile
// and load every enabled script, rebuild the registry from the scripts that
// loaded, and hand the result to the dispatcher as a new generation.
package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/internal/dispatch"
	"github.com/keshon/mycelium/internal/metadata"
	"github.com/keshon/mycelium/internal/registry"
	"github.com/keshon/mycelium/internal/script"
)

type Config struct {
	ScriptsDir string
	Disabled   []string
	Policy     script.Policy
	PoolSize   int
}

// Result describes one load pass.
type Result struct {
	Generation *dispatch.Generation
	Report     registry.Report
	// LoadFailures are scripts that did not compile or whose top level threw.
	// They contribute neither handlers nor registry entries.
	LoadFailures []registry.ScriptFailure
	Duration     time.Duration
}

// Commands returns the descriptors to publish, in registration order.
func (r *Result) Commands() []metadata.Command {
	return r.Generation.Registry.Commands()
}

// Build runs the pipeline without installing the result anywhere.
func Build(ctx context.Context, cfg Config, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.Default()
	}
	start := time.Now()

	sources, err := registry.LoadSources(cfg.ScriptsDir, cfg.Disabled)
	if err != nil {
		return nil, err
	}

	var (
		programs []*script.Program
		failures []registry.ScriptFailure
	)
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		p, err := script.Compile(src.Name, src.Text)
		if err != nil {
			logger.Error("failed to compile script", "script", src.Name, "err", err)
			failures = append(failures, registry.ScriptFailure{Script: src.Name, Err: err})
			continue
		}
		programs = append(programs, p)
	}

	pool, loadErrs := script.NewPool(ctx, programs, script.PoolConfig{
		Policy: cfg.Policy,
		Size:   cfg.PoolSize,
		Logger: logger,
	})
	for _, err := range loadErrs {
		var name string
		var le *script.LoadError
		if errors.As(err, &le) {
			name = le.Script
		}
		failures = append(failures, registry.ScriptFailure{Script: name, Err: err})
	}

	loaded := pool.Loaded()
	registered := slices.DeleteFunc(slices.Clone(sources), func(s registry.Source) bool {
		return s.Enabled && !slices.Contains(loaded, s.Name)
	})
	snap, rep := registry.Rebuild(registered, registry.Options{Logger: logger})

	return &Result{
		Generation: &dispatch.Generation{
			Registry: snap,
			Invoker:  pool,
			Scripts:  loaded,
		},
		Report:       rep,
		LoadFailures: failures,
		Duration:     time.Since(start),
	}, nil
}

// Swapper installs a generation. *dispatch.Dispatcher implements it.
type Swapper interface {
	Swap(gen *dispatch.Generation) *dispatch.Generation
}

type Options struct {
	Config Config
	Logger *log.Logger
	// AfterSwap runs after every successful reload, e.g. to publish commands.
	AfterSwap func(ctx context.Context, res *Result) error
}

// Host serializes reloads and numbers generations.
type Host struct {
	mu     sync.Mutex
	opts   Options
	target Swapper
	logger *log.Logger
	lastID uint64
	last   *Result
}

func New(target Swapper, opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Host{opts: opts, target: target, logger: logger}
}

// Reload builds a new generation and swaps it in. If the scripts directory
// cannot be read the current generation stays in place and the error is
// returned. Reloads never overlap.
func (h *Host) Reload(ctx context.Context) (*Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := Build(ctx, h.opts.Config, h.logger)
	if err != nil {
		h.logger.Error("reload failed, keeping current scripts", "err", err)
		return nil, fmt.Errorf("reload: %w", err)
	}

	h.lastID++
	res.Generation.ID = h.lastID
	h.target.Swap(res.Generation)
	h.last = res

	h.logger.Info("scripts loaded",
		"generation", res.Generation.ID,
		"scripts", len(res.Generation.Scripts),
		"commands", res.Report.Commands,
		"events", res.Report.Events,
		"disabled", len(res.Report.Disabled),
		"skipped", len(res.Report.Skipped),
		"failed", len(res.LoadFailures),
		"took", res.Duration.Round(time.Millisecond))

	if h.opts.AfterSwap != nil {
		if err := h.opts.AfterSwap(ctx, res); err != nil {
			h.logger.Error("post-reload hook failed", "generation", res.Generation.ID, "err", err)
			return res, err
		}
	}
	return res, nil
}

// Last returns the result of the latest successful reload, or nil.
func (h *Host) Last() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}
