package script

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/keshon/mycelium/pkg/util"
)

// Policy decides how many VMs serve one load generation.
type Policy string

const (
	// PolicyShared runs every invocation on a single VM, one at a time.
	// Script globals are shared by all commands, events and scheduled tasks.
	PolicyShared Policy = "shared"
	// PolicyPooled keeps Size VMs, each with every script loaded. Invocations
	// run in parallel; script globals are per VM and drift apart.
	PolicyPooled Policy = "pooled"
	// PolicyIsolated builds a fresh VM for every invocation from the compiled
	// programs. No state survives a call.
	PolicyIsolated Policy = "isolated"
)

// ParsePolicy validates s.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyShared, PolicyPooled, PolicyIsolated:
		return p, nil
	case "":
		return PolicyShared, nil
	default:
		return "", fmt.Errorf("unknown context policy %q", s)
	}
}

type PoolConfig struct {
	Policy Policy
	// Size is the number of VMs for PolicyPooled. Ignored otherwise.
	Size   int
	Logger *log.Logger
}

// Pool is the Execution Context of one load generation.
type Pool struct {
	policy   Policy
	programs []*Program
	runtimes chan *Runtime
	loaded   []string
	logger   *log.Logger
}

// NewPool loads programs, in order, into the VMs cfg asks for. A program that
// fails on the first VM is dropped from every VM and reported; the rest keep
// loading.
func NewPool(ctx context.Context, programs []*Program, cfg PoolConfig) (*Pool, []error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	policy := cfg.Policy
	if policy == "" {
		policy = PolicyShared
	}

	first := NewRuntime(logger)
	var (
		kept     []*Program
		failures []error
	)
	for _, p := range programs {
		if err := first.Load(p); err != nil {
			logger.Error("failed to load script", "script", p.Name, "err", err)
			failures = append(failures, err)
			continue
		}
		kept = append(kept, p)
	}

	pool := &Pool{
		policy:   policy,
		programs: kept,
		loaded:   first.Loaded(),
		logger:   logger,
	}

	switch policy {
	case PolicyIsolated:
		return pool, failures
	case PolicyPooled:
		size := max(cfg.Size, 1)
		pool.runtimes = make(chan *Runtime, size)
		pool.runtimes <- first

		extra := make([]*Runtime, size-1)
		for i := range extra {
			extra[i] = NewRuntime(logger)
		}
		err := util.Parallel(ctx, extra, size, func(_ context.Context, rt *Runtime) error {
			for _, p := range kept {
				if err := rt.Load(p); err != nil {
					logger.Warn("script failed on a pooled runtime", "script", p.Name, "err", err)
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn("pool warm-up interrupted", "err", err)
		}
		for _, rt := range extra {
			pool.runtimes <- rt
		}
	default:
		pool.runtimes = make(chan *Runtime, 1)
		pool.runtimes <- first
	}
	return pool, failures
}

// Policy returns the policy the pool was built with.
func (p *Pool) Policy() Policy { return p.policy }

// Loaded returns the names of the scripts that loaded, in load order.
func (p *Pool) Loaded() []string { return append([]string(nil), p.loaded...) }

// Invoke runs call on a VM chosen by the pool policy.
func (p *Pool) Invoke(ctx context.Context, call Call) (any, error) {
	if p.policy == PolicyIsolated {
		rt := NewRuntime(p.logger)
		for _, prog := range p.programs {
			if err := rt.Load(prog); err != nil {
				p.logger.Warn("script failed on an isolated runtime", "script", prog.Name, "err", err)
			}
		}
		return rt.Invoke(ctx, call)
	}

	select {
	case rt := <-p.runtimes:
		defer func() { p.runtimes <- rt }()
		return rt.Invoke(ctx, call)
	case <-ctx.Done():
		return nil, &InvocationError{Handler: call.Handler, Err: ctx.Err()}
	}
}
