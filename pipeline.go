package storeauth

import (
	"context"
	"errors"
	"fmt"
)

// stage is a position in an action. Stages run in ascending order only.
// Per-IP limits sit in stageRateLimit; per-account budgets need the lookup
// and sit in stageThrottle, still ahead of any credential comparison.
type stage uint8

const (
	stageRateLimit stage = iota
	stageValidate
	stageLookup
	stageThrottle
	stageVerify
	stageMutate
	stageNotify
)

func (s stage) String() string {
	switch s {
	case stageRateLimit:
		return "rate_limit"
	case stageValidate:
		return "validate"
	case stageLookup:
		return "lookup"
	case stageThrottle:
		return "throttle"
	case stageVerify:
		return "verify"
	case stageMutate:
		return "mutate"
	case stageNotify:
		return "notify"
	default:
		return "unknown"
	}
}

var errStageOrder = errors.New("pipeline stage out of order")

type pipelineStep struct {
	stage stage
	fn    func(ctx context.Context) error
}

// pipeline sequences the stages of one action. Registering a stage that
// precedes an already registered one poisons the pipeline, so an action whose
// rate limit drifted behind its credential check fails every call.
type pipeline struct {
	action string
	steps  []pipelineStep
	err    error
}

func newPipeline(action string) *pipeline {
	return &pipeline{action: action, steps: make([]pipelineStep, 0, 6)}
}

func (p *pipeline) add(s stage, fn func(ctx context.Context) error) *pipeline {
	if n := len(p.steps); n > 0 && p.steps[n-1].stage > s && p.err == nil {
		p.err = fmt.Errorf("%w: %s: %s after %s", errStageOrder, p.action, s, p.steps[n-1].stage)
	}
	p.steps = append(p.steps, pipelineStep{stage: s, fn: fn})
	return p
}

func (p *pipeline) rateLimit(fn func(ctx context.Context) error) *pipeline {
	return p.add(stageRateLimit, fn)
}

func (p *pipeline) validate(fn func(ctx context.Context) error) *pipeline {
	return p.add(stageValidate, fn)
}

func (p *pipeline) lookup(fn func(ctx context.Context) error) *pipeline {
	return p.add(stageLookup, fn)
}

func (p *pipeline) throttle(fn func(ctx context.Context) error) *pipeline {
	return p.add(stageThrottle, fn)
}

func (p *pipeline) verify(fn func(ctx context.Context) error) *pipeline {
	return p.add(stageVerify, fn)
}

func (p *pipeline) mutate(fn func(ctx context.Context) error) *pipeline {
	return p.add(stageMutate, fn)
}

func (p *pipeline) notify(fn func(ctx context.Context) error) *pipeline {
	return p.add(stageNotify, fn)
}

// run executes the steps in order and stops at the first error.
func (p *pipeline) run(ctx context.Context) error {
	if p.err != nil {
		return p.err
	}
	for _, s := range p.steps {
		if err := s.fn(ctx); err != nil {
			return err
		}
	}
	return nil
}
