// Package stage runs named, ordered build stages with timing and fail-fast semantics.
package stage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Name is a strongly-typed identifier for a build stage.
type Name string

// Func is a discrete unit of work in a pipeline.
type Func func(ctx context.Context) error

// ErrSkipped may be returned by a stage that had nothing to do.
var ErrSkipped = errors.New("stage skipped")

// ErrorKind classifies the outcome of a failed stage.
type ErrorKind string

const (
	ErrorFatal    ErrorKind = "fatal"    // Build must abort.
	ErrorCanceled ErrorKind = "canceled" // Context cancellation.
)

// Error is a structured error carrying the failing stage and underlying cause.
type Error struct {
	Kind  ErrorKind
	Stage Name
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("%s stage %s: %v", e.Kind, e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Def pairs a stage name with its executing function.
type Def struct {
	Name Name
	Fn   Func
}

// Pipeline is a fluent builder for ordered stage definitions.
type Pipeline struct{ defs []Def }

// NewPipeline creates an empty pipeline.
func NewPipeline() *Pipeline { return &Pipeline{defs: make([]Def, 0, 8)} }

// Add appends a stage unconditionally.
func (p *Pipeline) Add(name Name, fn Func) *Pipeline {
	p.defs = append(p.defs, Def{Name: name, Fn: fn})
	return p
}

// AddIf appends a stage only if cond is true.
func (p *Pipeline) AddIf(cond bool, name Name, fn Func) *Pipeline {
	if cond {
		p.Add(name, fn)
	}
	return p
}

// Build returns a copy of the stage definitions.
func (p *Pipeline) Build() []Def {
	out := make([]Def, len(p.defs))
	copy(out, p.defs)
	return out
}

// Result is the outcome of a single stage.
type Result string

const (
	ResultSuccess  Result = "success"
	ResultSkipped  Result = "skipped"
	ResultFatal    Result = "fatal"
	ResultCanceled Result = "canceled"
)

// Timing records how one stage went.
type Timing struct {
	Stage    Name          `json:"stage"`
	Result   Result        `json:"result"`
	Duration time.Duration `json:"duration_ns"`
}

// Report collects per-stage timings in execution order.
type Report struct {
	Stages []Timing `json:"stages"`
}

// Duration returns the recorded duration for name, or zero.
func (r *Report) Duration(name Name) time.Duration {
	for _, t := range r.Stages {
		if t.Stage == name {
			return t.Duration
		}
	}
	return 0
}

// Total returns the sum of all stage durations.
func (r *Report) Total() time.Duration {
	var total time.Duration
	for _, t := range r.Stages {
		total += t.Duration
	}
	return total
}
