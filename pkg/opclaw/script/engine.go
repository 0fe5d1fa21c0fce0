package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout bounds a single execution when none is configured.
const DefaultTimeout = 60 * time.Second

// ErrTimeout is wrapped by the error of an execution that ran out of time.
var ErrTimeout = errors.New("execution timed out")

// Unit is a compiled, ready-to-run program. It is executed at most once.
type Unit struct {
	ID          string
	Description string
	Source      string
	Program     *Program
	Bindings    Bindings
}

// NewUnit wraps a validated program with its bindings.
func NewUnit(description, source string, prog *Program, b Bindings) *Unit {
	return &Unit{
		ID:          uuid.NewString(),
		Description: description,
		Source:      source,
		Program:     prog,
		Bindings:    b,
	}
}

// Outcome is the result of a single execution.
type Outcome struct {
	Err      error
	StepsRun int
	Duration time.Duration
	Results  map[string]Result
}

// Failed reports whether the execution stopped on an error.
func (o Outcome) Failed() bool { return o.Err != nil }

// StepError carries the failing step. Its message is the step error verbatim.
type StepError struct {
	Index int
	Call  string
	Err   error
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Engine executes units step by step.
type Engine struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewEngine creates an engine. A zero timeout uses DefaultTimeout.
func NewEngine(timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{timeout: timeout, logger: logger.With("component", "script")}
}

// Timeout returns the per-execution bound.
func (e *Engine) Timeout() time.Duration { return e.timeout }

// Execute runs the unit's steps in order. The first failing step stops the
// run; no step is retried and completed steps are not rolled back.
func (e *Engine) Execute(ctx context.Context, unit *Unit) Outcome {
	start := time.Now()
	logger := e.logger.With("unit", unit.ID)

	if err := unit.Bindings.Validate(); err != nil {
		return Outcome{Err: err, Duration: time.Since(start)}
	}
	if unit.Program == nil {
		return Outcome{Err: fmt.Errorf("%w: no program", ErrInvalidProgram), Duration: time.Since(start)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type done struct {
		steps   int
		results map[string]Result
		err     error
	}
	ch := make(chan done, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- done{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		steps, results, err := e.run(ctx, unit, logger)
		ch <- done{steps: steps, results: results, err: err}
	}()

	var out Outcome
	select {
	case d := <-ch:
		out = Outcome{Err: d.err, StepsRun: d.steps, Results: d.results}
		if d.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.Err = e.timeoutErr()
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out = Outcome{Err: e.timeoutErr()}
		} else {
			out = Outcome{Err: ctx.Err()}
		}
	}
	out.Duration = time.Since(start)

	if out.Err != nil {
		logger.Warn("execution failed", "steps", out.StepsRun, "error", out.Err, "duration_ms", out.Duration.Milliseconds())
	} else {
		logger.Info("execution done", "steps", out.StepsRun, "duration_ms", out.Duration.Milliseconds())
	}
	return out
}

func (e *Engine) timeoutErr() error {
	return fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
}

func (e *Engine) run(ctx context.Context, unit *Unit, logger *slog.Logger) (int, map[string]Result, error) {
	en := &env{b: unit.Bindings, guildID: unit.Bindings.Message.GuildID()}
	results := make(map[string]Result)

	for i, step := range unit.Program.Steps {
		if err := ctx.Err(); err != nil {
			return i, results, err
		}

		spec, err := lookup(step.Call)
		if err != nil {
			return i, results, &StepError{Index: i, Call: step.Call, Err: err}
		}
		resolved, err := resolveArgs(step.Args, results)
		if err != nil {
			return i, results, &StepError{Index: i, Call: step.Call, Err: err}
		}

		logger.Debug("step", "index", i+1, "call", step.Call)
		res, err := spec.run(ctx, en, args(resolved))
		if err != nil {
			return i, results, &StepError{Index: i, Call: step.Call, Err: err}
		}
		if step.As != "" {
			results[step.As] = res
		}
	}
	return len(unit.Program.Steps), results, nil
}
