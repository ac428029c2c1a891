package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/docharvest/docharvest/internal/scraper"
)

// Stage is one unit of a pipeline chain. Process receives the run's context
// and a single-use proceed continuation: calling proceed lets the next
// stage run after this one returns; not calling it ends the chain
// (fail-closed). A fail-open stage records its error on pc and still calls
// proceed.
type Stage interface {
	Name() string
	Process(ctx context.Context, pc *Context, proceed func() error) error
}

// NewStage wraps a function as a named Stage.
func NewStage(name string, fn func(ctx context.Context, pc *Context, proceed func() error) error) Stage {
	return stageFunc{name: name, fn: fn}
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, pc *Context, proceed func() error) error
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Process(ctx context.Context, pc *Context, proceed func() error) error {
	return s.fn(ctx, pc, proceed)
}

const proceedReused = "next called multiple times"

// Run dispatches stages strictly in list order over an explicit index
// cursor. Nothing escapes the run: stage errors and panics are coerced to
// errors, appended to pc.Errors, and stop the chain. A stage calling
// proceed more than once records exactly one protocol error and aborts, so
// no stage after the offender runs.
func Run(ctx context.Context, stages []Stage, pc *Context) {
	for i := 0; i < len(stages); i++ {
		stage := stages[i]
		calls := 0
		proceed := func() error {
			calls++
			if calls > 1 {
				return &scraper.DispatchProtocolError{Reason: proceedReused}
			}
			return nil
		}
		err := runStage(ctx, stage, pc, proceed)
		if calls > 1 {
			pc.AddError(&scraper.DispatchProtocolError{Reason: proceedReused})
			var protoErr *scraper.DispatchProtocolError
			if err != nil && !errors.As(err, &protoErr) {
				pc.AddError(wrapStageError(stage.Name(), err))
			}
			return
		}
		if err != nil {
			pc.AddError(wrapStageError(stage.Name(), err))
			return
		}
		if calls == 0 {
			return
		}
	}
}

// runStage confines panics to the stage boundary. Raw panic values keep
// their string representation.
func runStage(ctx context.Context, stage Stage, pc *Context, proceed func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = coercePanic(r)
		}
	}()
	return stage.Process(ctx, pc, proceed)
}

func wrapStageError(name string, err error) error {
	var stageErr *scraper.StageError
	if errors.As(err, &stageErr) {
		return err
	}
	return &scraper.StageError{Stage: name, Err: err}
}

func coercePanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
