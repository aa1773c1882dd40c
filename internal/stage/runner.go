package stage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/metrics"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
)

// Run executes stages in order, recording timing and stopping on the first error.
// Every error other than ErrSkipped is fatal; there is no retry or partial continuation.
func Run(ctx context.Context, defs []Def, recorder metrics.Recorder) (*Report, error) {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	report := &Report{Stages: make([]Timing, 0, len(defs))}

	for _, st := range defs {
		select {
		case <-ctx.Done():
			report.Stages = append(report.Stages, Timing{Stage: st.Name, Result: ResultCanceled})
			recorder.IncStageResult(string(st.Name), metrics.ResultCanceled)
			return report, &Error{Kind: ErrorCanceled, Stage: st.Name, Err: ctx.Err()}
		default:
		}

		stageCtx := observability.WithStage(ctx, string(st.Name))
		observability.DebugContext(stageCtx, "Stage started")

		t0 := time.Now()
		err := st.Fn(stageCtx)
		dur := time.Since(t0)
		recorder.ObserveStageDuration(string(st.Name), dur)

		switch {
		case err == nil:
			report.Stages = append(report.Stages, Timing{Stage: st.Name, Result: ResultSuccess, Duration: dur})
			recorder.IncStageResult(string(st.Name), metrics.ResultSuccess)
			observability.DebugContext(stageCtx, "Stage completed", logfields.DurationMS(float64(dur.Milliseconds())))
		case errors.Is(err, ErrSkipped):
			report.Stages = append(report.Stages, Timing{Stage: st.Name, Result: ResultSkipped, Duration: dur})
			recorder.IncStageResult(string(st.Name), metrics.ResultSkipped)
			observability.DebugContext(stageCtx, "Stage skipped")
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			report.Stages = append(report.Stages, Timing{Stage: st.Name, Result: ResultCanceled, Duration: dur})
			recorder.IncStageResult(string(st.Name), metrics.ResultCanceled)
			return report, &Error{Kind: ErrorCanceled, Stage: st.Name, Err: err}
		default:
			report.Stages = append(report.Stages, Timing{Stage: st.Name, Result: ResultFatal, Duration: dur})
			recorder.IncStageResult(string(st.Name), metrics.ResultFatal)
			observability.ErrorContext(stageCtx, "Stage failed", slog.Duration("duration", dur), logfields.Error(err))
			return report, &Error{Kind: ErrorFatal, Stage: st.Name, Err: err}
		}
	}

	return report, nil
}
