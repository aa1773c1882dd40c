package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rsjsoftware/rsjbuild/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	metrics.NoopRecorder
	results map[string]metrics.ResultLabel
}

func (c *countingRecorder) IncStageResult(stage string, result metrics.ResultLabel) {
	if c.results == nil {
		c.results = map[string]metrics.ResultLabel{}
	}
	c.results[stage] = result
}

func TestRunExecutesInOrder(t *testing.T) {
	var order []Name
	mk := func(n Name) Func {
		return func(context.Context) error {
			order = append(order, n)
			return nil
		}
	}
	defs := NewPipeline().
		Add("discover", mk("discover")).
		Add("bootstrap", mk("bootstrap")).
		AddIf(false, "concat", mk("concat")).
		Add("link", mk("link")).
		Build()

	report, err := Run(context.Background(), defs, nil)
	require.NoError(t, err)
	assert.Equal(t, []Name{"discover", "bootstrap", "link"}, order)
	require.Len(t, report.Stages, 3)
	for _, st := range report.Stages {
		assert.Equal(t, ResultSuccess, st.Result)
	}
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	boom := errors.New("cc exited with status 1")
	ran := false
	rec := &countingRecorder{}
	defs := NewPipeline().
		Add("compile", func(context.Context) error { return boom }).
		Add("link", func(context.Context) error { ran = true; return nil }).
		Build()

	report, err := Run(context.Background(), defs, rec)
	require.Error(t, err)
	assert.False(t, ran, "stages after a failure must not run")
	assert.ErrorIs(t, err, boom)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorFatal, se.Kind)
	assert.Equal(t, Name("compile"), se.Stage)
	assert.Equal(t, metrics.ResultFatal, rec.results["compile"])
	require.Len(t, report.Stages, 1)
}

func TestRunSkippedStage(t *testing.T) {
	defs := NewPipeline().
		Add("concat", func(context.Context) error { return ErrSkipped }).
		Add("chmod", func(context.Context) error { return nil }).
		Build()

	report, err := Run(context.Background(), defs, nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, report.Stages[0].Result)
	assert.Equal(t, ResultSuccess, report.Stages[1].Result)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	defs := NewPipeline().Add("discover", func(context.Context) error { return nil }).Build()

	_, err := Run(ctx, defs, nil)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrorCanceled, se.Kind)
}

func TestReportDurations(t *testing.T) {
	r := &Report{Stages: []Timing{
		{Stage: "a", Duration: time.Second},
		{Stage: "b", Duration: 2 * time.Second},
	}}
	assert.Equal(t, 2*time.Second, r.Duration("b"))
	assert.Equal(t, time.Duration(0), r.Duration("missing"))
	assert.Equal(t, 3*time.Second, r.Total())
}
