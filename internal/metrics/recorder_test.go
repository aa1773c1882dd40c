package metrics

import (
	"testing"
	"time"
)

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)

func TestNoopRecorderDoesNothing(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("link", time.Second)
	r.ObserveBuildDuration(time.Second)
	r.IncStageResult("link", ResultFatal)
	r.IncBuildOutcome(BuildOutcomeFailed)
	r.ObserveModules("exe", 1, 2)
	r.ObserveToolInvocation("cc", time.Millisecond, true)
}
