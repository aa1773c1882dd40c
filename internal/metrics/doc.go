// Package metrics provides build observability hooks for rsjbuild.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so no nil checks are needed at call sites:
//
//	driver := compiler.NewDriver(runner, cc).WithRecorder(recorder)
//
// PrometheusRecorder registers histograms and counters on a caller-supplied
// registry. Because rsjbuild is a short-lived CLI there is no scrape endpoint;
// WriteTextfile dumps the registry in the node-exporter textfile format at the
// end of a build.
package metrics
