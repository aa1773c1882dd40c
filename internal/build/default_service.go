package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/rsjsoftware/rsjbuild/internal/compiler"
	"github.com/rsjsoftware/rsjbuild/internal/config"
	"github.com/rsjsoftware/rsjbuild/internal/fileops"
	ferrors "github.com/rsjsoftware/rsjbuild/internal/foundation/errors"
	"github.com/rsjsoftware/rsjbuild/internal/installer"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/manifest"
	"github.com/rsjsoftware/rsjbuild/internal/metrics"
	"github.com/rsjsoftware/rsjbuild/internal/notify"
	"github.com/rsjsoftware/rsjbuild/internal/observability"
	"github.com/rsjsoftware/rsjbuild/internal/platform"
	"github.com/rsjsoftware/rsjbuild/internal/retry"
	"github.com/rsjsoftware/rsjbuild/internal/stage"
	"github.com/rsjsoftware/rsjbuild/internal/toolchain"
	"github.com/rsjsoftware/rsjbuild/internal/upload"
	"github.com/rsjsoftware/rsjbuild/internal/versioning"
	"github.com/rsjsoftware/rsjbuild/internal/workspace"
)

// ExecutableBuilder compiles one executable; *compiler.Driver implements it.
type ExecutableBuilder interface {
	Build(ctx context.Context, opts compiler.Options) (*compiler.Result, error)
}

// ExecutableBuilderFactory creates the compiler for a probed interpreter.
type ExecutableBuilderFactory func(cfg compiler.DriverConfig) ExecutableBuilder

// Announcer publishes release announcements; *notify.Notifier implements it.
type Announcer interface {
	Announce(ctx context.Context, r notify.Release) error
	Close()
}

// AnnouncerFactory connects an Announcer.
type AnnouncerFactory func(cfg config.NotifyConfig, secrets config.Secrets) (Announcer, error)

// DigestSignerFactory creates the signer holding the code-signing key.
type DigestSignerFactory func(ctx context.Context, keyID string) (installer.DigestSigner, error)

// InterpreterProbe reports the facts about the build interpreter.
type InterpreterProbe func(ctx context.Context, python string) (*platform.Interpreter, error)

// VersionResolver returns the product version for the project at root.
type VersionResolver func(ctx context.Context, root string) versioning.Info

// DefaultBuildService is the standard implementation of BuildService.
type DefaultBuildService struct {
	runner           toolchain.Runner
	target           platform.Target
	recorder         metrics.Recorder
	downloader       fileops.Downloader
	probe            InterpreterProbe
	resolveVersion   VersionResolver
	builderFactory   ExecutableBuilderFactory
	announcerFactory AnnouncerFactory
	signerFactory    DigestSignerFactory
	dialer           upload.Dialer
	now              func() time.Time
}

// NewBuildService creates a service for the current platform with real collaborators.
func NewBuildService() *DefaultBuildService {
	return &DefaultBuildService{
		target: platform.Current(),
		resolveVersion: func(ctx context.Context, root string) versioning.Info {
			return versioning.Resolver{RepoPath: root}.Resolve(ctx)
		},
		builderFactory: func(cfg compiler.DriverConfig) ExecutableBuilder {
			return compiler.NewDriver(cfg)
		},
		announcerFactory: func(cfg config.NotifyConfig, secrets config.Secrets) (Announcer, error) {
			return notify.Connect(cfg, secrets)
		},
		signerFactory: func(ctx context.Context, keyID string) (installer.DigestSigner, error) {
			return installer.NewKMSSigner(ctx, keyID)
		},
		now: time.Now,
	}
}

// WithRunner replaces the process runner (for testing).
func (s *DefaultBuildService) WithRunner(r toolchain.Runner) *DefaultBuildService {
	s.runner = r
	return s
}

// WithTarget overrides the target platform.
func (s *DefaultBuildService) WithTarget(t platform.Target) *DefaultBuildService {
	s.target = t
	return s
}

// WithRecorder sets a metrics recorder. Without one, a Prometheus recorder is created when
// metrics.textfile is configured.
func (s *DefaultBuildService) WithRecorder(r metrics.Recorder) *DefaultBuildService {
	s.recorder = r
	return s
}

// WithDownloader replaces the HTTP downloader used for runtime and copy sources.
func (s *DefaultBuildService) WithDownloader(d fileops.Downloader) *DefaultBuildService {
	s.downloader = d
	return s
}

// WithInterpreterProbe replaces the interpreter probe.
func (s *DefaultBuildService) WithInterpreterProbe(p InterpreterProbe) *DefaultBuildService {
	s.probe = p
	return s
}

// WithVersionResolver replaces the git version resolver.
func (s *DefaultBuildService) WithVersionResolver(v VersionResolver) *DefaultBuildService {
	s.resolveVersion = v
	return s
}

// WithExecutableBuilderFactory replaces the compiler driver.
func (s *DefaultBuildService) WithExecutableBuilderFactory(f ExecutableBuilderFactory) *DefaultBuildService {
	s.builderFactory = f
	return s
}

// WithAnnouncerFactory replaces the NATS notifier.
func (s *DefaultBuildService) WithAnnouncerFactory(f AnnouncerFactory) *DefaultBuildService {
	s.announcerFactory = f
	return s
}

// WithDigestSignerFactory replaces the KMS signer.
func (s *DefaultBuildService) WithDigestSignerFactory(f DigestSignerFactory) *DefaultBuildService {
	s.signerFactory = f
	return s
}

// WithDialer replaces the SFTP dialer.
func (s *DefaultBuildService) WithDialer(d upload.Dialer) *DefaultBuildService {
	s.dialer = d
	return s
}

// WithClock replaces time.Now.
func (s *DefaultBuildService) WithClock(now func() time.Time) *DefaultBuildService {
	s.now = now
	return s
}

// Run executes the complete build pipeline.
func (s *DefaultBuildService) Run(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	startTime := s.now()
	result := &BuildResult{StartTime: startTime}

	recorder, textfile := s.metricsRecorder(req.Config)
	finish := func(status BuildStatus, outcome string) {
		result.Status = status
		result.EndTime = s.now()
		result.Duration = result.EndTime.Sub(startTime)
		recorder.IncBuildOutcome(outcome)
		recorder.ObserveBuildDuration(result.Duration)
	}

	if req.Config == nil {
		finish(BuildStatusFailed, metrics.BuildOutcomeFailed)
		return result, ferrors.ConfigError("config required").WithCause(ErrNoConfig).Build()
	}

	root, err := filepath.Abs(req.Root)
	if err != nil {
		finish(BuildStatusFailed, metrics.BuildOutcomeFailed)
		return result, ferrors.WrapError(err, ferrors.CategoryFileSystem, "invalid project root").Build()
	}

	run := &pipelineRun{
		svc:      s,
		req:      req,
		cfg:      req.Config,
		layout:   workspace.New(root),
		target:   s.target,
		recorder: recorder,
		result:   result,
		runner:   s.runner,
	}
	if run.runner == nil {
		run.runner = toolchain.NewExecRunner(recorder)
	}
	if run.target == "" {
		run.target = platform.Current()
	}
	run.sourceDir = run.layout.Path(req.Config.SourcePath)
	run.policy = retry.FromConfig(req.Config.Retry)
	run.downloader = s.downloader
	if run.downloader == nil {
		run.downloader = fileops.HTTPDownloader{Policy: &run.policy}
	}

	run.manifest = manifest.New("", "", run.target.String())
	run.manifest.Inputs.Flags = req.Options.Flags()
	if req.ConfigPath != "" {
		if sum, err := manifest.FileSHA256(req.ConfigPath); err == nil {
			run.manifest.Inputs.ConfigHash = sum
		}
	}
	ctx = observability.WithBuildID(ctx, run.manifest.ID)
	ctx = observability.WithPlatform(ctx, run.target.String())
	observability.InfoContext(ctx, "Build started",
		logfields.Path(root), slog.Any("flags", run.manifest.Inputs.Flags))

	report, err := stage.Run(ctx, run.stages(), recorder)
	result.Report = report
	result.Manifest = run.manifest
	run.manifest.AddStages(report)
	run.manifest.Finish(err, s.now().Sub(startTime))

	if run.layoutReady {
		path, werr := run.manifest.Write(run.layout.Output)
		if werr != nil {
			observability.WarnContext(ctx, "Failed to write build manifest", logfields.Error(werr))
		} else {
			result.ManifestPath = path
		}
	}

	switch {
	case err == nil:
		finish(BuildStatusSuccess, metrics.BuildOutcomeSuccess)
		observability.InfoContext(ctx, "Build finished",
			logfields.Version(result.Version.String()),
			logfields.Count(len(result.Executables)),
			logfields.DurationMS(float64(result.Duration.Milliseconds())))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		finish(BuildStatusCancelled, metrics.BuildOutcomeCanceled)
		err = ferrors.WrapError(err, ferrors.CategoryRuntime, "build canceled").Build()
	default:
		finish(BuildStatusFailed, metrics.BuildOutcomeFailed)
		err = classify(err)
	}

	if textfile != "" {
		if werr := writeTextfile(recorder, run.layout.Path(textfile)); werr != nil {
			observability.WarnContext(ctx, "Failed to write metrics textfile", logfields.Error(werr))
		}
	}
	return result, err
}

func (s *DefaultBuildService) metricsRecorder(cfg *config.Config) (metrics.Recorder, string) {
	textfile := ""
	if cfg != nil {
		textfile = cfg.Metrics.Textfile
	}
	if s.recorder != nil {
		return s.recorder, textfile
	}
	if textfile != "" {
		return metrics.NewPrometheusRecorder(prom.NewRegistry()), textfile
	}
	return metrics.NoopRecorder{}, ""
}

func writeTextfile(r metrics.Recorder, path string) error {
	p, ok := r.(*metrics.PrometheusRecorder)
	if !ok {
		return nil
	}
	return p.WriteTextfile(path)
}

// classify keeps classified stage errors and tags them with the failing stage.
func classify(err error) error {
	var se *stage.Error
	name := ""
	if errors.As(err, &se) {
		name = string(se.Stage)
		err = se.Err
	}
	if ce, ok := ferrors.AsClassified(err); ok {
		if name == "" {
			return ce
		}
		return ce.WithContext("stage", name)
	}
	return ferrors.WrapError(err, ferrors.CategoryBuild, fmt.Sprintf("%s failed", name)).
		WithContext("stage", name).Fatal().Build()
}
