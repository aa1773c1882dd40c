// Package watch reruns builds when sources change and, optionally, on a fixed interval.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"github.com/rsjsoftware/rsjbuild/internal/fileops"
	"github.com/rsjsoftware/rsjbuild/internal/logfields"
)

// DefaultDebounce collapses bursts of file events (editor saves, git checkouts) into one build.
const DefaultDebounce = 500 * time.Millisecond

// Trigger describes why a build runs.
type Trigger struct {
	// Force requests a full rebuild; periodic builds are forced.
	Force  bool
	Reason string
	// Path is the changed file for change-triggered builds.
	Path string
}

// BuildFunc runs one build. Errors are logged; watching continues.
type BuildFunc func(ctx context.Context, t Trigger) error

// Options configures a Watcher.
type Options struct {
	// Roots are watched recursively.
	Roots []string
	// Patterns select relevant files (right-anchored globs such as "*.py"); empty means all.
	Patterns []string
	// Ignore lists directories whose events are dropped, typically build outputs.
	Ignore   []string
	Debounce time.Duration
	// Every schedules forced rebuilds; zero disables them.
	Every time.Duration
	// Initial runs one build before waiting for changes.
	Initial bool
}

// Watcher drives builds from file events and a schedule. Builds never overlap.
type Watcher struct {
	opts  Options
	build BuildFunc

	mu      sync.Mutex
	pending *Trigger
	signal  chan struct{}
	ignore  []string
}

// New returns a watcher that calls build.
func New(build BuildFunc, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	w := &Watcher{opts: opts, build: build, signal: make(chan struct{}, 1)}
	for _, dir := range opts.Ignore {
		if abs, err := filepath.Abs(dir); err == nil {
			w.ignore = append(w.ignore, abs)
		}
	}
	return w
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	for _, root := range w.opts.Roots {
		if err := w.addTree(fw, root); err != nil {
			return err
		}
	}

	if w.opts.Every > 0 {
		s, err := gocron.NewScheduler()
		if err != nil {
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		_, err = s.NewJob(
			gocron.DurationJob(w.opts.Every),
			gocron.NewTask(func() { w.enqueue(Trigger{Force: true, Reason: "schedule"}) }),
			gocron.WithName("periodic-build"),
		)
		if err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to schedule periodic build: %w", err)
		}
		s.Start()
		defer func() {
			if err := s.Shutdown(); err != nil {
				slog.Warn("Scheduler shutdown failed", logfields.Error(err))
			}
		}()
	}

	slog.Info("Watching for changes", slog.Any("roots", w.opts.Roots),
		slog.Duration("debounce", w.opts.Debounce), slog.Duration("every", w.opts.Every))

	if w.opts.Initial {
		w.enqueue(Trigger{Reason: "startup"})
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.buildLoop(ctx)
	}()

	w.eventLoop(ctx, fw)
	wg.Wait()
	return nil
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(p) || (p != root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("failed to watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	for _, dir := range w.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) relevant(p string) bool {
	if w.ignored(p) || strings.HasPrefix(filepath.Base(p), ".") {
		return false
	}
	if len(w.opts.Patterns) == 0 {
		return true
	}
	return fileops.MatchAny(w.opts.Patterns, filepath.ToSlash(p))
}

// eventLoop turns file events into debounced triggers.
func (w *Watcher) eventLoop(ctx context.Context, fw *fsnotify.Watcher) {
	var (
		timer *time.Timer
		last  string
	)
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						slog.Warn("Could not watch new directory", logfields.Path(ev.Name), logfields.Error(err))
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !w.relevant(ev.Name) {
				continue
			}
			slog.Debug("Source change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
			last = ev.Name
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.opts.Debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.enqueue(Trigger{Reason: "change", Path: last})
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

// enqueue records a pending build; a pending forced build stays forced.
func (w *Watcher) enqueue(t Trigger) {
	w.mu.Lock()
	if w.pending != nil && w.pending.Force {
		t.Force = true
	}
	w.pending = &t
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *Watcher) take() (Trigger, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return Trigger{}, false
	}
	t := *w.pending
	w.pending = nil
	return t, true
}

func (w *Watcher) buildLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
			t, ok := w.take()
			if !ok {
				continue
			}
			slog.Info("Rebuilding", slog.String("reason", t.Reason), slog.Bool("force", t.Force), logfields.Path(t.Path))
			start := time.Now()
			err := w.build(ctx, t)
			switch {
			case err == nil:
				slog.Info("Rebuild finished", logfields.DurationMS(float64(time.Since(start).Milliseconds())))
			case errors.Is(err, context.Canceled):
				return
			default:
				slog.Error("Rebuild failed", logfields.Error(err))
			}
		}
	}
}
