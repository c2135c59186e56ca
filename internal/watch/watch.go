// Package watch monitors a directory for document changes and feeds them
// into the audit pipeline, with a periodic full rescan as a safety net for
// missed filesystem events.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/linkaudit/internal/logfields"
	"git.home.luguber.info/inful/linkaudit/internal/pipeline"
)

// Runner runs one audit pass over a set of document paths.
type Runner interface {
	ProcessDocuments(ctx context.Context, paths []string, sink pipeline.ProgressSink) (*pipeline.Result, error)
}

// Watcher debounces filesystem events for .docx files under a directory and
// dispatches them to the runner in batches. Audit passes run one at a time;
// changes arriving during a pass queue up for the next one.
type Watcher struct {
	dir       string
	debounce  time.Duration
	rescan    time.Duration
	runner    Runner
	watcher   *fsnotify.Watcher
	scheduler gocron.Scheduler

	mu      sync.Mutex
	pending map[string]struct{}
	kick    chan struct{}
}

// New creates a watcher over dir. rescanInterval of zero disables the
// periodic full rescan.
func New(dir string, debounce, rescanInterval time.Duration, runner Runner) (*Watcher, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	if debounce <= 0 {
		debounce = 2 * time.Second
	}

	w := &Watcher{
		dir:      absDir,
		debounce: debounce,
		rescan:   rescanInterval,
		runner:   runner,
		watcher:  fsw,
		pending:  make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
	}

	if rescanInterval > 0 {
		sched, err := gocron.NewScheduler()
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("create rescan scheduler: %w", err)
		}
		if _, err := sched.NewJob(
			gocron.DurationJob(rescanInterval),
			gocron.NewTask(w.enqueueFullScan),
			gocron.WithName("full-rescan"),
		); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("schedule rescan job: %w", err)
		}
		w.scheduler = sched
	}

	return w, nil
}

// Run watches until the context is canceled. The initial full scan runs
// immediately so pre-existing documents are audited on startup.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	defer w.watcher.Close()

	slog.Info("Watching for document changes",
		slog.String("dir", w.dir),
		slog.Duration("debounce", w.debounce))

	if w.scheduler != nil {
		w.scheduler.Start()
		defer func() {
			if err := w.scheduler.Shutdown(); err != nil {
				slog.Error("Scheduler shutdown failed", logfields.Error(err))
			}
		}()
	}

	w.enqueueFullScan()

	go w.eventLoop(ctx)
	w.dispatchLoop(ctx)
	return ctx.Err()
}

// eventLoop turns raw filesystem events into pending paths.
func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if !isDocument(event.Name) {
				continue
			}
			slog.Debug("Document change detected",
				logfields.Path(event.Name),
				slog.String("op", event.Op.String()))
			w.add(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", logfields.Error(err))
		}
	}
}

// dispatchLoop debounces pending paths and runs audit passes serially.
func (w *Watcher) dispatchLoop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.kick:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.runPass(ctx)
		}
	}
}

// runPass drains the pending set and audits it.
func (w *Watcher) runPass(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	slog.Info("Starting watch-mode audit pass", slog.Int("documents", len(paths)))
	result, err := w.runner.ProcessDocuments(ctx, paths, nil)
	if err != nil {
		slog.Error("Audit pass failed to start", logfields.Error(err))
		return
	}
	slog.Info("Watch-mode audit pass finished",
		logfields.RunID(result.RunID),
		slog.Int("succeeded", result.SuccessfulFiles),
		slog.Int("failed", result.FailedFiles),
		slog.Int("skipped", result.SkippedFiles))
}

// enqueueFullScan queues every document under the watch directory.
func (w *Watcher) enqueueFullScan() {
	var count int
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isDocument(path) {
			return nil
		}
		w.add(path)
		count++
		return nil
	})
	if err != nil {
		slog.Error("Full rescan walk failed", logfields.Error(err))
		return
	}
	slog.Debug("Full rescan enqueued", slog.Int("documents", count))
}

// add records a path as pending and nudges the dispatcher.
func (w *Watcher) add(path string) {
	w.mu.Lock()
	w.pending[filepath.Clean(path)] = struct{}{}
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func isDocument(path string) bool {
	base := filepath.Base(path)
	// Word drops ~$ lock files next to open documents.
	if strings.HasPrefix(base, "~$") {
		return false
	}
	return strings.EqualFold(filepath.Ext(path), ".docx")
}
