package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/linkaudit/internal/backup"
	"git.home.luguber.info/inful/linkaudit/internal/config"
	"git.home.luguber.info/inful/linkaudit/internal/dictionary"
	"git.home.luguber.info/inful/linkaudit/internal/document"
	"git.home.luguber.info/inful/linkaudit/internal/events"
	"git.home.luguber.info/inful/linkaudit/internal/logfields"
	"git.home.luguber.info/inful/linkaudit/internal/metrics"
	"git.home.luguber.info/inful/linkaudit/internal/pipeline"
	"git.home.luguber.info/inful/linkaudit/internal/resolver"
	"git.home.luguber.info/inful/linkaudit/internal/retry"
	"git.home.luguber.info/inful/linkaudit/internal/watch"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"linkaudit.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Audit struct {
		Paths    []string `arg:"" help:"Documents or directories to audit"`
		ShowDocs bool     `help:"Print per-document progress"`
	} `cmd:"" help:"Audit and repair hyperlinks across a batch of documents"`

	Single struct {
		Path       string `arg:"" help:"Document to audit"`
		ShowStages bool   `help:"Print stage-by-stage progress"`
	} `cmd:"" help:"Audit and repair a single document"`

	Watch struct {
		Dir string `arg:"" optional:"" help:"Directory to watch (defaults to watch.dir from config)"`
	} `cmd:"" help:"Watch a directory and audit documents as they change"`

	Dict struct {
		Import struct {
			File string `arg:"" help:"JSON file of dictionary entries"`
		} `cmd:"" help:"Import identifier entries into the local dictionary"`
	} `cmd:"" help:"Manage the local identifier dictionary"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

func main() {
	_ = godotenv.Load()
	kctx := kong.Parse(&CLI)

	if kctx.Command() == "init" {
		if err := runInit(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", logfields.Error(err))
			os.Exit(1)
		}
		return
	}

	cfg, err := loadConfig(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", logfields.Error(err))
		os.Exit(1)
	}
	setupLogging(cfg.Logging, CLI.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "audit <paths>":
		if err := runAudit(ctx, cfg, CLI.Audit.Paths, CLI.Audit.ShowDocs); err != nil {
			slog.Error("Audit failed", logfields.Error(err))
			os.Exit(1)
		}
	case "single <path>":
		if err := runSingle(ctx, cfg, CLI.Single.Path, CLI.Single.ShowStages); err != nil {
			slog.Error("Audit failed", logfields.Error(err))
			os.Exit(1)
		}
	case "watch", "watch <dir>":
		if err := runWatch(ctx, cfg, CLI.Watch.Dir); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Watch failed", logfields.Error(err))
			os.Exit(1)
		}
	case "dict import <file>":
		if err := runDictImport(ctx, cfg, CLI.Dict.Import.File); err != nil {
			slog.Error("Dictionary import failed", logfields.Error(err))
			os.Exit(1)
		}
	default:
		slog.Error("Unknown command", slog.String("command", kctx.Command()))
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when the
// default path does not exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Debug("Config file not found, using defaults", logfields.Path(path))
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func setupLogging(cfg config.LoggingConfig, verbose bool) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// assemble wires the pipeline dependencies from configuration. The returned
// cleanup closes the dictionary and the event publisher.
func assemble(cfg *config.Config, recorder metrics.Recorder) (*pipeline.Orchestrator, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var store *dictionary.Store
	if cfg.Dictionary.Path != "" {
		s, err := dictionary.NewStore(cfg.Dictionary.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open dictionary: %w", err)
		}
		store = s
		cleanups = append(cleanups, func() {
			if err := s.Close(); err != nil {
				slog.Warn("Dictionary close failed", logfields.Error(err))
			}
		})
	}

	var source resolver.Source
	if cfg.API.BaseURL != "" {
		timeout, err := time.ParseDuration(cfg.API.RequestTimeout)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("api.request_timeout: %w", err)
		}
		source = resolver.NewHTTPSource(cfg.API.BaseURL, cfg.API.Token, timeout)
	} else {
		if store == nil {
			cleanup()
			return nil, nil, errors.New("no resolution source: set api.base_url or dictionary.path")
		}
		slog.Info("No API configured, resolving against the local dictionary")
		source = resolver.NewDictionarySource(store)
	}

	res := resolver.New(source, store, resolver.Options{
		BatchSize:          cfg.API.BatchSize,
		Parallelism:        cfg.API.Parallelism,
		RateLimitPerMinute: cfg.API.RateLimitPerMinute,
		Policy:             retry.FromConfig(cfg.API.Retry),
	})
	res.SetRecorder(recorder)

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled {
		pub, err := events.NewNATSPublisher(cfg.Events)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect event publisher: %w", err)
		}
		publisher = pub
		cleanups = append(cleanups, func() {
			if err := pub.Close(); err != nil {
				slog.Warn("Event publisher close failed", logfields.Error(err))
			}
		})
	}

	backups := backup.NewManager(cfg.Backup.Dir)
	if cfg.Backup.Enabled && cfg.Backup.Retention != "" {
		if retention, err := time.ParseDuration(cfg.Backup.Retention); err == nil && retention > 0 {
			if err := backups.Prune(retention); err != nil {
				slog.Warn("Backup pruning failed", logfields.Error(err))
			}
		}
	}

	adapter := document.NewDocxAdapter(backups)
	orch := pipeline.NewOrchestrator(cfg, adapter, res,
		pipeline.WithRecorder(recorder),
		pipeline.WithPublisher(publisher))
	return orch, cleanup, nil
}

func runAudit(ctx context.Context, cfg *config.Config, args []string, showDocs bool) error {
	paths, err := collectDocuments(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no .docx documents found")
	}

	orch, cleanup, err := assemble(cfg, metrics.NoopRecorder{})
	if err != nil {
		return err
	}
	defer cleanup()

	var sink pipeline.ProgressSink
	if showDocs {
		sink = pipeline.SinkFunc(func(ev pipeline.ProgressEvent) {
			if ev.Stage == pipeline.StageCompleted || ev.Stage == pipeline.StageFailed {
				fmt.Fprintf(os.Stderr, "[%d/%d] %s: %s\n", ev.Completed, ev.Total, ev.Stage, ev.Path)
			}
		})
	}

	result, err := orch.ProcessDocuments(ctx, paths, sink)
	if err != nil {
		return err
	}

	fmt.Print(result.Changelog.String())
	printFailures(result)
	if !result.Success {
		return fmt.Errorf("%d of %d documents failed", result.FailedFiles, result.TotalFiles)
	}
	return nil
}

func runSingle(ctx context.Context, cfg *config.Config, path string, showStages bool) error {
	orch, cleanup, err := assemble(cfg, metrics.NoopRecorder{})
	if err != nil {
		return err
	}
	defer cleanup()

	var sink pipeline.ProgressSink
	if showStages {
		sink = pipeline.SinkFunc(func(ev pipeline.ProgressEvent) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", ev.Stage, ev.Path)
		})
	}

	result, err := orch.ProcessSingleDocument(ctx, path, sink)
	if err != nil {
		return err
	}

	fmt.Print(result.Changelog.String())
	doc := result.Document
	if doc.Outcome != pipeline.OutcomeSuccess {
		for _, e := range doc.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", doc.Path, e.Error())
		}
		return fmt.Errorf("document %s: %s", doc.Path, doc.Outcome)
	}
	return nil
}

func runWatch(ctx context.Context, cfg *config.Config, dir string) error {
	if dir == "" {
		dir = cfg.Watch.Dir
	}
	if dir == "" {
		return errors.New("no watch directory: pass one or set watch.dir")
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	if cfg.Watch.MetricsAddr != "" {
		reg := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(reg)
		go serveMetrics(cfg.Watch.MetricsAddr, reg)
	}

	orch, cleanup, err := assemble(cfg, recorder)
	if err != nil {
		return err
	}
	defer cleanup()

	debounce, _ := time.ParseDuration(cfg.Watch.Debounce)
	rescan, _ := time.ParseDuration(cfg.Watch.RescanInterval)

	watcher, err := watch.New(dir, debounce, rescan, orch)
	if err != nil {
		return err
	}
	return watcher.Run(ctx)
}

func serveMetrics(addr string, reg *prom.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HTTPHandler(reg))
	slog.Info("Serving metrics", slog.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", logfields.Error(err))
	}
}

// runDictImport loads dictionary entries from a JSON array of objects with
// content_id, doc_id, title, and status fields.
func runDictImport(ctx context.Context, cfg *config.Config, file string) error {
	if cfg.Dictionary.Path == "" {
		return errors.New("dictionary.path is not configured")
	}

	data, err := os.ReadFile(file) // #nosec G304 -- path supplied by operator
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}
	var rows []struct {
		ContentID string `json:"content_id"`
		DocID     string `json:"doc_id"`
		Title     string `json:"title"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}

	entries := make([]dictionary.Entry, 0, len(rows))
	for i, r := range rows {
		if r.ContentID == "" {
			return fmt.Errorf("entry %d: content_id is required", i)
		}
		entries = append(entries, dictionary.Entry{
			ContentID: r.ContentID,
			DocID:     r.DocID,
			Title:     r.Title,
			Status:    r.Status,
		})
	}

	store, err := dictionary.NewStore(cfg.Dictionary.Path)
	if err != nil {
		return fmt.Errorf("open dictionary: %w", err)
	}
	defer store.Close()

	if err := store.Upsert(ctx, entries); err != nil {
		return err
	}
	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	slog.Info("Dictionary import complete",
		slog.Int("imported", len(entries)),
		slog.Int("total", total))
	return nil
}

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// collectDocuments expands the argument list: files are taken as-is,
// directories are walked for .docx documents.
func collectDocuments(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			base := filepath.Base(path)
			if strings.HasPrefix(base, "~$") || !strings.EqualFold(filepath.Ext(path), ".docx") {
				return nil
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	return paths, nil
}

func printFailures(result *pipeline.Result) {
	for _, doc := range result.Documents {
		if doc.Outcome == pipeline.OutcomeSuccess {
			continue
		}
		for _, e := range doc.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", doc.Path, e.Error())
		}
	}
}
