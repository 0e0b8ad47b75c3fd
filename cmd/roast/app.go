package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/martinemde/roast-sub000/internal/actions"
	"github.com/martinemde/roast-sub000/internal/engine"
	"github.com/martinemde/roast-sub000/internal/input"
	"github.com/martinemde/roast-sub000/internal/logging"
	"github.com/martinemde/roast-sub000/internal/metrics"
	"github.com/martinemde/roast-sub000/internal/provider"
	"github.com/martinemde/roast-sub000/internal/store"
	"github.com/martinemde/roast-sub000/internal/validation"
)

// app holds the collaborators shared by the subcommands. Fields are built
// lazily so `roast version` never touches the state store.
type app struct {
	cfg    Config
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	// Steps holds the custom steps workflows can reference with !step.
	steps *actions.StepRegistry

	logger  *slog.Logger
	repo    store.Repository
	metrics *metrics.Metrics
}

func newApp(cfg Config, stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		cfg:    cfg,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		steps:  actions.NewStepRegistry(),
	}
}

// newLogger builds the root logger: a text or JSON handler wrapped so every
// record carries the workflow, session and step of its context.
func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: logging.ParseLevel(level)}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(h))
}

func (a *app) Logger() *slog.Logger {
	if a.logger == nil {
		a.logger = newLogger(a.stderr, a.cfg.LogLevel, a.cfg.LogFormat)
	}
	return a.logger
}

func (a *app) Metrics() *metrics.Metrics {
	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}
	return a.metrics
}

// Store opens the configured snapshot repository once.
func (a *app) Store(ctx context.Context) (store.Repository, error) {
	if a.repo != nil {
		return a.repo, nil
	}
	cfg := a.cfg.storeConfig()
	switch cfg.Backend {
	case "", store.BackendLibSQL:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	case store.BackendFile:
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	repo, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.repo = repo
	return repo, nil
}

func (a *app) Validator() (*validation.WorkflowValidator, error) {
	return validation.NewWorkflowValidator(a.steps)
}

// Engine wires the engine to the configured store, provider, shell and
// terminal.
func (a *app) Engine(ctx context.Context) (*engine.Engine, error) {
	repo, err := a.Store(ctx)
	if err != nil {
		return nil, err
	}
	p, err := provider.New(a.cfg.providerConfig())
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Deps{
		Provider:      p,
		Commands:      actions.NewShellRunner(actions.ShellConfig{Timeout: a.cfg.CommandTimeout}),
		Prompter:      input.NewTerminalPrompter(a.stdin, a.stdout),
		Steps:         a.steps,
		Store:         repo,
		Logger:        a.Logger(),
		Metrics:       a.Metrics(),
		MaxIterations: a.cfg.MaxIterations,
	})
}

// ServeMetrics exposes the Prometheus collectors on addr until ctx ends.
func (a *app) ServeMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics().Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		a.Logger().Info("serving metrics", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger().Warn("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
}

func (a *app) Close() {
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.Logger().Warn("failed to close state store", slog.String("error", err.Error()))
		}
	}
}
