// Package app wires ingestion, the table registry and the SQL engine into
// the two run modes: a one-shot batch query and the interactive shell.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"aev/internal/ingest"
	_ "aev/internal/ingest/sources"
	"aev/internal/query"
	"aev/internal/schema"
	"aev/internal/session"
	"aev/internal/table"
)

// Run modes.
const (
	ModeCLI         = "cli"
	ModeInteractive = "interactive"
)

// DefaultTableName is used in batch mode when no table name is given.
const DefaultTableName = "records"

// Config holds the command-line configuration.
type Config struct {
	Mode      string
	File      string
	Folder    string
	TableName string
	Query     string

	Schema          string // built-in layout name or YAML path
	Format          string // force a container format
	HistoryPath     string
	Concurrency     int
	MetricsTextfile string
}

// App owns the long-lived components for one run.
type App struct {
	cfg    Config
	logger log.Logger

	metrics    *prometheus.Registry
	pipeline   *ingest.Pipeline
	dispatcher *query.Dispatcher

	Out io.Writer
	Err io.Writer
}

// New resolves the schema and opens the SQL engine.
func New(cfg Config, logger log.Logger) (*App, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if cfg.TableName == "" {
		cfg.TableName = DefaultTableName
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	s, err := schema.Resolve(cfg.Schema)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	pipeline, err := ingest.NewPipeline(s, cfg.Format, log.With(logger, "component", "ingest"), ingest.NewMetrics(reg))
	if err != nil {
		return nil, err
	}

	dispatcher, err := query.New(log.With(logger, "component", "query"))
	if err != nil {
		return nil, err
	}

	level.Debug(logger).Log("msg", "app ready", "schema", s.Name, "fields", s.Len(), "formats", fmt.Sprint(ingest.Formats()))
	return &App{
		cfg:        cfg,
		logger:     logger,
		metrics:    reg,
		pipeline:   pipeline,
		dispatcher: dispatcher,
		Out:        os.Stdout,
		Err:        os.Stderr,
	}, nil
}

// Close releases the SQL engine and writes the metrics textfile, if one
// was requested.
func (a *App) Close() error {
	err := a.dispatcher.Close()
	if a.cfg.MetricsTextfile != "" {
		if werr := prometheus.WriteToTextfile(a.cfg.MetricsTextfile, a.metrics); werr != nil {
			level.Warn(a.logger).Log("msg", "write metrics textfile", "path", a.cfg.MetricsTextfile, "err", werr)
		}
	}
	return err
}

// Metrics exposes the ingestion metrics.
func (a *App) Metrics() prometheus.Gatherer { return a.metrics }

// Run dispatches on the configured mode.
func (a *App) Run(ctx context.Context) error {
	switch a.cfg.Mode {
	case ModeInteractive:
		term := session.NewTerminal()
		defer term.Close()
		return a.RunInteractive(ctx, term)
	case ModeCLI, "":
		return a.RunBatch(ctx)
	default:
		return fmt.Errorf("unknown mode %q (want %s or %s)", a.cfg.Mode, ModeCLI, ModeInteractive)
	}
}

// ── Batch ──────────────────────────────────────────────────

var errNoQuery = errors.New("no query given; pass --query")

// RunBatch ingests the configured file (or folder), runs the query once
// and prints the result. Ingestion failures abort before the query runs.
func (a *App) RunBatch(ctx context.Context) error {
	if a.cfg.Query == "" {
		return errNoQuery
	}

	reg := table.NewRegistry()
	if a.cfg.Folder != "" {
		if err := a.registerFolder(ctx, reg, a.cfg.Folder); err != nil {
			return err
		}
	} else {
		t, stats, err := a.pipeline.Ingest(ctx, a.cfg.File)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", a.cfg.File, err)
		}
		reg.Register(a.cfg.TableName, t)
		level.Debug(a.logger).Log("msg", "registered table", "table", a.cfg.TableName, "rows", stats.Records)
	}

	rs, err := a.dispatcher.Run(ctx, a.cfg.Query, reg)
	if err != nil {
		color.New(color.FgRed).Fprintln(a.Err, "Query failed:", err)
		return fmt.Errorf("query: %w", err)
	}
	return query.Render(a.Out, rs)
}

// ── Interactive ────────────────────────────────────────────

// RunInteractive runs the shell on reader until interrupt or end of
// input. Folder tables, if configured, are registered first.
func (a *App) RunInteractive(ctx context.Context, reader session.LineReader) error {
	reg := table.NewRegistry()
	if a.cfg.Folder != "" {
		if err := a.registerFolder(ctx, reg, a.cfg.Folder); err != nil {
			return err
		}
	}

	sess := session.New(session.Config{
		Reader:      reader,
		Ingester:    a.pipeline,
		Dispatcher:  a.dispatcher,
		Registry:    reg,
		HistoryPath: a.cfg.HistoryPath,
		Out:         a.Out,
		Err:         a.Err,
		Logger:      log.With(a.logger, "component", "session"),
	})
	return sess.Run(ctx)
}
