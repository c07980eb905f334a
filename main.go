package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"aev/internal/app"
	"aev/internal/schema"
)

func main() {
	var (
		cfg      app.Config
		logLevel string
	)

	cli := kingpin.New("aev", "Load Windows event logs into SQL tables and query them.")
	cli.HelpFlag.Short('h')
	cli.Flag("file", "Event log container to ingest.").Envar("AEV_FILE").
		Default(`C:\Windows\System32\winevt\Logs\Security.evtx`).StringVar(&cfg.File)
	cli.Flag("folder", "Ingest every supported file in this folder, one table per file.").Envar("AEV_FOLDER").StringVar(&cfg.Folder)
	cli.Flag("table-name", "Table name for --file in cli mode.").Envar("AEV_TABLE_NAME").Default(app.DefaultTableName).StringVar(&cfg.TableName)
	cli.Flag("query", "SQL to run in cli mode.").Envar("AEV_QUERY").StringVar(&cfg.Query)
	cli.Flag("mode", "Run mode.").Short('m').Envar("AEV_MODE").Default(app.ModeCLI).EnumVar(&cfg.Mode, app.ModeCLI, app.ModeInteractive)
	cli.Flag("schema", fmt.Sprintf("Built-in table layout (%v) or path to a YAML layout.", schema.Names())).Envar("AEV_SCHEMA").Default(schema.DefaultName).StringVar(&cfg.Schema)
	cli.Flag("format", "Force the container format instead of choosing it by extension.").Envar("AEV_FORMAT").StringVar(&cfg.Format)
	cli.Flag("history", "Command history file for interactive mode.").Envar("AEV_HISTORY").Default("aev_history.txt").StringVar(&cfg.HistoryPath)
	cli.Flag("ingest.concurrency", "Files ingested in parallel with --folder.").Envar("AEV_INGEST_CONCURRENCY").Default("4").IntVar(&cfg.Concurrency)
	cli.Flag("metrics.textfile", "Write ingestion metrics in Prometheus text format to this file on exit.").Envar("AEV_METRICS_TEXTFILE").StringVar(&cfg.MetricsTextfile)
	cli.Flag("log.level", "Only log messages with the given severity or above.").Envar("AEV_LOG_LEVEL").Default("info").EnumVar(&logLevel, "debug", "info", "warn", "error")

	kingpin.MustParse(cli.Parse(os.Args[1:]))

	logger := newLogger(logLevel)

	// The line editor reads Ctrl-C as a key only while prompting; outside
	// the prompt SIGINT cancels the running command and ends the session.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg app.Config, logger log.Logger) int {
	a, err := app.New(cfg, logger)
	if err != nil {
		exitWithErr(err)
		return 1
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		level.Error(logger).Log("msg", "run failed", "mode", cfg.Mode, "err", err)
		return 1
	}
	return 0
}

func newLogger(lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		opt = level.AllowInfo()
	}
	return level.NewFilter(logger, opt)
}

func exitWithErr(err error) {
	color.New(color.FgRed).Fprintf(os.Stderr, "aev: %v\n", err)
}
