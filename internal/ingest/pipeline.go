package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"aev/internal/domain"
	"aev/internal/table"
)

// ── Pipeline ───────────────────────────────────────────────
// Orchestrates: source.Records → Map → Builder.Append → Finish.

// Stats summarises one ingestion.
type Stats struct {
	Records       int           // rows in the table
	RecordErrors  int           // malformed records skipped
	FieldDefaults int           // fields that fell back to their default
	Bytes         int64         // container size on disk
	Duration      time.Duration
}

// Pipeline turns a log container into a Table for one schema.
type Pipeline struct {
	Schema  domain.Schema
	Format  string // forced container format; empty selects by extension
	Logger  log.Logger
	Metrics *Metrics
}

// NewPipeline validates schema and returns a pipeline for it.
func NewPipeline(schema domain.Schema, format string, logger log.Logger, metrics *Metrics) (*Pipeline, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("schema %q: %w", schema.Name, err)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Pipeline{Schema: schema, Format: format, Logger: logger, Metrics: metrics}, nil
}

// Ingest opens path and builds a table from every well-formed record.
// A FileAccessError means nothing was produced.
func (p *Pipeline) Ingest(ctx context.Context, path string) (*table.Table, Stats, error) {
	src, err := OpenFormat(path, p.Format)
	if err != nil {
		p.Metrics.failures.Inc()
		return nil, Stats{}, err
	}
	defer src.Close()

	t, stats, err := p.IngestSource(ctx, src)
	if err != nil {
		return nil, stats, fmt.Errorf("ingest %s: %w", path, err)
	}
	if info, err := os.Stat(path); err == nil {
		stats.Bytes = info.Size()
		p.Metrics.bytesRead.Add(float64(stats.Bytes))
	}

	level.Info(p.Logger).Log("msg", "ingested container", "path", path, "schema", p.Schema.Name,
		"rows", stats.Records, "record_errors", stats.RecordErrors, "field_defaults", stats.FieldDefaults,
		"duration", stats.Duration)
	return t, stats, nil
}

// IngestSource drains src. Per-record errors are logged and skipped;
// only a consumed source or a cancelled context fails the ingestion.
func (p *Pipeline) IngestSource(ctx context.Context, src Source) (*table.Table, Stats, error) {
	start := time.Now()
	var stats Stats

	b, err := NewBuilder(p.Schema, nil)
	if err != nil {
		p.Metrics.failures.Inc()
		return nil, stats, err
	}

	// Early returns cancel the source so its goroutine is not left
	// blocked on a send.
	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for res := range src.Records(srcCtx) {
		if res.Err != nil {
			if errors.Is(res.Err, ErrSourceConsumed) {
				p.Metrics.failures.Inc()
				return nil, stats, res.Err
			}
			stats.RecordErrors++
			p.Metrics.recordErrors.Inc()
			level.Warn(p.Logger).Log("msg", "skipping malformed record", "err", res.Err)
			continue
		}

		row, fieldErrs := Map(res.Record, &p.Schema)
		for _, fe := range fieldErrs {
			p.Metrics.fieldErrors.WithLabelValues(fe.Field, fe.Kind.String()).Inc()
			if fe.Kind == domain.FieldCoercion {
				level.Debug(p.Logger).Log("msg", "field defaulted", "record", res.Record.ID, "err", fe)
			}
		}
		stats.FieldDefaults += len(fieldErrs)

		if err := b.Append(row); err != nil {
			p.Metrics.failures.Inc()
			return nil, stats, fmt.Errorf("record %d: %w", res.Record.ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		p.Metrics.failures.Inc()
		return nil, stats, err
	}

	t, err := b.Finish()
	if err != nil {
		p.Metrics.failures.Inc()
		return nil, stats, err
	}
	stats.Records = t.NumRows()
	stats.Duration = time.Since(start)

	p.Metrics.records.Add(float64(stats.Records))
	p.Metrics.tables.Inc()
	p.Metrics.duration.Observe(stats.Duration.Seconds())
	return t, stats, nil
}
