package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"aev/internal/domain"
	"aev/internal/ingest"
	_ "aev/internal/ingest/sources"
	"aev/internal/table"
)

// sliceSource replays fixed results.
type sliceSource struct {
	results []ingest.Result
	once    ingest.Once
}

func (s *sliceSource) Records(ctx context.Context) <-chan ingest.Result {
	if ok, consumed := s.once.Claim(); !ok {
		return consumed
	}
	out := make(chan ingest.Result)
	go func() {
		defer close(out)
		for _, r := range s.results {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *sliceSource) Close() error { return nil }

// trackedSource closes done once its producer goroutine has exited.
type trackedSource struct {
	results []ingest.Result
	done    chan struct{}
}

func (s *trackedSource) Records(ctx context.Context) <-chan ingest.Result {
	out := make(chan ingest.Result)
	go func() {
		defer close(s.done)
		defer close(out)
		for _, r := range s.results {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (s *trackedSource) Close() error { return nil }

func rec(id uint64, data map[string]any) ingest.Result {
	return ingest.Result{Record: domain.RawRecord{ID: id, Fields: map[string]any{
		"Event": map[string]any{"EventData": data},
	}}}
}

func pipelineSchema() domain.Schema {
	return domain.Schema{
		Name: "p",
		Fields: []domain.FieldSpec{
			{Name: "id", Type: domain.TypeUint64, RecordID: true},
			{Name: "user", Type: domain.TypeString, Path: []string{"Event", "EventData", "SubjectUserName"}, Nullable: true, Default: domain.DefaultNull},
			{Name: "object", Type: domain.TypeString, Path: []string{"Event", "EventData", "ObjectName"}, Default: domain.DefaultEmptyString},
		},
	}
}

func newPipeline(t *testing.T, reg prometheus.Registerer) *ingest.Pipeline {
	t.Helper()
	p, err := ingest.NewPipeline(pipelineSchema(), "", log.NewNopLogger(), ingest.NewMetrics(reg))
	require.NoError(t, err)
	return p
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func column(tbl *table.Table, col int) []domain.Value {
	out := make([]domain.Value, tbl.NumRows())
	for i := range out {
		out[i] = tbl.Value(col, i)
	}
	return out
}

// ─────────────────────────────────────────────────────────────
// IngestSource
// ─────────────────────────────────────────────────────────────

func TestIngestMissingOptionalField(t *testing.T) {
	p := newPipeline(t, nil)
	src := &sliceSource{results: []ingest.Result{
		rec(101, map[string]any{"SubjectUserName": "alice", "ObjectName": "a.txt"}),
		rec(102, map[string]any{"ObjectName": "b.txt"}),
		rec(103, map[string]any{"SubjectUserName": "carol"}),
	}}

	tbl, stats, err := p.IngestSource(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.NumRows())
	require.Equal(t, 3, stats.Records)
	require.Equal(t, 2, stats.FieldDefaults)

	require.Equal(t, []domain.Value{
		domain.UintValue(101), domain.UintValue(102), domain.UintValue(103),
	}, column(tbl, 0))
	require.Equal(t, []domain.Value{
		domain.StringValue("alice"), domain.NullValue(domain.TypeString), domain.StringValue("carol"),
	}, column(tbl, 1))
	require.Equal(t, domain.StringValue(""), tbl.Value(2, 2))
}

func TestIngestSkipsRecordErrors(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := newPipeline(t, reg)
	src := &sliceSource{results: []ingest.Result{
		rec(1, map[string]any{"SubjectUserName": "a"}),
		{Err: &domain.RecordParseError{Index: 2, Err: errors.New("bad chunk")}},
		rec(3, map[string]any{"SubjectUserName": "c"}),
	}}

	tbl, stats, err := p.IngestSource(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.NumRows())
	require.Equal(t, 1, stats.RecordErrors)

	for c := 0; c < tbl.NumCols(); c++ {
		require.Equal(t, tbl.NumRows(), tbl.Column(c).Len())
	}

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP aev_ingest_record_errors_total Malformed records skipped during ingestion.
# TYPE aev_ingest_record_errors_total counter
aev_ingest_record_errors_total 1
# HELP aev_ingest_records_total Records mapped into table rows.
# TYPE aev_ingest_records_total counter
aev_ingest_records_total 2
`), "aev_ingest_record_errors_total", "aev_ingest_records_total"))
}

func TestIngestEmptySource(t *testing.T) {
	p := newPipeline(t, nil)
	tbl, stats, err := p.IngestSource(context.Background(), &sliceSource{})
	require.NoError(t, err)
	require.Equal(t, 0, tbl.NumRows())
	require.Equal(t, 3, tbl.NumCols())
	require.Equal(t, 0, stats.Records)
}

func TestIngestConsumedSource(t *testing.T) {
	p := newPipeline(t, nil)
	src := &sliceSource{results: []ingest.Result{rec(1, nil)}}

	_, _, err := p.IngestSource(context.Background(), src)
	require.NoError(t, err)

	_, _, err = p.IngestSource(context.Background(), src)
	require.ErrorIs(t, err, ingest.ErrSourceConsumed)
}

func TestIngestReleasesSourceOnFailure(t *testing.T) {
	p := newPipeline(t, nil)
	src := &trackedSource{done: make(chan struct{}), results: []ingest.Result{
		{Err: ingest.ErrSourceConsumed},
		rec(1, nil),
		rec(2, nil),
	}}

	_, _, err := p.IngestSource(context.Background(), src)
	require.ErrorIs(t, err, ingest.ErrSourceConsumed)
	require.Eventually(t, func() bool {
		select {
		case <-src.done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestNewPipelineRejectsInvalidSchema(t *testing.T) {
	_, err := ingest.NewPipeline(domain.Schema{Name: "empty"}, "", nil, nil)
	require.Error(t, err)
}

// ─────────────────────────────────────────────────────────────
// Ingest (files)
// ─────────────────────────────────────────────────────────────

const fixture = `{"event_record_id": 10, "data": {"Event": {"EventData": {"SubjectUserName": "alice", "ObjectName": "x"}}}}
{"event_record_id": 11, "data": {"Event": {"EventData": {"ObjectName": "y"}}}}
`

func TestIngestIsIdempotent(t *testing.T) {
	p := newPipeline(t, nil)
	path := writeFile(t, "security.jsonl", fixture)

	first, stats, err := p.Ingest(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, int64(len(fixture)), stats.Bytes)

	second, _, err := p.Ingest(context.Background(), path)
	require.NoError(t, err)

	require.Equal(t, first.NumRows(), second.NumRows())
	for r := 0; r < first.NumRows(); r++ {
		require.Equal(t, first.Row(r), second.Row(r))
	}
}

func TestIngestMissingFile(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := newPipeline(t, reg)

	tbl, _, err := p.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope.evtx"))
	require.Nil(t, tbl)

	var fae *domain.FileAccessError
	require.ErrorAs(t, err, &fae)
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP aev_ingest_failures_total Ingestions that failed before producing a table.
# TYPE aev_ingest_failures_total counter
aev_ingest_failures_total 1
`), "aev_ingest_failures_total"))
}

func TestIngestInvalidContainer(t *testing.T) {
	for name, content := range map[string]string{
		"short.evtx": "this is not an event log",
		"large.evtx": strings.Repeat("garbage!", 16<<10),
	} {
		t.Run(name, func(t *testing.T) {
			p := newPipeline(t, nil)
			path := writeFile(t, name, content)

			tbl, _, err := p.Ingest(context.Background(), path)
			require.Nil(t, tbl)
			var fae *domain.FileAccessError
			require.ErrorAs(t, err, &fae)
			require.Equal(t, "open evtx container", fae.Op)
		})
	}
}

func TestIngestUnknownExtension(t *testing.T) {
	p := newPipeline(t, nil)
	path := writeFile(t, "notes.txt", "")

	_, _, err := p.Ingest(context.Background(), path)
	require.ErrorContains(t, err, `no container format for extension ".txt"`)
}

func TestIngestForcedFormat(t *testing.T) {
	p, err := ingest.NewPipeline(pipelineSchema(), "jsonl", nil, nil)
	require.NoError(t, err)
	path := writeFile(t, "export.log", fixture)

	tbl, _, err := p.Ingest(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.NumRows())
}
