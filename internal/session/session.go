// Package session implements the interactive command loop: one line of
// operator input per command, over a session-scoped table registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/peterh/liner"

	"aev/internal/ingest"
	"aev/internal/query"
	"aev/internal/table"
)

// Prompt is shown before every command.
const Prompt = "aev> "

// LineReader is the line editor the session reads from. *liner.State
// satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	ReadHistory(r io.Reader) (int, error)
	WriteHistory(w io.Writer) (int, error)
	Close() error
}

// Ingester builds a table from a log container.
type Ingester interface {
	Ingest(ctx context.Context, path string) (*table.Table, ingest.Stats, error)
}

// Dispatcher runs SQL against the registry.
type Dispatcher interface {
	Run(ctx context.Context, sql string, reg *table.Registry) (*query.RowSet, error)
}

// State is everything a command may read or change.
type State struct {
	PendingFile string
	Registry    *table.Registry
	CommandLog  []string
}

// Config wires a Session. Out and Err default to os.Stdout and os.Stderr.
type Config struct {
	Reader      LineReader
	Ingester    Ingester
	Dispatcher  Dispatcher
	Registry    *table.Registry
	HistoryPath string
	Out         io.Writer
	Err         io.Writer
	Logger      log.Logger
}

// Session is the interactive loop. It is not safe for concurrent use.
type Session struct {
	State *State

	reader      LineReader
	ingester    Ingester
	dispatcher  Dispatcher
	historyPath string
	out         io.Writer
	errOut      io.Writer
	logger      log.Logger

	diag *color.Color
	info *color.Color
}

// New creates a session. A nil Registry starts empty.
func New(cfg Config) *Session {
	reg := cfg.Registry
	if reg == nil {
		reg = table.NewRegistry()
	}
	s := &Session{
		State:       &State{Registry: reg},
		reader:      cfg.Reader,
		ingester:    cfg.Ingester,
		dispatcher:  cfg.Dispatcher,
		historyPath: cfg.HistoryPath,
		out:         cfg.Out,
		errOut:      cfg.Err,
		logger:      cfg.Logger,
		diag:        color.New(color.FgRed),
		info:        color.New(color.FgGreen),
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.errOut == nil {
		s.errOut = os.Stderr
	}
	if s.logger == nil {
		s.logger = log.NewNopLogger()
	}
	return s
}

// Run reads commands until interrupt or end of input, then saves the
// history. Command failures never end the loop.
func (s *Session) Run(ctx context.Context) error {
	s.loadHistory()
	defer s.saveHistory()

	for {
		// An interrupt during a long command cancels ctx instead of
		// killing the process, so the history still gets saved.
		if err := ctx.Err(); err != nil {
			level.Info(s.logger).Log("msg", "session interrupted", "err", err)
			return nil
		}

		line, err := s.reader.Prompt(Prompt)
		switch {
		case err == nil:
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(s.out, "CTRL-C")
			return nil
		case errors.Is(err, io.EOF):
			fmt.Fprintln(s.out, "CTRL-D")
			return nil
		default:
			level.Error(s.logger).Log("msg", "read command", "err", err)
			return nil
		}

		s.Handle(ctx, line)
	}
}

// Handle executes one line of input.
func (s *Session) Handle(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	keyword, arg, ok := split(line)
	if !ok {
		s.diag.Fprintln(s.errOut, "Unknown command!")
		return
	}
	s.record(line)

	switch keyword {
	case "file":
		s.file(arg)
	case "table_name":
		s.tableName(ctx, arg)
	case "query":
		s.query(ctx, arg)
	case "schema":
		s.schema(arg)
	default:
		s.diag.Fprintf(s.errOut, "Unknown command! %q is not one of file, table_name, query, schema\n", keyword)
	}
}

// split cuts line at the first whitespace into a lower-cased keyword and
// a trimmed argument.
func split(line string) (keyword, arg string, ok bool) {
	line = strings.TrimLeftFunc(line, unicode.IsSpace)
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return "", "", false
	}
	return strings.ToLower(line[:i]), strings.TrimSpace(line[i:]), true
}

func (s *Session) record(line string) {
	s.State.CommandLog = append(s.State.CommandLog, line)
	s.reader.AppendHistory(line)
}

// ── Commands ───────────────────────────────────────────────

func (s *Session) file(path string) {
	s.State.PendingFile = path
	level.Debug(s.logger).Log("msg", "pending file set", "path", path)
}

func (s *Session) tableName(ctx context.Context, name string) {
	if s.State.PendingFile == "" {
		level.Debug(s.logger).Log("msg", "table_name ignored, no file selected", "table", name)
		return
	}
	if name == "" {
		s.diag.Fprintln(s.errOut, "table_name needs a name")
		return
	}

	t, stats, err := s.ingester.Ingest(ctx, s.State.PendingFile)
	if err != nil {
		s.diag.Fprintf(s.errOut, "Could not load %s: %v\n", s.State.PendingFile, err)
		return
	}
	s.State.Registry.Register(name, t)

	s.info.Fprintf(s.out, "Table %s: %s rows", name, humanize.Comma(int64(stats.Records)))
	if stats.RecordErrors > 0 {
		s.info.Fprintf(s.out, ", %s malformed records skipped", humanize.Comma(int64(stats.RecordErrors)))
	}
	s.info.Fprintf(s.out, " (%s read)\n", humanize.Bytes(uint64(stats.Bytes)))
}

func (s *Session) query(ctx context.Context, sql string) {
	rs, err := s.dispatcher.Run(ctx, sql, s.State.Registry)
	if err != nil {
		s.diag.Fprintln(s.errOut, "Query failed:", err)
		return
	}
	if err := query.Render(s.out, rs); err != nil {
		level.Warn(s.logger).Log("msg", "render result", "err", err)
	}
}

func (s *Session) schema(name string) {
	t, err := s.State.Registry.Lookup(name)
	if err != nil {
		names := s.State.Registry.Names()
		if len(names) == 0 {
			s.diag.Fprintf(s.errOut, "Unknown table %q (no tables registered)\n", name)
		} else {
			s.diag.Fprintf(s.errOut, "Unknown table %q (registered: %s)\n", name, strings.Join(names, ", "))
		}
		return
	}

	rs := &query.RowSet{Columns: []string{"column", "type", "nullable"}}
	for _, f := range t.Schema().Fields {
		rs.Rows = append(rs.Rows, []any{f.Name, string(f.Type), f.Nullable})
	}
	if err := query.Render(s.out, rs); err != nil {
		level.Warn(s.logger).Log("msg", "render schema", "err", err)
	}
}

// ── History ────────────────────────────────────────────────

func (s *Session) loadHistory() {
	if s.historyPath == "" {
		return
	}
	f, err := os.Open(s.historyPath)
	if err != nil {
		level.Info(s.logger).Log("msg", "no previous history", "path", s.historyPath, "err", err)
		return
	}
	defer f.Close()
	if _, err := s.reader.ReadHistory(f); err != nil {
		level.Warn(s.logger).Log("msg", "read history", "path", s.historyPath, "err", err)
	}
}

func (s *Session) saveHistory() {
	if s.historyPath == "" {
		return
	}
	f, err := os.Create(s.historyPath)
	if err != nil {
		level.Warn(s.logger).Log("msg", "save history", "path", s.historyPath, "err", err)
		return
	}
	defer f.Close()
	if _, err := s.reader.WriteHistory(f); err != nil {
		level.Warn(s.logger).Log("msg", "save history", "path", s.historyPath, "err", err)
	}
}
