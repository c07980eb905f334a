// Package query runs SQL against the tables registered in a session.
// Tables are mirrored into a private in-memory SQLite database that is
// re-synced with the registry before every query.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"aev/internal/domain"
	"aev/internal/table"
)

// RowSet is the materialised result of one query.
type RowSet struct {
	Columns []string
	Rows    [][]any
	Elapsed time.Duration
}

// Dispatcher owns the SQL engine for one session.
type Dispatcher struct {
	conn   *sql.DB
	logger log.Logger

	// loaded tracks which table value each engine table was built from,
	// so re-registered names are rebuilt and untouched ones are not.
	loaded map[string]*table.Table
}

// New opens a private in-memory database.
func New(logger log.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	dsn := fmt.Sprintf("file:aev-%s?mode=memory&cache=shared", uuid.New().String())
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: the in-memory database and the query_only pragma
	// both live on it.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Dispatcher{conn: conn, logger: logger, loaded: make(map[string]*table.Table)}, nil
}

// Close releases the engine.
func (d *Dispatcher) Close() error {
	return d.conn.Close()
}

// Run executes query against the tables in reg. Failures are returned as
// *QueryError.
func (d *Dispatcher) Run(ctx context.Context, query string, reg *table.Registry) (*RowSet, error) {
	known := reg.Names()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &QueryError{Kind: Syntax, Known: known, Err: errEmptyQuery}
	}

	if err := d.sync(ctx, reg.Snapshot()); err != nil {
		return nil, &QueryError{Kind: Evaluation, Known: known, Err: fmt.Errorf("load tables: %w", err)}
	}

	start := time.Now()
	rs, err := d.execRead(ctx, query)
	if err != nil {
		level.Debug(d.logger).Log("msg", "query failed", "query", query, "err", err)
		return nil, classify(err, known)
	}
	rs.Elapsed = time.Since(start)
	level.Debug(d.logger).Log("msg", "query done", "rows", len(rs.Rows), "elapsed", rs.Elapsed)
	return rs, nil
}

func (d *Dispatcher) execRead(ctx context.Context, query string) (*RowSet, error) {
	if _, err := d.conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, fmt.Errorf("set query_only: %w", err)
	}
	defer d.conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")

	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	rs := &RowSet{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for j := range values {
			ptrs[j] = &values[j]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make([]any, len(cols))
		for j, v := range values {
			row[j] = formatValue(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

// formatValue converts a database value to a displayable one.
func formatValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// ── Sync ───────────────────────────────────────────────────

func (d *Dispatcher) sync(ctx context.Context, snapshot map[string]*table.Table) error {
	for name := range d.loaded {
		if _, ok := snapshot[name]; ok {
			continue
		}
		if _, err := d.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		delete(d.loaded, name)
	}

	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := snapshot[name]
		if d.loaded[name] == t {
			continue
		}
		start := time.Now()
		if err := d.materialise(ctx, name, t); err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
		d.loaded[name] = t
		level.Debug(d.logger).Log("msg", "loaded table into engine", "table", name, "rows", t.NumRows(), "duration", time.Since(start))
	}
	return nil
}

func (d *Dispatcher) materialise(ctx context.Context, name string, t *table.Table) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("drop: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(name, t.Schema())); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if t.NumRows() > 0 {
		stmt, err := tx.PrepareContext(ctx, insertSQL(name, t.Schema()))
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		args := make([]any, t.NumCols())
		for r := 0; r < t.NumRows(); r++ {
			for c := range args {
				args[c] = sqlValue(t.Value(c, r))
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert row %d: %w", r, err)
			}
		}
	}
	return tx.Commit()
}

func createTableSQL(name string, s domain.Schema) string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		// uint64 columns carry no declared type: INTEGER affinity would
		// turn values above MaxInt64 (bound as text) into lossy REALs.
		cols[i] = quoteIdent(f.Name)
		if f.Type == domain.TypeString {
			cols[i] += " TEXT"
		}
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
}

func insertSQL(name string, s domain.Schema) string {
	cols := make([]string, len(s.Fields))
	marks := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = quoteIdent(f.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(name), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

// sqlValue converts a cell for binding. SQLite integers are signed, so
// values above MaxInt64 are stored as their decimal text. Such values sort
// after every integer and compare lexically among themselves.
func sqlValue(v domain.Value) any {
	if v.Null {
		return nil
	}
	if v.Type == domain.TypeUint64 {
		if v.Uint > math.MaxInt64 {
			return strconv.FormatUint(v.Uint, 10)
		}
		return int64(v.Uint)
	}
	return v.Str
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
