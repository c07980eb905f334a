package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"

	"aev/internal/ingest"
	"aev/internal/table"
)

// FolderTable is one table ingested from a folder.
type FolderTable struct {
	Name  string
	Path  string
	Table *table.Table
	Stats ingest.Stats
}

// IngestFolder ingests every supported file in dir concurrently. Results
// come back in file-name order; any failure fails the whole folder.
func (a *App) IngestFolder(ctx context.Context, dir string) ([]FolderTable, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read folder: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if !ingest.Supported(p) {
			level.Debug(a.logger).Log("msg", "skipping unsupported file", "path", p)
			continue
		}
		paths = append(paths, p)
	}

	results := make([]FolderTable, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, p := range paths {
		g.Go(func() error {
			t, stats, err := a.pipeline.Ingest(gctx, p)
			if err != nil {
				return err
			}
			results[i] = FolderTable{Name: TableNameFor(p), Path: p, Table: t, Stats: stats}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *App) registerFolder(ctx context.Context, reg *table.Registry, dir string) error {
	tables, err := a.IngestFolder(ctx, dir)
	if err != nil {
		return fmt.Errorf("ingest folder %s: %w", dir, err)
	}
	for _, ft := range tables {
		if _, err := reg.Lookup(ft.Name); err == nil {
			level.Warn(a.logger).Log("msg", "table name reused, keeping the later file", "table", ft.Name, "path", ft.Path)
		}
		reg.Register(ft.Name, ft.Table)
		level.Info(a.logger).Log("msg", "registered table", "table", ft.Name, "path", ft.Path, "rows", ft.Stats.Records)
	}
	return nil
}

// TableNameFor derives a table name from a file name: the stem with every
// character outside [A-Za-z0-9_] replaced by '_'.
func TableNameFor(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, stem)
	if name == "" {
		return "_"
	}
	return name
}
