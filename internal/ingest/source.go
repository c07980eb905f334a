package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"aev/internal/domain"
)

// ── Source ──────────────────────────────────────────────────
// A Source decodes one log container into raw records.
// Implementations live in ingest/sources/, one file per container format.

// ErrSourceConsumed is returned when a Source is read a second time.
var ErrSourceConsumed = errors.New("source already consumed; reopen it to read again")

// Result carries either a record or the parse error for one record.
type Result struct {
	Record domain.RawRecord
	Err    error
}

// Source is a lazy, finite, single-pass sequence of records.
type Source interface {
	// Records streams results until the container is exhausted or ctx is
	// cancelled. A per-record error does not end the stream.
	Records(ctx context.Context) <-chan Result

	// Close releases the underlying file.
	Close() error
}

// Opener opens a file of one container format. It is only called after
// the file is known to exist and be readable.
type Opener func(path string) (Source, error)

// Format describes a container format and the file extensions it claims.
type Format struct {
	Name       string
	Extensions []string
	Open       Opener
}

// ── Format Registry ────────────────────────────────────────
// Compile-time registration via init() in each source file.

var (
	registryMu sync.RWMutex
	formats    = map[string]Format{}
	extensions = map[string]string{}
)

// RegisterFormat registers a container format by name and extensions.
func RegisterFormat(f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()
	formats[f.Name] = f
	for _, ext := range f.Extensions {
		extensions[strings.ToLower(ext)] = f.Name
	}
}

// Formats returns the names of all registered formats.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether path has an extension claimed by a format.
func Supported(path string) bool {
	_, err := formatFor(path)
	return err == nil
}

func formatFor(path string) (Format, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ext := strings.ToLower(filepath.Ext(path))
	name, ok := extensions[ext]
	if !ok {
		return Format{}, fmt.Errorf("no container format for extension %q (known formats: %s)", ext, strings.Join(sortedKeys(formats), ", "))
	}
	return formats[name], nil
}

func formatNamed(name string) (Format, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := formats[name]
	if !ok {
		return Format{}, fmt.Errorf("unknown container format %q (known formats: %s)", name, strings.Join(sortedKeys(formats), ", "))
	}
	return f, nil
}

func sortedKeys(m map[string]Format) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Open opens path with the format registered for its extension.
func Open(path string) (Source, error) {
	return OpenFormat(path, "")
}

// OpenFormat opens path with the named format, or by extension when
// format is empty. Missing or unreadable files fail before any record
// is produced.
func OpenFormat(path, format string) (Source, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}

	var (
		f   Format
		err error
	)
	if format != "" {
		f, err = formatNamed(format)
	} else {
		f, err = formatFor(path)
	}
	if err != nil {
		return nil, &domain.FileAccessError{Path: path, Op: "open", Err: err}
	}

	src, err := f.Open(path)
	if err != nil {
		var fae *domain.FileAccessError
		if errors.As(err, &fae) {
			return nil, err
		}
		return nil, &domain.FileAccessError{Path: path, Op: "open " + f.Name + " container", Err: err}
	}
	return src, nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &domain.FileAccessError{Path: path, Op: "stat", Err: err}
	}
	if info.IsDir() {
		return &domain.FileAccessError{Path: path, Op: "open", Err: errors.New("is a directory")}
	}
	f, err := os.Open(path)
	if err != nil {
		return &domain.FileAccessError{Path: path, Op: "open", Err: err}
	}
	return f.Close()
}

// ── Once ───────────────────────────────────────────────────

// Once guards the single-pass contract for Source implementations.
// The zero value is ready to use.
type Once struct {
	mu   sync.Mutex
	used bool
}

// Claim returns false, and a closed channel carrying ErrSourceConsumed,
// on every call after the first.
func (o *Once) Claim() (bool, <-chan Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.used {
		ch := make(chan Result, 1)
		ch <- Result{Err: ErrSourceConsumed}
		close(ch)
		return false, ch
	}
	o.used = true
	return true, nil
}
