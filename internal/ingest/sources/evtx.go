package sources

import (
	"context"
	gojson "encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/0xrawsec/golang-evtx/evtx"
	"github.com/spf13/cast"

	"aev/internal/domain"
	"aev/internal/ingest"
)

// ── EVTX Source ─────────────────────────────────────────────
// Reads Windows event log containers. Chunks and events are decoded one at
// a time on the source goroutine, and every event tree is normalised to
// plain maps before it leaves the source.

// systemTimeLayout renders SYSTEMTIME/FILETIME values the way event log
// JSON exports do.
const systemTimeLayout = "2006-01-02T15:04:05.000000Z"

var eventRecordIDPath = []string{"Event", "System", "EventRecordID"}

func init() {
	ingest.RegisterFormat(ingest.Format{
		Name:       "evtx",
		Extensions: []string{".evtx"},
		Open:       openEVTX,
	})
}

type evtxSource struct {
	f    *os.File
	ef   *evtx.File
	once ingest.Once
}

func openEVTX(path string) (ingest.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	ef, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &evtxSource{f: f, ef: ef}, nil
}

// readHeader parses and verifies the file header. evtx.New panics on a
// truncated header and never checks the magic.
func readHeader(f *os.File) (*evtx.File, error) {
	var ef evtx.File
	err := guard(func() (err error) {
		ef, err = evtx.New(f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read file header: %w", err)
	}

	switch err := ef.Header.Verify(); {
	case errors.Is(err, evtx.ErrDirtyFile):
		// Not closed cleanly; recount the chunks actually on disk.
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		if err := ef.Header.Repair(f); err != nil {
			return nil, fmt.Errorf("repair dirty file header: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("verify file header: %w", err)
	}
	return &ef, nil
}

func (s *evtxSource) Close() error { return s.f.Close() }

func (s *evtxSource) Records(ctx context.Context) <-chan ingest.Result {
	if ok, consumed := s.once.Claim(); !ok {
		return consumed
	}

	out := make(chan ingest.Result, 100)
	go func() {
		defer close(out)
		send := func(res ingest.Result) bool {
			select {
			case out <- res:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var index int
		for _, offset := range s.chunkOffsets() {
			if ctx.Err() != nil {
				return
			}
			if !s.sendChunk(ctx, offset, &index, send) {
				return
			}
		}
	}()
	return out
}

// chunkOffsets lists chunk offsets ordered by their first record, which
// differs from file order once a circular log has wrapped. Chunks whose
// header cannot be read sort last and fail again when decoded.
func (s *evtxSource) chunkOffsets() []int64 {
	type ref struct {
		offset int64
		first  int64
	}

	h := s.ef.Header
	refs := make([]ref, 0, h.ChunkCount)
	for i := 0; i < int(h.ChunkCount); i++ {
		offset := int64(h.ChunkDataOffset) + int64(evtx.ChunkSize)*int64(i)

		var c evtx.Chunk
		err := guard(func() (err error) {
			c, err = s.ef.FetchRawChunk(offset)
			return err
		})
		switch {
		case errors.Is(err, io.EOF):
			// Header claims more chunks than the file holds.
			continue
		case err != nil:
			refs = append(refs, ref{offset: offset, first: math.MaxInt64})
		default:
			refs = append(refs, ref{offset: offset, first: c.Header.NumFirstRecLog})
		}
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].first < refs[j].first })

	offsets := make([]int64, len(refs))
	for i, r := range refs {
		offsets[i] = r.offset
	}
	return offsets
}

// sendChunk decodes the chunk at offset and sends its events. A chunk that
// cannot be parsed becomes one record error. It returns false once ctx is
// done.
func (s *evtxSource) sendChunk(ctx context.Context, offset int64, index *int, send func(ingest.Result) bool) bool {
	var c evtx.Chunk
	err := guard(func() (err error) {
		if c, err = s.ef.FetchChunk(offset); err != nil {
			return err
		}
		return c.Header.Validate()
	})
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		*index++
		return send(ingest.Result{Err: &domain.RecordParseError{Index: *index, Err: fmt.Errorf("chunk at offset %d: %w", offset, err)}})
	}

	for _, eo := range c.EventOffsets {
		// The offset list ends with the position just past the last record.
		if eo > c.Header.OffsetLastRec {
			break
		}
		if ctx.Err() != nil {
			return false
		}
		*index++
		if !send(decodeEvent(&c, eo, *index)) {
			return false
		}
	}
	return true
}

func decodeEvent(c *evtx.Chunk, offset int32, index int) ingest.Result {
	var gem *evtx.GoEvtxMap
	err := guard(func() (err error) {
		gem, err = c.ParseEvent(int64(offset)).GoEvtxMap(c)
		if errors.Is(err, io.EOF) && gem != nil {
			err = nil
		}
		return err
	})
	if err != nil {
		return ingest.Result{Err: &domain.RecordParseError{Index: index, Err: fmt.Errorf("decode event: %w", err)}}
	}
	return eventResult(gem, index)
}

func eventResult(e *evtx.GoEvtxMap, index int) ingest.Result {
	if e == nil {
		return ingest.Result{Err: &domain.RecordParseError{Index: index, Err: errors.New("empty event")}}
	}
	fields, _ := normalize(*e).(map[string]any)
	rec := domain.RawRecord{Fields: fields}

	v, ok := rec.Lookup(eventRecordIDPath)
	if !ok {
		return ingest.Result{Err: &domain.RecordParseError{Index: index, Err: errors.New("event has no EventRecordID")}}
	}
	id, err := recordID(v)
	if err != nil {
		return ingest.Result{Err: &domain.RecordParseError{Index: index, Err: fmt.Errorf("EventRecordID: %w", err)}}
	}
	rec.ID = id
	return ingest.Result{Record: rec}
}

// guard runs fn and turns a decoder panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("decoder panic: %w", e)
				return
			}
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()
	return fn()
}

// normalize converts the decoder's named map and slice types into
// map[string]any and []any so that path lookups see one shape. Timestamps
// become text.
func normalize(v any) any {
	switch t := v.(type) {
	case evtx.GoEvtxMap:
		return normalizeMap(t)
	case *evtx.GoEvtxMap:
		if t == nil {
			return nil
		}
		return normalizeMap(*t)
	case map[string]any:
		return normalizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case time.Time:
		return t.UTC().Format(systemTimeLayout)
	default:
		return v
	}
}

func normalizeMap[M ~map[string]any](m M) map[string]any {
	out := make(map[string]any, len(m))
	for k, e := range m {
		out[k] = normalize(e)
	}
	return out
}

func recordID(v any) (uint64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseUint(strings.TrimSpace(t), 10, 64)
	case gojson.Number:
		return strconv.ParseUint(t.String(), 10, 64)
	case float64:
		if t < 0 || t > math.MaxUint64 || t != math.Trunc(t) {
			return 0, fmt.Errorf("%v is not a record id", t)
		}
		return uint64(t), nil
	}
	return cast.ToUint64E(v)
}
