package sources

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"aev/internal/domain"
	"aev/internal/ingest"
)

// ── JSON Lines Source ───────────────────────────────────────
// Reads one event object per line. Lines are either a raw rendered event
// ({"Event":{...}}) or a wrapped export ({"event_record_id":N,"data":{...}}).

// Numbers stay json.Number so record ids above 2^53 keep every digit.
var json = jsoniter.Config{
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	UseNumber:              true,
}.Froze()

const maxLineSize = 16 << 20

var errLineTooLong = errors.New("line exceeds the maximum line size")

func init() {
	ingest.RegisterFormat(ingest.Format{
		Name:       "jsonl",
		Extensions: []string{".jsonl", ".ndjson", ".json"},
		Open:       openJSONLines,
	})
}

type jsonLinesSource struct {
	f       *os.File
	maxLine int
	once    ingest.Once
}

func openJSONLines(path string) (ingest.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &jsonLinesSource{f: f, maxLine: maxLineSize}, nil
}

func (s *jsonLinesSource) Close() error { return s.f.Close() }

func (s *jsonLinesSource) Records(ctx context.Context) <-chan ingest.Result {
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

		r := bufio.NewReaderSize(s.f, 64*1024)
		var line, ordinal int
		for {
			raw, err := readLine(r, s.maxLine)
			if errors.Is(err, io.EOF) {
				return
			}
			line++

			var res ingest.Result
			switch {
			case errors.Is(err, errLineTooLong):
				ordinal++
				res = ingest.Result{Err: &domain.RecordParseError{Index: line, Err: err}}
			case err != nil:
				send(ingest.Result{Err: &domain.RecordParseError{Index: line, Err: err}})
				return
			default:
				raw = bytes.TrimSpace(raw)
				if len(raw) == 0 {
					continue
				}
				ordinal++
				res = decodeLine(raw, line, uint64(ordinal))
			}
			if !send(res) {
				return
			}
		}
	}()
	return out
}

// readLine returns the next line, terminator included. A line longer than
// limit is consumed whole and reported as errLineTooLong so reading can
// resume at the following line. io.EOF is only returned once nothing is
// left.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && (len(line) > 0 || tooLong) {
			err = nil
		}
		if err != nil {
			return line, err
		}
		if tooLong {
			return nil, errLineTooLong
		}
		return line, nil
	}
}

func decodeLine(raw []byte, line int, ordinal uint64) ingest.Result {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ingest.Result{Err: &domain.RecordParseError{Index: line, Err: fmt.Errorf("decode json: %w", err)}}
	}
	if obj == nil {
		return ingest.Result{Err: &domain.RecordParseError{Index: line, Err: errors.New("line is not a json object")}}
	}

	// Wrapped export.
	if data, ok := obj["data"].(map[string]any); ok {
		id := ordinal
		if v, present := obj["event_record_id"]; present {
			n, err := recordID(v)
			if err != nil {
				return ingest.Result{Err: &domain.RecordParseError{Index: line, Err: fmt.Errorf("event_record_id: %w", err)}}
			}
			id = n
		}
		return ingest.Result{Record: domain.RawRecord{ID: id, Fields: data}}
	}

	rec := domain.RawRecord{ID: ordinal, Fields: obj}
	if v, ok := rec.Lookup(eventRecordIDPath); ok {
		if n, err := recordID(v); err == nil {
			rec.ID = n
		}
	}
	return ingest.Result{Record: rec}
}
