package sources

import (
	"bufio"
	gojson "encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/0xrawsec/golang-evtx/evtx"
	"github.com/stretchr/testify/require"

	"aev/internal/domain"
	"aev/internal/ingest"
	"aev/internal/schema"
)

// decodedEvent has the shape golang-evtx gives a rendered 4688 event:
// attribute-bearing elements become nested maps, values stay strings and
// SYSTEMTIME attributes arrive as time.Time.
func decodedEvent() *evtx.GoEvtxMap {
	return &evtx.GoEvtxMap{
		"Event": evtx.GoEvtxMap{
			"System": evtx.GoEvtxMap{
				"Provider": evtx.GoEvtxMap{
					"Name": "Microsoft-Windows-Security-Auditing",
					"Guid": "{54849625-5478-4994-A5BA-3E3B0328C30D}",
				},
				"EventID":       evtx.GoEvtxMap{"Qualifiers": "", "Value": "4688"},
				"Level":         "0",
				"Task":          "13312",
				"Keywords":      "0x8020000000000000",
				"TimeCreated":   evtx.GoEvtxMap{"SystemTime": time.Date(2024, 3, 1, 12, 30, 5, 123456000, time.UTC)},
				"EventRecordID": "91234",
				"Channel":       "Security",
				"Computer":      "WS01.corp.local",
			},
			"EventData": evtx.GoEvtxMap{
				"SubjectUserName":   "alice",
				"SubjectDomainName": "CORP",
				"SubjectLogonId":    "0x3e7",
				"NewProcessId":      "0x1a4",
				"NewProcessName":    `C:\Windows\System32\cmd.exe`,
				"ProcessId":         "0x2f0",
				"CommandLine":       "cmd.exe /c whoami",
				"ParentProcessName": `C:\Windows\explorer.exe`,
			},
		},
	}
}

func mapBuiltin(t *testing.T, name string, rec domain.RawRecord) map[string]domain.Value {
	t.Helper()
	s, ok := schema.Builtin(name)
	require.True(t, ok)

	row, ferrs := ingest.Map(rec, &s)
	for _, fe := range ferrs {
		require.Equal(t, domain.FieldExtraction, fe.Kind, "unexpected coercion failure: %v", fe)
	}
	out := make(map[string]domain.Value, len(row))
	for i, f := range s.Fields {
		out[f.Name] = row[i]
	}
	return out
}

func TestEventResult(t *testing.T) {
	res := eventResult(decodedEvent(), 1)
	require.NoError(t, res.Err)
	require.Equal(t, uint64(91234), res.Record.ID)

	// Decoder map types are gone after normalisation.
	_, ok := res.Record.Fields["Event"].(map[string]any)
	require.True(t, ok)
	v, ok := res.Record.Lookup([]string{"Event", "System", "TimeCreated", "SystemTime"})
	require.True(t, ok)
	require.Equal(t, "2024-03-01T12:30:05.123456Z", v)
}

func TestEventResultFailures(t *testing.T) {
	res := eventResult(nil, 4)
	var pe *domain.RecordParseError
	require.ErrorAs(t, res.Err, &pe)
	require.Equal(t, 4, pe.Index)

	e := decodedEvent()
	delete((*e)["Event"].(evtx.GoEvtxMap)["System"].(evtx.GoEvtxMap), "EventRecordID")
	require.ErrorContains(t, eventResult(e, 5).Err, "no EventRecordID")

	e = decodedEvent()
	(*e)["Event"].(evtx.GoEvtxMap)["System"].(evtx.GoEvtxMap)["EventRecordID"] = "n/a"
	require.ErrorContains(t, eventResult(e, 6).Err, "EventRecordID")
}

func TestDecodedEventMapsIntoBuiltins(t *testing.T) {
	res := eventResult(decodedEvent(), 1)
	require.NoError(t, res.Err)

	sec := mapBuiltin(t, "security", res.Record)
	require.Equal(t, domain.UintValue(91234), sec["id"])
	require.Equal(t, domain.UintValue(4688), sec["eventid"])
	require.Equal(t, domain.StringValue("alice"), sec["subjectusername"])
	require.Equal(t, domain.StringValue(`C:\Windows\System32\cmd.exe`), sec["newprocessname"])
	require.Equal(t, domain.StringValue("0x2f0"), sec["processid"])
	require.Equal(t, domain.StringValue("Security"), sec["channel"])
	require.Equal(t, domain.StringValue("WS01.corp.local"), sec["computer"])
	require.Equal(t, domain.NullValue(domain.TypeString), sec["processname"])
	require.Equal(t, domain.StringValue(""), sec["objectname"])

	sys := mapBuiltin(t, "system", res.Record)
	require.Equal(t, domain.UintValue(4688), sys["eventid"])
	require.Equal(t, domain.UintValue(0), sys["level"])
	require.Equal(t, domain.UintValue(13312), sys["task"])
	require.Equal(t, domain.StringValue("0x8020000000000000"), sys["keywords"])
	require.Equal(t, domain.StringValue("2024-03-01T12:30:05.123456Z"), sys["timecreated"])
	require.Equal(t, domain.StringValue("Microsoft-Windows-Security-Auditing"), sys["provider"])

	proc := mapBuiltin(t, "process", res.Record)
	require.Equal(t, domain.UintValue(0x1a4), proc["newprocessid"])
	require.Equal(t, domain.UintValue(0x2f0), proc["processid"])
	require.Equal(t, domain.StringValue("cmd.exe /c whoami"), proc["commandline"])
}

func TestNormalizeNestedSlices(t *testing.T) {
	got := normalize(evtx.GoEvtxMap{
		"Data": []any{evtx.GoEvtxMap{"Name": "a"}, "b"},
	})
	require.Equal(t, map[string]any{
		"Data": []any{map[string]any{"Name": "a"}, "b"},
	}, got)
}

func TestRecordID(t *testing.T) {
	cases := []struct {
		in   any
		want uint64
		ok   bool
	}{
		{"77", 77, true},
		{" 78 ", 78, true},
		{gojson.Number("9007199254740993"), 9007199254740993, true},
		{gojson.Number("18446744073709551615"), 18446744073709551615, true},
		{float64(12), 12, true},
		{int64(13), 13, true},
		{"-1", 0, false},
		{gojson.Number("-4"), 0, false},
		{gojson.Number("1.5"), 0, false},
		{float64(1.5), 0, false},
	}
	for _, tc := range cases {
		got, err := recordID(tc.in)
		if !tc.ok {
			require.Error(t, err, "input %#v", tc.in)
			continue
		}
		require.NoError(t, err, "input %#v", tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestGuard(t *testing.T) {
	err := guard(func() error { panic(io.ErrUnexpectedEOF) })
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	require.ErrorContains(t, guard(func() error { panic("boom") }), "boom")

	sentinel := errors.New("plain")
	require.ErrorIs(t, guard(func() error { return sentinel }), sentinel)
}

// ─────────────────────────────────────────────────────────────
// JSON lines
// ─────────────────────────────────────────────────────────────

func TestReadLineSkipsOversizedLines(t *testing.T) {
	r := bufio.NewReaderSize(strings.NewReader("ok\n"+strings.Repeat("x", 100)+"\nnext\nlast"), 16)

	var got []string
	for {
		line, err := readLine(r, 32)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errLineTooLong) {
			got = append(got, "<too long>")
			continue
		}
		require.NoError(t, err)
		got = append(got, string(line))
	}
	require.Equal(t, []string{"ok\n", "<too long>", "next\n", "last"}, got)
}

func TestJSONLinesContinuesAfterOversizedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "long.jsonl")
	content := `{"event_record_id": 1, "data": {}}
{"event_record_id": 2, "data": {"blob": "` + strings.Repeat("x", 256) + `"}}
{"event_record_id": 3, "data": {}}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	src := &jsonLinesSource{f: f, maxLine: 64}
	defer src.Close()

	var (
		ids  []uint64
		errs []error
	)
	for res := range src.Records(t.Context()) {
		if res.Err != nil {
			errs = append(errs, res.Err)
			continue
		}
		ids = append(ids, res.Record.ID)
	}
	require.Equal(t, []uint64{1, 3}, ids)
	require.Len(t, errs, 1)

	var pe *domain.RecordParseError
	require.ErrorAs(t, errs[0], &pe)
	require.Equal(t, 2, pe.Index)
	require.ErrorIs(t, errs[0], errLineTooLong)
}
