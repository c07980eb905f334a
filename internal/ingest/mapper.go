package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"aev/internal/domain"
)

// ── SchemaMapper ───────────────────────────────────────────
// Turns one raw record into one aligned row. Every field yields exactly
// one value: the resolved one, or the default from its policy.

var errPathUnresolved = errors.New("path did not resolve")

// Map produces one Row per record, len(row) == len(schema.Fields).
// The returned field errors describe which fields fell back to their
// default; they never cause the row to be dropped.
func Map(rec domain.RawRecord, schema *domain.Schema) (domain.Row, []*domain.FieldError) {
	row := make(domain.Row, len(schema.Fields))
	var fieldErrs []*domain.FieldError

	for i := range schema.Fields {
		spec := &schema.Fields[i]
		if spec.RecordID {
			row[i] = domain.UintValue(rec.ID)
			continue
		}

		v, ferr := extract(rec, spec)
		if ferr != nil {
			fieldErrs = append(fieldErrs, ferr)
			v = defaultValue(spec)
		}
		row[i] = v
	}
	return row, fieldErrs
}

// extract coerces the first path that resolves to a scalar. A path that
// lands on an element with attributes (a nested map) defers to the
// alternates; a malformed scalar is a coercion failure and stops there.
func extract(rec domain.RawRecord, spec *domain.FieldSpec) (domain.Value, *domain.FieldError) {
	var nested []string
	for _, path := range spec.Paths() {
		raw, ok := rec.Lookup(path)
		if !ok {
			continue
		}
		if _, isMap := raw.(map[string]any); isMap {
			if nested == nil {
				nested = path
			}
			continue
		}
		v, err := coerce(raw, spec.Type)
		if err != nil {
			return domain.Value{}, coercionError(spec, path, err)
		}
		return v, nil
	}
	if nested != nil {
		return domain.Value{}, coercionError(spec, nested, errors.New("value is a nested element, not a scalar"))
	}
	return domain.Value{}, &domain.FieldError{Field: spec.Name, Kind: domain.FieldExtraction, Err: errPathUnresolved}
}

func coercionError(spec *domain.FieldSpec, path []string, err error) *domain.FieldError {
	return &domain.FieldError{
		Field: spec.Name,
		Kind:  domain.FieldCoercion,
		Err:   fmt.Errorf("%s: %w", strings.Join(path, "."), err),
	}
}

func defaultValue(spec *domain.FieldSpec) domain.Value {
	if spec.Default == domain.DefaultEmptyString && spec.Type == domain.TypeString {
		return domain.StringValue("")
	}
	return domain.NullValue(spec.Type)
}

func coerce(raw any, t domain.FieldType) (domain.Value, error) {
	switch t {
	case domain.TypeUint64:
		n, err := toUint64(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.UintValue(n), nil
	case domain.TypeString:
		s, err := toText(raw)
		if err != nil {
			return domain.Value{}, err
		}
		return domain.StringValue(s), nil
	default:
		return domain.Value{}, fmt.Errorf("unsupported field type %q", t)
	}
}

// toText accepts scalars only; nested maps and lists are not flattened.
func toText(raw any) (string, error) {
	switch v := raw.(type) {
	case map[string]any, []any:
		return "", fmt.Errorf("value of type %T is not a scalar", raw)
	case json.Number:
		return v.String(), nil
	}
	return cast.ToStringE(raw)
}

// toUint64 parses decimal and 0x-prefixed strings (pids and handles are
// rendered in hex by the event log) and integral numbers.
func toUint64(raw any) (uint64, error) {
	switch v := raw.(type) {
	case string:
		s, base := strings.TrimSpace(v), 10
		if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
			s, base = s[2:], 16
		}
		n, err := strconv.ParseUint(s, base, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q as unsigned integer: %w", v, err)
		}
		return n, nil
	case json.Number:
		if n, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return n, nil
		}
		// 1e3 and 4688.0 are still integral.
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse %q as unsigned integer: %w", v, err)
		}
		return toUint64(f)
	case float64:
		if v < 0 || v != float64(uint64(v)) {
			return 0, fmt.Errorf("%v is not an unsigned integer", v)
		}
		return uint64(v), nil
	case float32:
		return toUint64(float64(v))
	case bool, map[string]any, []any:
		return 0, fmt.Errorf("value of type %T is not numeric", raw)
	}
	return cast.ToUint64E(raw)
}
