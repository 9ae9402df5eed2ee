package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Record is one structured entry recovered from a response.
type Record map[string]any

// String returns the field as a trimmed string, formatting numbers.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Float returns a numeric field, accepting numeric strings.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns an integer field, accepting numeric strings.
func (r Record) Int(key string) (int, bool) {
	f, ok := r.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Strings returns a list field. A single string, or a comma separated
// string, is split into its parts.
func (r Record) Strings(key string) []string {
	switch v := r[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case []string:
		return v
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

// containerKeys name the wrapper fields models use around record arrays.
var containerKeys = []string{"instances", "results", "items", "records", "validations", "figurative_language"}

// reasoningKeys name wrapper fields that carry free-text reasoning.
var reasoningKeys = []string{"reasoning", "analysis", "thinking"}

var errNotRecords = errors.New("payload is not a record set")

// decoded is a parsed payload.
type decoded struct {
	records   []Record
	reasoning string
}

// parsePayload unmarshals text and normalises it into records.
func parsePayload(text string) (*decoded, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty payload")
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	return normalize(v)
}

// normalize turns an array of objects, a wrapper object holding such an
// array, or a single object into a record set. An empty array is a valid,
// empty record set.
func normalize(v any) (*decoded, error) {
	switch t := v.(type) {
	case []any:
		records, err := objects(t)
		if err != nil {
			return nil, err
		}
		return &decoded{records: records}, nil
	case map[string]any:
		d := &decoded{}
		for _, key := range reasoningKeys {
			if s, ok := t[key].(string); ok {
				d.reasoning = s
				break
			}
		}
		for _, key := range containerKeys {
			if arr, ok := t[key].([]any); ok {
				records, err := objects(arr)
				if err != nil {
					return nil, err
				}
				d.records = records
				return d, nil
			}
		}
		var arrays [][]any
		for _, val := range t {
			if arr, ok := val.([]any); ok {
				arrays = append(arrays, arr)
			}
		}
		// {"verses": [...]} or {"reasoning": "...", "found": [...]}
		others := len(t) - 1
		if d.reasoning != "" {
			others--
		}
		if len(arrays) == 1 && others == 0 {
			if records, err := objects(arrays[0]); err == nil {
				d.records = records
				return d, nil
			}
		}
		d.records = []Record{Record(t)}
		return d, nil
	}
	return nil, fmt.Errorf("%w: top level is %T", errNotRecords, v)
}

func objects(arr []any) ([]Record, error) {
	out := make([]Record, 0, len(arr))
	for i, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: element %d is %T", errNotRecords, i, item)
		}
		out = append(out, Record(m))
	}
	return out, nil
}
