package recovery

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FieldKind is the JSON kind expected for a field.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldList
	FieldBool
)

// Field names one field the manual extraction strategy looks for.
type Field struct {
	Name string
	Kind FieldKind
}

// Schema describes the records a stage expects. Anchor must be present in
// every record and marks where a new record begins.
type Schema struct {
	Anchor string
	Fields []Field
}

var listItemRe = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)

type fieldMatcher struct {
	field Field
	re    *regexp.Regexp
}

func compileFields(schema Schema) []fieldMatcher {
	out := make([]fieldMatcher, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		key := `"` + regexp.QuoteMeta(f.Name) + `"\s*:\s*`
		var pattern string
		switch f.Kind {
		case FieldNumber:
			pattern = key + `"?(-?\d+(?:\.\d+)?)`
		case FieldList:
			pattern = key + `\[(.*?)\]`
		case FieldBool:
			pattern = key + `(true|false)`
		default:
			// Lazy up to a quote that is followed by the next key or the end
			// of the object, so interior unescaped quotes are kept.
			pattern = key + `"(.*?)"\s*(?:,\s*"[A-Za-z_][A-Za-z0-9_]*"\s*:|[}\]]|$)`
		}
		out = append(out, fieldMatcher{field: f, re: regexp.MustCompile(`(?s)` + pattern)})
	}
	return out
}

// manualFields extracts fields one by one with regular expressions. It does
// not need well-formed structure: records are split at each occurrence of
// the anchor field.
func manualFields(raw string, schema Schema) (*Result, error) {
	if schema.Anchor == "" || len(schema.Fields) == 0 {
		return nil, errors.New("no field schema configured")
	}
	text := sanitizeText(stripFences(raw))
	anchorRe := regexp.MustCompile(`"` + regexp.QuoteMeta(schema.Anchor) + `"\s*:`)
	locs := anchorRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil, fmt.Errorf("anchor field %q not found", schema.Anchor)
	}

	// Each record starts at the opening brace before its anchor.
	starts := make([]int, len(locs))
	prev := 0
	for i, loc := range locs {
		start := strings.LastIndex(text[prev:loc[0]], "{")
		if start < 0 {
			starts[i] = loc[0]
		} else {
			starts[i] = prev + start
		}
		prev = loc[1]
	}

	matchers := compileFields(schema)
	var records []Record
	for i, start := range starts {
		end := len(text)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		rec := extractRecord(text[start:end], matchers)
		if _, ok := rec[schema.Anchor]; ok {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		return nil, errors.New("no record carried the anchor field")
	}

	cands := containers(text)
	partial := len(cands) > 0 && cands[len(cands)-1].open
	return &Result{Records: records, Partial: partial}, nil
}

func extractRecord(segment string, matchers []fieldMatcher) Record {
	rec := Record{}
	for _, m := range matchers {
		match := m.re.FindStringSubmatch(segment)
		if match == nil {
			continue
		}
		val := match[1]
		switch m.field.Kind {
		case FieldNumber:
			if f, err := strconv.ParseFloat(val, 64); err == nil {
				rec[m.field.Name] = f
			}
		case FieldBool:
			rec[m.field.Name] = val == "true"
		case FieldList:
			var items []any
			for _, item := range listItemRe.FindAllStringSubmatch(val, -1) {
				items = append(items, unescape(item[1]))
			}
			rec[m.field.Name] = items
		default:
			rec[m.field.Name] = unescape(val)
		}
	}
	return rec
}

// unescape decodes JSON escapes where possible and otherwise keeps the raw
// text with escaped quotes resolved.
func unescape(s string) string {
	if u, err := strconv.Unquote(`"` + s + `"`); err == nil {
		return u
	}
	return strings.ReplaceAll(s, `\"`, `"`)
}
