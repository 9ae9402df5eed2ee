package recovery

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Strategy identifies the extraction strategy that produced a result.
type Strategy string

const (
	StrategyDirect        Strategy = "direct"
	StrategyStripWrappers Strategy = "strip_wrappers"
	StrategyBracketScan   Strategy = "bracket_scan"
	StrategyRepairEscapes Strategy = "repair_escapes"
	StrategySanitize      Strategy = "sanitize"
	StrategyProgressive   Strategy = "progressive"
	StrategyManualFields  Strategy = "manual_fields"
)

// strategyFunc extracts records from raw text or returns an error. Strategies
// are pure: they only read raw and the schema.
type strategyFunc func(raw string, schema Schema) (*Result, error)

type namedStrategy struct {
	name Strategy
	fn   strategyFunc
}

// defaultStrategies is the ordered cascade, least to most aggressive.
var defaultStrategies = []namedStrategy{
	{StrategyDirect, direct},
	{StrategyStripWrappers, stripWrappers},
	{StrategyBracketScan, bracketScan},
	{StrategyRepairEscapes, repairEscapes},
	{StrategySanitize, sanitize},
	{StrategyProgressive, progressive},
	{StrategyManualFields, manualFields},
}

func complete(d *decoded) *Result {
	return &Result{Records: d.records, Reasoning: d.reasoning}
}

// direct parses the whole response as-is.
func direct(raw string, _ Schema) (*Result, error) {
	d, err := parsePayload(raw)
	if err != nil {
		return nil, err
	}
	return complete(d), nil
}

// cleanArtifacts removes formatting noise that is not valid JSON: byte order
// marks, a bare "json" label, line comments and trailing commas.
func cleanArtifacts(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "\ufeff")
	if strings.HasPrefix(strings.ToLower(s), "json") {
		rest := strings.TrimLeft(s[4:], " \t:")
		if strings.HasPrefix(rest, "\n") || strings.HasPrefix(rest, "[") || strings.HasPrefix(rest, "{") {
			s = rest
		}
	}
	s = removeLineComments(s)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// stripWrappers removes markdown fences and other wrapper artifacts.
func stripWrappers(raw string, _ Schema) (*Result, error) {
	d, err := parsePayload(cleanArtifacts(stripFences(raw)))
	if err != nil {
		return nil, err
	}
	return complete(d), nil
}

// bracketScan locates balanced containers and parses the largest one that
// yields a record set. It refuses to pick a fragment when the text ends in
// an unclosed container, since that payload is truncated.
func bracketScan(raw string, _ Schema) (*Result, error) {
	cands := containers(raw)
	if len(cands) == 0 {
		return nil, errors.New("no structured container found")
	}
	if cands[len(cands)-1].open {
		return nil, errors.New("structured container is not closed")
	}

	closed := make([]span, 0, len(cands))
	for _, c := range cands {
		if c.closed {
			closed = append(closed, c)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		return closed[i].end-closed[i].start > closed[j].end-closed[j].start
	})

	var lastErr error = errors.New("no balanced container found")
	for _, c := range closed {
		text := raw[c.start:c.end]
		d, err := parsePayload(text)
		if err != nil {
			d, err = parsePayload(cleanArtifacts(text))
		}
		if err != nil {
			lastErr = err
			continue
		}
		return complete(d), nil
	}
	return nil, lastErr
}

// payloadRegion returns the text from the first plausible opener to the last
// closing delimiter. It is used when string tracking cannot be trusted.
func payloadRegion(s string) (string, bool) {
	start := -1
	for i := 0; i < len(s); i++ {
		if (s[i] == '{' || s[i] == '[') && plausibleOpener(s, i) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return "", false
	}
	return s[start : end+1], true
}

// repairEscapes escapes raw control characters and interior quotes inside
// string literals, then parses.
func repairEscapes(raw string, _ Schema) (*Result, error) {
	region, ok := payloadRegion(cleanArtifacts(stripFences(raw)))
	if !ok {
		return nil, errors.New("no structured region found")
	}
	repaired := repairStrings(region)
	if d, err := parsePayload(repaired); err == nil {
		return complete(d), nil
	}
	return bracketScan(repaired, Schema{})
}

// repairStrings rewrites string literals so they are valid JSON. A quote
// inside a string is treated as closing only when the next non-space
// character can follow a string value or key.
func repairStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch {
		case c == '\\':
			if i+1 < len(s) && strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			} else {
				b.WriteString(`\\`)
			}
		case c == '"':
			if closesString(s, i+1) {
				inString = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
			fmt.Fprintf(&b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func closesString(s string, j int) bool {
	for j < len(s) && isSpace(s[j]) {
		j++
	}
	if j >= len(s) {
		return true
	}
	switch s[j] {
	case ',', ':', '}', ']':
		return true
	}
	return false
}

var sanitizer = strings.NewReplacer(
	"\u201c", `"`, "\u201d", `"`, "\u201e", `"`, "\u201f", `"`,
	"\u00a0", " ", "\u202f", " ", "\u2007", " ",
	"\u200b", "", "\u2060", "", "\ufeff", "",
	"\r\n", "\n",
)

// sanitizeText normalises encoding anomalies: NFC composition, typographic
// double quotes, non-breaking and zero-width spaces, invalid UTF-8 and stray
// control characters.
func sanitizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	s = norm.NFC.String(s)
	s = sanitizer.Replace(s)
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' && r != '\r' {
			return -1
		}
		if r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// sanitize cleans encoding anomalies and retries the structural strategies.
func sanitize(raw string, schema Schema) (*Result, error) {
	clean := sanitizeText(raw)
	var errs []error
	for _, fn := range []strategyFunc{stripWrappers, bracketScan, repairEscapes} {
		res, err := fn(clean, schema)
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// progressive parses the leading complete elements of the first array of
// objects and reports how many started elements it had to discard.
func progressive(raw string, _ Schema) (*Result, error) {
	s := sanitizeText(cleanArtifacts(stripFences(raw)))
	start := arrayOfObjects(s)
	if start < 0 {
		return nil, errors.New("no array of objects found")
	}

	var records []Record
	i := start + 1
	closed := false
	for i < len(s) {
		for i < len(s) && (isSpace(s[i]) || s[i] == ',') {
			i++
		}
		if i >= len(s) {
			break
		}
		if s[i] == ']' {
			closed = true
			break
		}
		if s[i] != '{' {
			break
		}
		sp := scanContainer(s, i)
		if !sp.closed {
			break
		}
		rec, err := parseObject(s[sp.start:sp.end])
		if err != nil {
			break
		}
		records = append(records, rec)
		i = sp.end
	}

	remainder := 0
	if !closed {
		remainder = countElements(s, i)
	}
	if len(records) == 0 {
		return nil, errors.New("no complete leading element")
	}
	return &Result{
		Records:   records,
		Partial:   !closed,
		Remainder: remainder,
	}, nil
}

// arrayOfObjects returns the index of the first '[' whose first element is
// an object, or -1.
func arrayOfObjects(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] != '[' {
			continue
		}
		j := i + 1
		for j < len(s) && isSpace(s[j]) {
			j++
		}
		if j < len(s) && s[j] == '{' {
			return i
		}
	}
	return -1
}

func parseObject(text string) (Record, error) {
	d, err := parsePayload(text)
	if err != nil {
		d, err = parsePayload(repairStrings(text))
	}
	if err != nil {
		return nil, err
	}
	if len(d.records) != 1 {
		return nil, errors.New("element is not a single object")
	}
	return d.records[0], nil
}

// countElements counts the objects started at array level from s[i] on,
// including a final unterminated one.
func countElements(s string, i int) int {
	n := 0
	for i < len(s) {
		if s[i] == ']' {
			break
		}
		if s[i] != '{' {
			i++
			continue
		}
		n++
		sp := scanContainer(s, i)
		if !sp.closed {
			break
		}
		i = sp.end
	}
	return n
}
