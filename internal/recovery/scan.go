package recovery

import (
	"regexp"
	"strings"
)

// span is a candidate structured container within a response.
type span struct {
	start, end int // end is exclusive; len(s) for open spans
	closed     bool
	mismatched bool
	open       bool
	inString   bool
}

// scanContainer walks a JSON container starting at s[start], tracking string
// literals so delimiters inside strings are ignored.
func scanContainer(s string, start int) span {
	var stack []byte
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return span{start: start, end: i + 1, mismatched: true}
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return span{start: start, end: i + 1, closed: true}
			}
		}
	}
	return span{start: start, end: len(s), open: true, inString: inString}
}

// plausibleOpener reports whether the delimiter at s[i] looks like the start
// of JSON rather than bracketed prose such as "[sic]" or "{see v. 3}".
func plausibleOpener(s string, i int) bool {
	j := i + 1
	for j < len(s) && isSpace(s[j]) {
		j++
	}
	if j >= len(s) {
		return true
	}
	c := s[j]
	if s[i] == '{' {
		return c == '"' || c == '}'
	}
	switch {
	case c == '{', c == '[', c == '"', c == ']', c == '-', c >= '0' && c <= '9':
		return true
	}
	rest := s[j:]
	return strings.HasPrefix(rest, "true") || strings.HasPrefix(rest, "false") || strings.HasPrefix(rest, "null")
}

// containers lists the top-level container candidates of s in order. An open
// container runs to the end of the text and ends the scan.
func containers(s string) []span {
	var out []span
	for i := 0; i < len(s); i++ {
		if (s[i] != '{' && s[i] != '[') || !plausibleOpener(s, i) {
			continue
		}
		sp := scanContainer(s, i)
		out = append(out, sp)
		switch {
		case sp.closed:
			i = sp.end - 1
		case sp.open:
			return out
		}
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

var (
	fencedBlockRe   = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")
	openFenceRe     = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*)$")
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
)

// stripFences returns the body of the first markdown code block, or the text
// after an unterminated opening fence, or s unchanged.
func stripFences(s string) string {
	if m := fencedBlockRe.FindStringSubmatch(s); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1])
	}
	if m := openFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// removeLineComments drops // comments that sit outside string literals.
func removeLineComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == '/' && i+1 < len(s) && s[i+1] == '/' {
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// prose returns the text outside the top-level containers of s, which is
// where models put their free-text reasoning.
func prose(s string) string {
	s = stripFenceMarkers(s)
	cands := containers(s)
	if len(cands) == 0 {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	prev := 0
	for _, c := range cands {
		if c.mismatched {
			continue
		}
		b.WriteString(s[prev:c.start])
		b.WriteByte('\n')
		prev = c.end
	}
	b.WriteString(s[prev:])
	return strings.TrimSpace(b.String())
}

var fenceMarkerRe = regexp.MustCompile("```[A-Za-z]*")

func stripFenceMarkers(s string) string {
	return fenceMarkerRe.ReplaceAllString(s, "")
}

// Prose returns the free-text reasoning surrounding the structured payload
// of a raw response.
func Prose(raw string) string {
	return prose(raw)
}
