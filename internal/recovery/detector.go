package recovery

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/abdulachik/figlang/internal/figlang"
)

// Status is the detector's classification of a raw response.
type Status string

const (
	StatusComplete  Status = "COMPLETE"
	StatusTruncated Status = "TRUNCATED"
	StatusCorrupted Status = "CORRUPTED"
	StatusUnknown   Status = "UNKNOWN"
)

// Verdict is the result of classifying a response.
type Verdict struct {
	Status Status
	Reason string
	// SignaledTypes are the figurative types the reasoning positively
	// asserts. ClaimedCount is a stated number of findings, 0 if none.
	SignaledTypes   []figlang.Type
	ClaimedCount    int
	StructuredCount int
}

// Detector classifies raw responses. TypeFields name the record fields that
// carry figurative types; ReasoningFields name per-record free text that is
// mined alongside the surrounding prose.
type Detector struct {
	TypeFields      []string
	ReasoningFields []string
	// CountClaims enables the "I identified three instances" check. Stages
	// whose records are not one-per-instance turn it off.
	CountClaims bool
}

// DefaultDetector returns a detector for instance-shaped records.
func DefaultDetector() Detector {
	return Detector{
		TypeFields:      []string{"types", "type", "reclassified_type"},
		ReasoningFields: []string{"explanation", "reasoning", "reason"},
		CountClaims:     true,
	}
}

// Classify inspects raw model output. It has no side effects.
func (d Detector) Classify(raw string) Verdict {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Verdict{Status: StatusTruncated, Reason: "empty response"}
	}

	body := stripFences(text)
	cands := containers(body)
	sig := mineSignals(prose(text))

	if len(cands) == 0 {
		v := Verdict{SignaledTypes: sig.types.Types(), ClaimedCount: sig.claimed}
		if !sig.types.Empty() || sig.claimed > 0 {
			v.Status = StatusTruncated
			v.Reason = "reasoning reports findings but no structured payload is present"
			return v
		}
		v.Status = StatusUnknown
		v.Reason = "no structured payload"
		return v
	}

	last := cands[len(cands)-1]
	if last.open {
		reason := "structured payload is not closed"
		switch {
		case last.inString:
			reason = "response ends mid-string"
		case endsMidToken(body):
			reason = "response ends mid-token"
		}
		return Verdict{
			Status:        StatusTruncated,
			Reason:        reason,
			SignaledTypes: sig.types.Types(),
			ClaimedCount:  sig.claimed,
		}
	}

	var payload *decoded
	for _, c := range cands {
		if c.mismatched {
			return Verdict{Status: StatusCorrupted, Reason: "unbalanced closing delimiter"}
		}
		p, err := parsePayload(cleanArtifacts(body[c.start:c.end]))
		if err != nil {
			continue
		}
		if payload == nil || len(p.records) > len(payload.records) {
			payload = p
		}
	}
	if payload == nil {
		return Verdict{Status: StatusCorrupted, Reason: "structured payload is balanced but invalid"}
	}

	return d.omission(payload.records, sig)
}

// Reconcile repeats the omission check against records recovered by the
// engine, for responses the structural pass could not parse on its own.
func (d Detector) Reconcile(v Verdict, raw string, res *Result) Verdict {
	if res == nil || v.Status == StatusTruncated {
		return v
	}
	return d.omission(res.Records, mineSignals(prose(raw)))
}

// CutShort marks v TRUNCATED when the provider stopped at its token limit
// or the engine recovered only a leading part of the payload, whatever the
// text itself looked like.
func CutShort(v Verdict, stopped bool, res *Result) Verdict {
	if v.Status == StatusTruncated {
		return v
	}
	switch {
	case stopped:
		v.Status = StatusTruncated
		v.Reason = "response stopped at the token limit"
	case res != nil && res.Partial:
		v.Status = StatusTruncated
		v.Reason = fmt.Sprintf("%d trailing records could not be recovered", res.Remainder)
	}
	return v
}

func (d Detector) omission(records []Record, s signals) Verdict {
	for _, r := range records {
		for _, f := range d.ReasoningFields {
			s = s.merge(mineSignals(r.String(f)))
		}
	}
	structured := figlang.TypeSet(0)
	for _, r := range records {
		structured |= d.recordTypes(r)
	}

	v := Verdict{
		Status:          StatusComplete,
		SignaledTypes:   s.types.Types(),
		ClaimedCount:    s.claimed,
		StructuredCount: len(records),
	}
	for _, t := range s.types.Types() {
		if !structured.Has(t) {
			v.Status = StatusTruncated
			v.Reason = fmt.Sprintf("reasoning asserts %s but no structured entry has that type", t)
			return v
		}
	}
	if d.CountClaims && s.claimed > len(records) {
		v.Status = StatusTruncated
		v.Reason = fmt.Sprintf("reasoning claims %d findings but payload has %d", s.claimed, len(records))
	}
	return v
}

func (d Detector) recordTypes(r Record) figlang.TypeSet {
	var set figlang.TypeSet
	for _, f := range d.TypeFields {
		for _, s := range r.Strings(f) {
			if t, ok := figlang.ParseType(s); ok {
				set = set.Add(t)
			}
		}
	}
	return set
}

// endsMidToken reports whether the text stops after a separator, i.e. in
// the middle of a key/value pair or list.
func endsMidToken(s string) bool {
	s = strings.TrimRight(s, " \t\r\n")
	if s == "" {
		return false
	}
	switch s[len(s)-1] {
	case ',', ':', '[', '{':
		return true
	}
	return false
}

type signals struct {
	types   figlang.TypeSet
	claimed int
}

func (s signals) merge(o signals) signals {
	s.types |= o.types
	if o.claimed > s.claimed {
		s.claimed = o.claimed
	}
	return s
}

const typeWord = `(metaphor\w*|simile\w*|personifi\w*|idiom\w*|hyperbol\w*|metonym\w*)`

var (
	assertionRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:clear|strong|genuine|classic|obvious|definite|true|textbook|unmistakable)\s+(?:case|example|instance)\s+of\s+(?:an?\s+)?` + typeWord),
		regexp.MustCompile(`(?i)\b(?:this|it|that|which|here)\s+(?:is|constitutes|represents|functions\s+as|qualifies\s+as|counts\s+as)\s+(?:clearly\s+|definitely\s+|certainly\s+)?(?:an?\s+)?` + typeWord),
		regexp.MustCompile(`(?i)\bI\s+(?:have\s+)?(?:identified|found|detected|flagged)\s+(?:an?|one)\s+` + typeWord),
	}
	claimRe    = regexp.MustCompile(`(?i)\b(?:identified|found|detected|flagged|there\s+are)\s+(\d+|two|three|four|five|six|seven|eight|nine|ten)\s+(?:distinct\s+|separate\s+|figurative\s+)*(?:instances|examples|cases|figures)\b`)
	negationRe = regexp.MustCompile(`(?i)\b(?:not|no|never|neither|nor|rather\s+than|instead\s+of)\b|n't\b`)
)

var numberWords = map[string]int{
	"two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// mineSignals scans free text for positive findings. It is independent of
// the structured parser so the two can be compared.
func mineSignals(text string) signals {
	var s signals
	if text == "" {
		return s
	}
	for _, re := range assertionRes {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			if negated(text, m[0], m[1]) {
				continue
			}
			if t, ok := figlang.ParseType(text[m[2]:m[3]]); ok {
				s.types = s.types.Add(t)
			} else if t, ok := stemType(text[m[2]:m[3]]); ok {
				s.types = s.types.Add(t)
			}
		}
	}
	for _, m := range claimRe.FindAllStringSubmatchIndex(text, -1) {
		if negated(text, m[0], m[1]) {
			continue
		}
		word := strings.ToLower(text[m[2]:m[3]])
		n, err := strconv.Atoi(word)
		if err != nil {
			n = numberWords[word]
		}
		if n > s.claimed {
			s.claimed = n
		}
	}
	return s
}

// stemType maps inflected forms the alias table does not list.
func stemType(word string) (figlang.Type, bool) {
	word = strings.ToLower(word)
	for _, t := range figlang.Types {
		stem := string(t)
		if len(stem) > 6 {
			stem = stem[:6]
		}
		if strings.HasPrefix(word, stem) {
			return t, true
		}
	}
	return "", false
}

// negated reports whether the match sits in a clause containing a negation.
// Only the current clause and at most 40 bytes before the match are checked.
func negated(text string, start, end int) bool {
	from := strings.LastIndexAny(text[:start], ".;:!?\n") + 1
	if start-from > 40 {
		from = start - 40
	}
	return negationRe.MatchString(text[from:end])
}
