// Package figlang holds the vocabulary shared by every pipeline stage:
// figurative-language types, validation decisions, tag dimensions, the closed
// speaker-posture vocabulary and verse references.
package figlang

import (
	"fmt"
	"strconv"
	"strings"
)

// Type is one of the six figurative-language categories.
type Type string

const (
	Metaphor        Type = "metaphor"
	Simile          Type = "simile"
	Personification Type = "personification"
	Idiom           Type = "idiom"
	Hyperbole       Type = "hyperbole"
	Metonymy        Type = "metonymy"
)

// Types lists every figurative type in storage column order.
var Types = []Type{Metaphor, Simile, Personification, Idiom, Hyperbole, Metonymy}

var typeAliases = map[string]Type{
	"metaphors":        Metaphor,
	"metaphorical":     Metaphor,
	"similes":          Simile,
	"personifications": Personification,
	"personified":      Personification,
	"idioms":           Idiom,
	"idiomatic":        Idiom,
	"hyperboles":       Hyperbole,
	"hyperbolic":       Hyperbole,
	"metonymies":       Metonymy,
	"metonymic":        Metonymy,
}

// ParseType resolves a model-supplied label to a Type. It tolerates case,
// surrounding punctuation and common plural or adjective forms.
func ParseType(s string) (Type, bool) {
	s = strings.ToLower(strings.Trim(strings.TrimSpace(s), `"'.,;:`))
	for _, t := range Types {
		if s == string(t) {
			return t, true
		}
	}
	if t, ok := typeAliases[s]; ok {
		return t, true
	}
	return "", false
}

func (t Type) index() int {
	for i, v := range Types {
		if v == t {
			return i
		}
	}
	return -1
}

// TypeSet is a set of figurative types.
type TypeSet uint8

// NewTypeSet builds a set from the given types, ignoring unknown values.
func NewTypeSet(types ...Type) TypeSet {
	var s TypeSet
	for _, t := range types {
		s = s.Add(t)
	}
	return s
}

// Add returns the set with t included.
func (s TypeSet) Add(t Type) TypeSet {
	if i := t.index(); i >= 0 {
		return s | 1<<i
	}
	return s
}

// Remove returns the set with t excluded.
func (s TypeSet) Remove(t Type) TypeSet {
	if i := t.index(); i >= 0 {
		return s &^ (1 << i)
	}
	return s
}

// Has reports whether t is in the set.
func (s TypeSet) Has(t Type) bool {
	i := t.index()
	return i >= 0 && s&(1<<i) != 0
}

// Empty reports whether the set has no members.
func (s TypeSet) Empty() bool { return s == 0 }

// Types returns the members in canonical order.
func (s TypeSet) Types() []Type {
	var out []Type
	for _, t := range Types {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// String joins the members with commas.
func (s TypeSet) String() string {
	types := s.Types()
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}

// Decision is the validation outcome for one originally flagged type.
type Decision string

const (
	Valid        Decision = "VALID"
	Invalid      Decision = "INVALID"
	Reclassified Decision = "RECLASSIFIED"
)

// ParseDecision resolves a model-supplied decision label.
func ParseDecision(s string) (Decision, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VALID", "CONFIRMED", "ACCEPT", "ACCEPTED":
		return Valid, true
	case "INVALID", "REJECTED", "REJECT":
		return Invalid, true
	case "RECLASSIFIED", "RECLASSIFY", "RECLASSIFIED_TYPE":
		return Reclassified, true
	}
	return "", false
}

// Dimension scopes a tag.
type Dimension string

const (
	Target  Dimension = "target"
	Vehicle Dimension = "vehicle"
	Ground  Dimension = "ground"
)

// Dimensions lists the three tag dimensions.
var Dimensions = []Dimension{Target, Vehicle, Ground}

// Valid reports whether d is one of the three dimensions.
func (d Dimension) Valid() bool {
	return d == Target || d == Vehicle || d == Ground
}

// Ref identifies a verse.
type Ref struct {
	Book    string
	Chapter int
	Verse   int
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.Verse)
}

// ParseRef parses references such as "Genesis 1:1" or "1 Samuel 2:3".
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	sp := strings.LastIndex(s, " ")
	if sp <= 0 {
		return Ref{}, fmt.Errorf("invalid reference %q", s)
	}
	book, cv := s[:sp], s[sp+1:]
	ch, vs, ok := strings.Cut(cv, ":")
	if !ok {
		return Ref{}, fmt.Errorf("invalid reference %q: missing verse", s)
	}
	chapter, err := strconv.Atoi(ch)
	if err != nil || chapter < 1 {
		return Ref{}, fmt.Errorf("invalid chapter in %q", s)
	}
	verse, err := strconv.Atoi(vs)
	if err != nil || verse < 1 {
		return Ref{}, fmt.Errorf("invalid verse in %q", s)
	}
	return Ref{Book: book, Chapter: chapter, Verse: verse}, nil
}

// Verse is one scriptural unit with its source and translated text.
type Verse struct {
	Ref     Ref
	Hebrew  string
	English string
}
