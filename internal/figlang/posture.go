package figlang

import "strings"

// NeutralPosture is the posture used when nothing else applies.
const NeutralPosture = "neutral/descriptive"

// Postures is the closed speaker-posture vocabulary.
var Postures = []string{
	"reverence/awe",
	"affection/love",
	"anger/indignation",
	"disappointment/grief",
	"warning/correction",
	"celebration/praise",
	"lament/mourning",
	"exasperation/frustration",
	"protective/defensive",
	"condemnation/judgment",
	"yearning/longing",
	"shame/regret",
	"hope/expectation",
	NeutralPosture,
}

// IsPosture reports whether name is exactly one of the vocabulary entries.
func IsPosture(name string) bool {
	for _, p := range Postures {
		if p == name {
			return true
		}
	}
	return false
}

// ParsePosture maps a model-supplied posture label onto the vocabulary.
// It accepts an exact entry (ignoring case and spacing around the slash)
// or either half of an entry, e.g. "awe" or "Judgment".
func ParsePosture(s string) (string, bool) {
	key := normalizePosture(s)
	if key == "" {
		return "", false
	}
	for _, p := range Postures {
		if key == p {
			return p, true
		}
	}
	for _, p := range Postures {
		left, right, _ := strings.Cut(p, "/")
		if key == left || key == right {
			return p, true
		}
	}
	return "", false
}

func normalizePosture(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, `"'.`)
	s = strings.ReplaceAll(s, " / ", "/")
	s = strings.ReplaceAll(s, "\\", "/")
	s = strings.ReplaceAll(s, " and ", "/")
	return strings.Join(strings.Fields(s), " ")
}
