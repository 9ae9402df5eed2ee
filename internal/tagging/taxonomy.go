package tagging

import (
	"strings"

	"github.com/abdulachik/figlang/internal/figlang"
)

type category struct {
	name     string
	keywords []string
}

// taxonomy holds the keyword categories per dimension, checked in order.
var taxonomy = map[figlang.Dimension][]category{
	figlang.Target: {
		{"deity", []string{"god", "lord", "yhwh", "almighty", "divine", "holy one", "most high"}},
		{"people", []string{"israel", "judah", "nation", "people", "king", "enemy", "enemies", "righteous", "wicked", "psalmist", "speaker", "servant"}},
		{"body", []string{"hand", "arm", "eye", "eyes", "heart", "face", "mouth", "tongue", "soul", "bones"}},
		{"abstract", []string{"sin", "justice", "righteousness", "salvation", "wisdom", "life", "death", "word", "law", "mercy"}},
		{"place", []string{"zion", "jerusalem", "land", "city", "temple", "earth", "heaven", "heavens"}},
	},
	figlang.Vehicle: {
		{"animal", []string{"lion", "lamb", "sheep", "flock", "eagle", "dove", "serpent", "bull", "deer", "wolf", "horse", "bird"}},
		{"agriculture", []string{"shepherd", "vine", "vineyard", "harvest", "field", "pasture", "seed", "threshing", "chaff", "grass"}},
		{"nature", []string{"rock", "water", "waters", "river", "mountain", "tree", "fire", "storm", "light", "sun", "flood", "sea", "cloud", "wind", "dust"}},
		{"warfare", []string{"sword", "shield", "arrow", "bow", "fortress", "battle", "warrior", "stronghold", "spear"}},
		{"architecture", []string{"house", "tower", "wall", "gate", "foundation", "door", "refuge"}},
		{"family", []string{"father", "mother", "son", "daughter", "bride", "husband", "child", "children"}},
		{"body", []string{"hand", "arm", "eye", "heart", "face", "mouth", "tongue", "womb"}},
		{"artifact", []string{"cup", "lamp", "garment", "vessel", "bread", "potter", "clay", "yoke"}},
	},
	figlang.Ground: {
		{"protection", []string{"protection", "refuge", "safety", "shelter", "defense"}},
		{"provision", []string{"provision", "care", "sustenance", "abundance", "nourishment"}},
		{"power", []string{"strength", "power", "might", "victory", "sovereignty"}},
		{"judgment", []string{"judgment", "punishment", "wrath", "destruction"}},
		{"transience", []string{"transience", "fragility", "brevity", "mortality"}},
		{"relationship", []string{"intimacy", "faithfulness", "loyalty", "covenant", "love"}},
	},
}

// CategoryHint infers a category for a tag name from its dimension's
// keyword taxonomy, or returns "" when nothing matches.
func CategoryHint(dim figlang.Dimension, name string) string {
	if figlang.IsPosture(name) && dim == figlang.Ground {
		return PostureCategory
	}
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '/' || r == '\''
	})
	for _, c := range taxonomy[dim] {
		for _, kw := range c.keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(name, kw) {
					return c.name
				}
				continue
			}
			for _, w := range words {
				if w == kw {
					return c.name
				}
			}
		}
	}
	return ""
}

// postureKeywords map common model phrasings to the posture vocabulary.
var postureKeywords = []struct {
	keyword string
	posture string
}{
	{"worship", "reverence/awe"},
	{"fear of", "reverence/awe"},
	{"adoration", "reverence/awe"},
	{"tender", "affection/love"},
	{"compassion", "affection/love"},
	{"wrath", "anger/indignation"},
	{"outrage", "anger/indignation"},
	{"sorrow", "lament/mourning"},
	{"grie", "disappointment/grief"},
	{"rebuke", "warning/correction"},
	{"admonish", "warning/correction"},
	{"exhort", "warning/correction"},
	{"joy", "celebration/praise"},
	{"thanksgiving", "celebration/praise"},
	{"triumph", "celebration/praise"},
	{"mourn", "lament/mourning"},
	{"weep", "lament/mourning"},
	{"impatien", "exasperation/frustration"},
	{"protect", "protective/defensive"},
	{"defen", "protective/defensive"},
	{"condemn", "condemnation/judgment"},
	{"denounc", "condemnation/judgment"},
	{"long for", "yearning/longing"},
	{"desire", "yearning/longing"},
	{"repent", "shame/regret"},
	{"remorse", "shame/regret"},
	{"trust", "hope/expectation"},
	{"confiden", "hope/expectation"},
	{"promise", "hope/expectation"},
	{"narrat", figlang.NeutralPosture},
	{"descript", figlang.NeutralPosture},
	{"factual", figlang.NeutralPosture},
}

// matchPosture maps a free-form posture label onto the vocabulary.
func matchPosture(s string) (string, bool) {
	if p, ok := figlang.ParsePosture(s); ok {
		return p, true
	}
	lower := strings.ToLower(s)
	if lower == "" {
		return "", false
	}
	for _, kw := range postureKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.posture, true
		}
	}
	return "", false
}
