package figlang

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
		ok   bool
	}{
		{"metaphor", Metaphor, true},
		{"Metaphors", Metaphor, true},
		{" Simile.", Simile, true},
		{"personification", Personification, true},
		{"hyperbolic", Hyperbole, true},
		{"metonymies", Metonymy, true},
		{"allegory", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseType(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypeSet(t *testing.T) {
	s := NewTypeSet(Simile, Metaphor)
	assert.True(t, s.Has(Metaphor))
	assert.True(t, s.Has(Simile))
	assert.False(t, s.Has(Idiom))
	assert.Equal(t, []Type{Metaphor, Simile}, s.Types())
	assert.Equal(t, "metaphor,simile", s.String())

	s = s.Remove(Metaphor)
	assert.Equal(t, []Type{Simile}, s.Types())

	assert.True(t, TypeSet(0).Empty())
	assert.True(t, NewTypeSet(Type("bogus")).Empty())
}

func TestParseDecision(t *testing.T) {
	d, ok := ParseDecision(" valid ")
	assert.True(t, ok)
	assert.Equal(t, Valid, d)

	d, ok = ParseDecision("Reclassified")
	assert.True(t, ok)
	assert.Equal(t, Reclassified, d)

	_, ok = ParseDecision("maybe")
	assert.False(t, ok)
}

func TestParsePosture(t *testing.T) {
	t.Run("exact entries", func(t *testing.T) {
		for _, p := range Postures {
			got, ok := ParsePosture(p)
			require.True(t, ok, p)
			assert.Equal(t, p, got)
		}
	})

	t.Run("loose forms", func(t *testing.T) {
		tests := map[string]string{
			"Reverence / Awe":       "reverence/awe",
			"awe":                   "reverence/awe",
			"Judgment":              "condemnation/judgment",
			"anger and indignation": "anger/indignation",
		}
		for in, want := range tests {
			got, ok := ParsePosture(in)
			assert.True(t, ok, in)
			assert.Equal(t, want, got, in)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		_, ok := ParsePosture("sarcasm")
		assert.False(t, ok)
		_, ok = ParsePosture("")
		assert.False(t, ok)
	})
}

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("1 Samuel 2:3")
	require.NoError(t, err)
	assert.Equal(t, Ref{Book: "1 Samuel", Chapter: 2, Verse: 3}, ref)
	assert.Equal(t, "1 Samuel 2:3", ref.String())

	_, err = ParseRef("Genesis")
	assert.Error(t, err)
	_, err = ParseRef("Genesis 1")
	assert.Error(t, err)
	_, err = ParseRef("Genesis 0:1")
	assert.Error(t, err)
}
