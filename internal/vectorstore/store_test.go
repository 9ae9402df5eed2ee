package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/figlang"
)

func shepherd() *db.ConfirmedInstance {
	return &db.ConfirmedInstance{
		FigurativeLanguage: db.FigurativeLanguage{
			ID:             7,
			FigurativeText: "The LORD is my shepherd",
			Final:          figlang.NewTypeSet(figlang.Metaphor),
			Target:         "God",
			Vehicle:        "shepherd",
			Explanation:    "God guides and provides",
			PosturePrimary: "trust/confidence",
		},
		Reference: "Psalms 23:1",
		Book:      "Psalms",
	}
}

func TestDocument(t *testing.T) {
	assert.Equal(t, "The LORD is my shepherd. God. shepherd. God guides and provides", Document(shepherd()))
}

func TestPayloadRoundTrip(t *testing.T) {
	p := Payload(shepherd())
	assert.Equal(t, "yes", p["is_metaphor"])
	assert.NotContains(t, p, "is_simile")

	sr := fromPayload(p, "")
	assert.Equal(t, int64(7), sr.InstanceID)
	assert.Equal(t, "Psalms 23:1", sr.Reference)
	assert.Equal(t, "metaphor", sr.Types)
	assert.Equal(t, "trust/confidence", sr.Posture)
	assert.Equal(t, "The LORD is my shepherd", sr.Phrase)
}

func TestFromPayload_Fallbacks(t *testing.T) {
	sr := fromPayload(map[string]any{"instance_id": float64(3)}, "stored content")
	assert.Equal(t, int64(3), sr.InstanceID)
	assert.Equal(t, "stored content", sr.Phrase)

	sr = fromPayload(nil, "")
	assert.Zero(t, sr.InstanceID)
}
