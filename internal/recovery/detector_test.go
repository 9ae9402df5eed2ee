package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/figlang/internal/figlang"
)

func TestClassify(t *testing.T) {
	d := DefaultDetector()

	tests := []struct {
		name   string
		raw    string
		status Status
	}{
		{"empty", "   ", StatusTruncated},
		{"complete array", perfectPayload, StatusComplete},
		{"complete empty array", "Nothing figurative here; the verse is a plain genealogy.\n[]", StatusComplete},
		{"fenced", "```json\n" + perfectPayload + "\n```", StatusComplete},
		{"no payload no signal", "I am unable to analyse this verse.", StatusUnknown},
		{"no payload with signal", "This is a clear case of hyperbole, the mountains skip like rams.", StatusTruncated},
		{"ends mid-string", `[{"verse": 1, "english_text": "The LORD is my sh`, StatusTruncated},
		{"ends after separator", `[{"verse": 1, "types": ["metaphor"]},`, StatusTruncated},
		{"extra closer", `[{"verse": 1}}]`, StatusCorrupted},
		{"balanced but invalid", `{"verse": tru}`, StatusCorrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Classify(tt.raw)
			assert.Equal(t, tt.status, v.Status, v.Reason)
		})
	}
}

func TestClassify_TruncatedWithSignal(t *testing.T) {
	raw := "The psalmist calls God a rock. This is a clear case of metaphor, since a rock is a physical refuge.\n" +
		"```json\n[{\"verse\": 1, \"types\": [\"metaphor\"], \"english_text\": \"The LORD is my ro"

	v := DefaultDetector().Classify(raw)
	assert.Equal(t, StatusTruncated, v.Status)
	assert.Equal(t, []figlang.Type{figlang.Metaphor}, v.SignaledTypes)
}

func TestClassify_Omission(t *testing.T) {
	d := DefaultDetector()

	t.Run("asserted type missing from payload", func(t *testing.T) {
		raw := "Verse 2 compares the righteous to a tree; this is a simile.\n" +
			`[{"verse": 1, "types": ["metaphor"], "english_text": "The LORD is my shepherd"}]`
		v := d.Classify(raw)
		assert.Equal(t, StatusTruncated, v.Status)
		assert.Contains(t, v.Reason, "simile")
	})

	t.Run("asserted type present", func(t *testing.T) {
		raw := "Verse 1 calls God a shepherd; this is a metaphor.\n" +
			`[{"verse": 1, "types": ["metaphor"], "english_text": "The LORD is my shepherd"}]`
		v := d.Classify(raw)
		assert.Equal(t, StatusComplete, v.Status)
		assert.Equal(t, 1, v.StructuredCount)
	})

	t.Run("negated assertion ignored", func(t *testing.T) {
		raw := "The hand here is a literal hand, so this is not a metaphor. There is no clear case of idiom either.\n[]"
		v := d.Classify(raw)
		assert.Equal(t, StatusComplete, v.Status)
		assert.Empty(t, v.SignaledTypes)
	})

	t.Run("claimed count exceeds entries", func(t *testing.T) {
		raw := "I identified three instances in this verse.\n" +
			`[{"verse": 1, "types": ["metaphor"]}]`
		v := d.Classify(raw)
		assert.Equal(t, StatusTruncated, v.Status)
		assert.Equal(t, 3, v.ClaimedCount)
	})

	t.Run("count claims disabled", func(t *testing.T) {
		nd := d
		nd.CountClaims = false
		raw := "I identified three instances in this verse.\n" +
			`[{"verse": 1, "types": ["metaphor"]}]`
		assert.Equal(t, StatusComplete, nd.Classify(raw).Status)
	})

	t.Run("record reasoning field", func(t *testing.T) {
		raw := `[{"verse": 1, "types": ["metaphor"], "explanation": "It is also a textbook example of personification."}]`
		v := d.Classify(raw)
		assert.Equal(t, StatusTruncated, v.Status)
		assert.Contains(t, v.SignaledTypes, figlang.Personification)
	})
}

func TestReconcile(t *testing.T) {
	d := DefaultDetector()
	raw := "Here the tongue is a sword. I found a metaphor and this is a simile too.\n" +
		`[{"verse": 1, "english_text": "their tongue "a sword"", "types": ["metaphor"]}]`

	v := d.Classify(raw)
	require.Equal(t, StatusCorrupted, v.Status)

	res, err := NewEngine(Config{Schema: instanceSchema}).Recover(raw)
	require.NoError(t, err)

	rv := d.Reconcile(v, raw, res)
	assert.Equal(t, StatusTruncated, rv.Status)
	assert.Equal(t, []figlang.Type{figlang.Metaphor, figlang.Simile}, rv.SignaledTypes)
}

func TestCutShort(t *testing.T) {
	complete := Verdict{Status: StatusComplete}
	tests := []struct {
		name    string
		v       Verdict
		stopped bool
		res     *Result
		want    Status
		reason  string
	}{
		{"whole payload", complete, false, &Result{}, StatusComplete, ""},
		{"token limit", complete, true, &Result{}, StatusTruncated, "token limit"},
		{"partial payload", complete, false, &Result{Partial: true, Remainder: 1}, StatusTruncated, "1 trailing records"},
		{"already truncated", Verdict{Status: StatusTruncated, Reason: "open array"}, true, nil, StatusTruncated, "open array"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CutShort(tt.v, tt.stopped, tt.res)
			assert.Equal(t, tt.want, got.Status)
			assert.Contains(t, got.Reason, tt.reason)
		})
	}
}
