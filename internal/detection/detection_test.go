package detection

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdulachik/figlang/internal/escalation"
	"github.com/abdulachik/figlang/internal/figlang"
	"github.com/abdulachik/figlang/internal/llm"
	"github.com/abdulachik/figlang/internal/llm/llmtest"
)

var psalm = []figlang.Verse{
	{Ref: figlang.Ref{Book: "Psalms", Chapter: 23, Verse: 1}, Hebrew: "יְהוָה רֹעִי לֹא אֶחְסָר", English: "The LORD is my shepherd; I shall not want."},
	{Ref: figlang.Ref{Book: "Psalms", Chapter: 23, Verse: 2}, Hebrew: "בִּנְאוֹת דֶּשֶׁא יַרְבִּיצֵנִי", English: "He makes me lie down in green pastures."},
	{Ref: figlang.Ref{Book: "Psalms", Chapter: 23, Verse: 3}, Hebrew: "נַפְשִׁי יְשׁוֹבֵב", English: "He restores my soul."},
}

type verdicts struct {
	mu   sync.Mutex
	seen []string
}

func (v *verdicts) VerdictObserved(stage, status string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seen = append(v.seen, stage+":"+status)
}

func newStage(t *testing.T, primary, esc llm.Completer, obs *verdicts) *Stage {
	t.Helper()
	cfg := Config{
		Controller: escalation.Config{
			Primary:           llm.Tier{Name: llm.TierPrimary, Model: "flash", Client: primary, MaxTokens: 4096},
			Escalation:        llm.Tier{Name: llm.TierEscalation, Model: "pro", Client: esc, MaxTokens: 8192},
			MaxAttempts:       10,
			EscalationRetries: 2,
		},
	}
	if obs != nil {
		cfg.Verdicts = obs
	}
	return New(cfg)
}

func TestDetect_MultiVerseBatch(t *testing.T) {
	response := "Verse 1 calls God a shepherd; this is a metaphor. Verse 2 continues the pastoral image.\n" +
		"Verse 3 is literal.\n```json\n" + `[
  {"verse": 1, "hebrew_text": "יְהוָה רֹעִי", "english_text": "The LORD is my shepherd", "types": ["metaphor"], "confidence": 0.95,
   "speaker": "the psalmist", "target": "God", "vehicle": "shepherd", "ground": "care",
   "target_tags": ["deity"], "vehicle_tags": ["shepherd"], "ground_tags": ["care"]},
  {"verse": 2, "english_text": "green pastures", "types": ["metaphor"], "confidence": 0.8},
  {"verse": 2, "english_text": "He makes me lie down", "types": ["Metaphors", "allegory"], "confidence": 1.7}
]` + "\n```"
	primary := llmtest.Reply(response)
	obs := &verdicts{}
	stage := newStage(t, primary, llmtest.Reply(), obs)

	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1-3", psalm)
	require.NoError(t, err)
	assert.Equal(t, escalation.StateSucceeded, out.State)
	assert.Equal(t, 1, out.Attempts)
	require.Len(t, out.Results, 3)

	v1 := out.Results[0].Value
	require.Len(t, v1.Candidates, 1)
	c := v1.Candidates[0]
	assert.Equal(t, "The LORD is my shepherd", c.English)
	assert.True(t, c.Types.Has(figlang.Metaphor))
	assert.Equal(t, []string{"deity"}, c.TargetTags)
	assert.Equal(t, "the psalmist", c.Speaker)
	assert.Contains(t, v1.Reasoning, "shepherd")
	assert.Equal(t, "strip_wrappers", v1.Strategy)

	v2 := out.Results[1].Value
	require.Len(t, v2.Candidates, 2)
	assert.Equal(t, 1.0, v2.Candidates[1].Confidence)

	assert.Empty(t, out.Results[2].Value.Candidates)
	assert.Equal(t, "flash", out.Results[2].Model)

	assert.Equal(t, []string{"detection:COMPLETE"}, obs.seen)

	req := primary.Requests()[0]
	assert.Equal(t, SystemPrompt, req.System)
	assert.Equal(t, 4096, req.MaxTokens)
	assert.Contains(t, req.Prompt, "3. Psalms 23:3")
}

func TestDetect_NoFigurativeLanguage(t *testing.T) {
	stage := newStage(t, llmtest.Reply("The verse is a plain statement.\n[]"), llmtest.Reply(), nil)

	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:3", psalm[2:])
	require.NoError(t, err)
	assert.Equal(t, escalation.StateSucceeded, out.State)
	require.Contains(t, out.Results, 0)
	assert.Empty(t, out.Results[0].Value.Candidates)
	assert.False(t, out.Results[0].Value.Truncated)
}

func TestDetect_TruncationEscalates(t *testing.T) {
	truncated := "This is a clear case of metaphor, God as shepherd.\n" +
		`[{"verse": 1, "english_text": "The LORD is my shep`
	complete := `[{"verse": 1, "english_text": "The LORD is my shepherd", "types": ["metaphor"], "confidence": 0.9}]`

	primary := llmtest.Always(llmtest.Step{Text: truncated, Truncated: true})
	escalated := llmtest.Reply(complete)
	obs := &verdicts{}
	stage := newStage(t, primary, escalated, obs)

	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1", psalm[:1])
	require.NoError(t, err)
	assert.Equal(t, escalation.StateSucceeded, out.State)
	assert.True(t, out.Escalated)
	assert.Equal(t, 2, primary.Calls())
	assert.Equal(t, 1, escalated.Calls())

	res := out.Results[0]
	assert.Equal(t, llm.TierEscalation, res.Tier)
	require.Len(t, res.Value.Candidates, 1)
	assert.Equal(t, []string{"detection:TRUNCATED", "detection:TRUNCATED", "detection:COMPLETE"}, obs.seen)

	reqs := primary.Requests()
	assert.NotContains(t, reqs[0].Prompt, "ONLY a JSON array")
	assert.Contains(t, reqs[1].Prompt, "ONLY a JSON array")
}

func TestDetect_OmissionIsRetried(t *testing.T) {
	omitted := "Verse 1 likens the enemies to lions; this is a simile.\n" +
		`[{"verse": 1, "english_text": "my cup overflows", "types": ["hyperbole"], "confidence": 0.7}]`
	fixed := `[{"verse": 1, "english_text": "my cup overflows", "types": ["hyperbole"], "confidence": 0.7},
{"verse": 1, "english_text": "like lions", "types": ["simile"], "confidence": 0.9}]`

	stage := newStage(t, llmtest.Reply(omitted, fixed), llmtest.Reply(), nil)
	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:5", psalm[:1])
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.Len(t, out.Results[0].Value.Candidates, 2)
	assert.Contains(t, out.Records[0].Error, "truncated")
}

func TestDetect_FinalAttemptAcceptsPartial(t *testing.T) {
	partial := `[{"verse": 1, "english_text": "my shepherd", "types": ["metaphor"], "confidence": 0.9},
{"verse": 1, "english_text": "green pastures", "types": ["meta`

	stage := newStage(t, llmtest.Always(llmtest.Step{Text: partial}), llmtest.Always(llmtest.Step{Text: partial}), nil)
	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1", psalm[:1])
	require.NoError(t, err)
	assert.Equal(t, escalation.StateSucceeded, out.State)
	assert.Equal(t, 4, out.Attempts)

	res := out.Results[0]
	assert.Equal(t, llm.TierEscalation, res.Tier)
	assert.True(t, res.Value.Truncated)
	assert.Equal(t, 1, res.Value.LostToTruncation)
	require.Len(t, res.Value.Candidates, 1)
	assert.Equal(t, "progressive", res.Value.Strategy)
}

func TestDetect_MalformedTrailingRecordIsRetried(t *testing.T) {
	broken := `[{"verse": 1, "english_text": "The LORD is my shepherd", "types": ["metaphor"], "confidence": 0.9},
{"verse": 1, "english_text": "green pastures" "types": ["simile"], "confidence": 0.8}]`
	fixed := `[{"verse": 1, "english_text": "The LORD is my shepherd", "types": ["metaphor"], "confidence": 0.9},
{"verse": 1, "english_text": "green pastures", "types": ["simile"], "confidence": 0.8}]`

	t.Run("retried until whole", func(t *testing.T) {
		obs := &verdicts{}
		primary := llmtest.Reply(broken, fixed)
		stage := newStage(t, primary, llmtest.Reply(), obs)

		out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1", psalm[:1])
		require.NoError(t, err)
		assert.Equal(t, escalation.StateSucceeded, out.State)
		assert.Equal(t, 2, out.Attempts)
		assert.Equal(t, 2, primary.Calls())
		assert.Contains(t, out.Records[0].Error, "trailing records could not be recovered")
		assert.Equal(t, []string{"detection:TRUNCATED", "detection:COMPLETE"}, obs.seen)

		res := out.Results[0].Value
		require.Len(t, res.Candidates, 2)
		assert.True(t, res.Candidates[1].Types.Has(figlang.Simile))
		assert.False(t, res.Truncated)
		assert.Zero(t, res.LostToTruncation)
	})

	t.Run("loss recorded on the last attempt", func(t *testing.T) {
		step := llmtest.Step{Text: broken}
		stage := newStage(t, llmtest.Always(step), llmtest.Always(step), nil)

		out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1", psalm[:1])
		require.NoError(t, err)
		assert.Equal(t, escalation.StateSucceeded, out.State)
		assert.True(t, out.Escalated)

		res := out.Results[0].Value
		require.Len(t, res.Candidates, 1)
		assert.True(t, res.Truncated)
		assert.Equal(t, 1, res.LostToTruncation)
	})
}

func TestDetect_TokenLimitStopIsRetried(t *testing.T) {
	looksWhole := `[{"verse": 1, "english_text": "The LORD is my shepherd", "types": ["metaphor"], "confidence": 0.9}]`
	whole := `[{"verse": 1, "english_text": "The LORD is my shepherd", "types": ["metaphor"], "confidence": 0.9},
{"verse": 1, "english_text": "I shall not want", "types": ["hyperbole"], "confidence": 0.4}]`

	obs := &verdicts{}
	primary := &llmtest.Scripted{Model: "flash", Steps: []llmtest.Step{
		{Text: looksWhole, Truncated: true},
		{Text: whole},
	}}
	stage := newStage(t, primary, llmtest.Reply(), obs)

	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1", psalm[:1])
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.Contains(t, out.Records[0].Error, "token limit")
	assert.Equal(t, []string{"detection:TRUNCATED", "detection:COMPLETE"}, obs.seen)
	assert.Len(t, out.Results[0].Value.Candidates, 2)
}

func TestDetect_PartialBatchKeepsEarlierVerses(t *testing.T) {
	partial := `[{"verse": 1, "english_text": "my shepherd", "types": ["metaphor"], "confidence": 0.9},
{"verse": 3, "english_text": "restores my soul", "types": ["metaphor"], "confidence": 0.6},
{"verse": 3, "english_text": "paths of righteousness", "types": ["meta`
	rest := `[{"verse": 1, "english_text": "restores my soul", "types": ["metaphor"], "confidence": 0.6}]`

	primary := llmtest.Reply(partial, rest)
	stage := newStage(t, primary, llmtest.Reply(), nil)
	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1-3", psalm)
	require.NoError(t, err)
	assert.Equal(t, escalation.StateSucceeded, out.State)
	assert.Equal(t, 2, out.Attempts)

	assert.Equal(t, 1, out.Results[0].Attempt)
	assert.Equal(t, 1, out.Results[1].Attempt)
	assert.Empty(t, out.Results[1].Value.Candidates)
	assert.Equal(t, 2, out.Results[2].Attempt)
	assert.Equal(t, "restores my soul", out.Results[2].Value.Candidates[0].English)

	assert.Contains(t, primary.Requests()[1].Prompt, "1. Psalms 23:3")
}

func TestDetect_BatchRecordWithoutVerseIndex(t *testing.T) {
	noIndex := `[{"english_text": "my shepherd", "types": ["metaphor"], "confidence": 0.9}]`
	withIndex := `[{"verse": 1, "english_text": "my shepherd", "types": ["metaphor"], "confidence": 0.9}]`

	stage := newStage(t, llmtest.Reply(noIndex, withIndex), llmtest.Reply(), nil)
	out, err := stage.Detect(context.Background(), "run-1", "Psalms 23:1-2", psalm[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, out.Attempts)
	assert.Contains(t, out.Records[0].Error, "verse index")
	assert.Len(t, out.Results[0].Value.Candidates, 1)
}

func TestBuildPrompt(t *testing.T) {
	full := BuildPrompt(psalm[:2], false)
	assert.Contains(t, full, "1. Psalms 23:1\nHebrew: יְהוָה רֹעִי לֹא אֶחְסָר\nEnglish: The LORD is my shepherd; I shall not want.")
	assert.Contains(t, full, "2. Psalms 23:2")
	assert.Contains(t, full, "(1 to 2)")
	assert.Contains(t, full, "several instances")

	simple := BuildPrompt(psalm[:1], true)
	assert.Contains(t, simple, "ONLY a JSON array")
	assert.Contains(t, simple, "<1 to 1>")
	assert.NotContains(t, simple, "target_tags")
}
