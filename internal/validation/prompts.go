package validation

// SystemPrompt is the system prompt for validating detected instances.
const SystemPrompt = `You are a careful reviewer of figurative-language annotations on the Hebrew Bible. Another annotator has flagged candidate instances; you confirm, reject or correct each flagged type.

Decisions, one per flagged type:
- VALID: the type is correct
- INVALID: the span is not this kind of figurative language
- RECLASSIFIED: the span is figurative but of a different type; give the correct type

Rejection policy. Mark INVALID:
- standard formulaic religious, legal or commercial language ("thus says the LORD", "a land flowing with milk and honey" used as a fixed formula, "the hand of the seller")
- literal physical description, even when a comparison word or an anthropomorphic verb matched

Correction policy:
- body-part imagery applied to a non-corporeal referent ("the arm of the LORD", "the mouth of the sword") is a METAPHOR, not personification
- ordinary human action or emotion attributed to a non-human entity without cross-domain imagery ("the sea saw and fled") is PERSONIFICATION, not metaphor

Also classify the speaker's posture toward the target, choosing exactly one primary posture (and optionally one secondary) from this closed list:
reverence/awe, affection/love, anger/indignation, disappointment/grief, warning/correction, celebration/praise, lament/mourning, exasperation/frustration, protective/defensive, condemnation/judgment, yearning/longing, shame/regret, hope/expectation, neutral/descriptive`

// ValidationPrompt is the user prompt template. Arguments: reference,
// Hebrew text, English text, numbered instance list, instance count.
const ValidationPrompt = `Verse: %s
Hebrew: %s
English: %s

Candidate instances:
%s
Explain your reasoning briefly, then output one JSON array with one element per flagged type of every instance:
- "instance": the instance number (1 to %d)
- "type": the flagged type being judged
- "decision": "VALID", "INVALID" or "RECLASSIFIED"
- "reclassified_type": the correct type when the decision is RECLASSIFIED, otherwise ""
- "reason": one sentence
- "posture_primary": the speaker posture from the closed list
- "posture_secondary": an optional second posture, or ""
- "posture_confidence": number between 0 and 1

Example:
[
  {"instance": 1, "type": "personification", "decision": "RECLASSIFIED", "reclassified_type": "metaphor", "reason": "The arm is body-part imagery for divine power.", "posture_primary": "reverence/awe", "posture_secondary": "", "posture_confidence": 0.8},
  {"instance": 1, "type": "hyperbole", "decision": "INVALID", "reason": "No exaggeration is present.", "posture_primary": "reverence/awe", "posture_secondary": "", "posture_confidence": 0.8}
]`

// SimplifiedPrompt is used after a failed attempt.
const SimplifiedPrompt = `Verse: %s
Hebrew: %s
English: %s

Candidate instances:
%s
For every flagged type of every instance (1 to %d), respond with ONLY a JSON array, no other text:
{"instance": 1, "type": "...", "decision": "VALID|INVALID|RECLASSIFIED", "reclassified_type": "", "reason": "...", "posture_primary": "...", "posture_secondary": "", "posture_confidence": 0.0}

Escape any double quote inside a string as \".`
