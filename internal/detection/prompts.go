package detection

// SystemPrompt is the system prompt for figurative-language detection.
const SystemPrompt = `You are an expert in biblical Hebrew poetics and rhetoric. Your task is to find figurative language in verses of the Hebrew Bible, reading the Hebrew text alongside its English translation.

Figurative types:
1. METAPHOR: one domain is described directly in terms of another ("The LORD is my shepherd")
2. SIMILE: an explicit comparison with "like" or "as" (כ / כְּמוֹ)
3. PERSONIFICATION: a non-human entity is given human action, speech or emotion
4. IDIOM: a fixed expression whose meaning is not the sum of its words ("lift up the face")
5. HYPERBOLE: deliberate exaggeration for effect
6. METONYMY: a thing is named by something closely associated with it ("the sword" for war)

Do NOT flag:
- Standard formulaic religious, legal or commercial language ("thus says the LORD", "the hand of the seller")
- Literal physical description, even when it uses a comparison word

A verse may contain zero, exactly one, or several instances. Several instances in one verse is common: after you find a strong first candidate, keep reading the rest of the verse.`

// DetectionPrompt is the user prompt template. Arguments: the numbered verse
// list and the number of verses.
const DetectionPrompt = `Analyze the following %[2]d verse(s) for figurative language.

%[1]s

First reason briefly, in plain prose, about each verse. Then output one JSON array containing every instance you found in any verse.

Each element describes exactly one instance:
- "verse": the number of the verse in the list above (1 to %[2]d)
- "hebrew_text": the figurative span in Hebrew
- "english_text": the figurative span in English
- "types": array of one or more of "metaphor", "simile", "personification", "idiom", "hyperbole", "metonymy"
- "confidence": number between 0 and 1
- "speaker": who speaks the words (e.g. "God", "the psalmist", "narrator")
- "explanation": one or two sentences on why this is figurative
- "target": what is being described
- "vehicle": the imagery used to describe it
- "ground": why the comparison works
- "target_tags", "vehicle_tags", "ground_tags": arrays of short lower-case tags

Expected shapes:
- A verse with no figurative language contributes no elements.
- A verse with exactly one instance contributes one element.
- A verse with several instances contributes one element per instance.
- If no verse has figurative language, output [].

Example:
[
  {
    "verse": 1,
    "hebrew_text": "יְהוָה רֹעִי",
    "english_text": "The LORD is my shepherd",
    "types": ["metaphor"],
    "confidence": 0.95,
    "speaker": "the psalmist",
    "explanation": "God is described in terms of a shepherd's care for a flock.",
    "target": "God",
    "vehicle": "shepherd",
    "ground": "provision and protection",
    "target_tags": ["deity"],
    "vehicle_tags": ["shepherd", "pastoral"],
    "ground_tags": ["care", "protection"]
  }
]`

// SimplifiedPrompt is used after a failed attempt. It drops the prose and
// the tag fields so responses are shorter.
const SimplifiedPrompt = `List the figurative language (metaphor, simile, personification, idiom, hyperbole, metonymy) in the following %[2]d verse(s).

%[1]s

Respond with ONLY a JSON array, no other text. One element per instance:
{"verse": <1 to %[2]d>, "hebrew_text": "...", "english_text": "...", "types": ["..."], "confidence": 0.0, "speaker": "...", "explanation": "...", "target": "...", "vehicle": "...", "ground": "..."}

A verse may have zero, one or several instances. Escape any double quote inside a string as \". If there are none, respond with [].`
