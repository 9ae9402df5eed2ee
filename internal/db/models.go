package db

import (
	"database/sql"

	"github.com/abdulachik/figlang/internal/figlang"
)

// Verse processing statuses. completed and failed are terminal.
const (
	VerseInProgress = "in_progress"
	VerseCompleted  = "completed"
	VerseFailed     = "failed"
)

// Verse is a row of the verses table.
type Verse struct {
	ID                        int64
	Book                      string
	Chapter                   int64
	Verse                     int64
	Reference                 string
	HebrewText                string
	EnglishText               string
	Status                    string
	InstancesDetected         int64
	InstancesRecovered        int64
	InstancesLostToTruncation int64
	TruncationOccurred        string
	BothModelsFailed          string
	DetectionReasoning        sql.NullString
	ValidationReasoning       sql.NullString
	ModelUsed                 sql.NullString
	ModelTier                 sql.NullString
	RunID                     sql.NullString
	ErrorMessage              sql.NullString
}

// Ref returns the verse reference.
func (v *Verse) Ref() figlang.Ref {
	return figlang.Ref{Book: v.Book, Chapter: int(v.Chapter), Verse: int(v.Verse)}
}

// ValidationDecision is the stored decision for one originally flagged type.
type ValidationDecision struct {
	Decision figlang.Decision
	Reason   string
}

// FigurativeLanguage is a row of the figurative_language table. The per-type
// yes/no columns are folded into the Detected and Final sets.
type FigurativeLanguage struct {
	ID                int64
	VerseID           int64
	FigurativeText    string
	HebrewText        string
	Detected          figlang.TypeSet
	Final             figlang.TypeSet
	Decisions         map[figlang.Type]ValidationDecision
	ReclassifiedTo    string
	Confidence        float64
	Explanation       string
	Speaker           string
	Target            string
	Vehicle           string
	Ground            string
	PosturePrimary    string
	PostureSecondary  string
	PostureConfidence sql.NullFloat64
	TaggingNote       string
	ModelTier         string
}

// Confirmed reports whether validation left at least one final type.
func (f *FigurativeLanguage) Confirmed() bool {
	return !f.Final.Empty()
}

// Tag is a row of the tags table.
type Tag struct {
	ID           int64
	TagName      string
	Dimension    string
	CategoryHint sql.NullString
	UsageCount   int64
	IsActive     string
}

// InstanceTag is an association joined with its tag name.
type InstanceTag struct {
	TagID          int64
	TagName        string
	Dimension      string
	Confidence     float64
	IsPrimary      bool
	SpeakerPosture bool
}

// ConfirmedInstance is a confirmed instance joined with its verse reference,
// used for search indexing.
type ConfirmedInstance struct {
	FigurativeLanguage
	Reference   string
	Book        string
	EnglishText string
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func isYes(s string) bool {
	return s == "yes"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
