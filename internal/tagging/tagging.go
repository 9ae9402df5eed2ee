// Package tagging maps a confirmed instance's target, vehicle and ground
// onto the open tag vocabulary, plus the required speaker-posture tag from
// the closed posture vocabulary.
package tagging

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/abdulachik/figlang/internal/figlang"
)

// ErrMissingPosture is returned when no posture from the closed vocabulary
// can be assigned.
var ErrMissingPosture = errors.New("missing speaker posture")

// PostureCategory is the category hint of posture tags.
const PostureCategory = "speaker_posture"

// Unspecified is used for a dimension the model left empty.
const Unspecified = "unspecified"

// Tag is one tag to associate with an instance.
type Tag struct {
	Name           string
	Dimension      figlang.Dimension
	CategoryHint   string
	Confidence     float64
	Primary        bool
	SpeakerPosture bool
}

// Input is what detection and validation produced for one instance.
type Input struct {
	Target      string
	Vehicle     string
	Ground      string
	TargetTags  []string
	VehicleTags []string
	GroundTags  []string
	// Confidence is the instance confidence, copied to each tag.
	Confidence        float64
	PosturePrimary    string
	PostureSecondary  string
	PostureConfidence float64
}

// Assignment is the tag set for one instance. RepairNote records any local
// repair of the posture.
type Assignment struct {
	Tags              []Tag
	Posture           string
	PostureSecondary  string
	PostureConfidence float64
	RepairNote        string
}

// Assigner builds tag sets.
type Assigner struct {
	logger *slog.Logger
}

// New creates an Assigner.
func New(logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{logger: logger}
}

// Assign builds the tag set, requiring the primary posture to be given
// verbatim from the vocabulary.
func (a *Assigner) Assign(in Input) (Assignment, error) {
	p := strings.ToLower(strings.TrimSpace(in.PosturePrimary))
	if !figlang.IsPosture(p) {
		return Assignment{}, fmt.Errorf("%w: %q", ErrMissingPosture, in.PosturePrimary)
	}
	return a.build(in, p, in.PostureConfidence), nil
}

// AssignWithRepair is Assign with local repair of the posture: first a
// fuzzy match against the vocabulary, then the neutral posture with zero
// confidence. Repair starts when the posture is unusable or the assignment
// fails Validate on its posture tags. It never consults a model.
func (a *Assigner) AssignWithRepair(in Input) Assignment {
	asg, err := a.Assign(in)
	if err == nil {
		err = Validate(asg)
	}
	if err == nil || !errors.Is(err, ErrMissingPosture) {
		return asg
	}

	if p, ok := matchPosture(in.PosturePrimary); ok {
		asg = a.build(in, p, in.PostureConfidence)
		asg.RepairNote = fmt.Sprintf("posture %q normalised to %q", in.PosturePrimary, p)
	} else {
		asg = a.build(in, figlang.NeutralPosture, 0)
		asg.RepairNote = fmt.Sprintf("no usable posture in %q, defaulted to %s", in.PosturePrimary, figlang.NeutralPosture)
	}
	a.logger.Debug("repaired posture", "note", asg.RepairNote)
	return asg
}

func (a *Assigner) build(in Input, posture string, postureConf float64) Assignment {
	conf := clamp(in.Confidence)
	asg := Assignment{Posture: posture, PostureConfidence: clamp(postureConf)}

	asg.Tags = append(asg.Tags, dimensionTags(figlang.Target, in.TargetTags, in.Target, conf)...)
	asg.Tags = append(asg.Tags, dimensionTags(figlang.Vehicle, in.VehicleTags, in.Vehicle, conf)...)

	sec, ok := matchPosture(in.PostureSecondary)
	if !ok || sec == posture {
		sec = ""
	}
	asg.PostureSecondary = sec

	// A ground tag spelled like a posture becomes the posture tag.
	ground := dropNames(dimensionTags(figlang.Ground, in.GroundTags, in.Ground, conf), posture, sec)
	asg.Tags = append(asg.Tags, ground...)
	asg.Tags = append(asg.Tags, Tag{
		Name:           posture,
		Dimension:      figlang.Ground,
		CategoryHint:   PostureCategory,
		Confidence:     asg.PostureConfidence,
		Primary:        true,
		SpeakerPosture: true,
	})
	if sec != "" {
		asg.Tags = append(asg.Tags, Tag{
			Name:           sec,
			Dimension:      figlang.Ground,
			CategoryHint:   PostureCategory,
			Confidence:     asg.PostureConfidence,
			SpeakerPosture: true,
		})
	}
	return asg
}

// dimensionTags normalises the tags of one dimension, falling back to the
// free-text field when it is short enough to be a tag itself.
func dimensionTags(dim figlang.Dimension, names []string, field string, conf float64) []Tag {
	var out []Tag
	seen := make(map[string]bool)
	add := func(raw string) {
		name := NormalizeName(raw)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Tag{
			Name:         name,
			Dimension:    dim,
			CategoryHint: CategoryHint(dim, name),
			Confidence:   conf,
			Primary:      len(out) == 0,
		})
	}
	for _, n := range names {
		add(n)
	}
	if len(out) == 0 && len(strings.Fields(field)) <= 4 {
		add(field)
	}
	if len(out) == 0 {
		add(Unspecified)
	}
	return out
}

func dropNames(tags []Tag, names ...string) []Tag {
	out := tags[:0]
	for _, t := range tags {
		if !slices.Contains(names, t.Name) {
			t.Primary = len(out) == 0
			out = append(out, t)
		}
	}
	return out
}

// NormalizeName canonicalises a tag name: NFC, lower case, single spaces,
// no surrounding quotes or punctuation.
func NormalizeName(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, "\"'.,;:!?()[]{} ")
}

// Validate is the structural check applied before an assignment is written:
// every dimension has a tag and exactly one primary posture tag from the
// vocabulary sits in the ground dimension.
func Validate(asg Assignment) error {
	counts := make(map[figlang.Dimension]int)
	primaries := 0
	for _, t := range asg.Tags {
		if !t.Dimension.Valid() {
			return fmt.Errorf("tag %q has unknown dimension %q", t.Name, t.Dimension)
		}
		counts[t.Dimension]++
		if !t.SpeakerPosture {
			continue
		}
		if t.Dimension != figlang.Ground || !figlang.IsPosture(t.Name) {
			return fmt.Errorf("%w: invalid posture tag %q in %s", ErrMissingPosture, t.Name, t.Dimension)
		}
		if t.Primary {
			primaries++
		}
	}
	for _, d := range figlang.Dimensions {
		if counts[d] == 0 {
			return fmt.Errorf("no %s tag", d)
		}
	}
	if primaries != 1 {
		return fmt.Errorf("%w: %d primary posture tags", ErrMissingPosture, primaries)
	}
	return nil
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
