// Package source provides the verse texts the pipeline annotates.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/abdulachik/figlang/internal/figlang"
)

// Provider returns the verses of a chapter in order.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Chapter returns the verses of one chapter.
	Chapter(ctx context.Context, book string, chapter int) ([]figlang.Verse, error)
}

// Chapters fetches several chapters of a book in order.
func Chapters(ctx context.Context, p Provider, book string, chapters []int) ([]figlang.Verse, error) {
	var out []figlang.Verse
	for _, ch := range chapters {
		verses, err := p.Chapter(ctx, book, ch)
		if err != nil {
			return nil, fmt.Errorf("fetch %s %d from %s: %w", book, ch, p.Name(), err)
		}
		out = append(out, verses...)
	}
	return out, nil
}

// ParseChapters parses a chapter list such as "1-3,5".
func ParseChapters(s string) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil || from < 1 {
			return nil, fmt.Errorf("invalid chapter %q", part)
		}
		to := from
		if isRange {
			to, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil || to < from {
				return nil, fmt.Errorf("invalid chapter range %q", part)
			}
		}
		for ch := from; ch <= to; ch++ {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no chapters in %q", s)
	}
	return out, nil
}
