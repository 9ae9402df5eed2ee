package source

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/abdulachik/figlang/internal/figlang"
)

const (
	sefariaBaseURL  = "https://www.sefaria.org"
	sefariaTextsAPI = "/api/v3/texts/%s"
)

// Sefaria fetches chapters from the Sefaria texts API.
type Sefaria struct {
	httpClient *http.Client
	baseURL    string
	english    string
}

// SefariaConfig holds configuration for the Sefaria provider.
type SefariaConfig struct {
	BaseURL string
	// EnglishVersion selects a translation, e.g. "english|The Koren Jerusalem
	// Bible". Empty uses Sefaria's default English version.
	EnglishVersion string
	Timeout        time.Duration
}

// NewSefaria creates a Sefaria provider.
func NewSefaria(cfg SefariaConfig) *Sefaria {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = sefariaBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	english := cfg.EnglishVersion
	if english == "" {
		english = "english"
	}
	return &Sefaria{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		english:    english,
	}
}

// Name returns the provider name.
func (s *Sefaria) Name() string {
	return "sefaria"
}

// sefariaText is the v3 texts response.
type sefariaText struct {
	Ref      string `json:"ref"`
	Versions []struct {
		Language string `json:"language"`
		Text     any    `json:"text"`
	} `json:"versions"`
}

// Chapter fetches the Hebrew and English text of a chapter.
func (s *Sefaria) Chapter(ctx context.Context, book string, chapter int) ([]figlang.Verse, error) {
	ref := strings.ReplaceAll(book, " ", "_") + "." + strconv.Itoa(chapter)
	u := s.baseURL + fmt.Sprintf(sefariaTextsAPI, url.PathEscape(ref)) +
		"?version=hebrew&version=" + url.QueryEscape(s.english)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sefaria returned status %d for %s", resp.StatusCode, ref)
	}

	var body sefariaText
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode sefaria response: %w", err)
	}

	var hebrew, english []string
	for _, v := range body.Versions {
		switch v.Language {
		case "he":
			hebrew = flatten(v.Text)
		case "en":
			english = flatten(v.Text)
		}
	}
	if len(hebrew) == 0 {
		return nil, fmt.Errorf("no hebrew text for %s", ref)
	}
	if len(english) != len(hebrew) {
		slog.Warn("sefaria version lengths differ", "ref", ref, "hebrew", len(hebrew), "english", len(english))
	}

	verses := make([]figlang.Verse, len(hebrew))
	for i := range hebrew {
		verses[i] = figlang.Verse{
			Ref:    figlang.Ref{Book: book, Chapter: chapter, Verse: i + 1},
			Hebrew: CleanText(hebrew[i]),
		}
		if i < len(english) {
			verses[i].English = CleanText(english[i])
		}
	}
	slog.Debug("fetched chapter", "ref", ref, "verses", len(verses))
	return verses, nil
}

// flatten turns a chapter text, a list of strings, into verse strings.
func flatten(text any) []string {
	switch t := text.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, v := range t {
			s, _ := v.(string)
			out = append(out, s)
		}
		return out
	}
	return nil
}

var (
	footnoteRe = regexp.MustCompile(`(?s)<sup[^>]*>.*?</sup>\s*<i class="footnote">.*?</i>`)
	tagRe      = regexp.MustCompile(`<[^>]*>`)
)

// CleanText strips markup, footnotes and entities from a Sefaria string.
func CleanText(s string) string {
	s = footnoteRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
