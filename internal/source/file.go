package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/abdulachik/figlang/internal/figlang"
)

// fileVerse is one line of a verses file. Either Ref or Book, Chapter and
// Verse identify the verse.
type fileVerse struct {
	Ref     string `json:"ref"`
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
	Hebrew  string `json:"hebrew"`
	English string `json:"english"`
}

// File reads verses from a JSON lines file, loaded once on first use.
type File struct {
	path string

	once     sync.Once
	err      error
	chapters map[string][]figlang.Verse
}

// NewFile creates a provider backed by a JSON lines file.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name returns the provider name.
func (f *File) Name() string {
	return "file"
}

// Chapter returns the verses of a chapter sorted by verse number.
func (f *File) Chapter(ctx context.Context, book string, chapter int) ([]figlang.Verse, error) {
	f.once.Do(func() { f.err = f.load() })
	if f.err != nil {
		return nil, f.err
	}
	verses, ok := f.chapters[chapterKey(book, chapter)]
	if !ok {
		return nil, fmt.Errorf("%s %d not found in %s", book, chapter, f.path)
	}
	return append([]figlang.Verse(nil), verses...), nil
}

func (f *File) load() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open verses file: %w", err)
	}
	defer file.Close()

	f.chapters = make(map[string][]figlang.Verse)
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var fv fileVerse
		if err := json.Unmarshal([]byte(text), &fv); err != nil {
			return fmt.Errorf("%s:%d: %w", f.path, line, err)
		}
		ref := figlang.Ref{Book: fv.Book, Chapter: fv.Chapter, Verse: fv.Verse}
		if fv.Ref != "" {
			if ref, err = figlang.ParseRef(fv.Ref); err != nil {
				return fmt.Errorf("%s:%d: %w", f.path, line, err)
			}
		}
		if ref.Book == "" || ref.Chapter < 1 || ref.Verse < 1 {
			return fmt.Errorf("%s:%d: missing verse reference", f.path, line)
		}
		key := chapterKey(ref.Book, ref.Chapter)
		f.chapters[key] = append(f.chapters[key], figlang.Verse{Ref: ref, Hebrew: fv.Hebrew, English: fv.English})
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read verses file: %w", err)
	}
	for _, verses := range f.chapters {
		sort.SliceStable(verses, func(i, j int) bool { return verses[i].Ref.Verse < verses[j].Ref.Verse })
	}
	return nil
}

func chapterKey(book string, chapter int) string {
	return fmt.Sprintf("%s|%d", strings.ToLower(book), chapter)
}
