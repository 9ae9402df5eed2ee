// Package vectorstore provides a VecLite index of confirmed figurative
// language instances for semantic and full-text search.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abdul-hamid-achik/veclite"

	"github.com/abdulachik/figlang/internal/db"
	"github.com/abdulachik/figlang/internal/figlang"
)

const instancesCollection = "instances"

// Config locates the index file and the embedder settings.
type Config struct {
	Path string
	// ConfigPath names a veclite.yaml. Empty uses veclite's default lookup.
	ConfigPath string
}

// InstanceStore wraps VecLite for instance storage and search.
type InstanceStore struct {
	vecdb    *veclite.DB
	coll     *veclite.Collection
	embedder veclite.Embedder
}

// SearchResult is one matching instance.
type SearchResult struct {
	VecLiteID  uint64
	InstanceID int64
	Reference  string
	Book       string
	Phrase     string
	Types      string
	Target     string
	Vehicle    string
	Ground     string
	Posture    string
	Similarity float32
}

// New opens the store using veclite.yaml configuration.
func New(cfg Config) (*InstanceStore, error) {
	vecliteCfg, err := veclite.LoadConfig(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load veclite config: %w", err)
	}
	slog.Debug("loaded veclite config", "provider", vecliteCfg.Embedder.Provider, "path", cfg.Path)

	embedder, err := veclite.NewEmbedderFromConfig(vecliteCfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	vecdb, err := veclite.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open veclite db: %w", err)
	}

	coll, err := vecdb.CreateCollection(instancesCollection,
		veclite.WithDimension(embedder.Dimension()),
		veclite.WithDistanceType(veclite.DistanceCosine),
		veclite.WithHNSW(16, 200),
		veclite.WithTextIndex("text", "target", "vehicle", "ground", "posture", "types"),
		veclite.WithEmbedder(embedder),
	)
	if err != nil {
		// Already created by an earlier run.
		coll, err = vecdb.GetCollection(instancesCollection)
		if err != nil {
			vecdb.Close()
			return nil, fmt.Errorf("get collection: %w", err)
		}
	}

	return &InstanceStore{vecdb: vecdb, coll: coll, embedder: embedder}, nil
}

// Close flushes and closes the index.
func (s *InstanceStore) Close() error {
	if s.vecdb != nil {
		return s.vecdb.Close()
	}
	return nil
}

// IndexInstance embeds and stores a confirmed instance. It returns the
// VecLite record ID.
func (s *InstanceStore) IndexInstance(ctx context.Context, ci *db.ConfirmedInstance) (uint64, error) {
	id, err := s.coll.InsertText(Document(ci), Payload(ci))
	if err != nil {
		return 0, fmt.Errorf("index instance %d: %w", ci.ID, err)
	}
	return id, nil
}

// Search finds instances similar to the query.
func (s *InstanceStore) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	results, err := s.coll.SearchText(query, veclite.TopK(k))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return convertResults(results), nil
}

// HybridSearch fuses vector and BM25 rankings; the weights scale each side.
func (s *InstanceStore) HybridSearch(ctx context.Context, query string, k int, vectorWeight, textWeight float64) ([]SearchResult, error) {
	queryVec, err := s.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.coll.HybridSearch(queryVec, query,
		veclite.TopK(k),
		veclite.WithVectorWeight(vectorWeight),
		veclite.WithTextWeight(textWeight),
	)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}
	return convertResults(results), nil
}

// TextSearch performs BM25 full-text search on the indexed fields.
func (s *InstanceStore) TextSearch(ctx context.Context, query string, k int) ([]SearchResult, error) {
	results, err := s.coll.TextSearch(query, veclite.TopK(k))
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	return convertResults(results), nil
}

// SearchByType finds similar instances whose final types include t.
func (s *InstanceStore) SearchByType(ctx context.Context, query string, t figlang.Type, k int) ([]SearchResult, error) {
	queryVec, err := s.embedder.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := s.coll.Search(queryVec,
		veclite.TopK(k),
		veclite.WithFilter(veclite.Equal(typeField(t), "yes")),
	)
	if err != nil {
		return nil, fmt.Errorf("search by type: %w", err)
	}
	return convertResults(results), nil
}

// Count returns the number of indexed instances.
func (s *InstanceStore) Count() int {
	return s.coll.Count()
}

// Sync persists pending changes to disk.
func (s *InstanceStore) Sync() error {
	return s.vecdb.Sync()
}

// Document is the text embedded for an instance.
func Document(ci *db.ConfirmedInstance) string {
	var b strings.Builder
	b.WriteString(ci.FigurativeText)
	for _, part := range []string{ci.Target, ci.Vehicle, ci.Ground, ci.Explanation} {
		if part != "" {
			b.WriteString(". ")
			b.WriteString(part)
		}
	}
	return b.String()
}

// Payload is the metadata stored alongside an instance.
func Payload(ci *db.ConfirmedInstance) map[string]any {
	p := map[string]any{
		"instance_id": ci.ID,
		"reference":   ci.Reference,
		"book":        ci.Book,
		"text":        ci.FigurativeText,
		"types":       ci.Final.String(),
		"target":      ci.Target,
		"vehicle":     ci.Vehicle,
		"ground":      ci.Ground,
		"posture":     ci.PosturePrimary,
	}
	for _, t := range ci.Final.Types() {
		p[typeField(t)] = "yes"
	}
	return p
}

func typeField(t figlang.Type) string {
	return "is_" + string(t)
}

func convertResults(results []veclite.Result) []SearchResult {
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		sr := fromPayload(r.Record.Payload, r.Record.Content)
		sr.VecLiteID = r.Record.ID
		sr.Similarity = r.Score
		out = append(out, sr)
	}
	return out
}

func fromPayload(p map[string]any, content string) SearchResult {
	var sr SearchResult
	switch id := p["instance_id"].(type) {
	case int64:
		sr.InstanceID = id
	case int:
		sr.InstanceID = int64(id)
	case float64:
		sr.InstanceID = int64(id)
	}
	str := func(key string) string {
		s, _ := p[key].(string)
		return s
	}
	sr.Reference = str("reference")
	sr.Book = str("book")
	sr.Phrase = str("text")
	sr.Types = str("types")
	sr.Target = str("target")
	sr.Vehicle = str("vehicle")
	sr.Ground = str("ground")
	sr.Posture = str("posture")
	if sr.Phrase == "" {
		sr.Phrase = content
	}
	return sr
}
