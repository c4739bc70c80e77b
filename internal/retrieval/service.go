// Package retrieval answers hybrid queries: chunk-level vector similarity
// first, then full-text matches for sessions the vectors did not surface.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"archivist/internal/config"
	"archivist/internal/fts"
	"archivist/internal/provider"
	"archivist/internal/storage"
	"archivist/internal/vectorstore"
)

// ErrEmptyQuery 查询为空 / ErrEmptyQuery is returned for a blank prompt
var ErrEmptyQuery = errors.New("retrieval: prompt is required")

const (
	KindChunk    = "chunk"
	KindFulltext = "fulltext"
)

// SettingsSource 提供当前配置 / SettingsSource yields the settings in effect
type SettingsSource interface {
	Current() config.Settings
}

// Query 混合检索请求 / Query is one hybrid search request
type Query struct {
	Prompt string
	// Threshold drops chunk hits below it. Nil uses search_threshold.
	Threshold *float64
	TopK      int
	// Date restricts full-text hits to one YYYY-MM-DD.
	Date string
}

// Result 检索结果 / Result is one hybrid search hit
type Result struct {
	Kind          string   `json:"kind"`
	SessionID     string   `json:"session_id"`
	Title         string   `json:"title"`
	Similarity    *float64 `json:"similarity,omitempty"`
	ChunkID       string   `json:"chunk_id,omitempty"`
	Start         float64  `json:"start"`
	End           float64  `json:"end"`
	Speakers      []string `json:"speakers,omitempty"`
	Snippet       string   `json:"snippet"`
	MissingOnDisk bool     `json:"missing_on_disk,omitempty"`
}

type Service struct {
	index    *storage.SQLiteStore
	vectors  *vectorstore.Store
	text     *fts.Index
	embedder provider.Embedder
	settings SettingsSource
	logger   *slog.Logger
}

func New(index *storage.SQLiteStore, vectors *vectorstore.Store, text *fts.Index, embedder provider.Embedder, settings SettingsSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		index:    index,
		vectors:  vectors,
		text:     text,
		embedder: embedder,
		settings: settings,
		logger:   logger,
	}
}

// Search 混合检索：向量命中在前，全文命中补充未出现的会话
// Search runs the hybrid query. Chunk hits at or above the threshold come
// first, similarity descending; full-text hits follow for sessions not
// already present. A prompt the embedder cannot vectorize falls back to
// full-text only.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	prompt := strings.TrimSpace(q.Prompt)
	if prompt == "" {
		return nil, ErrEmptyQuery
	}
	cfg := s.settings.Current()
	threshold := cfg.SearchThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	topK := q.TopK
	if topK <= 0 {
		topK = cfg.SearchTopK
	}

	titles := map[string]storage.Session{}
	lookup := func(id string) storage.Session {
		if sess, ok := titles[id]; ok {
			return sess
		}
		sess, err := s.index.GetSession(id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("search session lookup failed", "session_id", id, "err", err)
		}
		titles[id] = sess
		return sess
	}

	var results []Result
	seen := map[string]struct{}{}

	vec, err := s.embedder.Embed(ctx, prompt, cfg.EmbedModelQuery)
	switch {
	case errors.Is(err, provider.ErrNoEmbedding):
		s.logger.Warn("query produced no embedding; full-text only", "model", cfg.EmbedModelQuery)
	case err != nil:
		return nil, fmt.Errorf("embed query: %w", err)
	default:
		matches, err := s.vectors.Search(ctx, vec, topK, "")
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if m.Similarity < threshold {
				continue
			}
			sess := lookup(m.SessionID)
			sim := m.Similarity
			results = append(results, Result{
				Kind:          KindChunk,
				SessionID:     m.SessionID,
				Title:         sess.Title,
				Similarity:    &sim,
				ChunkID:       m.ChunkID,
				Start:         m.Start,
				End:           m.End,
				Speakers:      m.Speakers,
				Snippet:       m.Text,
				MissingOnDisk: sess.MissingOnDisk,
			})
			seen[m.SessionID] = struct{}{}
		}
	}

	hits, err := s.text.Search(ctx, fts.PlainQuery(prompt), topK, q.Date)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if _, dup := seen[h.SessionID]; dup {
			continue
		}
		seen[h.SessionID] = struct{}{}
		sess := lookup(h.SessionID)
		results = append(results, Result{
			Kind:          KindFulltext,
			SessionID:     h.SessionID,
			Title:         sess.Title,
			Snippet:       h.Snippet,
			MissingOnDisk: sess.MissingOnDisk,
		})
	}
	return results, nil
}

// TextSearch 直接查询全文索引，query 使用 FTS5 语法
// TextSearch queries the full-text index directly; query uses FTS5 syntax
func (s *Service) TextSearch(ctx context.Context, query string, limit int, date string) ([]fts.Hit, error) {
	return s.text.Search(ctx, query, limit, date)
}

// FolderSuggestions 列出当前的文件夹建议
// FolderSuggestions lists the current Inbox folder suggestions
func (s *Service) FolderSuggestions() ([]storage.FolderSuggestion, error) {
	return s.index.ListFolderSuggestions()
}
