// Package fts is the full-text index over each session's flattened
// transcript, backed by an SQLite FTS5 virtual table.
package fts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrQuery 查询语法不被 FTS5 接受 / ErrQuery is returned for a query FTS5 rejects
var ErrQuery = errors.New("fts: invalid query")

const DefaultLimit = 50

// Doc 一条索引文档 / Doc is one indexed session
type Doc struct {
	SessionID string
	Content   string
	Date      string
	Speakers  string
	Tags      string
}

// Hit 检索命中 / Hit is one search result
type Hit struct {
	SessionID string  `json:"session_id"`
	Snippet   string  `json:"snippet"`
	Rank      float64 `json:"rank"`
}

// Index 基于 FTS5 的全文索引
// Index is the FTS5-backed full-text index
type Index struct {
	db *sql.DB
}

func New(db *sql.DB) (*Index, error) {
	_, err := db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS transcript_fts USING fts5(
			session_id UNINDEXED,
			content,
			date,
			speakers,
			tags
		)`)
	if err != nil {
		return nil, fmt.Errorf("create fts table: %w", err)
	}
	return &Index{db: db}, nil
}

// Upsert replaces the entry for doc.SessionID. Empty content only removes
// the old entry.
func (x *Index) Upsert(ctx context.Context, doc Doc) error {
	if strings.TrimSpace(doc.SessionID) == "" {
		return fmt.Errorf("fts session id is empty")
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_fts WHERE session_id=?`, doc.SessionID); err != nil {
		return fmt.Errorf("delete fts doc: %w", err)
	}
	if strings.TrimSpace(doc.Content) != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transcript_fts (session_id, content, date, speakers, tags) VALUES (?, ?, ?, ?, ?)`,
			doc.SessionID, doc.Content, doc.Date, doc.Speakers, doc.Tags); err != nil {
			return fmt.Errorf("insert fts doc: %w", err)
		}
	}
	return tx.Commit()
}

func (x *Index) Delete(ctx context.Context, sessionID string) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM transcript_fts WHERE session_id=?`, sessionID); err != nil {
		return fmt.Errorf("delete fts doc: %w", err)
	}
	return nil
}

// Search runs query in FTS5 syntax against transcript content, best rank
// first. A non-empty date keeps only entries with that exact date.
func (x *Index) Search(ctx context.Context, query string, limit int, date string) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	sqlText := `
		SELECT session_id, snippet(transcript_fts, 1, '[', ']', '…', 10), rank
		FROM transcript_fts WHERE content MATCH ?`
	args := []any{query}
	if date = strings.TrimSpace(date); date != "" {
		sqlText += ` AND date = ?`
		args = append(args, date)
	}
	sqlText += ` ORDER BY rank LIMIT ?`
	args = append(args, limit)

	rows, err := x.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, wrapQueryErr(err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.SessionID, &h.Snippet, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan fts hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr(err)
	}
	return hits, nil
}

func wrapQueryErr(err error) error {
	if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
		return fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return fmt.Errorf("fts search: %w", err)
}

// PlainQuery turns free text into an FTS5 query that matches any of its
// words. Each word is quoted, so punctuation never reaches the parser.
func PlainQuery(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
