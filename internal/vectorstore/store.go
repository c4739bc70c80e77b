// Package vectorstore keeps per-chunk embeddings in SQLite and answers exact
// nearest-neighbour queries by cosine similarity.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"archivist/internal/vecmath"
)

const DefaultTopK = 30

// Record 一个带向量的分块 / Record is one chunk with its embedding
type Record struct {
	ChunkID   string
	Start     float64
	End       float64
	Speakers  []string
	Text      string
	Embedding []float32
}

// Match 检索结果 / Match is one search result
type Match struct {
	SessionID  string   `json:"session_id"`
	ChunkID    string   `json:"chunk_id"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Speakers   []string `json:"speakers"`
	Text       string   `json:"text"`
	Similarity float64  `json:"similarity"`
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) (*Store, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		chunk_id   TEXT NOT NULL,
		start      REAL NOT NULL DEFAULT 0,
		end        REAL NOT NULL DEFAULT 0,
		speakers   TEXT NOT NULL DEFAULT '',
		text       TEXT NOT NULL DEFAULT '',
		embedding  BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create chunks table: %w", err)
	}
	return &Store{db: db}, nil
}

// ReplaceChunks deletes every stored chunk of sessionID and inserts records
// in one transaction. Records without an embedding are dropped. An empty
// set leaves the session with no chunks.
func (s *Store) ReplaceChunks(ctx context.Context, sessionID string, records []Record) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("chunk session id is empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE session_id=?`, sessionID); err != nil {
		return fmt.Errorf("delete old chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (session_id, chunk_id, start, end, speakers, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		speakers, err := encodeSpeakers(r.Speakers)
		if err != nil {
			return fmt.Errorf("encode chunk %d speakers: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx, sessionID, r.ChunkID, r.Start, r.End,
			speakers, r.Text, EncodeVector(r.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Search scores every stored chunk (or only those of sessionFilter) against
// query and returns the topK best, similarity descending. Equal scores keep
// insertion order.
func (s *Store) Search(ctx context.Context, query []float32, topK int, sessionFilter string) ([]Match, error) {
	if len(query) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	sqlText := `SELECT session_id, chunk_id, start, end, speakers, text, embedding FROM chunks`
	var args []any
	if sessionFilter != "" {
		sqlText += ` WHERE session_id=?`
		args = append(args, sessionFilter)
	}
	sqlText += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var speakers string
		var blob []byte
		if err := rows.Scan(&m.SessionID, &m.ChunkID, &m.Start, &m.End, &speakers, &m.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		m.Speakers = decodeSpeakers(speakers)
		m.Similarity = vecmath.Cosine(query, DecodeVector(blob))
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count 返回会话的分块数 / Count returns the number of stored chunks of a session
func (s *Store) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM chunks WHERE session_id=?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Speakers are stored as a JSON array so labels may contain commas.
func encodeSpeakers(speakers []string) (string, error) {
	if speakers == nil {
		speakers = []string{}
	}
	b, err := json.Marshal(speakers)
	return string(b), err
}

// decodeSpeakers also reads the older comma-joined form.
func decodeSpeakers(s string) []string {
	if s == "" {
		return []string{}
	}
	if strings.HasPrefix(s, "[") {
		var out []string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			if out == nil {
				out = []string{}
			}
			return out
		}
	}
	return strings.Split(s, ",")
}

// EncodeVector packs v as little-endian float32 values.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector. Trailing bytes that do not
// form a whole float are ignored.
func DecodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
