// Package storage holds the relational index: folders and sessions derived
// from the on-disk library. Every row can be rebuilt from meta.json files.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrConflict     = errors.New("storage: conflict")
	ErrSystemFolder = errors.New("storage: system folder cannot be modified")
)

// OpenDB 打开 SQLite (WAL 模式)，索引、全文与向量表共用同一个库文件
// OpenDB opens a SQLite database in WAL mode; the index, full-text and vector tables share it
func OpenDB(dbPath string) (*sql.DB, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return db, nil
}

// SQLiteStore 关系索引
// SQLiteStore is the relational index over folders and sessions
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore 在已打开的库上建表并写入系统文件夹
// NewSQLiteStore creates the schema on db and seeds the system folders
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := store.ensureSystemFolders(); err != nil {
		return nil, fmt.Errorf("seed system folders: %w", err)
	}
	return store, nil
}

// DB 返回底层连接 / DB returns the underlying handle
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS folders (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		dir_name   TEXT NOT NULL,
		parent_id  INTEGER,
		kind       TEXT NOT NULL DEFAULT 'normal',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id                         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id                 TEXT NOT NULL,
		timestamp                  TEXT NOT NULL DEFAULT '',
		title                      TEXT NOT NULL DEFAULT '',
		tags                       TEXT NOT NULL DEFAULT '',
		audio_path                 TEXT NOT NULL DEFAULT '',
		transcript_path            TEXT NOT NULL DEFAULT '',
		transcript_json_path       TEXT NOT NULL DEFAULT '',
		embedding_path             TEXT NOT NULL DEFAULT '',
		summary_path               TEXT NOT NULL DEFAULT '',
		diarized                   INTEGER NOT NULL DEFAULT 0,
		embedded                   INTEGER NOT NULL DEFAULT 0,
		session_dir                TEXT NOT NULL DEFAULT '',
		folder_id                  INTEGER,
		participants_json          TEXT NOT NULL DEFAULT '[]',
		calendar_uid               TEXT NOT NULL DEFAULT '',
		calendar_title             TEXT NOT NULL DEFAULT '',
		calendar_start             TEXT NOT NULL DEFAULT '',
		calendar_end               TEXT NOT NULL DEFAULT '',
		suggested_titles_json      TEXT NOT NULL DEFAULT '[]',
		suggested_title            TEXT NOT NULL DEFAULT '',
		suggested_folder_id        INTEGER,
		suggested_folder_score     REAL,
		suggested_folder_rationale TEXT NOT NULL DEFAULT '',
		missing_on_disk            INTEGER NOT NULL DEFAULT 0,
		updated_at                 TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_folders_dir_name ON folders(dir_name);
	CREATE INDEX IF NOT EXISTS idx_folders_parent ON folders(parent_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions(session_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_folder ON sessions(folder_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_timestamp ON sessions(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) ensureSystemFolders() error {
	now := s.nowUTC()
	for _, sys := range []struct{ key, name string }{
		{SystemInbox, "Inbox"},
		{SystemTrash, "Trash"},
	} {
		// Earlier indexes keyed system rows by their display name.
		if _, err := s.db.Exec(`UPDATE folders SET dir_name=? WHERE kind=? AND dir_name=?`,
			sys.key, KindSystem, sys.name); err != nil {
			return fmt.Errorf("migrate %s: %w", sys.name, err)
		}
		if _, err := s.db.Exec(`
			INSERT INTO folders (name, dir_name, parent_id, kind, created_at, updated_at)
			SELECT ?, ?, NULL, ?, ?, ?
			WHERE NOT EXISTS (SELECT 1 FROM folders WHERE dir_name=?)`,
			sys.name, sys.key, KindSystem, now, now, sys.key); err != nil {
			return fmt.Errorf("insert %s: %w", sys.name, err)
		}
	}
	return nil
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- Helpers ---

func (s *SQLiteStore) nowUTC() string {
	return s.now().UTC().Format(time.RFC3339)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
