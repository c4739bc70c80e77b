package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"archivist/internal/library"
)

const sessionColumns = `session_id, timestamp, title, tags, folder_id, session_dir,
	audio_path, transcript_path, transcript_json_path, embedding_path, summary_path,
	diarized, embedded, participants_json, calendar_uid, calendar_title, calendar_start, calendar_end,
	missing_on_disk, suggested_titles_json, suggested_title,
	suggested_folder_id, suggested_folder_score, suggested_folder_rationale, updated_at`

func scanSession(row rowScanner) (Session, error) {
	var (
		sess                      Session
		folderID, suggestedFolder sql.NullInt64
		suggestedScore            sql.NullFloat64
		diarized, embedded, miss  int
		participantsJSON          string
		titlesJSON                string
		cal                       CalendarLink
	)
	err := row.Scan(&sess.SessionID, &sess.Timestamp, &sess.Title, &sess.Tags, &folderID, &sess.SessionDir,
		&sess.AudioPath, &sess.TranscriptPath, &sess.TranscriptJSONPath, &sess.EmbeddingPath, &sess.SummaryPath,
		&diarized, &embedded, &participantsJSON, &cal.UID, &cal.Title, &cal.Start, &cal.End,
		&miss, &titlesJSON, &sess.SuggestedTitle,
		&suggestedFolder, &suggestedScore, &sess.SuggestedFolderRationale, &sess.UpdatedAt)
	if err != nil {
		return Session{}, err
	}
	sess.FolderID = folderID.Int64
	sess.Diarized = diarized != 0
	sess.Embedded = embedded != 0
	sess.MissingOnDisk = miss != 0
	if cal != (CalendarLink{}) {
		sess.Calendar = &cal
	}
	if err := json.Unmarshal([]byte(participantsJSON), &sess.Participants); err != nil || sess.Participants == nil {
		sess.Participants = []library.Participant{}
	}
	if err := json.Unmarshal([]byte(titlesJSON), &sess.SuggestedTitles); err != nil || sess.SuggestedTitles == nil {
		sess.SuggestedTitles = []string{}
	}
	if suggestedFolder.Valid {
		v := suggestedFolder.Int64
		sess.SuggestedFolderID = &v
	}
	if suggestedScore.Valid {
		v := suggestedScore.Float64
		sess.SuggestedFolderScore = &v
	}
	return sess, nil
}

func participantsJSON(ps []library.Participant) string {
	if len(ps) == 0 {
		return "[]"
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func calendarColumns(c *CalendarLink) CalendarLink {
	if c == nil {
		return CalendarLink{}
	}
	return *c
}

// sameRecord compares the disk-derived columns of an existing row.
func sameRecord(a, b SessionRecord) bool {
	return a.SessionID == b.SessionID &&
		a.Timestamp == b.Timestamp &&
		a.Title == b.Title &&
		a.Tags == b.Tags &&
		a.FolderID == b.FolderID &&
		a.SessionDir == b.SessionDir &&
		a.AudioPath == b.AudioPath &&
		a.TranscriptPath == b.TranscriptPath &&
		a.TranscriptJSONPath == b.TranscriptJSONPath &&
		a.EmbeddingPath == b.EmbeddingPath &&
		a.SummaryPath == b.SummaryPath &&
		a.Diarized == b.Diarized &&
		a.Embedded == b.Embedded &&
		participantsJSON(a.Participants) == participantsJSON(b.Participants) &&
		calendarColumns(a.Calendar) == calendarColumns(b.Calendar)
}

// --- Session Operations ---

// UpsertSession inserts the row for rec.SessionID or updates it in place and
// clears missing_on_disk. A row that already matches is left untouched, so
// repeated upserts of the same record change nothing.
func (s *SQLiteStore) UpsertSession(rec SessionRecord) (UpsertResult, error) {
	rec.SessionID = strings.TrimSpace(rec.SessionID)
	if rec.SessionID == "" {
		return Unchanged, fmt.Errorf("session id is empty")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return Unchanged, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := scanSession(tx.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id=?`, rec.SessionID))
	found := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Unchanged, fmt.Errorf("load session: %w", err)
	}
	if found && !existing.MissingOnDisk && sameRecord(existing.SessionRecord, rec) {
		return Unchanged, nil
	}

	now := s.nowUTC()
	cal := calendarColumns(rec.Calendar)
	if found {
		_, err = tx.Exec(`
			UPDATE sessions SET timestamp=?, title=?, tags=?, folder_id=?, session_dir=?,
				audio_path=?, transcript_path=?, transcript_json_path=?, embedding_path=?, summary_path=?,
				diarized=?, embedded=?, participants_json=?,
				calendar_uid=?, calendar_title=?, calendar_start=?, calendar_end=?,
				missing_on_disk=0, updated_at=?
			WHERE session_id=?`,
			rec.Timestamp, rec.Title, rec.Tags, rec.FolderID, rec.SessionDir,
			rec.AudioPath, rec.TranscriptPath, rec.TranscriptJSONPath, rec.EmbeddingPath, rec.SummaryPath,
			boolToInt(rec.Diarized), boolToInt(rec.Embedded), participantsJSON(rec.Participants),
			cal.UID, cal.Title, cal.Start, cal.End, now, rec.SessionID)
		if err != nil {
			return Unchanged, fmt.Errorf("update session: %w", err)
		}
	} else {
		_, err = tx.Exec(`
			INSERT INTO sessions (session_id, timestamp, title, tags, folder_id, session_dir,
				audio_path, transcript_path, transcript_json_path, embedding_path, summary_path,
				diarized, embedded, participants_json,
				calendar_uid, calendar_title, calendar_start, calendar_end,
				missing_on_disk, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			rec.SessionID, rec.Timestamp, rec.Title, rec.Tags, rec.FolderID, rec.SessionDir,
			rec.AudioPath, rec.TranscriptPath, rec.TranscriptJSONPath, rec.EmbeddingPath, rec.SummaryPath,
			boolToInt(rec.Diarized), boolToInt(rec.Embedded), participantsJSON(rec.Participants),
			cal.UID, cal.Title, cal.Start, cal.End, now)
		if err != nil {
			return Unchanged, fmt.Errorf("insert session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Unchanged, fmt.Errorf("commit session: %w", err)
	}
	if found {
		return Updated, nil
	}
	return Created, nil
}

func (s *SQLiteStore) GetSession(id string) (Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}, fmt.Errorf("session id is empty")
	}
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first, optionally limited to one folder.
func (s *SQLiteStore) ListSessions(folderID *int64) ([]Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if folderID != nil {
		query += ` WHERE folder_id=?`
		args = append(args, *folderID)
	}
	query += ` ORDER BY timestamp DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MarkMissing flags every indexed session absent from seen as missing on
// disk. Rows already flagged are not rewritten. It returns the number of
// rows newly flagged.
func (s *SQLiteStore) MarkMissing(seen map[string]struct{}) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.Query(`SELECT session_id FROM sessions WHERE missing_on_disk=0`)
	if err != nil {
		return 0, fmt.Errorf("query present sessions: %w", err)
	}
	var missing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan session id: %w", err)
		}
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := s.nowUTC()
	for _, id := range missing {
		if _, err := tx.Exec(`UPDATE sessions SET missing_on_disk=1, updated_at=? WHERE session_id=?`, now, id); err != nil {
			return 0, fmt.Errorf("mark missing %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit missing: %w", err)
	}
	return len(missing), nil
}

// SetSuggestedFolder records (or with a nil folderID clears) the folder
// suggestion of a session. It reports whether the row changed.
func (s *SQLiteStore) SetSuggestedFolder(sessionID string, folderID *int64, score *float64, rationale string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE sessions SET suggested_folder_id=?, suggested_folder_score=?, suggested_folder_rationale=?, updated_at=?
		WHERE session_id=?
			AND NOT (suggested_folder_id IS ? AND suggested_folder_score IS ? AND suggested_folder_rationale=?)`,
		folderID, score, rationale, s.nowUTC(), sessionID, folderID, score, rationale)
	if err != nil {
		return false, fmt.Errorf("set suggested folder: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) SetSuggestedTitles(sessionID string, candidates []string, selected string) error {
	if candidates == nil {
		candidates = []string{}
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshal titles: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE sessions SET suggested_titles_json=?, suggested_title=?, updated_at=? WHERE session_id=?`,
		string(data), selected, s.nowUTC(), sessionID)
	if err != nil {
		return fmt.Errorf("set suggested titles: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// ListFolderSuggestions returns Inbox sessions that currently carry a folder
// suggestion, best score first.
func (s *SQLiteStore) ListFolderSuggestions() ([]FolderSuggestion, error) {
	rows, err := s.db.Query(`
		SELECT s.session_id, s.title, s.timestamp, f.id, f.name, s.suggested_folder_score, s.suggested_folder_rationale
		FROM sessions s
		JOIN folders inbox ON inbox.id = s.folder_id AND inbox.dir_name = ?
		JOIN folders f ON f.id = s.suggested_folder_id
		WHERE s.missing_on_disk = 0 AND s.suggested_folder_score IS NOT NULL
		ORDER BY s.suggested_folder_score DESC, s.timestamp DESC`, SystemInbox)
	if err != nil {
		return nil, fmt.Errorf("list folder suggestions: %w", err)
	}
	defer rows.Close()

	var out []FolderSuggestion
	for rows.Next() {
		var fs FolderSuggestion
		if err := rows.Scan(&fs.SessionID, &fs.Title, &fs.Timestamp, &fs.FolderID, &fs.FolderName, &fs.Score, &fs.Rationale); err != nil {
			return nil, fmt.Errorf("scan folder suggestion: %w", err)
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}
