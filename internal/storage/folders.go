package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"archivist/internal/library"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const folderColumns = `id, name, dir_name, parent_id, kind, created_at, updated_at`

func scanFolder(row rowScanner) (Folder, error) {
	var f Folder
	var parent sql.NullInt64
	if err := row.Scan(&f.ID, &f.Name, &f.DirName, &parent, &f.Kind, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return Folder{}, err
	}
	if parent.Valid {
		v := parent.Int64
		f.ParentID = &v
	}
	return f, nil
}

// ListFolders 系统文件夹在前，其余按名称排序
// ListFolders returns system folders first, then the rest by name
func (s *SQLiteStore) ListFolders() ([]Folder, error) {
	rows, err := s.db.Query(`SELECT ` + folderColumns + ` FROM folders ORDER BY kind DESC, name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

func (s *SQLiteStore) GetFolder(id int64) (Folder, error) {
	f, err := scanFolder(s.db.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Folder{}, fmt.Errorf("load folder: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) FolderByDir(dirName string) (Folder, error) {
	f, err := scanFolder(s.db.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE dir_name=?`, dirName))
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, fmt.Errorf("folder %q: %w", dirName, ErrNotFound)
	}
	if err != nil {
		return Folder{}, fmt.Errorf("load folder: %w", err)
	}
	return f, nil
}

// CreateFolder 新建普通文件夹；目录名已存在时返回 ErrConflict
// CreateFolder inserts a normal folder; a taken dir name yields ErrConflict
func (s *SQLiteStore) CreateFolder(name, dirName string, parentID *int64) (Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = dirName
	}
	tx, err := s.db.Begin()
	if err != nil {
		return Folder{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM folders WHERE dir_name=?`, dirName).Scan(&exists); err != nil {
		return Folder{}, fmt.Errorf("check folder: %w", err)
	}
	if exists > 0 {
		return Folder{}, fmt.Errorf("folder dir %q: %w", dirName, ErrConflict)
	}

	now := s.nowUTC()
	res, err := tx.Exec(`
		INSERT INTO folders (name, dir_name, parent_id, kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		name, dirName, parentID, KindNormal, now, now)
	if err != nil {
		return Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Folder{}, fmt.Errorf("folder id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Folder{}, fmt.Errorf("commit folder: %w", err)
	}
	return Folder{ID: id, Name: name, DirName: dirName, ParentID: parentID, Kind: KindNormal, CreatedAt: now, UpdatedAt: now}, nil
}

// EnsureFolder returns the folder with dirName, creating a normal folder
// named after the directory when none exists. The bool reports creation.
func (s *SQLiteStore) EnsureFolder(dirName string) (Folder, bool, error) {
	f, err := s.FolderByDir(dirName)
	if err == nil {
		return f, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Folder{}, false, err
	}
	f, err = s.CreateFolder(dirName, dirName, nil)
	if errors.Is(err, ErrConflict) {
		// created concurrently
		f, err = s.FolderByDir(dirName)
		return f, false, err
	}
	return f, err == nil, err
}

// RenameFolder changes a normal folder's name and dir name. Sessions whose
// paths sit under the old directory are rewritten to the new one in the same
// transaction.
func (s *SQLiteStore) RenameFolder(id int64, name, dirName string) (Folder, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Folder{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	f, err := scanFolder(tx.QueryRow(`SELECT `+folderColumns+` FROM folders WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Folder{}, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Folder{}, fmt.Errorf("load folder: %w", err)
	}
	if f.IsSystem() {
		return Folder{}, fmt.Errorf("rename %s: %w", f.Name, ErrSystemFolder)
	}
	if dirName != f.DirName {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(1) FROM folders WHERE dir_name=? AND id<>?`, dirName, id).Scan(&exists); err != nil {
			return Folder{}, fmt.Errorf("check folder: %w", err)
		}
		if exists > 0 {
			return Folder{}, fmt.Errorf("folder dir %q: %w", dirName, ErrConflict)
		}
	}

	now := s.nowUTC()
	if _, err := tx.Exec(`UPDATE folders SET name=?, dir_name=?, updated_at=? WHERE id=?`, name, dirName, now, id); err != nil {
		return Folder{}, fmt.Errorf("update folder: %w", err)
	}
	if dirName != f.DirName {
		oldPrefix := library.FoldersDir + "/" + f.DirName + "/"
		newPrefix := library.FoldersDir + "/" + dirName + "/"
		if err := rewriteSessionPrefix(tx, oldPrefix, newPrefix, now); err != nil {
			return Folder{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Folder{}, fmt.Errorf("commit rename: %w", err)
	}
	f.Name, f.DirName, f.UpdatedAt = name, dirName, now
	return f, nil
}

func rewriteSessionPrefix(tx *sql.Tx, oldPrefix, newPrefix, now string) error {
	rows, err := tx.Query(`
		SELECT session_id, session_dir, audio_path, transcript_path, transcript_json_path, embedding_path, summary_path
		FROM sessions WHERE substr(session_dir, 1, ?) = ?`, len(oldPrefix), oldPrefix)
	if err != nil {
		return fmt.Errorf("query folder sessions: %w", err)
	}
	type pathRow struct {
		id    string
		paths [6]string
	}
	var batch []pathRow
	for rows.Next() {
		var r pathRow
		if err := rows.Scan(&r.id, &r.paths[0], &r.paths[1], &r.paths[2], &r.paths[3], &r.paths[4], &r.paths[5]); err != nil {
			rows.Close()
			return fmt.Errorf("scan folder session: %w", err)
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range batch {
		for i, p := range r.paths {
			if strings.HasPrefix(p, oldPrefix) {
				r.paths[i] = newPrefix + strings.TrimPrefix(p, oldPrefix)
			}
		}
		if _, err := tx.Exec(`
			UPDATE sessions SET session_dir=?, audio_path=?, transcript_path=?, transcript_json_path=?,
				embedding_path=?, summary_path=?, updated_at=?
			WHERE session_id=?`,
			r.paths[0], r.paths[1], r.paths[2], r.paths[3], r.paths[4], r.paths[5], now, r.id); err != nil {
			return fmt.Errorf("rewrite session %s: %w", r.id, err)
		}
	}
	return nil
}

// DeleteFolder 删除普通文件夹行；系统文件夹返回 ErrSystemFolder
// DeleteFolder removes a normal folder row; system folders yield ErrSystemFolder
func (s *SQLiteStore) DeleteFolder(id int64) error {
	f, err := s.GetFolder(id)
	if err != nil {
		return err
	}
	if f.IsSystem() {
		return fmt.Errorf("delete %s: %w", f.Name, ErrSystemFolder)
	}
	if _, err := s.db.Exec(`DELETE FROM folders WHERE id=? AND kind=?`, id, KindNormal); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}
