// Package library owns the on-disk session library: three top-level roots
// (Inbox, Folders, Trash), one directory per session and the meta.json file
// inside it. It knows nothing about the index.
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"archivist/internal/fsutil"
)

const (
	InboxDir   = "Inbox"
	FoldersDir = "Folders"
	TrashDir   = "Trash"
)

var (
	ErrAlreadyExists  = errors.New("library: already exists")
	ErrNotFound       = errors.New("library: not found")
	ErrOutsideSession = errors.New("library: path outside session directory")
	ErrInvalidName    = errors.New("library: invalid directory name")
)

// Kind 会话目录所在的位置类型
// Kind is where a session directory lives
type Kind string

const (
	KindInbox   Kind = "inbox"
	KindFolder  Kind = "folder"
	KindTrash   Kind = "trash"
	KindUnknown Kind = "unknown"
)

// Location 目录分类结果；FolderDir 仅在 KindFolder 时有值
// Location is the result of Classify; FolderDir is set only for KindFolder
type Location struct {
	Kind      Kind
	FolderDir string
}

// Store 会话库的文件系统操作
// Store implements filesystem operations over the library root
type Store struct {
	root string
	now  func() time.Time
}

// New 解析库根目录（不要求存在）
// New resolves the library root; the directory does not have to exist yet
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("library root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("abs library root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Store{root: abs, now: time.Now}, nil
}

func (s *Store) Root() string        { return s.root }
func (s *Store) InboxRoot() string   { return filepath.Join(s.root, InboxDir) }
func (s *Store) FoldersRoot() string { return filepath.Join(s.root, FoldersDir) }
func (s *Store) TrashRoot() string   { return filepath.Join(s.root, TrashDir) }

func (s *Store) roots() []string {
	return []string{s.InboxRoot(), s.FoldersRoot(), s.TrashRoot()}
}

// EnsureDirs 创建三个顶层目录
// EnsureDirs creates the three top-level roots
func (s *Store) EnsureDirs() error {
	for _, dir := range s.roots() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// CreateSession allocates a fresh session ID, creates its directory under
// Inbox (or Trash for KindTrash) and writes the initial meta.json.
func (s *Store) CreateSession(title, tags string, kind Kind) (Meta, string, error) {
	if err := s.EnsureDirs(); err != nil {
		return Meta{}, "", err
	}
	id := NewSessionID()
	createdAt := s.now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05-07:00")

	base := s.InboxRoot()
	if kind == KindTrash {
		base = s.TrashRoot()
	}
	dir := filepath.Join(base, SessionDirName(id, createdAt, title))
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Meta{}, "", fmt.Errorf("create session dir %s: %w", dir, ErrAlreadyExists)
		}
		return Meta{}, "", fmt.Errorf("create session dir %s: %w", dir, err)
	}

	meta := NewMeta(id, createdAt, title, tags)
	if err := s.WriteMeta(dir, meta); err != nil {
		return Meta{}, "", err
	}
	return meta, dir, nil
}

// ReadMeta 读取会话目录的 meta.json
// ReadMeta loads meta.json from a session directory
func (s *Store) ReadMeta(dir string) (Meta, error) {
	var meta Meta
	if err := fsutil.ReadJSON(filepath.Join(dir, MetaFilename), &meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// WriteMeta 原子写入 meta.json（先写 .tmp 再 rename）
// WriteMeta atomically replaces meta.json (write .tmp, then rename)
func (s *Store) WriteMeta(dir string, meta Meta) error {
	if meta.SchemaVersion == 0 {
		meta.SchemaVersion = MetaSchemaVersion
	}
	if meta.Participants == nil {
		meta.Participants = []Participant{}
	}
	if meta.Suggestions.TitleCandidates == nil {
		meta.Suggestions.TitleCandidates = []string{}
	}
	return fsutil.WriteJSONAtomic(filepath.Join(dir, MetaFilename), meta)
}

// UpdateMeta reads meta.json, applies fn and writes the result back. Callers
// that may race on the same session hold its lock from Locks.
func (s *Store) UpdateMeta(dir string, fn func(*Meta) error) (Meta, error) {
	meta, err := s.ReadMeta(dir)
	if err != nil {
		return Meta{}, err
	}
	if err := fn(&meta); err != nil {
		return Meta{}, err
	}
	if err := s.WriteMeta(dir, meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// Classify reports whether dir lives under Inbox, Folders/<name> or Trash.
func (s *Store) Classify(dir string) Location {
	rel, err := s.relParts(dir)
	if err != nil || len(rel) == 0 {
		return Location{Kind: KindUnknown}
	}
	switch rel[0] {
	case InboxDir:
		return Location{Kind: KindInbox}
	case TrashDir:
		return Location{Kind: KindTrash}
	case FoldersDir:
		if len(rel) >= 2 {
			return Location{Kind: KindFolder, FolderDir: rel[1]}
		}
	}
	return Location{Kind: KindUnknown}
}

func (s *Store) relParts(dir string) ([]string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return nil, err
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return nil, ErrOutsideSession
	}
	return strings.Split(rel, string(os.PathSeparator)), nil
}

// Move renames the whole session directory into destBase. It never merges:
// an existing target yields ErrAlreadyExists.
func (s *Store) Move(dir, destBase string) (string, error) {
	if err := os.MkdirAll(destBase, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", destBase, err)
	}
	target := filepath.Join(destBase, filepath.Base(dir))
	if filepath.Clean(target) == filepath.Clean(dir) {
		return target, nil
	}
	if _, err := os.Lstat(target); err == nil {
		return "", fmt.Errorf("move to %s: %w", target, ErrAlreadyExists)
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("move %s: %w", dir, ErrNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", dir, err)
	}
	if err := os.Rename(dir, target); err != nil {
		return "", fmt.Errorf("move %s: %w", dir, err)
	}
	return target, nil
}

// IterateSessions yields every directory under the three roots that contains
// a meta.json, at any depth. Each call walks the tree afresh. Entries that
// vanish mid-walk are skipped.
func (s *Store) IterateSessions() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, base := range s.roots() {
			stopped := false
			_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					if d == nil || d.IsDir() {
						return fs.SkipDir
					}
					return nil
				}
				if d.IsDir() || d.Name() != MetaFilename {
					return nil
				}
				if !yield(filepath.Dir(path)) {
					stopped = true
					return fs.SkipAll
				}
				return nil
			})
			if stopped {
				return
			}
		}
	}
}

// Rel 返回相对库根目录的斜杠路径
// Rel returns path relative to the library root, slash separated
func (s *Store) Rel(path string) (string, error) {
	parts, err := s.relParts(path)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", path, err)
	}
	return strings.Join(parts, "/"), nil
}

// Abs 将库内相对路径还原为绝对路径
// Abs turns a library-relative path back into an absolute one
func (s *Store) Abs(rel string) string {
	if rel == "" {
		return ""
	}
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// --- Folder directories ---

func validDirName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// EnsureFolderDir 创建 Folders/<dirName>
// EnsureFolderDir creates Folders/<dirName> if needed and returns its path
func (s *Store) EnsureFolderDir(dirName string) (string, error) {
	if !validDirName(dirName) {
		return "", fmt.Errorf("folder dir %q: %w", dirName, ErrInvalidName)
	}
	path := filepath.Join(s.FoldersRoot(), dirName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create folder dir: %w", err)
	}
	return path, nil
}

// RenameFolderDir renames Folders/<oldName> to Folders/<newName>. A missing
// source directory is created under the new name.
func (s *Store) RenameFolderDir(oldName, newName string) (string, error) {
	if !validDirName(oldName) || !validDirName(newName) {
		return "", fmt.Errorf("rename folder %q -> %q: %w", oldName, newName, ErrInvalidName)
	}
	src := filepath.Join(s.FoldersRoot(), oldName)
	dst := filepath.Join(s.FoldersRoot(), newName)
	if oldName == newName {
		return dst, nil
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("rename folder to %s: %w", dst, ErrAlreadyExists)
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return s.EnsureFolderDir(newName)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("rename folder dir: %w", err)
	}
	return dst, nil
}

// TrashFolderDir moves Folders/<dirName> to Trash/Folders/<dirName>, adding a
// "__deleted_<unix>" suffix when that name is taken. A missing source is not
// an error and returns "".
func (s *Store) TrashFolderDir(dirName string) (string, error) {
	if !validDirName(dirName) {
		return "", fmt.Errorf("trash folder %q: %w", dirName, ErrInvalidName)
	}
	src := filepath.Join(s.FoldersRoot(), dirName)
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	destBase := filepath.Join(s.TrashRoot(), FoldersDir)
	if err := os.MkdirAll(destBase, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", destBase, err)
	}
	dst := filepath.Join(destBase, dirName)
	if _, err := os.Lstat(dst); err == nil {
		dst = filepath.Join(destBase, fmt.Sprintf("%s__deleted_%d", dirName, s.now().Unix()))
	}
	if err := os.Rename(src, dst); err != nil {
		return "", fmt.Errorf("trash folder dir: %w", err)
	}
	return dst, nil
}

// DestinationFor 返回某位置对应的目标根目录
// DestinationFor returns the directory that sessions for loc are moved into
func (s *Store) DestinationFor(loc Location) (string, error) {
	switch loc.Kind {
	case KindInbox:
		return s.InboxRoot(), nil
	case KindTrash:
		return s.TrashRoot(), nil
	case KindFolder:
		return s.EnsureFolderDir(loc.FolderDir)
	}
	return "", fmt.Errorf("destination for %q: %w", loc.Kind, ErrInvalidName)
}
