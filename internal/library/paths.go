package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"archivist/internal/fsutil"
)

// ResolveAsset joins an asset name from meta.json onto the session directory.
// Names that would escape the directory, directly or through a symlink, are
// rejected with ErrOutsideSession. An empty name resolves to "".
func ResolveAsset(sessionDir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	root, err := filepath.Abs(sessionDir)
	if err != nil {
		return "", fmt.Errorf("abs session dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	target := name
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	resolved, err := resolveWithParentSymlink(filepath.Clean(target))
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return "", fmt.Errorf("relative path check: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("asset %q: %w", name, ErrOutsideSession)
	}
	return resolved, nil
}

// ExistingAsset is ResolveAsset followed by an existence check; a missing or
// rejected asset yields "" and no error.
func ExistingAsset(sessionDir, name string) string {
	path, err := ResolveAsset(sessionDir, name)
	if err != nil || !fsutil.Exists(path) {
		return ""
	}
	return path
}

func resolveWithParentSymlink(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}
	parent, perr := filepath.EvalSymlinks(filepath.Dir(path))
	if perr != nil {
		if errors.Is(perr, fs.ErrNotExist) {
			return path, nil
		}
		return "", fmt.Errorf("resolve parent symlink: %w", perr)
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}

// WriteAsset atomically writes data as the named asset inside sessionDir and
// returns its absolute path.
func WriteAsset(sessionDir, name string, data []byte) (string, error) {
	path, err := ResolveAsset(sessionDir, name)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", fmt.Errorf("asset name is empty")
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
