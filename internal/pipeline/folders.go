package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"archivist/internal/library"
	"archivist/internal/storage"
)

func folderDirName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "folder"
	}
	return library.Slug(name, 64)
}

// CreateFolder 新建文件夹行与 Folders/<dir> 目录
// CreateFolder adds a normal folder row and its Folders/<dir> directory
func (r *Runner) CreateFolder(ctx context.Context, name string) (storage.Folder, error) {
	dirName := folderDirName(name)
	folder, err := r.index.CreateFolder(name, dirName, nil)
	if err != nil {
		return storage.Folder{}, err
	}
	if _, err := r.lib.EnsureFolderDir(dirName); err != nil {
		_ = r.index.DeleteFolder(folder.ID)
		return storage.Folder{}, err
	}
	r.logger.Info("folder created", "folder", dirName)
	return folder, nil
}

// RenameFolder renames a normal folder and its directory. Contained sessions
// keep their rows; their paths move with the directory.
func (r *Runner) RenameFolder(ctx context.Context, id int64, name string) (storage.Folder, error) {
	if strings.TrimSpace(name) == "" {
		return storage.Folder{}, fmt.Errorf("folder name is required: %w", ErrInvalidInput)
	}
	folder, err := r.index.GetFolder(id)
	if err != nil {
		return storage.Folder{}, err
	}
	if folder.IsSystem() {
		return storage.Folder{}, fmt.Errorf("rename %s: %w", folder.Name, storage.ErrSystemFolder)
	}
	newDir := folderDirName(name)
	if newDir != folder.DirName {
		if other, err := r.index.FolderByDir(newDir); err == nil && other.ID != id {
			return storage.Folder{}, fmt.Errorf("folder dir %q: %w", newDir, storage.ErrConflict)
		} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storage.Folder{}, err
		}
		if _, err := r.lib.RenameFolderDir(folder.DirName, newDir); err != nil {
			return storage.Folder{}, err
		}
	}
	renamed, err := r.index.RenameFolder(id, name, newDir)
	if err != nil {
		if newDir != folder.DirName {
			if _, rerr := r.lib.RenameFolderDir(newDir, folder.DirName); rerr != nil {
				r.logger.Error("folder rename rollback failed", "folder", newDir, "err", rerr)
			}
		}
		return storage.Folder{}, err
	}
	return renamed, nil
}

// DeleteFolder moves Folders/<dir> into Trash/Folders and drops the folder
// row. The following reconcile re-homes its sessions under Trash.
func (r *Runner) DeleteFolder(ctx context.Context, id int64) (string, error) {
	folder, err := r.index.GetFolder(id)
	if err != nil {
		return "", err
	}
	if folder.IsSystem() {
		return "", fmt.Errorf("delete %s: %w", folder.Name, storage.ErrSystemFolder)
	}
	trashed, err := r.lib.TrashFolderDir(folder.DirName)
	if err != nil {
		return "", err
	}
	if err := r.index.DeleteFolder(id); err != nil {
		return "", err
	}
	if _, err := r.engine.Reconcile(ctx); err != nil {
		r.logger.Warn("reconcile after folder delete failed", "folder", folder.DirName, "err", err)
	}
	return r.rel(trashed), nil
}
