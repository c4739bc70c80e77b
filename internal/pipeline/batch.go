package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// AudioExtensions 导入时识别的音频扩展名
// AudioExtensions are the file extensions Import picks up
var AudioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".webm": true, ".ogg": true, ".flac": true,
}

// BatchStats 批处理统计 / BatchStats summarizes a batch run
type BatchStats struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

type batch struct {
	mu    sync.Mutex
	stats BatchStats
}

func (b *batch) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.stats.Failed++
		b.stats.Errors = append(b.stats.Errors, err.Error())
		return
	}
	b.stats.Succeeded++
}

func (b *batch) result() BatchStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	sort.Strings(b.stats.Errors)
	return b.stats
}

// Reindex reconciles, then re-embeds every session that is on disk and has
// a transcript. This rebuilds the vector and full-text stores from disk.
// Per-session failures are counted and do not stop the run.
func (r *Runner) Reindex(ctx context.Context, workers int) (BatchStats, error) {
	if _, err := r.engine.Reconcile(ctx); err != nil {
		return BatchStats{}, err
	}
	sessions, err := r.index.ListSessions(nil)
	if err != nil {
		return BatchStats{}, err
	}

	var b batch
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, s := range sessions {
		if s.MissingOnDisk || (s.TranscriptPath == "" && s.TranscriptJSONPath == "") {
			continue
		}
		b.stats.Total++
		id := s.SessionID
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := r.Embed(gctx, id)
			if isCancel(err) {
				return err
			}
			b.record(err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return b.result(), err
	}
	stats := b.result()
	r.logger.Info("reindex finished", "total", stats.Total, "failed", stats.Failed)
	return stats, nil
}

// FindAudio lists audio files under dir in lexical order.
func FindAudio(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if AudioExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Import creates one Inbox session tagged "import" per audio file under dir
// and, with transcribe, runs the transcription pipeline on each.
func (r *Runner) Import(ctx context.Context, dir string, transcribe bool, workers int) (BatchStats, error) {
	files, err := FindAudio(dir)
	if err != nil {
		return BatchStats{}, err
	}

	var b batch
	b.stats.Total = len(files)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			err := r.importFile(gctx, path, transcribe)
			if isCancel(err) {
				return err
			}
			if err != nil {
				err = fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			b.record(err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return b.result(), err
	}
	stats := b.result()
	r.logger.Info("import finished", "dir", dir, "total", stats.Total, "failed", stats.Failed)
	return stats, nil
}

func (r *Runner) importFile(ctx context.Context, path string, transcribe bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	meta, err := r.Upload(ctx, filepath.Base(path), f, "import")
	if err != nil {
		return err
	}
	if transcribe {
		_, err = r.Transcribe(ctx, meta.SessionID, "")
	}
	return err
}
