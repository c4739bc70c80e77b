// Package reconcile derives the relational index from the on-disk library.
// It is the only component that writes index rows from meta.json files.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"archivist/internal/library"
	"archivist/internal/storage"
)

// DefaultMinInterval bounds lazy scans triggered by lookup misses.
const DefaultMinInterval = 2 * time.Second

var errNoSessionID = errors.New("meta.json has no session_id")

// Stats 一次对账的统计
// Stats summarizes one reconciliation scan
type Stats struct {
	SessionsSeen int `json:"sessions_seen"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Unchanged    int `json:"unchanged"`
	Missing      int `json:"missing"`
	Skipped      int `json:"skipped"`
}

type Options struct {
	// MinInterval is the minimum gap between lazy scans.
	MinInterval time.Duration
}

// Engine 对账引擎
// Engine keeps the index consistent with the library on disk
type Engine struct {
	lib    *library.Store
	index  *storage.SQLiteStore
	logger *slog.Logger

	scans singleflight.Group
	// sessions enumerates session directories; lib.IterateSessions by default.
	sessions func() iter.Seq[string]

	minInterval time.Duration
	now         func() time.Time
	mu          sync.Mutex
	lastScan    time.Time
}

func New(lib *library.Store, index *storage.SQLiteStore, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	return &Engine{
		lib:         lib,
		index:       index,
		logger:      logger,
		sessions:    lib.IterateSessions,
		minInterval: opts.MinInterval,
		now:         time.Now,
	}
}

// Reconcile scans every session directory, upserts its row and flags rows
// not seen as missing on disk. Unreadable metadata is skipped. Concurrent
// callers share one running scan.
func (e *Engine) Reconcile(ctx context.Context) (Stats, error) {
	// The shared scan outlives any single caller's cancellation.
	scanCtx := context.WithoutCancel(ctx)
	ch := e.scans.DoChan("scan", func() (any, error) {
		stats, err := e.scan(scanCtx)
		e.mu.Lock()
		e.lastScan = e.now()
		e.mu.Unlock()
		return stats, err
	})
	select {
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Stats{}, res.Err
		}
		return res.Val.(Stats), nil
	}
}

func (e *Engine) scan(ctx context.Context) (Stats, error) {
	var stats Stats
	seen := make(map[string]struct{})
	for dir := range e.sessions() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		meta, err := e.readMeta(dir)
		if err != nil {
			e.logger.Warn("skip session dir", "path", dir, "err", err)
			stats.Skipped++
			continue
		}
		if _, dup := seen[meta.SessionID]; dup {
			e.logger.Warn("skip duplicate session id", "path", dir, "session_id", meta.SessionID)
			stats.Skipped++
			continue
		}

		res, err := e.indexMeta(dir, meta)
		if err != nil {
			e.logger.Warn("skip session dir", "path", dir, "session_id", meta.SessionID, "err", err)
			stats.Skipped++
			continue
		}
		seen[meta.SessionID] = struct{}{}
		switch res {
		case storage.Created:
			stats.Created++
		case storage.Updated:
			stats.Updated++
		default:
			stats.Unchanged++
		}
	}
	stats.SessionsSeen = len(seen)

	missing, err := e.index.MarkMissing(seen)
	if err != nil {
		return stats, err
	}
	stats.Missing = missing
	e.logger.Info("library reconciled",
		"seen", stats.SessionsSeen, "created", stats.Created, "updated", stats.Updated,
		"missing", stats.Missing, "skipped", stats.Skipped)
	return stats, nil
}

// IndexSession re-derives the row of the session stored in dir.
func (e *Engine) IndexSession(dir string) (storage.UpsertResult, error) {
	meta, err := e.readMeta(dir)
	if err != nil {
		return storage.Unchanged, err
	}
	return e.indexMeta(dir, meta)
}

// readMeta loads meta.json and trims the session id to the form the index
// stores it under. A blank id is an error.
func (e *Engine) readMeta(dir string) (library.Meta, error) {
	meta, err := e.lib.ReadMeta(dir)
	if err != nil {
		return library.Meta{}, err
	}
	meta.SessionID = strings.TrimSpace(meta.SessionID)
	if meta.SessionID == "" {
		return library.Meta{}, fmt.Errorf("%s: %w", dir, errNoSessionID)
	}
	return meta, nil
}

func (e *Engine) indexMeta(dir string, meta library.Meta) (storage.UpsertResult, error) {
	folder, err := e.folderFor(e.lib.Classify(dir))
	if err != nil {
		return storage.Unchanged, err
	}
	rel, err := e.lib.Rel(dir)
	if err != nil {
		return storage.Unchanged, err
	}

	title := meta.Title
	if title == "" {
		title = "Untitled"
	}
	rec := storage.SessionRecord{
		SessionID:          meta.SessionID,
		Timestamp:          meta.CreatedAt,
		Title:              title,
		Tags:               meta.Tags,
		FolderID:           folder.ID,
		SessionDir:         rel,
		AudioPath:          e.assetPath(dir, "audio", meta.Assets.Audio),
		TranscriptPath:     e.assetPath(dir, "transcript_txt", meta.Assets.TranscriptTxt),
		TranscriptJSONPath: e.assetPath(dir, "transcript_json", meta.Assets.TranscriptJSON),
		EmbeddingPath:      e.assetPath(dir, "embedding_json", meta.Assets.EmbeddingJSON),
		SummaryPath:        e.assetPath(dir, "summary_txt", meta.Assets.SummaryTxt),
		Participants:       meta.Participants,
	}
	rec.Diarized = rec.TranscriptPath != "" || rec.TranscriptJSONPath != ""
	rec.Embedded = rec.EmbeddingPath != ""
	if c := meta.Calendar; c != nil {
		rec.Calendar = &storage.CalendarLink{UID: c.UID, Title: c.Summary, Start: c.Start, End: c.End}
	}
	return e.index.UpsertSession(rec)
}

// assetPath resolves a declared asset to a library-relative path. A declared
// asset whose file is gone is treated as absent.
func (e *Engine) assetPath(dir, logical, name string) string {
	if name == "" {
		return ""
	}
	abs := library.ExistingAsset(dir, name)
	if abs == "" {
		e.logger.Warn("asset missing on disk", "path", dir, "asset", logical, "file", name)
		return ""
	}
	rel, err := e.lib.Rel(abs)
	if err != nil {
		e.logger.Warn("asset outside library", "path", abs, "err", err)
		return ""
	}
	return rel
}

func (e *Engine) folderFor(loc library.Location) (storage.Folder, error) {
	switch loc.Kind {
	case library.KindTrash:
		f, _, err := e.index.EnsureFolder(storage.SystemTrash)
		return f, err
	case library.KindFolder:
		f, _, err := e.index.EnsureFolder(loc.FolderDir)
		return f, err
	default:
		f, _, err := e.index.EnsureFolder(storage.SystemInbox)
		return f, err
	}
}

// ReconcileIfStale runs a scan unless one finished within the minimum
// interval. It reports whether a scan ran.
func (e *Engine) ReconcileIfStale(ctx context.Context) (bool, error) {
	e.mu.Lock()
	fresh := !e.lastScan.IsZero() && e.now().Sub(e.lastScan) < e.minInterval
	e.mu.Unlock()
	if fresh {
		return false, nil
	}
	if _, err := e.Reconcile(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Locate returns the directory and row of a session. When the indexed
// directory no longer holds the session, one rate-limited scan runs and the
// lookup is retried.
func (e *Engine) Locate(ctx context.Context, sessionID string) (string, storage.Session, error) {
	if dir, sess, ok := e.lookup(sessionID); ok {
		return dir, sess, nil
	}
	ran, err := e.ReconcileIfStale(ctx)
	if err != nil {
		return "", storage.Session{}, err
	}
	if ran {
		if dir, sess, ok := e.lookup(sessionID); ok {
			return dir, sess, nil
		}
	}
	return "", storage.Session{}, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
}

func (e *Engine) lookup(sessionID string) (string, storage.Session, bool) {
	sess, err := e.index.GetSession(sessionID)
	if err != nil || sess.MissingOnDisk || sess.SessionDir == "" {
		return "", storage.Session{}, false
	}
	dir := e.lib.Abs(sess.SessionDir)
	meta, err := e.readMeta(dir)
	if err != nil || meta.SessionID != sessionID {
		return "", storage.Session{}, false
	}
	return dir, sess, true
}
