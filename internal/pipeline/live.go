package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"

	"archivist/internal/library"
)

const (
	liveTitle     = "Live Recording"
	liveTags      = "live"
	liveAudioName = "audio.webm"
)

// LiveSession 正在录制的会话，音频帧追加到 audio.webm
// LiveSession is a recording in progress; audio frames append to audio.webm
type LiveSession struct {
	ID string

	r         *Runner
	audioPath string

	mu      sync.Mutex
	f       *os.File
	written int64
	closed  bool
}

// StartLive creates the Inbox session and its empty audio file.
func (r *Runner) StartLive(ctx context.Context) (*LiveSession, error) {
	meta, dir, err := r.lib.CreateSession(liveTitle, liveTags, library.KindInbox)
	if err != nil {
		return nil, fail("", StageUpload, err)
	}
	path, err := library.ResolveAsset(dir, liveAudioName)
	if err != nil {
		return nil, fail(meta.SessionID, StageUpload, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fail(meta.SessionID, StageUpload, fmt.Errorf("open live audio: %w", err))
	}
	meta.Assets.Audio = liveAudioName
	if err := r.locks.With(meta.SessionID, func() error { return r.commit(dir, meta) }); err != nil {
		_ = f.Close()
		return nil, fail(meta.SessionID, StageUpload, err)
	}
	r.logger.Info("live session started", "session_id", meta.SessionID)
	return &LiveSession{ID: meta.SessionID, r: r, audioPath: path, f: f}, nil
}

// Write appends one audio frame.
func (l *LiveSession) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, os.ErrClosed
	}
	n, err := l.f.Write(p)
	l.written += int64(n)
	return n, err
}

// Written returns the number of audio bytes received so far.
func (l *LiveSession) Written() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.written
}

// Partial transcribes the audio received so far. It returns "" before any
// audio arrived.
func (l *LiveSession) Partial(ctx context.Context) (string, error) {
	l.mu.Lock()
	if l.closed || l.written == 0 {
		l.mu.Unlock()
		return "", nil
	}
	err := l.f.Sync()
	l.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("sync live audio: %w", err)
	}
	return l.r.PartialTranscript(ctx, l.audioPath)
}

// Close stops accepting frames. It is safe to call more than once.
func (l *LiveSession) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// FinalizeLive closes the session and submits the full pipeline to pool
// with a context detached from the connection. A session that never
// received audio is left as it is.
func (r *Runner) FinalizeLive(pool *Pool, l *LiveSession) (*Job, error) {
	if err := l.Close(); err != nil {
		r.logger.Warn("close live audio", "session_id", l.ID, "err", err)
	}
	if l.Written() == 0 {
		r.logger.Info("live session ended without audio", "session_id", l.ID)
		return nil, nil
	}
	return pool.Submit(context.Background(), "live-finalize:"+l.ID, func(ctx context.Context) error {
		_, err := r.Transcribe(ctx, l.ID, "")
		if err != nil {
			r.logger.Error("live finalization failed", "session_id", l.ID, "err", err)
		}
		return err
	})
}
