// Package pipeline runs the per-session operations: upload, transcription
// with diarization, embedding, summaries, title suggestions and the metadata
// edits. Every metadata mutation holds the session's lock; metadata is written
// only after its assets, and the index is refreshed only after metadata.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"archivist/internal/chunker"
	"archivist/internal/config"
	"archivist/internal/diarize"
	"archivist/internal/fts"
	"archivist/internal/library"
	"archivist/internal/prompt"
	"archivist/internal/provider"
	"archivist/internal/reconcile"
	"archivist/internal/storage"
	"archivist/internal/transcript"
	"archivist/internal/vectorstore"
)

const (
	transcriptJSONName = "transcript.json"
	transcriptTxtName  = "transcript.txt"
	embeddingName      = "embedding.json"
	summaryName        = "summary.txt"
	defaultAudioExt    = ".webm"
)

// SettingsSource 提供当前配置 / SettingsSource yields the settings in effect
type SettingsSource interface {
	Current() config.Settings
}

// Deps 运行器依赖 / Deps are the collaborators of a Runner
type Deps struct {
	Library     *library.Store
	Index       *storage.SQLiteStore
	Engine      *reconcile.Engine
	Vectors     *vectorstore.Store
	Text        *fts.Index
	Embedder    provider.Embedder
	Generator   provider.Generator
	Transcriber provider.Transcriber
	// Voice may be nil; every segment is then labelled Unknown.
	Voice     diarize.VoiceEmbedder
	Tokenizer *prompt.Tokenizer
	Settings  SettingsSource
	Locks     *library.Locks
	Logger    *slog.Logger
}

// Runner 会话级操作 / Runner executes per-session operations
type Runner struct {
	lib         *library.Store
	index       *storage.SQLiteStore
	engine      *reconcile.Engine
	vectors     *vectorstore.Store
	text        *fts.Index
	embedder    provider.Embedder
	generator   provider.Generator
	transcriber provider.Transcriber
	voice       diarize.VoiceEmbedder
	tok         *prompt.Tokenizer
	settings    SettingsSource
	locks       *library.Locks
	logger      *slog.Logger
}

func New(d Deps) *Runner {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Locks == nil {
		d.Locks = library.NewLocks()
	}
	if d.Tokenizer == nil {
		d.Tokenizer = prompt.NewHeuristicTokenizer()
	}
	return &Runner{
		lib:         d.Library,
		index:       d.Index,
		engine:      d.Engine,
		vectors:     d.Vectors,
		text:        d.Text,
		embedder:    d.Embedder,
		generator:   d.Generator,
		transcriber: d.Transcriber,
		voice:       d.Voice,
		tok:         d.Tokenizer,
		settings:    d.Settings,
		locks:       d.Locks,
		logger:      d.Logger,
	}
}

// --- Session access ---

// withSession locates the session while holding its lock and runs fn with
// its directory and metadata.
func (r *Runner) withSession(ctx context.Context, id string, stage Stage, fn func(dir string, meta library.Meta) error) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	dir, _, err := r.engine.Locate(ctx, id)
	if err != nil {
		return fail(id, stage, err)
	}
	meta, err := r.lib.ReadMeta(dir)
	if err != nil {
		return fail(id, StageLoad, err)
	}
	return fail(id, stage, fn(dir, meta))
}

// commit writes meta and refreshes the index row derived from it.
func (r *Runner) commit(dir string, meta library.Meta) error {
	if err := r.lib.WriteMeta(dir, meta); err != nil {
		return err
	}
	if _, err := r.engine.IndexSession(dir); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

// sessionText is what a session's transcript says, with the structured
// transcript preferred over the plain-text asset.
type sessionText struct {
	structured *transcript.Transcript
	flat       string
}

func (r *Runner) loadText(dir string, meta library.Meta) (sessionText, error) {
	if p := library.ExistingAsset(dir, meta.Assets.TranscriptJSON); p != "" {
		t, err := transcript.Load(p)
		if err == nil {
			return sessionText{structured: &t, flat: t.Flatten()}, nil
		}
		r.logger.Warn("structured transcript unreadable; using text", "path", p, "err", err)
	}
	if p := library.ExistingAsset(dir, meta.Assets.TranscriptTxt); p != "" {
		txt, err := transcript.ReadText(p)
		if err != nil {
			return sessionText{}, err
		}
		if strings.TrimSpace(txt) != "" {
			return sessionText{flat: txt}, nil
		}
	}
	return sessionText{}, ErrNoTranscript
}

func (r *Runner) indexText(ctx context.Context, meta library.Meta, st sessionText) error {
	doc := fts.Doc{
		SessionID: meta.SessionID,
		Content:   st.flat,
		Date:      datePart(meta.CreatedAt),
		Tags:      meta.Tags,
	}
	if st.structured != nil {
		doc.Speakers = strings.Join(st.structured.Speakers(), " ")
	}
	if err := r.text.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("fulltext upsert: %w", err)
	}
	return nil
}

func datePart(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

func (r *Runner) chunker(cfg config.Settings) *chunker.Chunker {
	return chunker.New(chunker.Options{
		MaxWords:       cfg.Chunk.MaxWords,
		MinWords:       cfg.Chunk.MinWords,
		OverlapSeconds: cfg.Chunk.OverlapSeconds,
	})
}

func (r *Runner) prompts(cfg config.Settings) *prompt.Builder {
	return prompt.NewBuilder(r.tok, cfg.SummaryMaxChars, cfg.PromptTokenLimit)
}

func (r *Runner) rel(path string) string {
	if path == "" {
		return ""
	}
	rel, err := r.lib.Rel(path)
	if err != nil {
		return path
	}
	return rel
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
