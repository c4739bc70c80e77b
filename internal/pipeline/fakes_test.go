package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"archivist/internal/config"
	"archivist/internal/fts"
	"archivist/internal/library"
	"archivist/internal/provider"
	"archivist/internal/reconcile"
	"archivist/internal/storage"
	"archivist/internal/transcript"
	"archivist/internal/vectorstore"
)

type staticSettings struct{ s config.Settings }

func (s *staticSettings) Current() config.Settings { return s.s }

type fakeTranscriber struct {
	mu       sync.Mutex
	requests []provider.TranscribeRequest
	result   transcript.Transcript
	err      error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req provider.TranscribeRequest) (transcript.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return transcript.Transcript{}, f.err
	}
	out := f.result
	out.Segments = append([]transcript.Segment(nil), f.result.Segments...)
	return out, nil
}

func (f *fakeTranscriber) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, float32(len(text)%5) + 1}, nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fixture struct {
	runner   *Runner
	lib      *library.Store
	index    *storage.SQLiteStore
	engine   *reconcile.Engine
	vectors  *vectorstore.Store
	text     *fts.Index
	asr      *fakeTranscriber
	emb      *fakeEmbedder
	gen      *fakeGenerator
	settings *staticSettings
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	libRoot := filepath.Join(root, "library")
	lib, err := library.New(libRoot)
	if err != nil {
		t.Fatalf("library.New: %v", err)
	}
	if err := lib.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	db, err := storage.OpenDB(filepath.Join(root, "index.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	index, err := storage.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = index.Close() })
	vectors, err := vectorstore.New(db)
	if err != nil {
		t.Fatalf("vectorstore.New: %v", err)
	}
	text, err := fts.New(db)
	if err != nil {
		t.Fatalf("fts.New: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := reconcile.New(lib, index, logger, reconcile.Options{})

	cfg := config.Default()
	cfg.LibraryRoot = lib.Root()
	cfg.AutoSummarize = false
	cfg.AutoTitleSuggest = false
	settings := &staticSettings{s: cfg}

	asr := &fakeTranscriber{result: transcript.Transcript{
		Language: "en",
		Segments: []transcript.Segment{
			{Start: 0, End: 2, Text: "hello budget team"},
			{Start: 2, End: 5, Text: "we approved the roadmap"},
		},
	}}
	emb := &fakeEmbedder{}
	gen := &fakeGenerator{reply: "Topics: budget"}

	runner := New(Deps{
		Library:     lib,
		Index:       index,
		Engine:      engine,
		Vectors:     vectors,
		Text:        text,
		Embedder:    emb,
		Generator:   gen,
		Transcriber: asr,
		Settings:    settings,
		Logger:      logger,
	})
	return &fixture{
		runner: runner, lib: lib, index: index, engine: engine, vectors: vectors, text: text,
		asr: asr, emb: emb, gen: gen, settings: settings,
	}
}

func (f *fixture) upload(t *testing.T, name string) string {
	t.Helper()
	meta, err := f.runner.Upload(context.Background(), name, stringReader("RIFFfake"), "upload")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return meta.SessionID
}

func (f *fixture) dirOf(t *testing.T, id string) string {
	t.Helper()
	dir, _, err := f.engine.Locate(context.Background(), id)
	if err != nil {
		t.Fatalf("Locate(%s): %v", id, err)
	}
	return dir
}

func stageOf(t *testing.T, err error) Stage {
	t.Helper()
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("err=%v, want *StageError", err)
	}
	return se.Stage
}
