package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"archivist/internal/config"
	"archivist/internal/diarize"
	"archivist/internal/fts"
	"archivist/internal/library"
	"archivist/internal/mcpserver"
	"archivist/internal/pipeline"
	"archivist/internal/prompt"
	"archivist/internal/provider"
	"archivist/internal/reconcile"
	"archivist/internal/retrieval"
	"archivist/internal/server"
	"archivist/internal/storage"
	"archivist/internal/vectorstore"
)

const voiceEmbedTimeout = 30 * time.Second

// newTokenizer may fetch BPE files on first use; tests swap in the heuristic one.
var newTokenizer = prompt.NewTokenizerForModel

// app holds every long-lived collaborator of one process.
type app struct {
	settings *config.Live
	logger   *slog.Logger

	lib       *library.Store
	index     *storage.SQLiteStore
	vectors   *vectorstore.Store
	text      *fts.Index
	engine    *reconcile.Engine
	runner    *pipeline.Runner
	pool      *pipeline.Pool
	retrieval *retrieval.Service

	cache *provider.CachedEmbedder
}

func openApp(cfg config.Settings, logger *slog.Logger) (*app, error) {
	lib, err := library.New(cfg.LibraryRoot)
	if err != nil {
		return nil, err
	}
	if err := lib.EnsureDirs(); err != nil {
		return nil, err
	}

	db, err := storage.OpenDB(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	index, err := storage.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	a := &app{settings: config.NewLive(cfg), logger: logger, lib: lib, index: index}

	if a.text, err = fts.New(db); err != nil {
		a.Close()
		return nil, err
	}
	if a.vectors, err = vectorstore.New(db); err != nil {
		a.Close()
		return nil, err
	}

	llm := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	})
	var embedder provider.Embedder = llm
	if cfg.CacheEnabled() {
		a.cache, err = provider.OpenCachedEmbedder(cfg.EmbedCacheDir, llm, logger)
		if err != nil {
			logger.Warn("embedding cache unavailable", "dir", cfg.EmbedCacheDir, "err", err)
		} else {
			embedder = a.cache
		}
	}

	var voice diarize.VoiceEmbedder
	if cfg.Diarize.VoiceEmbedURL != "" {
		voice = diarize.NewHTTPVoiceEmbedder(cfg.Diarize.VoiceEmbedURL, voiceEmbedTimeout)
	}

	a.engine = reconcile.New(lib, index, logger, reconcile.Options{MinInterval: cfg.ReconcileMinInterval()})
	a.runner = pipeline.New(pipeline.Deps{
		Library:     lib,
		Index:       index,
		Engine:      a.engine,
		Vectors:     a.vectors,
		Text:        a.text,
		Embedder:    embedder,
		Generator:   llm,
		Transcriber: llm,
		Voice:       voice,
		Tokenizer:   newTokenizer(cfg.SummaryModel),
		Settings:    a.settings,
		Locks:       library.NewLocks(),
		Logger:      logger,
	})
	a.pool = pipeline.NewPool(cfg.Workers, logger)
	a.retrieval = retrieval.New(index, a.vectors, a.text, embedder, a.settings, logger)
	return a, nil
}

func (a *app) httpServer() *server.Server {
	return server.New(server.Deps{
		Runner:    a.runner,
		Engine:    a.engine,
		Retrieval: a.retrieval,
		Index:     a.index,
		Pool:      a.pool,
		Settings:  a.settings,
		Logger:    a.logger,
	})
}

func (a *app) mcpServer() *mcpserver.Server {
	return mcpserver.New(mcpserver.Deps{
		Retrieval: a.retrieval,
		Index:     a.index,
		Engine:    a.engine,
		Runner:    a.runner,
		Settings:  a.settings,
		Version:   version,
		Logger:    a.logger,
	})
}

func (a *app) Close() error {
	var errs []error
	if a.pool != nil {
		a.pool.Close()
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}
