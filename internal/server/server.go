// Package server exposes the library over HTTP and streams live recordings
// over a websocket.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"archivist/internal/config"
	"archivist/internal/pipeline"
	"archivist/internal/reconcile"
	"archivist/internal/retrieval"
	"archivist/internal/storage"
)

// SettingsStore 可读取与在线更新的配置
// SettingsStore yields the current settings and applies partial updates
type SettingsStore interface {
	Current() config.Settings
	Apply(patch []byte) (config.Settings, error)
}

// Deps 服务依赖 / Deps are the collaborators of a Server
type Deps struct {
	Runner    *pipeline.Runner
	Engine    *reconcile.Engine
	Retrieval *retrieval.Service
	Index     *storage.SQLiteStore
	Pool      *pipeline.Pool
	Settings  SettingsStore
	Logger    *slog.Logger
}

// Server HTTP 服务 / Server is the HTTP surface of the library
type Server struct {
	runner    *pipeline.Runner
	engine    *reconcile.Engine
	retrieval *retrieval.Service
	index     *storage.SQLiteStore
	pool      *pipeline.Pool
	settings  SettingsStore
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Server{
		runner:    d.Runner,
		engine:    d.Engine,
		retrieval: d.Retrieval,
		index:     d.Index,
		pool:      d.Pool,
		settings:  d.Settings,
		logger:    d.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  32 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler 返回注册全部路由的处理器
// Handler returns the router with every route registered
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /settings", s.handleGetSettings)
	mux.HandleFunc("POST /settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /vocab", s.handleGetVocab)
	mux.HandleFunc("POST /vocab", s.handleSaveVocab)

	mux.HandleFunc("GET /folders", s.handleListFolders)
	mux.HandleFunc("POST /folders", s.handleCreateFolder)
	mux.HandleFunc("POST /folders/{id}/rename", s.handleRenameFolder)
	mux.HandleFunc("DELETE /folders/{id}", s.handleDeleteFolder)

	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/transcript", s.handleTranscript)
	mux.HandleFunc("GET /sessions/{id}/audio", s.handleAudio)
	mux.HandleFunc("POST /sessions/{id}/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /sessions/{id}/embed", s.handleEmbed)
	mux.HandleFunc("POST /sessions/{id}/summarize", s.handleSummarize)
	mux.HandleFunc("POST /sessions/{id}/suggest_title", s.handleSuggestTitle)
	mux.HandleFunc("POST /sessions/{id}/rename", s.handleRename)
	mux.HandleFunc("POST /sessions/{id}/speakers", s.handleSpeakers)
	mux.HandleFunc("POST /sessions/{id}/move", s.handleMove)
	mux.HandleFunc("POST /sessions/{id}/calendar_link", s.handleCalendarLink)

	mux.HandleFunc("POST /library/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /folder_suggestions", s.handleFolderSuggestions)
	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("GET /search/text", s.handleTextSearch)

	mux.HandleFunc("GET /ws/live", s.handleLive)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}

// Run 监听 addr，ctx 结束时优雅关闭
// Run serves on addr until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}
