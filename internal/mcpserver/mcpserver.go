// Package mcpserver exposes library search and listings as Model Context
// Protocol tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"archivist/internal/pipeline"
	"archivist/internal/reconcile"
	"archivist/internal/retrieval"
	"archivist/internal/storage"
)

const (
	serverName = "archivist"

	defaultListLimit = 50
)

// Deps MCP 服务依赖 / Deps are the collaborators of the tool server
type Deps struct {
	Retrieval *retrieval.Service
	Index     *storage.SQLiteStore
	Engine    *reconcile.Engine
	Runner    *pipeline.Runner
	Settings  retrieval.SettingsSource
	Version   string
	Logger    *slog.Logger
}

// Server MCP 工具服务 / Server is the MCP tool server
type Server struct {
	retrieval *retrieval.Service
	index     *storage.SQLiteStore
	engine    *reconcile.Engine
	runner    *pipeline.Runner
	settings  retrieval.SettingsSource
	logger    *slog.Logger
	mcp       *server.MCPServer
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	s := &Server{
		retrieval: d.Retrieval,
		index:     d.Index,
		engine:    d.Engine,
		runner:    d.Runner,
		settings:  d.Settings,
		logger:    d.Logger,
		mcp:       server.NewMCPServer(serverName, d.Version, server.WithToolCapabilities(false)),
	}
	s.registerTools()
	return s
}

// ServeStdio 在标准输入输出上提供服务直到 EOF
// ServeStdio serves the tools on stdin/stdout until EOF
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("search_sessions",
		mcp.WithDescription("Hybrid search over recorded sessions: transcript chunks by meaning, then full-text matches."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text question or keywords")),
		mcp.WithNumber("threshold", mcp.Description("Minimum chunk similarity, 0..1")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of chunk hits")),
		mcp.WithString("date", mcp.Description("Restrict full-text hits to one YYYY-MM-DD")),
	), s.searchSessions)

	s.mcp.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List sessions, newest first, optionally within one folder."),
		mcp.WithString("folder", mcp.Description("Folder name or directory name; Inbox and Trash are accepted")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of sessions")),
	), s.listSessions)

	s.mcp.AddTool(mcp.NewTool("list_folders",
		mcp.WithDescription("List every folder including Inbox and Trash."),
	), s.listFolders)

	s.mcp.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get one session's metadata and summary, optionally with its transcript."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithBoolean("include_transcript", mcp.Description("Include the flattened transcript text")),
	), s.getSession)

	s.mcp.AddTool(mcp.NewTool("reconcile_library",
		mcp.WithDescription("Rescan the library on disk, refresh the index and recompute folder suggestions."),
	), s.reconcileLibrary)
}

// --- Tool handlers ---

func (s *Server) searchSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	q := retrieval.Query{
		Prompt: query,
		TopK:   req.GetInt("top_k", 0),
		Date:   req.GetString("date", ""),
	}
	if th := req.GetFloat("threshold", -1); th >= 0 {
		q.Threshold = &th
	}
	results, err := s.retrieval.Search(ctx, q)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"results": results})
}

func (s *Server) listSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := s.engine.ReconcileIfStale(ctx); err != nil {
		s.logger.Warn("lazy reconcile failed", "err", err)
	}
	var folderID *int64
	if name := strings.TrimSpace(req.GetString("folder", "")); name != "" {
		folder, err := s.findFolder(name)
		if err != nil {
			return toolError(err), nil
		}
		folderID = &folder.ID
	}
	sessions, err := s.index.ListSessions(folderID)
	if err != nil {
		return toolError(err), nil
	}
	limit := req.GetInt("limit", defaultListLimit)
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	out := make([]sessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, summarize(sess))
	}
	return jsonResult(map[string]any{"sessions": out})
}

func (s *Server) listFolders(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folders, err := s.index.ListFolders()
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"folders": folders})
}

func (s *Server) getSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	_, sess, err := s.engine.Locate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		sess, err = s.index.GetSession(id)
	}
	if err != nil {
		return toolError(err), nil
	}

	out := map[string]any{"session": sess}
	if !sess.MissingOnDisk {
		if summary, err := s.runner.Summary(ctx, id); err == nil && summary != "" {
			out["summary"] = summary
		}
		if req.GetBool("include_transcript", false) {
			view, err := s.runner.Transcript(ctx, id)
			switch {
			case err == nil:
				out["transcript"] = view.Text
			case !errors.Is(err, pipeline.ErrNoTranscript):
				return toolError(err), nil
			}
		}
	}
	return jsonResult(out)
}

func (s *Server) reconcileLibrary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.engine.Reconcile(ctx)
	if err != nil {
		return toolError(err), nil
	}
	suggest, err := s.engine.SuggestFolders(ctx, s.settings.Current().FolderSuggestionThreshold)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{"reconcile": stats, "folder_suggestions": suggest})
}

// --- Helpers ---

type sessionSummary struct {
	SessionID     string `json:"session_id"`
	Title         string `json:"title"`
	Timestamp     string `json:"timestamp"`
	FolderID      int64  `json:"folder_id"`
	Tags          string `json:"tags,omitempty"`
	Embedded      bool   `json:"embedded"`
	MissingOnDisk bool   `json:"missing_on_disk,omitempty"`
}

func summarize(s storage.Session) sessionSummary {
	return sessionSummary{
		SessionID:     s.SessionID,
		Title:         s.Title,
		Timestamp:     s.Timestamp,
		FolderID:      s.FolderID,
		Tags:          s.Tags,
		Embedded:      s.Embedded,
		MissingOnDisk: s.MissingOnDisk,
	}
}

func (s *Server) findFolder(name string) (storage.Folder, error) {
	folders, err := s.index.ListFolders()
	if err != nil {
		return storage.Folder{}, err
	}
	for _, f := range folders {
		if strings.EqualFold(f.Name, name) || strings.EqualFold(f.DirName, name) {
			return f, nil
		}
	}
	return storage.Folder{}, fmt.Errorf("folder %q: %w", name, storage.ErrNotFound)
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
