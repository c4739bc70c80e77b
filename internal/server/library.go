package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"archivist/internal/config"
	"archivist/internal/pipeline"
	"archivist/internal/reconcile"
	"archivist/internal/retrieval"
	"archivist/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Settings ---

func redact(cfg config.Settings) config.Settings {
	if cfg.Provider.APIKey != "" {
		cfg.Provider.APIKey = config.RedactedSecret
	}
	return cfg
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, redact(s.settings.Current()))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	patch, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read body: %v", errBadRequest, err))
		return
	}
	next, err := s.settings.Apply(patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("settings updated", "path", next.SettingsPath())
	writeJSON(w, http.StatusOK, redact(next))
}

// --- Vocabulary ---

type vocabBody struct {
	Terms []string `json:"terms"`
}

func (s *Server) handleGetVocab(w http.ResponseWriter, r *http.Request) {
	terms, err := pipeline.LoadVocab(s.settings.Current().VocabPath())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vocabBody{Terms: terms})
}

func (s *Server) handleSaveVocab(w http.ResponseWriter, r *http.Request) {
	var body vocabBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	terms, err := pipeline.SaveVocab(s.settings.Current().VocabPath(), body.Terms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vocabBody{Terms: terms})
}

// --- Folders ---

type folderBody struct {
	Name string `json:"name"`
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.index.ListFolders()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var body folderBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	folder, err := s.runner.CreateFolder(r.Context(), body.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleRenameFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body folderBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	folder, err := s.runner.RenameFolder(r.Context(), id, body.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trashed, err := s.runner.DeleteFolder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"trashed_to": trashed})
}

// --- Library ---

type reconcileResponse struct {
	Reconcile         reconcile.Stats        `json:"reconcile"`
	FolderSuggestions reconcile.SuggestStats `json:"folder_suggestions"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Reconcile(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	suggest, err := s.engine.SuggestFolders(r.Context(), s.settings.Current().FolderSuggestionThreshold)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcileResponse{Reconcile: stats, FolderSuggestions: suggest})
}

func (s *Server) handleFolderSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.retrieval.FolderSuggestions()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// --- Search ---

type searchBody struct {
	Prompt    string   `json:"prompt"`
	Threshold *float64 `json:"threshold"`
	TopK      int      `json:"top_k"`
	Date      string   `json:"date"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	results, err := s.retrieval.Search(r.Context(), retrieval.Query{
		Prompt:    body.Prompt,
		Threshold: body.Threshold,
		TopK:      body.TopK,
		Date:      body.Date,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, r, fmt.Errorf("%w: q is required", errBadRequest))
		return
	}
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hits, err := s.retrieval.TextSearch(r.Context(), q, limit, r.URL.Query().Get("date"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

// --- Sessions ---

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.ReconcileIfStale(r.Context()); err != nil {
		s.logger.Warn("lazy reconcile failed", "err", err)
	}
	var folderID *int64
	if raw := r.URL.Query().Get("folder_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: folder_id=%q", errBadRequest, raw))
			return
		}
		folderID = &id
	}
	sessions, err := s.index.ListSessions(folderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []storage.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}
