package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"archivist/internal/pipeline"
	"archivist/internal/storage"
)

const maxUploadMemory = 32 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: parse multipart form: %v", errBadRequest, err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: form field \"file\": %v", errBadRequest, err))
		return
	}
	defer file.Close()

	tags := strings.TrimSpace(r.FormValue("tags"))
	if tags == "" {
		tags = "upload"
	}
	meta, err := s.runner.Upload(r.Context(), header.Filename, file, tags)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.index.GetSession(meta.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleGetSession returns the indexed row. A session that is no longer on
// disk is still returned, flagged missing_on_disk.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, sess, err := s.engine.Locate(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		sess, err = s.index.GetSession(id)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	view, err := s.runner.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	path, err := s.runner.AudioPath(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}

// runJob runs fn on the worker pool and waits for it under the request.
func (s *Server) runJob(r *http.Request, name string, fn func(ctx context.Context) error) error {
	return s.pool.Do(r.Context(), name+":"+r.PathValue("id"), fn)
}

type transcribeBody struct {
	Language string `json:"language"`
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var body transcribeBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	var res pipeline.TranscribeResult
	err := s.runJob(r, "transcribe", func(ctx context.Context) error {
		var err error
		res, err = s.runner.Transcribe(ctx, id, body.Language)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var res pipeline.EmbedResult
	err := s.runJob(r, "embed", func(ctx context.Context) error {
		var err error
		res, err = s.runner.Embed(ctx, id)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type summarizeBody struct {
	Force bool `json:"force"`
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var body summarizeBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.runner.Summarize(r.Context(), r.PathValue("id"), body.Force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSuggestTitle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	titles, err := s.runner.SuggestTitles(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "titles": titles})
}

type renameBody struct {
	Title string `json:"title"`
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var body renameBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	title, err := s.runner.Rename(r.Context(), id, body.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "title": title})
}

type speakersBody struct {
	Updates map[string]string `json:"updates"`
}

func (s *Server) handleSpeakers(w http.ResponseWriter, r *http.Request) {
	var body speakersBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.runner.RelabelSpeakers(r.Context(), r.PathValue("id"), body.Updates)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type moveBody struct {
	FolderID *int64 `json:"folder_id"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var body moveBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.FolderID == nil {
		s.writeError(w, r, fmt.Errorf("%w: folder_id is required", errBadRequest))
		return
	}
	sess, err := s.runner.Move(r.Context(), r.PathValue("id"), *body.FolderID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type calendarBody struct {
	Event             pipeline.CalendarEvent `json:"event"`
	ApplyParticipants *bool                  `json:"apply_participants"`
}

func (s *Server) handleCalendarLink(w http.ResponseWriter, r *http.Request) {
	var body calendarBody
	if err := decodeJSON(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	apply := body.ApplyParticipants == nil || *body.ApplyParticipants
	meta, err := s.runner.LinkCalendar(r.Context(), r.PathValue("id"), body.Event, apply)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
