package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"archivist/internal/config"
	"archivist/internal/fts"
	"archivist/internal/library"
	"archivist/internal/pipeline"
	"archivist/internal/retrieval"
	"archivist/internal/storage"
)

const maxJSONBody = 1 << 20

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error     string `json:"error"`
	SessionID string `json:"session_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, library.ErrNotFound),
		errors.Is(err, pipeline.ErrNoAudio),
		errors.Is(err, pipeline.ErrNoTranscript):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict),
		errors.Is(err, library.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrSystemFolder):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest),
		errors.Is(err, pipeline.ErrInvalidInput),
		errors.Is(err, retrieval.ErrEmptyQuery),
		errors.Is(err, config.ErrInvalid),
		errors.Is(err, fts.ErrQuery),
		errors.Is(err, library.ErrInvalidName):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var se *pipeline.StageError
	if errors.As(err, &se) {
		body.SessionID = se.SessionID
		body.Stage = string(se.Stage)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: folder id %q", errBadRequest, r.PathValue("id"))
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", errBadRequest, key, raw)
	}
	return n, nil
}
