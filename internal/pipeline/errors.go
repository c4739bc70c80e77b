package pipeline

import (
	"errors"
	"fmt"
)

// Stage 失败的处理阶段 / Stage names the per-session step that failed
type Stage string

const (
	StageLoad       Stage = "load"
	StageUpload     Stage = "upload"
	StageTranscribe Stage = "transcribe"
	StageDiarize    Stage = "diarize"
	StageEmbed      Stage = "embed"
	StageSummarize  Stage = "summarize"
	StageTitles     Stage = "titles"
	StageRename     Stage = "rename"
	StageSpeakers   Stage = "speakers"
	StageMove       Stage = "move"
	StageCalendar   Stage = "calendar"
)

var (
	ErrNoAudio      = errors.New("audio missing for session")
	ErrNoTranscript = errors.New("transcript not found")
	ErrInvalidInput = errors.New("invalid input")
)

// StageError 带会话 ID 和阶段的错误
// StageError is a per-session failure carrying the session ID and stage
type StageError struct {
	SessionID string
	Stage     Stage
	Err       error
}

func (e *StageError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// fail wraps err as a StageError unless it already is one.
func fail(sessionID string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{SessionID: sessionID, Stage: stage, Err: err}
}
