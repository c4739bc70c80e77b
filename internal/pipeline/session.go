package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"archivist/internal/library"
	"archivist/internal/storage"
	"archivist/internal/transcript"
)

// Upload 在 Inbox 中创建会话并写入音频
// Upload creates an Inbox session holding src as its audio asset
func (r *Runner) Upload(ctx context.Context, filename string, src io.Reader, tags string) (library.Meta, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "." || filename == string(filepath.Separator) {
		filename = ""
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = defaultAudioExt
	}

	meta, dir, err := r.lib.CreateSession(filename, tags, library.KindInbox)
	if err != nil {
		return library.Meta{}, fail("", StageUpload, err)
	}
	audioName := "audio" + ext
	if err := writeStream(dir, audioName, src); err != nil {
		_ = os.RemoveAll(dir)
		return library.Meta{}, fail(meta.SessionID, StageUpload, err)
	}
	meta.Assets.Audio = audioName
	if err := r.locks.With(meta.SessionID, func() error { return r.commit(dir, meta) }); err != nil {
		return library.Meta{}, fail(meta.SessionID, StageUpload, err)
	}
	r.logger.Info("session uploaded", "session_id", meta.SessionID, "file", filename)
	return meta, nil
}

func writeStream(dir, name string, src io.Reader) error {
	path, err := library.ResolveAsset(dir, name)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}

// Rename 修改会话标题 / Rename sets the session title
func (r *Runner) Rename(ctx context.Context, id, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fail(id, StageRename, fmt.Errorf("title is required: %w", ErrInvalidInput))
	}
	err := r.withSession(ctx, id, StageRename, func(dir string, meta library.Meta) error {
		meta.Title = title
		return r.commit(dir, meta)
	})
	return title, err
}

const (
	SpeakersUpdated   = "ok"
	SpeakersNoChanges = "no_changes"
)

// RelabelSpeakers renames speaker labels in transcript.json, regenerates
// transcript.txt and the full-text entry. It returns SpeakersNoChanges when
// no segment carried a label in updates.
func (r *Runner) RelabelSpeakers(ctx context.Context, id string, updates map[string]string) (string, error) {
	clean := make(map[string]string, len(updates))
	for from, to := range updates {
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if from != "" && to != "" && from != to {
			clean[from] = to
		}
	}
	status := SpeakersNoChanges
	err := r.withSession(ctx, id, StageSpeakers, func(dir string, meta library.Meta) error {
		jsonPath := library.ExistingAsset(dir, meta.Assets.TranscriptJSON)
		if jsonPath == "" {
			return ErrNoTranscript
		}
		if len(clean) == 0 {
			return nil
		}
		tr, err := transcript.Load(jsonPath)
		if err != nil {
			return err
		}
		if !tr.Relabel(clean) {
			return nil
		}
		if err := transcript.Save(jsonPath, tr); err != nil {
			return err
		}
		txtName := meta.Assets.TranscriptTxt
		if txtName == "" {
			txtName = transcriptTxtName
		}
		if _, err := library.WriteAsset(dir, txtName, []byte(tr.Flatten())); err != nil {
			return err
		}
		meta.Assets.TranscriptTxt = txtName
		if err := r.commit(dir, meta); err != nil {
			return err
		}
		if err := r.indexText(ctx, meta, sessionText{structured: &tr, flat: tr.Flatten()}); err != nil {
			return err
		}
		status = SpeakersUpdated
		return nil
	})
	return status, err
}

// Move 将会话移入目标文件夹（Inbox、Trash 或普通文件夹）
// Move reparents the session directory under the folder with folderID
func (r *Runner) Move(ctx context.Context, id string, folderID int64) (storage.Session, error) {
	folder, err := r.index.GetFolder(folderID)
	if err != nil {
		return storage.Session{}, fail(id, StageMove, err)
	}
	loc := library.Location{Kind: library.KindFolder, FolderDir: folder.DirName}
	switch folder.DirName {
	case storage.SystemInbox:
		loc = library.Location{Kind: library.KindInbox}
	case storage.SystemTrash:
		loc = library.Location{Kind: library.KindTrash}
	}

	err = r.withSession(ctx, id, StageMove, func(dir string, _ library.Meta) error {
		dest, err := r.lib.DestinationFor(loc)
		if err != nil {
			return err
		}
		moved, err := r.lib.Move(dir, dest)
		if err != nil {
			return err
		}
		if _, err := r.engine.IndexSession(moved); err != nil {
			return fmt.Errorf("index session: %w", err)
		}
		// Every move clears the folder suggestion.
		if _, err := r.index.SetSuggestedFolder(id, nil, nil, ""); err != nil {
			return err
		}
		r.logger.Info("session moved", "session_id", id, "folder", folder.DirName)
		return nil
	})
	if err != nil {
		return storage.Session{}, err
	}
	sess, err := r.index.GetSession(id)
	return sess, fail(id, StageMove, err)
}

// CalendarEvent 日历事件；summary 与 title 等价
// CalendarEvent is a calendar event to link; Title is accepted for Summary
type CalendarEvent struct {
	UID       string                `json:"uid"`
	Summary   string                `json:"summary"`
	Title     string                `json:"title"`
	Start     string                `json:"start"`
	End       string                `json:"end"`
	Location  string                `json:"location"`
	Attendees []library.Participant `json:"attendees"`
}

// LinkCalendar stores ev as the session's calendar event. With
// applyParticipants the attendees replace the participant list.
func (r *Runner) LinkCalendar(ctx context.Context, id string, ev CalendarEvent, applyParticipants bool) (library.Meta, error) {
	if strings.TrimSpace(ev.UID) == "" {
		return library.Meta{}, fail(id, StageCalendar, fmt.Errorf("event.uid is required: %w", ErrInvalidInput))
	}
	summary := ev.Summary
	if summary == "" {
		summary = ev.Title
	}
	attendees := make([]library.Participant, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		if strings.TrimSpace(a.Name) == "" && strings.TrimSpace(a.Email) == "" {
			continue
		}
		attendees = append(attendees, a)
	}

	var out library.Meta
	err := r.withSession(ctx, id, StageCalendar, func(dir string, meta library.Meta) error {
		meta.Calendar = &library.Calendar{
			UID:       ev.UID,
			Summary:   summary,
			Start:     ev.Start,
			End:       ev.End,
			Location:  ev.Location,
			Attendees: attendees,
		}
		if applyParticipants {
			meta.Participants = attendees
		}
		out = meta
		return r.commit(dir, meta)
	})
	return out, err
}

// TranscriptView 会话转写视图 / TranscriptView is a session's transcript with context
type TranscriptView struct {
	SessionID    string                 `json:"session_id"`
	Title        string                 `json:"title"`
	Text         string                 `json:"text"`
	Structured   *transcript.Transcript `json:"structured"`
	Participants []library.Participant  `json:"participants"`
	Calendar     *library.Calendar      `json:"calendar"`
	Assets       library.Assets         `json:"assets"`
}

func (r *Runner) Transcript(ctx context.Context, id string) (TranscriptView, error) {
	var view TranscriptView
	err := r.withSession(ctx, id, StageLoad, func(dir string, meta library.Meta) error {
		st, err := r.loadText(dir, meta)
		if err != nil {
			return err
		}
		text := st.flat
		if p := library.ExistingAsset(dir, meta.Assets.TranscriptTxt); p != "" {
			if txt, err := transcript.ReadText(p); err == nil && txt != "" {
				text = txt
			}
		}
		title := meta.Title
		if title == "" {
			title = "Untitled Session"
		}
		view = TranscriptView{
			SessionID:    id,
			Title:        title,
			Text:         text,
			Structured:   st.structured,
			Participants: meta.Participants,
			Calendar:     meta.Calendar,
			Assets:       meta.Assets,
		}
		return nil
	})
	return view, err
}

// AudioPath returns the absolute path of the session's audio asset.
func (r *Runner) AudioPath(ctx context.Context, id string) (string, error) {
	var path string
	err := r.withSession(ctx, id, StageLoad, func(dir string, meta library.Meta) error {
		path = library.ExistingAsset(dir, meta.Assets.Audio)
		if path == "" {
			return ErrNoAudio
		}
		return nil
	})
	return path, err
}

// Summary returns the stored summary text, or "" when there is none.
func (r *Runner) Summary(ctx context.Context, id string) (string, error) {
	var summary string
	err := r.withSession(ctx, id, StageLoad, func(dir string, meta library.Meta) error {
		p := library.ExistingAsset(dir, meta.Assets.SummaryTxt)
		if p == "" {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		summary = string(data)
		return nil
	})
	return summary, err
}
