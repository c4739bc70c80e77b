package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"archivist/internal/library"
	"archivist/internal/provider"
	"archivist/internal/storage"
	"archivist/internal/transcript"
)

func stringReader(s string) *strings.Reader { return strings.NewReader(s) }

func TestUploadCreatesInboxSession(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "standup.MP3")

	sess, err := f.index.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.Title != "standup.MP3" || sess.Tags != "upload" {
		t.Fatalf("title/tags=%q/%q", sess.Title, sess.Tags)
	}
	if !strings.HasSuffix(sess.AudioPath, "audio.mp3") {
		t.Fatalf("AudioPath=%q, want audio.mp3", sess.AudioPath)
	}
	if !strings.HasPrefix(sess.SessionDir, library.InboxDir+"/") {
		t.Fatalf("SessionDir=%q, want under Inbox", sess.SessionDir)
	}

	meta, err := f.runner.Upload(context.Background(), "", stringReader("x"), "upload")
	if err != nil {
		t.Fatalf("Upload without name: %v", err)
	}
	if meta.Assets.Audio != "audio.webm" {
		t.Fatalf("Audio=%q, want audio.webm", meta.Assets.Audio)
	}
}

func TestTranscribeWritesAssetsAndAutoEmbeds(t *testing.T) {
	f := newFixture(t)
	if _, err := SaveVocab(f.settings.s.VocabPath(), []string{"Kubernetes", " gRPC ", "Kubernetes"}); err != nil {
		t.Fatalf("SaveVocab: %v", err)
	}
	id := f.upload(t, "meeting.wav")

	res, err := f.runner.Transcribe(context.Background(), id, "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Segments != 2 || res.Unknown != 2 || res.Speakers != 0 {
		t.Fatalf("result=%+v", res)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("Warnings=%v, want none", res.Warnings)
	}
	if res.EmbeddingPath == "" {
		t.Fatal("auto embed should report the embedding path")
	}

	req := f.asr.requests[0]
	if req.Prompt != "Kubernetes gRPC" || req.Language != "en" || req.Model != "whisper-1" {
		t.Fatalf("request=%+v", req)
	}

	dir := f.dirOf(t, id)
	txt, err := os.ReadFile(filepath.Join(dir, "transcript.txt"))
	if err != nil {
		t.Fatalf("read transcript.txt: %v", err)
	}
	want := "[Unknown] hello budget team\n[Unknown] we approved the roadmap"
	if string(txt) != want {
		t.Fatalf("transcript.txt=%q, want %q", txt, want)
	}
	tr, err := transcript.Load(filepath.Join(dir, "transcript.json"))
	if err != nil {
		t.Fatalf("transcript.Load: %v", err)
	}
	if len(tr.Segments) != 2 || tr.Segments[0].Speaker != transcript.UnknownSpeaker {
		t.Fatalf("segments=%+v", tr.Segments)
	}

	sess, _ := f.index.GetSession(id)
	if !sess.Diarized || !sess.Embedded {
		t.Fatalf("diarized/embedded=%v/%v, want true/true", sess.Diarized, sess.Embedded)
	}
	n, err := f.vectors.Count(context.Background(), id)
	if err != nil || n != 1 {
		t.Fatalf("chunks=%d err=%v, want 1", n, err)
	}
	hits, err := f.text.Search(context.Background(), "roadmap", 10, "")
	if err != nil || len(hits) != 1 || hits[0].SessionID != id {
		t.Fatalf("hits=%+v err=%v", hits, err)
	}
}

func TestTranscribeFailures(t *testing.T) {
	f := newFixture(t)
	_, dir, err := f.lib.CreateSession("no audio", "", library.KindInbox)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	meta, _ := f.lib.ReadMeta(dir)
	if _, err := f.engine.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	_, err = f.runner.Transcribe(context.Background(), meta.SessionID, "")
	if !errors.Is(err, ErrNoAudio) || stageOf(t, err) != StageTranscribe {
		t.Fatalf("err=%v, want transcribe ErrNoAudio", err)
	}

	id := f.upload(t, "a.wav")
	f.asr.err = errors.New("asr down")
	_, err = f.runner.Transcribe(context.Background(), id, "")
	if stageOf(t, err) != StageTranscribe {
		t.Fatalf("err=%v, want transcribe stage", err)
	}
	var se *StageError
	errors.As(err, &se)
	if se.SessionID != id {
		t.Fatalf("SessionID=%q, want %q", se.SessionID, id)
	}
	sess, _ := f.index.GetSession(id)
	if sess.TranscriptPath != "" || sess.Diarized {
		t.Fatalf("failed transcription must not index a transcript: %+v", sess.SessionRecord)
	}

	_, err = f.runner.Transcribe(context.Background(), "nope", "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestAutoStageFailureIsAWarning(t *testing.T) {
	f := newFixture(t)
	f.settings.s.AutoSummarize = true
	f.gen.err = errors.New("generator offline")
	id := f.upload(t, "a.wav")

	res, err := f.runner.Transcribe(context.Background(), id, "de")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if _, ok := res.Warnings[string(StageSummarize)]; !ok {
		t.Fatalf("Warnings=%v, want summarize", res.Warnings)
	}
	if f.asr.requests[0].Language != "de" {
		t.Fatalf("Language=%q, want de", f.asr.requests[0].Language)
	}
}

func TestEmbedWithoutVectorsLeavesStoresUntouched(t *testing.T) {
	f := newFixture(t)
	f.settings.s.AutoEmbed = false
	id := f.upload(t, "a.wav")
	if _, err := f.runner.Transcribe(context.Background(), id, ""); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	f.emb.err = provider.ErrNoEmbedding
	_, err := f.runner.Embed(context.Background(), id)
	if !errors.Is(err, provider.ErrNoEmbedding) || stageOf(t, err) != StageEmbed {
		t.Fatalf("err=%v, want embed ErrNoEmbedding", err)
	}
	if n, _ := f.vectors.Count(context.Background(), id); n != 0 {
		t.Fatalf("chunks=%d, want 0", n)
	}
	if _, err := os.Stat(filepath.Join(f.dirOf(t, id), "embedding.json")); !os.IsNotExist(err) {
		t.Fatalf("embedding.json should not exist, stat err=%v", err)
	}
	// The transcript stays full-text searchable.
	hits, _ := f.text.Search(context.Background(), "budget", 10, "")
	if len(hits) != 1 {
		t.Fatalf("hits=%d, want 1", len(hits))
	}

	f.emb.err = nil
	res, err := f.runner.Embed(context.Background(), id)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Embedded != 1 || res.Dimensions != 2 {
		t.Fatalf("result=%+v", res)
	}
	agg, err := library.ReadAggregate(filepath.Join(f.dirOf(t, id), "embedding.json"))
	if err != nil || len(agg) != 2 {
		t.Fatalf("aggregate=%v err=%v", agg, err)
	}
}

func TestEmbedPlaintextFallback(t *testing.T) {
	f := newFixture(t)
	_, dir, _ := f.lib.CreateSession("notes", "", library.KindInbox)
	if _, err := library.WriteAsset(dir, "notes.txt", []byte("plain words only here")); err != nil {
		t.Fatal(err)
	}
	meta, err := f.lib.UpdateMeta(dir, func(m *library.Meta) error {
		m.Assets.TranscriptTxt = "notes.txt"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Reconcile(context.Background()); err != nil {
		t.Fatal(err)
	}
	res, err := f.runner.Embed(context.Background(), meta.SessionID)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Chunks != 1 {
		t.Fatalf("Chunks=%d, want 1", res.Chunks)
	}

	_, bare, _ := f.lib.CreateSession("bare", "", library.KindInbox)
	bareMeta, _ := f.lib.ReadMeta(bare)
	_, _ = f.engine.Reconcile(context.Background())
	if _, err := f.runner.Embed(context.Background(), bareMeta.SessionID); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("err=%v, want ErrNoTranscript", err)
	}
}

func TestSummarizeCachesUnlessForced(t *testing.T) {
	f := newFixture(t)
	f.settings.s.AutoEmbed = false
	id := f.upload(t, "a.wav")
	if _, err := f.runner.Transcribe(context.Background(), id, ""); err != nil {
		t.Fatal(err)
	}

	first, err := f.runner.Summarize(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if first.Cached || first.Summary != "Topics: budget" {
		t.Fatalf("first=%+v", first)
	}
	if !strings.Contains(f.gen.prompts[0], "[Unknown] hello budget team") {
		t.Fatalf("prompt=%q", f.gen.prompts[0])
	}
	second, err := f.runner.Summarize(context.Background(), id, false)
	if err != nil || !second.Cached || f.gen.calls() != 1 {
		t.Fatalf("second=%+v err=%v calls=%d", second, err, f.gen.calls())
	}
	if _, err := f.runner.Summarize(context.Background(), id, true); err != nil || f.gen.calls() != 2 {
		t.Fatalf("forced err=%v calls=%d", err, f.gen.calls())
	}
	sess, _ := f.index.GetSession(id)
	if !strings.HasSuffix(sess.SummaryPath, "summary.txt") {
		t.Fatalf("SummaryPath=%q", sess.SummaryPath)
	}
}

func TestSuggestTitles(t *testing.T) {
	f := newFixture(t)
	f.settings.s.AutoEmbed = false
	id := f.upload(t, "a.wav")
	if _, err := f.runner.Transcribe(context.Background(), id, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := f.runner.LinkCalendar(context.Background(), id, CalendarEvent{
		UID: "evt-1", Title: "Roadmap review", Start: "2024-05-01T10:00:00Z",
		Attendees: []library.Participant{{Name: "Ada", Email: "ada@example.com"}},
	}, true); err != nil {
		t.Fatalf("LinkCalendar: %v", err)
	}

	f.gen.reply = "```json\n{\"titles\": [\"Roadmap Review\", \"roadmap review\", \"Budget Sync\"]}\n```"
	titles, err := f.runner.SuggestTitles(context.Background(), id)
	if err != nil {
		t.Fatalf("SuggestTitles: %v", err)
	}
	want := []string{"Roadmap Review", "Budget Sync"}
	if !reflect.DeepEqual(titles, want) {
		t.Fatalf("titles=%q, want %q", titles, want)
	}
	last := f.gen.prompts[len(f.gen.prompts)-1]
	if !strings.Contains(last, "Calendar event: Roadmap review") || !strings.Contains(last, "Participants: Ada") {
		t.Fatalf("prompt=%q", last)
	}
	meta, _ := f.lib.ReadMeta(f.dirOf(t, id))
	if !reflect.DeepEqual(meta.Suggestions.TitleCandidates, want) {
		t.Fatalf("TitleCandidates=%q", meta.Suggestions.TitleCandidates)
	}
	sess, _ := f.index.GetSession(id)
	if !reflect.DeepEqual(sess.SuggestedTitles, want) {
		t.Fatalf("SuggestedTitles=%q", sess.SuggestedTitles)
	}
}

func TestRenameAndCalendarValidation(t *testing.T) {
	f := newFixture(t)
	id := f.upload(t, "a.wav")

	if _, err := f.runner.Rename(context.Background(), id, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
	if _, err := f.runner.Rename(context.Background(), id, " Weekly sync "); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	sess, _ := f.index.GetSession(id)
	if sess.Title != "Weekly sync" {
		t.Fatalf("Title=%q", sess.Title)
	}

	if _, err := f.runner.LinkCalendar(context.Background(), id, CalendarEvent{Summary: "x"}, true); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
	meta, err := f.runner.LinkCalendar(context.Background(), id, CalendarEvent{
		UID: "u1", Summary: "Planning",
		Attendees: []library.Participant{{Name: "Bo"}, {}},
	}, false)
	if err != nil {
		t.Fatalf("LinkCalendar: %v", err)
	}
	if len(meta.Participants) != 0 {
		t.Fatalf("participants=%v, want untouched", meta.Participants)
	}
	sess, _ = f.index.GetSession(id)
	if sess.Calendar == nil || sess.Calendar.UID != "u1" || sess.Calendar.Title != "Planning" {
		t.Fatalf("Calendar=%+v", sess.Calendar)
	}
}

func TestRelabelSpeakers(t *testing.T) {
	f := newFixture(t)
	f.settings.s.AutoEmbed = false
	id := f.upload(t, "a.wav")
	if _, err := f.runner.Transcribe(context.Background(), id, ""); err != nil {
		t.Fatal(err)
	}

	status, err := f.runner.RelabelSpeakers(context.Background(), id, map[string]string{"Unknown": "Ada"})
	if err != nil || status != SpeakersUpdated {
		t.Fatalf("status=%q err=%v", status, err)
	}
	txt, _ := os.ReadFile(filepath.Join(f.dirOf(t, id), "transcript.txt"))
	if !strings.HasPrefix(string(txt), "[Ada] hello") {
		t.Fatalf("transcript.txt=%q", txt)
	}
	status, err = f.runner.RelabelSpeakers(context.Background(), id, map[string]string{"Unknown": "Ada"})
	if err != nil || status != SpeakersNoChanges {
		t.Fatalf("status=%q err=%v, want no_changes", status, err)
	}
	status, _ = f.runner.RelabelSpeakers(context.Background(), id, nil)
	if status != SpeakersNoChanges {
		t.Fatalf("status=%q, want no_changes", status)
	}
}

func TestMoveAndFolderLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "a.wav")

	work, err := f.runner.CreateFolder(ctx, "Work Stuff")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	if work.DirName != "work-stuff" {
		t.Fatalf("DirName=%q", work.DirName)
	}
	if _, err := f.runner.CreateFolder(ctx, "work stuff"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err=%v, want ErrConflict", err)
	}

	sess, err := f.runner.Move(ctx, id, work.ID)
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	prefix := library.FoldersDir + "/work-stuff/"
	if sess.FolderID != work.ID || !strings.HasPrefix(sess.SessionDir, prefix) || !strings.HasPrefix(sess.AudioPath, prefix) {
		t.Fatalf("moved session=%+v", sess.SessionRecord)
	}

	renamed, err := f.runner.RenameFolder(ctx, work.ID, "Clients")
	if err != nil {
		t.Fatalf("RenameFolder: %v", err)
	}
	if renamed.DirName != "clients" {
		t.Fatalf("DirName=%q", renamed.DirName)
	}
	dir := f.dirOf(t, id)
	if f.lib.Classify(dir).FolderDir != "clients" {
		t.Fatalf("session dir=%q, want under clients", dir)
	}

	inbox, _ := f.index.FolderByDir(storage.SystemInbox)
	if _, err := f.runner.RenameFolder(ctx, inbox.ID, "x"); !errors.Is(err, storage.ErrSystemFolder) {
		t.Fatalf("err=%v, want ErrSystemFolder", err)
	}

	if _, err := f.runner.DeleteFolder(ctx, work.ID); err != nil {
		t.Fatalf("DeleteFolder: %v", err)
	}
	sess, _ = f.index.GetSession(id)
	trash, _ := f.index.FolderByDir(storage.SystemTrash)
	if sess.FolderID != trash.ID || sess.MissingOnDisk {
		t.Fatalf("session after folder delete=%+v", sess.SessionRecord)
	}

	if _, err := f.runner.Move(ctx, id, 9999); !errors.Is(err, storage.ErrNotFound) || stageOf(t, err) != StageMove {
		t.Fatalf("err=%v, want move ErrNotFound", err)
	}
	sess, err = f.runner.Move(ctx, id, inbox.ID)
	if err != nil || sess.FolderID != inbox.ID {
		t.Fatalf("move to inbox: %+v err=%v", sess.SessionRecord, err)
	}
}

func TestMoveClearsFolderSuggestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.upload(t, "a.wav")
	work, err := f.runner.CreateFolder(ctx, "Work")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	score := 0.9
	if _, err := f.index.SetSuggestedFolder(id, &work.ID, &score, "close to Work"); err != nil {
		t.Fatalf("SetSuggestedFolder: %v", err)
	}

	inbox, _ := f.index.FolderByDir(storage.SystemInbox)
	if _, err := f.runner.Move(ctx, id, work.ID); err != nil {
		t.Fatalf("Move: %v", err)
	}
	sess, err := f.runner.Move(ctx, id, inbox.ID)
	if err != nil {
		t.Fatalf("Move back: %v", err)
	}
	if sess.SuggestedFolderID != nil || sess.SuggestedFolderScore != nil || sess.SuggestedFolderRationale != "" {
		t.Fatalf("suggestion=(%v,%v,%q), want cleared", sess.SuggestedFolderID, sess.SuggestedFolderScore, sess.SuggestedFolderRationale)
	}
	list, err := f.index.ListFolderSuggestions()
	if err != nil || len(list) != 0 {
		t.Fatalf("suggestions=%+v err=%v, want none", list, err)
	}
}

func TestTranscriptView(t *testing.T) {
	f := newFixture(t)
	f.settings.s.AutoEmbed = false
	id := f.upload(t, "a.wav")
	if _, err := f.runner.Transcript(context.Background(), id); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("err=%v, want ErrNoTranscript", err)
	}
	if _, err := f.runner.Transcribe(context.Background(), id, ""); err != nil {
		t.Fatal(err)
	}
	view, err := f.runner.Transcript(context.Background(), id)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if view.Structured == nil || len(view.Structured.Segments) != 2 || view.Assets.TranscriptJSON != "transcript.json" {
		t.Fatalf("view=%+v", view)
	}
	path, err := f.runner.AudioPath(context.Background(), id)
	if err != nil || filepath.Base(path) != "audio.wav" {
		t.Fatalf("AudioPath=%q err=%v", path, err)
	}
}

func TestImportAndReindex(t *testing.T) {
	f := newFixture(t)
	src := t.TempDir()
	for _, name := range []string{"one.wav", "two.MP3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := f.runner.Import(context.Background(), src, true, 2)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Total != 2 || stats.Succeeded != 2 || stats.Failed != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	if f.asr.calls() != 2 {
		t.Fatalf("asr calls=%d, want 2", f.asr.calls())
	}
	sessions, _ := f.index.ListSessions(nil)
	for _, s := range sessions {
		if s.Tags != "import" || !s.Embedded {
			t.Fatalf("session=%+v", s.SessionRecord)
		}
	}

	stats, err = f.runner.Reindex(context.Background(), 2)
	if err != nil {
		t.Fatalf("Reindex: %v", err)
	}
	if stats.Total != 2 || stats.Succeeded != 2 {
		t.Fatalf("reindex stats=%+v", stats)
	}
}
