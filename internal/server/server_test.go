package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"archivist/internal/config"
	"archivist/internal/fts"
	"archivist/internal/library"
	"archivist/internal/pipeline"
	"archivist/internal/provider"
	"archivist/internal/reconcile"
	"archivist/internal/retrieval"
	"archivist/internal/storage"
	"archivist/internal/transcript"
	"archivist/internal/vectorstore"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ provider.TranscribeRequest) (transcript.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return transcript.Transcript{Segments: []transcript.Segment{
		{Start: 0, End: 2, Text: "hello budget team"},
		{Start: 2, End: 5, Text: "we approved the roadmap"},
	}}, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	return []float32{1, float32(len(text)%5) + 1}, nil
}

type fakeGenerator struct{}

func (fakeGenerator) Generate(context.Context, string, string) (string, error) {
	return `{"titles": ["Budget Roadmap"]}`, nil
}

type testServer struct {
	srv   *Server
	h     http.Handler
	index *storage.SQLiteStore
	live  *config.Live
	pool  *pipeline.Pool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	lib, err := library.New(filepath.Join(root, "library"))
	if err != nil {
		t.Fatal(err)
	}
	if err := lib.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	db, err := storage.OpenDB(filepath.Join(root, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	index, err := storage.NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = index.Close() })
	vectors, err := vectorstore.New(db)
	if err != nil {
		t.Fatal(err)
	}
	text, err := fts.New(db)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.LibraryRoot = lib.Root()
	cfg.Live.PartialIntervalMS = 20
	live := config.NewLive(cfg)

	engine := reconcile.New(lib, index, logger, reconcile.Options{})
	runner := pipeline.New(pipeline.Deps{
		Library:     lib,
		Index:       index,
		Engine:      engine,
		Vectors:     vectors,
		Text:        text,
		Embedder:    fakeEmbedder{},
		Generator:   fakeGenerator{},
		Transcriber: &fakeTranscriber{},
		Settings:    live,
		Logger:      logger,
	})
	pool := pipeline.NewPool(2, logger)
	t.Cleanup(pool.Close)

	srv := New(Deps{
		Runner:    runner,
		Engine:    engine,
		Retrieval: retrieval.New(index, vectors, text, fakeEmbedder{}, live, logger),
		Index:     index,
		Pool:      pool,
		Settings:  live,
		Logger:    logger,
	})
	return &testServer{srv: srv, h: srv.Handler(), index: index, live: live, pool: pool}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, name string, data []byte) storage.Session {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = fw.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status=%d body=%s", rec.Code, rec.Body.String())
	}
	var sess storage.Session
	decode(t, rec, &sess)
	return sess
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestFolderRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/folders", `{"name":"Work"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	var work storage.Folder
	decode(t, rec, &work)
	if work.DirName != "work" {
		t.Fatalf("DirName=%q, want work", work.DirName)
	}
	if rec := ts.do(t, http.MethodPost, "/folders", `{"name":"work"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d, want 409", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/folders", "")
	var list struct {
		Folders []storage.Folder `json:"folders"`
	}
	decode(t, rec, &list)
	if len(list.Folders) != 3 {
		t.Fatalf("folders=%d, want 3", len(list.Folders))
	}

	inbox, _ := ts.index.FolderByDir(storage.SystemInbox)
	path := "/folders/" + itoa(inbox.ID) + "/rename"
	if rec := ts.do(t, http.MethodPost, path, `{"name":"x"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("rename system status=%d, want 403", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/folders/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/folders/"+itoa(work.ID)+"/rename", `{"name":"Clients"}`); rec.Code != http.StatusOK {
		t.Fatalf("rename status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodDelete, "/folders/"+itoa(work.ID), ""); rec.Code != http.StatusOK {
		t.Fatalf("delete status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodDelete, "/folders/"+itoa(work.ID), ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d, want 404", rec.Code)
	}
}

func TestUploadTranscribeAndSearch(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.upload(t, "standup.wav", []byte("RIFFdata"))
	id := sess.SessionID

	rec := ts.do(t, http.MethodPost, "/sessions/"+id+"/transcribe", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("transcribe status=%d body=%s", rec.Code, rec.Body.String())
	}
	var tr pipeline.TranscribeResult
	decode(t, rec, &tr)
	if tr.Segments != 2 || tr.EmbeddingPath == "" {
		t.Fatalf("transcribe result=%+v", tr)
	}

	rec = ts.do(t, http.MethodPost, "/search", `{"prompt":"roadmap"}`)
	var found struct {
		Results []retrieval.Result `json:"results"`
	}
	decode(t, rec, &found)
	if rec.Code != http.StatusOK || len(found.Results) == 0 || found.Results[0].SessionID != id {
		t.Fatalf("search status=%d results=%+v", rec.Code, found.Results)
	}
	if rec := ts.do(t, http.MethodPost, "/search", `{"prompt":"  "}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty prompt status=%d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/search/text?q=budget", "")
	var hits struct {
		Results []fts.Hit `json:"results"`
	}
	decode(t, rec, &hits)
	if len(hits.Results) != 1 {
		t.Fatalf("text hits=%+v", hits.Results)
	}

	rec = ts.do(t, http.MethodGet, "/sessions/"+id+"/transcript", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "[Unknown] hello budget team") {
		t.Fatalf("transcript status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodGet, "/sessions/"+id+"/audio", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "RIFFdata" {
		t.Fatalf("audio status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/suggest_title", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Budget Roadmap") {
		t.Fatalf("suggest_title status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/speakers", `{"updates":{"Unknown":"Ada"}}`)
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("speakers body=%s", rec.Body.String())
	}

	trash, _ := ts.index.FolderByDir(storage.SystemTrash)
	rec = ts.do(t, http.MethodPost, "/sessions/"+id+"/move", `{"folder_id":`+itoa(trash.ID)+`}`)
	var moved storage.Session
	decode(t, rec, &moved)
	if moved.FolderID != trash.ID {
		t.Fatalf("moved=%+v", moved.SessionRecord)
	}

	rec = ts.do(t, http.MethodGet, "/sessions?folder_id="+itoa(trash.ID), "")
	var list struct {
		Sessions []storage.Session `json:"sessions"`
	}
	decode(t, rec, &list)
	if len(list.Sessions) != 1 {
		t.Fatalf("sessions in trash=%d, want 1", len(list.Sessions))
	}
}

func TestSessionErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/sessions/nope/transcribe", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
	var body errorBody
	decode(t, rec, &body)
	if body.SessionID != "nope" || body.Stage != "transcribe" {
		t.Fatalf("error body=%+v", body)
	}
	if rec := ts.do(t, http.MethodGet, "/sessions/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get status=%d, want 404", rec.Code)
	}

	sess := ts.upload(t, "a.wav", []byte("x"))
	rec = ts.do(t, http.MethodPost, "/sessions/"+sess.SessionID+"/rename", `{"title":""}`)
	decode(t, rec, &body)
	if rec.Code != http.StatusBadRequest || body.Stage != "rename" {
		t.Fatalf("rename status=%d body=%+v", rec.Code, body)
	}
	if rec := ts.do(t, http.MethodPost, "/sessions/"+sess.SessionID+"/move", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("move status=%d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/sessions/"+sess.SessionID+"/embed", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("embed without transcript status=%d, want 404", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/sessions/"+sess.SessionID+"/rename", `{"title":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d, want 400", rec.Code)
	}
	if rec := ts.do(t, http.MethodGet, "/sessions?folder_id=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("folder_id status=%d, want 400", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/sessions/"+sess.SessionID+"/calendar_link", `{"event":{"uid":"e1","title":"Sync","attendees":[{"name":"Bo"}]}}`)
	var meta library.Meta
	decode(t, rec, &meta)
	if rec.Code != http.StatusOK || len(meta.Participants) != 1 || meta.Calendar.Summary != "Sync" {
		t.Fatalf("calendar status=%d meta=%+v", rec.Code, meta)
	}
}

func TestSettingsAndVocabRoutes(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.live.Apply([]byte(`{"provider":{"api_key":"sk-secret"}}`)); err != nil {
		t.Fatal(err)
	}

	rec := ts.do(t, http.MethodGet, "/settings", "")
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Fatalf("api key leaked: %s", rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/settings", `{"auto_summarize": true}`)
	if rec.Code != http.StatusOK || !ts.live.Current().AutoSummarize {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(ts.live.Current().SettingsPath()); err != nil {
		t.Fatalf("settings.json not written: %v", err)
	}
	if rec := ts.do(t, http.MethodPost, "/settings", `{"bogus": 1}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus status=%d, want 400", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/vocab", "")
	if rec.Body.String() != "{\"terms\":[]}\n" {
		t.Fatalf("empty vocab body=%q", rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/vocab", `{"terms":["Kafka"," Kafka ","gRPC"]}`)
	var vocab vocabBody
	decode(t, rec, &vocab)
	if len(vocab.Terms) != 2 {
		t.Fatalf("terms=%q", vocab.Terms)
	}
}

func TestReconcileRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, "a.wav", []byte("x"))

	rec := ts.do(t, http.MethodPost, "/library/reconcile", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp reconcileResponse
	decode(t, rec, &resp)
	if resp.Reconcile.SessionsSeen != 1 || resp.Reconcile.Created != 0 {
		t.Fatalf("reconcile=%+v", resp.Reconcile)
	}
	rec = ts.do(t, http.MethodGet, "/folder_suggestions", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"suggestions"`) {
		t.Fatalf("suggestions status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
