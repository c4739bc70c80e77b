package main

import (
	"context"
	"errors"

	"archivist/internal/pipeline"
	"archivist/internal/retrieval"
	"archivist/internal/storage"
	"archivist/internal/tui"
)

// browseBackend serves the terminal browser from the app.
type browseBackend struct {
	a *app
}

func (b browseBackend) Search(ctx context.Context, prompt string) ([]retrieval.Result, error) {
	return b.a.retrieval.Search(ctx, retrieval.Query{Prompt: prompt})
}

func (b browseBackend) Detail(ctx context.Context, hit retrieval.Result) (tui.Detail, error) {
	d := tui.Detail{SessionID: hit.SessionID, Title: hit.Title, Hit: hit}
	view, err := b.a.runner.Transcript(ctx, hit.SessionID)
	switch {
	case err == nil:
		d.Title = view.Title
		d.Transcript = view.Text
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, pipeline.ErrNoTranscript):
		// Missing sessions still show what the index knows.
	default:
		return d, err
	}
	summary, err := b.a.runner.Summary(ctx, hit.SessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.a.logger.Debug("no summary for detail", "session_id", hit.SessionID, "err", err)
	}
	d.Summary = summary
	return d, nil
}
