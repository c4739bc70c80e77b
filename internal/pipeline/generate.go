package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"archivist/internal/library"
	"archivist/internal/prompt"
)

// SummaryResult 摘要结果 / SummaryResult is a session summary
type SummaryResult struct {
	SessionID   string `json:"session_id"`
	SummaryPath string `json:"summary_path"`
	Summary     string `json:"summary"`
	// Cached reports that an existing summary was returned.
	Cached bool `json:"cached"`
}

// Summarize returns the stored summary, or generates one when there is none
// or force is set.
func (r *Runner) Summarize(ctx context.Context, id string, force bool) (SummaryResult, error) {
	cfg := r.settings.Current()
	var res SummaryResult
	err := r.withSession(ctx, id, StageSummarize, func(dir string, meta library.Meta) error {
		if !force {
			if p := library.ExistingAsset(dir, meta.Assets.SummaryTxt); p != "" {
				data, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("read summary: %w", err)
				}
				res = SummaryResult{SessionID: id, SummaryPath: r.rel(p), Summary: string(data), Cached: true}
				return nil
			}
		}

		st, err := r.loadText(dir, meta)
		if err != nil {
			return err
		}
		summary, err := r.generator.Generate(ctx, r.prompts(cfg).Summary(st.flat), cfg.SummaryModel)
		if err != nil {
			return err
		}
		if strings.TrimSpace(summary) == "" {
			return errors.New("generator returned an empty summary")
		}
		path, err := library.WriteAsset(dir, summaryName, []byte(summary))
		if err != nil {
			return err
		}
		meta.Assets.SummaryTxt = summaryName
		if err := r.commit(dir, meta); err != nil {
			return err
		}
		res = SummaryResult{SessionID: id, SummaryPath: r.rel(path), Summary: summary}
		return nil
	})
	return res, err
}

// SuggestTitles asks the generator for up to three titles and stores them as
// the session's title candidates. An unusable reply stores no candidates.
func (r *Runner) SuggestTitles(ctx context.Context, id string) ([]string, error) {
	cfg := r.settings.Current()
	var titles []string
	err := r.withSession(ctx, id, StageTitles, func(dir string, meta library.Meta) error {
		st, err := r.loadText(dir, meta)
		if err != nil {
			return err
		}
		reply, err := r.generator.Generate(ctx, r.prompts(cfg).Titles(st.flat, meta.Calendar, meta.Participants), cfg.TitleModel)
		if err != nil {
			return err
		}
		titles = prompt.ParseTitleCandidates(reply)
		if titles == nil {
			titles = []string{}
		}

		meta.Suggestions.TitleCandidates = titles
		if err := r.commit(dir, meta); err != nil {
			return err
		}
		return r.index.SetSuggestedTitles(id, titles, "")
	})
	return titles, err
}
