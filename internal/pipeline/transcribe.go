package pipeline

import (
	"context"
	"fmt"
	"strings"

	"archivist/internal/diarize"
	"archivist/internal/library"
	"archivist/internal/provider"
	"archivist/internal/transcript"
)

// TranscribeResult 转写结果 / TranscribeResult reports one transcription run
type TranscribeResult struct {
	SessionID      string   `json:"session_id"`
	TranscriptPath string   `json:"transcript_path"`
	Segments       int      `json:"segments"`
	Speakers       int      `json:"speakers"`
	Unknown        int      `json:"unknown_segments"`
	EmbeddingPath  string   `json:"embedding_path,omitempty"`
	SummaryPath    string   `json:"summary_path,omitempty"`
	Titles         []string `json:"titles,omitempty"`
	// Warnings maps an automatic follow-up stage to its failure.
	Warnings map[string]string `json:"warnings,omitempty"`
}

// Transcribe runs ASR and diarization over the session's audio, writes
// transcript.json and transcript.txt, then the automatic follow-up stages
// enabled in settings. A failed follow-up is reported in Warnings and does
// not fail the transcription.
func (r *Runner) Transcribe(ctx context.Context, id, language string) (TranscribeResult, error) {
	cfg := r.settings.Current()
	res := TranscribeResult{SessionID: id}

	err := r.withSession(ctx, id, StageTranscribe, func(dir string, meta library.Meta) error {
		audio := library.ExistingAsset(dir, meta.Assets.Audio)
		if audio == "" {
			return ErrNoAudio
		}
		if strings.TrimSpace(language) == "" {
			language = cfg.Language
		}
		terms, err := LoadVocab(cfg.VocabPath())
		if err != nil {
			r.logger.Warn("vocabulary unreadable", "path", cfg.VocabPath(), "err", err)
		}

		tr, err := r.transcriber.Transcribe(ctx, provider.TranscribeRequest{
			AudioPath: audio,
			Language:  language,
			Model:     cfg.ASRModel,
			Prompt:    VocabPrompt(terms),
		})
		if err != nil {
			return err
		}

		labeler := diarize.NewLabeler(r.voice, diarize.Options{
			Threshold:          cfg.Diarize.Threshold,
			MinSegmentDuration: cfg.Diarize.MinSegmentSeconds,
		}, r.logger)
		segments, stats, err := labeler.Label(ctx, audio, tr.Segments)
		if err != nil {
			return fail(id, StageDiarize, err)
		}
		tr.Segments = segments
		if tr.Language == "" {
			tr.Language = language
		}

		jsonPath, err := library.ResolveAsset(dir, transcriptJSONName)
		if err != nil {
			return err
		}
		if err := transcript.Save(jsonPath, tr); err != nil {
			return err
		}
		txtPath, err := library.WriteAsset(dir, transcriptTxtName, []byte(tr.Flatten()))
		if err != nil {
			return err
		}

		meta.Assets.TranscriptJSON = transcriptJSONName
		meta.Assets.TranscriptTxt = transcriptTxtName
		if err := r.commit(dir, meta); err != nil {
			return err
		}
		if err := r.indexText(ctx, meta, sessionText{structured: &tr, flat: tr.Flatten()}); err != nil {
			r.logger.Warn("fulltext index failed", "session_id", id, "err", err)
		}

		res.TranscriptPath = r.rel(txtPath)
		res.Segments = len(tr.Segments)
		res.Speakers = stats.Speakers
		res.Unknown = stats.Unknown
		r.logger.Info("session transcribed", "session_id", id, "segments", res.Segments, "speakers", res.Speakers)
		return nil
	})
	if err != nil {
		return TranscribeResult{}, err
	}

	r.runAutoStages(ctx, cfg.AutoEmbed, cfg.AutoSummarize, cfg.AutoTitleSuggest, &res)
	return res, nil
}

func (r *Runner) runAutoStages(ctx context.Context, embed, summarize, titles bool, res *TranscribeResult) {
	warn := func(stage Stage, err error) {
		if res.Warnings == nil {
			res.Warnings = map[string]string{}
		}
		res.Warnings[string(stage)] = err.Error()
		r.logger.Warn("automatic stage failed", "session_id", res.SessionID, "stage", stage, "err", err)
	}
	if embed {
		if er, err := r.Embed(ctx, res.SessionID); err != nil {
			warn(StageEmbed, err)
		} else {
			res.EmbeddingPath = er.EmbeddingPath
		}
	}
	if summarize {
		if sr, err := r.Summarize(ctx, res.SessionID, true); err != nil {
			warn(StageSummarize, err)
		} else {
			res.SummaryPath = sr.SummaryPath
		}
	}
	if titles {
		if t, err := r.SuggestTitles(ctx, res.SessionID); err != nil {
			warn(StageTitles, err)
		} else {
			res.Titles = t
		}
	}
}

// PartialTranscript transcribes the audio file as it is now, without
// diarization or any writes. Live sessions use it for interim text.
func (r *Runner) PartialTranscript(ctx context.Context, audioPath string) (string, error) {
	cfg := r.settings.Current()
	tr, err := r.transcriber.Transcribe(ctx, provider.TranscribeRequest{
		AudioPath: audioPath,
		Language:  cfg.Language,
		Model:     cfg.ASRModel,
	})
	if err != nil {
		return "", fmt.Errorf("partial transcript: %w", err)
	}
	return tr.PlainText(), nil
}
