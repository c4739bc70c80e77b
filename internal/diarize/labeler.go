package diarize

import (
	"context"
	"log/slog"
	"sort"

	"archivist/internal/transcript"
)

// VoiceEmbedder extracts a voice embedding for the audio between start and
// end seconds of the file at audioPath.
type VoiceEmbedder interface {
	EmbedSpan(ctx context.Context, audioPath string, start, end float64) ([]float32, error)
}

// Options 标注参数
// Options tunes the labeller
type Options struct {
	Threshold          float64
	MinSegmentDuration float64
}

// Result 标注统计
// Result summarizes one labelling run
type Result struct {
	Speakers int
	Unknown  int
}

// Labeler 为转写片段分配会话内说话人标签
// Labeler assigns session-local speaker labels to transcript segments
type Labeler struct {
	voice  VoiceEmbedder
	opts   Options
	logger *slog.Logger
}

// NewLabeler builds a labeller. A nil voice embedder labels every segment Unknown.
func NewLabeler(voice VoiceEmbedder, opts Options, logger *slog.Logger) *Labeler {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.MinSegmentDuration <= 0 {
		opts.MinSegmentDuration = DefaultMinSegmentDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Labeler{voice: voice, opts: opts, logger: logger}
}

// Label returns a copy of segments sorted by start time (stable, so equal
// starts keep input order) with Speaker set. Segments shorter than the minimum duration, or whose embedding
// cannot be extracted, become Unknown and leave the clusters untouched.
func (l *Labeler) Label(ctx context.Context, audioPath string, segments []transcript.Segment) ([]transcript.Segment, Result, error) {
	out := make([]transcript.Segment, len(segments))
	copy(out, segments)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	clusters := NewClusterer(l.opts.Threshold)
	var res Result
	for i := range out {
		if err := ctx.Err(); err != nil {
			return nil, Result{}, err
		}
		seg := &out[i]
		if seg.End-seg.Start < l.opts.MinSegmentDuration || l.voice == nil {
			seg.Speaker = transcript.UnknownSpeaker
			res.Unknown++
			continue
		}
		emb, err := l.voice.EmbedSpan(ctx, audioPath, seg.Start, seg.End)
		if err != nil || len(emb) == 0 {
			if ctx.Err() != nil {
				return nil, Result{}, ctx.Err()
			}
			l.logger.Debug("voice embedding unavailable", "segment", i, "err", err)
			seg.Speaker = transcript.UnknownSpeaker
			res.Unknown++
			continue
		}
		_, seg.Speaker = clusters.Assign(i, emb)
	}
	res.Speakers = len(clusters.Clusters())
	return out, res, nil
}
