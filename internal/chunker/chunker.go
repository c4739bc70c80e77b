// Package chunker turns a timed transcript (or plain text) into overlapping,
// bounded-size windows that are embedded and retrieved as a unit.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"archivist/internal/transcript"
)

const (
	DefaultMaxWords       = 220
	DefaultMinWords       = 40
	DefaultOverlapSeconds = 3.0

	plaintextOverlapRatio = 0.2
)

// Options 分块参数
// Options controls window sizes
type Options struct {
	MaxWords       int
	MinWords       int
	OverlapSeconds float64
}

// Chunk 一个转写窗口
// Chunk is one transcript window
type Chunk struct {
	ID       string   `json:"chunk_id"`
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Speakers []string `json:"speakers"`
	Text     string   `json:"text"`
}

// Word 带说话人的扁平化单词
// Word is a flattened word carrying its speaker
type Word struct {
	Text    string
	Start   float64
	End     float64
	Speaker string
}

// Chunker 按词数与时间重叠切分转写
// Chunker splits transcripts by word count with a time-based overlap
type Chunker struct {
	opts Options
}

func New(opts Options) *Chunker {
	if opts.MaxWords <= 0 {
		opts.MaxWords = DefaultMaxWords
	}
	if opts.MinWords <= 0 {
		opts.MinWords = DefaultMinWords
	}
	if opts.MinWords > opts.MaxWords {
		opts.MinWords = opts.MaxWords
	}
	if opts.OverlapSeconds < 0 {
		opts.OverlapSeconds = 0
	}
	return &Chunker{opts: opts}
}

func (c *Chunker) Options() Options { return c.opts }

// ChunkTranscript flattens the transcript to words and windows them.
func (c *Chunker) ChunkTranscript(t transcript.Transcript) []Chunk {
	return c.ChunkWords(FlattenWords(t.Segments))
}

// FlattenWords expands segments into words. Segments without word timings get
// evenly spaced synthetic timings across their span. A word that starts before
// the previous word ended is shifted forward, together with its end, by the
// regression amount, so timestamps never decrease.
func FlattenWords(segments []transcript.Segment) []Word {
	var words []Word
	for _, seg := range segments {
		words = append(words, segmentWords(seg)...)
	}

	lastEnd := 0.0
	for i := range words {
		if words[i].Start < lastEnd {
			delta := lastEnd - words[i].Start
			words[i].Start += delta
			words[i].End += delta
		}
		if words[i].End > lastEnd {
			lastEnd = words[i].End
		}
	}
	return words
}

func segmentWords(seg transcript.Segment) []Word {
	speaker := seg.SpeakerOf()
	segStart := seg.Start
	segEnd := seg.End
	if segEnd < segStart {
		segEnd = segStart
	}

	if len(seg.Words) > 0 {
		out := make([]Word, 0, len(seg.Words))
		for _, w := range seg.Words {
			text := strings.TrimSpace(w.Word)
			if text == "" {
				continue
			}
			start, end := w.Start, w.End
			if start == 0 && end == 0 {
				start, end = segStart, segEnd
			}
			out = append(out, Word{Text: text, Start: start, End: end, Speaker: speaker})
		}
		return out
	}

	tokens := strings.Fields(seg.Text)
	if len(tokens) == 0 {
		return nil
	}
	duration := segEnd - segStart
	if duration < 0.001 {
		duration = 0.001
	}
	step := duration / float64(len(tokens))
	out := make([]Word, 0, len(tokens))
	for i, tok := range tokens {
		start := segStart + float64(i)*step
		end := start + step
		if end > segEnd {
			end = segEnd
		}
		out = append(out, Word{Text: tok, Start: start, End: end, Speaker: speaker})
	}
	return out
}

// ChunkWords windows a flattened word list. Each window grows to MaxWords; a
// window short of MinWords is extended when words remain. After a window the
// cursor steps back over words starting inside the trailing overlap, but
// always advances by at least one word.
func (c *Chunker) ChunkWords(words []Word) []Chunk {
	var chunks []Chunk
	n := len(words)
	start := 0
	for start < n {
		end := start + c.opts.MaxWords
		if end > n {
			end = n
		}
		if end-start < c.opts.MinWords && end < n {
			end = start + c.opts.MinWords
			if end > n {
				end = n
			}
		}

		window := words[start:end]
		chunks = append(chunks, buildChunk(len(chunks), window))
		if end >= n {
			break
		}

		next := end
		if c.opts.OverlapSeconds > 0 {
			overlapStart := window[len(window)-1].End - c.opts.OverlapSeconds
			for next > start+1 && words[next-1].Start >= overlapStart {
				next--
			}
		}
		start = next
	}
	return chunks
}

func buildChunk(ordinal int, window []Word) Chunk {
	texts := make([]string, 0, len(window))
	seen := map[string]struct{}{}
	for _, w := range window {
		texts = append(texts, w.Text)
		speaker := w.Speaker
		if speaker == "" {
			speaker = transcript.UnknownSpeaker
		}
		seen[speaker] = struct{}{}
	}
	speakers := make([]string, 0, len(seen))
	for s := range seen {
		speakers = append(speakers, s)
	}
	sort.Strings(speakers)
	return Chunk{
		ID:       chunkID(ordinal),
		Start:    window[0].Start,
		End:      window[len(window)-1].End,
		Speakers: speakers,
		Text:     strings.TrimSpace(strings.Join(texts, " ")),
	}
}

// ChunkPlaintext windows text by word count only, overlapping consecutive
// windows by a fixed share of MinWords. Times are zero and speakers empty.
func (c *Chunker) ChunkPlaintext(text string) []Chunk {
	tokens := strings.Fields(text)
	var chunks []Chunk
	n := len(tokens)
	overlap := int(float64(c.opts.MinWords) * plaintextOverlapRatio)
	start := 0
	for start < n {
		end := start + c.opts.MaxWords
		if end > n {
			end = n
		}
		if end-start < c.opts.MinWords && end < n {
			end = start + c.opts.MinWords
			if end > n {
				end = n
			}
		}
		chunks = append(chunks, Chunk{
			ID:       chunkID(len(chunks)),
			Speakers: []string{},
			Text:     strings.Join(tokens[start:end], " "),
		})
		if end >= n {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

func chunkID(ordinal int) string {
	return fmt.Sprintf("chunk_%04d", ordinal)
}
