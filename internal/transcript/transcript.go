// Package transcript models the structured, timed transcript stored as a
// session's transcript_json asset, and its flattened plain-text form.
package transcript

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"archivist/internal/fsutil"
)

// UnknownSpeaker 无法归类的片段使用的标签
// UnknownSpeaker labels segments that could not be attributed
const UnknownSpeaker = "Unknown"

// Word 单词级时间戳
// Word is a single word with timing
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment 一个带时间范围的识别片段
// Segment is one timed recognition segment
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
	Words   []Word  `json:"words,omitempty"`
}

// Transcript 结构化转写
// Transcript is the structured transcript
type Transcript struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// Load 读取结构化转写文件
// Load reads a structured transcript file
func Load(path string) (Transcript, error) {
	var t Transcript
	if err := fsutil.ReadJSON(path, &t); err != nil {
		return Transcript{}, err
	}
	return t, nil
}

// Save 原子写入结构化转写
// Save writes the structured transcript atomically
func Save(path string, t Transcript) error {
	if t.Segments == nil {
		t.Segments = []Segment{}
	}
	return fsutil.WriteJSONAtomic(path, t)
}

// SpeakerOf returns the segment speaker, defaulting to UnknownSpeaker.
func (s Segment) SpeakerOf() string {
	if strings.TrimSpace(s.Speaker) == "" {
		return UnknownSpeaker
	}
	return s.Speaker
}

// Flatten renders one "[speaker] text" line per segment.
func (t Transcript) Flatten() string {
	lines := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		lines = append(lines, fmt.Sprintf("[%s] %s", seg.SpeakerOf(), strings.TrimSpace(seg.Text)))
	}
	return strings.Join(lines, "\n")
}

// Speakers 返回排序去重后的说话人标签
// Speakers returns the sorted distinct speaker labels
func (t Transcript) Speakers() []string {
	seen := map[string]struct{}{}
	for _, seg := range t.Segments {
		seen[seg.SpeakerOf()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// PlainText joins segment texts with single spaces.
func (t Transcript) PlainText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if txt := strings.TrimSpace(seg.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, " ")
}

// Relabel renames speakers per updates and reports whether any segment changed.
func (t *Transcript) Relabel(updates map[string]string) bool {
	changed := false
	for i := range t.Segments {
		next, ok := updates[t.Segments[i].SpeakerOf()]
		if !ok || next == t.Segments[i].Speaker {
			continue
		}
		t.Segments[i].Speaker = next
		changed = true
	}
	return changed
}

// ReadText 读取纯文本转写；文件缺失返回空串
// ReadText reads a plain-text transcript; a missing file yields ""
func ReadText(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}
