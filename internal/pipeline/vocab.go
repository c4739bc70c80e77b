package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"archivist/internal/fsutil"
)

// LoadVocab 读取词汇表；文件缺失返回空列表
// LoadVocab reads the vocabulary list; a missing file yields an empty list
func LoadVocab(path string) ([]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	var terms []string
	if err := fsutil.ReadJSON(path, &terms); err != nil {
		return nil, err
	}
	return cleanTerms(terms), nil
}

// SaveVocab trims and deduplicates terms, then writes them atomically.
func SaveVocab(path string, terms []string) ([]string, error) {
	terms = cleanTerms(terms)
	if err := fsutil.WriteJSONAtomic(path, terms); err != nil {
		return nil, err
	}
	return terms, nil
}

// VocabPrompt joins terms into an ASR hint.
func VocabPrompt(terms []string) string {
	return strings.Join(terms, " ")
}

func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
