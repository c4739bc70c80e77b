package prompt

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

const (
	MaxTitles     = 3
	MaxTitleWords = 8
)

var (
	fenceOpen  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("\\s*```$")
	numbering  = regexp.MustCompile(`^\d+[).]\s*`)
)

// ParseTitleCandidates extracts up to three titles from a model reply. It
// tries {"titles":[...]} or a bare array, then the same after JSON repair,
// then one title per line. Titles are cut to eight words and deduplicated
// without regard to case. It never fails; an unusable reply yields nil.
func ParseTitleCandidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	candidates := parseTitleJSON(raw)
	if len(candidates) == 0 {
		candidates = titleLines(raw)
	}
	return normalizeTitles(candidates)
}

func parseTitleJSON(raw string) []string {
	cleaned := fenceOpen.ReplaceAllString(raw, "")
	cleaned = fenceClose.ReplaceAllString(cleaned, "")
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start != -1 && end > start {
		cleaned = cleaned[start : end+1]
	}
	if titles, ok := decodeTitles(cleaned); ok {
		return titles
	}
	if !strings.ContainsAny(cleaned, "{[") {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil
	}
	titles, _ := decodeTitles(repaired)
	return titles
}

func decodeTitles(s string) ([]string, bool) {
	var obj struct {
		Titles []any `json:"titles"`
	}
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj.Titles != nil {
		return stringsOf(obj.Titles), true
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err == nil {
		return stringsOf(arr), true
	}
	return nil, false
}

func stringsOf(items []any) []string {
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func titleLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "-*•"))
		line = numbering.ReplaceAllString(line, "")
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		out = append(out, line)
		if len(out) >= MaxTitles {
			break
		}
	}
	return out
}

func normalizeTitles(candidates []string) []string {
	seen := make(map[string]struct{}, len(candidates))
	var out []string
	for _, c := range candidates {
		c = strings.TrimSpace(strings.Trim(strings.TrimSpace(c), `"`))
		words := strings.Fields(c)
		if len(words) > MaxTitleWords {
			words = words[:MaxTitleWords]
		}
		c = strings.Join(words, " ")
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		if len(out) >= MaxTitles {
			break
		}
	}
	return out
}
