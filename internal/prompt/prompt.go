// Package prompt builds the prompts sent to the generation collaborator and
// parses its title suggestions.
package prompt

import (
	"fmt"
	"strings"

	"archivist/internal/library"
)

const (
	DefaultSummaryMaxChars = 20000
	DefaultTitleMaxChars   = 8000
	maxPromptPeople        = 12
)

// Builder 按字符上限和 token 上限裁剪转写文本
// Builder caps transcript text by characters and then by tokens
type Builder struct {
	tok             *Tokenizer
	summaryMaxChars int
	tokenLimit      int
}

func NewBuilder(tok *Tokenizer, summaryMaxChars, tokenLimit int) *Builder {
	if tok == nil {
		tok = NewHeuristicTokenizer()
	}
	if summaryMaxChars <= 0 {
		summaryMaxChars = DefaultSummaryMaxChars
	}
	return &Builder{tok: tok, summaryMaxChars: summaryMaxChars, tokenLimit: tokenLimit}
}

func (b *Builder) clip(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) > maxChars {
		text = string(runes[:maxChars])
	}
	return b.tok.Truncate(text, b.tokenLimit)
}

// Summary 生成会议摘要提示词
// Summary builds the meeting summary prompt
func (b *Builder) Summary(transcriptText string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert meeting assistant. Summarize the following transcript.\n")
	sb.WriteString("Structure your response into these sections:\n")
	sb.WriteString("1. Topics / Outline\n")
	sb.WriteString("2. Key Decisions\n")
	sb.WriteString("3. Action Items (who needs to do what)\n\n")
	sb.WriteString("Transcript:\n")
	sb.WriteString(b.clip(transcriptText, b.summaryMaxChars))
	sb.WriteString("\n")
	return sb.String()
}

// Titles builds the title-candidate prompt. Calendar and participants are
// included when known.
func (b *Builder) Titles(transcriptText string, cal *library.Calendar, participants []library.Participant) string {
	var people []string
	for _, p := range participants {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			name = strings.TrimSpace(p.Email)
		}
		if name != "" {
			people = append(people, name)
		}
		if len(people) == maxPromptPeople {
			break
		}
	}
	calLine := ""
	if cal != nil && strings.TrimSpace(cal.Summary) != "" {
		calLine = "Calendar event: " + cal.Summary
		if cal.Start != "" {
			calLine += " (" + cal.Start + ")"
		}
	}

	return strings.TrimSpace(fmt.Sprintf(`
You are naming a voice memo / meeting recording.
Generate %d short, specific title options (max %d words each).
Use the transcript content; if the calendar event seems relevant, incorporate it.

%s
Participants: %s

Transcript (may be partial):
"""%s"""

Return ONLY valid JSON in this exact shape:
{"titles":["...","...","..."]}
`, MaxTitles, MaxTitleWords, calLine, strings.Join(people, ", "), b.clip(transcriptText, DefaultTitleMaxChars)))
}
