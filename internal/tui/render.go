package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"archivist/internal/retrieval"
)

const maxExcerptRunes = 1200

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// formatClock renders seconds as mm:ss, or h:mm:ss past an hour.
func formatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// RenderResultLine 渲染结果列表的一行
// RenderResultLine renders one row of the result list
func RenderResultLine(r retrieval.Result, theme Theme, width int, selected bool) string {
	var badge string
	if r.Kind == retrieval.KindChunk {
		score := 0.0
		if r.Similarity != nil {
			score = *r.Similarity
		}
		badge = theme.ChunkBadge.Render(fmt.Sprintf("%.2f %s", score, formatClock(r.Start)))
	} else {
		badge = theme.FulltextBadge.Render("text      ")
	}
	title := r.Title
	if title == "" {
		title = r.SessionID
	}
	if r.MissingOnDisk {
		title += " " + theme.MissingStyle.Render("(missing)")
	}

	head := badge + "  " + title
	room := width - lipgloss.Width(head) - 3
	line := head
	if room > 10 {
		line += theme.MutedStyle.Render(" · " + truncateRunes(oneLine(r.Snippet), room))
	}
	if selected {
		return theme.SelectedStyle.Render("▌" + line)
	}
	return " " + line
}

// DetailMarkdown builds the markdown document for a session detail view.
func DetailMarkdown(d Detail) string {
	var sb strings.Builder
	title := d.Title
	if title == "" {
		title = "Untitled Session"
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("`" + d.SessionID + "`")
	if d.Hit.Kind == retrieval.KindChunk {
		sb.WriteString(fmt.Sprintf(" · %s-%s", formatClock(d.Hit.Start), formatClock(d.Hit.End)))
		if len(d.Hit.Speakers) > 0 {
			sb.WriteString(" · " + strings.Join(d.Hit.Speakers, ", "))
		}
	}
	sb.WriteString("\n\n")

	if snippet := strings.TrimSpace(d.Hit.Snippet); snippet != "" {
		sb.WriteString("## Match\n\n> " + oneLine(snippet) + "\n\n")
	}
	if summary := strings.TrimSpace(d.Summary); summary != "" {
		sb.WriteString("## Summary\n\n" + summary + "\n\n")
	}
	if tr := strings.TrimSpace(d.Transcript); tr != "" {
		sb.WriteString("## Transcript\n\n```\n" + truncateRunes(tr, maxExcerptRunes) + "\n```\n")
	}
	return sb.String()
}
