package tui

import (
	"strings"
	"testing"
)

func TestRenderMarkdown_Basic(t *testing.T) {
	input := "# Hello\n\nThis is **bold** text."
	result := RenderMarkdown(input, 80)
	if result == "" {
		t.Fatal("RenderMarkdown returned empty")
	}
	// Glamour 应该渲染了标题 / Glamour should have rendered the heading
	if !strings.Contains(result, "Hello") {
		t.Fatalf("result should contain 'Hello': %q", result)
	}
}

func TestRenderMarkdown_Empty(t *testing.T) {
	if RenderMarkdown("", 80) != "" {
		t.Fatal("empty input should return empty")
	}
	if RenderMarkdown("  ", 80) != "" {
		t.Fatal("whitespace input should return empty")
	}
}

func TestFormatClock(t *testing.T) {
	cases := map[float64]string{
		0:      "00:00",
		-3:     "00:00",
		75.9:   "01:15",
		3599:   "59:59",
		3723.2: "1:02:03",
	}
	for in, want := range cases {
		if got := formatClock(in); got != want {
			t.Fatalf("formatClock(%v)=%q, want %q", in, got, want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo wörld", 6); got != "héllo…" {
		t.Fatalf("truncateRunes=%q, want %q", got, "héllo…")
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Fatalf("truncateRunes=%q, want short", got)
	}
}

func TestRenderResultLine(t *testing.T) {
	theme := DarkTheme()
	results := sampleResults()

	chunk := RenderResultLine(results[0], theme, 100, false)
	for _, want := range []string{"0.91", "01:15", "Standup", "we approved the roadmap"} {
		if !strings.Contains(chunk, want) {
			t.Fatalf("chunk line missing %q: %q", want, chunk)
		}
	}

	missing := results[1]
	missing.Title = ""
	missing.MissingOnDisk = true
	text := RenderResultLine(missing, theme, 100, true)
	if !strings.Contains(text, "s2") || !strings.Contains(text, "(missing)") || !strings.Contains(text, "▌") {
		t.Fatalf("fulltext line=%q", text)
	}
}

func TestDetailMarkdown(t *testing.T) {
	hit := sampleResults()[0]
	hit.End = 3723
	hit.Speakers = []string{"Alice", "Unknown"}
	md := DetailMarkdown(Detail{
		SessionID:  "s1",
		Title:      "Standup",
		Summary:    "Topics: budget",
		Transcript: strings.Repeat("x", maxExcerptRunes+50),
		Hit:        hit,
	})
	for _, want := range []string{"# Standup", "`s1`", "01:15-1:02:03", "Alice, Unknown", "## Match", "## Summary", "## Transcript"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Count(md, "x") > maxExcerptRunes {
		t.Fatal("transcript excerpt should be truncated")
	}

	bare := DetailMarkdown(Detail{SessionID: "s9"})
	if !strings.Contains(bare, "# Untitled Session") || strings.Contains(bare, "## Summary") {
		t.Fatalf("bare markdown=%q", bare)
	}
}
