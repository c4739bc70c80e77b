package library

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewSessionID 生成 32 位十六进制的 uuid4 会话 ID / Generates a uuid4 hex session ID
func NewSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases value, collapses every run of characters outside [a-z0-9]
// into a single '-', trims dashes and cuts the result to maxLen. Empty input
// becomes "untitled".
func Slug(value string, maxLen int) string {
	s := strings.ToLower(strings.TrimSpace(value))
	s = slugInvalid.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		s = "untitled"
	}
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// SessionDirName builds "<created_at with ':' replaced>__<slug>__<id>".
func SessionDirName(sessionID, createdAt, title string) string {
	stamp := strings.ReplaceAll(createdAt, ":", "-")
	return stamp + "__" + Slug(title, 32) + "__" + sessionID
}
