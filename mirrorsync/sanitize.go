package mirrorsync

import (
	"regexp"
	"strings"
)

// Persisted error strings must not leak source paths or stack frames: they end
// up in the queue table and the detail log, both of which are operator-facing.
var (
	filePosPattern   = regexp.MustCompile(`[A-Za-z0-9_@.\-/\\]*[A-Za-z0-9_\-]+\.go:\d+(:\d+)?`)
	goroutinePattern = regexp.MustCompile(`(?s)goroutine \d+ \[[^\]]*\]:.*$`)
	spaceRuns        = regexp.MustCompile(`[ \t]{2,}`)
)

// SanitizeError renders an error for persistence: file:line fragments and
// goroutine stack dumps stripped, whitespace normalized.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	s = goroutinePattern.ReplaceAllString(s, "")
	s = filePosPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\n", " ")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
