// Package transcript acquires and cleans the transcript of the video shown
// on a watch page. Acquisition is a fixed chain of strategies: read an open
// transcript panel, drive the UI to open it and read again, then fall back
// to the raw caption feed.
package transcript

import "strings"

// Result is a normalized transcript: ordered, trimmed, non-empty lines.
type Result struct {
	Lines []string `json:"lines"`
	// Source names the strategy that produced the result.
	Source string `json:"source"`
}

// Text joins the lines with a single newline.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Lines, "\n")
}

// Normalize strips carriage returns, trims every line, drops blank lines and
// rejoins with "\n". Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) string {
	return strings.Join(normalizedLines(raw), "\n")
}

func normalizedLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r", "")
	parts := strings.Split(raw, "\n")
	lines := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	return lines
}

// NewResult normalizes raw into a Result, or returns nil when nothing is left.
func NewResult(raw string) *Result {
	lines := normalizedLines(raw)
	if len(lines) == 0 {
		return nil
	}
	return &Result{Lines: lines}
}
