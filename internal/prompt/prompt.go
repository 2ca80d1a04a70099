// Package prompt assembles the chat-ready text handed to the clipboard.
package prompt

import "strings"

// Placeholders used when the page does not expose a value.
const (
	UnknownTitle   = "Unknown title"
	UnknownChannel = "Unknown channel"
)

var instructions = []string{
	"Please summarise this YouTube transcript.",
	"Give me:",
	"- a 6-10 bullet summary",
	"- key takeaways",
	"- any actionable items",
	"",
	"Transcript:",
	"",
}

// Context describes the video a transcript belongs to.
type Context struct {
	Title   string `json:"title"`
	Channel string `json:"channel"`
	URL     string `json:"url"`
}

// WithDefaults fills empty title and channel with placeholders.
func (c Context) WithDefaults() Context {
	if strings.TrimSpace(c.Title) == "" {
		c.Title = UnknownTitle
	}
	if strings.TrimSpace(c.Channel) == "" {
		c.Channel = UnknownChannel
	}
	return c
}

// Header renders the context lines that precede the body.
func Header(c Context) string {
	c = c.WithDefaults()
	return "Title: " + c.Title + "\nChannel: " + c.Channel + "\nURL: " + c.URL + "\n"
}

// Build returns the header, the summarisation instructions and the transcript.
func Build(c Context, transcript string) string {
	return Header(c) + strings.Join(append(append([]string(nil), instructions...), transcript), "\n")
}

// TranscriptOnly returns the header followed by the bare transcript.
func TranscriptOnly(c Context, transcript string) string {
	return Header(c) + transcript
}
