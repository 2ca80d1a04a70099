package transcript

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dgnsrekt/tubeprompt/internal/lookup"
)

// DOM is the page surface the panel strategies work against.
type DOM interface {
	lookup.Querier
	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)
	// Texts returns the text content of every element matching selector.
	Texts(ctx context.Context, selector string) ([]string, error)
	// Click clicks the element previously returned by Query.
	Click(ctx context.Context, el lookup.Element) error
	// ClickBody clicks the document body, closing open popups.
	ClickBody(ctx context.Context) error
}

// PanelReader reads transcript segments from an already rendered panel.
type PanelReader struct {
	DOM    DOM
	Tables *lookup.Tables
}

// Read returns the rendered segment text, or nil when the panel is absent or
// empty.
func (p *PanelReader) Read(ctx context.Context) *Result {
	texts, err := p.DOM.Texts(ctx, p.Tables.SegmentTextSelector())
	if err != nil {
		slog.Debug("transcript panel read failed", "error", err)
		return nil
	}
	segs := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			segs = append(segs, t)
		}
	}
	if len(segs) == 0 {
		return nil
	}
	return NewResult(strings.Join(segs, "\n"))
}
