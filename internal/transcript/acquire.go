package transcript

import (
	"context"
	"log/slog"
	"time"
)

// Strategy names reported in Result.Source.
const (
	SourcePanel    = "panel"
	SourceUnlocked = "panel_unlocked"
	SourceFeed     = "caption_feed"
)

// Strategy is one acquisition attempt with a uniform signature.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) *Result
}

// FirstResult runs strategies in order and returns the first non-nil result,
// tagged with the strategy name. Later strategies are not run.
func FirstResult(ctx context.Context, strategies ...Strategy) *Result {
	for _, s := range strategies {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		res := s.Run(ctx)
		slog.Debug("transcript strategy done", "strategy", s.Name, "found", res != nil, "duration_ms", time.Since(start).Milliseconds())
		if res != nil {
			res.Source = s.Name
			return res
		}
	}
	return nil
}

type panelReader interface {
	Read(ctx context.Context) *Result
}

type panelOpener interface {
	Open(ctx context.Context) bool
}

type feedFetcher interface {
	Fetch(ctx context.Context) *Result
}

// Acquirer runs the acquisition chain for one page.
type Acquirer struct {
	reader   panelReader
	unlocker panelOpener
	feed     feedFetcher
}

func NewAcquirer(reader panelReader, unlocker panelOpener, feed feedFetcher) *Acquirer {
	return &Acquirer{reader: reader, unlocker: unlocker, feed: feed}
}

// Acquire returns the first transcript found, or nil when every strategy
// failed.
func (a *Acquirer) Acquire(ctx context.Context) *Result {
	return FirstResult(ctx, a.Strategies()...)
}

// Strategies lists the chain cheapest and least invasive first.
func (a *Acquirer) Strategies() []Strategy {
	return []Strategy{
		{Name: SourcePanel, Run: a.reader.Read},
		{Name: SourceUnlocked, Run: func(ctx context.Context) *Result {
			if !a.unlocker.Open(ctx) {
				return nil
			}
			return a.reader.Read(ctx)
		}},
		{Name: SourceFeed, Run: a.feed.Fetch},
	}
}
