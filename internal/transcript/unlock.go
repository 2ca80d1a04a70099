package transcript

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/poll"
)

// UnlockTiming holds the fixed delays that let the page's render cycle catch
// up between UI steps.
type UnlockTiming struct {
	Settle       time.Duration
	AfterClick   time.Duration
	AfterExpand  time.Duration
	WaitInterval time.Duration
	WaitAttempts int
}

// DefaultUnlockTiming waits up to ~3s for segments after each click.
var DefaultUnlockTiming = UnlockTiming{
	Settle:       200 * time.Millisecond,
	AfterClick:   250 * time.Millisecond,
	AfterExpand:  200 * time.Millisecond,
	WaitInterval: 200 * time.Millisecond,
	WaitAttempts: 15,
}

// PanelUnlocker drives the page UI until transcript segments are rendered.
type PanelUnlocker struct {
	DOM    DOM
	Tables *lookup.Tables
	Timing UnlockTiming
}

// Open tries, in order: already open, direct transcript button, direct
// button after expanding the description, and the overflow menu entry.
// It reports whether segments are present afterwards.
func (u *PanelUnlocker) Open(ctx context.Context) bool {
	if u.segmentsPresent(ctx) {
		return true
	}
	if err := poll.Sleep(ctx, u.Timing.Settle); err != nil {
		return false
	}

	if u.clickDirect(ctx) {
		return u.waitForSegments(ctx)
	}

	if u.expandDescription(ctx) {
		slog.Debug("transcript unlock: description expanded")
	}
	if u.clickDirect(ctx) {
		return u.waitForSegments(ctx)
	}

	if u.clickFromMenu(ctx) {
		return u.waitForSegments(ctx)
	}
	return false
}

func (u *PanelUnlocker) segmentsPresent(ctx context.Context) bool {
	n, err := u.DOM.Count(ctx, u.Tables.Segment)
	return err == nil && n > 0
}

func (u *PanelUnlocker) waitForSegments(ctx context.Context) bool {
	return poll.Until(ctx, u.Timing.WaitInterval, u.Timing.WaitAttempts, u.segmentsPresent)
}

// clickAndSettle clicks el and waits d. A failed click counts as no click.
func (u *PanelUnlocker) clickAndSettle(ctx context.Context, el lookup.Element, d time.Duration) bool {
	if err := u.DOM.Click(ctx, el); err != nil {
		slog.Debug("transcript unlock click failed", "selector", el.Selector, "index", el.Index, "error", err)
		return false
	}
	_ = poll.Sleep(ctx, d)
	return true
}

func (u *PanelUnlocker) clickDirect(ctx context.Context) bool {
	el, ok := u.Tables.DirectClick.Find(ctx, u.DOM)
	if !ok {
		return false
	}
	slog.Debug("transcript unlock: direct control", "label", u.Tables.DirectClick.Label(el))
	return u.clickAndSettle(ctx, el, u.Timing.AfterClick)
}

func (u *PanelUnlocker) expandDescription(ctx context.Context) bool {
	el, ok := u.Tables.Expander.Find(ctx, u.DOM)
	if !ok {
		return false
	}
	return u.clickAndSettle(ctx, el, u.Timing.AfterExpand)
}

func (u *PanelUnlocker) clickFromMenu(ctx context.Context) bool {
	btn, ok := u.Tables.MenuButton.Find(ctx, u.DOM)
	if !ok || !u.clickAndSettle(ctx, btn, u.Timing.AfterClick) {
		return false
	}

	item, ok := u.Tables.MenuItem.Find(ctx, u.DOM)
	if ok && u.clickAndSettle(ctx, item, u.Timing.AfterClick) {
		slog.Debug("transcript unlock: menu entry", "label", u.Tables.MenuItem.Label(item))
		return true
	}

	if err := u.DOM.ClickBody(ctx); err != nil {
		slog.Debug("transcript unlock: menu dismiss failed", "error", err)
	}
	return false
}
