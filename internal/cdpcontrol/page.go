package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

// Page is the handle of one attached video tab. It carries no state of its
// own; every call goes through the client's session for the tab.
type Page struct {
	client   *Client
	targetID target.ID
}

// TabID identifies the tab.
func (p *Page) TabID() string { return string(p.targetID) }

func (p *Page) eval(ctx context.Context, js string, out any) error {
	return p.client.evalOnTab(ctx, p.targetID, js, false, 0, out)
}

// evalUntilDeadline is eval for calls whose caller sets its own deadline,
// such as the feed timeout. The evaluation may run until that deadline.
func (p *Page) evalUntilDeadline(ctx context.Context, js string, out any) error {
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return p.client.evalOnTab(ctx, p.targetID, js, false, timeout, out)
}

// Ensure re-attaches the tab if its session was lost.
func (p *Page) Ensure(ctx context.Context) error {
	_, err := p.client.Attach(ctx, string(p.targetID))
	return err
}

// Location returns the current page URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	var href string
	err := p.eval(ctx, jsLocation, &href)
	return href, err
}

// Query implements lookup.Querier.
func (p *Page) Query(ctx context.Context, selector string) ([]lookup.Element, error) {
	var els []lookup.Element
	if err := p.eval(ctx, jsQueryElements(selector), &els); err != nil {
		return nil, err
	}
	return els, nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := p.eval(ctx, jsCount(selector), &n)
	return n, err
}

func (p *Page) Texts(ctx context.Context, selector string) ([]string, error) {
	var texts []string
	err := p.eval(ctx, jsTexts(selector), &texts)
	return texts, err
}

func (p *Page) Click(ctx context.Context, el lookup.Element) error {
	return p.eval(ctx, jsClick(el.Selector, el.Index), nil)
}

func (p *Page) ClickBody(ctx context.Context) error {
	return p.eval(ctx, jsClickBody, nil)
}

func (p *Page) ControlPresent(ctx context.Context) (bool, error) {
	var present bool
	err := p.eval(ctx, jsControlPresent, &present)
	return present, err
}

func (p *Page) InjectControl(ctx context.Context, anchor, videoID string) error {
	var placed bool
	if err := p.eval(ctx, jsInjectControl(anchor, videoID), &placed); err != nil {
		return err
	}
	if !placed {
		return fmt.Errorf("anchor %q not present", anchor)
	}
	return nil
}

// SetBusy disables the control and shows the busy label, or restores it.
func (p *Page) SetBusy(ctx context.Context, busy bool) error {
	return p.eval(ctx, jsSetBusy(busy), nil)
}

// Notify shows a transient notice, replacing any visible one.
func (p *Page) Notify(ctx context.Context, message string) error {
	return p.eval(ctx, jsNotice(message), nil)
}

// WriteClipboard copies text with the async clipboard API, falling back to a
// hidden textarea. It reports whether either method succeeded.
func (p *Page) WriteClipboard(ctx context.Context, text string) (bool, error) {
	var ok bool
	err := p.client.evalOnTab(ctx, p.targetID, jsWriteClipboard(text), true, 0, &ok)
	return ok, err
}

// PlayerResponse returns the captions part of the global player response,
// or nil when the global is unset.
func (p *Page) PlayerResponse(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.eval(ctx, jsPlayerResponse, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (p *Page) DocumentHTML(ctx context.Context) (string, error) {
	var html string
	err := p.evalUntilDeadline(ctx, jsDocumentHTML, &html)
	return html, err
}

// Get fetches rawURL from inside the page without credentials.
func (p *Page) Get(ctx context.Context, rawURL string) (int, []byte, error) {
	var resp struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	if err := p.evalUntilDeadline(ctx, jsFetchFeed(rawURL), &resp); err != nil {
		return 0, nil, err
	}
	return resp.Status, []byte(resp.Body), nil
}

// OnNavigate implements watch.EventSource.
func (p *Page) OnNavigate(handler func(watch.Event)) func() {
	return p.client.subscribersFor(p.targetID).addNav(handler)
}

// OnControlClick subscribes to clicks on the injected control. The handler
// runs on the CDP read loop and must not block.
func (p *Page) OnControlClick(handler func(ControlClick)) func() {
	return p.client.subscribersFor(p.targetID).addClick(handler)
}
