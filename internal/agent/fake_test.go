package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/tubeprompt/internal/cdpcontrol"
	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/poll"
	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

type fakePage struct {
	id string

	mu          sync.Mutex
	href        string
	elements    map[string][]lookup.Element
	counts      map[string]int
	texts       map[string][]string
	player      json.RawMessage
	present     bool
	injected    []string
	busy        []bool
	notices     []string
	clipboard   []string
	clipboardOK bool
	ensures     int
	navs        map[int]func(watch.Event)
	clicks      map[int]func(cdpcontrol.ControlClick)
	nextSub     int
}

func newFakePage(id, href string) *fakePage {
	return &fakePage{
		id:          id,
		href:        href,
		elements:    make(map[string][]lookup.Element),
		counts:      make(map[string]int),
		texts:       make(map[string][]string),
		clipboardOK: true,
		navs:        make(map[int]func(watch.Event)),
		clicks:      make(map[int]func(cdpcontrol.ControlClick)),
	}
}

func (p *fakePage) TabID() string { return p.id }

func (p *fakePage) Ensure(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensures++
	return nil
}

func (p *fakePage) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.href, nil
}

func (p *fakePage) Query(_ context.Context, selector string) ([]lookup.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]lookup.Element(nil), p.elements[selector]...), nil
}

func (p *fakePage) Count(_ context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[selector], nil
}

func (p *fakePage) Texts(_ context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.texts[selector], nil
}

func (p *fakePage) Click(context.Context, lookup.Element) error { return nil }
func (p *fakePage) ClickBody(context.Context) error             { return nil }

func (p *fakePage) PlayerResponse(context.Context) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.player, nil
}

func (p *fakePage) DocumentHTML(context.Context) (string, error) { return "", nil }

func (p *fakePage) Get(context.Context, string) (int, []byte, error) {
	return 0, nil, errors.New("no network in tests")
}

func (p *fakePage) ControlPresent(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present, nil
}

func (p *fakePage) InjectControl(_ context.Context, _ string, videoID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present = true
	p.injected = append(p.injected, videoID)
	return nil
}

func (p *fakePage) SetBusy(_ context.Context, busy bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.busy = append(p.busy, busy)
	return nil
}

func (p *fakePage) Notify(_ context.Context, msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notices = append(p.notices, msg)
	return nil
}

func (p *fakePage) WriteClipboard(_ context.Context, text string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.clipboardOK {
		return false, nil
	}
	p.clipboard = append(p.clipboard, text)
	return true, nil
}

func (p *fakePage) OnNavigate(handler func(watch.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.navs[id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.navs, id)
	}
}

func (p *fakePage) OnControlClick(handler func(cdpcontrol.ControlClick)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSub
	p.nextSub++
	p.clicks[id] = handler
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.clicks, id)
	}
}

func (p *fakePage) click(cl cdpcontrol.ControlClick) {
	p.mu.Lock()
	handlers := make([]func(cdpcontrol.ControlClick), 0, len(p.clicks))
	for _, h := range p.clicks {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()
	for _, h := range handlers {
		h(cl)
	}
}

func (p *fakePage) subscriptions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.navs) + len(p.clicks)
}

func (p *fakePage) snapshot() (notices, clipboard []string, busy []bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.notices...),
		append([]string(nil), p.clipboard...),
		append([]bool(nil), p.busy...)
}

type fakeBrowser struct {
	mu      sync.Mutex
	tabs    []cdpcontrol.TabInfo
	pages   map[string]*fakePage
	listErr error
	lists   int
}

func newFakeBrowser(pages ...*fakePage) *fakeBrowser {
	b := &fakeBrowser{pages: make(map[string]*fakePage)}
	for _, p := range pages {
		b.pages[p.id] = p
		b.tabs = append(b.tabs, cdpcontrol.TabInfo{TabID: p.id, URL: p.href})
	}
	return b
}

func (b *fakeBrowser) ListTabs(context.Context) ([]cdpcontrol.TabInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists++
	if b.listErr != nil {
		return nil, b.listErr
	}
	return append([]cdpcontrol.TabInfo(nil), b.tabs...), nil
}

func (b *fakeBrowser) Attach(_ context.Context, tabID string) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pages[tabID]
	if !ok {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeTabNotFound, Message: tabID}
	}
	return p, nil
}

func (b *fakeBrowser) close(tabID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.tabs[:0]
	for _, t := range b.tabs {
		if t.TabID != tabID {
			kept = append(kept, t)
		}
	}
	b.tabs = kept
}

func noSleep(t *testing.T) {
	t.Helper()
	orig := poll.Sleep
	t.Cleanup(func() { poll.Sleep = orig })
	poll.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (p *fakePage) ensureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensures
}
