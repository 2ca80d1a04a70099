package cdpcontrol

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

// ControlClick is a click on the injected control relayed by the page.
type ControlClick struct {
	VideoID string `json:"video_id"`
	Href    string `json:"href"`
}

// bindingMessage is the JSON payload the bootstrap sends through the binding.
type bindingMessage struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Href    string `json:"href"`
	VideoID string `json:"video_id,omitempty"`
}

// subscribers holds the page-level handlers of one tab. Handlers run on the
// CDP read loop and must not block.
type subscribers struct {
	mu     sync.Mutex
	nextID int
	nav    map[int]func(watch.Event)
	click  map[int]func(ControlClick)
}

func (c *Client) subscribersFor(targetID target.ID) *subscribers {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	s := c.subs[targetID]
	if s == nil {
		s = &subscribers{
			nav:   make(map[int]func(watch.Event)),
			click: make(map[int]func(ControlClick)),
		}
		c.subs[targetID] = s
	}
	return s
}

func (s *subscribers) addNav(fn func(watch.Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.nav[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.nav, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) addClick(fn func(ControlClick)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.click[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.click, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) emitNav(ev watch.Event) {
	s.mu.Lock()
	fns := make([]func(watch.Event), 0, len(s.nav))
	for _, fn := range s.nav {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *subscribers) emitClick(cl ControlClick) {
	s.mu.Lock()
	fns := make([]func(ControlClick), 0, len(s.click))
	for _, fn := range s.click {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(cl)
	}
}

// forSession returns the subscribers of the tab owning a CDP session.
func (c *Client) forSession(sessionID string) (*subscribers, target.ID, bool) {
	c.routesMu.Lock()
	targetID, ok := c.routes[sessionID]
	c.routesMu.Unlock()
	if !ok {
		return nil, "", false
	}
	c.subsMu.Lock()
	s := c.subs[targetID]
	c.subsMu.Unlock()
	return s, targetID, s != nil
}

func (c *Client) registerEventsLocked(cdp *rawCDP) {
	cdp.registerEventHandler(string(cdproto.EventRuntimeBindingCalled), c.onBindingCalled)
	cdp.registerEventHandler(string(cdproto.EventPageNavigatedWithinDocument), c.onNavigatedWithinDocument)
	cdp.registerEventHandler(string(cdproto.EventPageFrameNavigated), c.onFrameNavigated)
	cdp.registerEventHandler(string(cdproto.EventTargetDetachedFromTarget), c.onDetached)
}

func (c *Client) onBindingCalled(sessionID string, params json.RawMessage) {
	var ev runtime.EventBindingCalled
	if err := json.Unmarshal(params, &ev); err != nil || ev.Name != bindingName {
		return
	}
	s, targetID, ok := c.forSession(sessionID)
	if !ok {
		return
	}
	var msg bindingMessage
	if err := json.Unmarshal([]byte(ev.Payload), &msg); err != nil {
		slog.Debug("cdp bad binding payload", "tab_id", string(targetID), "error", err)
		return
	}
	switch msg.Type {
	case "nav":
		s.emitNav(watch.Event{Kind: watch.EventKind(msg.Kind), Href: msg.Href})
	case "click":
		slog.Debug("cdp control click", "tab_id", string(targetID), "video_id", msg.VideoID)
		s.emitClick(ControlClick{VideoID: msg.VideoID, Href: msg.Href})
	}
}

func (c *Client) onNavigatedWithinDocument(sessionID string, params json.RawMessage) {
	var ev page.EventNavigatedWithinDocument
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	if s, _, ok := c.forSession(sessionID); ok {
		s.emitNav(watch.Event{Kind: watch.EventSameDocument, Href: ev.URL})
	}
}

func (c *Client) onFrameNavigated(sessionID string, params json.RawMessage) {
	var ev page.EventFrameNavigated
	if err := json.Unmarshal(params, &ev); err != nil || ev.Frame == nil {
		return
	}
	// Only the top-level frame carries the watch page location.
	if ev.Frame.ParentID != "" {
		return
	}
	if s, _, ok := c.forSession(sessionID); ok {
		s.emitNav(watch.Event{Kind: watch.EventDocument, Href: ev.Frame.URL})
	}
}

func (c *Client) onDetached(_ string, params json.RawMessage) {
	var ev target.EventDetachedFromTarget
	if err := json.Unmarshal(params, &ev); err != nil {
		return
	}
	sid := string(ev.SessionID)
	c.routesMu.Lock()
	targetID, ok := c.routes[sid]
	delete(c.routes, sid)
	c.routesMu.Unlock()
	if !ok {
		return
	}
	slog.Info("cdp session detached", "tab_id", string(targetID))
	// The next evaluation on the tab fails, discards the session and reattaches.
}
