package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
)

// Lowercased fragments of evaluation errors caused by a lost connection or
// a navigated-away document rather than by the page script itself.
var retryableCauses = []string{
	"context canceled",
	"target closed",
	"session closed",
	"no session",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"connection lost",
	"not connected",
	"execution context was destroyed",
}

// retryable reports whether a failed evaluation may succeed after the
// connection or the tab list has been refreshed.
func retryable(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		msg := strings.ToLower(coded.Cause.Error())
		return slices.ContainsFunc(retryableCauses, func(s string) bool {
			return strings.Contains(msg, s)
		})
	}
	return false
}

type tabSession struct {
	info TabInfo

	mu        sync.Mutex
	sessionID string
}

// Client attaches to the video tabs of one browser and evaluates page
// operations on them.
type Client struct {
	cdpURL      string
	tabFilter   string
	evalTimeout time.Duration

	// mu guards cdp and tabs.
	mu   sync.Mutex
	cdp  *rawCDP
	tabs map[target.ID]*tabSession

	// routesMu guards routes and is never held while taking another lock.
	routesMu sync.Mutex
	routes   map[string]target.ID

	// evalLocks serialise evaluations per tab across reconnects.
	evalLocksMu sync.Mutex
	evalLocks   map[target.ID]*sync.Mutex

	subsMu sync.Mutex
	subs   map[target.ID]*subscribers
}

func NewClient(cdpURL, tabFilter string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		tabFilter:   strings.ToLower(strings.TrimSpace(tabFilter)),
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*tabSession),
		routes:      make(map[string]target.ID),
		evalLocks:   make(map[target.ID]*sync.Mutex),
		subs:        make(map[target.ID]*subscribers),
	}
}

// Connect opens the browser connection and loads the current tab list.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx)
}

func (c *Client) dialLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}
	c.teardownLocked()

	conn := newRawCDP(c.cdpURL)
	if err := conn.connect(ctx); err != nil {
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.cdp = conn
	c.registerEventsLocked(conn)

	if err := c.reconcileTabsLocked(ctx); err != nil {
		slog.Error("cdp initial tab listing failed", "cdp_url", c.cdpURL, "error", err)
		c.teardownLocked()
		return err
	}
	slog.Info("cdp connected", "cdp_url", c.cdpURL, "video_tabs", len(c.tabs))
	return nil
}

// Close detaches from every tab and drops the connection. Tabs stay open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	return nil
}

func (c *Client) teardownLocked() {
	if conn := c.cdp; conn != nil {
		for id, s := range c.tabs {
			sid := s.take()
			if sid == "" {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := conn.detachFromTarget(ctx, sid); err != nil {
				slog.Debug("cdp detach on teardown failed", "tab_id", string(id), "error", err)
			}
			cancel()
		}
		conn.close()
		c.cdp = nil
	}
	c.tabs = make(map[target.ID]*tabSession)
	c.routesMu.Lock()
	c.routes = make(map[string]target.ID)
	c.routesMu.Unlock()
}

// ListTabs refreshes the tab list and returns the video tabs ordered by id.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if err := c.refreshTabs(ctx); err != nil {
		slog.Warn("cdp list tabs failed", "error", err)
		return nil, err
	}

	c.mu.Lock()
	tabs := make([]TabInfo, 0, len(c.tabs))
	for _, s := range c.tabs {
		tabs = append(tabs, s.info)
	}
	c.mu.Unlock()

	slices.SortFunc(tabs, func(a, b TabInfo) int { return strings.Compare(a.TabID, b.TabID) })
	return tabs, nil
}

// Attach makes sure the tab has a prepared session and returns its page
// handle. Calling it again for an attached tab is cheap.
func (c *Client) Attach(ctx context.Context, tabID string) (*Page, error) {
	id := target.ID(strings.TrimSpace(tabID))
	if id == "" {
		return nil, newError(CodeValidation, "tab id is required", nil)
	}
	s, err := c.findTab(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := c.sessionFor(ctx, s, id); err != nil {
		return nil, err
	}
	return &Page{client: c, targetID: id}, nil
}

// evalOnTab evaluates js on the tab and decodes the result data into out.
// The evaluation may run for the larger of timeout and the client's eval
// timeout. A retryable failure is tried once more after reconnecting or
// refreshing the tab list.
func (c *Client) evalOnTab(ctx context.Context, id target.ID, js string, userGesture bool, timeout time.Duration, out any) error {
	lock := c.evalLock(id)
	lock.Lock()
	defer lock.Unlock()

	err := c.evalOnce(ctx, id, js, userGesture, timeout, out)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return err
	}

	slog.Warn("cdp eval failed, retrying", "tab_id", string(id), "error", err)
	if CodeOf(err) == CodeCDPUnavailable {
		if rerr := c.redial(ctx); rerr != nil {
			slog.Error("cdp reconnect failed", "tab_id", string(id), "error", rerr)
			return rerr
		}
	} else if rerr := c.refreshTabs(ctx); rerr != nil {
		slog.Warn("cdp tab refresh failed", "tab_id", string(id), "error", rerr)
	}
	return c.evalOnce(ctx, id, js, userGesture, timeout, out)
}

func (c *Client) evalOnce(ctx context.Context, id target.ID, js string, userGesture bool, timeout time.Duration, out any) error {
	s, err := c.findTab(ctx, id)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.cdp
	c.mu.Unlock()
	if conn == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	sid, err := c.sessionFor(ctx, s, id)
	if err != nil {
		return err
	}

	evalCtx, cancel := context.WithTimeout(ctx, max(timeout, c.evalTimeout))
	defer cancel()
	raw, err := conn.evaluate(evalCtx, sid, js, userGesture)
	if err != nil {
		slog.Warn("cdp eval failed", "tab_id", string(id), "error", err)
		c.discard(conn, s)
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(evalCtx.Err(), context.DeadlineExceeded):
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		case errors.Is(err, errNotConnected):
			return newError(CodeCDPUnavailable, "CDP client not connected", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodePageResult(raw, out)
}

// pageResult is the object every page operation resolves to.
type pageResult struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func decodePageResult(raw string, out any) error {
	var res pageResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return newError(CodeEvalFailure, "page returned malformed result", err)
	}
	if !res.OK {
		code := res.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, res.ErrorMessage, nil)
	}
	if out == nil || len(res.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Data, out); err != nil {
		return newError(CodeEvalFailure, "page returned malformed data", err)
	}
	return nil
}

// sessionFor returns the tab's prepared session, attaching and installing
// the bootstrap on first use.
func (c *Client) sessionFor(ctx context.Context, s *tabSession, id target.ID) (string, error) {
	c.mu.Lock()
	conn := c.cdp
	c.mu.Unlock()
	if conn == nil {
		return "", newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != "" {
		return s.sessionID, nil
	}

	sid, err := conn.attachToTarget(ctx, string(id))
	if err != nil {
		return "", newError(CodeCDPUnavailable, "attach to target failed", err)
	}
	// Routed before preparing so events raised during setup reach the tab.
	c.route(sid, id)
	if err := conn.prepareSession(ctx, sid, bindingName, jsBootstrap); err != nil {
		c.unroute(sid)
		_ = conn.detachFromTarget(ctx, sid)
		return "", newError(CodeEvalFailure, "prepare session failed", err)
	}
	s.sessionID = sid
	slog.Debug("cdp session ready", "tab_id", string(id), "session_id", sid)
	return sid, nil
}

// take clears and returns the session id.
func (s *tabSession) take() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid := s.sessionID
	s.sessionID = ""
	return sid
}

// discard drops the tab's session so the next evaluation attaches afresh,
// and detaches it in the browser so a stuck evaluation does not keep it.
func (c *Client) discard(conn *rawCDP, s *tabSession) {
	sid := s.take()
	if sid == "" {
		return
	}
	c.unroute(sid)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.detachFromTarget(ctx, sid); err != nil {
		slog.Debug("cdp detach of failed session failed", "session_id", sid, "error", err)
	}
}

func (c *Client) route(sid string, id target.ID) {
	c.routesMu.Lock()
	c.routes[sid] = id
	c.routesMu.Unlock()
}

func (c *Client) unroute(sid string) {
	c.routesMu.Lock()
	delete(c.routes, sid)
	c.routesMu.Unlock()
}

// findTab looks the tab up, refreshing the tab list once on a miss.
func (c *Client) findTab(ctx context.Context, id target.ID) (*tabSession, error) {
	lookup := func() *tabSession {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.tabs[id]
	}
	if s := lookup(); s != nil {
		return s, nil
	}
	if err := c.refreshTabs(ctx); err != nil {
		return nil, err
	}
	if s := lookup(); s != nil {
		return s, nil
	}
	return nil, newError(CodeTabNotFound, "tab not found: "+string(id), nil)
}

func (c *Client) refreshTabs(ctx context.Context) error {
	c.mu.Lock()
	up := c.cdp != nil && c.cdp.alive()
	c.mu.Unlock()
	if !up {
		if err := c.redial(ctx); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcileTabsLocked(ctx)
}

func (c *Client) redial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx)
}

// isVideoTab applies the type and URL filter to a browser target.
func (c *Client) isVideoTab(t *target.Info) bool {
	if t.Type != "page" {
		return false
	}
	return c.tabFilter == "" || strings.Contains(strings.ToLower(t.URL), c.tabFilter)
}

// reconcileTabsLocked makes the tab table match the browser's targets.
// Surviving tabs keep their sessions; closed ones lose their routes and
// eval locks.
func (c *Client) reconcileTabsLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	next := make(map[target.ID]*tabSession, len(targets))
	for _, t := range targets {
		if !c.isVideoTab(t) {
			continue
		}
		s := c.tabs[t.TargetID]
		if s == nil {
			s = &tabSession{}
		}
		s.info = TabInfo{TabID: string(t.TargetID), URL: t.URL, Title: t.Title}
		next[t.TargetID] = s
	}
	c.tabs = next

	c.routesMu.Lock()
	maps.DeleteFunc(c.routes, func(_ string, id target.ID) bool { return next[id] == nil })
	c.routesMu.Unlock()
	c.evalLocksMu.Lock()
	maps.DeleteFunc(c.evalLocks, func(id target.ID, _ *sync.Mutex) bool { return next[id] == nil })
	c.evalLocksMu.Unlock()

	slog.Debug("cdp tabs reconciled", "targets", len(targets), "video_tabs", len(next))
	return nil
}

func (c *Client) evalLock(id target.ID) *sync.Mutex {
	c.evalLocksMu.Lock()
	defer c.evalLocksMu.Unlock()
	m := c.evalLocks[id]
	if m == nil {
		m = new(sync.Mutex)
		c.evalLocks[id] = m
	}
	return m
}
