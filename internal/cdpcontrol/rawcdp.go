package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var (
	errNotConnected = errors.New("cdp: not connected")
	errConnLost     = errors.New("cdp: connection lost")
)

// message is an outbound CDP command.
type message struct {
	ID        int64  `json:"id"`
	Method    string `json:"method"`
	SessionID string `json:"sessionId,omitempty"`
	Params    any    `json:"params,omitempty"`
}

// inbound is a reply (ID set) or an event (Method set).
type inbound struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	SessionID string          `json:"sessionId"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// callTable tracks commands awaiting a reply.
type callTable struct {
	mu    sync.Mutex
	calls map[int64]chan inbound
}

func (t *callTable) open(id int64) <-chan inbound {
	ch := make(chan inbound, 1)
	t.mu.Lock()
	if t.calls == nil {
		t.calls = make(map[int64]chan inbound)
	}
	t.calls[id] = ch
	t.mu.Unlock()
	return ch
}

func (t *callTable) forget(id int64) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

func (t *callTable) resolve(msg inbound) {
	t.mu.Lock()
	ch, ok := t.calls[msg.ID]
	delete(t.calls, msg.ID)
	t.mu.Unlock()
	if ok {
		ch <- msg
	}
}

// abandon closes every open call; waiters see errConnLost.
func (t *callTable) abandon() {
	t.mu.Lock()
	for id, ch := range t.calls {
		close(ch)
		delete(t.calls, id)
	}
	t.mu.Unlock()
}

type listener struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// rawCDP drives one browser-level websocket with flattened target sessions.
// Each session only gets the Runtime and Page domains.
type rawCDP struct {
	base string

	connMu sync.Mutex
	conn   net.Conn
	closed chan struct{}

	nextID atomic.Int64
	calls  callTable

	listenMu  sync.RWMutex
	listeners map[string][]listener
}

func newRawCDP(base string) *rawCDP {
	closed := make(chan struct{})
	close(closed)
	return &rawCDP{
		base:      strings.TrimRight(base, "/"),
		closed:    closed,
		listeners: make(map[string][]listener),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn != nil {
		return nil
	}

	var version struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := r.discover(ctx, "/json/version", 5*time.Second, &version); err != nil {
		return fmt.Errorf("cdp: discover browser: %w", err)
	}
	if version.WebSocketDebuggerURL == "" {
		return errors.New("cdp: browser reported no websocket url")
	}

	slog.Debug("cdp dialing browser", "ws_url", version.WebSocketDebuggerURL)
	conn, _, _, err := ws.Dial(ctx, version.WebSocketDebuggerURL)
	if err != nil {
		return fmt.Errorf("cdp: dial: %w", err)
	}
	r.conn = conn
	r.closed = make(chan struct{})
	go r.receive(conn, r.closed)
	return nil
}

// alive reports whether the socket is open and its reader still running.
func (r *rawCDP) alive() bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	select {
	case <-r.closed:
		return false
	default:
		return r.conn != nil
	}
}

func (r *rawCDP) close() {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if r.conn == nil {
		return
	}
	_ = r.conn.Close()
	r.conn = nil
}

func (r *rawCDP) receive(conn net.Conn, closed chan struct{}) {
	defer close(closed)
	defer r.calls.abandon()
	for {
		frame, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("cdp reader stopped", "error", err)
			return
		}
		var msg inbound
		if err := json.Unmarshal(frame, &msg); err != nil {
			continue
		}
		if msg.ID != 0 {
			r.calls.resolve(msg)
		} else if msg.Method != "" {
			r.emit(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

// call sends method, on a flattened session when sessionID is set, and
// returns the reply's result object.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	out := message{ID: r.nextID.Add(1), Method: method, SessionID: sessionID, Params: params}
	frame, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("cdp: %s: encode: %w", method, err)
	}

	reply := r.calls.open(out.ID)
	r.connMu.Lock()
	if r.conn == nil {
		r.connMu.Unlock()
		r.calls.forget(out.ID)
		return nil, errNotConnected
	}
	err = wsutil.WriteClientText(r.conn, frame)
	r.connMu.Unlock()
	if err != nil {
		r.calls.forget(out.ID)
		return nil, fmt.Errorf("cdp: %s: write: %w", method, err)
	}

	select {
	case <-ctx.Done():
		r.calls.forget(out.ID)
		return nil, ctx.Err()
	case msg, ok := <-reply:
		switch {
		case !ok:
			return nil, errConnLost
		case msg.Error != nil:
			return nil, fmt.Errorf("cdp: %s: %s", method, msg.Error.Message)
		}
		return msg.Result, nil
	}
}

func (r *rawCDP) attachToTarget(ctx context.Context, targetID string) (string, error) {
	result, err := r.call(ctx, "", target.CommandAttachToTarget, &target.AttachToTargetParams{
		TargetID: target.ID(targetID),
		Flatten:  true,
	})
	if err != nil {
		return "", err
	}
	var attached struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(result, &attached); err != nil {
		return "", fmt.Errorf("cdp: decode attach reply: %w", err)
	}
	if attached.SessionID == "" {
		return "", fmt.Errorf("cdp: attach to %s gave no session", targetID)
	}
	return attached.SessionID, nil
}

func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	_, err := r.call(ctx, "", target.CommandDetachFromTarget, &target.DetachFromTargetParams{
		SessionID: target.SessionID(sessionID),
	})
	return err
}

// prepareSession turns on the event domains, exposes the notification
// binding and installs bootstrap for the current and all later documents.
func (r *rawCDP) prepareSession(ctx context.Context, sessionID, bindingName, bootstrap string) error {
	steps := []struct {
		method string
		params any
	}{
		{runtime.CommandEnable, nil},
		{page.CommandEnable, nil},
		{runtime.CommandAddBinding, &runtime.AddBindingParams{Name: bindingName}},
		{page.CommandAddScriptToEvaluateOnNewDocument, &page.AddScriptToEvaluateOnNewDocumentParams{Source: bootstrap}},
	}
	for _, step := range steps {
		if _, err := r.call(ctx, sessionID, step.method, step.params); err != nil {
			return err
		}
	}
	_, err := r.evaluate(ctx, sessionID, bootstrap, false)
	return err
}

// evaluate runs js on the session, awaiting promises, and returns the value.
// A string value comes back unquoted; anything else as raw JSON. The
// clipboard API only works when userGesture is set.
func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string, userGesture bool) (string, error) {
	result, err := r.call(ctx, sessionID, runtime.CommandEvaluate, &runtime.EvaluateParams{
		Expression:    js,
		ReturnByValue: true,
		AwaitPromise:  true,
		UserGesture:   userGesture,
	})
	if err != nil {
		return "", err
	}

	var evaluated struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &evaluated); err != nil {
		return "", fmt.Errorf("cdp: decode evaluate reply: %w", err)
	}
	if ex := evaluated.ExceptionDetails; ex != nil {
		text := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			text = ex.Exception.Description
		}
		return "", fmt.Errorf("cdp: page threw: %s", text)
	}

	value := evaluated.Result.Value
	var s string
	if json.Unmarshal(value, &s) == nil {
		return s, nil
	}
	return string(value), nil
}

// listTargets reads the open targets from the browser's /json/list.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := r.discover(ctx, "/json/list", 10*time.Second, &entries); err != nil {
		return nil, fmt.Errorf("cdp: list targets: %w", err)
	}
	infos := make([]*target.Info, len(entries))
	for i, e := range entries {
		infos[i] = &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL}
	}
	return infos, nil
}

// discover GETs one of the browser's HTTP discovery endpoints into out.
func (r *rawCDP) discover(ctx context.Context, path string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// registerEventHandler subscribes fn to a CDP event and returns the
// unsubscribe func. fn runs on the reader goroutine and must return quickly.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.nextID.Add(1)
	r.listenMu.Lock()
	r.listeners[method] = append(r.listeners[method], listener{id: id, fn: fn})
	r.listenMu.Unlock()

	return func() {
		r.listenMu.Lock()
		defer r.listenMu.Unlock()
		kept := r.listeners[method][:0:0]
		for _, l := range r.listeners[method] {
			if l.id != id {
				kept = append(kept, l)
			}
		}
		r.listeners[method] = kept
	}
}

func (r *rawCDP) emit(method, sessionID string, params json.RawMessage) {
	r.listenMu.RLock()
	ls := r.listeners[method]
	r.listenMu.RUnlock()
	for _, l := range ls {
		l.fn(sessionID, params)
	}
}
