package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/tubeprompt/internal/lookup"
	"github.com/dgnsrekt/tubeprompt/internal/watch"
)

func connectFake(t *testing.T, fb *fakeBrowser) *Client {
	t.Helper()
	c := NewClient(fb.srv.URL, "youtube.com", 2*time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientListTabsFiltersTargets(t *testing.T) {
	fb := newFakeBrowser(t, videoTargets(), nil)
	c := connectFake(t, fb)

	tabs, err := c.ListTabs(context.Background())
	if err != nil {
		t.Fatalf("ListTabs() = %v", err)
	}
	if len(tabs) != 1 || tabs[0].TabID != "tab-video" {
		t.Fatalf("ListTabs() = %+v; want only tab-video", tabs)
	}
}

func TestClientAttachPreparesSession(t *testing.T) {
	fb := newFakeBrowser(t, videoTargets(), nil)
	c := connectFake(t, fb)

	p, err := c.Attach(context.Background(), "tab-video")
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}
	if p.TabID() != "tab-video" {
		t.Fatalf("TabID() = %q", p.TabID())
	}

	want := []string{
		"Target.attachToTarget",
		"Runtime.enable",
		"Page.enable",
		"Runtime.addBinding",
		"Page.addScriptToEvaluateOnNewDocument",
		"Runtime.evaluate",
	}
	got := fb.calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v; want %v", got, want)
		}
	}

	// A second attach reuses the session.
	if _, err := c.Attach(context.Background(), "tab-video"); err != nil {
		t.Fatalf("Attach() again = %v", err)
	}
	if n := len(fb.calls()); n != len(want) {
		t.Fatalf("calls after re-attach = %d; want %d", n, len(want))
	}
}

func TestClientAttachUnknownTab(t *testing.T) {
	fb := newFakeBrowser(t, videoTargets(), nil)
	c := connectFake(t, fb)

	for _, id := range []string{"tab-other", "missing"} {
		_, err := c.Attach(context.Background(), id)
		var coded *CodedError
		if !errors.As(err, &coded) || coded.Code != CodeTabNotFound {
			t.Fatalf("Attach(%q) = %v; want %s", id, err, CodeTabNotFound)
		}
	}

	_, err := c.Attach(context.Background(), "  ")
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeValidation {
		t.Fatalf("Attach(blank) = %v; want %s", err, CodeValidation)
	}
}

func TestPageOperationsDecodeEnvelopes(t *testing.T) {
	fb := newFakeBrowser(t, videoTargets(), func(expr string) string {
		switch {
		case strings.Contains(expr, "location.href") && !strings.Contains(expr, "send("):
			return `{"ok":true,"data":"https://www.youtube.com/watch?v=abc"}`
		case strings.Contains(expr, "aria_label"):
			return `{"ok":true,"data":[{"selector":"button","index":0,"tag":"button","aria_label":"Show transcript","width":10,"height":5}]}`
		case strings.Contains(expr, "navigator.clipboard"):
			return `{"ok":true,"data":true}`
		case strings.Contains(expr, "credentials:\"omit\""):
			return `{"ok":true,"data":{"status":200,"body":"{\"events\":[]}"}}`
		case strings.Contains(expr, "el.click()"):
			return `{"ok":false,"error_code":"EVAL_FAILURE","error_message":"element no longer present"}`
		case strings.Contains(expr, "ytInitialPlayerResponse"):
			return `{"ok":true,"data":null}`
		}
		return ""
	})
	c := connectFake(t, fb)
	p, err := c.Attach(context.Background(), "tab-video")
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}
	ctx := context.Background()

	href, err := p.Location(ctx)
	if err != nil || href != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("Location() = %q, %v", href, err)
	}

	els, err := p.Query(ctx, "button")
	if err != nil {
		t.Fatalf("Query() = %v", err)
	}
	if len(els) != 1 || els[0].AriaLabel != "Show transcript" || !els[0].Visible() {
		t.Fatalf("Query() = %+v", els)
	}

	ok, err := p.WriteClipboard(ctx, "prompt text")
	if err != nil || !ok {
		t.Fatalf("WriteClipboard() = %v, %v", ok, err)
	}
	if expr, gesture, found := fb.lastExpr("navigator.clipboard"); !found || !gesture || !strings.Contains(expr, `"prompt text"`) {
		t.Fatalf("clipboard eval gesture = %v found = %v", gesture, found)
	}

	status, body, err := p.Get(ctx, "https://www.youtube.com/api/timedtext?fmt=json3")
	if err != nil || status != 200 || string(body) != `{"events":[]}` {
		t.Fatalf("Get() = %d, %q, %v", status, body, err)
	}

	raw, err := p.PlayerResponse(ctx)
	if err != nil || (len(raw) != 0 && string(raw) != "null") {
		t.Fatalf("PlayerResponse() = %q, %v; want empty", raw, err)
	}

	err = p.Click(ctx, lookup.Element{Selector: "button", Index: 3})
	var coded *CodedError
	if !errors.As(err, &coded) || coded.Code != CodeEvalFailure || coded.Message != "element no longer present" {
		t.Fatalf("Click() = %v; want page-reported failure", err)
	}
}

func TestPageEvalTimeouts(t *testing.T) {
	fb := newFakeBrowser(t, videoTargets(), func(expr string) string {
		switch {
		case strings.Contains(expr, "credentials:\"omit\""):
			time.Sleep(200 * time.Millisecond)
			return `{"ok":true,"data":{"status":200,"body":"{}"}}`
		case strings.Contains(expr, "location.href") && !strings.Contains(expr, "send("):
			time.Sleep(200 * time.Millisecond)
			return `{"ok":true,"data":"https://www.youtube.com/watch?v=abc"}`
		}
		return ""
	})
	c := NewClient(fb.srv.URL, "youtube.com", 50*time.Millisecond)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	p, err := c.Attach(context.Background(), "tab-video")
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}

	t.Run("feed_fetch_runs_until_caller_deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		status, _, err := p.Get(ctx, "https://www.youtube.com/api/timedtext?fmt=json3")
		if err != nil || status != 200 {
			t.Fatalf("Get() = %d, %v; want 200 within the caller deadline", status, err)
		}
	})

	t.Run("timed_out_session_is_detached", func(t *testing.T) {
		_, err := p.Location(context.Background())
		if CodeOf(err) != CodeEvalTimeout {
			t.Fatalf("Location() = %v; want %s", err, CodeEvalTimeout)
		}
		calls := fb.calls()
		if calls[len(calls)-1] != "Target.detachFromTarget" {
			t.Fatalf("last call = %q; want Target.detachFromTarget", calls[len(calls)-1])
		}
	})
}

func TestPageEventsAreRoutedToSubscribers(t *testing.T) {
	fb := newFakeBrowser(t, videoTargets(), nil)
	c := connectFake(t, fb)
	p, err := c.Attach(context.Background(), "tab-video")
	if err != nil {
		t.Fatalf("Attach() = %v", err)
	}

	navs := make(chan watch.Event, 8)
	clicks := make(chan ControlClick, 8)
	unsubNav := p.OnNavigate(func(ev watch.Event) { navs <- ev })
	defer p.OnControlClick(func(cl ControlClick) { clicks <- cl })()

	payload := func(v any) string {
		b, _ := json.Marshal(v)
		return string(b)
	}

	fb.emit("Runtime.bindingCalled", "other-session", map[string]any{
		"name": bindingName, "payload": payload(map[string]string{"type": "nav", "kind": "push_state", "href": "https://x"}),
	})
	fb.emit("Runtime.bindingCalled", fakeSessionID, map[string]any{
		"name": bindingName, "executionContextId": 1,
		"payload": payload(map[string]string{"type": "nav", "kind": "push_state", "href": "https://www.youtube.com/watch?v=b"}),
	})
	fb.emit("Runtime.bindingCalled", fakeSessionID, map[string]any{
		"name": bindingName, "executionContextId": 1,
		"payload": payload(map[string]string{"type": "click", "video_id": "b", "href": "https://www.youtube.com/watch?v=b"}),
	})
	fb.emit("Page.navigatedWithinDocument", fakeSessionID, map[string]any{
		"frameId": "main", "url": "https://www.youtube.com/watch?v=c",
	})
	fb.emit("Page.frameNavigated", fakeSessionID, map[string]any{
		"frame": map[string]any{"id": "child", "parentId": "main", "loaderId": "l", "url": "https://ads.example/", "securityOrigin": "", "mimeType": "text/html"},
	})
	fb.emit("Page.frameNavigated", fakeSessionID, map[string]any{
		"frame": map[string]any{"id": "main", "loaderId": "l2", "url": "https://www.youtube.com/watch?v=d", "securityOrigin": "", "mimeType": "text/html"},
	})

	want := []watch.Event{
		{Kind: watch.EventPush, Href: "https://www.youtube.com/watch?v=b"},
		{Kind: watch.EventSameDocument, Href: "https://www.youtube.com/watch?v=c"},
		{Kind: watch.EventDocument, Href: "https://www.youtube.com/watch?v=d"},
	}
	for i, w := range want {
		select {
		case got := <-navs:
			if got != w {
				t.Fatalf("nav[%d] = %+v; want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for nav[%d]", i)
		}
	}
	select {
	case cl := <-clicks:
		if cl.VideoID != "b" {
			t.Fatalf("click = %+v; want video b", cl)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for click")
	}

	unsubNav()
	fb.emit("Page.navigatedWithinDocument", fakeSessionID, map[string]any{"frameId": "main", "url": "https://www.youtube.com/watch?v=e"})
	// Round trip a command so the event above has been dispatched.
	if _, err := p.Location(context.Background()); err != nil {
		t.Fatalf("Location() = %v", err)
	}
	select {
	case ev := <-navs:
		t.Fatalf("nav after unsubscribe = %+v", ev)
	default:
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain", errors.New("boom"), false},
		{"cdp_unavailable", newError(CodeCDPUnavailable, "down", nil), true},
		{"tab_not_found", newError(CodeTabNotFound, "gone", nil), false},
		{"eval_failure_no_cause", newError(CodeEvalFailure, "page said no", nil), false},
		{"eval_failure_transient", newError(CodeEvalFailure, "evaluation failed", errors.New("cdp: Runtime.evaluate: No session with given id")), true},
		{"eval_failure_context_destroyed", newError(CodeEvalFailure, "evaluation failed", errors.New("Execution context was destroyed.")), true},
		{"eval_timeout", newError(CodeEvalTimeout, "slow", context.DeadlineExceeded), false},
		{"wrapped", fmt.Errorf("page op: %w", newError(CodeCDPUnavailable, "down", nil)), true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := retryable(tc.err); got != tc.want {
				t.Fatalf("retryable(%v) = %v; want %v", tc.err, got, tc.want)
			}
		})
	}
}
