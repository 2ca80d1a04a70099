package cdpcontrol

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const fakeSessionID = "session-1"

// fakeBrowser answers the subset of CDP the client speaks: the two HTTP
// discovery endpoints and flattened commands over one websocket.
type fakeBrowser struct {
	t      *testing.T
	srv    *httptest.Server
	evalFn func(expr string) string

	mu      sync.Mutex
	conn    net.Conn
	methods []string
	exprs   []string
	gesture []bool
	targets []map[string]string
}

func newFakeBrowser(t *testing.T, targets []map[string]string, evalFn func(expr string) string) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{t: t, evalFn: evalFn, targets: targets}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, _ *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		_ = json.NewEncoder(w).Encode(fb.targets)
	})
	mux.HandleFunc("/devtools/browser/fake", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("UpgradeHTTP() = %v", err)
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		go fb.serve(conn)
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		fb.mu.Lock()
		if fb.conn != nil {
			_ = fb.conn.Close()
		}
		fb.mu.Unlock()
		fb.srv.Close()
	})
	return fb
}

func (fb *fakeBrowser) serve(conn net.Conn) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			fb.t.Errorf("bad request %s: %v", data, err)
			return
		}

		fb.mu.Lock()
		fb.methods = append(fb.methods, req.Method)
		fb.mu.Unlock()

		var result any = map[string]any{}
		switch req.Method {
		case "Target.attachToTarget":
			result = map[string]string{"sessionId": fakeSessionID}
		case "Runtime.evaluate":
			var p struct {
				Expression  string `json:"expression"`
				UserGesture bool   `json:"userGesture"`
			}
			_ = json.Unmarshal(req.Params, &p)
			fb.mu.Lock()
			fb.exprs = append(fb.exprs, p.Expression)
			fb.gesture = append(fb.gesture, p.UserGesture)
			fb.mu.Unlock()
			value := `{"ok":true}`
			if fb.evalFn != nil {
				if v := fb.evalFn(p.Expression); v != "" {
					value = v
				}
			}
			result = map[string]any{"result": map[string]any{"type": "string", "value": value}}
		}
		fb.write(map[string]any{"id": req.ID, "sessionId": req.SessionID, "result": result})
	}
}

func (fb *fakeBrowser) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		fb.t.Errorf("marshal: %v", err)
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.conn == nil {
		return
	}
	_ = wsutil.WriteServerText(fb.conn, data)
}

// emit sends a CDP event on the given session.
func (fb *fakeBrowser) emit(method, sessionID string, params any) {
	fb.write(map[string]any{"method": method, "sessionId": sessionID, "params": params})
}

func (fb *fakeBrowser) calls() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.methods...)
}

func (fb *fakeBrowser) lastExpr(contains string) (string, bool, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for i := len(fb.exprs) - 1; i >= 0; i-- {
		if strings.Contains(fb.exprs[i], contains) {
			return fb.exprs[i], fb.gesture[i], true
		}
	}
	return "", false, false
}

func videoTargets() []map[string]string {
	return []map[string]string{
		{"id": "tab-video", "type": "page", "title": "Video", "url": "https://www.youtube.com/watch?v=abc"},
		{"id": "tab-other", "type": "page", "title": "Other", "url": "https://example.com/"},
		{"id": "sw", "type": "service_worker", "url": "https://www.youtube.com/sw.js"},
	}
}
