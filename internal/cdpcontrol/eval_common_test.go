package cdpcontrol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSStringAndJSONHelpers(t *testing.T) {
	if got := jsString("hello\nworld"); got != "\"hello\\nworld\"" {
		t.Fatalf("jsString = %q, want %q", got, "\"hello\\nworld\"")
	}

	got := jsJSON(map[string]any{"a": 1, "b": true})
	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("jsJSON returned invalid JSON: %v", err)
	}
	if len(m) != 2 {
		t.Fatalf("jsJSON decoded map has %d fields, want 2", len(m))
	}
	if m["b"] != true {
		t.Fatalf("jsJSON decoded map = %v, want b=true", m["b"])
	}
}

func TestJSEvalWrappers(t *testing.T) {
	syncExpr := wrapJSEval("return 1;")
	if !strings.Contains(syncExpr, "(function(){\ntry {") {
		t.Fatalf("unexpected sync wrapper: %s", syncExpr)
	}
	if strings.Contains(syncExpr, "(async function") {
		t.Fatalf("sync wrapper should not be async: %s", syncExpr)
	}

	asyncExpr := wrapJSEvalAsync("await Promise.resolve(1);")
	if !strings.Contains(asyncExpr, "(async function(){\ntry {") {
		t.Fatalf("unexpected async wrapper: %s", asyncExpr)
	}
	if !strings.Contains(asyncExpr, "await Promise.resolve(1);") {
		t.Fatalf("async wrapper lost body: %s", asyncExpr)
	}
}

func TestPageScriptsEscapeArguments(t *testing.T) {
	hostile := `"); alert(1); ("`
	tests := []struct {
		name string
		js   string
	}{
		{"query", jsQueryElements(hostile)},
		{"count", jsCount(hostile)},
		{"texts", jsTexts(hostile)},
		{"click", jsClick(hostile, 2)},
		{"inject", jsInjectControl(hostile, hostile)},
		{"notice", jsNotice(hostile)},
		{"clipboard", jsWriteClipboard(hostile)},
		{"fetch", jsFetchFeed(hostile)},
	}
	quoted := jsString(hostile)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !strings.Contains(tc.js, quoted) {
				t.Fatalf("script does not embed the argument as a JSON string literal")
			}
			if strings.Contains(strings.ReplaceAll(tc.js, quoted, ""), "alert(1)") {
				t.Fatalf("argument leaked outside its string literal")
			}
		})
	}
}

func TestPageScriptsContract(t *testing.T) {
	if !strings.Contains(jsFetchFeed("u"), `credentials:"omit"`) {
		t.Fatalf("feed fetch must omit credentials")
	}
	inject := jsInjectControl("#actions", "vid")
	for _, want := range []string{controlClass, buttonClass, ControlLabel, "anchor.prepend(wrap)", "window.__tpClick"} {
		if !strings.Contains(inject, want) {
			t.Fatalf("inject script missing %q", want)
		}
	}
	if !strings.Contains(jsBootstrap, jsString(bindingName)) {
		t.Fatalf("bootstrap does not use the binding")
	}
	for _, want := range []string{"pushState", "replaceState", "popstate", "MutationObserver"} {
		if !strings.Contains(jsBootstrap, want) {
			t.Fatalf("bootstrap missing %q", want)
		}
	}
	if !strings.Contains(jsNotice("x"), "2200") {
		t.Fatalf("notice does not auto-dismiss after 2200ms")
	}
	if !strings.Contains(jsSetBusy(true), BusyLabel) {
		t.Fatalf("busy script missing busy label")
	}
}
