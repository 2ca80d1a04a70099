package cdpcontrol

import "encoding/json"

// Names shared by the bootstrap and the page operations.
const (
	bindingName  = "__tpNotify"
	controlClass = "tp-wrap"
	buttonClass  = "tp-btn"
	toastClass   = "tp-toast"
	styleID      = "tp-style"

	ControlLabel = "Copy prompt + transcript"
	BusyLabel    = "Working…"

	// noticeMillis is how long a notice stays on the page.
	noticeMillis = 2200

	// maxLabelChars caps text content returned per queried element.
	maxLabelChars = 2000
)

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }

// jsBootstrap relays navigation signals and control clicks to the agent
// through the runtime binding. It is installed once per document.
var jsBootstrap = `(function(){
if (window.__tpBoot) return;
window.__tpBoot = true;
var B = ` + jsString(bindingName) + `;
function send(msg) { try { window[B](JSON.stringify(msg)); } catch (_) {} }
function report(kind) { send({type:"nav", kind:kind, href:location.href}); }
var last = location.href;
var queued = false;
function check() {
  queued = false;
  var href = location.href;
  if (href !== last) { last = href; report("mutation"); return; }
  if (/[?&]v=/.test(href) && !document.querySelector(".` + controlClass + `")) report("mutation");
}
function onMutation() {
  if (queued) return;
  queued = true;
  setTimeout(check, 0);
}
function start() {
  new MutationObserver(onMutation).observe(document.documentElement, {childList:true, subtree:true});
}
["pushState", "replaceState"].forEach(function(name) {
  var orig = history[name];
  var kind = name === "pushState" ? "push_state" : "replace_state";
  history[name] = function() {
    var r = orig.apply(this, arguments);
    last = location.href;
    report(kind);
    return r;
  };
});
window.addEventListener("popstate", function() { last = location.href; report("popstate"); });
window.__tpClick = function(btn) {
  var wrap = btn.closest(".` + controlClass + `");
  send({type:"click", video_id: wrap ? wrap.getAttribute("data-video-id") : "", href: location.href});
};
if (document.documentElement) start(); else document.addEventListener("DOMContentLoaded", start);
})()`

const jsStyle = `
if (!document.getElementById("` + styleID + `")) {
  var st = document.createElement("style");
  st.id = "` + styleID + `";
  st.textContent = ".` + controlClass + `{display:inline-flex;align-items:center;margin-right:8px}" +
    ".` + buttonClass + `{font:500 14px Roboto,Arial,sans-serif;padding:0 16px;height:36px;border-radius:18px;border:0;cursor:pointer;background:var(--yt-spec-badge-chip-background,#f2f2f2);color:var(--yt-spec-text-primary,#0f0f0f)}" +
    ".` + buttonClass + `[disabled]{opacity:.6;cursor:progress}" +
    ".` + toastClass + `{position:fixed;left:50%;bottom:32px;transform:translateX(-50%);z-index:9999;padding:10px 16px;border-radius:8px;background:#0f0f0f;color:#fff;font:14px Roboto,Arial,sans-serif}";
  (document.head || document.documentElement).appendChild(st);
}`

func jsQueryElements(selector string) string {
	return wrapJSEval(`var sel = ` + jsString(selector) + `;
var nodes = document.querySelectorAll(sel);
var out = [];
for (var i = 0; i < nodes.length; i++) {
  var el = nodes[i];
  var r = el.getBoundingClientRect();
  var text = (el.textContent || "").trim();
  if (text.length > ` + jsJSON(maxLabelChars) + `) text = text.slice(0, ` + jsJSON(maxLabelChars) + `);
  out.push({
    selector: sel,
    index: i,
    tag: el.tagName.toLowerCase(),
    aria_label: el.getAttribute("aria-label") || "",
    title: el.getAttribute("title") || "",
    text: text,
    content: el.getAttribute("content") || "",
    disabled: !!(el.disabled || el.getAttribute("aria-disabled") === "true"),
    width: r.width,
    height: r.height
  });
}
return JSON.stringify({ok:true,data:out});`)
}

func jsCount(selector string) string {
	return wrapJSEval(`return JSON.stringify({ok:true,data:document.querySelectorAll(` + jsString(selector) + `).length});`)
}

func jsTexts(selector string) string {
	return wrapJSEval(`var nodes = document.querySelectorAll(` + jsString(selector) + `);
var out = [];
for (var i = 0; i < nodes.length; i++) out.push(nodes[i].textContent || "");
return JSON.stringify({ok:true,data:out});`)
}

func jsClick(selector string, index int) string {
	return wrapJSEval(`var el = document.querySelectorAll(` + jsString(selector) + `)[` + jsJSON(index) + `];
if (!el) return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:"element no longer present"});
el.click();
return JSON.stringify({ok:true});`)
}

const jsClickBody = `(function(){
if (document.body) document.body.click();
return JSON.stringify({ok:true});
})()`

const jsLocation = `(function(){ return JSON.stringify({ok:true,data:location.href}); })()`

const jsControlPresent = `(function(){
return JSON.stringify({ok:true,data:!!document.querySelector(".` + controlClass + `")});
})()`

func jsInjectControl(anchor, videoID string) string {
	return wrapJSEval(jsStyle + `
var anchor = document.querySelector(` + jsString(anchor) + `);
if (!anchor) return JSON.stringify({ok:true,data:false});
document.querySelectorAll(".` + controlClass + `").forEach(function(n) { n.remove(); });
var wrap = document.createElement("div");
wrap.className = "` + controlClass + `";
wrap.setAttribute("data-video-id", ` + jsString(videoID) + `);
var btn = document.createElement("button");
btn.className = "` + buttonClass + `";
btn.type = "button";
btn.textContent = ` + jsString(ControlLabel) + `;
btn.addEventListener("click", function(e) {
  e.preventDefault();
  e.stopPropagation();
  if (btn.disabled) return;
  btn.disabled = true;
  btn.textContent = ` + jsString(BusyLabel) + `;
  if (typeof window.__tpClick === "function") window.__tpClick(btn);
});
wrap.appendChild(btn);
anchor.prepend(wrap);
return JSON.stringify({ok:true,data:true});`)
}

func jsSetBusy(busy bool) string {
	return wrapJSEval(`var busy = ` + jsJSON(busy) + `;
document.querySelectorAll(".` + buttonClass + `").forEach(function(b) {
  b.disabled = busy;
  b.textContent = busy ? ` + jsString(BusyLabel) + ` : ` + jsString(ControlLabel) + `;
});
return JSON.stringify({ok:true});`)
}

func jsNotice(message string) string {
	return wrapJSEval(jsStyle + `
document.querySelectorAll(".` + toastClass + `").forEach(function(n) { n.remove(); });
var el = document.createElement("div");
el.className = "` + toastClass + `";
el.textContent = ` + jsString(message) + `;
document.documentElement.appendChild(el);
setTimeout(function() { el.remove(); }, ` + jsJSON(noticeMillis) + `);
return JSON.stringify({ok:true});`)
}

func jsWriteClipboard(text string) string {
	return wrapJSEvalAsync(`var text = ` + jsString(text) + `;
try {
  await navigator.clipboard.writeText(text);
  return JSON.stringify({ok:true,data:true});
} catch (_) {}
var copied = false;
try {
  var ta = document.createElement("textarea");
  ta.value = text;
  ta.setAttribute("readonly", "");
  ta.style.position = "fixed";
  ta.style.top = "-1000px";
  ta.style.left = "-1000px";
  document.body.appendChild(ta);
  ta.select();
  copied = document.execCommand("copy");
  ta.remove();
} catch (_) {}
return JSON.stringify({ok:true,data:copied});`)
}

const jsPlayerResponse = `(function(){
var p = window.ytInitialPlayerResponse;
if (!p || typeof p !== "object") return JSON.stringify({ok:true,data:null});
return JSON.stringify({ok:true,data:{captions:p.captions || null}});
})()`

const jsDocumentHTML = `(function(){
return JSON.stringify({ok:true,data:document.documentElement ? document.documentElement.outerHTML : ""});
})()`

func jsFetchFeed(rawURL string) string {
	return wrapJSEvalAsync(`var resp = await fetch(` + jsString(rawURL) + `, {credentials:"omit"});
var body = await resp.text();
return JSON.stringify({ok:true,data:{status:resp.status,body:body}});`)
}
