package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// injectState embeds the serialized page state so the client bundle can
// hydrate without refetching.
func injectState(page string, state json.RawMessage) string {
	tag := fmt.Sprintf("<script>window.__TAVO_STATE__ = %s;</script>", state)
	return injectBeforeBodyEnd(page, tag)
}

// injectDevClient appends the live-update client, pre-subscribed to the
// entries backing the current page.
func injectDevClient(page string, entries []string) string {
	names, _ := json.Marshal(entries)
	tag := fmt.Sprintf("<script>window.__TAVO_ENTRIES__ = %s;\n%s</script>", names, DevClientScript)
	return injectBeforeBodyEnd(page, tag)
}

// injectBeforeBodyEnd inserts markup immediately before the closing body
// tag, tolerating malformed documents by appending at the end instead.
func injectBeforeBodyEnd(page, markup string) string {
	z := html.NewTokenizer(strings.NewReader(page))
	var out bytes.Buffer
	out.Grow(len(page) + len(markup))
	injected := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if !injected {
				out.WriteString(markup)
			}
			return out.String()
		}
		if !injected && tt == html.EndTagToken {
			if name, _ := z.TagName(); string(name) == "body" {
				out.WriteString(markup)
				injected = true
			}
		}
		out.Write(z.Raw())
	}
}

// DevClientScript is served inline on every development page. It keeps a
// websocket open to the dev server, applies patches for subscribed
// entries, acknowledges each applied patch, and falls back to a full
// reload when told to.
const DevClientScript = `(function () {
	var proto = location.protocol === "https:" ? "wss://" : "ws://";
	var endpoint = proto + location.host + "/_tavo/livereload";
	var retryDelay = 1000;

	function connect() {
		var ws = new WebSocket(endpoint);

		ws.onopen = function () {
			retryDelay = 1000;
			ws.send(JSON.stringify({
				kind: "subscribe",
				entries: window.__TAVO_ENTRIES__ || [],
			}));
		};

		ws.onmessage = function (ev) {
			var msg;
			try { msg = JSON.parse(ev.data); } catch (e) { return; }

			if (msg.kind === "reload") {
				location.reload();
				return;
			}
			if (msg.kind === "patch") {
				applyPatch(msg, ws);
				return;
			}
			if (msg.kind === "error" && msg.diagnostic) {
				showOverlay(msg.diagnostic);
			}
		};

		ws.onclose = function () {
			setTimeout(connect, retryDelay);
			retryDelay = Math.min(retryDelay * 2, 10000);
		};
	}

	function applyPatch(msg, ws) {
		import(msg.payload + "?t=" + Date.now())
			.then(function (mod) {
				if (mod && typeof mod.update === "function") {
					mod.update();
				} else {
					location.reload();
					return;
				}
				hideOverlay();
				ws.send(JSON.stringify({ kind: "ack", entry: msg.entry, hash: msg.hash }));
			})
			.catch(function () {
				location.reload();
			});
	}

	function showOverlay(diag) {
		hideOverlay();
		var el = document.createElement("div");
		el.id = "__tavo_overlay";
		el.style.cssText = "position:fixed;inset:0;z-index:2147483647;background:rgba(12,12,16,.94);color:#ffb4b4;font:14px/1.6 ui-monospace,monospace;padding:2rem;overflow:auto;white-space:pre-wrap";
		var loc = diag.file ? diag.file + ":" + (diag.line || 0) + "\n\n" : "";
		el.textContent = "Build error\n\n" + loc + (diag.message || "unknown error");
		document.body.appendChild(el);
	}

	function hideOverlay() {
		var el = document.getElementById("__tavo_overlay");
		if (el) el.remove();
	}

	connect();
})();`
