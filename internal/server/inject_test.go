package server

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInjectBeforeBodyEnd(t *testing.T) {
	page := "<html><body><h1>hi</h1></body></html>"
	out := injectBeforeBodyEnd(page, "<script>x</script>")

	assert.Contains(t, out, "<script>x</script></body>")
	assert.Contains(t, out, "<h1>hi</h1>")
	assert.True(t, strings.HasSuffix(out, "</body></html>"))
}

func TestInjectBeforeBodyEndWithoutBody(t *testing.T) {
	out := injectBeforeBodyEnd("<p>fragment</p>", "<script>x</script>")
	assert.Contains(t, out, "<p>fragment</p>")
	assert.Contains(t, out, "<script>x</script>")
}

func TestInjectBeforeBodyEndIgnoresTextMention(t *testing.T) {
	page := "<html><body><pre>&lt;/body&gt;</pre></body></html>"
	out := injectBeforeBodyEnd(page, "<script>x</script>")

	// The escaped mention inside <pre> must not attract the injection.
	assert.Equal(t, 1, strings.Count(out, "<script>x</script>"))
	assert.Contains(t, out, "<script>x</script></body></html>")
}

func TestInjectState(t *testing.T) {
	out := injectState("<html><body></body></html>", json.RawMessage(`{"user":"ada"}`))
	assert.Contains(t, out, `window.__TAVO_STATE__ = {"user":"ada"};`)
}

func TestInjectDevClient(t *testing.T) {
	out := injectDevClient("<html><body></body></html>", []string{"view:/users/[id]", "client"})

	assert.Contains(t, out, `window.__TAVO_ENTRIES__ = ["view:/users/[id]","client"];`)
	assert.Contains(t, out, "/_tavo/livereload")
	// The client acks applied patches and reloads on command.
	assert.Contains(t, out, `kind: "ack"`)
	assert.Contains(t, out, "location.reload()")
}
