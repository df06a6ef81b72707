package errors

import (
	"fmt"
	"html"
	"strings"
)

// OverlayPage renders a full diagnostic page for a failed build or render in
// development mode. Production mode never serves this; it gets GenericPage.
func OverlayPage(title string, diags []Diagnostic) string {
	var b strings.Builder

	b.WriteString(`<!DOCTYPE html>
<html>
<head><title>tavo dev server</title></head>
<body style="margin:0;background:#1a202c;color:#e2e8f0;font-family:'Monaco','Menlo',monospace;font-size:14px;">
<div id="tavo-error-overlay" style="max-width:1000px;margin:0 auto;padding:40px 20px;">
	<h2 style="margin:0 0 20px;color:#ff6b6b;">`)
	b.WriteString(html.EscapeString(title))
	b.WriteString("</h2>\n")

	for _, d := range diags {
		severityColor := "#ff6b6b"
		if d.Severity == "warning" {
			severityColor = "#feca57"
		}

		location := ""
		if d.File != "" {
			location = d.File
			if d.Line > 0 {
				location += fmt.Sprintf(":%d", d.Line)
				if d.Column > 0 {
					location += fmt.Sprintf(":%d", d.Column)
				}
			}
		}

		b.WriteString(fmt.Sprintf(`	<div style="background:#2d3748;padding:15px;margin-bottom:15px;border-radius:4px;border-left:4px solid %s;">
		<div style="color:%s;font-weight:bold;margin-bottom:10px;">%s</div>
		<pre style="color:#e2e8f0;margin:0 0 5px;white-space:pre-wrap;">%s</pre>
		<div style="color:#a0aec0;font-size:12px;">%s</div>
	</div>
`, severityColor, severityColor, html.EscapeString(d.Severity), html.EscapeString(d.Message), html.EscapeString(location)))
	}

	b.WriteString(`	<p style="color:#a0aec0;">Fix the error and save to reload.</p>
</div>
</body>
</html>`)

	return b.String()
}

// GenericPage renders the production error page. Internals are suppressed;
// the diagnostic is logged server-side only.
func GenericPage(status int) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Error</title></head>
<body style="font-family:system-ui;padding:40px;">
<h1>%d</h1>
<p>Something went wrong. Please try again later.</p>
</body>
</html>`, status)
}
