package errors

import (
	"regexp"
	"strconv"
	"strings"
)

// Diagnostic is a parsed compiler diagnostic with structured location
// information, suitable for the error overlay and for live-update error
// messages.
type Diagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Raw      string `json:"raw"`
}

// DiagnosticParser extracts structured diagnostics from external bundler
// and backend process output.
type DiagnosticParser struct {
	patterns []diagnosticPattern
}

type diagnosticPattern struct {
	regex       *regexp.Regexp
	severity    string
	parseFields func(matches []string) (file string, line, column int, message string)
}

// NewDiagnosticParser creates a parser covering the diagnostic formats the
// external bundler emits: "file:line:col: message", "error: message at
// file:line", and bare "error: message" lines.
func NewDiagnosticParser() *DiagnosticParser {
	return &DiagnosticParser{
		patterns: []diagnosticPattern{
			{
				// path/to/file.tsx:12:5: unexpected token
				regex:    regexp.MustCompile(`^(.+?\.[a-z]{2,4}):(\d+):(\d+):\s*(.+)$`),
				severity: "error",
				parseFields: func(m []string) (string, int, int, string) {
					line, _ := strconv.Atoi(m[2])
					col, _ := strconv.Atoi(m[3])
					return m[1], line, col, m[4]
				},
			},
			{
				// path/to/file.tsx:12: message
				regex:    regexp.MustCompile(`^(.+?\.[a-z]{2,4}):(\d+):\s*(.+)$`),
				severity: "error",
				parseFields: func(m []string) (string, int, int, string) {
					line, _ := strconv.Atoi(m[2])
					return m[1], line, 0, m[3]
				},
			},
			{
				// error: something went wrong at file.tsx:3
				regex:    regexp.MustCompile(`^error:\s*(.+?)\s+at\s+(\S+):(\d+)$`),
				severity: "error",
				parseFields: func(m []string) (string, int, int, string) {
					line, _ := strconv.Atoi(m[3])
					return m[2], line, 0, m[1]
				},
			},
			{
				// warning: something suspicious
				regex:    regexp.MustCompile(`^(warning|warn):\s*(.+)$`),
				severity: "warning",
				parseFields: func(m []string) (string, int, int, string) {
					return "", 0, 0, m[2]
				},
			},
			{
				// error: something went wrong
				regex:    regexp.MustCompile(`^error:\s*(.+)$`),
				severity: "error",
				parseFields: func(m []string) (string, int, int, string) {
					return "", 0, 0, m[1]
				},
			},
		},
	}
}

// Parse scans raw output line by line and returns every diagnostic found.
func (p *DiagnosticParser) Parse(output string) []Diagnostic {
	var diags []Diagnostic

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, pat := range p.patterns {
			matches := pat.regex.FindStringSubmatch(line)
			if matches == nil {
				continue
			}
			file, lineNo, col, msg := pat.parseFields(matches)
			diags = append(diags, Diagnostic{
				File:     file,
				Line:     lineNo,
				Column:   col,
				Message:  msg,
				Severity: pat.severity,
				Raw:      line,
			})
			break
		}
	}

	return diags
}

// First returns the first error-severity diagnostic, or a synthetic one
// wrapping the raw output when nothing parsed.
func (p *DiagnosticParser) First(output string) Diagnostic {
	for _, d := range p.Parse(output) {
		if d.Severity == "error" {
			return d
		}
	}
	return Diagnostic{Message: strings.TrimSpace(output), Severity: "error", Raw: output}
}
