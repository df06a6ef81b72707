// Package render invokes the compiled view artifact for a resolved route
// and returns HTML plus serialized initial state. The rendering algorithm
// itself lives in the external render collaborator; this package only owns
// the invocation boundary: request context marshaling, a bounded timeout,
// and conversion of every failure into a structured error that can never
// crash the server.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/exec"
	"time"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
)

// RequestContext is the request data handed to the render collaborator.
type RequestContext struct {
	URL     string              `json:"url"`
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Params  map[string]string   `json:"params"`
	Query   map[string][]string `json:"query"`
	Headers map[string]string   `json:"headers"`
}

// forwardedHeaders is the header subset exposed to rendering.
var forwardedHeaders = []string{
	"Accept",
	"Accept-Language",
	"Cookie",
	"Host",
	"Referer",
	"User-Agent",
}

// NewRequestContext builds a RequestContext from an incoming request and
// bound route params.
func NewRequestContext(r *http.Request, params map[string]string) RequestContext {
	headers := make(map[string]string, len(forwardedHeaders))
	for _, h := range forwardedHeaders {
		if v := r.Header.Get(h); v != "" {
			headers[h] = v
		}
	}
	if params == nil {
		params = map[string]string{}
	}
	return RequestContext{
		URL:     r.URL.String(),
		Method:  r.Method,
		Path:    r.URL.Path,
		Params:  params,
		Query:   r.URL.Query(),
		Headers: headers,
	}
}

// Result is a successful render: complete HTML and the serialized initial
// state the client runtime hydrates from.
type Result struct {
	HTML  string          `json:"html"`
	State json.RawMessage `json:"state"`
}

// Renderer is the render collaborator contract. Implementations must
// respect ctx cancellation.
type Renderer interface {
	Render(ctx context.Context, artifactRef string, rc RequestContext) (*Result, error)
}

// ExecRenderer invokes the external bundler's render mode: the request
// context goes to stdin as JSON, the result comes back on stdout as
// {"html": ..., "state": ...}, and failures are reported on stderr.
type ExecRenderer struct {
	Command string
	parser  *tavoerrors.DiagnosticParser
}

// NewExecRenderer creates a renderer invoking the given bundler command.
func NewExecRenderer(command string) *ExecRenderer {
	return &ExecRenderer{Command: command, parser: tavoerrors.NewDiagnosticParser()}
}

// Render runs the external renderer for one artifact.
func (e *ExecRenderer) Render(ctx context.Context, artifactRef string, rc RequestContext) (*Result, error) {
	input, err := json.Marshal(rc)
	if err != nil {
		return nil, tavoerrors.NewRenderError(artifactRef, err)
	}

	cmd := exec.CommandContext(ctx, e.Command, "render", "--artifact", artifactRef)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		diag := e.parser.First(stderr.String())
		rerr := tavoerrors.NewRenderError(artifactRef, err)
		rerr.Message = diag.Message
		if diag.File != "" {
			rerr = rerr.WithLocation(diag.File, diag.Line, diag.Column)
		}
		return nil, rerr
	}

	var res Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, tavoerrors.NewRenderError(artifactRef, err)
	}
	return &res, nil
}

// Bridge wraps a Renderer with the timeout and error containment the
// server relies on.
type Bridge struct {
	renderer Renderer
	timeout  time.Duration
}

// NewBridge creates a bridge enforcing the given render timeout.
func NewBridge(renderer Renderer, timeout time.Duration) *Bridge {
	return &Bridge{renderer: renderer, timeout: timeout}
}

// Render invokes the artifact with the request context. The call completes
// within the bridge timeout or fails with a render timeout error; any other
// failure surfaces as a structured render error.
func (b *Bridge) Render(ctx context.Context, artifactRef string, rc RequestContext) (res *Result, err error) {
	defer func() {
		// The collaborator boundary must never propagate a panic into
		// request handling.
		if r := recover(); r != nil {
			res = nil
			err = tavoerrors.NewRenderError(artifactRef, errors.New("renderer panicked"))
		}
	}()

	renderCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err = b.renderer.Render(renderCtx, artifactRef, rc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && renderCtx.Err() == context.DeadlineExceeded {
			return nil, tavoerrors.NewRenderTimeout(artifactRef, b.timeout)
		}
		var te *tavoerrors.TavoError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, tavoerrors.NewRenderError(artifactRef, err)
	}
	return res, nil
}
