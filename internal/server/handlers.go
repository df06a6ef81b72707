package server

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/TechWithDunamix/tavo/internal/build"
	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
	"github.com/TechWithDunamix/tavo/internal/render"
	"github.com/TechWithDunamix/tavo/internal/router"
)

// handleAPI forwards the request to the supervised backend. During a drain
// or restart clients get a 503 with Retry-After instead of a connection
// error; accepted requests are tracked so the supervisor can drain them.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	if s.sup == nil {
		http.Error(w, `{"error":"no api backend configured"}`, http.StatusNotFound)
		return
	}

	release, ok := s.sup.BeginRequest()
	if !ok {
		s.serviceUnavailable(w)
		return
	}
	defer release()

	s.proxy.ServeHTTP(w, r)
}

func (s *Server) serviceUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusServiceUnavailable)
	fmt.Fprint(w, `{"error":"backend temporarily unavailable"}`)
}

// handleView resolves the request against the route table and renders the
// matched page. In development the route's entry is rebuilt on demand
// first, so the page always reflects the latest sources.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.serveArtifact(w, r) {
		return
	}

	table := s.routes.Current()
	match := table.Resolve(router.KindView, r.URL.Path)
	if match == nil {
		s.renderError(w, http.StatusNotFound, "page not found", nil)
		return
	}

	entry := ViewEntryName(match.Entry)
	var me build.ManifestEntry
	if s.cfg.IsDevelopment() && s.graph != nil {
		fresh, err := s.graph.EnsureFresh(r.Context(), entry)
		if err != nil {
			if errors.Is(err, r.Context().Err()) && r.Context().Err() != nil {
				return
			}
			s.renderError(w, http.StatusInternalServerError, "build failed", err)
			return
		}
		me = fresh
	} else {
		found, ok := s.manifest().Lookup(entry)
		if !ok {
			s.renderError(w, http.StatusNotFound, "page not built", nil)
			return
		}
		me = found
	}

	rc := render.NewRequestContext(r, match.Params)
	res, err := s.bridge.Render(r.Context(), me.ArtifactPath, rc)
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, "render failed", err)
		return
	}

	html := res.HTML
	if len(res.State) > 0 {
		html = injectState(html, res.State)
	}
	if s.cfg.IsDevelopment() && s.cfg.Dev.HotReload {
		html = injectDevClient(html, []string{entry, "client"})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprint(w, html)
}

// serveArtifact serves compiled bundles listed in the manifest. Artifact
// names embed the content hash, so responses are immutable.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) bool {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if !strings.HasPrefix(path, s.cfg.Build.OutputDir+"/") {
		return false
	}

	manifest := s.manifest()
	if manifest == nil {
		return false
	}
	_, me, ok := manifest.ByArtifactPath(path)
	if !ok {
		http.NotFound(w, r)
		return true
	}

	etag := `"` + me.Hash + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Type", contentTypeFor(path))
	http.ServeFile(w, r, filepath.FromSlash(me.ArtifactPath))
	return true
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// renderError writes a full diagnostic overlay in development and an
// opaque status page in production.
func (s *Server) renderError(w http.ResponseWriter, status int, title string, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if !s.cfg.IsDevelopment() || !s.cfg.Dev.ErrorOverlay {
		fmt.Fprint(w, tavoerrors.GenericPage(status))
		return
	}

	var diags []tavoerrors.Diagnostic
	if err != nil {
		diags = append(diags, s.diagnosticFor(err))
	} else {
		diags = append(diags, tavoerrors.Diagnostic{Severity: "error", Message: title})
	}
	fmt.Fprint(w, tavoerrors.OverlayPage(title, diags))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	status := "ok"
	backend := "none"
	if s.sup != nil {
		h := s.sup.Healthz()
		backend = h.State.String()
	}
	fmt.Fprintf(w, `{"status":%q,"backend":%q,"clients":%d}`, status, backend, s.clientCount())
}

func (s *Server) clientCount() int {
	if s.broker == nil {
		return 0
	}
	return s.broker.ClientCount()
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// countRequests records per-request metrics with a coarse kind label.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/_tavo/livereload" {
			// The websocket upgrade needs the raw ResponseWriter.
			next.ServeHTTP(w, r)
			return
		}

		kind := "view"
		switch {
		case strings.HasPrefix(r.URL.Path, s.cfg.Server.APIPrefix+"/"):
			kind = "api"
		case strings.HasPrefix(r.URL.Path, "/_tavo/"):
			kind = "internal"
		case strings.HasPrefix(r.URL.Path, "/"+s.cfg.Build.OutputDir+"/"):
			kind = "asset"
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.requests.WithLabelValues(kind, strconv.Itoa(rec.status/100)+"xx").Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
