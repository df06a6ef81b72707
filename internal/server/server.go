// Package server wires the dev server together: it consults the route
// table per request, triggers builds on demand, calls the render bridge or
// proxies to the supervised backend, serves static artifacts from the
// manifest, and feeds watcher change-sets to the build graph, the
// supervisor, and the live-update broker.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/TechWithDunamix/tavo/internal/build"
	"github.com/TechWithDunamix/tavo/internal/config"
	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
	"github.com/TechWithDunamix/tavo/internal/livereload"
	"github.com/TechWithDunamix/tavo/internal/logging"
	"github.com/TechWithDunamix/tavo/internal/render"
	"github.com/TechWithDunamix/tavo/internal/router"
	"github.com/TechWithDunamix/tavo/internal/supervisor"
	"github.com/TechWithDunamix/tavo/internal/watcher"
)

// Server is the dev/production HTTP façade.
type Server struct {
	cfg    *config.Config
	logger logging.Logger

	routes   *router.Holder
	graph    *build.Graph
	manifest func() *build.Manifest
	bridge   *render.Bridge
	broker   *livereload.Broker
	sup      *supervisor.Supervisor
	watcher  *watcher.FileWatcher
	parser   *tavoerrors.DiagnosticParser

	registry *prometheus.Registry
	requests *prometheus.CounterVec

	httpServer *http.Server
	proxy      *httputil.ReverseProxy
	lock       *flock.Flock
}

// New assembles a development server. The initial route table must build
// cleanly; a route conflict at startup is an unrecoverable configuration
// error.
func New(cfg *config.Config, logger logging.Logger) (*Server, error) {
	table, err := router.Build(cfg.Routes.AppDir, cfg.Routes.APIDir)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	compiler := build.NewExecCompiler(cfg.Build.Bundler, cfg.Build.Target, cfg.Build.Minify)
	graph := build.NewGraph(compiler, cfg.Build.OutputDir, logger, build.NewMetrics(registry))
	for name, source := range cfg.Build.Entries {
		graph.RegisterEntry(name, source)
	}
	syncViewEntries(graph, table)

	bridge := render.NewBridge(render.NewExecRenderer(cfg.Build.Bundler), cfg.Dev.RenderTimeout)
	broker := livereload.NewBroker(cfg.Dev.AckTimeout, logger)

	var sup *supervisor.Supervisor
	if len(cfg.API.Command) > 0 {
		sup = supervisor.New(supervisor.Options{
			Command:        cfg.API.Command,
			Addr:           cfg.APIAddress(),
			Env:            []string{fmt.Sprintf("PORT=%d", cfg.API.Port), "TAVO_DEV=1"},
			DrainGrace:     cfg.API.DrainGrace,
			MaxRestarts:    cfg.API.MaxRestarts,
			RestartBackoff: cfg.API.RestartBackoff,
		}, logger)
	}

	classifier := watcher.NewClassifier(cfg.Routes.AppDir, cfg.Routes.APIDir)
	fw, err := watcher.New(classifier, cfg.Watch.Debounce, cfg.Watch.Ignore, logger)
	if err != nil {
		return nil, tavoerrors.NewIOError("creating file watcher", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.WithComponent("server"),
		routes:   router.NewHolder(table),
		graph:    graph,
		manifest: graph.Manifest,
		bridge:   bridge,
		broker:   broker,
		sup:      sup,
		watcher:  fw,
		parser:   tavoerrors.NewDiagnosticParser(),
		registry: registry,
		requests: newRequestCounter(registry),
		lock:     flock.New(filepath.Join(".tavo", "dev.lock")),
	}
	s.proxy = s.newAPIProxy()
	fw.AddHandler(s.handleChangeSet)
	return s, nil
}

// NewProduction assembles a production server serving a pre-built manifest.
// No watcher, no live updates, generic error pages.
func NewProduction(cfg *config.Config, manifest *build.Manifest, logger logging.Logger) (*Server, error) {
	table, err := router.Build(cfg.Routes.AppDir, cfg.Routes.APIDir)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	var sup *supervisor.Supervisor
	if len(cfg.API.Command) > 0 {
		sup = supervisor.New(supervisor.Options{
			Command:        cfg.API.Command,
			Addr:           cfg.APIAddress(),
			Env: []string{
				fmt.Sprintf("PORT=%d", cfg.API.Port),
				fmt.Sprintf("WEB_CONCURRENCY=%d", cfg.Build.Workers),
			},
			DrainGrace:     cfg.API.DrainGrace,
			MaxRestarts:    cfg.API.MaxRestarts,
			RestartBackoff: cfg.API.RestartBackoff,
		}, logger)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger.WithComponent("server"),
		routes:   router.NewHolder(table),
		manifest: func() *build.Manifest { return manifest },
		bridge:   render.NewBridge(render.NewExecRenderer(cfg.Build.Bundler), cfg.Dev.RenderTimeout),
		sup:      sup,
		parser:   tavoerrors.NewDiagnosticParser(),
		registry: registry,
		requests: newRequestCounter(registry),
	}
	s.proxy = s.newAPIProxy()
	return s, nil
}

func newRequestCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tavo",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Requests by kind and status class.",
	}, []string{"kind", "status"})
	reg.MustRegister(c)
	return c
}

// syncViewEntries binds every view route to a logical build entry so
// build-on-demand and live updates address routes by entry name. Entries
// for routes no longer in the table are dropped.
func syncViewEntries(graph *build.Graph, table *router.Table) {
	want := make(map[string]string)
	for _, e := range table.Entries() {
		if e.Kind == router.KindView {
			want[ViewEntryName(e)] = e.ArtifactRef
		}
	}
	graph.SyncPrefixedEntries("view:", want)
}

// ViewEntryName derives the logical entry name for a view route.
func ViewEntryName(e *router.Entry) string {
	return "view:" + e.Pattern
}

// Start runs the server until ctx is canceled. In development mode it also
// acquires the instance lock, starts the supervisor, performs the initial
// build, and begins watching.
func (s *Server) Start(ctx context.Context) error {
	dev := s.cfg.IsDevelopment() && s.watcher != nil

	if dev {
		if err := os.MkdirAll(".tavo", 0o755); err != nil {
			return tavoerrors.NewIOError("creating .tavo directory", err)
		}
		locked, err := s.lock.TryLock()
		if err != nil {
			return tavoerrors.NewIOError("acquiring dev lock", err)
		}
		if !locked {
			return tavoerrors.NewConfigError("another tavo dev server is already running in this project", nil)
		}
		defer s.lock.Unlock()
	}

	if s.sup != nil {
		if err := s.sup.Start(ctx); err != nil {
			if dev {
				// The backend can crash and recover in dev; requests see
				// 503 until a file change retries it.
				s.logger.Error(ctx, err, "backend failed to start")
			} else {
				return err
			}
		}
	}

	if dev {
		if err := s.graph.BuildAll(ctx); err != nil {
			// Initial build failures keep the server up; requests get the
			// error overlay until the next successful build.
			s.logger.Error(ctx, err, "initial build failed")
		}

		for _, root := range []string{".", s.cfg.Routes.AppDir, filepath.Dir(s.cfg.Routes.APIDir)} {
			if err := s.watcher.AddRecursive(root); err != nil {
				return tavoerrors.NewIOError("watching project tree", err)
			}
		}
		s.watcher.Start(ctx)
		defer s.watcher.Stop()
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info(ctx, "server listening",
		"addr", s.cfg.Address(), "mode", s.cfg.Server.Environment)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return tavoerrors.NewIOError("http server failed", err)
		}
		return nil
	}
}

// Shutdown stops the server, disconnects live-update clients, and tears
// down the supervised backend.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}
	if s.broker != nil {
		s.broker.CloseAll()
	}
	if s.sup != nil {
		s.sup.Stop()
	}
}

// Handler builds the HTTP routing surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.countRequests)

	r.Handle(s.cfg.Server.APIPrefix+"/*", http.HandlerFunc(s.handleAPI))

	r.Get("/_tavo/healthz", s.handleHealth)
	r.Handle("/_tavo/metrics", s.metricsHandler())
	if s.broker != nil {
		r.Get("/_tavo/livereload", s.broker.HandleWebSocket)
	}

	r.NotFound(s.handleView)
	return r
}

func (s *Server) newAPIProxy() *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: s.cfg.APIAddress()}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Warn(r.Context(), err, "backend proxy error", "path", r.URL.Path)
		s.serviceUnavailable(w)
	}
	return proxy
}

// handleChangeSet routes one coalesced change-set: config and structural
// changes rebuild the route table and force reloads, view changes rebuild
// affected entries and push patches, api changes restart the backend.
func (s *Server) handleChangeSet(cs watcher.ChangeSet) {
	ctx := context.Background()
	s.logger.Debug(ctx, "change-set", "paths", len(cs.Changes))

	if cs.Has(watcher.ClassConfig) {
		s.logger.Warn(ctx, nil, "configuration changed; restart the dev server to apply it")
	}

	forceReload := cs.Has(watcher.ClassConfig) || cs.Has(watcher.ClassRouteStructural)

	if cs.Has(watcher.ClassRouteStructural) {
		if err := s.routes.Rebuild(s.cfg.Routes.AppDir, s.cfg.Routes.APIDir); err != nil {
			// The previous table keeps serving; surface the conflict to
			// connected clients and the log.
			s.logger.Error(ctx, err, "route table rebuild refused")
			s.broker.BroadcastError(tavoerrors.Diagnostic{
				Severity: "error",
				Message:  err.Error(),
			})
		} else {
			syncViewEntries(s.graph, s.routes.Current())
			s.logger.Info(ctx, "route table rebuilt")
		}
	}

	if s.sup != nil && (cs.Has(watcher.ClassAPIAsset) || (cs.Has(watcher.ClassRouteStructural) && s.hasAPIChange(cs))) {
		go func() {
			if err := s.sup.Restart(ctx); err != nil {
				s.logger.Error(ctx, err, "backend restart failed")
			}
		}()
	}

	viewChanges := cs.Filter(watcher.ClassViewAsset)
	structural := cs.Filter(watcher.ClassRouteStructural)
	var viewPaths []string
	deleted := make(map[string]bool)
	for _, c := range append(viewChanges, structural...) {
		if !underDir(c.Path, s.cfg.Routes.AppDir) {
			continue
		}
		viewPaths = append(viewPaths, c.Path)
		if c.Op == watcher.OpDeleted {
			deleted[filepath.ToSlash(c.Path)] = true
		}
		if !forceReload && filepath.Base(c.Path) == "layout.tsx" {
			// Layout edits invalidate whole pages; patching is unsafe.
			forceReload = true
		}
	}

	if len(viewPaths) == 0 {
		if forceReload {
			s.broker.Publish(livereload.Update{ForceReload: true})
		}
		return
	}

	s.graph.Invalidate(viewPaths, deleted)
	affected := s.graph.AffectedEntries(viewPaths)
	if len(affected) == 0 && forceReload {
		s.broker.Publish(livereload.Update{ForceReload: true})
		return
	}

	reloadSent := false
	for _, entry := range affected {
		me, err := s.graph.EnsureFresh(ctx, entry)
		if err != nil {
			s.broker.BroadcastError(s.diagnosticFor(err))
			continue
		}
		s.broker.Publish(livereload.Update{
			Entry:       entry,
			Hash:        me.Hash,
			Payload:     "/" + me.ArtifactPath,
			ForceReload: forceReload,
		})
		reloadSent = reloadSent || forceReload
	}

	// A structural change must reload clients even when every affected
	// entry failed to build.
	if forceReload && !reloadSent {
		s.broker.Publish(livereload.Update{ForceReload: true})
	}
}

// hasAPIChange reports whether a structural change touched the API tree.
// Handlers come in more than one extension, so this goes by location.
func (s *Server) hasAPIChange(cs watcher.ChangeSet) bool {
	for _, c := range cs.Filter(watcher.ClassRouteStructural) {
		if underDir(c.Path, s.cfg.Routes.APIDir) {
			return true
		}
	}
	return false
}

func underDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && !filepath.IsAbs(rel) && rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}

func (s *Server) diagnosticFor(err error) tavoerrors.Diagnostic {
	var te *tavoerrors.TavoError
	if errors.As(err, &te) {
		return tavoerrors.Diagnostic{
			File:     te.FilePath,
			Line:     te.Line,
			Column:   te.Column,
			Message:  te.Message,
			Severity: "error",
			Raw:      te.Error(),
		}
	}
	return tavoerrors.Diagnostic{Message: err.Error(), Severity: "error"}
}
