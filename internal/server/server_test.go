package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TechWithDunamix/tavo/internal/build"
	"github.com/TechWithDunamix/tavo/internal/config"
	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
	"github.com/TechWithDunamix/tavo/internal/livereload"
	"github.com/TechWithDunamix/tavo/internal/logging"
	"github.com/TechWithDunamix/tavo/internal/render"
	"github.com/TechWithDunamix/tavo/internal/router"
	"github.com/TechWithDunamix/tavo/internal/watcher"
)

type stubRenderer struct {
	result *render.Result
	err    error
}

func (s *stubRenderer) Render(ctx context.Context, artifactRef string, rc render.RequestContext) (*render.Result, error) {
	return s.result, s.err
}

// stubCompiler wraps source bytes, for graph-backed server tests.
type stubCompiler struct{}

func (stubCompiler) Compile(ctx context.Context, sourcePath string) (*build.CompileResult, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, tavoerrors.NewBuildError(sourcePath, "reading source", err)
	}
	return &build.CompileResult{Artifact: append([]byte("compiled:"), data...)}, nil
}

func testConfig(t *testing.T, env string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.Server{Host: "127.0.0.1", Port: 3000, APIPrefix: "/api", Environment: env},
		Build:  config.Build{Bundler: "tavo-bundler", OutputDir: filepath.Join(dir, "dist"), Target: "es2020", Workers: 1},
		Routes: config.Routes{AppDir: filepath.Join(dir, "app"), APIDir: filepath.Join(dir, "api", "routes")},
		Watch:  config.Watch{Debounce: 10 * time.Millisecond},
		Dev: config.Dev{
			HotReload: true, ErrorOverlay: true,
			AckTimeout: time.Second, RenderTimeout: time.Second,
		},
		Log: config.Log{Level: "error", Format: "text"},
	}
}

func writePage(t *testing.T, cfg *config.Config, rel string) string {
	t.Helper()
	full := filepath.Join(cfg.Routes.AppDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("export default page"), 0o644))
	return filepath.ToSlash(full)
}

// testServer assembles a server with stubbed collaborators around the real
// route table, graph, and broker.
func testServer(t *testing.T, cfg *config.Config, renderer render.Renderer) *Server {
	t.Helper()
	table, err := router.Build(cfg.Routes.AppDir, cfg.Routes.APIDir)
	require.NoError(t, err)

	graph := build.NewGraph(stubCompiler{}, cfg.Build.OutputDir, logging.Nop(), nil)
	syncViewEntries(graph, table)

	registry := prometheus.NewRegistry()
	s := &Server{
		cfg:      cfg,
		logger:   logging.Nop(),
		routes:   router.NewHolder(table),
		graph:    graph,
		manifest: graph.Manifest,
		bridge:   render.NewBridge(renderer, cfg.Dev.RenderTimeout),
		broker:   livereload.NewBroker(cfg.Dev.AckTimeout, logging.Nop()),
		parser:   tavoerrors.NewDiagnosticParser(),
		registry: registry,
		requests: newRequestCounter(registry),
	}
	return s
}

func TestViewHandlerRendersPage(t *testing.T) {
	cfg := testConfig(t, "development")
	writePage(t, cfg, "users/[id]/page.tsx")

	s := testServer(t, cfg, &stubRenderer{result: &render.Result{
		HTML:  "<html><body><h1>user</h1></body></html>",
		State: json.RawMessage(`{"id":"42"}`),
	}})

	rec := httptest.NewRecorder()
	s.handleView(rec, httptest.NewRequest("GET", "/users/42", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "<h1>user</h1>")
	assert.Contains(t, body, `window.__TAVO_STATE__ = {"id":"42"};`)
	// Dev pages carry the live-update client.
	assert.Contains(t, body, "/_tavo/livereload")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestViewHandlerNotFound(t *testing.T) {
	cfg := testConfig(t, "development")
	s := testServer(t, cfg, &stubRenderer{})

	rec := httptest.NewRecorder()
	s.handleView(rec, httptest.NewRequest("GET", "/missing", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViewHandlerRenderFailureShowsOverlayInDev(t *testing.T) {
	cfg := testConfig(t, "development")
	writePage(t, cfg, "page.tsx")

	s := testServer(t, cfg, &stubRenderer{
		err: tavoerrors.NewRenderError("dist/home.js", nil).WithLocation("app/page.tsx", 3, 1),
	})

	rec := httptest.NewRecorder()
	s.handleView(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "app/page.tsx:3:1")
}

func TestViewHandlerProductionHidesDetail(t *testing.T) {
	cfg := testConfig(t, "production")
	writePage(t, cfg, "page.tsx")

	s := testServer(t, cfg, &stubRenderer{
		err: tavoerrors.NewRenderError("dist/home.js", nil).WithLocation("app/page.tsx", 3, 1),
	})
	// Production serves from a pre-built manifest.
	_, err := s.graph.EnsureFresh(context.Background(), "view:/")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleView(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "app/page.tsx")
}

func TestServeArtifactCaching(t *testing.T) {
	cfg := testConfig(t, "development")
	writePage(t, cfg, "page.tsx")
	s := testServer(t, cfg, &stubRenderer{result: &render.Result{HTML: "<html><body></body></html>"}})

	me, err := s.graph.EnsureFresh(context.Background(), "view:/")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleView(rec, httptest.NewRequest("GET", "/"+me.ArtifactPath, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"`+me.Hash+`"`, rec.Header().Get("ETag"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")

	// A matching conditional request short-circuits.
	req := httptest.NewRequest("GET", "/"+me.ArtifactPath, nil)
	req.Header.Set("If-None-Match", `"`+me.Hash+`"`)
	rec = httptest.NewRecorder()
	s.handleView(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	// Unknown artifacts under the output prefix are 404, not routes.
	rec = httptest.NewRecorder()
	s.handleView(rec, httptest.NewRequest("GET", "/"+cfg.Build.OutputDir+"/stale.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIWithoutBackend(t *testing.T) {
	cfg := testConfig(t, "development")
	s := testServer(t, cfg, &stubRenderer{})

	rec := httptest.NewRecorder()
	s.handleAPI(rec, httptest.NewRequest("GET", "/api/users", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	cfg := testConfig(t, "development")
	s := testServer(t, cfg, &stubRenderer{})

	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest("GET", "/_tavo/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "none", body["backend"])
}

func TestChangeSetViewEditPublishesPatch(t *testing.T) {
	cfg := testConfig(t, "development")
	src := writePage(t, cfg, "page.tsx")
	s := testServer(t, cfg, &stubRenderer{})

	_, err := s.graph.EnsureFresh(context.Background(), "view:/")
	require.NoError(t, err)

	published := make(chan build.Event, 1)
	s.graph.AddCallback(func(ev build.Event) { published <- ev })

	require.NoError(t, os.WriteFile(filepath.FromSlash(src), []byte("export default v2"), 0o644))
	s.handleChangeSet(watcher.ChangeSet{Changes: []watcher.Change{
		{Path: src, Op: watcher.OpModified, Class: watcher.ClassViewAsset},
	}})

	select {
	case ev := <-published:
		assert.Equal(t, "view:/", ev.Entry)
	case <-time.After(time.Second):
		t.Fatal("no rebuild published")
	}
}

func TestChangeSetRouteConflictKeepsTable(t *testing.T) {
	cfg := testConfig(t, "development")
	writePage(t, cfg, "users/[id]/page.tsx")
	s := testServer(t, cfg, &stubRenderer{})

	// Create a conflicting route on disk, then signal a structural change.
	writePage(t, cfg, "users/[slug]/page.tsx")
	s.handleChangeSet(watcher.ChangeSet{Changes: []watcher.Change{
		{
			Path:  filepath.Join(cfg.Routes.AppDir, "users", "[slug]", "page.tsx"),
			Op:    watcher.OpCreated,
			Class: watcher.ClassRouteStructural,
		},
	}})

	// The previous table keeps serving the original route.
	m := s.routes.Current().Resolve(router.KindView, "/users/7")
	require.NotNil(t, m)
	assert.Equal(t, "/users/[id]", m.Entry.Pattern)
}

func TestHasAPIChangeGoesByLocation(t *testing.T) {
	cfg := testConfig(t, "development")
	writePage(t, cfg, "page.tsx")
	s := testServer(t, cfg, &stubRenderer{})

	testCases := []struct {
		name string
		path string
		want bool
	}{
		{"py handler", filepath.Join(cfg.Routes.APIDir, "users.py"), true},
		{"ts handler", filepath.Join(cfg.Routes.APIDir, "users.ts"), true},
		{"nested handler", filepath.Join(cfg.Routes.APIDir, "admin", "index.ts"), true},
		{"view page", filepath.Join(cfg.Routes.AppDir, "users", "page.tsx"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cs := watcher.ChangeSet{Changes: []watcher.Change{
				{Path: tc.path, Op: watcher.OpCreated, Class: watcher.ClassRouteStructural},
			}}
			assert.Equal(t, tc.want, s.hasAPIChange(cs))
		})
	}
}

func TestChangeSetPageDeletionPrunesAndReloads(t *testing.T) {
	cfg := testConfig(t, "development")
	writePage(t, cfg, "page.tsx")
	aboutSrc := writePage(t, cfg, "about/page.tsx")
	s := testServer(t, cfg, &stubRenderer{})
	require.NoError(t, s.graph.BuildAll(context.Background()))

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/_tavo/livereload"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		return s.broker.ClientCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(filepath.FromSlash(aboutSrc)))
	s.handleChangeSet(watcher.ChangeSet{Changes: []watcher.Change{
		{Path: aboutSrc, Op: watcher.OpDeleted, Class: watcher.ClassRouteStructural},
	}})

	// The route and its build entry are gone, and connected clients get a
	// reload rather than a build-error overlay for the vanished source.
	assert.Nil(t, s.routes.Current().Resolve(router.KindView, "/about"))
	assert.NotContains(t, s.graph.Entries(), "view:/about")

	var msg livereload.Message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, livereload.KindReload, msg.Kind)
}

func TestHandlerRouting(t *testing.T) {
	cfg := testConfig(t, "development")
	writePage(t, cfg, "page.tsx")
	s := testServer(t, cfg, &stubRenderer{result: &render.Result{HTML: "<html><body>ok</body></html>"}})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/_tavo/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/api/anything")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
