package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
)

// writeTree creates the given relative files (empty) under root.
func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		full := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("export default {}\n"), 0o644))
	}
}

func buildTable(t *testing.T, viewFiles, apiFiles []string) *Table {
	t.Helper()
	dir := t.TempDir()
	appDir := filepath.Join(dir, "app")
	apiDir := filepath.Join(dir, "api", "routes")
	writeTree(t, appDir, viewFiles...)
	writeTree(t, apiDir, apiFiles...)

	table, err := Build(appDir, apiDir)
	require.NoError(t, err)
	return table
}

func TestResolveLiteralRoutes(t *testing.T) {
	table := buildTable(t,
		[]string{"page.tsx", "about/page.tsx", "users/page.tsx"},
		[]string{"health.py"},
	)

	testCases := []struct {
		kind    Kind
		path    string
		pattern string
	}{
		{KindView, "/", "/"},
		{KindView, "/about", "/about"},
		{KindView, "/about/", "/about"},
		{KindView, "/users", "/users"},
		{KindAPI, "/health", "/health"},
	}

	for _, tc := range testCases {
		t.Run(string(tc.kind)+" "+tc.path, func(t *testing.T) {
			m := table.Resolve(tc.kind, tc.path)
			require.NotNil(t, m)
			assert.Equal(t, tc.pattern, m.Entry.Pattern)
			assert.Empty(t, m.Params)
		})
	}
}

func TestResolveParams(t *testing.T) {
	table := buildTable(t,
		[]string{"users/[id]/page.tsx", "users/[id]/posts/[postId]/page.tsx"},
		[]string{"users/[id].py"},
	)

	m := table.Resolve(KindView, "/users/42")
	require.NotNil(t, m)
	assert.Equal(t, "/users/[id]", m.Entry.Pattern)
	assert.Equal(t, map[string]string{"id": "42"}, m.Params)

	m = table.Resolve(KindView, "/users/42/posts/7")
	require.NotNil(t, m)
	assert.Equal(t, map[string]string{"id": "42", "postId": "7"}, m.Params)

	m = table.Resolve(KindAPI, "/users/abc")
	require.NotNil(t, m)
	assert.Equal(t, map[string]string{"id": "abc"}, m.Params)
}

func TestResolveSiblingParamNames(t *testing.T) {
	// Parameter segments at the same position may declare different names;
	// each match must bind the names of the route it resolved to.
	table := buildTable(t,
		[]string{
			"users/[id]/page.tsx",
			"users/[slug]/settings/page.tsx",
		},
		nil,
	)

	m := table.Resolve(KindView, "/users/7")
	require.NotNil(t, m)
	assert.Equal(t, "/users/[id]", m.Entry.Pattern)
	assert.Equal(t, map[string]string{"id": "7"}, m.Params)

	m = table.Resolve(KindView, "/users/7/settings")
	require.NotNil(t, m)
	assert.Equal(t, "/users/[slug]/settings", m.Entry.Pattern)
	assert.Equal(t, map[string]string{"slug": "7"}, m.Params)
}

func TestResolvePrecedence(t *testing.T) {
	table := buildTable(t,
		[]string{
			"docs/page.tsx",
			"docs/intro/page.tsx",
			"docs/[slug]/page.tsx",
			"docs/[...rest]/page.tsx",
		},
		nil,
	)

	testCases := []struct {
		path    string
		pattern string
		params  map[string]string
	}{
		{"/docs", "/docs", map[string]string{}},
		{"/docs/intro", "/docs/intro", map[string]string{}},
		{"/docs/setup", "/docs/[slug]", map[string]string{"slug": "setup"}},
		{"/docs/setup/linux", "/docs/[...rest]", map[string]string{"rest": "setup/linux"}},
		{"/docs/a/b/c", "/docs/[...rest]", map[string]string{"rest": "a/b/c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			m := table.Resolve(KindView, tc.path)
			require.NotNil(t, m)
			assert.Equal(t, tc.pattern, m.Entry.Pattern)
			assert.Equal(t, tc.params, m.Params)
		})
	}
}

func TestResolveBacktracking(t *testing.T) {
	// A literal prefix that dead-ends must fall back to the parameter
	// branch without leaking bindings from the abandoned attempt.
	table := buildTable(t,
		[]string{
			"shop/items/page.tsx",
			"shop/[category]/featured/page.tsx",
		},
		nil,
	)

	m := table.Resolve(KindView, "/shop/items/featured")
	require.NotNil(t, m)
	assert.Equal(t, "/shop/[category]/featured", m.Entry.Pattern)
	assert.Equal(t, map[string]string{"category": "items"}, m.Params)
}

func TestResolveNoMatch(t *testing.T) {
	table := buildTable(t, []string{"about/page.tsx"}, []string{"health.py"})

	assert.Nil(t, table.Resolve(KindView, "/missing"))
	assert.Nil(t, table.Resolve(KindView, "/about/deeper"))
	assert.Nil(t, table.Resolve(KindAPI, "/about"))
	assert.Nil(t, table.Resolve(KindView, "/health"))
}

func TestAPIIndexFilesMapToDirectory(t *testing.T) {
	table := buildTable(t, nil, []string{"users/index.py", "orders.ts"})

	m := table.Resolve(KindAPI, "/users")
	require.NotNil(t, m)
	assert.Equal(t, "/users", m.Entry.Pattern)

	m = table.Resolve(KindAPI, "/orders")
	require.NotNil(t, m)
	assert.Equal(t, "/orders", m.Entry.Pattern)
}

func TestAPIDiscoverySkipsPrivateFiles(t *testing.T) {
	table := buildTable(t, nil, []string{"users.py", "__init__.py", "_helpers.py"})

	entries := table.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "/users", entries[0].Pattern)
}

func TestBuildRouteConflict(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "app")
	apiDir := filepath.Join(dir, "api", "routes")
	// [id] and [slug] normalize to the same match shape at the same
	// position, so they collide.
	writeTree(t, appDir, "users/[id]/page.tsx", "users/[slug]/page.tsx")

	_, err := Build(appDir, apiDir)
	require.Error(t, err)
	assert.True(t, tavoerrors.IsType(err, tavoerrors.ErrorTypeRouteConflict))
}

func TestBuildCatchAllMustBeTerminal(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "app")
	writeTree(t, appDir, "docs/[...rest]/extra/page.tsx")

	_, err := Build(appDir, filepath.Join(dir, "api", "routes"))
	require.Error(t, err)
}

func TestBuildMissingDirsYieldEmptyTable(t *testing.T) {
	dir := t.TempDir()
	table, err := Build(filepath.Join(dir, "app"), filepath.Join(dir, "api", "routes"))
	require.NoError(t, err)
	assert.Empty(t, table.Entries())
	assert.Nil(t, table.Resolve(KindView, "/"))
}

func TestHolderKeepsPreviousTableOnConflict(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "app")
	apiDir := filepath.Join(dir, "api", "routes")
	writeTree(t, appDir, "users/[id]/page.tsx")

	table, err := Build(appDir, apiDir)
	require.NoError(t, err)
	h := NewHolder(table)

	// Introduce a conflicting route on disk and rebuild.
	writeTree(t, appDir, "users/[slug]/page.tsx")
	err = h.Rebuild(appDir, apiDir)
	require.Error(t, err)

	// The previous table keeps serving.
	m := h.Current().Resolve(KindView, "/users/9")
	require.NotNil(t, m)
	assert.Equal(t, "/users/[id]", m.Entry.Pattern)

	// Fixing the tree activates the new table.
	require.NoError(t, os.RemoveAll(filepath.Join(appDir, "users", "[slug]")))
	writeTree(t, appDir, "about/page.tsx")
	require.NoError(t, h.Rebuild(appDir, apiDir))
	assert.NotNil(t, h.Current().Resolve(KindView, "/about"))
}

func TestEntriesSortedAndParamNames(t *testing.T) {
	table := buildTable(t,
		[]string{"docs/[...slug]/page.tsx", "users/[id]/page.tsx"},
		[]string{"health.py"},
	)

	entries := table.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, KindAPI, entries[0].Kind)

	for _, e := range entries {
		switch e.Pattern {
		case "/users/[id]":
			assert.Equal(t, []string{"id"}, e.ParamNames)
		case "/docs/[...slug]":
			assert.Equal(t, []string{"slug"}, e.ParamNames)
		}
	}
}
