package router

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
)

// PageFile is the filename that marks a directory under the app tree as a
// routable view.
const PageFile = "page.tsx"

// Table is an immutable route table. It is rebuilt wholesale on any
// route-affecting file-tree change and safe for unsynchronized concurrent
// reads.
type Table struct {
	viewRoot *node
	apiRoot  *node
	entries  []*Entry
}

// Resolve matches a request path against routes of the given kind and binds
// parameters. Returns nil when nothing matches.
func (t *Table) Resolve(kind Kind, requestPath string) *Match {
	root := t.viewRoot
	if kind == KindAPI {
		root = t.apiRoot
	}

	entry, captured, ok := root.match(splitPath(requestPath), nil)
	if !ok {
		return nil
	}
	params := make(map[string]string, len(captured))
	for i, name := range entry.ParamNames {
		if i < len(captured) {
			params[name] = captured[i]
		}
	}
	return &Match{Entry: entry, Params: params}
}

// Entries returns all routes sorted by kind then pattern.
func (t *Table) Entries() []*Entry {
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Build walks the view and API subtrees and constructs a route table.
// It fails with a route conflict error when two files of the same kind
// produce identical patterns; the caller must keep serving the previous
// table in that case.
func Build(appDir, apiDir string) (*Table, error) {
	t := &Table{
		viewRoot: newNode(""),
		apiRoot:  newNode(""),
	}

	viewFiles, err := discoverViewFiles(appDir)
	if err != nil {
		return nil, err
	}
	for _, file := range viewFiles {
		if err := t.add(KindView, appDir, file); err != nil {
			return nil, err
		}
	}

	apiFiles, err := discoverAPIFiles(apiDir)
	if err != nil {
		return nil, err
	}
	for _, file := range apiFiles {
		if err := t.add(KindAPI, apiDir, file); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// discoverViewFiles returns page files under the app tree. A missing app
// directory yields an empty route set, not an error.
func discoverViewFiles(appDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(appDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == appDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Name() == PageFile {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, tavoerrors.NewIOError("walking view routes", err)
	}
	return files, nil
}

// discoverAPIFiles returns handler files under the api routes tree.
func discoverAPIFiles(apiDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(apiDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == apiDir {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == "__init__.py" || strings.HasPrefix(name, "_") {
			return nil
		}
		switch filepath.Ext(name) {
		case ".py", ".ts":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, tavoerrors.NewIOError("walking api routes", err)
	}
	return files, nil
}

// add converts one discovered file into a route and inserts it.
func (t *Table) add(kind Kind, rootDir, file string) error {
	rel, err := filepath.Rel(rootDir, file)
	if err != nil {
		return tavoerrors.NewIOError("relativizing route file", err)
	}
	rel = filepath.ToSlash(rel)

	segments, err := patternFor(kind, rel, file)
	if err != nil {
		return err
	}

	entry := &Entry{
		Pattern:     patternString(segments),
		Segments:    segments,
		Kind:        kind,
		ArtifactRef: filepath.ToSlash(file),
	}
	for _, seg := range segments {
		if seg.Type != SegmentLiteral {
			entry.ParamNames = append(entry.ParamNames, seg.Value)
		}
	}

	root := t.viewRoot
	if kind == KindAPI {
		root = t.apiRoot
	}

	terminal := root.insert(segments)
	if terminal.entry != nil {
		return tavoerrors.NewRouteConflict(entry.Pattern, string(kind), terminal.entry.ArtifactRef, entry.ArtifactRef)
	}
	terminal.entry = entry
	t.entries = append(t.entries, entry)
	return nil
}

// patternFor derives pattern segments from a route file's relative path.
// For view routes the terminal page filename is dropped; for API routes the
// file extension is dropped. Bracketed components become parameters and
// [...name] components become catch-alls, which are only legal in the
// terminal position.
func patternFor(kind Kind, rel, file string) ([]Segment, error) {
	var parts []string
	if kind == KindView {
		dir := strings.TrimSuffix(rel, PageFile)
		dir = strings.Trim(dir, "/")
		if dir != "" {
			parts = strings.Split(dir, "/")
		}
	} else {
		noExt := strings.TrimSuffix(rel, filepath.Ext(rel))
		parts = strings.Split(noExt, "/")
		// index files map to their directory, like page.tsx does
		if parts[len(parts)-1] == "index" {
			parts = parts[:len(parts)-1]
		}
	}

	segments := make([]Segment, 0, len(parts))
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, "[...") && strings.HasSuffix(part, "]"):
			name := part[4 : len(part)-1]
			if name == "" {
				return nil, tavoerrors.NewConfigError("catch-all segment missing name in "+file, nil)
			}
			if i != len(parts)-1 {
				return nil, tavoerrors.NewConfigError("catch-all segment must be terminal in "+file, nil)
			}
			segments = append(segments, Segment{Type: SegmentCatchAll, Value: name})
		case strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]"):
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, tavoerrors.NewConfigError("parameter segment missing name in "+file, nil)
			}
			segments = append(segments, Segment{Type: SegmentParam, Value: name})
		case part == "":
			return nil, tavoerrors.NewConfigError("empty path segment in "+file, nil)
		default:
			segments = append(segments, Segment{Type: SegmentLiteral, Value: part})
		}
	}
	return segments, nil
}

// Holder publishes the active route table. Swap is atomic so concurrent
// readers always observe a complete table, and a failed rebuild leaves the
// previous table active.
type Holder struct {
	table atomic.Pointer[Table]
}

// NewHolder creates a holder with an initial table.
func NewHolder(t *Table) *Holder {
	h := &Holder{}
	h.table.Store(t)
	return h
}

// Current returns the active table.
func (h *Holder) Current() *Table {
	return h.table.Load()
}

// Rebuild builds a fresh table and activates it only on success. On a route
// conflict the previous table stays active and the error is returned.
func (h *Holder) Rebuild(appDir, apiDir string) error {
	t, err := Build(appDir, apiDir)
	if err != nil {
		return err
	}
	h.table.Store(t)
	return nil
}
