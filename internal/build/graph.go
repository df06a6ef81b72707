package build

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	tavoerrors "github.com/TechWithDunamix/tavo/internal/errors"
	"github.com/TechWithDunamix/tavo/internal/logging"
)

// Node tracks one source file's compilation state. Nodes are exclusively
// owned and mutated by the graph.
type Node struct {
	SourcePath   string
	ArtifactPath string
	ContentHash  string // source hash at last successful compile; empty means dirty
	ArtifactHash string
	SizeBytes    int64
	DependsOn    []string
	LastBuiltAt  time.Time
}

// Event describes a completed build for one entry.
type Event struct {
	Entry    string
	Hash     string
	Artifact string
}

// Callback is invoked after an entry's manifest update is published.
type Callback func(Event)

// Graph is the incremental build graph.
type Graph struct {
	compiler  Compiler
	outputDir string
	logger    logging.Logger
	metrics   *Metrics

	mu      sync.Mutex
	nodes   map[string]*Node
	entries map[string]string // logical entry name -> source path

	manifest atomic.Pointer[Manifest]
	flight   singleflight.Group

	cbMu      sync.Mutex
	callbacks []Callback
}

// NewGraph creates a build graph writing artifacts under outputDir.
func NewGraph(compiler Compiler, outputDir string, logger logging.Logger, metrics *Metrics) *Graph {
	g := &Graph{
		compiler:  compiler,
		outputDir: outputDir,
		logger:    logger.WithComponent("build"),
		metrics:   metrics,
		nodes:     make(map[string]*Node),
		entries:   make(map[string]string),
	}
	g.manifest.Store(&Manifest{Entries: make(map[string]ManifestEntry)})
	return g
}

// RegisterEntry binds a logical entry name to its root source file. Safe to
// call again with the same mapping; rebinding to a new source marks the
// entry stale.
func (g *Graph) RegisterEntry(name, sourcePath string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries[name] = filepath.ToSlash(sourcePath)
}

// Entries returns the registered entry names.
func (g *Graph) Entries() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.entries))
	for name := range g.entries {
		out = append(out, name)
	}
	return out
}

// SyncPrefixedEntries reconciles all entries under the given name prefix
// with want (name -> source path). Prefixed entries absent from want are
// removed along with their manifest records, so a deleted route can no
// longer show up as affected or be served from a stale artifact.
func (g *Graph) SyncPrefixedEntries(prefix string, want map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := false
	next := g.manifest.Load().clone()
	for name := range g.entries {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if _, ok := want[name]; !ok {
			delete(g.entries, name)
			delete(next.Entries, name)
			removed = true
		}
	}
	for name, source := range want {
		g.entries[name] = filepath.ToSlash(source)
	}
	if removed {
		g.manifest.Store(next)
	}
}

// Manifest returns the current fully-published manifest snapshot.
func (g *Graph) Manifest() *Manifest {
	return g.manifest.Load()
}

// AddCallback registers a build-completion callback.
func (g *Graph) AddCallback(cb Callback) {
	g.cbMu.Lock()
	defer g.cbMu.Unlock()
	g.callbacks = append(g.callbacks, cb)
}

// EnsureFresh brings one entry up to date and returns its manifest record.
// Concurrent calls for the same entry collapse into a single in-flight
// build; callers arriving while a build runs await that build's result. A
// caller whose context is canceled stops waiting, but the build itself
// continues because other waiters may depend on it.
func (g *Graph) EnsureFresh(ctx context.Context, entry string) (ManifestEntry, error) {
	ch := g.flight.DoChan(entry, func() (interface{}, error) {
		return g.buildEntry(entry)
	})

	select {
	case <-ctx.Done():
		return ManifestEntry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ManifestEntry{}, res.Err
		}
		return res.Val.(ManifestEntry), nil
	}
}

// BuildAll builds every registered entry. Used by the production build
// command and the dev server's initial build. The first failure is
// returned; prior successes stay published.
func (g *Graph) BuildAll(ctx context.Context) error {
	for _, name := range g.Entries() {
		if _, err := g.EnsureFresh(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate marks nodes for the given source paths dirty. Deleted paths
// drop their nodes entirely, which also forces dependents to rebuild.
func (g *Graph) Invalidate(paths []string, deleted map[string]bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range paths {
		p = filepath.ToSlash(p)
		node, ok := g.nodes[p]
		if !ok {
			continue
		}
		if deleted[p] {
			delete(g.nodes, p)
			continue
		}
		node.ContentHash = ""
	}
}

// AffectedEntries returns the entries whose transitive dependency set
// intersects the given paths.
func (g *Graph) AffectedEntries(paths []string) []string {
	changed := make(map[string]bool, len(paths))
	for _, p := range paths {
		changed[filepath.ToSlash(p)] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []string
	for name, source := range g.entries {
		if g.reaches(source, changed, make(map[string]bool)) {
			out = append(out, name)
		}
	}
	return out
}

func (g *Graph) reaches(source string, changed, seen map[string]bool) bool {
	if changed[source] {
		return true
	}
	if seen[source] {
		return false
	}
	seen[source] = true
	node, ok := g.nodes[source]
	if !ok {
		return false
	}
	for _, dep := range node.DependsOn {
		if g.reaches(dep, changed, seen) {
			return true
		}
	}
	return false
}

// buildEntry recompiles the entry's transitive dirty set leaves-first and
// atomically republishes the manifest only when the whole set compiles.
// On any failure the manifest keeps the entry's last good state.
func (g *Graph) buildEntry(entry string) (ManifestEntry, error) {
	start := time.Now()
	ctx := context.Background()

	g.mu.Lock()

	source, ok := g.entries[entry]
	if !ok {
		g.mu.Unlock()
		return ManifestEntry{}, tavoerrors.NewBuildError(entry, "unknown build entry", nil)
	}

	compiled := 0
	_, err := g.ensureNode(ctx, source, make(map[string]bool), &compiled)
	if err != nil {
		g.mu.Unlock()
		g.metrics.ObserveBuild(false, time.Since(start))
		g.logger.Error(ctx, err, "build failed", "entry", entry)
		return ManifestEntry{}, err
	}

	node, ok := g.nodes[source]
	if !ok {
		// Invalidated as deleted while the lock was released for a compile.
		g.mu.Unlock()
		return ManifestEntry{}, tavoerrors.NewBuildError(source, "source removed during build", nil)
	}
	me := ManifestEntry{
		ArtifactPath: node.ArtifactPath,
		Hash:         node.ArtifactHash,
		SizeBytes:    node.SizeBytes,
	}

	next := g.manifest.Load().clone()
	next.Entries[entry] = me
	g.manifest.Store(next)
	g.mu.Unlock()

	g.metrics.ObserveBuild(true, time.Since(start))
	if compiled == 0 {
		g.logger.Debug(ctx, "entry already fresh", "entry", entry)
	} else {
		g.logger.Info(ctx, "build complete",
			"entry", entry, "compiled", compiled, "hash", me.Hash[:8], "duration", time.Since(start))
	}

	g.notify(Event{Entry: entry, Hash: me.Hash, Artifact: me.ArtifactPath})
	return me, nil
}

// ensureNode brings one node and its recorded dependencies up to date.
// Returns whether the node's artifact changed. Caller holds g.mu; the lock
// is released for the duration of each external compile.
func (g *Graph) ensureNode(ctx context.Context, source string, visiting map[string]bool, compiled *int) (bool, error) {
	if visiting[source] {
		return false, nil // dependency cycle; first visit wins
	}
	visiting[source] = true
	defer delete(visiting, source)

	node, ok := g.nodes[source]
	if !ok {
		node = &Node{SourcePath: source}
		g.nodes[source] = node
	}

	depChanged := false
	for _, dep := range node.DependsOn {
		changed, err := g.ensureNode(ctx, dep, visiting, compiled)
		if err != nil {
			return false, err
		}
		depChanged = depChanged || changed
	}

	curHash, err := hashFile(source)
	if err != nil {
		return false, tavoerrors.NewBuildError(source, "reading source file", err)
	}

	if !depChanged && node.ContentHash == curHash {
		return false, nil
	}

	// The external compile can be slow; release the lock so unrelated
	// builds and invalidations do not serialize behind it.
	g.mu.Unlock()
	res, err := g.compiler.Compile(ctx, source)
	g.mu.Lock()
	if err != nil {
		return false, err
	}
	*compiled++

	artifactHash := hashBytes(res.Artifact)
	artifactPath, err := g.writeArtifact(source, artifactHash, res.Artifact)
	if err != nil {
		return false, err
	}

	node.DependsOn = normalizePaths(res.DependsOn)
	node.ContentHash = curHash
	node.ArtifactHash = artifactHash
	node.ArtifactPath = artifactPath
	node.SizeBytes = int64(len(res.Artifact))
	node.LastBuiltAt = time.Now()

	// An Invalidate during the unlocked compile may have dropped the node;
	// re-store it so the caller's lookup stays valid.
	g.nodes[source] = node

	// Newly discovered dependencies get nodes now so later dirtiness checks
	// see them; their own compilation happens when something reaches them.
	for _, dep := range node.DependsOn {
		if _, ok := g.nodes[dep]; !ok {
			g.nodes[dep] = &Node{SourcePath: dep}
		}
	}

	return true, nil
}

// writeArtifact stores the artifact under a content-hashed filename so
// stale clients can never receive a mismatched bundle.
func (g *Graph) writeArtifact(source, hash string, data []byte) (string, error) {
	if err := os.MkdirAll(g.outputDir, 0o755); err != nil {
		return "", tavoerrors.NewIOError("creating output directory", err)
	}
	name := fmt.Sprintf("%s.%s.js", artifactBase(source), hash[:8])
	path := filepath.Join(g.outputDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", tavoerrors.NewIOError("writing artifact", err)
	}
	return filepath.ToSlash(path), nil
}

// artifactBase derives a filesystem-safe artifact basename from the source
// path, flattening separators and bracket segments.
func artifactBase(source string) string {
	base := strings.TrimSuffix(source, filepath.Ext(source))
	return strings.NewReplacer("/", "_", "[", "", "]", "", ".", "_").Replace(base)
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.ToSlash(p))
	}
	return out
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return hashBytes(data), nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (g *Graph) notify(ev Event) {
	g.cbMu.Lock()
	callbacks := make([]Callback, len(g.callbacks))
	copy(callbacks, g.callbacks)
	g.cbMu.Unlock()
	for _, cb := range callbacks {
		cb(ev)
	}
}
