// Package watcher observes the project tree and emits coalesced change-sets.
// Raw fsnotify events arriving within the debounce window are merged into a
// single change-set keyed by path, with the most recent operation per path
// winning. Each path is classified so downstream consumers can route the
// change-set to build invalidation, supervisor restart evaluation, or a
// route table rebuild.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/TechWithDunamix/tavo/internal/logging"
)

// Op represents the type of file change.
type Op int

const (
	OpCreated Op = iota
	OpModified
	OpDeleted
)

// String returns the string representation of the operation.
func (o Op) String() string {
	switch o {
	case OpCreated:
		return "created"
	case OpModified:
		return "modified"
	case OpDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is one coalesced file change.
type Change struct {
	Path    string
	Op      Op
	Class   Class
	ModTime time.Time
}

// ChangeSet is one debounced batch of changes, at most one Change per path.
type ChangeSet struct {
	Changes []Change
}

// Paths returns the distinct changed paths.
func (cs ChangeSet) Paths() []string {
	out := make([]string, 0, len(cs.Changes))
	for _, c := range cs.Changes {
		out = append(out, c.Path)
	}
	return out
}

// Has reports whether any change in the set carries the given class.
func (cs ChangeSet) Has(class Class) bool {
	for _, c := range cs.Changes {
		if c.Class == class {
			return true
		}
	}
	return false
}

// Filter returns the changes carrying the given class.
func (cs ChangeSet) Filter(class Class) []Change {
	var out []Change
	for _, c := range cs.Changes {
		if c.Class == class {
			out = append(out, c)
		}
	}
	return out
}

// Handler handles a coalesced change-set.
type Handler func(cs ChangeSet)

// FileWatcher watches the project tree with debouncing and classification.
type FileWatcher struct {
	watcher    *fsnotify.Watcher
	classifier *Classifier
	debounce   time.Duration
	ignore     []string
	logger     logging.Logger

	mu       sync.Mutex
	pending  map[string]Change
	timer    *time.Timer
	handlers []Handler
	output   chan ChangeSet
}

// New creates a file watcher. The debounce window and ignore list come from
// configuration.
func New(classifier *Classifier, debounce time.Duration, ignore []string, logger logging.Logger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		watcher:    w,
		classifier: classifier,
		debounce:   debounce,
		ignore:     ignore,
		logger:     logger.WithComponent("watcher"),
		pending:    make(map[string]Change),
		output:     make(chan ChangeSet, 16),
	}, nil
}

// AddHandler registers a change-set handler.
func (fw *FileWatcher) AddHandler(h Handler) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.handlers = append(fw.handlers, h)
}

// AddRecursive adds a directory and all its subdirectories to the watch set,
// skipping ignored names. A missing root is not an error; it may appear
// later.
func (fw *FileWatcher) AddRecursive(root string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if fw.ignored(path) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

func (fw *FileWatcher) ignored(path string) bool {
	base := filepath.Base(path)
	for _, ig := range fw.ignore {
		if base == ig {
			return true
		}
	}
	return false
}

// Start begins watching. It returns immediately; change-sets are delivered
// to registered handlers until ctx is canceled.
func (fw *FileWatcher) Start(ctx context.Context) {
	go fw.watchLoop(ctx)
	go fw.dispatchLoop(ctx)
}

// Stop stops the watcher and releases resources.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.mu.Unlock()
	return fw.watcher.Close()
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "watch error")
		}
	}
}

func (fw *FileWatcher) handleEvent(event fsnotify.Event) {
	if fw.ignored(event.Name) {
		return
	}

	var op Op
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreated
	case event.Op&fsnotify.Remove != 0, event.Op&fsnotify.Rename != 0:
		op = OpDeleted
	default:
		op = OpModified
	}

	info, err := os.Stat(event.Name)
	if err == nil && info.IsDir() {
		// New directories join the watch set; directory events themselves
		// are not project changes.
		if op == OpCreated {
			_ = fw.AddRecursive(event.Name)
		}
		return
	}

	class := fw.classifier.Classify(event.Name, op)
	if class == ClassNone {
		return
	}

	change := Change{Path: event.Name, Op: op, Class: class}
	if info != nil {
		change.ModTime = info.ModTime()
	}

	fw.record(change)
}

// record merges a change into the pending set and (re)arms the debounce
// timer. The most recent operation per path wins, except that a create
// followed by a modify within one window stays a create.
func (fw *FileWatcher) record(change Change) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if prev, ok := fw.pending[change.Path]; ok {
		if prev.Op == OpCreated && change.Op == OpModified {
			change.Op = OpCreated
			change.Class = fw.classifier.Classify(change.Path, OpCreated)
		}
	}
	fw.pending[change.Path] = change

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, fw.flush)
}

func (fw *FileWatcher) flush() {
	fw.mu.Lock()
	if len(fw.pending) == 0 {
		fw.mu.Unlock()
		return
	}
	cs := ChangeSet{Changes: make([]Change, 0, len(fw.pending))}
	for _, c := range fw.pending {
		cs.Changes = append(cs.Changes, c)
	}
	fw.pending = make(map[string]Change)
	fw.mu.Unlock()

	select {
	case fw.output <- cs:
	default:
		// Consumer stalled; drop rather than block the timer goroutine.
		fw.logger.Warn(context.Background(), nil, "change-set dropped, dispatch backlog full",
			"paths", len(cs.Changes))
	}
}

func (fw *FileWatcher) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cs := <-fw.output:
			fw.mu.Lock()
			handlers := fw.handlers
			fw.mu.Unlock()
			for _, h := range handlers {
				h(cs)
			}
		}
	}
}
