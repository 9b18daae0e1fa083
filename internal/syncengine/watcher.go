package syncengine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"

	"github.com/ncsync/ncsync/internal/excludelist"
)

const debounceWindow = 5 * time.Second

// alwaysExcludedSuffixes lists file extensions that are never safe to
// synchronize: partial downloads and editor temporaries that would
// otherwise race with their own completion.
var alwaysExcludedSuffixes = []string{".partial", ".tmp", ".swp", ".crdownload"}

func isAlwaysExcluded(name string) bool {
	lower := strings.ToLower(name)

	for _, ext := range alwaysExcludedSuffixes {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}

	return strings.HasPrefix(name, "~") || strings.HasPrefix(name, ".~")
}

func nfcNormalize(s string) string { return norm.NFC.String(s) }

// Watcher watches a local directory tree with fsnotify, recursively adding
// watches to new subdirectories as they appear, and emits debounced
// LocalEvent batches on the channel passed to Run.
type Watcher struct {
	root     string
	exclude  *excludelist.List
	metaDir  string
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]LocalEvent
	notify   chan struct{}
	seq      atomic.Uint64

	fsw *fsnotify.Watcher
}

// NewWatcher creates a Watcher rooted at root. metaDir is excluded from
// watching (it holds the daemon's own state files).
func NewWatcher(root, metaDir string, exclude *excludelist.List, logger *slog.Logger) *Watcher {
	return &Watcher{
		root:    root,
		metaDir: metaDir,
		exclude: exclude,
		logger:  logger,
		pending: make(map[string]LocalEvent),
	}
}

// Run starts watching and sends debounced batches of LocalEvents on out
// until ctx is canceled, at which point it closes out and returns.
func (w *Watcher) Run(ctx context.Context, out chan<- []LocalEvent) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("syncengine: creating filesystem watcher: %w", err)
	}
	w.fsw = fsw
	defer fsw.Close()

	if err := w.addWatchesRecursive(w.root); err != nil {
		return fmt.Errorf("syncengine: adding initial watches: %w", err)
	}

	w.notify = make(chan struct{}, 1)

	debounced := make(chan []LocalEvent, 1)
	go w.debounceLoop(ctx, debounced)

	defer close(out)

	for {
		select {
		case <-ctx.Done():
			for batch := range debounced {
				select {
				case out <- batch:
				default:
				}
			}

			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}

			w.handleFsEvent(ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))

		case batch, ok := <-debounced:
			if !ok {
				return nil
			}

			select {
			case out <- batch:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.WalkDir(root, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("walk error during watch setup", slog.String("path", fsPath), slog.String("error", walkErr.Error()))
			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if fsPath != root {
			if d.Name() == filepath.Base(w.metaDir) || isAlwaysExcluded(d.Name()) {
				return filepath.SkipDir
			}

			rel, _ := filepath.Rel(root, fsPath)
			if w.exclude != nil && w.exclude.Matches("/"+filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}

		if err := w.fsw.Add(fsPath); err != nil {
			w.logger.Warn("failed to add watch", slog.String("path", fsPath), slog.String("error", err.Error()))
		}

		return nil
	})
}

func (w *Watcher) handleFsEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	relPath := "/" + nfcNormalize(filepath.ToSlash(rel))
	name := nfcNormalize(filepath.Base(ev.Name))

	if isAlwaysExcluded(name) || strings.HasPrefix(relPath, "/"+filepath.Base(w.metaDir)) {
		return
	}

	if w.exclude != nil && w.exclude.Matches(relPath) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.handleCreate(ev.Name, relPath)
	case ev.Has(fsnotify.Write):
		w.enqueue(LocalEvent{Kind: LocalModify, Path: relPath})
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.enqueue(LocalEvent{Kind: LocalRemove, Path: relPath})
	}
}

func (w *Watcher) handleCreate(fsPath, relPath string) {
	info, err := os.Stat(fsPath)
	if err != nil {
		return
	}

	if info.IsDir() {
		if err := w.fsw.Add(fsPath); err != nil {
			w.logger.Warn("failed to add watch for new directory", slog.String("path", fsPath), slog.String("error", err.Error()))
		}

		w.scanNewDirectory(fsPath, relPath)

		return
	}

	w.enqueue(LocalEvent{Kind: LocalCreate, Path: relPath})
}

// scanNewDirectory walks a newly created directory (which may already
// contain files, e.g. moved in from outside the watched tree) and emits a
// LocalCreate for each entry found.
func (w *Watcher) scanNewDirectory(fsPath, relPath string) {
	_ = filepath.WalkDir(fsPath, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil || p == fsPath {
			return nil
		}

		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return nil
		}

		childRel := "/" + nfcNormalize(filepath.ToSlash(rel))

		if d.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				w.logger.Warn("failed to add watch", slog.String("path", p), slog.String("error", err.Error()))
			}

			return nil
		}

		w.enqueue(LocalEvent{Kind: LocalCreate, Path: childRel})

		return nil
	})
}

// enqueue buffers a LocalEvent under the debounce window, assigning it the
// next monotonic sequence number (the reconciler processes the batch in
// this order).
func (w *Watcher) enqueue(ev LocalEvent) {
	ev.Seq = w.seq.Add(1)

	w.mu.Lock()
	w.pending[ev.Path] = ev
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *Watcher) flush() []LocalEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}

	batch := make([]LocalEvent, 0, len(w.pending))
	for _, ev := range w.pending {
		batch = append(batch, ev)
	}

	sort.Slice(batch, func(i, j int) bool { return batch[i].Seq < batch[j].Seq })

	w.pending = make(map[string]LocalEvent)

	return batch
}

// debounceLoop resets a timer on each new-event notification and flushes
// the pending batch once debounceWindow elapses with no further activity —
// the same reset-on-notify shape as the teacher's buffer.go debounceLoop.
func (w *Watcher) debounceLoop(ctx context.Context, out chan<- []LocalEvent) {
	defer close(out)

	timer := time.NewTimer(debounceWindow)
	timer.Stop()

	active := false

	for {
		select {
		case <-ctx.Done():
			if batch := w.flush(); batch != nil {
				select {
				case out <- batch:
				default:
				}
			}

			return

		case _, ok := <-w.notify:
			if !ok {
				return
			}

			if !timer.Stop() && active {
				<-timer.C
			}

			timer.Reset(debounceWindow)
			active = true

		case <-timer.C:
			active = false

			if batch := w.flush(); batch != nil {
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
