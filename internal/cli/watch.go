package cli

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/ppiankov/concordia/internal/model"
	"github.com/ppiankov/concordia/internal/pipeline"
)

var (
	watchDebounce time.Duration
	watchInitial  bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch <dir>...",
	Short: "Re-ingest documents as they change",
	Long: `Watch monitors directories for created and modified documents and ingests
them after a quiet period. A changed file supersedes the document previously
ingested from the same path. Unchanged content is a no-op.

Only one watcher may run per store. Each ingestion prints one JSON result.

Example:
  concordia watch docs/
  concordia watch docs/ runbooks/ --initial --debounce 2s`,
	Args: minArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	addIngestFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before changed files are ingested")
	watchCmd.Flags().BoolVar(&watchInitial, "initial", false, "ingest every existing document before watching")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, dir := range args {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return newUsageError("%s is not a directory", dir)
		}
	}

	// Acquire exclusive lock so a single watcher writes to the store
	lockPath := filepath.Join(filepath.Dir(cfg.Store.Path), ".watch.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring watch lock: %w", err)
	}
	if !locked {
		return model.ValidationError("another watch is in progress").WithDetail("lock", lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := pipeline.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Warn("Closing store failed", "error", err)
		}
	}()

	w, err := newDocWatcher(args, watchDebounce)
	if err != nil {
		return err
	}
	defer w.Close()

	latest := make(map[string]string)
	ingest := func(paths []string) {
		for _, p := range paths {
			if ctx.Err() != nil {
				return
			}
			req := ingestTemplate(p)
			req.Supersedes = latest[p]
			resp, err := engine.IngestDocument(ctx, req)
			if err != nil && req.Supersedes != "" && model.IsKind(err, model.KindValidation) {
				// The previous version was retired elsewhere
				req.Supersedes = ""
				resp, err = engine.IngestDocument(ctx, req)
			}
			if err != nil {
				slog.Error("Ingestion failed", "path", p, "error", err)
				printError(err)
				continue
			}
			latest[p] = resp.DocumentID
			if err := printJSON(resp); err != nil {
				slog.Warn("Result not printed", "path", p, "error", err)
			}
		}
	}

	if watchInitial {
		existing, err := collectSources(args, "", nil)
		if err != nil {
			return err
		}
		ingest(existing)
	}

	slog.Info("Watching for changes", "dirs", args, "debounce", watchDebounce)
	w.Run(ctx, ingest)
	return nil
}

// docWatcher batches fsnotify events for document files and hands the
// changed paths to a callback once no event arrived for the debounce period
type docWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	pending map[string]bool
}

func newDocWatcher(dirs []string, debounce time.Duration) (*docWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &docWatcher{watcher: fw, debounce: debounce, pending: make(map[string]bool)}
	for _, dir := range dirs {
		if err := w.addTree(dir); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// addTree watches dir and every non-hidden subdirectory
func (w *docWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run dispatches debounced batches to fn until ctx is done. fn runs on the
// calling goroutine, so batches never overlap.
func (w *docWatcher) Run(ctx context.Context, fn func(paths []string)) {
	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.handle(event) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Watcher error", "error", err)

		case <-timer.C:
			if paths := w.drain(); len(paths) > 0 {
				fn(paths)
			}
		}
	}
}

// handle records a relevant event and reports whether it was one
func (w *docWatcher) handle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil {
		return false
	}
	if info.IsDir() {
		if event.Has(fsnotify.Create) && !strings.HasPrefix(filepath.Base(event.Name), ".") {
			if err := w.addTree(event.Name); err != nil {
				slog.Warn("Cannot watch new directory", "path", event.Name, "error", err)
			}
		}
		return false
	}
	if !isDocumentFile(event.Name) {
		return false
	}
	w.mu.Lock()
	w.pending[event.Name] = true
	w.mu.Unlock()
	return true
}

// drain returns the pending paths sorted and clears them
func (w *docWatcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.pending = make(map[string]bool)
	return paths
}

func (w *docWatcher) Close() {
	if err := w.watcher.Close(); err != nil {
		slog.Warn("Closing watcher failed", "error", err)
	}
}

func isDocumentFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return documentExtensions[strings.ToLower(filepath.Ext(base))]
}
