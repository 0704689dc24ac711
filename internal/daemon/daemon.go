// Package daemon watches an inbox directory for desktop export files and
// restores each one into the local store.
//
// The daemon:
// 1. Watches the inbox for *.xml export files
// 2. Runs a restore session per file, debouncing rapid writes
// 3. Archives each file to the processed or failed directory
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/taskpouch/taskpouch/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must sit quiet before it is
	// restored. Desktop exports are written incrementally, so acting on
	// the first write event would read a partial document.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates inbox watching and restore sessions.
type Daemon struct {
	store        sync.LocalStore
	reporter     sync.Reporter
	inboxDir     string
	processedDir string
	failedDir    string
	config       *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event time
	changeQueueMu gosync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - store: destination for restored entities
//   - reporter: receives per-session progress, may be nil
//   - inboxDir: directory watched for export files (inbox/*.xml)
//   - processedDir, failedDir: archive destinations
//
// Use Start() to begin watching and restoring.
func New(store sync.LocalStore, reporter sync.Reporter, inboxDir, processedDir, failedDir string, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if inboxDir == "" {
		return nil, fmt.Errorf("inboxDir cannot be empty")
	}
	if processedDir == "" || failedDir == "" {
		return nil, fmt.Errorf("archive directories cannot be empty")
	}
	if reporter == nil {
		reporter = sync.NopReporter{}
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:        store,
		reporter:     reporter,
		inboxDir:     inboxDir,
		processedDir: processedDir,
		failedDir:    failedDir,
		config:       config,
		watcher:      watcher,
		changeQueue:  make(map[string]time.Time),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Create the inbox and archive directories if missing
// 2. Restore any export files already sitting in the inbox
// 3. Watch for new export files and restore them as they settle
//
// This blocks until ctx is cancelled or an error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	for _, dir := range []string{d.inboxDir, d.processedDir, d.failedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// Pick up exports that arrived while the daemon was down.
	if err := d.drainInbox(); err != nil {
		return fmt.Errorf("initial inbox scan failed: %w", err)
	}

	if err := d.watcher.Add(d.inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox directory: %w", err)
	}

	d.config.Logger.Printf("Watching: %s", d.inboxDir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// drainInbox restores every export file already present in the inbox.
func (d *Daemon) drainInbox() error {
	entries, err := os.ReadDir(d.inboxDir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".xml" {
			continue
		}
		d.RestoreFile(filepath.Join(d.inboxDir, entry.Name()))
	}
	return nil
}

// watchFileEvents monitors filesystem events and queues export files.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if filepath.Ext(event.Name) != ".xml" {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, event.Name)
			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue restores queued files once they have settled.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges restores files that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	ready := make([]string, 0, len(d.changeQueue))
	now := time.Now()
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			// Deleted or already archived before we got to it.
			continue
		}
		d.RestoreFile(path)
	}
}

// RestoreFile runs one restore session over the given export file and
// archives it according to the outcome. A failed restore never removes
// entities committed before the failure; the next full export reconciles.
func (d *Daemon) RestoreFile(path string) {
	d.config.Logger.Printf("Restoring %s", path)

	f, err := os.Open(path)
	if err != nil {
		d.config.Logger.Printf("Error opening %s: %v", path, err)
		return
	}

	session := sync.NewSession(d.ctx, d.store, d.reporter, d.config.Logger)
	runErr := session.Run(f)
	f.Close()

	if runErr != nil {
		d.config.Logger.Printf("Restore of %s failed: %v", path, runErr)
		d.archive(path, d.failedDir)
		return
	}

	counts := session.Counts()
	d.config.Logger.Printf("Restored %s: %d categories, %d tasks, %d efforts",
		path, counts.Categories, counts.Tasks, counts.Efforts)
	d.archive(path, d.processedDir)
}

// archive moves an export file out of the inbox, prefixing a timestamp so
// repeated exports with the same name never collide.
func (d *Daemon) archive(path, dir string) {
	name := time.Now().Format("20060102-150405") + "-" + filepath.Base(path)
	dest := filepath.Join(dir, name)

	if err := os.Rename(path, dest); err != nil {
		d.config.Logger.Printf("Error archiving %s: %v", path, err)
		return
	}
	d.config.Logger.Printf("Archived %s -> %s", filepath.Base(path), dest)
}
