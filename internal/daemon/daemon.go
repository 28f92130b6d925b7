// Package daemon provides the background process that keeps the local
// store reconciled with the remote backend.
//
// The daemon:
//  1. Runs an initial reconciliation pass on startup (app resume)
//  2. Wakes on every local mutation via the store's wake channel
//  3. Watches the media spool directory so newly staged files trigger
//     a pass without waiting for the next tick
//  4. Sweeps periodically to pick up ops whose backoff window expired
//  5. Handles graceful shutdown: in-flight work is cancelled, not
//     deleted, and resumes on the next start
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/echoes-app/echosync/internal/store"
)

// Syncer is the single entry point the daemon drives. Satisfied by
// *sync.Reconciler.
type Syncer interface {
	ProcessPendingOps(ctx context.Context) error
}

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to run a pass with no other trigger.
	// Backoff windows expire between triggers, so this is also the
	// retry sweep cadence.
	SyncInterval time.Duration

	// DebounceInterval batches rapid wake triggers together.
	DebounceInterval time.Duration

	// SpoolDir is the directory where the app stages media files
	// awaiting upload. Empty disables the file watcher.
	SpoolDir string

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     30 * time.Second,
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates wake triggers and reconciliation passes.
type Daemon struct {
	syncer Syncer
	store  *store.Store
	config *Config

	watcher *fsnotify.Watcher
	trigger chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance. Use Start() to begin reconciling.
func New(syncer Syncer, st *store.Store, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.SyncInterval == 0 {
		config.SyncInterval = DefaultConfig().SyncInterval
	}
	if config.DebounceInterval == 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:  syncer,
		store:   st,
		config:  config,
		trigger: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation. This blocks until ctx is
// cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting sync daemon")

	if d.config.SpoolDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create spool watcher: %w", err)
		}
		d.watcher = watcher
		if err := watcher.Add(d.config.SpoolDir); err != nil {
			d.config.Logger.Printf("Warning: cannot watch spool dir %s: %v", d.config.SpoolDir, err)
			_ = watcher.Close()
			d.watcher = nil
		} else {
			d.config.Logger.Printf("Watching spool: %s", d.config.SpoolDir)
			d.wg.Add(1)
			go d.watchSpool()
		}
	}

	d.wg.Add(2)
	go d.watchStore()
	go d.runLoop()

	// Initial pass: drain anything left over from the previous run.
	d.poke()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. The current pass is cancelled
// cooperatively; pending ops stay queued for the next start.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping sync daemon")
	d.cancel()
	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("Error closing spool watcher: %v", err)
		}
	}
	d.wg.Wait()
	d.config.Logger.Println("Sync daemon stopped")
	return nil
}

// poke requests a pass, fire-and-forget. Signals coalesce.
func (d *Daemon) poke() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// watchStore forwards mutation wake-ups into the trigger channel.
func (d *Daemon) watchStore() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.store.Wake():
			d.poke()
		}
	}
}

// watchSpool forwards media spool file events into the trigger channel.
func (d *Daemon) watchSpool() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			d.config.Logger.Printf("Spool event: %s %s", event.Op, event.Name)
			d.poke()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Spool watcher error: %v", err)
		}
	}
}

// runLoop debounces triggers and runs reconciliation passes.
func (d *Daemon) runLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-d.trigger:
			// Debounce: let a burst of mutations settle into one pass.
			timer := time.NewTimer(d.config.DebounceInterval)
			select {
			case <-d.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			d.runPass()

		case <-ticker.C:
			d.runPass()
		}
	}
}

func (d *Daemon) runPass() {
	if err := d.syncer.ProcessPendingOps(d.ctx); err != nil {
		if d.ctx.Err() != nil {
			return
		}
		d.config.Logger.Printf("Reconciliation pass incomplete: %v", err)
	}
}
