package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/echoes-app/echosync/internal/model"
	"github.com/echoes-app/echosync/internal/store"
)

// fakeSyncer records reconciliation passes.
type fakeSyncer struct {
	passes chan struct{}
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{passes: make(chan struct{}, 32)}
}

func (f *fakeSyncer) ProcessPendingOps(ctx context.Context) error {
	f.passes <- struct{}{}
	return nil
}

func (f *fakeSyncer) waitForPass(t *testing.T) {
	t.Helper()
	select {
	case <-f.passes:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a reconciliation pass")
	}
}

func setupDaemon(t *testing.T, cfg *Config) (*store.Store, *fakeSyncer, *Daemon) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "echoes-test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	syncer := newFakeSyncer()
	if cfg == nil {
		cfg = &Config{SyncInterval: time.Hour, DebounceInterval: 5 * time.Millisecond}
	}
	d, err := New(syncer, st, cfg)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}
	return st, syncer, d
}

func startDaemon(t *testing.T, d *Daemon) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})
	return cancel
}

func TestNewValidation(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "echoes-test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	if _, err := New(nil, st, nil); err == nil {
		t.Error("nil syncer should be rejected")
	}
	if _, err := New(newFakeSyncer(), nil, nil); err == nil {
		t.Error("nil store should be rejected")
	}
	d, err := New(newFakeSyncer(), st, nil)
	if err != nil {
		t.Fatalf("New with nil config: %v", err)
	}
	if d.config.SyncInterval == 0 || d.config.DebounceInterval == 0 {
		t.Error("nil config should get defaults")
	}
}

func TestInitialPassOnStart(t *testing.T) {
	_, syncer, d := setupDaemon(t, nil)
	startDaemon(t, d)

	// Leftover ops from the previous run drain without any trigger.
	syncer.waitForPass(t)
}

func TestMutationWakesDaemon(t *testing.T) {
	st, syncer, d := setupDaemon(t, nil)
	startDaemon(t, d)
	syncer.waitForPass(t) // initial pass

	if _, err := st.CreateEcho(context.Background(), &model.Echo{
		Title: "Trip", OwnerID: "u1",
	}); err != nil {
		t.Fatalf("CreateEcho: %v", err)
	}
	syncer.waitForPass(t)
}

func TestPeriodicSweep(t *testing.T) {
	_, syncer, d := setupDaemon(t, &Config{
		SyncInterval:     20 * time.Millisecond,
		DebounceInterval: time.Millisecond,
	})
	startDaemon(t, d)

	// Initial pass plus at least two ticker sweeps.
	for i := 0; i < 3; i++ {
		syncer.waitForPass(t)
	}
}

func TestSpoolWatcherTriggersPass(t *testing.T) {
	spool := t.TempDir()
	_, syncer, d := setupDaemon(t, &Config{
		SyncInterval:     time.Hour,
		DebounceInterval: 5 * time.Millisecond,
		SpoolDir:         spool,
	})
	startDaemon(t, d)
	syncer.waitForPass(t) // initial pass

	if err := os.WriteFile(filepath.Join(spool, "img.jpg"), []byte("x"), 0644); err != nil {
		t.Fatalf("failed to write spool file: %v", err)
	}
	syncer.waitForPass(t)
}

func TestStopIsIdempotentAndClean(t *testing.T) {
	_, syncer, d := setupDaemon(t, nil)
	cancel := startDaemon(t, d)
	syncer.waitForPass(t)

	cancel()
	if err := d.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
