package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/echoes-app/echosync/internal/model"
	"github.com/echoes-app/echosync/internal/queue"
	"github.com/echoes-app/echosync/internal/remote"
	"github.com/echoes-app/echosync/internal/store"
)

// Config tunes retry and timeout behavior.
type Config struct {
	// OpTimeout bounds each op's remote work so a hung request cannot
	// stall the whole pass.
	OpTimeout time.Duration

	// BaseBackoff and MaxBackoff bound the exponential retry delay.
	// Each failed attempt doubles the delay, with up to 25% jitter.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		OpTimeout:   30 * time.Second,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// TerminalError marks an op failure that retrying cannot fix. The
// reconciler moves the op to the dead-letter table instead of leaving
// it to fail on every future pass.
type TerminalError struct {
	Reason string
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TerminalError) Unwrap() error { return e.Err }

// Reconciler drains pending ops against the remote collaborator.
type Reconciler struct {
	store  *store.Store
	queue  *queue.Queue
	docs   remote.DocumentStore
	blobs  remote.BlobStore
	cfg    Config
	logger *log.Logger

	// mu serializes passes. Overlapping triggers coalesce: a trigger
	// arriving mid-pass returns immediately, and the ops it announced
	// are picked up by the next pass.
	mu sync.Mutex
}

// New creates a Reconciler. If logger is nil, a default logger writing
// to stderr is used.
func New(st *store.Store, q *queue.Queue, docs remote.DocumentStore, blobs remote.BlobStore, cfg Config, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	return &Reconciler{
		store:  st,
		queue:  q,
		docs:   docs,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger,
	}
}

// lane groups a single entity's ops so one entity's failure cannot
// head-of-line-block unrelated entities.
type lane struct {
	key string
	ops []queue.Op
}

// ProcessPendingOps drains all due ops once. Safe to call from any
// goroutine; concurrent calls coalesce into the running pass.
//
// Ops are processed in global FIFO order across lanes, so for two ops
// on different entities that both succeed, the earlier op's remote
// effect lands no later than the later op's.
func (r *Reconciler) ProcessPendingOps(ctx context.Context) error {
	if !r.mu.TryLock() {
		return nil
	}
	defer r.mu.Unlock()

	ops, err := r.queue.ListDue(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to list pending ops: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	lanes := groupLanes(ops)
	r.logger.Printf("Processing %d pending ops across %d entities", len(ops), len(lanes))

	var firstErr error
	for _, ln := range lanes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.drainLane(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// groupLanes partitions ops by (entityType, entityId), preserving
// insertion order within each lane and ordering lanes by their
// earliest op.
func groupLanes(ops []queue.Op) []lane {
	index := make(map[string]int)
	var lanes []lane
	for _, op := range ops {
		key := string(op.EntityType) + "/" + op.EntityID
		i, ok := index[key]
		if !ok {
			i = len(lanes)
			index[key] = i
			lanes = append(lanes, lane{key: key})
		}
		lanes[i].ops = append(lanes[i].ops, op)
	}
	return lanes
}

// drainLane applies one entity's ops in order. The first failure skips
// the remainder of the lane: later ops for the same entity usually
// depend on the earlier ones having landed.
func (r *Reconciler) drainLane(ctx context.Context, ln lane) error {
	for _, op := range ln.ops {
		opCtx, cancel := context.WithTimeout(ctx, r.cfg.OpTimeout)
		err := r.apply(opCtx, op)
		cancel()

		if err == nil {
			if clearErr := r.queue.Clear(ctx, op); clearErr != nil {
				return clearErr
			}
			continue
		}

		if ctx.Err() != nil {
			// Shutdown or sign-out: leave the op untouched for the
			// next pass rather than counting it as a failed attempt.
			return ctx.Err()
		}

		var terminal *TerminalError
		if errors.As(err, &terminal) {
			if dlErr := r.queue.DeadLetter(ctx, op, terminal.Reason); dlErr != nil {
				return dlErr
			}
			continue
		}

		delay := r.backoff(op.Attempts)
		r.logger.Printf("WARNING: op %d (%s/%s %s) failed (attempt %d, retry in %s): %v",
			op.ID, op.EntityType, op.Action, op.EntityID, op.Attempts+1, delay.Round(time.Millisecond), err)
		if failErr := r.queue.Fail(ctx, op, time.Now().Add(delay)); failErr != nil {
			return failErr
		}
		return fmt.Errorf("lane %s stalled at op %d: %w", ln.key, op.ID, err)
	}
	return nil
}

// backoff computes the exponential retry delay with up to 25% jitter.
func (r *Reconciler) backoff(attempts int) time.Duration {
	delay := r.cfg.BaseBackoff
	for i := 0; i < attempts && delay < r.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > r.cfg.MaxBackoff {
		delay = r.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// apply dispatches one op to the remote backend.
func (r *Reconciler) apply(ctx context.Context, op queue.Op) error {
	switch {
	case op.EntityType == queue.EntityEcho && op.Action == queue.ActionCreate:
		return r.applyEchoCreate(ctx, op)
	case op.EntityType == queue.EntityEcho && op.Action == queue.ActionUpdate:
		return r.applyEchoUpdate(ctx, op)
	case op.EntityType == queue.EntityEcho && op.Action == queue.ActionDelete:
		return r.applyEchoDelete(ctx, op)
	case op.EntityType == queue.EntityMedia && op.Action == queue.ActionAddMedia:
		return r.applyAddMedia(ctx, op)
	case op.EntityType == queue.EntityMedia && op.Action == queue.ActionDeleteMedia:
		return r.applyDeleteMedia(ctx, op)
	case op.EntityType == queue.EntityActivity && op.Action == queue.ActionAppend:
		return r.applyActivity(ctx, op)
	default:
		return &TerminalError{Reason: fmt.Sprintf("unknown op kind %s/%s", op.EntityType, op.Action)}
	}
}

// applyEchoCreate sends the echo's CURRENT full local state, not the
// state at enqueue time.
func (r *Reconciler) applyEchoCreate(ctx context.Context, op queue.Op) error {
	var payload queue.CreateEchoPayload
	if err := op.DecodePayload(&payload); err != nil {
		return &TerminalError{Reason: "malformed create payload", Err: err}
	}
	echo := r.store.GetByID(payload.EchoID)
	if echo == nil {
		// Deleted locally before the create ever synced. The delete
		// op in this lane handles the remote side.
		r.logger.Printf("Echo %s gone before create sync, dropping op %d", payload.EchoID, op.ID)
		return nil
	}
	return r.docs.UpsertEcho(ctx, echo)
}

func (r *Reconciler) applyEchoUpdate(ctx context.Context, op queue.Op) error {
	var payload queue.UpdateEchoPayload
	if err := op.DecodePayload(&payload); err != nil {
		return &TerminalError{Reason: "malformed update payload", Err: err}
	}
	echo := r.store.GetByID(payload.EchoID)
	if echo == nil {
		r.logger.Printf("Echo %s gone before update sync, dropping op %d", payload.EchoID, op.ID)
		return nil
	}

	switch {
	case payload.Collaborator != nil:
		switch payload.Collaborator.Op {
		case "add":
			return r.docs.AddCollaborator(ctx, payload.EchoID, payload.Collaborator.UserID)
		case "remove":
			return r.docs.RemoveCollaborator(ctx, payload.EchoID, payload.Collaborator.UserID)
		default:
			return &TerminalError{Reason: fmt.Sprintf("unknown collaborator delta %q", payload.Collaborator.Op)}
		}
	case payload.Updates != nil:
		fields := payload.Updates.Fields()
		fields["updatedAt"] = echo.UpdatedAt
		return r.docs.UpdateEchoFields(ctx, payload.EchoID, fields)
	default:
		return &TerminalError{Reason: "update payload carries neither diff nor collaborator delta"}
	}
}

func (r *Reconciler) applyEchoDelete(ctx context.Context, op queue.Op) error {
	var payload queue.DeleteEchoPayload
	if err := op.DecodePayload(&payload); err != nil {
		return &TerminalError{Reason: "malformed delete payload", Err: err}
	}
	return r.docs.RemoveEcho(ctx, payload.EchoID)
}

// applyAddMedia uploads the blob first and writes metadata only with
// the confirmed remote URL. A media file the OS evicted before we got
// to it is a terminal failure: the op moves to the dead-letter table
// so the loss is visible, never silently dropped.
func (r *Reconciler) applyAddMedia(ctx context.Context, op queue.Op) error {
	var payload queue.AddMediaPayload
	if err := op.DecodePayload(&payload); err != nil {
		return &TerminalError{Reason: "malformed add_media payload", Err: err}
	}

	media := r.store.GetMedia(payload.EchoID, payload.MediaID)
	if media == nil {
		// Removed locally before upload; its delete_media op (if any)
		// handles remote cleanup.
		r.logger.Printf("Media %s gone before sync, dropping op %d", payload.MediaID, op.ID)
		return nil
	}

	if media.IsLocalURI() {
		path := media.LocalPath()
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return &TerminalError{Reason: fmt.Sprintf("local file missing: %s", path), Err: err}
			}
			return fmt.Errorf("failed to open media file %s: %w", path, err)
		}
		defer f.Close()

		key := media.BlobKey()
		url, err := r.blobs.Upload(ctx, key, mime.TypeByExtension(filepath.Ext(path)), f)
		if err != nil {
			return fmt.Errorf("failed to upload media %s: %w", media.ID, err)
		}

		media.URI = url
		media.StoragePath = key
	}

	media.SyncStatus = model.SyncSynced
	if err := r.docs.PutMediaRecord(ctx, payload.EchoID, media); err != nil {
		return fmt.Errorf("failed to push media metadata %s: %w", media.ID, err)
	}

	if err := r.store.MarkMediaSynced(ctx, payload.EchoID, media.ID, media.URI, media.StoragePath); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Removed locally during the upload; the remote record
			// will be cleaned up by the delete_media op.
			return nil
		}
		return err
	}
	return nil
}

// applyDeleteMedia removes the remote metadata record, then makes a
// best-effort pass at the blob. Old ops may lack type information, in
// which case deletion is attempted speculatively across every media
// kind; individual blob failures are ignored.
func (r *Reconciler) applyDeleteMedia(ctx context.Context, op queue.Op) error {
	var payload queue.DeleteMediaPayload
	if err := op.DecodePayload(&payload); err != nil {
		return &TerminalError{Reason: "malformed delete_media payload", Err: err}
	}

	if err := r.docs.RemoveMediaRecord(ctx, payload.EchoID, payload.MediaID); err != nil {
		return err
	}

	keys := blobKeyCandidates(payload)
	for _, key := range keys {
		if err := r.blobs.Delete(ctx, key); err != nil {
			r.logger.Printf("Warning: failed to delete blob %s: %v", key, err)
		}
	}
	return nil
}

func blobKeyCandidates(payload queue.DeleteMediaPayload) []string {
	if payload.StoragePath != "" {
		return []string{payload.StoragePath}
	}
	if payload.Type != "" {
		return []string{fmt.Sprintf("%s/%s/%s", payload.EchoID, payload.Type, payload.MediaID)}
	}
	keys := make([]string, 0, len(model.MediaTypes))
	for _, t := range model.MediaTypes {
		keys = append(keys, fmt.Sprintf("%s/%s/%s", payload.EchoID, t, payload.MediaID))
	}
	return keys
}

func (r *Reconciler) applyActivity(ctx context.Context, op queue.Op) error {
	var payload queue.AppendActivityPayload
	if err := op.DecodePayload(&payload); err != nil {
		return &TerminalError{Reason: "malformed activity payload", Err: err}
	}
	activity := r.store.GetActivity(payload.EchoID, payload.ActivityID)
	if activity == nil {
		// Echo (and its feed) deleted locally before this synced.
		r.logger.Printf("Activity %s gone before sync, dropping op %d", payload.ActivityID, op.ID)
		return nil
	}
	return r.docs.AppendActivity(ctx, payload.EchoID, activity)
}
