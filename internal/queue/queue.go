package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"
)

// Queue is the durable pending-ops store. It shares the *sql.DB handle
// with the local store so Enqueue can join the transaction of the
// triggering write: a local mutation and its sync intent commit or roll
// back together, never one without the other.
type Queue struct {
	db     *sql.DB
	logger *log.Logger
}

// New creates a Queue over an open database handle.
// If logger is nil, a default logger writing to stderr is used.
func New(db *sql.DB, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.New(os.Stderr, "[queue] ", log.LstdFlags)
	}
	return &Queue{db: db, logger: logger}
}

// InitSchema creates the pending_ops and dead_ops tables. Idempotent.
func (q *Queue) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending_ops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		echo_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON, versioned per (entity_type, action)
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dead_ops (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op_id INTEGER NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		echo_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL,
		reason TEXT NOT NULL,
		failed_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pending_next ON pending_ops(next_attempt_at);
	CREATE INDEX IF NOT EXISTS idx_pending_entity ON pending_ops(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_pending_echo ON pending_ops(echo_id);
	CREATE INDEX IF NOT EXISTS idx_dead_echo ON dead_ops(echo_id);
	`
	if _, err := q.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return nil
}

// execer lets Enqueue run inside the caller's transaction or directly
// on the handle.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Enqueue appends an op. Pass the transaction of the triggering local
// write so the intent is atomic with the mutation itself.
func (q *Queue) Enqueue(ctx context.Context, tx execer, op Op) error {
	if tx == nil {
		tx = q.db
	}
	query := `
	INSERT INTO pending_ops (entity_type, entity_id, echo_id, action, payload, attempts, next_attempt_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		string(op.EntityType),
		op.EntityID,
		op.EchoID,
		string(op.Action),
		string(op.Payload),
		op.Attempts,
		op.NextAttemptAt.Format(time.RFC3339Nano),
		op.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s/%s op for %s: %w", op.EntityType, op.Action, op.EntityID, err)
	}
	return nil
}

// ListDue returns ops whose backoff window has passed, in insertion
// order. The query snapshots at call time: ops enqueued mid-drain are
// picked up on the next pass, never racily skipped.
func (q *Queue) ListDue(ctx context.Context, now time.Time) ([]Op, error) {
	return q.list(ctx, "WHERE next_attempt_at <= ?", now.UTC().Format(time.RFC3339Nano))
}

// ListAll returns every pending op in insertion order, including ops
// still waiting out a backoff window.
func (q *Queue) ListAll(ctx context.Context) ([]Op, error) {
	return q.list(ctx, "")
}

func (q *Queue) list(ctx context.Context, where string, args ...any) ([]Op, error) {
	query := `
	SELECT id, entity_type, entity_id, echo_id, action, payload, attempts, next_attempt_at, created_at
	FROM pending_ops ` + where + `
	ORDER BY id ASC
	`
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending ops: %w", err)
	}
	defer rows.Close()

	var ops []Op
	for rows.Next() {
		var op Op
		var entityType, action, payload, nextAt, createdAt string
		if err := rows.Scan(&op.ID, &entityType, &op.EntityID, &op.EchoID, &action, &payload, &op.Attempts, &nextAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending op: %w", err)
		}
		op.EntityType = EntityType(entityType)
		op.Action = Action(action)
		op.Payload = []byte(payload)
		op.NextAttemptAt = parseTime(nextAt)
		op.CreatedAt = parseTime(createdAt)
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending ops: %w", err)
	}
	return ops, nil
}

// Clear removes a successfully drained op.
//
// Echo update ops collapse per entity: clearing one also clears any
// EARLIER update ops for the same echo, because each drain re-reads
// current local state and the latest state has already been sent.
// Media, activity, create, and delete ops are independent rows and are
// cleared individually.
func (q *Queue) Clear(ctx context.Context, op Op) error {
	if op.EntityType == EntityEcho && op.Action == ActionUpdate {
		query := `DELETE FROM pending_ops WHERE entity_type = ? AND entity_id = ? AND action = ? AND id <= ?`
		if _, err := q.db.ExecContext(ctx, query, string(EntityEcho), op.EntityID, string(ActionUpdate), op.ID); err != nil {
			return fmt.Errorf("failed to clear update ops for echo %s: %w", op.EntityID, err)
		}
		return nil
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, op.ID); err != nil {
		return fmt.Errorf("failed to clear op %d: %w", op.ID, err)
	}
	return nil
}

// Fail records a transient failure: bumps the attempt counter and
// pushes the op out to nextAttemptAt. The op stays in the queue.
func (q *Queue) Fail(ctx context.Context, op Op, nextAttemptAt time.Time) error {
	query := `UPDATE pending_ops SET attempts = attempts + 1, next_attempt_at = ? WHERE id = ?`
	if _, err := q.db.ExecContext(ctx, query, nextAttemptAt.UTC().Format(time.RFC3339Nano), op.ID); err != nil {
		return fmt.Errorf("failed to record failure for op %d: %w", op.ID, err)
	}
	return nil
}

// DeadLetter moves an op to the dead_ops table. This is terminal: the
// op will not be retried until a caller explicitly requeues it.
func (q *Queue) DeadLetter(ctx context.Context, op Op, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin dead-letter transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
	INSERT INTO dead_ops (op_id, entity_type, entity_id, echo_id, action, payload, attempts, reason, failed_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insert,
		op.ID,
		string(op.EntityType),
		op.EntityID,
		op.EchoID,
		string(op.Action),
		string(op.Payload),
		op.Attempts,
		reason,
		time.Now().UTC().Format(time.RFC3339Nano),
		op.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to dead-letter op %d: %w", op.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, op.ID); err != nil {
		return fmt.Errorf("failed to remove dead-lettered op %d: %w", op.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dead-letter for op %d: %w", op.ID, err)
	}

	q.logger.Printf("Dead-lettered op %d (%s/%s %s): %s", op.ID, op.EntityType, op.Action, op.EntityID, reason)
	return nil
}

// DeadOps returns all dead-lettered ops, newest failure first.
func (q *Queue) DeadOps(ctx context.Context) ([]DeadOp, error) {
	query := `
	SELECT id, op_id, entity_type, entity_id, echo_id, action, payload, attempts, reason, failed_at, created_at
	FROM dead_ops
	ORDER BY failed_at DESC, id DESC
	`
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead ops: %w", err)
	}
	defer rows.Close()

	var dead []DeadOp
	for rows.Next() {
		var d DeadOp
		var entityType, action, payload, failedAt, createdAt string
		if err := rows.Scan(&d.ID, &d.OpID, &entityType, &d.EntityID, &d.EchoID, &action, &payload, &d.Attempts, &d.Reason, &failedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dead op: %w", err)
		}
		d.EntityType = EntityType(entityType)
		d.Action = Action(action)
		d.Payload = []byte(payload)
		d.FailedAt = parseTime(failedAt)
		d.CreatedAt = parseTime(createdAt)
		dead = append(dead, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead ops: %w", err)
	}
	return dead, nil
}

// Requeue moves a dead-lettered op back into the pending queue, reset
// to attempt zero. Used after the user resolves the underlying problem
// (e.g. re-selects a media file the OS evicted).
func (q *Queue) Requeue(ctx context.Context, deadID int64) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin requeue transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
	SELECT entity_type, entity_id, echo_id, action, payload FROM dead_ops WHERE id = ?`, deadID)

	var entityType, entityID, echoID, action, payload string
	if err := row.Scan(&entityType, &entityID, &echoID, &action, &payload); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("dead op %d not found", deadID)
		}
		return fmt.Errorf("failed to read dead op %d: %w", deadID, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.ExecContext(ctx, `
	INSERT INTO pending_ops (entity_type, entity_id, echo_id, action, payload, attempts, next_attempt_at, created_at)
	VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		entityType, entityID, echoID, action, payload, now, now)
	if err != nil {
		return fmt.Errorf("failed to requeue dead op %d: %w", deadID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_ops WHERE id = ?`, deadID); err != nil {
		return fmt.Errorf("failed to remove dead op %d: %w", deadID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit requeue for dead op %d: %w", deadID, err)
	}
	return nil
}

// Counts returns totals for status surfaces. An echoID of "" counts
// the whole namespace.
func (q *Queue) Counts(ctx context.Context, echoID string) (pending, dead int, err error) {
	pendingQuery := `SELECT COUNT(*) FROM pending_ops`
	deadQuery := `SELECT COUNT(*) FROM dead_ops`
	var args []any
	if echoID != "" {
		pendingQuery += ` WHERE echo_id = ?`
		deadQuery += ` WHERE echo_id = ?`
		args = append(args, echoID)
	}
	if err = q.db.QueryRowContext(ctx, pendingQuery, args...).Scan(&pending); err != nil {
		return 0, 0, fmt.Errorf("failed to count pending ops: %w", err)
	}
	if err = q.db.QueryRowContext(ctx, deadQuery, args...).Scan(&dead); err != nil {
		return 0, 0, fmt.Errorf("failed to count dead ops: %w", err)
	}
	return pending, dead, nil
}

// ClearAll wipes both tables. Called on namespace clear (sign-out) so
// mutations never leak across identities.
func (q *Queue) ClearAll(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM pending_ops`); err != nil {
		return fmt.Errorf("failed to clear pending ops: %w", err)
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM dead_ops`); err != nil {
		return fmt.Errorf("failed to clear dead ops: %w", err)
	}
	return nil
}

// parseTime is forgiving about timestamp precision; a zero time is
// returned for unparseable values rather than failing the whole scan.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
