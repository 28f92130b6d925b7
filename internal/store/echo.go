package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/echoes-app/echosync/internal/model"
	"github.com/echoes-app/echosync/internal/queue"
	"github.com/google/uuid"
)

// CreateEcho inserts a new echo with its collaborator and media rows,
// enqueues a create op, and appends an echo_created activity, all in
// one transaction. Returns the hydrated entity.
func (s *Store) CreateEcho(ctx context.Context, echo *model.Echo) (*model.Echo, error) {
	if echo.ID == "" {
		echo.ID = uuid.NewString()
	}
	echo.SetDefaults()
	echo.Normalize()
	if err := echo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid echo: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertEcho(ctx, tx, echo); err != nil {
		return nil, err
	}
	for _, userID := range echo.CollaboratorIDs {
		if err := insertCollaborator(ctx, tx, echo.ID, userID, ""); err != nil {
			return nil, err
		}
	}
	// Initial media rides the same transaction and gets its own upload
	// ops, same as media added later through AddMediaBatch.
	for _, m := range echo.Media {
		m.EchoID = echo.ID
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.SetDefaults()
		if err := insertMedia(ctx, tx, m); err != nil {
			return nil, err
		}
		mediaOp, err := queue.NewOp(queue.EntityMedia, m.ID, echo.ID, queue.ActionAddMedia,
			queue.AddMediaPayload{Version: queue.PayloadVersion, EchoID: echo.ID, MediaID: m.ID})
		if err != nil {
			return nil, err
		}
		if err := s.queue.Enqueue(ctx, tx, mediaOp); err != nil {
			return nil, err
		}
	}

	op, err := queue.NewOp(queue.EntityEcho, echo.ID, echo.ID, queue.ActionCreate,
		queue.CreateEchoPayload{Version: queue.PayloadVersion, EchoID: echo.ID})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, tx, op); err != nil {
		return nil, err
	}

	activity := &model.EchoActivity{
		ID:          uuid.NewString(),
		EchoID:      echo.ID,
		Type:        model.ActivityEchoCreated,
		UserID:      echo.OwnerID,
		UserName:    echo.OwnerName,
		UserAvatar:  echo.OwnerPhotoURL,
		Description: fmt.Sprintf("created %q", echo.Title),
		Timestamp:   time.Now().UTC(),
	}
	if err := s.insertActivity(ctx, tx, activity); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit echo create: %w", err)
	}

	if err := s.reloadEcho(ctx, echo.ID); err != nil {
		s.logger.Printf("WARNING: cache reload after create failed: %v", err)
	}
	s.notify()

	return s.GetByID(echo.ID), nil
}

// UpdateEcho applies a partial update. Unset fields are untouched; an
// explicit false is applied. Collaborator or media sets, when present,
// fully replace the child rows. The applied diff travels in the update
// op. UpdatedAt is bumped monotonically.
func (s *Store) UpdateEcho(ctx context.Context, id string, update model.EchoUpdate) (*model.Echo, error) {
	current := s.GetByID(id)
	if current == nil {
		return nil, fmt.Errorf("echo %s: %w", id, ErrNotFound)
	}

	prevStatus := current.Status
	merged := current.Clone()
	update.Apply(merged)
	merged.Normalize()
	if merged.IsPrivate {
		// Going (or staying) private empties the collaborator set. The
		// forced diff entries make the rows below get deleted and the
		// remote document cleared, not just the cache.
		update.ShareMode = model.Some(model.SharePrivate)
		update.CollaboratorIDs = model.Some([]string{})
	}
	merged.UpdatedAt = bumpUpdatedAt(current.UpdatedAt)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("invalid echo update: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateEchoRow(ctx, tx, merged); err != nil {
		return nil, err
	}

	// Full child replacement: delete-then-reinsert, not a diff.
	if update.CollaboratorIDs.IsSet() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM collaborators WHERE echo_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to replace collaborators: %w", err)
		}
		for _, userID := range merged.CollaboratorIDs {
			if err := insertCollaborator(ctx, tx, id, userID, ""); err != nil {
				return nil, err
			}
		}
	}
	if update.Media.IsSet() {
		existing := make(map[string]*model.EchoMedia, len(current.Media))
		for _, m := range current.Media {
			existing[m.ID] = m
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE echo_id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to replace media: %w", err)
		}
		kept := make(map[string]bool, len(merged.Media))
		for _, m := range merged.Media {
			m.EchoID = id
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			m.SetDefaults()
			if err := insertMedia(ctx, tx, m); err != nil {
				return nil, err
			}
			kept[m.ID] = true
			if existing[m.ID] != nil {
				continue
			}
			// New in the replacement set: needs its own upload op, the
			// echo update op never carries media.
			mediaOp, err := queue.NewOp(queue.EntityMedia, m.ID, id, queue.ActionAddMedia,
				queue.AddMediaPayload{Version: queue.PayloadVersion, EchoID: id, MediaID: m.ID})
			if err != nil {
				return nil, err
			}
			if err := s.queue.Enqueue(ctx, tx, mediaOp); err != nil {
				return nil, err
			}
		}
		// Dropped from the replacement set: remote cleanup with the
		// type and storage path captured before the row vanished.
		for _, m := range current.Media {
			if kept[m.ID] {
				continue
			}
			mediaOp, err := queue.NewOp(queue.EntityMedia, m.ID, id, queue.ActionDeleteMedia,
				queue.DeleteMediaPayload{
					Version:     queue.PayloadVersion,
					EchoID:      id,
					MediaID:     m.ID,
					Type:        m.Type,
					StoragePath: m.StoragePath,
				})
			if err != nil {
				return nil, err
			}
			if err := s.queue.Enqueue(ctx, tx, mediaOp); err != nil {
				return nil, err
			}
		}
	}

	op, err := queue.NewOp(queue.EntityEcho, id, id, queue.ActionUpdate,
		queue.UpdateEchoPayload{Version: queue.PayloadVersion, EchoID: id, Updates: &update})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, tx, op); err != nil {
		return nil, err
	}

	// Status transitions show up in the activity feed.
	if newStatus, ok := update.Status.Get(); ok && newStatus != prevStatus {
		var activityType model.ActivityType
		switch newStatus {
		case model.EchoLocked:
			activityType = model.ActivityEchoLocked
		case model.EchoUnlocked:
			activityType = model.ActivityEchoUnlocked
		}
		if activityType != "" {
			activity := &model.EchoActivity{
				ID:          uuid.NewString(),
				EchoID:      id,
				Type:        activityType,
				UserID:      merged.OwnerID,
				UserName:    merged.OwnerName,
				Description: fmt.Sprintf("%s %q", activityType, merged.Title),
				Timestamp:   time.Now().UTC(),
			}
			if err := s.insertActivity(ctx, tx, activity); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit echo update: %w", err)
	}

	if err := s.reloadEcho(ctx, id); err != nil {
		s.logger.Printf("WARNING: cache reload after update failed: %v", err)
	}
	s.notify()

	return s.GetByID(id), nil
}

// DeleteEcho removes the echo row immediately (children cascade) and
// enqueues a delete op. Local deletion is not deferred until remote
// ack: responsiveness wins over remote consistency during offline
// windows.
func (s *Store) DeleteEcho(ctx context.Context, id string) error {
	if s.GetByID(id) == nil {
		return fmt.Errorf("echo %s: %w", id, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM echoes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete echo %s: %w", id, err)
	}

	op, err := queue.NewOp(queue.EntityEcho, id, id, queue.ActionDelete,
		queue.DeleteEchoPayload{Version: queue.PayloadVersion, EchoID: id})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, tx, op); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit echo delete: %w", err)
	}

	s.dropFromCache(id)
	s.notify()
	return nil
}

// AddCollaborator adds one user to the echo's collaborator set. The
// update op carries only the single delta so a concurrent edit of the
// full set on another device is not clobbered.
func (s *Store) AddCollaborator(ctx context.Context, echoID, userID, displayName string) error {
	echo := s.GetByID(echoID)
	if echo == nil {
		return fmt.Errorf("echo %s: %w", echoID, ErrNotFound)
	}
	if echo.IsPrivate {
		return fmt.Errorf("cannot add collaborator to private echo %s", echoID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertCollaborator(ctx, tx, echoID, userID, displayName); err != nil {
		return err
	}
	if err := touchEcho(ctx, tx, echoID, bumpUpdatedAt(echo.UpdatedAt)); err != nil {
		return err
	}

	op, err := queue.NewOp(queue.EntityEcho, echoID, echoID, queue.ActionUpdate,
		queue.UpdateEchoPayload{
			Version:      queue.PayloadVersion,
			EchoID:       echoID,
			Collaborator: &queue.CollaboratorDelta{UserID: userID, Op: "add"},
		})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, tx, op); err != nil {
		return err
	}

	activity := &model.EchoActivity{
		ID:           uuid.NewString(),
		EchoID:       echoID,
		Type:         model.ActivityCollaboratorAdded,
		UserID:       echo.OwnerID,
		UserName:     echo.OwnerName,
		Description:  fmt.Sprintf("added %s to %q", displayNameOr(displayName, userID), echo.Title),
		Timestamp:    time.Now().UTC(),
		TargetUserID: userID,
	}
	if err := s.insertActivity(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collaborator add: %w", err)
	}

	if err := s.reloadEcho(ctx, echoID); err != nil {
		s.logger.Printf("WARNING: cache reload after collaborator add failed: %v", err)
	}
	s.notify()
	return nil
}

// RemoveCollaborator removes one user from the echo's collaborator set.
func (s *Store) RemoveCollaborator(ctx context.Context, echoID, userID string) error {
	echo := s.GetByID(echoID)
	if echo == nil {
		return fmt.Errorf("echo %s: %w", echoID, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM collaborators WHERE echo_id = ? AND user_id = ?`, echoID, userID); err != nil {
		return fmt.Errorf("failed to remove collaborator %s: %w", userID, err)
	}
	if err := touchEcho(ctx, tx, echoID, bumpUpdatedAt(echo.UpdatedAt)); err != nil {
		return err
	}

	op, err := queue.NewOp(queue.EntityEcho, echoID, echoID, queue.ActionUpdate,
		queue.UpdateEchoPayload{
			Version:      queue.PayloadVersion,
			EchoID:       echoID,
			Collaborator: &queue.CollaboratorDelta{UserID: userID, Op: "remove"},
		})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, tx, op); err != nil {
		return err
	}

	activity := &model.EchoActivity{
		ID:           uuid.NewString(),
		EchoID:       echoID,
		Type:         model.ActivityCollaboratorRemoved,
		UserID:       echo.OwnerID,
		UserName:     echo.OwnerName,
		Description:  fmt.Sprintf("removed %s from %q", userID, echo.Title),
		Timestamp:    time.Now().UTC(),
		TargetUserID: userID,
	}
	if err := s.insertActivity(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit collaborator remove: %w", err)
	}

	if err := s.reloadEcho(ctx, echoID); err != nil {
		s.logger.Printf("WARNING: cache reload after collaborator remove failed: %v", err)
	}
	s.notify()
	return nil
}

// insertActivity writes an activity row and enqueues its append op in
// the caller's transaction.
func (s *Store) insertActivity(ctx context.Context, tx *sql.Tx, a *model.EchoActivity) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid activity: %w", err)
	}
	query := `
	INSERT INTO activities (id, echo_id, type, description, timestamp, user_id, user_name, user_avatar, media_type, target_user_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		a.ID, a.EchoID, string(a.Type), a.Description,
		a.Timestamp.UTC().Format(time.RFC3339Nano),
		nullable(a.UserID), nullable(a.UserName), nullable(a.UserAvatar),
		nullable(string(a.MediaType)), nullable(a.TargetUserID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity %s: %w", a.ID, err)
	}

	op, err := queue.NewOp(queue.EntityActivity, a.ID, a.EchoID, queue.ActionAppend,
		queue.AppendActivityPayload{Version: queue.PayloadVersion, EchoID: a.EchoID, ActivityID: a.ID})
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, tx, op)
}

func insertEcho(ctx context.Context, tx *sql.Tx, e *model.Echo) error {
	query := `
	INSERT INTO echoes (id, title, description, image_url, status, is_private, share_mode,
	                    owner_id, owner_name, owner_photo_url, lock_date, unlock_date,
	                    created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		e.ID, e.Title, nullable(e.Description), nullable(e.ImageURL),
		string(e.Status), boolToInt(e.IsPrivate), string(e.ShareMode),
		e.OwnerID, nullable(e.OwnerName), nullable(e.OwnerPhotoURL),
		timeToNullString(e.LockDate), timeToNullString(e.UnlockDate),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert echo %s: %w", e.ID, err)
	}
	return nil
}

func updateEchoRow(ctx context.Context, tx *sql.Tx, e *model.Echo) error {
	query := `
	UPDATE echoes SET title = ?, description = ?, image_url = ?, status = ?,
	       is_private = ?, share_mode = ?, owner_name = ?, owner_photo_url = ?,
	       lock_date = ?, unlock_date = ?, updated_at = ?
	WHERE id = ?
	`
	_, err := tx.ExecContext(ctx, query,
		e.Title, nullable(e.Description), nullable(e.ImageURL), string(e.Status),
		boolToInt(e.IsPrivate), string(e.ShareMode),
		nullable(e.OwnerName), nullable(e.OwnerPhotoURL),
		timeToNullString(e.LockDate), timeToNullString(e.UnlockDate),
		e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update echo %s: %w", e.ID, err)
	}
	return nil
}

func insertCollaborator(ctx context.Context, tx *sql.Tx, echoID, userID, displayName string) error {
	query := `
	INSERT INTO collaborators (echo_id, user_id, display_name) VALUES (?, ?, ?)
	ON CONFLICT(echo_id, user_id) DO UPDATE SET display_name = excluded.display_name
	`
	if _, err := tx.ExecContext(ctx, query, echoID, userID, nullable(displayName)); err != nil {
		return fmt.Errorf("failed to insert collaborator %s: %w", userID, err)
	}
	return nil
}

// touchEcho bumps updated_at without changing other fields.
func touchEcho(ctx context.Context, tx *sql.Tx, echoID string, updatedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE echoes SET updated_at = ? WHERE id = ?`,
		updatedAt.UTC().Format(time.RFC3339Nano), echoID)
	if err != nil {
		return fmt.Errorf("failed to touch echo %s: %w", echoID, err)
	}
	return nil
}

// bumpUpdatedAt keeps updatedAt monotonically non-decreasing even when
// two mutations land inside clock resolution.
func bumpUpdatedAt(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func displayNameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
