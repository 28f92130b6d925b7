package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/echoes-app/echosync/internal/model"
	"github.com/echoes-app/echosync/internal/queue"
	"github.com/google/uuid"
)

// AddMedia attaches one media item to an echo.
func (s *Store) AddMedia(ctx context.Context, echoID string, media *model.EchoMedia) (*model.EchoMedia, error) {
	added, err := s.AddMediaBatch(ctx, echoID, []*model.EchoMedia{media})
	if err != nil {
		return nil, err
	}
	return added[0], nil
}

// AddMediaBatch attaches media items to an echo. Each item gets its own
// add_media op (the batch fans out to N single-item ops); one aggregated
// media_uploaded activity describes the count and type mix.
func (s *Store) AddMediaBatch(ctx context.Context, echoID string, items []*model.EchoMedia) ([]*model.EchoMedia, error) {
	echo := s.GetByID(echoID)
	if echo == nil {
		return nil, fmt.Errorf("echo %s: %w", echoID, ErrNotFound)
	}
	if len(items) == 0 {
		return nil, nil
	}

	for _, m := range items {
		m.EchoID = echoID
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.SetDefaults()
		m.SyncStatus = model.SyncPending
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("invalid media: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range items {
		if err := insertMedia(ctx, tx, m); err != nil {
			return nil, err
		}
		op, err := queue.NewOp(queue.EntityMedia, m.ID, echoID, queue.ActionAddMedia,
			queue.AddMediaPayload{Version: queue.PayloadVersion, EchoID: echoID, MediaID: m.ID})
		if err != nil {
			return nil, err
		}
		if err := s.queue.Enqueue(ctx, tx, op); err != nil {
			return nil, err
		}
	}
	if err := touchEcho(ctx, tx, echoID, bumpUpdatedAt(echo.UpdatedAt)); err != nil {
		return nil, err
	}

	first := items[0]
	activity := &model.EchoActivity{
		ID:          uuid.NewString(),
		EchoID:      echoID,
		Type:        model.ActivityMediaUploaded,
		UserID:      first.UploadedBy,
		UserName:    first.UploadedByName,
		UserAvatar:  first.UploadedByPhotoURL,
		Description: describeMediaBatch(items),
		Timestamp:   time.Now().UTC(),
		MediaType:   uniformMediaType(items),
	}
	if err := s.insertActivity(ctx, tx, activity); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit media add: %w", err)
	}

	if err := s.reloadEcho(ctx, echoID); err != nil {
		s.logger.Printf("WARNING: cache reload after media add failed: %v", err)
	}
	s.notify()

	return items, nil
}

// RemoveMedia deletes a media row and enqueues a delete_media op. The
// op captures the media's type and storage path so the remote blob can
// still be cleaned up after the local row is gone.
func (s *Store) RemoveMedia(ctx context.Context, echoID, mediaID string) error {
	media := s.GetMedia(echoID, mediaID)
	if media == nil {
		return fmt.Errorf("media %s: %w", mediaID, ErrNotFound)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM media WHERE id = ? AND echo_id = ?`, mediaID, echoID); err != nil {
		return fmt.Errorf("failed to delete media %s: %w", mediaID, err)
	}

	op, err := queue.NewOp(queue.EntityMedia, mediaID, echoID, queue.ActionDeleteMedia,
		queue.DeleteMediaPayload{
			Version:     queue.PayloadVersion,
			EchoID:      echoID,
			MediaID:     mediaID,
			Type:        media.Type,
			StoragePath: media.StoragePath,
		})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, tx, op); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit media remove: %w", err)
	}

	if err := s.reloadEcho(ctx, echoID); err != nil {
		s.logger.Printf("WARNING: cache reload after media remove failed: %v", err)
	}
	s.notify()
	return nil
}

// MarkMediaSynced is the entity-update path the reconciler writes
// through after a successful upload: the local uri is swapped for the
// remote content URL and the row flips to synced. No op is enqueued:
// this records remote state, it does not create new sync intent. A
// future pull-sync would write through the same path.
func (s *Store) MarkMediaSynced(ctx context.Context, echoID, mediaID, remoteURL, storagePath string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media SET uri = ?, storage_path = ?, status = ? WHERE id = ? AND echo_id = ?`,
		remoteURL, storagePath, string(model.SyncSynced), mediaID, echoID)
	if err != nil {
		return fmt.Errorf("failed to mark media %s synced: %w", mediaID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("media %s: %w", mediaID, ErrNotFound)
	}
	if err := s.reloadEcho(ctx, echoID); err != nil {
		s.logger.Printf("WARNING: cache reload after media sync failed: %v", err)
	}
	return nil
}

func insertMedia(ctx context.Context, tx *sql.Tx, m *model.EchoMedia) error {
	query := `
	INSERT INTO media (id, echo_id, type, uri, thumbnail_uri, storage_path, status,
	                   uploaded_by, uploaded_by_name, uploaded_by_photo_url, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		m.ID, m.EchoID, string(m.Type), m.URI,
		nullable(m.ThumbnailURI), nullable(m.StoragePath), string(m.SyncStatus),
		nullable(m.UploadedBy), nullable(m.UploadedByName), nullable(m.UploadedByPhotoURL),
		m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert media %s: %w", m.ID, err)
	}
	return nil
}

// describeMediaBatch builds the aggregated activity line, e.g.
// "added 3 items (2 photos, 1 video)".
func describeMediaBatch(items []*model.EchoMedia) string {
	if len(items) == 1 {
		return fmt.Sprintf("added 1 %s", items[0].Type)
	}
	counts := make(map[model.MediaType]int)
	for _, m := range items {
		counts[m.Type]++
	}
	var parts []string
	for _, t := range model.MediaTypes {
		if n := counts[t]; n > 0 {
			label := string(t)
			if n > 1 {
				label += "s"
			}
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	return fmt.Sprintf("added %d items (%s)", len(items), strings.Join(parts, ", "))
}

// uniformMediaType returns the shared type of a batch, or "" when the
// batch mixes types.
func uniformMediaType(items []*model.EchoMedia) model.MediaType {
	t := items[0].Type
	for _, m := range items[1:] {
		if m.Type != t {
			return ""
		}
	}
	return t
}

// GetMedia returns a copy of one media row from the cache, or nil.
func (s *Store) GetMedia(echoID, mediaID string) *model.EchoMedia {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.echoes[echoID]
	if !ok {
		return nil
	}
	for _, m := range e.Media {
		if m.ID == mediaID {
			cp := *m
			return &cp
		}
	}
	return nil
}

// PendingMedia returns copies of all media rows still awaiting upload,
// oldest first. The UI uses this to surface stalled uploads.
func (s *Store) PendingMedia() []*model.EchoMedia {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []*model.EchoMedia
	for _, e := range s.echoes {
		for _, m := range e.Media {
			if m.SyncStatus == model.SyncPending {
				cp := *m
				pending = append(pending, &cp)
			}
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending
}
