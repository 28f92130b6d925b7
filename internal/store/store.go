// Package store provides the SQLite-backed local store for echoes,
// media, collaborators, and activities. It is the single source of
// truth for UI reads: every read is served from an in-memory cache
// hydrated at open time and refreshed by each write path, so the read
// path never touches SQLite after initialization.
//
// Every mutation writes its rows AND enqueues the matching pending op
// in one transaction, then wakes the reconciler. A local write that
// fails never leaves a half-enqueued sync intent behind.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL mode so the
// background reconciler can read while the UI writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/echoes-app/echosync/internal/model"
	"github.com/echoes-app/echosync/internal/queue"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by write paths when the target entity does
// not exist locally.
var ErrNotFound = fmt.Errorf("not found")

// Store is the local store for one namespace (one identity's data).
// Open one Store per namespace; Clear wipes the namespace on sign-out.
type Store struct {
	db     *sql.DB
	path   string
	queue  *queue.Queue
	logger *log.Logger

	mu         sync.RWMutex
	echoes     map[string]*model.Echo
	activities map[string][]*model.EchoActivity // echo id -> newest first

	wake chan struct{}
}

// Open opens (creating if needed) the database at path, initializes the
// schema, and hydrates the in-memory cache.
//
// If logger is nil, a default logger writing to stderr is used.
// The caller MUST call Close() when done.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		db:         conn,
		path:       path,
		logger:     logger,
		echoes:     make(map[string]*model.Echo),
		activities: make(map[string][]*model.EchoActivity),
		wake:       make(chan struct{}, 1),
	}
	s.queue = queue.New(conn, logger)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	ctx := context.Background()
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.queue.InitSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	// Cache hydration fails closed to an empty cache: a corrupt row
	// must not keep the app from starting.
	if err := s.reloadAll(ctx); err != nil {
		s.logger.Printf("WARNING: cache hydration failed, starting empty: %v", err)
		s.mu.Lock()
		s.echoes = make(map[string]*model.Echo)
		s.activities = make(map[string][]*model.EchoActivity)
		s.mu.Unlock()
	}

	return s, nil
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// Queue returns the pending-ops queue sharing this store's database.
func (s *Store) Queue() *queue.Queue {
	return s.queue
}

// Wake returns a channel that receives a signal after every local
// mutation. Signals coalesce: a slow consumer sees at least one.
func (s *Store) Wake() <-chan struct{} {
	return s.wake
}

// notify wakes the reconciler, fire-and-forget.
func (s *Store) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS echoes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		image_url TEXT,
		status TEXT NOT NULL DEFAULT 'ongoing',
		is_private INTEGER NOT NULL DEFAULT 0,
		share_mode TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		owner_name TEXT,
		owner_photo_url TEXT,
		lock_date TEXT,
		unlock_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS media (
		id TEXT PRIMARY KEY,
		echo_id TEXT NOT NULL REFERENCES echoes(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		uri TEXT NOT NULL,
		thumbnail_uri TEXT,
		storage_path TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		uploaded_by TEXT,
		uploaded_by_name TEXT,
		uploaded_by_photo_url TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS collaborators (
		echo_id TEXT NOT NULL REFERENCES echoes(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		display_name TEXT,
		PRIMARY KEY (echo_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		echo_id TEXT NOT NULL REFERENCES echoes(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		description TEXT,
		timestamp TEXT NOT NULL,
		user_id TEXT,
		user_name TEXT,
		user_avatar TEXT,
		media_type TEXT,
		target_user_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_echoes_status ON echoes(status);
	CREATE INDEX IF NOT EXISTS idx_echoes_owner ON echoes(owner_id);
	CREATE INDEX IF NOT EXISTS idx_media_echo ON media(echo_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_collaborators_user ON collaborators(user_id);
	CREATE INDEX IF NOT EXISTS idx_activities_echo ON activities(echo_id, timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Clear wipes all tables for this namespace, including the pending and
// dead op queues. Used on sign-out/account switch so local data and
// unsynced mutations never leak across identities.
func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{"activities", "media", "collaborators", "echoes"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	if err := s.queue.ClearAll(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.echoes = make(map[string]*model.Echo)
	s.activities = make(map[string][]*model.EchoActivity)
	s.mu.Unlock()
	return nil
}

// reloadAll hydrates the whole cache from SQLite.
func (s *Store) reloadAll(ctx context.Context) error {
	echoes, err := s.loadEchoes(ctx, "")
	if err != nil {
		return err
	}
	activities, err := s.loadActivities(ctx, "")
	if err != nil {
		return err
	}

	byID := make(map[string]*model.Echo, len(echoes))
	for _, e := range echoes {
		byID[e.ID] = e
	}
	byEcho := make(map[string][]*model.EchoActivity)
	for _, a := range activities {
		byEcho[a.EchoID] = append(byEcho[a.EchoID], a)
	}
	for id := range byEcho {
		sortActivitiesDesc(byEcho[id])
	}

	s.mu.Lock()
	s.echoes = byID
	s.activities = byEcho
	s.mu.Unlock()
	return nil
}

// reloadEcho refreshes one echo (and its activities) in the cache.
// Every write path calls this before returning so reads immediately
// reflect the mutation.
func (s *Store) reloadEcho(ctx context.Context, id string) error {
	echoes, err := s.loadEchoes(ctx, id)
	if err != nil {
		return err
	}
	activities, err := s.loadActivities(ctx, id)
	if err != nil {
		return err
	}
	sortActivitiesDesc(activities)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(echoes) == 0 {
		delete(s.echoes, id)
		delete(s.activities, id)
		return nil
	}
	s.echoes[id] = echoes[0]
	s.activities[id] = activities
	return nil
}

func (s *Store) dropFromCache(id string) {
	s.mu.Lock()
	delete(s.echoes, id)
	delete(s.activities, id)
	s.mu.Unlock()
}

// loadEchoes reads echoes with joined media and collaborators. An id
// of "" loads all.
func (s *Store) loadEchoes(ctx context.Context, id string) ([]*model.Echo, error) {
	query := `
	SELECT id, title, description, image_url, status, is_private, share_mode,
	       owner_id, owner_name, owner_photo_url, lock_date, unlock_date,
	       created_at, updated_at
	FROM echoes
	`
	var args []any
	if id != "" {
		query += " WHERE id = ?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query echoes: %w", err)
	}
	defer rows.Close()

	var echoes []*model.Echo
	for rows.Next() {
		var e model.Echo
		var description, imageURL, ownerName, ownerPhoto sql.NullString
		var lockDate, unlockDate sql.NullString
		var status, shareMode, createdAt, updatedAt string
		var isPrivate int

		err := rows.Scan(&e.ID, &e.Title, &description, &imageURL, &status, &isPrivate,
			&shareMode, &e.OwnerID, &ownerName, &ownerPhoto, &lockDate, &unlockDate,
			&createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan echo: %w", err)
		}

		e.Description = description.String
		e.ImageURL = imageURL.String
		e.Status = model.EchoStatus(status)
		e.IsPrivate = isPrivate != 0
		e.ShareMode = model.ShareMode(shareMode)
		e.OwnerName = ownerName.String
		e.OwnerPhotoURL = ownerPhoto.String
		e.LockDate = nullStringToTime(lockDate)
		e.UnlockDate = nullStringToTime(unlockDate)
		e.CreatedAt = parseTime(createdAt)
		e.UpdatedAt = parseTime(updatedAt)
		echoes = append(echoes, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating echoes: %w", err)
	}

	for _, e := range echoes {
		if err := s.hydrateChildren(ctx, e); err != nil {
			return nil, err
		}
	}
	return echoes, nil
}

// hydrateChildren attaches media (creation time ascending) and the
// collaborator set to an echo.
func (s *Store) hydrateChildren(ctx context.Context, e *model.Echo) error {
	mediaRows, err := s.db.QueryContext(ctx, `
	SELECT id, echo_id, type, uri, thumbnail_uri, storage_path, status,
	       uploaded_by, uploaded_by_name, uploaded_by_photo_url, created_at
	FROM media WHERE echo_id = ? ORDER BY created_at ASC, id ASC`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to query media for echo %s: %w", e.ID, err)
	}
	defer mediaRows.Close()

	e.Media = nil
	for mediaRows.Next() {
		m, err := scanMedia(mediaRows)
		if err != nil {
			return err
		}
		e.Media = append(e.Media, m)
	}
	if err := mediaRows.Err(); err != nil {
		return fmt.Errorf("error iterating media: %w", err)
	}

	collabRows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM collaborators WHERE echo_id = ?`, e.ID)
	if err != nil {
		return fmt.Errorf("failed to query collaborators for echo %s: %w", e.ID, err)
	}
	defer collabRows.Close()

	e.CollaboratorIDs = nil
	for collabRows.Next() {
		var userID string
		if err := collabRows.Scan(&userID); err != nil {
			return fmt.Errorf("failed to scan collaborator: %w", err)
		}
		e.CollaboratorIDs = append(e.CollaboratorIDs, userID)
	}
	if err := collabRows.Err(); err != nil {
		return fmt.Errorf("error iterating collaborators: %w", err)
	}
	return nil
}

func scanMedia(rows *sql.Rows) (*model.EchoMedia, error) {
	var m model.EchoMedia
	var thumb, storagePath, uploadedBy, uploadedByName, uploadedByPhoto sql.NullString
	var typ, status, createdAt string

	err := rows.Scan(&m.ID, &m.EchoID, &typ, &m.URI, &thumb, &storagePath, &status,
		&uploadedBy, &uploadedByName, &uploadedByPhoto, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan media: %w", err)
	}
	m.Type = model.MediaType(typ)
	m.ThumbnailURI = thumb.String
	m.StoragePath = storagePath.String
	m.SyncStatus = model.SyncStatus(status)
	m.UploadedBy = uploadedBy.String
	m.UploadedByName = uploadedByName.String
	m.UploadedByPhotoURL = uploadedByPhoto.String
	m.CreatedAt = parseTime(createdAt)
	return &m, nil
}

func (s *Store) loadActivities(ctx context.Context, echoID string) ([]*model.EchoActivity, error) {
	query := `
	SELECT id, echo_id, type, description, timestamp, user_id, user_name,
	       user_avatar, media_type, target_user_id
	FROM activities
	`
	var args []any
	if echoID != "" {
		query += " WHERE echo_id = ?"
		args = append(args, echoID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}
	defer rows.Close()

	var activities []*model.EchoActivity
	for rows.Next() {
		var a model.EchoActivity
		var description, userID, userName, userAvatar, mediaType, targetUserID sql.NullString
		var typ, timestamp string

		err := rows.Scan(&a.ID, &a.EchoID, &typ, &description, &timestamp,
			&userID, &userName, &userAvatar, &mediaType, &targetUserID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Type = model.ActivityType(typ)
		a.Description = description.String
		a.Timestamp = parseTime(timestamp)
		a.UserID = userID.String
		a.UserName = userName.String
		a.UserAvatar = userAvatar.String
		a.MediaType = model.MediaType(mediaType.String)
		a.TargetUserID = targetUserID.String
		activities = append(activities, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activities: %w", err)
	}
	return activities, nil
}

func sortActivitiesDesc(activities []*model.EchoActivity) {
	sort.SliceStable(activities, func(i, j int) bool {
		return activities[i].Timestamp.After(activities[j].Timestamp)
	})
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
