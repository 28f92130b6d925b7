package model

import (
	"fmt"
	"strings"
	"time"
)

// MediaType is the kind of file attached to an echo.
type MediaType string

const (
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
)

// MediaTypes lists every media kind. The reconciler uses this for
// speculative blob cleanup when an old delete op carries no type.
var MediaTypes = []MediaType{MediaPhoto, MediaVideo, MediaAudio, MediaDocument}

// SyncStatus tracks whether a media row has reached the remote backend.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
)

// EchoMedia is one file attached to an echo. The owning echo has
// exclusive ownership: media rows cascade on echo deletion.
type EchoMedia struct {
	ID     string    `json:"id"`
	EchoID string    `json:"echoId"`
	Type   MediaType `json:"type"`

	// URI is a local file path until the upload completes, then the
	// stable remote content URL. StoragePath is the remote blob key,
	// set only after upload.
	URI          string `json:"uri"`
	ThumbnailURI string `json:"thumbnailUri,omitempty"`
	StoragePath  string `json:"storagePath,omitempty"`

	SyncStatus SyncStatus `json:"syncStatus"`

	UploadedBy         string `json:"uploadedBy,omitempty"`
	UploadedByName     string `json:"uploadedByName,omitempty"`
	UploadedByPhotoURL string `json:"uploadedByPhotoURL,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Validate checks field values.
func (m *EchoMedia) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.EchoID == "" {
		return fmt.Errorf("echo id is required")
	}
	switch m.Type {
	case MediaPhoto, MediaVideo, MediaAudio, MediaDocument:
	default:
		return fmt.Errorf("invalid media type %q", m.Type)
	}
	if m.URI == "" {
		return fmt.Errorf("uri is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (m *EchoMedia) SetDefaults() {
	if m.SyncStatus == "" {
		m.SyncStatus = SyncPending
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
}

// IsLocalURI reports whether the media still points at a local file
// (not yet uploaded). Remote URLs start with http:// or https://.
func (m *EchoMedia) IsLocalURI() bool {
	return !strings.HasPrefix(m.URI, "http://") && !strings.HasPrefix(m.URI, "https://")
}

// LocalPath returns the filesystem path for a local URI, stripping a
// file:// prefix if present.
func (m *EchoMedia) LocalPath() string {
	return strings.TrimPrefix(m.URI, "file://")
}

// BlobKey is the remote blob key for this media: {echoId}/{kind}/{mediaId}.
func (m *EchoMedia) BlobKey() string {
	return fmt.Sprintf("%s/%s/%s", m.EchoID, m.Type, m.ID)
}
