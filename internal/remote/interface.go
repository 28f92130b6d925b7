// Package remote defines the remote collaborator contract the
// reconciler drains pending ops against: a document store for echo
// metadata and activities, and a blob store for media uploads.
//
// Every call must be safely retryable: the reconciler retries on any
// transient failure with no deduplication beyond "same op, same
// payload", so all writes are id-keyed upserts or idempotent deletes.
package remote

import (
	"context"
	"io"

	"github.com/echoes-app/echosync/internal/model"
)

// DocumentStore is the remote metadata backend.
type DocumentStore interface {
	// UpsertEcho creates or fully overwrites the echo document keyed
	// by its id (last-local-state-wins).
	UpsertEcho(ctx context.Context, echo *model.Echo) error

	// UpdateEchoFields applies a field-level partial update to the
	// echo document.
	UpdateEchoFields(ctx context.Context, echoID string, fields map[string]any) error

	// AddCollaborator and RemoveCollaborator apply single-membership
	// deltas with array-union/array-remove semantics.
	AddCollaborator(ctx context.Context, echoID, userID string) error
	RemoveCollaborator(ctx context.Context, echoID, userID string) error

	// RemoveEcho deletes the echo document. Deleting a missing
	// document is not an error.
	RemoveEcho(ctx context.Context, echoID string) error

	// PutMediaRecord upserts one media metadata record under the echo,
	// keyed by media id. The record's URI must already be a confirmed
	// remote content URL.
	PutMediaRecord(ctx context.Context, echoID string, media *model.EchoMedia) error

	// RemoveMediaRecord deletes one media metadata record.
	RemoveMediaRecord(ctx context.Context, echoID, mediaID string) error

	// AppendActivity appends one entry to the echo's activity
	// sub-collection, keyed by activity id (re-appends are no-ops).
	AppendActivity(ctx context.Context, echoID string, activity *model.EchoActivity) error
}

// BlobStore is the remote binary storage backend.
type BlobStore interface {
	// Upload stores the blob under key and returns its stable content
	// URL. Re-uploading the same key overwrites in place.
	Upload(ctx context.Context, key, contentType string, src io.Reader) (string, error)

	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
}
