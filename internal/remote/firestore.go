package remote

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/echoes-app/echosync/internal/model"
)

const (
	echoCollection     = "echoes"
	mediaCollection    = "media"
	activityCollection = "activity"
)

// FirestoreStore is the production DocumentStore: echo documents at
// echoes/{id}, media records at echoes/{id}/media/{mediaId}, activities
// at echoes/{id}/activity/{activityId}.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestore connects to the Firestore project. credentialsPath may
// be empty to use application default credentials.
func NewFirestore(ctx context.Context, projectID, credentialsPath string) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// Close releases the underlying client.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

// echoDoc is the remote document shape for an echo. Media lives in a
// sub-collection, not in the document, so media records stay
// independently upsertable.
type echoDoc struct {
	ID              string     `firestore:"id"`
	Title           string     `firestore:"title"`
	Description     string     `firestore:"description,omitempty"`
	ImageURL        string     `firestore:"imageUrl,omitempty"`
	Status          string     `firestore:"status"`
	IsPrivate       bool       `firestore:"isPrivate"`
	ShareMode       string     `firestore:"shareMode"`
	OwnerID         string     `firestore:"ownerId"`
	OwnerName       string     `firestore:"ownerName,omitempty"`
	OwnerPhotoURL   string     `firestore:"ownerPhotoURL,omitempty"`
	LockDate        *time.Time `firestore:"lockDate,omitempty"`
	UnlockDate      *time.Time `firestore:"unlockDate,omitempty"`
	CollaboratorIDs []string   `firestore:"collaboratorIds"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

// UpsertEcho implements DocumentStore.
func (f *FirestoreStore) UpsertEcho(ctx context.Context, echo *model.Echo) error {
	doc := echoDoc{
		ID:              echo.ID,
		Title:           echo.Title,
		Description:     echo.Description,
		ImageURL:        echo.ImageURL,
		Status:          string(echo.Status),
		IsPrivate:       echo.IsPrivate,
		ShareMode:       string(echo.ShareMode),
		OwnerID:         echo.OwnerID,
		OwnerName:       echo.OwnerName,
		OwnerPhotoURL:   echo.OwnerPhotoURL,
		LockDate:        echo.LockDate,
		UnlockDate:      echo.UnlockDate,
		CollaboratorIDs: echo.CollaboratorIDs,
		CreatedAt:       echo.CreatedAt,
		UpdatedAt:       echo.UpdatedAt,
	}
	if doc.CollaboratorIDs == nil {
		doc.CollaboratorIDs = []string{}
	}
	if _, err := f.client.Collection(echoCollection).Doc(echo.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to upsert echo %s: %w", echo.ID, err)
	}
	return nil
}

// UpdateEchoFields implements DocumentStore.
func (f *FirestoreStore) UpdateEchoFields(ctx context.Context, echoID string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}
	if len(updates) == 0 {
		return nil
	}
	if _, err := f.client.Collection(echoCollection).Doc(echoID).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update echo %s: %w", echoID, err)
	}
	return nil
}

// AddCollaborator implements DocumentStore with ArrayUnion semantics.
func (f *FirestoreStore) AddCollaborator(ctx context.Context, echoID, userID string) error {
	_, err := f.client.Collection(echoCollection).Doc(echoID).Update(ctx, []firestore.Update{
		{Path: "collaboratorIds", Value: firestore.ArrayUnion(userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to add collaborator %s to echo %s: %w", userID, echoID, err)
	}
	return nil
}

// RemoveCollaborator implements DocumentStore with ArrayRemove semantics.
func (f *FirestoreStore) RemoveCollaborator(ctx context.Context, echoID, userID string) error {
	_, err := f.client.Collection(echoCollection).Doc(echoID).Update(ctx, []firestore.Update{
		{Path: "collaboratorIds", Value: firestore.ArrayRemove(userID)},
	})
	if err != nil {
		return fmt.Errorf("failed to remove collaborator %s from echo %s: %w", userID, echoID, err)
	}
	return nil
}

// RemoveEcho implements DocumentStore. Deleting a missing document is
// treated as success so retries stay idempotent.
func (f *FirestoreStore) RemoveEcho(ctx context.Context, echoID string) error {
	if _, err := f.client.Collection(echoCollection).Doc(echoID).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete echo %s: %w", echoID, err)
	}
	return nil
}

// mediaDoc is the remote record for one uploaded media item.
type mediaDoc struct {
	ID                 string    `firestore:"id"`
	EchoID             string    `firestore:"echoId"`
	Type               string    `firestore:"type"`
	URI                string    `firestore:"uri"`
	ThumbnailURI       string    `firestore:"thumbnailUri,omitempty"`
	StoragePath        string    `firestore:"storagePath,omitempty"`
	UploadedBy         string    `firestore:"uploadedBy,omitempty"`
	UploadedByName     string    `firestore:"uploadedByName,omitempty"`
	UploadedByPhotoURL string    `firestore:"uploadedByPhotoURL,omitempty"`
	CreatedAt          time.Time `firestore:"createdAt"`
}

// PutMediaRecord implements DocumentStore.
func (f *FirestoreStore) PutMediaRecord(ctx context.Context, echoID string, media *model.EchoMedia) error {
	doc := mediaDoc{
		ID:                 media.ID,
		EchoID:             echoID,
		Type:               string(media.Type),
		URI:                media.URI,
		ThumbnailURI:       media.ThumbnailURI,
		StoragePath:        media.StoragePath,
		UploadedBy:         media.UploadedBy,
		UploadedByName:     media.UploadedByName,
		UploadedByPhotoURL: media.UploadedByPhotoURL,
		CreatedAt:          media.CreatedAt,
	}
	_, err := f.client.Collection(echoCollection).Doc(echoID).
		Collection(mediaCollection).Doc(media.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to put media record %s: %w", media.ID, err)
	}
	return nil
}

// RemoveMediaRecord implements DocumentStore.
func (f *FirestoreStore) RemoveMediaRecord(ctx context.Context, echoID, mediaID string) error {
	_, err := f.client.Collection(echoCollection).Doc(echoID).
		Collection(mediaCollection).Doc(mediaID).Delete(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to remove media record %s: %w", mediaID, err)
	}
	return nil
}

// activityDoc is the remote shape of one activity feed entry. The
// sub-collection is queried by timestamp descending on the read side.
type activityDoc struct {
	ID           string    `firestore:"id"`
	EchoID       string    `firestore:"echoId"`
	Type         string    `firestore:"type"`
	UserID       string    `firestore:"userId,omitempty"`
	UserName     string    `firestore:"userName,omitempty"`
	UserAvatar   string    `firestore:"userAvatar,omitempty"`
	Description  string    `firestore:"description"`
	Timestamp    time.Time `firestore:"timestamp"`
	MediaType    string    `firestore:"mediaType,omitempty"`
	TargetUserID string    `firestore:"targetUserId,omitempty"`
}

// AppendActivity implements DocumentStore. Keyed by activity id, so a
// retried append overwrites the identical entry instead of duplicating.
func (f *FirestoreStore) AppendActivity(ctx context.Context, echoID string, activity *model.EchoActivity) error {
	doc := activityDoc{
		ID:           activity.ID,
		EchoID:       echoID,
		Type:         string(activity.Type),
		UserID:       activity.UserID,
		UserName:     activity.UserName,
		UserAvatar:   activity.UserAvatar,
		Description:  activity.Description,
		Timestamp:    activity.Timestamp,
		MediaType:    string(activity.MediaType),
		TargetUserID: activity.TargetUserID,
	}
	_, err := f.client.Collection(echoCollection).Doc(echoID).
		Collection(activityCollection).Doc(activity.ID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to append activity %s: %w", activity.ID, err)
	}
	return nil
}
