package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// CloudStorage is the production BlobStore backed by a Google Cloud
// Storage bucket. Blob keys follow {echoId}/{mediaKind}/{mediaId}.
type CloudStorage struct {
	client *gcs.Client
	bucket string
}

// NewCloudStorage connects to the bucket. credentialsPath may be empty
// to use application default credentials.
func NewCloudStorage(ctx context.Context, bucket, credentialsPath string) (*CloudStorage, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage client: %w", err)
	}
	return &CloudStorage{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (c *CloudStorage) Close() error {
	return c.client.Close()
}

// Upload implements BlobStore. Writing the same key twice overwrites
// the object, so retried uploads converge on the same content URL.
func (c *CloudStorage) Upload(ctx context.Context, key, contentType string, src io.Reader) (string, error) {
	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to upload blob %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize blob %s: %w", key, err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucket, key), nil
}

// Delete implements BlobStore. A missing object is not an error.
func (c *CloudStorage) Delete(ctx context.Context, key string) error {
	err := c.client.Bucket(c.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}
