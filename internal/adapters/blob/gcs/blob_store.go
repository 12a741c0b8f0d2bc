package gcs

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// BlobStore holds attachment bytes in a Cloud Storage bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
}

func NewBlobStore(ctx context.Context, bucketName string) (*BlobStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("bucket name is required for GCS blob store")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}

	return &BlobStore{bucket: client.Bucket(bucketName)}, nil
}

// Upload streams r into the object at path and returns its durable media
// link. The object write only becomes visible on Close.
func (s *BlobStore) Upload(ctx context.Context, path, contentType string, r io.Reader) (string, error) {
	obj := s.bucket.Object(path)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs upload %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs upload close %s: %w", path, err)
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return "", fmt.Errorf("gcs attrs %s: %w", path, err)
	}
	return attrs.MediaLink, nil
}
