package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSBlob writes assets to a Google Cloud Storage bucket.
type GCSBlob struct {
	client *storage.Client
	bucket string
}

// NewGCSBlob creates a GCS-backed blob store.
func NewGCSBlob(client *storage.Client, bucket string) (*GCSBlob, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &GCSBlob{client: client, bucket: bucket}, nil
}

// Put uploads data under key and returns a gs:// URI. An existing object
// with the same key is left untouched.
func (b *GCSBlob) Put(ctx context.Context, key string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	obj := b.client.Bucket(b.bucket).Object(key)
	if _, err := obj.Attrs(ctx); err == nil {
		return b.uri(key), nil
	}
	writer := obj.NewWriter(ctx)
	writer.ContentType = "image/jpeg"
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return b.uri(key), nil
}

// URL returns the retrieval URI for a stored key.
func (b *GCSBlob) URL(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	return b.uri(key), nil
}

// Delete removes the object for key, reporting whether it existed.
func (b *GCSBlob) Delete(ctx context.Context, key string) (bool, error) {
	err := b.client.Bucket(b.bucket).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete object %s: %w", key, err)
	}
	return true, nil
}

// CollectOlderThan removes objects created before cutoff.
func (b *GCSBlob) CollectOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	it := b.client.Bucket(b.bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return deleted, nil
		}
		if err != nil {
			return deleted, fmt.Errorf("list objects: %w", err)
		}
		if attrs.Created.Before(cutoff) {
			if err := b.client.Bucket(b.bucket).Object(attrs.Name).Delete(ctx); err != nil {
				return deleted, fmt.Errorf("delete aged object %s: %w", attrs.Name, err)
			}
			deleted++
		}
	}
}

func (b *GCSBlob) uri(key string) string {
	return fmt.Sprintf("gs://%s/%s", b.bucket, key)
}
