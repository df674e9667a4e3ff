package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
)

// GCS writes artifacts to local disk first, then uploads them on Publish
type GCS struct {
	*Local
	client *storage.Client
	bucket string
}

// NewGCS connects to Cloud Storage with application default credentials
func NewGCS(ctx context.Context, local *Local, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{Local: local, client: client, bucket: bucket}, nil
}

// Publish uploads the local file behind key and returns its public URL
func (g *GCS) Publish(ctx context.Context, key string) (string, error) {
	key = cleanKey(key)
	localPath := g.LocalPath(key)
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	defer f.Close()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = ContentType(localPath)
	written, err := io.Copy(w, f)
	if err != nil {
		w.Close()
		return "", fmt.Errorf("upload %s after %d bytes: %w", key, written, err)
	}
	// Close finalizes the upload; the object does not exist until it succeeds.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload %s: %w", key, err)
	}
	slog.Info("Uploaded artifact", "bucket", g.bucket, "key", key, "bytes", written)
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key), nil
}

// Close releases the storage client
func (g *GCS) Close() error {
	return g.client.Close()
}
