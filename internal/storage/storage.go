// Package storage holds the artifact stores workers write downloads and
// renders into.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/jimdaga/reelpipe/internal/config"
)

// Store is a pipeline.ArtifactStore that can be closed
type Store interface {
	LocalPath(key string) string
	Publish(ctx context.Context, key string) (string, error)
	Close() error
}

// New builds the store selected by cfg.StorageType
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	local, err := NewLocal(cfg.MediaRoot, cfg.MediaBaseURL)
	if err != nil {
		return nil, err
	}
	switch cfg.StorageType {
	case "gcs":
		return NewGCS(ctx, local, cfg.GCSBucket)
	default:
		return local, nil
	}
}

// Local keeps artifacts under a directory served at baseURL
type Local struct {
	root    string
	baseURL string
}

// NewLocal creates root if needed
func NewLocal(root, baseURL string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("media root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &Local{root: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root is the directory artifacts live in
func (l *Local) Root() string {
	return l.root
}

// LocalPath maps key onto a path under the root. Keys cannot escape it.
func (l *Local) LocalPath(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(cleanKey(key)))
}

// Publish returns the URL the file behind key is served at
func (l *Local) Publish(ctx context.Context, key string) (string, error) {
	info, err := os.Stat(l.LocalPath(key))
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", key, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("publish %s: is a directory", key)
	}
	return l.baseURL + "/" + cleanKey(key), nil
}

// Close is a no-op
func (l *Local) Close() error { return nil }

func cleanKey(key string) string {
	return strings.TrimPrefix(path.Clean("/"+key), "/")
}

// ContentType sniffs a file's MIME type from its magic bytes, falling back
// to the extension for text formats that have none.
func ContentType(p string) string {
	if kind, err := filetype.MatchFile(p); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".srt":
		return "application/x-subrip"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
