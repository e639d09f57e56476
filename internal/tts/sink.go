package tts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
)

// DirSink writes clips into a local directory, typically the static audio
// directory the web server serves.
type DirSink struct {
	Dir string
}

func (d DirSink) Exists(_ context.Context, name string) (bool, error) {
	info, err := os.Stat(filepath.Join(d.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() > 0, nil
}

// Write stores the clip through a temp file so a crash never leaves a
// truncated clip behind.
func (d DirSink) Write(_ context.Context, name string, audio Audio) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	tmp, err := os.CreateTemp(d.Dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(audio.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.Dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// GCSSink uploads clips to a Cloud Storage bucket under Prefix.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink uses Application Default Credentials.
func NewGCSSink(ctx context.Context, bucket, prefix string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (g *GCSSink) object(name string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(path.Join(g.prefix, name))
}

func (g *GCSSink) Exists(ctx context.Context, name string) (bool, error) {
	_, err := g.object(name).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gs://%s/%s: %w", g.bucket, path.Join(g.prefix, name), err)
	}
	return true, nil
}

func (g *GCSSink) Write(ctx context.Context, name string, audio Audio) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.object(name).NewWriter(ctx)
	w.ContentType = audio.ContentType
	w.CacheControl = "public, max-age=86400"
	if _, err := w.Write(audio.Data); err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", name, err)
	}
	return nil
}

func (g *GCSSink) Close() error {
	return g.client.Close()
}
