// Package blob reads and writes uploaded document files.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a bucketed object store.
type Store interface {
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	Upload(ctx context.Context, bucket, path string, r io.Reader) error
}

// Local stores objects as files under Root/<bucket>/<path>.
type Local struct {
	Root string
}

// NewLocal returns a Local store rooted at root.
func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) resolve(bucket, path string) (string, error) {
	clean := filepath.Clean("/" + path)
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == ".." {
		return "", fmt.Errorf("invalid bucket %q", bucket)
	}
	if clean == "/" {
		return "", fmt.Errorf("empty object path")
	}
	return filepath.Join(l.Root, bucket, clean), nil
}

// Download reads the whole object.
func (l *Local) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.resolve(bucket, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, path, err)
	}
	return data, nil
}

// Upload writes r to the object, creating parent directories.
func (l *Local) Upload(ctx context.Context, bucket, path string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := l.resolve(bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s/%s: %w", bucket, path, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("commit %s/%s: %w", bucket, path, err)
	}
	return nil
}
