// Package storagefs implements platform.Storage as JSON blobs under a
// root directory on the local filesystem — the default for local runs
// and for every test in this repository.
package storagefs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// FS is a platform.Storage backed by a directory tree.
type FS struct {
	root string
}

// New returns an FS rooted at root, creating it if necessary.
func New(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", root, err)
	}
	return &FS{root: root}, nil
}

func (f *FS) resolve(key string) string {
	clean := filepath.Clean(strings.TrimPrefix(key, "/"))
	return filepath.Join(f.root, clean)
}

// ReadJSONOrNull implements platform.Storage.
func (f *FS) ReadJSONOrNull(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := os.ReadFile(f.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// ReadTextOrNull implements platform.Storage.
func (f *FS) ReadTextOrNull(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// WriteObject implements platform.Storage. contentType is accepted for
// interface parity with an eventual object-store adapter; the
// filesystem backend does not need it.
func (f *FS) WriteObject(ctx context.Context, key string, data []byte, contentType string) error {
	path := f.resolve(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	logging.Storage("wrote %s (%d bytes)", key, len(data))
	return nil
}

// ResolveOutputKey implements platform.Storage.
func (f *FS) ResolveOutputKey(parts ...string) string {
	return filepath.ToSlash(filepath.Join(parts...))
}

// ObjectExists implements platform.Storage.
func (f *FS) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.resolve(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", key, err)
}
