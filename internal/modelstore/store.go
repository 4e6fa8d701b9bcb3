// Package modelstore resolves model locations to local files. Locations are either local
// paths or gs://bucket/object URLs, which are downloaded once into a cache directory.
package modelstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// CacheDirEnv names the environment variable overriding the download cache directory.
const CacheDirEnv = "MICRO_CACHE_DIR"

// Store makes a model available as a local file.
type Store interface {
	// Fetch returns the local path of the model at location. If no such model exists, the
	// returned error satisfies errors.Is(err, os.ErrNotExist).
	Fetch(ctx context.Context, location string) (string, error)
}

// Local serves models that already are on the local file system.
type Local struct{}

var _ Store = Local{}

// Fetch implements Store.
func (Local) Fetch(_ context.Context, location string) (string, error) {
	info, err := os.Stat(location)
	if err != nil {
		return "", errors.Wrapf(err, "model %q", location)
	}
	if info.IsDir() {
		return "", errors.Errorf("model %q is a directory", location)
	}
	return location, nil
}

// Resolver dispatches locations to the local file system or to GCS.
type Resolver struct {
	Local Local
	GCS   *GCSStore
}

var _ Store = (*Resolver)(nil)

// NewResolver creates a resolver whose GCS downloads are cached under cacheDir.
func NewResolver(cacheDir string) *Resolver {
	return &Resolver{GCS: &GCSStore{CacheDir: cacheDir}}
}

// Fetch implements Store.
func (r *Resolver) Fetch(ctx context.Context, location string) (string, error) {
	if strings.HasPrefix(location, gcsScheme) {
		if r.GCS == nil {
			return "", errors.Errorf("model %q: no GCS store configured", location)
		}
		return r.GCS.Fetch(ctx, location)
	}
	return r.Local.Fetch(ctx, location)
}

// CacheDir returns the download cache directory: $MICRO_CACHE_DIR if set, otherwise
// ~/.cache/micro/models.
func CacheDir() (string, error) {
	dir := os.Getenv(CacheDirEnv)
	if dir == "" {
		dir = "~/.cache/micro/models"
	}
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "getting home directory")
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~/"))
	}
	return dir, nil
}
