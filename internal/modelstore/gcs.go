package modelstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const gcsScheme = "gs://"

// ParseGCSURL splits gs://bucket/object into its bucket and object names.
func ParseGCSURL(url string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(url, gcsScheme)
	if !ok {
		return "", "", errors.Errorf("%q is not a gs:// URL", url)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" || object == "" || strings.HasSuffix(object, "/") {
		return "", "", errors.Errorf("%q must have the form gs://<bucket>/<object>", url)
	}
	// The object name becomes a path under the cache directory.
	if !filepath.IsLocal(filepath.FromSlash(object)) || strings.Contains(bucket, "..") {
		return "", "", errors.Errorf("%q: object name must not leave the bucket", url)
	}
	return bucket, object, nil
}

// GCSStore downloads models from Google Cloud Storage into CacheDir. A model already present
// in the cache is not downloaded again.
type GCSStore struct {
	CacheDir string
}

var _ Store = (*GCSStore)(nil)

func (s *GCSStore) cachePath(bucket, object string) string {
	return filepath.Join(s.CacheDir, bucket, filepath.FromSlash(object))
}

// Fetch implements Store.
func (s *GCSStore) Fetch(ctx context.Context, location string) (string, error) {
	log := klog.FromContext(ctx)

	bucket, object, err := ParseGCSURL(location)
	if err != nil {
		return "", err
	}
	destinationPath := s.cachePath(bucket, object)
	if _, err := os.Stat(destinationPath); err == nil {
		log.V(2).Info("model found in cache", "url", location, "path", destinationPath)
		return destinationPath, nil
	}
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return "", errors.Wrapf(err, "creating cache directory for %q", location)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return "", errors.Wrap(err, "creating GCS storage client")
	}
	defer client.Close()

	log.Info("downloading model from GCS", "source", location, "destination", destinationPath)
	startedAt := time.Now()
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", errors.Wrapf(os.ErrNotExist, "model %q", location)
		}
		return "", errors.Wrapf(err, "opening object from GCS %q", location)
	}
	defer r.Close()

	n, err := writeToFile(ctx, r, destinationPath)
	if err != nil {
		return "", errors.WithMessage(err, "downloading from GCS")
	}
	log.Info("downloaded model from GCS", "source", location, "size", humanize.Bytes(uint64(n)),
		"duration", time.Since(startedAt))
	return destinationPath, nil
}

// Upload copies the local file at sourcePath to location. An existing object is left alone.
func (s *GCSStore) Upload(ctx context.Context, sourcePath, location string) error {
	log := klog.FromContext(ctx)

	bucket, object, err := ParseGCSURL(location)
	if err != nil {
		return err
	}
	src, err := os.Open(sourcePath)
	if err != nil {
		return errors.Wrap(err, "opening source file")
	}
	defer src.Close()

	client, err := storage.NewClient(ctx)
	if err != nil {
		return errors.Wrap(err, "creating GCS storage client")
	}
	defer client.Close()

	obj := client.Bucket(bucket).Object(object)
	if _, err := obj.Attrs(ctx); err == nil {
		log.Info("object already exists in GCS", "url", location)
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrapf(err, "getting object attributes for %q", location)
	}

	log.Info("uploading model to GCS", "source", sourcePath, "destination", location)
	startedAt := time.Now()
	w := obj.NewWriter(ctx)
	n, err := io.Copy(w, src)
	if err != nil {
		_ = w.Close()
		return errors.Wrap(err, "uploading to GCS")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "closing GCS writer")
	}
	log.Info("uploaded model to GCS", "url", location, "size", humanize.Bytes(uint64(n)),
		"duration", time.Since(startedAt))
	return nil
}

// writeToFile streams src into destinationPath through a temporary file in the same
// directory, so the destination never holds a partial download.
func writeToFile(ctx context.Context, src io.Reader, destinationPath string) (int64, error) {
	log := klog.FromContext(ctx)

	tempFile, err := os.CreateTemp(filepath.Dir(destinationPath), "download")
	if err != nil {
		return 0, errors.Wrap(err, "creating temp file")
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Error(err, "removing temp file", "path", tempFile.Name())
			}
		}
	}()

	shouldCloseTempFile := true
	defer func() {
		if shouldCloseTempFile {
			if err := tempFile.Close(); err != nil {
				log.Error(err, "closing temp file", "path", tempFile.Name())
			}
		}
	}()

	n, err := io.Copy(tempFile, src)
	if err != nil {
		return n, errors.Wrap(err, "copying from upstream source")
	}
	if err := tempFile.Close(); err != nil {
		return n, errors.Wrap(err, "closing temp file")
	}
	shouldCloseTempFile = false

	if err := os.Rename(tempFile.Name(), destinationPath); err != nil {
		return n, errors.Wrap(err, "renaming temp file")
	}
	shouldDeleteTempFile = false
	return n, nil
}
