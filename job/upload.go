package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"hlsvault/logger"
	"hlsvault/storage"
)

// ManifestName is the file name of the top-level playlist in every package.
const ManifestName = "index.m3u8"

// ErrNoFiles means the transcoder reported success but left nothing behind.
var ErrNoFiles = errors.New("no files to upload")

// DefaultUploadConcurrency is used when UploadPackage gets a non-positive limit.
const DefaultUploadConcurrency = 4

// UploadPackage uploads every regular file directly inside localDir to
// keyPrefix+name and returns the manifest key. Subdirectories are ignored.
// The first failed upload cancels the remaining ones.
func UploadPackage(ctx context.Context, store storage.ObjectStore, localDir, bucket, keyPrefix string, concurrency int) (string, error) {
	files, err := packageFiles(localDir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoFiles, localDir)
	}
	if concurrency <= 0 {
		concurrency = DefaultUploadConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, name := range files {
		name := name
		g.Go(func() error {
			key := keyPrefix + name
			if err := store.PutObject(gctx, bucket, key, filepath.Join(localDir, name), storage.ContentTypeFor(name)); err != nil {
				return fmt.Errorf("failed to upload %s: %w", name, err)
			}
			logger.Debugf("uploaded %s to %s/%s", name, bucket, key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return keyPrefix + ManifestName, nil
}

// packageFiles lists regular files in dir, sorted by name.
func packageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
