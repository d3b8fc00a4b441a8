package atlas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/brainquiz/backend/pkg/storage"
)

// Asset file names inside an atlas directory or bucket prefix.
const (
	LabelsFile  = "labels.json"
	CentersFile = "centers.json"
	VolumeFile  = "volume.bin.gz"
)

// Source opens atlas asset files.
type Source interface {
	Open(ctx context.Context, atlasID, name string) (io.ReadCloser, error)
}

// DirSource reads assets from <root>/<atlasID>/<name>.
type DirSource struct {
	Root string
}

// Open implements Source.
func (d DirSource) Open(_ context.Context, atlasID, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(d.Root, filepath.Base(atlasID), filepath.Base(name)))
}

// ObjectGetter is the subset of the S3 client used to fetch assets.
type ObjectGetter interface {
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// S3Source reads assets from <bucket>/<atlasID>/<name>.
type S3Source struct {
	Client ObjectGetter
	Bucket string
}

// Open implements Source.
func (s S3Source) Open(ctx context.Context, atlasID, name string) (io.ReadCloser, error) {
	return s.Client.GetObjectStream(ctx, s.Bucket, storage.AtlasKey(atlasID, name))
}

// CachedSource serves from Primary and keeps a local copy under Dir. When Primary fails the
// local copy is used instead.
type CachedSource struct {
	Primary Source
	Dir     string
	Logger  *zap.Logger
}

// Open implements Source.
func (c CachedSource) Open(ctx context.Context, atlasID, name string) (io.ReadCloser, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := DirSource{Root: c.Dir}
	rc, err := c.Primary.Open(ctx, atlasID, name)
	if err != nil {
		cached, cerr := cache.Open(ctx, atlasID, name)
		if cerr != nil {
			return nil, fmt.Errorf("open %s/%s: %w", atlasID, name, err)
		}
		logger.Warn("atlas asset served from cache", zap.String("atlas", atlasID), zap.String("file", name), zap.Error(err))
		return cached, nil
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", atlasID, name, err)
	}
	if err := c.store(atlasID, name, body); err != nil {
		logger.Warn("atlas cache write failed", zap.String("atlas", atlasID), zap.String("file", name), zap.Error(err))
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (c CachedSource) store(atlasID, name string, body []byte) error {
	dir := filepath.Join(c.Dir, filepath.Base(atlasID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, filepath.Base(name)), body, 0o644)
}
