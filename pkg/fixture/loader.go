package fixture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	api "k8s.io/examples/AI/attnsim/api/v1alpha1"
	"k8s.io/examples/AI/attnsim/pkg/blobs"
	"k8s.io/klog/v2"
)

// Loader fetches fixtures from a blobstore by hash.
type Loader struct {
	// Reader is the interface to fetch blobs
	Reader blobs.BlobReader

	// MaxAttempts is the number of times to attempt a download before failing
	MaxAttempts int

	// RetryDelay is the wait between attempts
	RetryDelay time.Duration
}

// Fetch downloads the fixture stored under hash and checks that its contents
// match the hash.
func (l *Loader) Fetch(ctx context.Context, hash string) (*api.CalculateRequest, error) {
	info := blobs.BlobInfo{Hash: hash}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "fixture")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	localPath := filepath.Join(tmpDir, hash+".json")
	if err := l.downloadToFile(ctx, info, localPath); err != nil {
		return nil, fmt.Errorf("downloading fixture %q: %w", hash, err)
	}

	b, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("reading downloaded fixture: %w", err)
	}
	if got := hashBytes(b); got != hash {
		return nil, fmt.Errorf("fixture %q has hash %q", hash, got)
	}
	return Decode(b)
}

func (l *Loader) downloadToFile(ctx context.Context, info blobs.BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	attempt := 0
	for {
		attempt++

		err := l.Reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}

		if attempt >= l.MaxAttempts || errors.Is(err, os.ErrNotExist) {
			return err
		}

		log.Error(err, "downloading blob, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.RetryDelay):
		}
	}
}
