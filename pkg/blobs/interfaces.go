package blobs

import (
	"context"
	"encoding/hex"
	"fmt"
)

type BlobReader interface {
	// Download writes the blob to destPath, replacing it atomically.
	// If no such blob exists, the error satisfies errors.Is(err, os.ErrNotExist).
	Download(ctx context.Context, info BlobInfo, destPath string) error
}

type Blobstore interface {
	BlobReader
	// Upload stores the file at sourcePath under info.Hash.
	// Uploading a hash that already exists is a no-op.
	Upload(ctx context.Context, sourcePath string, info BlobInfo) error
}

// BlobInfo identifies a blob by the hex sha256 of its contents.
type BlobInfo struct {
	Hash string
}

func (i BlobInfo) Validate() error {
	b, err := hex.DecodeString(i.Hash)
	if err != nil || len(b) != 32 {
		return fmt.Errorf("invalid blob hash %q: want 64 hex characters", i.Hash)
	}
	return nil
}
