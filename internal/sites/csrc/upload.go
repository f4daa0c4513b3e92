package csrc

import (
	"context"
	"fmt"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// objectName reuses the object behind an existing artifact so reprocessing
// overwrites it; otherwise a fresh name is placed under the region code.
func objectName(blobs crawler.BlobStore, rec crawler.Record, stem, ext string) string {
	if rec.ArtifactPath != "" {
		if name, ok := blobs.ObjectName(rec.ArtifactPath); ok {
			return name
		}
	}
	return fmt.Sprintf("%s/%s.%s", rec.RegionCode, stem, ext)
}

func upload(ctx context.Context, blobs crawler.BlobStore, hasher crawler.FileHasher, rec crawler.Record, local, stem, ext, contentType string) (crawler.Artifact, error) {
	sum, err := hasher.HashFile(local)
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("hash %s: %w", local, err)
	}
	path, err := blobs.PutFile(ctx, objectName(blobs, rec, stem, ext), local, contentType)
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("upload %d: %w", rec.ID, err)
	}
	return crawler.Artifact{Path: path, MD5: sum}, nil
}
