package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Bucket is an append-only object store. Put overwrites an existing path.
type Bucket interface {
	Put(ctx context.Context, path, contentType string, data []byte) error
}

func ClipPath(sessionID, participantID string, seq uint64) string {
	return fmt.Sprintf("%s/%s/clip_%04d.mp3", sessionID, participantID, seq)
}

func SubtitlesPath(sessionID string) string {
	return sessionID + "/subtitles.srt"
}

func TranscriptPath(sessionID string) string {
	return sessionID + "/transcript.jsonl"
}

type DirBucket struct {
	Root string
}

var _ Bucket = (*DirBucket)(nil)

func NewDirBucket(root string) (*DirBucket, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	return &DirBucket{Root: root}, nil
}

func (b *DirBucket) Put(ctx context.Context, path, _ string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Rooting the path before cleaning keeps ".." inside the bucket.
	full := filepath.Join(b.Root, filepath.Clean("/"+path))

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}
