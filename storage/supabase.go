package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseBucket writes to Supabase Storage with a service-role key.
// Objects are upserted, so a flush that runs twice overwrites.
type SupabaseBucket struct {
	Bucket string

	// the client keeps per-request options on shared headers
	mu     sync.Mutex
	client *storage_go.Client
}

var _ Bucket = (*SupabaseBucket)(nil)

func NewSupabaseBucket(baseURL, serviceKey, bucket string) *SupabaseBucket {
	url := strings.TrimRight(baseURL, "/") + "/storage/v1"
	return &SupabaseBucket{
		Bucket: bucket,
		client: storage_go.NewClient(url, serviceKey, map[string]string{"apikey": serviceKey}),
	}
}

func (b *SupabaseBucket) Put(ctx context.Context, path, contentType string, data []byte) error {
	path = strings.TrimLeft(path, "/")
	upsert := true

	done := make(chan error, 1)
	go func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ctx.Err() != nil {
			done <- ctx.Err()
			return
		}
		resp, err := b.client.UploadFile(b.Bucket, path, bytes.NewReader(data), storage_go.FileOptions{
			ContentType: &contentType,
			Upsert:      &upsert,
		})
		if err == nil && resp.Key == "" {
			err = fmt.Errorf("no object key in response")
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("upload %s: %w", path, ctx.Err())
	}
}
