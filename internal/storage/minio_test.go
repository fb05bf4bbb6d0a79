package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// newTestMinio connects to the server named by CLIPDECK_TEST_MINIO_ENDPOINT
// (for example a local `minio server`), or skips.
func newTestMinio(t *testing.T) *MinioStore {
	t.Helper()
	endpoint := os.Getenv("CLIPDECK_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("CLIPDECK_TEST_MINIO_ENDPOINT not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewMinioStore(ctx, MinioConfig{
		Endpoint:  endpoint,
		AccessKey: envOr("CLIPDECK_TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("CLIPDECK_TEST_MINIO_SECRET_KEY", "minioadmin"),
		Bucket:    "clipdeck-test-" + uuid.NewString()[:8],
	})
	if err != nil {
		t.Fatalf("NewMinioStore: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		for obj := range store.client.ListObjects(ctx, store.bucket, minio.ListObjectsOptions{Recursive: true}) {
			store.client.RemoveObject(ctx, store.bucket, obj.Key, minio.RemoveObjectOptions{})
		}
		store.client.RemoveBucket(ctx, store.bucket)
	})
	return store
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestMinioStore_RoundTrip(t *testing.T) {
	store := newTestMinio(t)
	ctx := context.Background()
	key := "uploads/a1-clip.mp4"

	if err := store.Put(ctx, key, strings.NewReader("frames"), -1, "video/mp4"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, info, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := rc.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	rest, _ := io.ReadAll(rc)
	rc.Close()
	if string(rest) != "ames" || info.Size != 6 || info.ContentType != "video/mp4" {
		t.Errorf("read %q, info %+v", rest, info)
	}

	loc, err := store.Locate(ctx, key)
	if err != nil || !strings.Contains(loc, key) {
		t.Errorf("Locate = %q, %v", loc, err)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Open(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open after delete = %v, want ErrNotFound", err)
	}
}

func TestMinioStore_RejectsBadKeys(t *testing.T) {
	store := &MinioStore{bucket: "unused"}
	ctx := context.Background()
	if err := store.Put(ctx, "../escape", strings.NewReader("x"), 1, ""); err == nil {
		t.Error("Put accepted a traversal key")
	}
	if _, err := store.Locate(ctx, "/abs"); err == nil {
		t.Error("Locate accepted an absolute key")
	}
	if store.Backend() != "minio" {
		t.Errorf("Backend = %q", store.Backend())
	}
}

func TestTranslateMinioErr(t *testing.T) {
	notFound := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if !errors.Is(translateMinioErr(notFound), ErrNotFound) {
		t.Error("NoSuchKey should map to ErrNotFound")
	}
	other := errors.New("connection reset")
	if translateMinioErr(other) != other {
		t.Error("other errors should pass through")
	}
}
