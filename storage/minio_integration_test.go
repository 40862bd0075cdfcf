//go:build integration

package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// TestMinIORoundTrip runs against a live server, e.g.
//
//	docker run -p 9000:9000 minio/minio server /data
//	DOCDIFF_TEST_MINIO=localhost:9000 go test -tags integration ./storage
func TestMinIORoundTrip(t *testing.T) {
	endpoint := os.Getenv("DOCDIFF_TEST_MINIO")
	if endpoint == "" {
		t.Skip("DOCDIFF_TEST_MINIO not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m, err := NewMinIO(Config{
		Endpoint:  endpoint,
		AccessKey: envOr("DOCDIFF_TEST_MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("DOCDIFF_TEST_MINIO_SECRET_KEY", "minioadmin"),
		Bucket:    "docdiff-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.EnsureBucket(ctx); err != nil {
		t.Fatal(err)
	}

	task := "it-" + time.Now().Format("150405.000")
	if err := m.Put(ctx, Key(task, "a.jpg"), []byte("jpeg"), "image/jpeg"); err != nil {
		t.Fatal(err)
	}
	objs, err := m.List(ctx, TaskPrefix(task))
	if err != nil || len(objs) != 1 || objs[0].Name() != "a.jpg" {
		t.Fatalf("List = %+v, %v", objs, err)
	}
	data, err := m.Get(ctx, Key(task, "a.jpg"))
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("Get = %q, %v", data, err)
	}
	if _, err := m.Stat(ctx, Key(task, "missing.jpg")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat(missing) = %v", err)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
