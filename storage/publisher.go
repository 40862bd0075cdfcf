package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"
)

const (
	DefaultUploadAttempts = 3
	DefaultUploadDelay    = 500 * time.Millisecond
)

// UploadError reports an artifact that could not be published.
type UploadError struct {
	Key      string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("storage: upload %s failed after %d attempts: %v", e.Key, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// Publisher uploads local files under a task's prefix with bounded retries.
// Publishing the same filename twice overwrites the same key.
type Publisher struct {
	Store    ObjectStore
	Attempts int
	Delay    time.Duration
}

func NewPublisher(store ObjectStore, attempts int) *Publisher {
	if attempts <= 0 {
		attempts = DefaultUploadAttempts
	}
	return &Publisher{Store: store, Attempts: attempts, Delay: DefaultUploadDelay}
}

// Publish uploads the file at localPath as <taskID>/<base name> and returns
// the key.
func (p *Publisher) Publish(ctx context.Context, taskID, localPath string) (string, error) {
	name := filepath.Base(localPath)
	key := Key(taskID, name)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", &UploadError{Key: key, Attempts: 0, Err: err}
	}
	return key, p.put(ctx, key, data, ContentType(name))
}

// PublishJSON encodes v and uploads it as <taskID>/<name>.
func (p *Publisher) PublishJSON(ctx context.Context, taskID, name string, v any) (string, error) {
	key := Key(taskID, name)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("storage: encoding %s: %w", name, err)
	}
	return key, p.put(ctx, key, data, "application/json")
}

func (p *Publisher) put(ctx context.Context, key string, data []byte, contentType string) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = DefaultUploadAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay * time.Duration(1<<(attempt-2))
			slog.Warn("storage: retrying upload",
				"key", key,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return &UploadError{Key: key, Attempts: attempt - 1, Err: ctx.Err()}
			}
		}
		err := p.Store.Put(ctx, key, data, contentType)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return &UploadError{Key: key, Attempts: attempt, Err: ctx.Err()}
		}
	}
	return &UploadError{Key: key, Attempts: attempts, Err: lastErr}
}

// Download fetches key into dir under its base name and returns the local
// path. A missing object yields an error wrapping ErrNotFound.
func Download(ctx context.Context, store ObjectStore, key, dir string) (string, error) {
	return DownloadAs(ctx, store, key, filepath.Join(dir, path.Base(key)))
}

// DownloadAs fetches key into the file dst.
func DownloadAs(ctx context.Context, store ObjectStore, key, dst string) (string, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("storage: downloading %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: writing %s: %w", dst, err)
	}
	return dst, nil
}
