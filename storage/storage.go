// Package storage reads task inputs from and publishes artifacts to an
// S3-compatible object store. Every key is prefixed with its task ID.
package storage

import (
	"context"
	"errors"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Object describes a stored object.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Name returns the object's base name.
func (o Object) Name() string { return path.Base(o.Key) }

// ObjectStore is the subset of object storage a comparison run needs.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// List returns the objects under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)
	// Stat returns ErrNotFound when key does not exist.
	Stat(ctx context.Context, key string) (Object, error)
	// Get returns ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put creates or overwrites key.
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Config configures the MinIO store.
type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
	Region    string `json:"region" yaml:"region"`
}

// Key returns the object key of filename within a task.
func Key(taskID, filename string) string {
	return strings.TrimSuffix(taskID, "/") + "/" + filename
}

// TaskPrefix returns the listing prefix of a task.
func TaskPrefix(taskID string) string {
	return strings.TrimSuffix(taskID, "/") + "/"
}

// ContentType guesses a content type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".json":
		return "application/json"
	case ".pdf":
		return "application/pdf"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
