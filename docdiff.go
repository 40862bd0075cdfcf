// Package docdiff compares two versions of a trade document page by page
// and publishes annotated page images that highlight differing text.
package docdiff

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/brunobiangulo/docdiff/annotate"
	"github.com/brunobiangulo/docdiff/classify"
	"github.com/brunobiangulo/docdiff/extract"
	"github.com/brunobiangulo/docdiff/llm"
	"github.com/brunobiangulo/docdiff/normalize"
	"github.com/brunobiangulo/docdiff/page"
	"github.com/brunobiangulo/docdiff/storage"
)

// Engine is the main entry point for document comparison.
type Engine interface {
	// Classify lists the task's files in storage and assigns document roles.
	Classify(ctx context.Context, taskID string) (classify.Result, error)

	// LoadDocumentSet downloads every file of a task into a local directory
	// and returns it.
	LoadDocumentSet(ctx context.Context, taskID string) (string, error)

	// Compare runs the page-aligned comparison of two files of a task and
	// publishes one annotated image pair per page.
	Compare(ctx context.Context, taskID, sourceFile, targetFile string) (*Result, error)

	// Close cleanly shuts down the engine.
	Close() error
}

// Page failure stages.
const (
	StageExtract  = "extract"
	StageDiff     = "diff"
	StageAnnotate = "annotate"
	StagePublish  = "publish"
)

// ArtifactPair holds the object keys of one page's annotated images.
type ArtifactPair struct {
	Page        int    `json:"page"`
	SourceImage string `json:"source_image"`
	TargetImage string `json:"target_image"`
}

// PageFailure records a page that produced no artifact pair.
type PageFailure struct {
	Page   int    `json:"page"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
	Err    error  `json:"-"` // *ExtractionError, *UploadError, ...
}

// Result is the outcome of a comparison run. Every page appears exactly once,
// either in Artifacts or in FailedPages; both are ordered by page.
type Result struct {
	TaskID      string         `json:"task_id"`
	RunID       string         `json:"run_id"`
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Pages       int            `json:"pages"`
	Artifacts   []ArtifactPair `json:"artifacts"`
	FailedPages []PageFailure  `json:"failed_pages"`
	ManifestKey string         `json:"manifest_key,omitempty"`
}

// Option configures engine construction.
type Option func(*engine)

// WithStore replaces the MinIO store built from Config.Storage.
func WithStore(s storage.ObjectStore) Option {
	return func(e *engine) { e.store = s }
}

// WithExtractor replaces the extractor built from Config.Extractor.
func WithExtractor(x extract.Extractor) Option {
	return func(e *engine) { e.extractor = x }
}

type converter interface {
	ConvertToPDF(ctx context.Context, path string) (string, error)
}

type rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, side page.Side) ([]page.Image, error)
}

type annotator interface {
	Annotate(img page.Image, spans []page.Span, indices []int) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, taskID, localPath string) (string, error)
	PublishJSON(ctx context.Context, taskID, name string, v any) (string, error)
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	store     storage.ObjectStore
	converter converter
	raster    rasterizer
	extractor extract.Extractor
	annotator annotator
	publisher publisher
	cpu       *semaphore.Weighted
	closed    atomic.Bool
}

// New creates a comparison engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, cpu: semaphore.NewWeighted(cfg.cpuWorkers())}
	for _, o := range opts {
		o(e)
	}

	if e.store == nil {
		m, err := storage.NewMinIO(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("opening object store: %w", err)
		}
		e.store = m
	}

	if e.extractor == nil {
		var vision llm.VisionProvider
		if cfg.Extractor.Backend == extract.BackendVision {
			p, err := llm.NewProvider(llm.Config(cfg.Vision))
			if err != nil {
				return nil, fmt.Errorf("creating vision provider: %w", err)
			}
			vision = p
		}
		x, err := extract.New(cfg.Extractor, vision)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		e.extractor = x
	}

	e.converter = &normalize.Converter{
		Binary:  cfg.Converter.Binary,
		Timeout: cfg.Converter.Timeout,
	}
	e.raster = &normalize.Rasterizer{
		Binary:  cfg.Rasterizer,
		DPI:     cfg.DPI,
		Quality: cfg.JPEGQuality,
		Crop: normalize.CropOptions{
			MinRegionArea: cfg.Crop.MinRegionArea,
			Padding:       cfg.Crop.Padding,
		},
		CPU: e.cpu,
	}
	ann := annotate.New()
	ann.Quality = cfg.JPEGQuality
	e.annotator = ann
	e.publisher = storage.NewPublisher(e.store, cfg.UploadAttempts)

	slog.Info("docdiff: engine ready",
		"extractor", e.extractor.Name(),
		"work_dir", cfg.WorkDir,
		"cpu_workers", cfg.cpuWorkers(),
		"page_concurrency", cfg.PageConcurrency,
	)
	return e, nil
}

// Classify assigns document roles to the files stored under a task.
func (e *engine) Classify(ctx context.Context, taskID string) (classify.Result, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	objs, err := e.store.List(ctx, storage.TaskPrefix(taskID))
	if err != nil {
		return nil, fmt.Errorf("listing task %s: %w", taskID, err)
	}
	names := make([]string, len(objs))
	for i, o := range objs {
		names[i] = o.Name()
	}
	return classify.Classify(names), nil
}

// LoadDocumentSet downloads every object under the task prefix into
// <work_dir>/<task>/files.
func (e *engine) LoadDocumentSet(ctx context.Context, taskID string) (string, error) {
	if e.closed.Load() {
		return "", ErrClosed
	}
	if err := validateTaskID(taskID); err != nil {
		return "", err
	}
	objs, err := e.store.List(ctx, storage.TaskPrefix(taskID))
	if err != nil {
		return "", fmt.Errorf("listing task %s: %w", taskID, err)
	}
	if len(objs) == 0 {
		return "", fmt.Errorf("%w: task %s has no files", ErrFileNotFound, taskID)
	}

	dir := filepath.Join(e.cfg.WorkDir, taskID, "files")
	for _, o := range objs {
		rel := path.Clean(strings.TrimPrefix(o.Key, storage.TaskPrefix(taskID)))
		if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
			slog.Warn("docdiff: skipping object outside task", "task_id", taskID, "key", o.Key)
			continue
		}
		if _, err := storage.DownloadAs(ctx, e.store, o.Key, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return "", fmt.Errorf("loading %s: %w", o.Key, err)
		}
	}
	slog.Info("docdiff: document set loaded", "task_id", taskID, "files", len(objs), "dir", dir)
	return dir, nil
}

// Close marks the engine closed. In-flight comparisons finish normally.
func (e *engine) Close() error {
	e.closed.Store(true)
	return nil
}
