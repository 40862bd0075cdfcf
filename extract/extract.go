// Package extract turns page images into ordered text spans with pixel
// bounding boxes. Backends are an OCR engine (package extract/tesseract,
// registered on import) and a vision LLM.
package extract

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/brunobiangulo/docdiff/llm"
	"github.com/brunobiangulo/docdiff/page"
)

// Backend names.
const (
	BackendTesseract = "tesseract"
	BackendVision    = "vision"
)

// Extractor reads the text spans of one page image. Implementations must be
// safe for concurrent use and must not reorder spans after reading them.
type Extractor interface {
	Extract(ctx context.Context, img page.Image) ([]page.Span, error)
	Name() string
}

// Config configures extractor construction.
type Config struct {
	Backend      string        `json:"backend" yaml:"backend"`
	Languages    []string      `json:"languages" yaml:"languages"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts"`
	RetryDelay   time.Duration `json:"retry_delay" yaml:"retry_delay"`
	MaxImageEdge int           `json:"max_image_edge" yaml:"max_image_edge"`
}

// Factory builds an extractor backend from configuration.
type Factory func(cfg Config) (Extractor, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a backend available to New under name.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Backends lists the registered backend names plus the built-in vision one.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := []string{BackendVision}
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the configured backend wrapped with bounded retries. An empty
// backend means tesseract. The vision provider is only used by the vision
// backend and may be nil otherwise.
func New(cfg Config, vision llm.VisionProvider) (Extractor, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendTesseract
	}

	var (
		e   Extractor
		err error
	)
	switch backend {
	case BackendVision:
		if vision == nil {
			return nil, fmt.Errorf("extract: vision backend requires an llm provider")
		}
		e = NewVision(vision, cfg.MaxImageEdge)
	default:
		registryMu.RLock()
		f, ok := registry[backend]
		registryMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("extract: unknown backend %q (available: %v)", backend, Backends())
		}
		if e, err = f(cfg); err != nil {
			return nil, fmt.Errorf("extract: building %s backend: %w", backend, err)
		}
	}

	return WithRetry(e, cfg.MaxAttempts, cfg.RetryDelay, cfg.Timeout), nil
}

// ExtractionError reports a page whose text could not be read.
type ExtractionError struct {
	Backend string
	Path    string
	Reason  string
	Err     error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extract: %s %s", e.Backend, e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }
