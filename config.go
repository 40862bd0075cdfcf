package docdiff

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/docdiff/extract"
	"github.com/brunobiangulo/docdiff/storage"
)

// Config holds all configuration for the comparison engine.
type Config struct {
	// WorkDir is the root of per-run scratch directories
	// (<work_dir>/<task>/<run id>). Defaults to <tmp>/docdiff.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// KeepWorkDir leaves scratch directories in place after a run.
	KeepWorkDir bool `json:"keep_work_dir" yaml:"keep_work_dir"`

	// Rasterization
	DPI         int        `json:"dpi" yaml:"dpi"`
	JPEGQuality int        `json:"jpeg_quality" yaml:"jpeg_quality"`
	Crop        CropConfig `json:"crop" yaml:"crop"`

	// External binaries
	Converter  ConverterConfig `json:"converter" yaml:"converter"`
	Rasterizer string          `json:"rasterizer" yaml:"rasterizer"` // pdftoppm binary

	// Text extraction
	Extractor extract.Config `json:"extractor" yaml:"extractor"`
	Vision    LLMConfig      `json:"vision" yaml:"vision"` // used when extractor.backend is "vision"

	// Object storage
	Storage        storage.Config `json:"storage" yaml:"storage"`
	UploadAttempts int            `json:"upload_attempts" yaml:"upload_attempts"`

	// Concurrency
	PageConcurrency int `json:"page_concurrency" yaml:"page_concurrency"` // max pages in flight, 0 = all
	CPUWorkers      int `json:"cpu_workers" yaml:"cpu_workers"`           // crop/annotate slots, 0 = GOMAXPROCS
}

// CropConfig tunes whitespace cropping of rasterized pages.
type CropConfig struct {
	MinRegionArea int `json:"min_region_area" yaml:"min_region_area"`
	Padding       int `json:"padding" yaml:"padding"`
}

// ConverterConfig configures the office-to-PDF converter.
type ConverterConfig struct {
	Binary  string        `json:"binary" yaml:"binary"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider   string        `json:"provider" yaml:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, custom
	Model      string        `json:"model" yaml:"model"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config for local use: Tesseract extraction, a
// MinIO server on localhost and scratch space under the system temp dir.
func DefaultConfig() Config {
	return Config{
		WorkDir:     filepath.Join(os.TempDir(), "docdiff"),
		DPI:         200,
		JPEGQuality: 95,
		Crop: CropConfig{
			MinRegionArea: 16,
			Padding:       10,
		},
		Converter: ConverterConfig{
			Binary:  "soffice",
			Timeout: 60 * time.Second,
		},
		Rasterizer: "pdftoppm",
		Extractor: extract.Config{
			Backend:      extract.BackendTesseract,
			Languages:    []string{"eng"},
			Timeout:      2 * time.Minute,
			MaxAttempts:  extract.DefaultMaxAttempts,
			RetryDelay:   extract.DefaultRetryDelay,
			MaxImageEdge: extract.DefaultMaxImageEdge,
		},
		Vision: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2-vision",
			BaseURL:  "http://localhost:11434",
		},
		Storage: storage.Config{
			Endpoint: "localhost:9000",
			Bucket:   "docdiff",
		},
		UploadAttempts: storage.DefaultUploadAttempts,
		CPUWorkers:     runtime.GOMAXPROCS(0),
	}
}

// LoadConfig reads a YAML (or JSON) config file over DefaultConfig and
// validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	switch {
	case c.WorkDir == "":
		return fmt.Errorf("%w: work_dir is required", ErrInvalidConfig)
	case c.DPI < 36 || c.DPI > 1200:
		return fmt.Errorf("%w: dpi must be between 36 and 1200, got %d", ErrInvalidConfig, c.DPI)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return fmt.Errorf("%w: jpeg_quality must be between 1 and 100, got %d", ErrInvalidConfig, c.JPEGQuality)
	case c.Crop.MinRegionArea < 0 || c.Crop.Padding < 0:
		return fmt.Errorf("%w: crop values must be >= 0", ErrInvalidConfig)
	case c.Converter.Timeout < 0:
		return fmt.Errorf("%w: converter.timeout must be >= 0", ErrInvalidConfig)
	case c.Extractor.Timeout < 0 || c.Extractor.MaxAttempts < 0 || c.Extractor.RetryDelay < 0:
		return fmt.Errorf("%w: extractor timeout, max_attempts and retry_delay must be >= 0", ErrInvalidConfig)
	case c.PageConcurrency < 0:
		return fmt.Errorf("%w: page_concurrency must be >= 0", ErrInvalidConfig)
	case c.CPUWorkers < 0:
		return fmt.Errorf("%w: cpu_workers must be >= 0", ErrInvalidConfig)
	case c.UploadAttempts < 0:
		return fmt.Errorf("%w: upload_attempts must be >= 0", ErrInvalidConfig)
	}
	if c.Extractor.Backend == extract.BackendVision && c.Vision.Provider == "" {
		return fmt.Errorf("%w: vision.provider is required for the vision extractor", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) cpuWorkers() int64 {
	if c.CPUWorkers > 0 {
		return int64(c.CPUWorkers)
	}
	return int64(runtime.GOMAXPROCS(0))
}
