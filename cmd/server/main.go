package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brunobiangulo/docdiff"
	_ "github.com/brunobiangulo/docdiff/extract/tesseract"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := docdiff.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = docdiff.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	applyEnv(&cfg, os.Getenv)

	engine, err := docdiff.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	r := newRouter(newHandler(engine), os.Getenv("DOCDIFF_API_KEY"), os.Getenv("DOCDIFF_CORS_ORIGINS"))

	srv := &http.Server{
		Addr:         *addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // comparisons of long documents can take minutes
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newRouter wires the middleware chain and routes.
// Chain: request id -> recoverer -> cors -> auth -> logging -> handler.
func newRouter(h *handler, apiKey, corsOrigins string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(corsOrigins))
	r.Use(authMiddleware(apiKey))
	r.Use(logMiddleware)

	r.Post("/compare", h.handleCompare)
	r.Post("/classify", h.handleClassify)
	r.Get("/health", h.handleHealth)
	return r
}

// applyEnv overrides config values from DOCDIFF_* environment variables.
func applyEnv(cfg *docdiff.Config, getenv func(string) string) {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				slog.Warn("ignoring invalid env value", "key", key, "value", v)
				return
			}
			*dst = n
		}
	}

	str("DOCDIFF_WORK_DIR", &cfg.WorkDir)
	num("DOCDIFF_DPI", &cfg.DPI)
	num("DOCDIFF_PAGE_CONCURRENCY", &cfg.PageConcurrency)
	str("DOCDIFF_SOFFICE", &cfg.Converter.Binary)
	str("DOCDIFF_PDFTOPPM", &cfg.Rasterizer)
	str("DOCDIFF_EXTRACTOR", &cfg.Extractor.Backend)

	str("DOCDIFF_VISION_PROVIDER", &cfg.Vision.Provider)
	str("DOCDIFF_VISION_MODEL", &cfg.Vision.Model)
	str("DOCDIFF_VISION_BASE_URL", &cfg.Vision.BaseURL)
	str("DOCDIFF_VISION_API_KEY", &cfg.Vision.APIKey)

	str("DOCDIFF_MINIO_ENDPOINT", &cfg.Storage.Endpoint)
	str("DOCDIFF_MINIO_ACCESS_KEY", &cfg.Storage.AccessKey)
	str("DOCDIFF_MINIO_SECRET_KEY", &cfg.Storage.SecretKey)
	str("DOCDIFF_MINIO_BUCKET", &cfg.Storage.Bucket)
	if v := getenv("DOCDIFF_MINIO_USE_SSL"); v != "" {
		cfg.Storage.UseSSL, _ = strconv.ParseBool(v)
	}

	// Fallback: well-known provider env vars for API keys.
	if cfg.Vision.APIKey == "" {
		switch cfg.Vision.Provider {
		case "openai":
			cfg.Vision.APIKey = getenv("OPENAI_API_KEY")
		case "groq":
			cfg.Vision.APIKey = getenv("GROQ_API_KEY")
		case "gemini":
			cfg.Vision.APIKey = getenv("GEMINI_API_KEY")
		}
	}
}
