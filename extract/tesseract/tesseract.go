// Package tesseract registers the Tesseract OCR extractor backend.
// Import it for its side effect:
//
//	import _ "github.com/brunobiangulo/docdiff/extract/tesseract"
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/semaphore"

	"github.com/brunobiangulo/docdiff/extract"
	"github.com/brunobiangulo/docdiff/page"
)

func init() {
	extract.Register(extract.BackendTesseract, func(cfg extract.Config) (extract.Extractor, error) {
		return New(cfg.Languages...), nil
	})
}

// Engine reads word-level spans with gosseract. Each call gets its own
// client, so an Engine is safe for concurrent use. At most GOMAXPROCS
// recognitions run at once, counting ones whose caller has given up.
type Engine struct {
	languages     []string
	clientFactory func() *gosseract.Client
	slots         *semaphore.Weighted
}

// New returns a Tesseract engine for the given languages (default "eng").
func New(languages ...string) *Engine {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Engine{
		languages:     languages,
		clientFactory: gosseract.NewClient,
		slots:         semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
	}
}

func (e *Engine) Name() string { return extract.BackendTesseract }

type result struct {
	spans []page.Span
	err   error
}

// Extract runs OCR on the page image. Tesseract cannot be interrupted, so on
// cancellation the call returns immediately and the OCR finishes in the
// background, keeping its slot until it does. A retry therefore waits for a
// free slot instead of stacking another run.
func (e *Engine) Extract(ctx context.Context, img page.Image) ([]page.Span, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	done := make(chan result, 1)
	go func() {
		defer e.slots.Release(1)
		spans, err := e.recognize(img)
		done <- result{spans, err}
	}()
	select {
	case r := <-done:
		return r.spans, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) recognize(img page.Image) ([]page.Span, error) {
	start := time.Now()
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.languages...); err != nil {
		return nil, e.fail(img, "set languages", err)
	}
	if img.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(img.DPI)); err != nil {
			return nil, e.fail(img, "set dpi", err)
		}
	}
	if err := c.SetImage(img.Path); err != nil {
		return nil, e.fail(img, "set image", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, e.fail(img, "recognize", err)
	}

	spans := make([]page.Span, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" || b.Confidence < 0 {
			continue
		}
		spans = append(spans, page.Span{
			Text:       text,
			BBox:       page.BBox{X: b.Box.Min.X, Y: b.Box.Min.Y, W: b.Box.Dx(), H: b.Box.Dy()},
			Confidence: b.Confidence / 100.0,
			Page:       img.Number(),
			Side:       img.Side,
		})
	}

	slog.Debug("extract: tesseract page read",
		"side", img.Side,
		"page", img.Number(),
		"words", len(boxes),
		"spans", len(spans),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return spans, nil
}

func (e *Engine) fail(img page.Image, reason string, err error) error {
	return &extract.ExtractionError{Backend: e.Name(), Path: img.Path, Reason: reason, Err: err}
}
