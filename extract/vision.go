package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	"image/png"
	"log/slog"
	"math"
	"os"
	"time"

	"golang.org/x/image/draw"

	"github.com/brunobiangulo/docdiff/llm"
	"github.com/brunobiangulo/docdiff/page"
)

// VisionConfidence is reported for every vision span; the model gives none.
const VisionConfidence = 1.0

// DefaultMaxImageEdge bounds the longest image edge sent to the model.
const DefaultMaxImageEdge = 2048

const visionPrompt = `You are an OCR engine. Read every word and number printed on this document page.

Return ONLY a JSON array, in reading order (top to bottom, left to right), where each element is:
{"text": "<the exact characters as printed>", "bbox": [x, y, width, height]}

Rules:
- bbox is in pixels of this image, origin at the top-left corner.
- Copy text exactly, including punctuation, separators and case.
- One element per word or contiguous number.
- No commentary, no markdown.`

// Vision extracts spans by asking a multimodal LLM to read the page.
type Vision struct {
	provider    llm.VisionProvider
	maxEdge     int
	temperature float64
}

// NewVision returns a vision extractor. Images whose longest edge exceeds
// maxEdge are downscaled before sending; 0 selects DefaultMaxImageEdge.
func NewVision(provider llm.VisionProvider, maxEdge int) *Vision {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxImageEdge
	}
	return &Vision{provider: provider, maxEdge: maxEdge, temperature: 0.1}
}

func (v *Vision) Name() string { return BackendVision }

// Extract sends the page to the model and returns the spans it read, with
// boxes mapped back to the page image's pixel grid.
func (v *Vision) Extract(ctx context.Context, img page.Image) ([]page.Span, error) {
	start := time.Now()

	f, err := os.Open(img.Path)
	if err != nil {
		return nil, &ExtractionError{Backend: v.Name(), Path: img.Path, Reason: "opening image", Err: err}
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, &ExtractionError{Backend: v.Name(), Path: img.Path, Reason: "decoding image", Err: err}
	}

	scaled, scale := downscale(src, v.maxEdge)
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, &ExtractionError{Backend: v.Name(), Path: img.Path, Reason: "encoding image", Err: err}
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	resp, err := v.provider.ChatWithImages(ctx, llm.VisionChatRequest{
		Messages: []llm.VisionMessage{{
			Role:    "user",
			Content: []llm.ContentPart{llm.TextPart(visionPrompt), llm.ImagePart(dataURL)},
		}},
		Temperature: v.temperature,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ExtractionError{Backend: v.Name(), Path: img.Path, Reason: "vision request", Err: err}
	}

	raw, err := parseSpans(resp.Content)
	if err != nil {
		return nil, &ExtractionError{Backend: v.Name(), Path: img.Path, Reason: "invalid vision response", Err: err}
	}

	spans := make([]page.Span, len(raw))
	for i, r := range raw {
		spans[i] = page.Span{
			Text:       r.Text,
			BBox:       unscale(r.BBox, scale),
			Confidence: VisionConfidence,
			Page:       img.Number(),
			Side:       img.Side,
		}
	}

	slog.Debug("extract: vision page read",
		"side", img.Side,
		"page", img.Number(),
		"spans", len(spans),
		"scale", scale,
		"tokens", resp.TotalTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return spans, nil
}

// downscale shrinks img so its longest edge is at most maxEdge. It returns
// the image to send and the factor applied (1 when unchanged).
func downscale(img image.Image, maxEdge int) (image.Image, float64) {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if longest <= maxEdge || longest == 0 {
		return img, 1
	}
	scale := float64(maxEdge) / float64(longest)
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst, scale
}

func unscale(box [4]float64, scale float64) page.BBox {
	if scale <= 0 {
		scale = 1
	}
	return page.BBox{
		X: int(math.Round(box[0] / scale)),
		Y: int(math.Round(box[1] / scale)),
		W: int(math.Round(box[2] / scale)),
		H: int(math.Round(box[3] / scale)),
	}
}

var _ Extractor = (*Vision)(nil)
