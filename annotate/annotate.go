// Package annotate marks differing text spans on page images.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/brunobiangulo/docdiff/page"
)

// OutputSuffix is appended to the input file stem to name annotated images.
const OutputSuffix = "_with_bboxes"

// Annotator draws rectangle outlines around flagged spans.
type Annotator struct {
	Color     color.RGBA
	Thickness int
	Quality   int
}

// New returns an annotator drawing 2px red boxes into quality-95 JPEGs.
func New() *Annotator {
	return &Annotator{
		Color:     color.RGBA{R: 255, A: 255},
		Thickness: 2,
		Quality:   95,
	}
}

// OutputPath returns the annotated image path for an input image path.
func OutputPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(filepath.Dir(path), stem+OutputSuffix+".jpg")
}

// Annotate draws a box at the bbox of every span in indices and writes the
// result to a new file next to the input, which is left untouched. Indices
// outside spans are ignored. The output depends only on the input image,
// spans and indices, so re-running produces identical bytes.
func (a *Annotator) Annotate(img page.Image, spans []page.Span, indices []int) (string, error) {
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return "", fmt.Errorf("reading page image: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decoding page image: %w", err)
	}

	b := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)

	for _, i := range indices {
		if i < 0 || i >= len(spans) {
			continue
		}
		a.outline(canvas, spans[i].BBox.Rect())
	}

	quality := a.Quality
	if quality <= 0 {
		quality = 95
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encoding annotated image: %w", err)
	}

	out := OutputPath(img.Path)
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("writing annotated image: %w", err)
	}
	return out, nil
}

func (a *Annotator) outline(dst *image.RGBA, r image.Rectangle) {
	r = r.Canon()
	if r.Empty() {
		return
	}
	t := a.Thickness
	if t <= 0 {
		t = 1
	}
	fill := &image.Uniform{a.Color}
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), // top
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), // left
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), fill, image.Point{}, draw.Src)
	}
}
