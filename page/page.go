// Package page holds the data model shared by every stage of a comparison
// run: rasterized page images and the text spans extracted from them.
package page

import (
	"fmt"
	"image"
)

// Side identifies which document of a pair a page or span belongs to.
type Side string

const (
	Source Side = "source"
	Target Side = "target"
)

// BBox is a pixel rectangle on a cropped page image.
type BBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect returns the box as an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Empty reports whether the box has no area.
func (b BBox) Empty() bool { return b.W <= 0 || b.H <= 0 }

// Span is a single extracted text token and its location.
// Extraction order is significant and is never changed downstream.
type Span struct {
	Text       string  `json:"text"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Page       int     `json:"page"`
	Side       Side    `json:"side"`
}

// Image is one rasterized, cropped page on local disk.
type Image struct {
	Side   Side
	Index  int // 0-based page index
	Path   string
	Width  int
	Height int
	DPI    int
	// Crop is the retained region in the coordinates of the raw rasterized page.
	Crop image.Rectangle
}

// Number returns the 1-based page number.
func (i Image) Number() int { return i.Index + 1 }

func (i Image) String() string {
	return fmt.Sprintf("%s page %d (%dx%d)", i.Side, i.Number(), i.Width, i.Height)
}
