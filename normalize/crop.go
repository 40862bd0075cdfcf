package normalize

import "image"

// whiteLevel is the 8-bit channel value at or above which a pixel counts
// as background.
const whiteLevel = 250

// CropOptions tunes whitespace detection.
type CropOptions struct {
	// MinRegionArea drops connected ink regions smaller than this many
	// pixels (scanner speckle, stray antialiasing).
	MinRegionArea int
	// Padding is added uniformly around the detected content.
	Padding int
}

// Crop returns the bounds of the page content: the union of all
// 8-connected non-white regions of at least MinRegionArea pixels, grown by
// Padding and clamped to the image. A blank page keeps its full bounds.
func Crop(img image.Image, opts CropOptions) image.Rectangle {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return b
	}

	ink := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			ink[y*w+x] = isInk(img, b.Min.X+x, b.Min.Y+y)
		}
	}

	seen := make([]bool, w*h)
	content := image.Rectangle{}
	found := false
	var stack []int

	for start := range ink {
		if !ink[start] || seen[start] {
			continue
		}

		seen[start] = true
		stack = append(stack[:0], start)
		area := 0
		minX, minY := w, h
		maxX, maxY := -1, -1

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			area++
			minX, minY = min(minX, x), min(minY, y)
			maxX, maxY = max(maxX, x), max(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w || (dx == 0 && dy == 0) {
						continue
					}
					j := ny*w + nx
					if ink[j] && !seen[j] {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}

		if area < opts.MinRegionArea {
			continue
		}
		r := image.Rect(minX, minY, maxX+1, maxY+1)
		if !found {
			content, found = r, true
		} else {
			content = content.Union(r)
		}
	}

	if !found {
		return b
	}

	content = content.Inset(-opts.Padding).Add(b.Min)
	return content.Intersect(b)
}

func isInk(img image.Image, x, y int) bool {
	r, g, bl, _ := img.At(x, y).RGBA()
	const lvl = whiteLevel * 0x101
	return r < lvl || g < lvl || bl < lvl
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// cropImage returns the sub-image for rect, copying when the decoded image
// type does not support SubImage.
func cropImage(img image.Image, rect image.Rectangle) image.Image {
	if rect == img.Bounds() {
		return img
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x-rect.Min.X, y-rect.Min.Y, img.At(x, y))
		}
	}
	return dst
}
