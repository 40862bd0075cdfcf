package normalize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/brunobiangulo/docdiff/page"
)

const (
	DefaultDPI         = 200
	DefaultJPEGQuality = 95
)

// Rasterizer renders PDF pages to cropped JPEG images with poppler's pdftoppm.
type Rasterizer struct {
	Binary  string // defaults to "pdftoppm"
	DPI     int
	Quality int
	Crop    CropOptions

	// CPU bounds concurrent decode/crop/encode work. Nil means unbounded.
	CPU *semaphore.Weighted

	// Inspect returns the page count of a PDF; defaults to InspectPDF.
	Inspect func(path string) (int, error)
}

// Rasterize renders every page of pdfPath at the configured DPI, crops the
// blank margins and writes <stem>_page_<n>.jpg next to the PDF. Images are
// returned in page order.
func (r *Rasterizer) Rasterize(ctx context.Context, pdfPath string, side page.Side) ([]page.Image, error) {
	inspect := r.Inspect
	if inspect == nil {
		inspect = InspectPDF
	}
	pageCount, err := inspect(pdfPath)
	if err != nil {
		return nil, &ConversionError{Op: "inspect", Path: pdfPath, Err: err}
	}
	if pageCount == 0 {
		slog.Warn("normalize: pdf has no pages", "file", filepath.Base(pdfPath), "side", side)
		return []page.Image{}, nil
	}

	binary := r.Binary
	if binary == "" {
		binary = "pdftoppm"
	}
	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	dir := filepath.Dir(pdfPath)
	stem := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	rawDir := filepath.Join(dir, stem+"_raster")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		return nil, &ConversionError{Op: "rasterize", Path: pdfPath, Err: err}
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, binary,
		"-r", strconv.Itoa(dpi),
		"-png",
		pdfPath,
		filepath.Join(rawDir, "page"),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	killProcessGroup(cmd)
	if err := cmd.Run(); err != nil {
		return nil, &ConversionError{
			Op: "rasterize", Path: pdfPath,
			Reason: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	raw, err := listRenderedPages(rawDir)
	if err != nil {
		return nil, &ConversionError{Op: "rasterize", Path: pdfPath, Err: err}
	}
	if len(raw) != pageCount {
		return nil, &ConversionError{
			Op: "rasterize", Path: pdfPath,
			Reason: fmt.Sprintf("rendered %d pages, document has %d", len(raw), pageCount),
		}
	}

	images := make([]page.Image, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range raw {
		g.Go(func() error {
			if r.CPU != nil {
				if err := r.CPU.Acquire(gctx, 1); err != nil {
					return err
				}
				defer r.CPU.Release(1)
			}
			out := filepath.Join(dir, fmt.Sprintf("%s_page_%d.jpg", stem, i+1))
			img, err := r.cropPage(src, out)
			if err != nil {
				return fmt.Errorf("page %d: %w", i+1, err)
			}
			img.Side = side
			img.Index = i
			img.DPI = dpi
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ConversionError{Op: "rasterize", Path: pdfPath, Err: err}
	}

	slog.Info("normalize: rasterized",
		"file", filepath.Base(pdfPath), "side", side, "pages", len(images), "dpi", dpi,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return images, nil
}

func (r *Rasterizer) cropPage(src, out string) (page.Image, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return page.Image{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return page.Image{}, fmt.Errorf("decoding %s: %w", filepath.Base(src), err)
	}

	rect := Crop(img, r.Crop)
	cropped := cropImage(img, rect)

	quality := r.Quality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: quality}); err != nil {
		return page.Image{}, fmt.Errorf("encoding %s: %w", filepath.Base(out), err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return page.Image{}, err
	}

	return page.Image{
		Path:   out,
		Width:  rect.Dx(),
		Height: rect.Dy(),
		Crop:   rect,
	}, nil
}

// listRenderedPages returns pdftoppm's page-N.png outputs ordered by page
// number. pdftoppm zero-pads N to the width of the last page number.
func listRenderedPages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	type rendered struct {
		num  int
		path string
	}
	var pages []rendered
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "page-") || !strings.HasSuffix(name, ".png") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page-"), ".png"))
		if err != nil {
			continue
		}
		pages = append(pages, rendered{num, filepath.Join(dir, name)})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
