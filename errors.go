package docdiff

import (
	"errors"
	"fmt"

	"github.com/brunobiangulo/docdiff/extract"
	"github.com/brunobiangulo/docdiff/normalize"
	"github.com/brunobiangulo/docdiff/storage"
)

var (
	// ErrInvalidTask is returned for a malformed task ID or file name.
	ErrInvalidTask = errors.New("docdiff: invalid task")

	// ErrFileNotFound is returned when an input object is absent from storage.
	ErrFileNotFound = errors.New("docdiff: file not found")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("docdiff: invalid configuration")

	// ErrUnsupportedFormat is returned for inputs that are neither PDF nor
	// spreadsheet.
	ErrUnsupportedFormat = errors.New("docdiff: unsupported document format")

	// ErrNoPages is returned when a document renders to zero pages.
	ErrNoPages = errors.New("docdiff: document has no pages")

	// ErrClosed is returned when operating on a closed engine.
	ErrClosed = errors.New("docdiff: engine is closed")
)

type (
	// ConversionError reports a failed spreadsheet conversion or PDF
	// rasterization. Fatal for the run.
	ConversionError = normalize.ConversionError

	// ExtractionError reports a page whose text could not be read.
	// Recorded per page.
	ExtractionError = extract.ExtractionError

	// UploadError reports an artifact that could not be published.
	// Recorded per page.
	UploadError = storage.UploadError
)

// PageCountMismatchError is returned when the two documents render to a
// different number of pages. No page is compared.
type PageCountMismatchError struct {
	Source int
	Target int
}

func (e *PageCountMismatchError) Error() string {
	return fmt.Sprintf("docdiff: page count mismatch: source has %d pages, target has %d", e.Source, e.Target)
}
