package normalize

import "fmt"

// ConversionError reports a failure to bring a document into page-image
// form. It is fatal for a comparison run and is never retried.
type ConversionError struct {
	Op     string // "convert", "inspect" or "rasterize"
	Path   string
	Reason string
	Err    error
}

func (e *ConversionError) Error() string {
	msg := fmt.Sprintf("normalize: %s %s", e.Op, e.Path)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConversionError) Unwrap() error { return e.Err }
