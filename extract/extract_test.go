package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/brunobiangulo/docdiff/page"
)

type stubExtractor struct{ name string }

func (s stubExtractor) Name() string { return s.name }
func (s stubExtractor) Extract(context.Context, page.Image) ([]page.Span, error) {
	return nil, nil
}

func TestNewSelectsBackend(t *testing.T) {
	Register("stub", func(cfg Config) (Extractor, error) { return stubExtractor{name: "stub"}, nil })
	Register("broken", func(cfg Config) (Extractor, error) { return nil, errors.New("no engine") })

	e, err := New(Config{Backend: "stub", MaxAttempts: 2}, nil)
	if err != nil {
		t.Fatalf("New(stub): %v", err)
	}
	r, ok := e.(*retrying)
	if !ok || r.attempts != 2 || r.next.Name() != "stub" {
		t.Errorf("New(stub) = %#v", e)
	}

	if _, err := New(Config{Backend: "broken"}, nil); err == nil || !strings.Contains(err.Error(), "no engine") {
		t.Errorf("New(broken) error = %v", err)
	}
	if _, err := New(Config{Backend: "nope"}, nil); err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Errorf("New(nope) error = %v", err)
	}
}

func TestNewVision(t *testing.T) {
	if _, err := New(Config{Backend: BackendVision}, nil); err == nil {
		t.Error("vision backend without provider should fail")
	}
	e, err := New(Config{Backend: BackendVision, MaxImageEdge: 512}, &fakeVision{})
	if err != nil {
		t.Fatalf("New(vision): %v", err)
	}
	v, ok := e.(*retrying).next.(*Vision)
	if !ok || v.maxEdge != 512 {
		t.Errorf("inner extractor = %#v", e.(*retrying).next)
	}
}

func TestExtractionErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	err := &ExtractionError{Backend: "vision", Path: "/tmp/a.jpg", Reason: "vision request", Err: cause}
	if got := err.Error(); got != "extract: vision /tmp/a.jpg: vision request: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("ExtractionError should unwrap to its cause")
	}
}
