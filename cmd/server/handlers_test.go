package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/brunobiangulo/docdiff"
	"github.com/brunobiangulo/docdiff/classify"
)

type fakeEngine struct {
	result  *docdiff.Result
	roles   classify.Result
	err     error
	gotArgs []string
}

func (f *fakeEngine) Classify(ctx context.Context, taskID string) (classify.Result, error) {
	f.gotArgs = []string{taskID}
	return f.roles, f.err
}

func (f *fakeEngine) LoadDocumentSet(ctx context.Context, taskID string) (string, error) {
	return "", f.err
}

func (f *fakeEngine) Compare(ctx context.Context, taskID, source, target string) (*docdiff.Result, error) {
	f.gotArgs = []string{taskID, source, target}
	return f.result, f.err
}

func (f *fakeEngine) Close() error { return nil }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	r := newRouter(newHandler(&fakeEngine{}), "", "")
	rec := do(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCompare(t *testing.T) {
	fe := &fakeEngine{result: &docdiff.Result{
		TaskID: "T1",
		RunID:  "run",
		Pages:  1,
		Artifacts: []docdiff.ArtifactPair{{
			Page:        1,
			SourceImage: "T1/a_page_1_with_bboxes.jpg",
			TargetImage: "T1/b_page_1_with_bboxes.jpg",
		}},
	}}
	r := newRouter(newHandler(fe), "", "")

	rec := do(t, r, http.MethodPost, "/compare",
		`{"task_id":"T1","source_file_name":"a.pdf","target_file_name":"b.pdf"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := strings.Join(fe.gotArgs, ","); got != "T1,a.pdf,b.pdf" {
		t.Errorf("engine args = %s", got)
	}

	var resp compareResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "completed" || len(resp.Artifacts) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Artifacts[0].SourceImage != "T1/a_page_1_with_bboxes.jpg" {
		t.Errorf("artifact = %+v", resp.Artifacts[0])
	}
	if resp.FailedPages == nil {
		t.Error("failed_pages should be an empty list, not null")
	}
}

func TestComparePartial(t *testing.T) {
	fe := &fakeEngine{result: &docdiff.Result{
		Pages:       2,
		Artifacts:   []docdiff.ArtifactPair{{Page: 1}},
		FailedPages: []docdiff.PageFailure{{Page: 2, Stage: docdiff.StageExtract, Reason: "timeout"}},
	}}
	r := newRouter(newHandler(fe), "", "")

	rec := do(t, r, http.MethodPost, "/compare",
		`{"task_id":"T1","source_file_name":"a.pdf","target_file_name":"b.pdf"}`)
	var resp compareResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "partial" || len(resp.FailedPages) != 1 || resp.FailedPages[0].Page != 2 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestCompareBadRequest(t *testing.T) {
	r := newRouter(newHandler(&fakeEngine{}), "", "")
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing task", `{"source_file_name":"a.pdf","target_file_name":"b.pdf"}`},
		{"missing target", `{"task_id":"T1","source_file_name":"a.pdf"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/compare", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCompareErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"page count mismatch", &docdiff.PageCountMismatchError{Source: 3, Target: 2}, http.StatusUnprocessableEntity},
		{"conversion", fmt.Errorf("source: %w", &docdiff.ConversionError{Op: "convert", Path: "a.xlsx"}), http.StatusUnprocessableEntity},
		{"no pages", docdiff.ErrNoPages, http.StatusUnprocessableEntity},
		{"not found", fmt.Errorf("%w: T1/a.pdf", docdiff.ErrFileNotFound), http.StatusNotFound},
		{"invalid task", docdiff.ErrInvalidTask, http.StatusBadRequest},
		{"unsupported", docdiff.ErrUnsupportedFormat, http.StatusBadRequest},
		{"closed", docdiff.ErrClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(newHandler(&fakeEngine{err: tt.err}), "", "")
			rec := do(t, r, http.MethodPost, "/compare",
				`{"task_id":"T1","source_file_name":"a.pdf","target_file_name":"b.pdf"}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("body = %s", rec.Body.String())
			}
		})
	}
}

func TestClassify(t *testing.T) {
	fe := &fakeEngine{roles: classify.Result{
		classify.CommercialInvoice:        {"CI_1.xlsx"},
		classify.ExportCustomsDeclaration: {"TKX_1.xlsx", "TKX_2.xlsx"},
	}}
	r := newRouter(newHandler(fe), "", "")

	rec := do(t, r, http.MethodPost, "/classify", `{"task_id":"T9"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		TaskID string         `json:"task_id"`
		Roles  map[string]any `json:"roles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.TaskID != "T9" || resp.Roles["commercial_invoice"] != "CI_1.xlsx" {
		t.Errorf("resp = %+v", resp)
	}
	if tkx, ok := resp.Roles["export_customs_declaration"].([]any); !ok || len(tkx) != 2 {
		t.Errorf("export_customs_declaration = %v", resp.Roles["export_customs_declaration"])
	}

	rec = do(t, r, http.MethodPost, "/classify", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing task_id status = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	r := newRouter(newHandler(&fakeEngine{roles: classify.Result{}}), "secret", "")

	if rec := do(t, r, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health without key = %d", rec.Code)
	}
	if rec := do(t, r, http.MethodPost, "/classify", `{"task_id":"T1"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("classify without key = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/classify", strings.NewReader(`{"task_id":"T1"}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("classify with key = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(newHandler(&fakeEngine{}), "", "https://ops.example.com")
	req := httptest.NewRequest(http.MethodOptions, "/compare", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("allow-origin = %q", got)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DOCDIFF_WORK_DIR":         "/srv/docdiff",
		"DOCDIFF_DPI":              "300",
		"DOCDIFF_PAGE_CONCURRENCY": "bogus",
		"DOCDIFF_EXTRACTOR":        "vision",
		"DOCDIFF_VISION_PROVIDER":  "openai",
		"DOCDIFF_MINIO_BUCKET":     "docs",
		"DOCDIFF_MINIO_USE_SSL":    "true",
		"OPENAI_API_KEY":           "sk-test",
	}
	cfg := docdiff.DefaultConfig()
	applyEnv(&cfg, func(k string) string { return env[k] })

	if cfg.WorkDir != "/srv/docdiff" || cfg.DPI != 300 || cfg.PageConcurrency != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Extractor.Backend != "vision" || cfg.Vision.Provider != "openai" || cfg.Vision.APIKey != "sk-test" {
		t.Errorf("vision = %+v extractor = %+v", cfg.Vision, cfg.Extractor)
	}
	if cfg.Storage.Bucket != "docs" || !cfg.Storage.UseSSL {
		t.Errorf("storage = %+v", cfg.Storage)
	}
}
