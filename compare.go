package docdiff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/docdiff/normalize"
	"github.com/brunobiangulo/docdiff/page"
	"github.com/brunobiangulo/docdiff/storage"
	"github.com/brunobiangulo/docdiff/textdiff"
)

// renamedSuffix is inserted into the source file stem when both inputs share
// a stem, so their page images and artifact keys never collide.
const renamedSuffix = "_RENAMED"

var supportedExts = map[string]bool{
	".pdf":  true,
	".xlsx": true,
	".xlsm": true,
	".xls":  true,
}

// run carries the identity of one Compare call through its stages.
type run struct {
	taskID string
	runID  string
	dir    string
}

// pageOutcome is written by exactly one page goroutine.
type pageOutcome struct {
	artifact *ArtifactPair
	failure  *PageFailure
	report   pageReport
}

// pageReport is the per-page section of the manifest.
type pageReport struct {
	Page          int    `json:"page"`
	SourceSpans   int    `json:"source_spans"`
	TargetSpans   int    `json:"target_spans"`
	SourceDiffs   []int  `json:"source_diff_indices"`
	TargetDiffs   []int  `json:"target_diff_indices"`
	SourceImage   string `json:"source_image,omitempty"`
	TargetImage   string `json:"target_image,omitempty"`
	FailedStage   string `json:"failed_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// manifest is the JSON record persisted next to the artifacts of a run.
type manifest struct {
	*Result
	Extractor  string       `json:"extractor"`
	StartedAt  time.Time    `json:"started_at"`
	ElapsedMs  int64        `json:"elapsed_ms"`
	PageReport []pageReport `json:"page_reports"`
}

// Compare runs the full pipeline for one document pair of a task.
func (e *engine) Compare(ctx context.Context, taskID, sourceFile, targetFile string) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	for _, name := range []string{sourceFile, targetFile} {
		if err := validateFileName(name); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}
	r := run{taskID: taskID, runID: id.String()}
	r.dir = filepath.Join(e.cfg.WorkDir, taskID, r.runID)
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	if !e.cfg.KeepWorkDir {
		defer func() {
			if err := os.RemoveAll(r.dir); err != nil {
				slog.Warn("compare: removing work dir", "dir", r.dir, "error", err)
			}
		}()
	}

	slog.Info("compare: starting",
		"task_id", taskID,
		"run_id", r.runID,
		"source", sourceFile,
		"target", targetFile,
	)

	srcPages, tgtPages, err := e.normalizePair(ctx, r, sourceFile, targetFile)
	if err != nil {
		slog.Error("compare: normalization failed",
			"task_id", taskID,
			"run_id", r.runID,
			"error", err,
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return nil, err
	}
	if len(srcPages) != len(tgtPages) {
		err := &PageCountMismatchError{Source: len(srcPages), Target: len(tgtPages)}
		slog.Error("compare: page count mismatch",
			"task_id", taskID,
			"run_id", r.runID,
			"source_pages", err.Source,
			"target_pages", err.Target,
		)
		return nil, err
	}
	if len(srcPages) == 0 {
		return nil, ErrNoPages
	}

	outcomes := e.comparePages(ctx, r, srcPages, tgtPages)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		TaskID:      taskID,
		RunID:       r.runID,
		Source:      sourceFile,
		Target:      targetFile,
		Pages:       len(outcomes),
		Artifacts:   []ArtifactPair{},
		FailedPages: []PageFailure{},
	}
	reports := make([]pageReport, len(outcomes))
	for i, o := range outcomes {
		if o.artifact != nil {
			res.Artifacts = append(res.Artifacts, *o.artifact)
		} else {
			res.FailedPages = append(res.FailedPages, *o.failure)
		}
		reports[i] = o.report
	}

	name := manifestName(sourceFile, targetFile)
	key, err := e.publisher.PublishJSON(ctx, taskID, name, manifest{
		Result:     res,
		Extractor:  e.extractor.Name(),
		StartedAt:  start.UTC(),
		ElapsedMs:  time.Since(start).Milliseconds(),
		PageReport: reports,
	})
	if err != nil {
		slog.Warn("compare: saving manifest", "task_id", taskID, "run_id", r.runID, "error", err)
	} else {
		res.ManifestKey = key
	}

	slog.Info("compare: done",
		"task_id", taskID,
		"run_id", r.runID,
		"pages", res.Pages,
		"artifacts", len(res.Artifacts),
		"failed", len(res.FailedPages),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// normalizePair downloads both inputs and turns each into page images. The
// two sides run concurrently in separate directories.
func (e *engine) normalizePair(ctx context.Context, r run, sourceFile, targetFile string) ([]page.Image, []page.Image, error) {
	srcLocal, tgtLocal := localNames(sourceFile, targetFile)
	if srcLocal != sourceFile {
		slog.Info("compare: source renamed to avoid stem collision",
			"task_id", r.taskID,
			"run_id", r.runID,
			"from", sourceFile,
			"to", srcLocal,
		)
	}

	var srcPages, tgtPages []page.Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pages, err := e.prepareSide(gctx, r, page.Source, sourceFile, srcLocal)
		srcPages = pages
		return err
	})
	g.Go(func() error {
		pages, err := e.prepareSide(gctx, r, page.Target, targetFile, tgtLocal)
		tgtPages = pages
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return srcPages, tgtPages, nil
}

func (e *engine) prepareSide(ctx context.Context, r run, side page.Side, name, local string) ([]page.Image, error) {
	start := time.Now()
	key := storage.Key(r.taskID, name)
	dst := filepath.Join(r.dir, string(side), local)
	if _, err := storage.DownloadAs(ctx, e.store, key, dst); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
		}
		return nil, fmt.Errorf("downloading %s: %w", key, err)
	}

	pdfPath := dst
	if normalize.IsSpreadsheet(dst) {
		converted, err := e.converter.ConvertToPDF(ctx, dst)
		if err != nil {
			return nil, err
		}
		pdfPath = converted
	}

	pages, err := e.raster.Rasterize(ctx, pdfPath, side)
	if err != nil {
		return nil, err
	}
	slog.Info("compare: side normalized",
		"task_id", r.taskID,
		"run_id", r.runID,
		"side", side,
		"file", name,
		"pages", len(pages),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return pages, nil
}

// comparePages processes every page in its own goroutine. A slow or failing
// page never holds up the others; each goroutine writes only its own slot.
func (e *engine) comparePages(ctx context.Context, r run, src, tgt []page.Image) []pageOutcome {
	outcomes := make([]pageOutcome, len(src))

	var limit chan struct{}
	if e.cfg.PageConcurrency > 0 {
		limit = make(chan struct{}, e.cfg.PageConcurrency)
	}

	var wg sync.WaitGroup
	for i := range src {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if limit != nil {
				select {
				case limit <- struct{}{}:
					defer func() { <-limit }()
				case <-ctx.Done():
					outcomes[i] = failed(i+1, StageExtract, ctx.Err(), pageReport{Page: i + 1})
					return
				}
			}
			outcomes[i] = e.comparePage(ctx, r, src[i], tgt[i])
		}(i)
	}
	wg.Wait()
	return outcomes
}

func (e *engine) comparePage(ctx context.Context, r run, src, tgt page.Image) (out pageOutcome) {
	num := src.Number()
	stage := StageExtract
	report := pageReport{Page: num}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("compare: page panicked",
				"task_id", r.taskID,
				"run_id", r.runID,
				"page", num,
				"stage", stage,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			out = failed(num, stage, fmt.Errorf("panic: %v", rec), report)
		}
		if out.failure != nil {
			slog.Warn("compare: page failed",
				"task_id", r.taskID,
				"run_id", r.runID,
				"page", num,
				"stage", out.failure.Stage,
				"error", out.failure.Reason,
			)
		}
	}()

	// Extract both sides.
	var srcSpans, tgtSpans []page.Span
	g, gctx := errgroup.WithContext(ctx)
	g.Go(protect(func() (err error) {
		srcSpans, err = e.extractor.Extract(gctx, src)
		return err
	}))
	g.Go(protect(func() (err error) {
		tgtSpans, err = e.extractor.Extract(gctx, tgt)
		return err
	}))
	if err := g.Wait(); err != nil {
		return failed(num, stage, err, report)
	}
	report.SourceSpans, report.TargetSpans = len(srcSpans), len(tgtSpans)

	stage = StageDiff
	srcIdx, tgtIdx := textdiff.Diff(srcSpans, tgtSpans)
	report.SourceDiffs, report.TargetDiffs = srcIdx, tgtIdx

	stage = StageAnnotate
	var srcOut, tgtOut string
	g, gctx = errgroup.WithContext(ctx)
	g.Go(protect(func() (err error) {
		srcOut, err = e.annotateCPU(gctx, src, srcSpans, srcIdx)
		return err
	}))
	g.Go(protect(func() (err error) {
		tgtOut, err = e.annotateCPU(gctx, tgt, tgtSpans, tgtIdx)
		return err
	}))
	if err := g.Wait(); err != nil {
		return failed(num, stage, err, report)
	}

	stage = StagePublish
	var pair ArtifactPair
	pair.Page = num
	g, gctx = errgroup.WithContext(ctx)
	g.Go(protect(func() (err error) {
		pair.SourceImage, err = e.publisher.Publish(gctx, r.taskID, srcOut)
		return err
	}))
	g.Go(protect(func() (err error) {
		pair.TargetImage, err = e.publisher.Publish(gctx, r.taskID, tgtOut)
		return err
	}))
	if err := g.Wait(); err != nil {
		return failed(num, stage, err, report)
	}
	report.SourceImage, report.TargetImage = pair.SourceImage, pair.TargetImage

	slog.Debug("compare: page done",
		"task_id", r.taskID,
		"run_id", r.runID,
		"page", num,
		"source_diffs", len(srcIdx),
		"target_diffs", len(tgtIdx),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return pageOutcome{artifact: &pair, report: report}
}

func (e *engine) annotateCPU(ctx context.Context, img page.Image, spans []page.Span, idx []int) (string, error) {
	if err := e.cpu.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer e.cpu.Release(1)
	return e.annotator.Annotate(img, spans, idx)
}

// protect turns a panic in a page's side goroutine into an error, so it is
// recorded against the page instead of crashing the process.
func protect(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("compare: side panicked", "panic", rec, "stack", string(debug.Stack()))
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		return fn()
	}
}

func failed(num int, stage string, err error, report pageReport) pageOutcome {
	report.FailedStage = stage
	report.FailureReason = err.Error()
	return pageOutcome{
		failure: &PageFailure{Page: num, Stage: stage, Reason: err.Error(), Err: err},
		report:  report,
	}
}

// localNames returns the names the two inputs are saved under. When both
// share a stem the source becomes <stem>_RENAMED<ext>.
func localNames(source, target string) (string, string) {
	if stem(source) != stem(target) {
		return source, target
	}
	return stem(source) + renamedSuffix + filepath.Ext(source), target
}

func manifestName(source, target string) string {
	return fmt.Sprintf("%s_vs_%s_manifest.json", stem(source), stem(target))
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func validateTaskID(taskID string) error {
	switch {
	case strings.TrimSpace(taskID) == "":
		return fmt.Errorf("%w: task id is empty", ErrInvalidTask)
	case taskID != strings.TrimSpace(taskID):
		return fmt.Errorf("%w: task id %q has surrounding whitespace", ErrInvalidTask, taskID)
	case strings.ContainsAny(taskID, `/\`) || taskID == "." || taskID == "..":
		return fmt.Errorf("%w: task id %q must be a single path segment", ErrInvalidTask, taskID)
	}
	return nil
}

func validateFileName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: file name is empty", ErrInvalidTask)
	case strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		return fmt.Errorf("%w: file name %q must be a base name", ErrInvalidTask, name)
	}
	if ext := strings.ToLower(filepath.Ext(name)); !supportedExts[ext] {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return nil
}
