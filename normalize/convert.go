// Package normalize turns input documents into cropped page images:
// spreadsheets are converted to PDF by a headless office suite, PDFs are
// rasterized page by page and each page is trimmed of its blank margins.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// DefaultConvertTimeout bounds a single converter invocation.
const DefaultConvertTimeout = 60 * time.Second

// waitDelay bounds how long Wait blocks on a killed process's output pipes.
const waitDelay = 2 * time.Second

// profileDirName is the per-conversion LibreOffice profile, created inside
// the output directory and removed when the conversion returns.
const profileDirName = ".lo-profile"

// Converter converts office documents to PDF with a headless LibreOffice.
type Converter struct {
	Binary  string        // defaults to "soffice"
	Timeout time.Duration // defaults to DefaultConvertTimeout
}

// IsSpreadsheet reports whether path has a spreadsheet extension.
func IsSpreadsheet(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return false
}

// ConvertToPDF converts path into <dir>/<stem>.pdf next to the input and
// returns the PDF path. A non-zero exit, a timeout or a missing output file
// is reported as a *ConversionError.
func (c *Converter) ConvertToPDF(ctx context.Context, path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", &ConversionError{Op: "convert", Path: path, Err: err}
	}

	if IsSpreadsheet(path) {
		if err := preflightWorkbook(path); err != nil {
			return "", &ConversionError{Op: "convert", Path: path, Err: err}
		}
	}

	binary := c.Binary
	if binary == "" {
		binary = "soffice"
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultConvertTimeout
	}

	outDir := filepath.Dir(path)
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pdfPath := filepath.Join(outDir, stem+".pdf")

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Concurrent soffice processes sharing a profile block on its lock file.
	profile, err := profileDir(outDir)
	if err != nil {
		return "", &ConversionError{Op: "convert", Path: path, Err: err}
	}
	defer os.RemoveAll(profile)

	cmd := exec.CommandContext(cctx, binary,
		"-env:UserInstallation=file://"+filepath.ToSlash(profile),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	killProcessGroup(cmd)

	start := time.Now()
	slog.Info("normalize: converting to pdf", "file", filepath.Base(path), "binary", binary)

	if err := cmd.Run(); err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return "", &ConversionError{
				Op: "convert", Path: path,
				Reason: fmt.Sprintf("timed out after %s", timeout),
				Err:    context.DeadlineExceeded,
			}
		}
		return "", &ConversionError{
			Op: "convert", Path: path,
			Reason: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
	}

	if _, err := os.Stat(pdfPath); err != nil {
		return "", &ConversionError{Op: "convert", Path: path, Reason: "converter produced no pdf", Err: err}
	}

	slog.Info("normalize: conversion complete",
		"file", filepath.Base(path), "pdf", filepath.Base(pdfPath),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return pdfPath, nil
}

// preflightWorkbook rejects workbooks with no data before paying for a
// converter run. Legacy .xls files cannot be opened by excelize and are
// left to the converter.
func preflightWorkbook(path string) error {
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	filled := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		if len(rows) > 0 {
			filled++
		}
	}
	if filled == 0 {
		return fmt.Errorf("no data found in workbook")
	}
	return nil
}

func profileDir(outDir string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(outDir, profileDirName))
	if err != nil {
		return "", fmt.Errorf("resolving profile dir: %w", err)
	}
	return abs, nil
}
