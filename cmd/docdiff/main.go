// Command docdiff runs one comparison operation against a task and prints
// the outcome as JSON.
//
// Usage:
//
//	docdiff classify -task T123
//	docdiff compare -task T123 -source CI_v1.xlsx -target CI_v2.xlsx
//	docdiff load -task T123
//
// Every subcommand accepts -config (YAML or JSON) and -extractor
// (tesseract or vision) to override the configured backend.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/brunobiangulo/docdiff"
	_ "github.com/brunobiangulo/docdiff/extract/tesseract"
)

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		var mismatch *docdiff.PageCountMismatchError
		if errors.As(err, &mismatch) {
			slog.Error("documents are not comparable", "source_pages", mismatch.Source, "target_pages", mismatch.Target)
		} else {
			slog.Error("docdiff failed", "command", os.Args[1], "error", err)
		}
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: docdiff <classify|compare|load> -task ID [flags]")
}

func run(ctx context.Context, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "classify", "compare", "load":
	default:
		usage(os.Stderr)
		return fmt.Errorf("unknown command %q", cmd)
	}

	fs :=flag.NewFlagSet(cmd, flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "Path to config file (YAML or JSON)")
		taskID     = fs.String("task", "", "Task ID")
		source     = fs.String("source", "", "Source file name (compare)")
		target     = fs.String("target", "", "Target file name (compare)")
		extractor  = fs.String("extractor", "", "Extractor backend override: tesseract or vision")
		verbose    = fs.Bool("v", false, "Debug logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *taskID == "" {
		return fmt.Errorf("%w: -task is required", docdiff.ErrInvalidTask)
	}
	if cmd == "compare" && (*source == "" || *target == "") {
		return fmt.Errorf("%w: -source and -target are required", docdiff.ErrInvalidTask)
	}

	cfg := docdiff.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = docdiff.LoadConfig(*configPath); err != nil {
			return err
		}
	}
	if *extractor != "" {
		cfg.Extractor.Backend = *extractor
	}

	engine, err := docdiff.New(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	var result any
	switch cmd {
	case "classify":
		result, err = engine.Classify(ctx, *taskID)
	case "compare":
		result, err = engine.Compare(ctx, *taskID, *source, *target)
	case "load":
		var dir string
		dir, err = engine.LoadDocumentSet(ctx, *taskID)
		result = map[string]string{"task_id": *taskID, "dir": dir}
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
