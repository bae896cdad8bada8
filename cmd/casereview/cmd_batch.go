package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/case-review/backend/internal/app"
	"github.com/case-review/backend/internal/review"
	"github.com/case-review/backend/internal/storage/sqlite"
)

type selectionFlags struct {
	file        string
	all         bool
	product     string
	closedOnly  bool
	closedAfter string
	limit       int
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVarP(&f.file, "file", "f", "", "File with one case number per line (- for stdin)")
	fs.BoolVar(&f.all, "all", false, "Select cases from the case store instead of listing them")
	fs.StringVar(&f.product, "product", "", "With --all: only cases for this product")
	fs.BoolVar(&f.closedOnly, "closed-only", true, "With --all: only closed cases")
	fs.StringVar(&f.closedAfter, "closed-after", "", "With --all: only cases closed on or after this date (YYYY-MM-DD)")
	fs.IntVar(&f.limit, "limit", 0, "With --all: maximum number of cases")
}

// resolve returns the case numbers the command should process.
func (f *selectionFlags) resolve(ctx context.Context, a *app.App, args []string) ([]string, error) {
	if !f.all {
		caseNumbers, err := readCaseNumbers(args, f.file)
		if err != nil {
			return nil, err
		}
		if len(caseNumbers) == 0 {
			return nil, fmt.Errorf("no case numbers given (pass them as arguments, with --file, or use --all)")
		}
		return caseNumbers, nil
	}

	filter, err := f.filter()
	if err != nil {
		return nil, err
	}
	return a.Cases.ListCaseNumbers(ctx, filter)
}

func (f *selectionFlags) filter() (sqlite.CaseFilter, error) {
	filter := sqlite.CaseFilter{
		Product:    f.product,
		ClosedOnly: f.closedOnly,
		Limit:      f.limit,
	}
	if f.closedAfter != "" {
		t, err := time.Parse("2006-01-02", f.closedAfter)
		if err != nil {
			return filter, fmt.Errorf("invalid --closed-after: %w", err)
		}
		filter.ClosedAfter = &t
	}
	return filter, nil
}

var batchFlags struct {
	selection   selectionFlags
	force       bool
	concurrency int
}

var batchCmd = &cobra.Command{
	Use:   "batch [case-number...]",
	Short: "Analyze many cases in fixed-size windows",
	Long: `Analyze a list of cases, a few at a time. Cases that already have a stored
analysis are skipped unless --force is given. One failing case never stops
the batch; failures are listed at the end.

Usage:
  casereview batch 00123 00124 00125
  casereview batch --file cases.txt --concurrency 5
  casereview batch --all --product AOS --closed-after 2024-01-01`,
	RunE: runBatch,
}

func init() {
	batchFlags.selection.register(batchCmd)
	f := batchCmd.Flags()
	f.BoolVar(&batchFlags.force, "force", false, "Re-analyze cases that already have a stored result")
	f.IntVarP(&batchFlags.concurrency, "concurrency", "c", 0, "Cases per window (default: batch.concurrency from config)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	caseNumbers, err := batchFlags.selection.resolve(ctx, a, args)
	if err != nil {
		return err
	}

	concurrency := batchFlags.concurrency
	if concurrency <= 0 {
		concurrency = a.Config.Batch.Concurrency
	}

	run := a.Service.RunBatch(ctx, caseNumbers, review.BatchOptions{
		Concurrency: concurrency,
		Force:       batchFlags.force || a.Config.Batch.ForceReanalyze,
		OnProgress:  progressPrinter(os.Stderr),
	})

	printRunSummary(os.Stdout, run)
	if n := len(run.Snapshot().Failed); n > 0 {
		return fmt.Errorf("%d of %d cases failed", n, len(caseNumbers))
	}
	return nil
}

var importFlags struct {
	selection   selectionFlags
	force       bool
	concurrency int
}

var importCmd = &cobra.Command{
	Use:   "import [case-number...]",
	Short: "Copy case snapshots from the case store into the document store",
	RunE:  runImport,
}

func init() {
	importFlags.selection.register(importCmd)
	f := importCmd.Flags()
	f.BoolVar(&importFlags.force, "force", false, "Re-import cases that already have a snapshot")
	f.IntVarP(&importFlags.concurrency, "concurrency", "c", 0, "Cases per window (default: batch.importConcurrency from config)")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	caseNumbers, err := importFlags.selection.resolve(ctx, a, args)
	if err != nil {
		return err
	}

	concurrency := importFlags.concurrency
	if concurrency <= 0 {
		concurrency = a.Config.Batch.ImportConcurrency
	}

	run, err := a.Service.ImportCases(ctx, caseNumbers, concurrency, importFlags.force)
	if err != nil {
		return err
	}

	printRunSummary(os.Stdout, run)
	if n := len(run.Snapshot().Failed); n > 0 {
		return fmt.Errorf("%d of %d cases failed to import", n, len(caseNumbers))
	}
	return nil
}
