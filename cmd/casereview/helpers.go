package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/case-review/backend/internal/app"
	"github.com/case-review/backend/internal/batch"
	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/internal/middleware/validation"
	"github.com/case-review/backend/pkg/config"
	"github.com/case-review/backend/pkg/logger"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(rootFlags.configPath)
	if err != nil {
		return nil, err
	}
	if rootFlags.devMode {
		cfg.App.DevMode = true
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDevMode(cfg.App.DevMode)
	metrics.Init()
	return cfg, nil
}

// openApp loads config and builds the pipeline. The caller closes it.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readCaseNumbers merges positional case numbers with a newline separated
// file ("-" for stdin). Blank lines and #-comments are ignored, duplicates
// dropped, order kept.
func readCaseNumbers(args []string, path string) ([]string, error) {
	raw := append([]string(nil), args...)

	if path != "" {
		var r io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open case list: %w", err)
			}
			defer f.Close()
			r = f
		}

		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read case list: %w", err)
		}
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, cn := range raw {
		cn = strings.TrimSpace(cn)
		if !validation.ValidCaseNumber(cn) {
			return nil, fmt.Errorf("invalid case number %q", cn)
		}
		if seen[cn] {
			continue
		}
		seen[cn] = true
		out = append(out, cn)
	}
	return out, nil
}

func printRunSummary(w io.Writer, run *batch.Run) {
	s := run.Snapshot()
	fmt.Fprintf(w, "run %s (%s): %d cases, %d succeeded, %d skipped, %d failed in %s\n",
		s.ID, s.Name, s.Total, len(s.Succeeded), len(s.Skipped), len(s.Failed), s.Duration.Round(time.Millisecond))
	for _, f := range s.Failed {
		fmt.Fprintf(w, "  FAILED %s: %s\n", f.CaseNumber, f.Error)
	}
}

func progressPrinter(w io.Writer) func(batch.Progress) {
	return func(p batch.Progress) {
		line := fmt.Sprintf("[%d/%d] %s %s", p.Done, p.Total, p.CaseNumber, p.Outcome)
		if p.Error != "" {
			line += ": " + p.Error
		}
		fmt.Fprintln(w, line)
	}
}
