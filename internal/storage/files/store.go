// Package files persists analysis results and the aggregated summary as JSON
// artifacts in a single output directory.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/case-review/backend/internal/aggregation"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
	"github.com/case-review/backend/pkg/utils"
)

const (
	analysisPrefix = "analysis_"
	SummaryFile    = "aggregated_summary.json"
)

type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// AnalysisPath is analysis_<case number without leading zeros>.json.
func (s *Store) AnalysisPath(caseNumber string) string {
	return filepath.Join(s.dir, analysisPrefix+utils.ShortCaseNumber(caseNumber)+".json")
}

func (s *Store) Exists(_ context.Context, caseNumber string) (bool, error) {
	_, err := os.Stat(s.AnalysisPath(caseNumber))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *Store) Save(_ context.Context, analysis *models.CaseAnalysis) error {
	if analysis == nil || analysis.CaseNumber == "" {
		return fmt.Errorf("analysis has no case number")
	}
	return s.writeJSON(s.AnalysisPath(analysis.CaseNumber), analysis)
}

// Load returns nil, nil when no artifact exists for the case.
func (s *Store) Load(_ context.Context, caseNumber string) (*models.CaseAnalysis, error) {
	data, err := os.ReadFile(s.AnalysisPath(caseNumber))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var a models.CaseAnalysis
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(s.AnalysisPath(caseNumber)), err)
	}
	return &a, nil
}

// List reads every analysis artifact. Unreadable files are logged and skipped.
func (s *Store) List(_ context.Context) ([]*models.CaseAnalysis, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, analysisPrefix+"*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	out := make([]*models.CaseAnalysis, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("Skipping unreadable analysis", zap.String("path", path), zap.Error(err))
			continue
		}
		var a models.CaseAnalysis
		if err := json.Unmarshal(data, &a); err != nil {
			logger.Warn("Skipping malformed analysis", zap.String("path", path), zap.Error(err))
			continue
		}
		if strings.TrimSpace(a.CaseNumber) == "" {
			a.CaseNumber = strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), analysisPrefix), ".json")
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *Store) SaveSummary(_ context.Context, agg *aggregation.Aggregation) (string, error) {
	path := filepath.Join(s.dir, SummaryFile)
	if err := s.writeJSON(path, agg); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) LoadSummary(_ context.Context) (*aggregation.Aggregation, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, SummaryFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var agg aggregation.Aggregation
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &agg, nil
}

// writeJSON goes through a temp file so readers never see a partial artifact.
func (s *Store) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
