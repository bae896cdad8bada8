// Package analyzer runs the per-case LLM analyses. Every analyzer builds a
// bounded context, prompts the model once, parses the reply against a schema
// and returns a typed verdict, or an *Error and nothing else.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/case-review/backend/internal/llm"
	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/internal/response"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
)

const (
	NameIssue     = "issue"
	NameBucket    = "bucket"
	NameTags      = "tags"
	NameRelevance = "relevance"
)

// Completer is the subset of the LLM client the analyzers need.
type Completer interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Error is returned for any analyzer failure. Cause keeps the original
// client, parser or context error for errors.Is / errors.As.
type Error struct {
	Analyzer   string
	CaseNumber string
	Cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s analysis failed for case %s: %v", e.Analyzer, e.CaseNumber, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Settings are the per-call LLM knobs for one analyzer.
type Settings struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Result wraps a verdict with what was learned producing it.
type Result[T any] struct {
	Value    T
	Warnings []string
	Usage    models.TokenUsage
	Model    string
	Method   response.Method
}

func (r *Result[T]) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

type call struct {
	analyzer   string
	caseNumber string
	system     string
	user       string
	schema     *response.Schema
	out        any
}

// invoke prompts the model and parses the reply into c.out. The returned
// Parsed still carries schema violations; callers choose strict or relaxed.
func invoke(ctx context.Context, completer Completer, settings Settings, c call) (*response.Parsed, *llm.Response, error) {
	start := time.Now()
	defer func() {
		metrics.AnalysisDuration.WithLabelValues(c.analyzer).Observe(time.Since(start).Seconds())
	}()

	resp, err := completer.Invoke(ctx, llm.Request{
		Model:        settings.Model,
		SystemPrompt: c.system,
		UserPrompt:   c.user,
		MaxTokens:    settings.MaxTokens,
		Temperature:  settings.Temperature,
	})
	if err != nil {
		return nil, nil, err
	}

	parsed, err := response.Parse(resp.Text, c.schema, c.out)
	if err != nil {
		logger.Warn("Unparsable LLM response",
			zap.String("analyzer", c.analyzer),
			zap.String("case_number", c.caseNumber),
			zap.Int("response_length", len(resp.Text)),
		)
		return nil, resp, err
	}
	metrics.ParseMethod.WithLabelValues(string(parsed.Method)).Inc()

	return parsed, resp, nil
}

func fail(analyzer, caseNumber string, cause error) error {
	metrics.AnalysisTotal.WithLabelValues(analyzer, "failed").Inc()
	return &Error{Analyzer: analyzer, CaseNumber: caseNumber, Cause: cause}
}

func succeed[T any](analyzer, caseNumber string, r *Result[T]) *Result[T] {
	metrics.AnalysisTotal.WithLabelValues(analyzer, "succeeded").Inc()
	if len(r.Warnings) > 0 {
		metrics.ValidationWarnings.WithLabelValues(analyzer).Add(float64(len(r.Warnings)))
		logger.Warn("Analysis completed with warnings",
			zap.String("analyzer", analyzer),
			zap.String("case_number", caseNumber),
			zap.Strings("warnings", r.Warnings),
		)
	}
	return r
}

func usageOf(resp *llm.Response) models.TokenUsage {
	if resp == nil {
		return models.TokenUsage{}
	}
	return models.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampInt(v, lo, hi int) (int, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

func clampFloat(v, lo, hi float64) (float64, bool) {
	if v < lo {
		return lo, true
	}
	if v > hi {
		return hi, true
	}
	return v, false
}

func confidenceSet() []string {
	return []string{string(models.ConfidenceHigh), string(models.ConfidenceMedium), string(models.ConfidenceLow)}
}
