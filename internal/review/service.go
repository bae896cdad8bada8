// Package review ties the pipeline together: it fetches a case, runs the
// analyzers, persists the result record and drives batches and aggregation.
package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/case-review/backend/internal/aggregation"
	"github.com/case-review/backend/internal/analyzer"
	"github.com/case-review/backend/internal/batch"
	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/metrics"
	"github.com/case-review/backend/internal/references"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
)

var (
	ErrNoCaseSource = errors.New("no case source configured")
	ErrNoImportSink = errors.New("no import target configured")
	ErrCaseNotFound = errors.New("case not found")
)

// CaseSource is the system of record for raw cases.
type CaseSource interface {
	GetCase(ctx context.Context, caseNumber string) (*models.Case, error)
}

// AnalysisStore keeps one analysis record per case number. Load returns
// nil, nil for an unknown case.
type AnalysisStore interface {
	Exists(ctx context.Context, caseNumber string) (bool, error)
	Save(ctx context.Context, analysis *models.CaseAnalysis) error
	Load(ctx context.Context, caseNumber string) (*models.CaseAnalysis, error)
	List(ctx context.Context) ([]*models.CaseAnalysis, error)
}

type ReferenceFetcher interface {
	FetchKB(ctx context.Context, keys []string) []models.Candidate
	FetchJIRA(ctx context.Context, keys []string) []models.Candidate
}

// ImportSink receives case snapshots copied out of the case source.
type ImportSink interface {
	CaseExists(ctx context.Context, caseNumber string) (bool, error)
	SaveCase(ctx context.Context, c *models.Case) error
}

type SummaryWriter interface {
	SaveSummary(ctx context.Context, agg *aggregation.Aggregation) (string, error)
}

type ReportStore interface {
	SaveReport(ctx context.Context, agg *aggregation.Aggregation) (string, error)
}

// ActionMapper turns a finished analysis into follow-up actions. The
// pipeline ships without one.
type ActionMapper interface {
	MapActions(ctx context.Context, c *models.Case, analysis *models.CaseAnalysis) ([]string, error)
}

type Analyzers struct {
	Issue     *analyzer.IssueAnalyzer
	Bucket    *analyzer.BucketAnalyzer
	Tags      *analyzer.TagAnalyzer
	Relevance *analyzer.RelevanceAnalyzer
}

type Deps struct {
	Cases      CaseSource
	Store      AnalysisStore
	References ReferenceFetcher
	Analyzers  Analyzers
	Summaries  SummaryWriter
	Reports    ReportStore
	ImportSink ImportSink
	Actions    ActionMapper
	Registry   *batch.Registry
	TagOptions analyzer.TagOptions
	Now        func() time.Time
}

type Service struct {
	cases      CaseSource
	store      AnalysisStore
	refs       ReferenceFetcher
	analyzers  Analyzers
	summaries  SummaryWriter
	reports    ReportStore
	importSink ImportSink
	actions    ActionMapper
	tagOptions analyzer.TagOptions
	now        func() time.Time

	orchestrator *batch.Orchestrator
	importer     *batch.Orchestrator
}

func NewService(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Registry == nil {
		deps.Registry = batch.NewRegistry()
	}

	s := &Service{
		cases:      deps.Cases,
		store:      deps.Store,
		refs:       deps.References,
		analyzers:  deps.Analyzers,
		summaries:  deps.Summaries,
		reports:    deps.Reports,
		importSink: deps.ImportSink,
		actions:    deps.Actions,
		tagOptions: deps.TagOptions,
		now:        deps.Now,
	}

	s.orchestrator = batch.NewOrchestrator(deps.Store, deps.Registry)

	var imported batch.ResultStore
	if deps.ImportSink != nil {
		imported = importExists{deps.ImportSink}
	}
	s.importer = batch.NewOrchestrator(imported, deps.Registry)

	return s
}

func (s *Service) Registry() *batch.Registry { return s.orchestrator.Registry() }

func (s *Service) fetchCase(ctx context.Context, caseNumber string) (*models.Case, error) {
	if s.cases == nil {
		return nil, ErrNoCaseSource
	}
	c, err := s.cases.GetCase(ctx, caseNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch case %s: %w", caseNumber, err)
	}
	if c == nil {
		return nil, fmt.Errorf("case %s: %w", caseNumber, ErrCaseNotFound)
	}
	return c, nil
}

// AnalyzeCase fetches, analyzes and persists one case.
func (s *Service) AnalyzeCase(ctx context.Context, caseNumber string) (*models.CaseAnalysis, error) {
	c, err := s.fetchCase(ctx, caseNumber)
	if err != nil {
		return nil, err
	}
	return s.AnalyzeCaseData(ctx, c)
}

// AnalyzeCaseData runs every analyzer over c and persists the record. Issue
// and bucket analysis are required; tag and reference failures are kept in
// the record's Errors instead of failing the case.
func (s *Service) AnalyzeCaseData(ctx context.Context, c *models.Case) (*models.CaseAnalysis, error) {
	if c == nil {
		return nil, &casecontext.MissingFieldError{Field: "case"}
	}
	if _, err := casecontext.Build(c, casecontext.KindIssue); err != nil {
		return nil, err
	}

	startTime := time.Now()
	logger.Info("Analyzing case", zap.String("case_number", c.CaseNumber))

	analysis := &models.CaseAnalysis{
		CaseNumber: c.CaseNumber,
		Subject:    c.Subject,
		Product:    c.Product,
		Errors:     map[string]string{},
	}

	var (
		mu       sync.Mutex
		g        errgroup.Group
		issue    *analyzer.Result[*models.IssueAnalysis]
		bucket   *analyzer.Result[*models.BucketVerdict]
		tags     *analyzer.Result[*models.TagValidation]
		kb, jira *analyzer.Result[*models.RelevanceVerdict]
	)

	auxFailed := func(name string, err error) {
		mu.Lock()
		analysis.Errors[name] = err.Error()
		mu.Unlock()
		logger.Warn("Auxiliary analysis failed",
			zap.String("case_number", c.CaseNumber),
			zap.String("analyzer", name),
			zap.Error(err),
		)
	}

	if s.analyzers.Issue != nil {
		g.Go(func() error {
			var err error
			issue, err = s.analyzers.Issue.Analyze(ctx, c)
			return err
		})
	}
	if s.analyzers.Bucket != nil {
		g.Go(func() error {
			var err error
			bucket, err = s.analyzers.Bucket.Bucketise(ctx, c)
			return err
		})
	}
	if s.analyzers.Tags != nil {
		g.Go(func() error {
			res, err := s.analyzers.Tags.Validate(ctx, c, s.tagOptions)
			if err != nil {
				auxFailed(analyzer.NameTags, err)
				return nil
			}
			tags = res
			return nil
		})
	}
	if s.analyzers.Relevance != nil {
		g.Go(func() error {
			res, err := s.relevance(ctx, c, references.SourceKB)
			if err != nil {
				auxFailed(references.SourceKB, err)
				return nil
			}
			kb = res
			return nil
		})
		g.Go(func() error {
			res, err := s.relevance(ctx, c, references.SourceJIRA)
			if err != nil {
				auxFailed(references.SourceJIRA, err)
				return nil
			}
			jira = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if issue != nil {
		analysis.Issue = issue.Value
		analysis.Model = issue.Model
		collect(analysis, analyzer.NameIssue, issue.Warnings, issue.Usage)
	}
	if bucket != nil {
		analysis.Bucket = bucket.Value
		if analysis.Model == "" {
			analysis.Model = bucket.Model
		}
		collect(analysis, analyzer.NameBucket, bucket.Warnings, bucket.Usage)
	}
	if tags != nil {
		analysis.Tags = tags.Value
		collect(analysis, analyzer.NameTags, tags.Warnings, tags.Usage)
	}
	if kb != nil {
		analysis.KB = kb.Value
		collect(analysis, references.SourceKB, kb.Warnings, kb.Usage)
	}
	if jira != nil {
		analysis.JIRA = jira.Value
		collect(analysis, references.SourceJIRA, jira.Warnings, jira.Usage)
	}

	rm := c.ResponseMetrics
	if rm.ResponseCount == 0 && len(c.Messages) > 0 {
		rm = casecontext.ComputeResponseMetrics(c.Messages)
	}
	analysis.ResponseMetrics = &rm

	if len(analysis.Errors) == 0 {
		analysis.Errors = nil
	}
	analysis.AnalyzedAt = s.now().UTC()

	if s.actions != nil {
		actions, err := s.actions.MapActions(ctx, c, analysis)
		if err != nil {
			analysis.Warnings = append(analysis.Warnings, "actions: "+err.Error())
		} else {
			analysis.Actions = actions
		}
	}

	if s.store != nil {
		if err := s.store.Save(ctx, analysis); err != nil {
			return nil, fmt.Errorf("failed to save analysis for case %s: %w", c.CaseNumber, err)
		}
	}

	logger.Info("Case analyzed",
		zap.String("case_number", c.CaseNumber),
		zap.Int("warnings", len(analysis.Warnings)),
		zap.Int("total_tokens", analysis.Usage.TotalTokens),
		zap.Duration("duration", time.Since(startTime)),
	)
	return analysis, nil
}

func collect(analysis *models.CaseAnalysis, name string, warnings []string, usage models.TokenUsage) {
	for _, w := range warnings {
		analysis.Warnings = append(analysis.Warnings, name+": "+w)
	}
	analysis.Usage.Add(usage)
}

func (s *Service) relevance(ctx context.Context, c *models.Case, source string) (*analyzer.Result[*models.RelevanceVerdict], error) {
	var candidates []models.Candidate
	if s.refs != nil {
		switch source {
		case references.SourceKB:
			candidates = s.refs.FetchKB(ctx, c.KBArticles)
		case references.SourceJIRA:
			candidates = s.refs.FetchJIRA(ctx, c.JiraKeys)
		}
	}
	return s.analyzers.Relevance.Evaluate(ctx, c, source, candidates, 0)
}

// BucketiseCase classifies one case without persisting anything.
func (s *Service) BucketiseCase(ctx context.Context, caseNumber string) (*analyzer.Result[*models.BucketVerdict], error) {
	if s.analyzers.Bucket == nil {
		return nil, errors.New("bucket analyzer not configured")
	}
	c, err := s.fetchCase(ctx, caseNumber)
	if err != nil {
		return nil, err
	}
	return s.analyzers.Bucket.Bucketise(ctx, c)
}

// ValidateKBRelevance scores the case's KB articles without persisting
// anything. The threshold is the relevance analyzer's configured one
// (relevance.threshold, default 40); values of zero or less in config fall
// back to that default.
func (s *Service) ValidateKBRelevance(ctx context.Context, caseNumber string) (*analyzer.Result[*models.RelevanceVerdict], error) {
	return s.validateRelevance(ctx, caseNumber, references.SourceKB)
}

// ValidateJIRARelevance is ValidateKBRelevance for linked JIRA defects.
func (s *Service) ValidateJIRARelevance(ctx context.Context, caseNumber string) (*analyzer.Result[*models.RelevanceVerdict], error) {
	return s.validateRelevance(ctx, caseNumber, references.SourceJIRA)
}

func (s *Service) validateRelevance(ctx context.Context, caseNumber, source string) (*analyzer.Result[*models.RelevanceVerdict], error) {
	if s.analyzers.Relevance == nil {
		return nil, errors.New("relevance analyzer not configured")
	}
	c, err := s.fetchCase(ctx, caseNumber)
	if err != nil {
		return nil, err
	}
	return s.relevance(ctx, c, source)
}

type BatchOptions struct {
	Concurrency int
	Force       bool
	OnProgress  func(batch.Progress)
}

func (s *Service) analysisOptions(opts BatchOptions) batch.Options {
	return batch.Options{
		Name:        "analysis",
		Concurrency: opts.Concurrency,
		Force:       opts.Force,
		OnProgress:  opts.OnProgress,
	}
}

func (s *Service) analyzeForBatch(ctx context.Context, caseNumber string) error {
	_, err := s.AnalyzeCase(ctx, caseNumber)
	return err
}

// RunBatch analyzes caseNumbers and blocks until the run finishes.
func (s *Service) RunBatch(ctx context.Context, caseNumbers []string, opts BatchOptions) *batch.Run {
	if opts.Concurrency <= 0 {
		opts.Concurrency = batch.DefaultAnalysisWindow
	}
	return s.orchestrator.Run(ctx, caseNumbers, s.analyzeForBatch, s.analysisOptions(opts))
}

// StartBatch registers a run and processes it in the background.
func (s *Service) StartBatch(caseNumbers []string, opts BatchOptions) *batch.Run {
	if opts.Concurrency <= 0 {
		opts.Concurrency = batch.DefaultAnalysisWindow
	}
	bo := s.analysisOptions(opts)
	run := s.orchestrator.Start(caseNumbers, bo)
	go s.orchestrator.Execute(context.Background(), run, caseNumbers, s.analyzeForBatch, bo)
	return run
}

type importExists struct{ sink ImportSink }

func (i importExists) Exists(ctx context.Context, caseNumber string) (bool, error) {
	return i.sink.CaseExists(ctx, caseNumber)
}

// ImportCases copies case snapshots from the case source into the import
// sink, skipping cases already imported unless force is set.
func (s *Service) ImportCases(ctx context.Context, caseNumbers []string, concurrency int, force bool) (*batch.Run, error) {
	if s.importSink == nil {
		return nil, ErrNoImportSink
	}
	if s.cases == nil {
		return nil, ErrNoCaseSource
	}
	if concurrency <= 0 {
		concurrency = batch.DefaultImportWindow
	}

	run := s.importer.Run(ctx, caseNumbers, func(ctx context.Context, caseNumber string) error {
		c, err := s.fetchCase(ctx, caseNumber)
		if err != nil {
			return err
		}
		if err := s.importSink.SaveCase(ctx, c); err != nil {
			return fmt.Errorf("failed to import case %s: %w", caseNumber, err)
		}
		metrics.CasesImported.Inc()
		return nil
	}, batch.Options{Name: "import", Concurrency: concurrency, Force: force})

	return run, nil
}

// Aggregate recomputes the cross-case summary from every stored analysis
// and persists it. Persistence failures are logged; the summary is still
// returned.
func (s *Service) Aggregate(ctx context.Context) (*aggregation.Aggregation, error) {
	var analyses []*models.CaseAnalysis
	if s.store != nil {
		var err error
		analyses, err = s.store.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list analyses: %w", err)
		}
	}

	agg := aggregation.NewEngine(s.now).Aggregate(analyses)

	if s.summaries != nil {
		if path, err := s.summaries.SaveSummary(ctx, agg); err != nil {
			logger.Warn("Failed to write aggregated summary", zap.Error(err))
		} else {
			logger.Info("Aggregated summary written", zap.String("path", path))
		}
	}
	if s.reports != nil {
		if id, err := s.reports.SaveReport(ctx, agg); err != nil {
			logger.Warn("Failed to store aggregation report", zap.Error(err))
		} else {
			logger.Info("Aggregation report stored", zap.String("report_id", id))
		}
	}

	logger.Info("Aggregation complete",
		zap.Int("cases", agg.TotalCases),
		zap.Int("clusters", len(agg.Clusters)),
	)
	return agg, nil
}
