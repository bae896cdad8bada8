package analyzer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/response"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
)

var (
	SeverityLevels    = []string{"critical", "high", "medium", "low"}
	ComplexityLevels  = []string{"simple", "moderate", "complex"}
	CustomerSentiment = []string{"positive", "neutral", "negative", "mixed"}
	FrustrationLevels = []string{"none", "low", "medium", "high"}
	SatisfactionLevel = []string{"satisfied", "neutral", "dissatisfied", "unknown"}
	SupportTones      = []string{"professional", "friendly", "neutral", "defensive", "dismissive"}
	QualityLevels     = []string{"high", "medium", "low"}
)

const issueSystemPrompt = `You are an expert support quality analyst. Analyze the support case and produce a structured review.

Scoring: every quality score is an integer from 1 (very poor) to 10 (excellent) with a one-sentence reasoning.
metadata.confidence_score is a number from 0.0 to 1.0.

Allowed values:
- tags.severity: %s
- tags.complexity: %s
- sentiment.customer.overall: %s
- sentiment.customer.frustration_level: %s
- sentiment.customer.satisfaction: %s
- sentiment.support.tone: %s
- sentiment.support.empathy and sentiment.support.professionalism: %s

Respond with JSON only:
{
  "issue_summary": {"title": "", "description": "", "root_cause": "", "resolution": ""},
  "tags": {"category": "", "subcategory": "", "product_areas": [], "issue_type": "", "severity": "", "complexity": ""},
  "quality_scores": {
    "response_time": {"score": 0, "reasoning": ""},
    "technical_accuracy": {"score": 0, "reasoning": ""},
    "communication": {"score": 0, "reasoning": ""},
    "resolution_quality": {"score": 0, "reasoning": ""},
    "customer_satisfaction": {"score": 0, "reasoning": ""},
    "overall": 0
  },
  "sentiment": {
    "customer": {"overall": "", "frustration_level": "", "satisfaction": ""},
    "support": {"tone": "", "empathy": "", "professionalism": ""}
  },
  "clustering_features": {"primary_topic": "", "secondary_topics": [], "keywords": []},
  "actionable_insights": {"key_learnings": [], "improvement_areas": [], "kb_candidate": false},
  "metadata": {"confidence_score": 0.0, "requires_human_review": false, "review_reasons": []}
}`

const issueUserPrompt = `Analyze this support case.

Case context:
%s`

var issueSchema = &response.Schema{
	Required: []string{
		"issue_summary.title",
		"quality_scores",
		"clustering_features.primary_topic",
	},
	Enums: map[string][]string{
		"tags.severity":                        SeverityLevels,
		"tags.complexity":                      ComplexityLevels,
		"sentiment.customer.overall":           CustomerSentiment,
		"sentiment.customer.frustration_level": FrustrationLevels,
		"sentiment.customer.satisfaction":      SatisfactionLevel,
		"sentiment.support.tone":               SupportTones,
		"sentiment.support.empathy":            QualityLevels,
		"sentiment.support.professionalism":    QualityLevels,
	},
	Ranges: map[string]response.Range{
		"quality_scores.response_time.score":         {Min: 1, Max: 10},
		"quality_scores.technical_accuracy.score":    {Min: 1, Max: 10},
		"quality_scores.communication.score":         {Min: 1, Max: 10},
		"quality_scores.resolution_quality.score":    {Min: 1, Max: 10},
		"quality_scores.customer_satisfaction.score": {Min: 1, Max: 10},
		"metadata.confidence_score":                  {Min: 0, Max: 1},
	},
}

type IssueAnalyzer struct {
	llm      Completer
	settings Settings
}

func NewIssueAnalyzer(completer Completer, settings Settings) *IssueAnalyzer {
	return &IssueAnalyzer{llm: completer, settings: settings}
}

// Analyze produces the full issue and quality review of a case. Schema
// violations become warnings and out-of-range values are clamped.
func (a *IssueAnalyzer) Analyze(ctx context.Context, c *models.Case) (*Result[*models.IssueAnalysis], error) {
	caseNumber := caseNumberOf(c)

	cctx, err := casecontext.Build(c, casecontext.KindIssue)
	if err != nil {
		return nil, fail(NameIssue, caseNumber, err)
	}

	var analysis models.IssueAnalysis
	parsed, resp, err := invoke(ctx, a.llm, a.settings, call{
		analyzer:   NameIssue,
		caseNumber: caseNumber,
		system: fmt.Sprintf(issueSystemPrompt,
			strings.Join(SeverityLevels, ", "),
			strings.Join(ComplexityLevels, ", "),
			strings.Join(CustomerSentiment, ", "),
			strings.Join(FrustrationLevels, ", "),
			strings.Join(SatisfactionLevel, ", "),
			strings.Join(SupportTones, ", "),
			strings.Join(QualityLevels, ", "),
		),
		user:   fmt.Sprintf(issueUserPrompt, cctx.JSON()),
		schema: issueSchema,
		out:    &analysis,
	})
	if err != nil {
		return nil, fail(NameIssue, caseNumber, err)
	}

	result := &Result[*models.IssueAnalysis]{
		Value:  &analysis,
		Usage:  usageOf(resp),
		Model:  resp.Model,
		Method: parsed.Method,
	}
	for _, v := range parsed.Violations {
		result.warn("%s", v)
	}
	normalizeIssue(&analysis, result)

	logger.Info("Case analyzed",
		zap.String("case_number", caseNumber),
		zap.String("primary_topic", analysis.Clustering.PrimaryTopic),
		zap.Float64("overall_score", analysis.QualityScores.Overall),
		zap.Int("warnings", len(result.Warnings)),
	)
	return succeed(NameIssue, caseNumber, result), nil
}

func normalizeIssue(a *models.IssueAnalysis, result *Result[*models.IssueAnalysis]) {
	q := &a.QualityScores

	clampSub := func(name string, s *models.ScoredReason) int {
		v, changed := clampInt(s.Score, 1, 10)
		if changed {
			result.warn("quality_scores.%s.score %d clamped to %d", name, s.Score, v)
			s.Score = v
		}
		return v
	}

	total := clampSub("response_time", &q.ResponseTime) +
		clampSub("technical_accuracy", &q.TechnicalAccuracy) +
		clampSub("communication", &q.Communication) +
		clampSub("resolution_quality", &q.ResolutionQuality) +
		clampSub("customer_satisfaction", &q.CustomerSatisfaction)

	if q.Overall == 0 {
		q.Overall = round1(float64(total) / 5)
	} else if v, changed := clampFloat(q.Overall, 1, 10); changed {
		result.warn("quality_scores.overall %v clamped to %v", q.Overall, v)
		q.Overall = v
	}

	if v, changed := clampFloat(a.Metadata.ConfidenceScore, 0, 1); changed {
		a.Metadata.ConfidenceScore = v
	}

	a.Tags.Severity = lowerIn(a.Tags.Severity, SeverityLevels)
	a.Tags.Complexity = lowerIn(a.Tags.Complexity, ComplexityLevels)
	a.Sentiment.Customer.Overall = lowerIn(a.Sentiment.Customer.Overall, CustomerSentiment)
	a.Sentiment.Customer.Frustration = lowerIn(a.Sentiment.Customer.Frustration, FrustrationLevels)
	a.Sentiment.Customer.Satisfaction = lowerIn(a.Sentiment.Customer.Satisfaction, SatisfactionLevel)
	a.Sentiment.Support.Tone = lowerIn(a.Sentiment.Support.Tone, SupportTones)
	a.Sentiment.Support.Empathy = lowerIn(a.Sentiment.Support.Empathy, QualityLevels)
	a.Sentiment.Support.Professionalism = lowerIn(a.Sentiment.Support.Professionalism, QualityLevels)

	a.Clustering.PrimaryTopic = strings.TrimSpace(a.Clustering.PrimaryTopic)
	if a.Metadata.ConfidenceScore < 0.5 && !a.Metadata.RequiresHumanReview {
		a.Metadata.RequiresHumanReview = true
		a.Metadata.ReviewReasons = append(a.Metadata.ReviewReasons, "low model confidence")
	}
}

// lowerIn returns the set's spelling of v when it is a member, v unchanged
// otherwise.
func lowerIn(v string, set []string) string {
	trimmed := strings.TrimSpace(v)
	for _, s := range set {
		if strings.EqualFold(s, trimmed) {
			return s
		}
	}
	return v
}
