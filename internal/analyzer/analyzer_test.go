package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/llm"
	"github.com/case-review/backend/internal/response"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/internal/vocabulary"
)

type fakeCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Invoke(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) == 0 {
		return nil, llm.ErrEmptyResponse
	}
	text := f.replies[0]
	f.replies = f.replies[1:]
	return &llm.Response{Text: text, Model: "fake", Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testCase() *models.Case {
	base := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	return &models.Case{
		CaseNumber:      "00098765",
		Subject:         "VM migration fails between AHV hosts",
		Description:     "Live migration of VMs fails with a network timeout.",
		Product:         "AHV",
		Status:          "Closed",
		OpenTags:        []string{"Prism Central-PC Mgmt"},
		CloseTags:       []string{"AHV Networking"},
		ResolutionNotes: "Root cause was ENG-4521 in the vswitch. Applied the hotfix from ENG-4521 and migration succeeded.",
		JiraKeys:        []string{"ENG-4521"},
		Messages: []models.Message{
			{Direction: models.DirectionInbound, Timestamp: base, Content: "Migration broken"},
			{Direction: models.DirectionOutbound, Timestamp: base.Add(time.Hour), Content: "Looking into it"},
		},
	}
}

func TestCategoryIDsRoundTrip(t *testing.T) {
	require.Len(t, Categories, 12)
	require.Len(t, PriorityOrder, 12)
	for i, name := range Categories {
		id := CategoryIDs[name]
		assert.Equal(t, i+1, id)
		assert.Equal(t, name, CategoryNames[id])
		assert.NoError(t, CheckCategory(name, id))
	}
	assert.ElementsMatch(t, Categories, PriorityOrder)
	assert.Equal(t, CategoryRCANotDone, PriorityOrder[len(PriorityOrder)-1])

	assert.Error(t, CheckCategory(CategoryBug, 2))
	assert.Error(t, CheckCategory("Cosmic Rays", 1))
	assert.NoError(t, CheckCategory("bug", 1))
}

func TestBucketiseAcceptsConsistentVerdict(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"```json\n" +
		`{"category": "Bug", "categoryId": 1, "confidence": "High", "reasoning": "Hotfix for ENG-4521 applied", "evidence": ["Applied the hotfix from ENG-4521"]}` +
		"\n```"}}
	a := NewBucketAnalyzer(fc, Settings{Model: "m", Temperature: 0.1, MaxTokens: 500})

	res, err := a.Bucketise(context.Background(), testCase())
	require.NoError(t, err)

	assert.Equal(t, CategoryBug, res.Value.Category)
	assert.Equal(t, 1, res.Value.CategoryID)
	assert.Equal(t, models.ConfidenceHigh, res.Value.Confidence)
	assert.Equal(t, response.MethodFenced, res.Method)
	assert.Equal(t, 15, res.Usage.TotalTokens)
	assert.Empty(t, res.Warnings)

	require.Len(t, fc.requests, 1)
	req := fc.requests[0]
	assert.Equal(t, "m", req.Model)
	assert.Equal(t, 500, req.MaxTokens)
	assert.Contains(t, req.SystemPrompt, "Bug > Non-Nutanix Error > Improvement")
	assert.Contains(t, req.UserPrompt, "ENG-4521")
}

func TestBucketiseRejectsIDMismatch(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"category": "Bug", "categoryId": 2, "confidence": "medium", "reasoning": "r"}`}}
	_, err := NewBucketAnalyzer(fc, Settings{}).Bucketise(context.Background(), testCase())

	var ae *Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, NameBucket, ae.Analyzer)
	assert.Equal(t, "00098765", ae.CaseNumber)

	var ve *response.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Violations[0], "categoryId 2")
}

func TestBucketiseRejectsHighConfidenceWithoutEvidence(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"category": "Bug", "categoryId": 1, "confidence": "high", "reasoning": "r", "evidence": []}`}}
	_, err := NewBucketAnalyzer(fc, Settings{}).Bucketise(context.Background(), testCase())

	var ve *response.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Violations, "evidence: high confidence requires at least one evidence string")
}

func TestBucketiseWarnsOnDecisionRules(t *testing.T) {
	c := testCase()
	c.ResolutionNotes = "n/a"
	fc := &fakeCompleter{replies: []string{`{"category": "Customer Mistake", "categoryId": 6, "confidence": "low", "reasoning": "guess"}`}}

	res, err := NewBucketAnalyzer(fc, Settings{}).Bucketise(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "linked defect ENG-4521")
	assert.Contains(t, res.Warnings[1], "vague")
}

func TestBucketiseFailsOnMissingSubjectWithoutCallingModel(t *testing.T) {
	c := testCase()
	c.Subject = ""
	fc := &fakeCompleter{}

	_, err := NewBucketAnalyzer(fc, Settings{}).Bucketise(context.Background(), c)

	var missing *casecontext.MissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Zero(t, fc.calls())
}

func TestBucketiseUnparsableReply(t *testing.T) {
	fc := &fakeCompleter{replies: []string{"I am unable to classify this case."}}
	_, err := NewBucketAnalyzer(fc, Settings{}).Bucketise(context.Background(), testCase())

	var ue *response.UnparsableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "I am unable to classify this case.", ue.Raw)
}

func TestBucketiseTransportFailure(t *testing.T) {
	fc := &fakeCompleter{err: &llm.TransportError{StatusCode: 503, Body: "busy"}}
	_, err := NewBucketAnalyzer(fc, Settings{}).Bucketise(context.Background(), testCase())

	var te *llm.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)
}

func TestMatchTagTokenOverlapScenario(t *testing.T) {
	vocab := []string{"Prism Central - PC Management", "AHV Networking"}

	m := MatchTag("Prism Central-PC Mgmt", vocab)

	assert.Equal(t, "Prism Central - PC Management", m.Suggestion)
	assert.Equal(t, MatchOverlap, m.Method)
	assert.Greater(t, m.Score, 0.0)
	assert.Less(t, m.Score, 1.0)
	assert.InDelta(t, 0.525, m.Score, 1e-9)
}

func TestMatchTagTiers(t *testing.T) {
	vocab := []string{"AHV Networking", "AHV", "Prism Central - PC Management"}

	exact := MatchTag("  ahv   networking ", vocab)
	assert.Equal(t, MatchExact, exact.Method)
	assert.Equal(t, 1.0, exact.Score)
	assert.Equal(t, "AHV Networking", exact.Suggestion)

	contained := MatchTag("AHV Networking Issues", vocab)
	assert.Equal(t, MatchContainment, contained.Method)
	assert.Equal(t, "AHV Networking", contained.Suggestion)
	assert.GreaterOrEqual(t, contained.Score, 0.6)
	assert.LessOrEqual(t, contained.Score, 0.9)

	none := MatchTag("Storage Performance", vocab)
	assert.Equal(t, MatchNone, none.Method)
	assert.Zero(t, none.Score)
	assert.Empty(t, none.Suggestion)
}

func TestMatchTagsCoverage(t *testing.T) {
	v := MatchTags([]string{"AHV Networking", "Unknown Tag"}, []string{"AHV Networking"})
	assert.Equal(t, 1, v.MatchedCount)
	assert.Equal(t, 5.0, v.CoverageScore)
	assert.Equal(t, 50.0, v.CoveragePercentage)

	empty := MatchTags(nil, []string{"AHV Networking"})
	assert.Zero(t, empty.CoverageScore)
	assert.Zero(t, empty.CoveragePercentage)
	assert.Empty(t, empty.Matches)
}

func TestTagValidateFiltersInventedSuggestions(t *testing.T) {
	vocab := vocabulary.NewStaticHolder(
		[]string{"Prism Central - PC Management", "AHV Networking"},
		[]string{"Upgrade"},
	)
	fc := &fakeCompleter{replies: []string{`Here you go: {"is_valid": false, "score": 14, "reasoning": "open tag is misspelled",
		"incorrect_tags": ["Prism Central-PC Mgmt"], "missing_tags": ["upgrade", "Totally New Tag"],
		"suggested_tags": ["prism central - pc management", "Made Up"]}`}}

	res, err := NewTagAnalyzer(fc, Settings{}, vocab).Validate(context.Background(), testCase(), TagOptions{UseLLM: true})
	require.NoError(t, err)

	v := res.Value
	assert.Equal(t, []string{"Prism Central-PC Mgmt", "AHV Networking"}, v.ProvidedTags)
	assert.Equal(t, 2, v.MatchedCount)
	require.NotNil(t, v.LLM)
	assert.False(t, v.LLM.IsValid)
	assert.Equal(t, 10.0, v.LLM.Score)
	assert.Equal(t, []string{"Prism Central - PC Management"}, v.LLM.Suggestions)
	assert.Equal(t, []string{"Upgrade"}, v.LLM.MissingTags)
	assert.Equal(t, response.MethodEmbedded, res.Method)

	assert.Contains(t, res.Warnings, `dropped suggested tag "Made Up": not in vocabulary`)
	assert.Contains(t, res.Warnings, `dropped missing tag "Totally New Tag": not in vocabulary`)
	assert.Contains(t, res.Warnings, "score: 14 outside [0, 10]")

	require.Len(t, fc.requests, 1)
	assert.Contains(t, fc.requests[0].SystemPrompt, "- AHV Networking")
}

func TestTagValidateWithoutLLM(t *testing.T) {
	vocab := vocabulary.NewStaticHolder([]string{"AHV Networking"}, nil)
	fc := &fakeCompleter{}

	res, err := NewTagAnalyzer(fc, Settings{}, vocab).Validate(context.Background(), testCase(), TagOptions{})
	require.NoError(t, err)
	assert.Nil(t, res.Value.LLM)
	assert.Zero(t, fc.calls())
	assert.Contains(t, res.Warnings, `tag "Prism Central-PC Mgmt" does not match any vocabulary entry`)
}

func TestRelevanceThresholdScenario(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"evaluations": [
		{"key": "KB-1", "score": 85, "breakdown": {"problem_match": 35, "technical_match": 20, "solution_applicability": 18, "symptom_alignment": 12}, "confidence": "high", "reasoning": ["Describes the exact vswitch timeout", "Same AHV version"]},
		{"key": "KB-2", "score": 55, "breakdown": {"problem_match": 20, "technical_match": 15, "solution_applicability": 10, "symptom_alignment": 10}, "confidence": "medium", "reasoning": "Related migration issue"},
		{"key": "KB-3", "score": 30, "breakdown": {"problem_match": 10, "technical_match": 10, "solution_applicability": 5, "symptom_alignment": 5}, "confidence": "low", "reasoning": ["Different component"]}
	]}`}}
	a := NewRelevanceAnalyzer(fc, Settings{}, 0)
	candidates := []models.Candidate{{Key: "KB-1", Title: "vswitch timeout"}, {Key: "KB-2"}, {Key: "KB-3"}}

	res, err := a.Evaluate(context.Background(), testCase(), SourceKB, candidates, 40)
	require.NoError(t, err)

	v := res.Value
	assert.True(t, v.IsValid)
	assert.Equal(t, 85, v.TopScore)
	assert.Equal(t, "Describes the exact vswitch timeout Same AHV version", v.Reason)
	assert.Equal(t, 40, v.Threshold)
	require.Len(t, v.Scores, 3)
	assert.Equal(t, []string{"Related migration issue"}, v.Scores[1].Reasoning)
	assert.Empty(t, res.Warnings)
}

func TestRelevanceBelowThresholdIsInvalid(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"key": "ENG-4521", "score": 25, "confidence": "low", "reasoning": "unrelated"}`}}
	res, err := NewRelevanceAnalyzer(fc, Settings{}, 40).Evaluate(context.Background(), testCase(), SourceJIRA,
		[]models.Candidate{{Key: "ENG-4521"}}, 0)
	require.NoError(t, err)

	assert.False(t, res.Value.IsValid)
	assert.Equal(t, "unrelated", res.Value.Reason)
	assert.Contains(t, fc.requests[0].SystemPrompt, "JIRA defect")
}

func TestRelevanceNoCandidatesSkipsModel(t *testing.T) {
	fc := &fakeCompleter{}
	res, err := NewRelevanceAnalyzer(fc, Settings{}, 40).Evaluate(context.Background(), testCase(), SourceKB, nil, 40)
	require.NoError(t, err)

	assert.False(t, res.Value.IsValid)
	assert.NotEmpty(t, res.Value.Reason)
	assert.Zero(t, fc.calls())
}

func TestRelevanceCountMismatchIsWarning(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"evaluations": [{"key": "KB-2", "score": 60, "reasoning": ["close match"]}]}`}}
	res, err := NewRelevanceAnalyzer(fc, Settings{}, 40).Evaluate(context.Background(), testCase(), SourceKB,
		[]models.Candidate{{Key: "KB-1"}, {Key: "KB-2"}}, 40)
	require.NoError(t, err)

	assert.True(t, res.Value.IsValid)
	require.Len(t, res.Value.Scores, 1)
	assert.Equal(t, "KB-2", res.Value.Scores[0].Key)
	assert.Contains(t, res.Warnings, "expected 2 evaluations, got 1")
	assert.Contains(t, res.Warnings, "no evaluation returned for KB-1")
}

func TestRelevanceDriftedKeysFallBackToPosition(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"evaluations": [
		{"key": "KB 1", "score": 85, "confidence": "high", "reasoning": ["Same vswitch timeout"]},
		{"key": "KB 2", "score": 55, "confidence": "medium", "reasoning": ["Related"]},
		{"key": "KB 3", "score": 30, "confidence": "low", "reasoning": ["Different component"]}
	]}`}}
	candidates := []models.Candidate{{Key: "KB-1"}, {Key: "KB-2"}, {Key: "KB-3"}}

	res, err := NewRelevanceAnalyzer(fc, Settings{}, 40).Evaluate(context.Background(), testCase(), SourceKB, candidates, 40)
	require.NoError(t, err)

	v := res.Value
	assert.True(t, v.IsValid)
	assert.Equal(t, 85, v.TopScore)
	assert.Equal(t, "Same vswitch timeout", v.Reason)
	require.Len(t, v.Scores, 3)
	assert.Equal(t, []string{"KB-1", "KB-2", "KB-3"}, []string{v.Scores[0].Key, v.Scores[1].Key, v.Scores[2].Key})
	assert.Equal(t, []int{85, 55, 30}, []int{v.Scores[0].Score, v.Scores[1].Score, v.Scores[2].Score})
	assert.Contains(t, res.Warnings, `matched evaluation "KB 1" to KB-1 by position`)
	assert.NotContains(t, res.Warnings, "no evaluation returned for KB-1")
}

func TestRelevanceUnknownKeyWithCountMismatchIsDropped(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"evaluations": [{"key": "KB 1", "score": 90, "reasoning": ["close"]}]}`}}
	res, err := NewRelevanceAnalyzer(fc, Settings{}, 40).Evaluate(context.Background(), testCase(), SourceKB,
		[]models.Candidate{{Key: "KB-1"}, {Key: "KB-2"}}, 40)
	require.NoError(t, err)

	assert.False(t, res.Value.IsValid)
	assert.Empty(t, res.Value.Scores)
	assert.Contains(t, res.Warnings, `ignored evaluation for unknown reference "KB 1"`)
}

func TestRelevanceZeroThresholdUsesAnalyzerThreshold(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{"key": "ENG-4521", "score": 60, "reasoning": "partial"}`}}
	res, err := NewRelevanceAnalyzer(fc, Settings{}, 70).Evaluate(context.Background(), testCase(), SourceJIRA,
		[]models.Candidate{{Key: "ENG-4521"}}, 0)
	require.NoError(t, err)

	assert.Equal(t, 70, res.Value.Threshold)
	assert.False(t, res.Value.IsValid)

	assert.Equal(t, DefaultRelevanceThreshold, NewRelevanceAnalyzer(fc, Settings{}, 0).Threshold())
}

func TestIssueAnalyzeClampsAndWarns(t *testing.T) {
	fc := &fakeCompleter{replies: []string{`{
		"issue_summary": {"title": "VM migration timeout", "description": "d", "root_cause": "vswitch bug", "resolution": "hotfix"},
		"tags": {"category": "Networking", "product_areas": ["AHV", "Networking"], "severity": "HIGH", "complexity": "moderate"},
		"quality_scores": {
			"response_time": {"score": 12, "reasoning": "fast"},
			"technical_accuracy": {"score": 8, "reasoning": "good"},
			"communication": {"score": 7, "reasoning": "ok"},
			"resolution_quality": {"score": 9, "reasoning": "fixed"},
			"customer_satisfaction": {"score": 0, "reasoning": "unknown"}
		},
		"sentiment": {"customer": {"overall": "furious", "frustration_level": "high", "satisfaction": "neutral"},
			"support": {"tone": "professional", "empathy": "high", "professionalism": "high"}},
		"clustering_features": {"primary_topic": "AHV live migration failures", "keywords": ["migration", "vswitch"]},
		"actionable_insights": {"key_learnings": ["check vswitch"], "kb_candidate": true},
		"metadata": {"confidence_score": 0.9}
	}`}}

	res, err := NewIssueAnalyzer(fc, Settings{}).Analyze(context.Background(), testCase())
	require.NoError(t, err)

	a := res.Value
	assert.Equal(t, 10, a.QualityScores.ResponseTime.Score)
	assert.Equal(t, 1, a.QualityScores.CustomerSatisfaction.Score)
	assert.Equal(t, 7.0, a.QualityScores.Overall)
	assert.Equal(t, "high", a.Tags.Severity)
	assert.Equal(t, "furious", a.Sentiment.Customer.Overall)
	assert.True(t, a.Insights.KBCandidate)
	assert.False(t, a.Metadata.RequiresHumanReview)

	assert.Contains(t, res.Warnings, "quality_scores.response_time.score 12 clamped to 10")
	assert.Contains(t, res.Warnings, "quality_scores.customer_satisfaction.score 0 clamped to 1")
	assert.Contains(t, res.Warnings, "sentiment.customer.overall: furious not in [positive neutral negative mixed]")

	assert.Contains(t, fc.requests[0].UserPrompt, `"responseMetrics"`)
}
