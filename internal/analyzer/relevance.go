package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/htmltext"
	"github.com/case-review/backend/internal/response"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
)

const (
	SourceKB   = "kb"
	SourceJIRA = "jira"

	DefaultRelevanceThreshold = 40

	maxProblemMatch          = 40
	maxTechnicalMatch        = 25
	maxSolutionApplicability = 20
	maxSymptomAlignment      = 15
)

const relevanceCriteria = `Score relevance from 0 to 100 as the sum of:
- problem_match (0-40): does the reference describe the same problem?
- technical_match (0-25): same product, component and version?
- solution_applicability (0-20): would its solution or fix apply here?
- symptom_alignment (0-15): do the observed symptoms and errors align?`

const relevanceSingleSystemPrompt = `You are a support quality reviewer judging whether a %s linked to a support case is relevant to it.

%s

Respond with JSON only:
{"key": "<reference key>", "score": <0-100>,
 "breakdown": {"problem_match": <n>, "technical_match": <n>, "solution_applicability": <n>, "symptom_alignment": <n>},
 "confidence": "high|medium|low", "reasoning": ["<point>", "..."]}`

const relevanceBatchSystemPrompt = `You are a support quality reviewer judging whether each %s linked to a support case is relevant to it.

%s

Return exactly one evaluation per reference, in the order given.

Respond with JSON only:
{"evaluations": [{"key": "<reference key>", "score": <0-100>,
 "breakdown": {"problem_match": <n>, "technical_match": <n>, "solution_applicability": <n>, "symptom_alignment": <n>},
 "confidence": "high|medium|low", "reasoning": ["<point>", "..."]}]}`

const relevanceUserPrompt = `Case context:
%s

%s to evaluate:
%s`

var (
	relevanceSingleSchema = &response.Schema{
		Required: []string{"score"},
		Enums:    map[string][]string{"confidence": confidenceSet()},
		Ranges:   scoreRanges(""),
	}
	relevanceBatchSchema = &response.Schema{
		Required: []string{"evaluations", "evaluations.*.score"},
		Enums:    map[string][]string{"evaluations.*.confidence": confidenceSet()},
		Ranges:   scoreRanges("evaluations.*."),
	}
)

func scoreRanges(prefix string) map[string]response.Range {
	return map[string]response.Range{
		prefix + "score":                            {Min: 0, Max: 100},
		prefix + "breakdown.problem_match":          {Min: 0, Max: maxProblemMatch},
		prefix + "breakdown.technical_match":        {Min: 0, Max: maxTechnicalMatch},
		prefix + "breakdown.solution_applicability": {Min: 0, Max: maxSolutionApplicability},
		prefix + "breakdown.symptom_alignment":      {Min: 0, Max: maxSymptomAlignment},
	}
}

// reasons accepts either a single string or a list of strings.
type reasons []string

func (r *reasons) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*r = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if strings.TrimSpace(single) != "" {
		*r = []string{single}
	}
	return nil
}

type scoredReference struct {
	Key        string                `json:"key"`
	Score      float64               `json:"score"`
	Breakdown  models.ScoreBreakdown `json:"breakdown"`
	Confidence models.Confidence     `json:"confidence"`
	Reasoning  reasons               `json:"reasoning"`
}

type RelevanceAnalyzer struct {
	llm       Completer
	settings  Settings
	threshold int
}

func NewRelevanceAnalyzer(completer Completer, settings Settings, threshold int) *RelevanceAnalyzer {
	if threshold <= 0 {
		threshold = DefaultRelevanceThreshold
	}
	return &RelevanceAnalyzer{llm: completer, settings: settings, threshold: threshold}
}

func (a *RelevanceAnalyzer) Threshold() int { return a.threshold }

// Evaluate scores each candidate reference against the case. The verdict is
// valid when any candidate reaches threshold. A threshold of zero or less
// means "use the analyzer's threshold", so zero itself cannot be requested;
// pass 1 to accept any scored candidate. No candidates means an invalid
// verdict and no model call.
func (a *RelevanceAnalyzer) Evaluate(ctx context.Context, c *models.Case, source string, candidates []models.Candidate, threshold int) (*Result[*models.RelevanceVerdict], error) {
	caseNumber := caseNumberOf(c)
	if threshold <= 0 {
		threshold = a.threshold
	}

	cctx, err := casecontext.Build(c, casecontext.KindRelevance)
	if err != nil {
		return nil, fail(NameRelevance, caseNumber, err)
	}

	verdict := &models.RelevanceVerdict{Source: source, Threshold: threshold, Scores: []models.CandidateScore{}}
	result := &Result[*models.RelevanceVerdict]{Value: verdict}

	if len(candidates) == 0 {
		verdict.Reason = fmt.Sprintf("no %s references to evaluate", sourceLabel(source))
		return succeed(NameRelevance, caseNumber, result), nil
	}

	var scored []scoredReference
	if len(candidates) == 1 {
		scored, err = a.evaluateSingle(ctx, cctx, source, candidates[0], result)
	} else {
		scored, err = a.evaluateBatch(ctx, cctx, source, candidates, result)
	}
	if err != nil {
		return nil, fail(NameRelevance, caseNumber, err)
	}

	top := -1
	for i, s := range scored {
		cs := a.normalizeScore(s, result)
		verdict.Scores = append(verdict.Scores, cs)
		if top < 0 || cs.Score > verdict.Scores[top].Score {
			top = i
		}
	}

	if top >= 0 {
		best := verdict.Scores[top]
		verdict.TopScore = best.Score
		verdict.IsValid = best.Score >= threshold
		verdict.Reason = strings.Join(best.Reasoning, " ")
		if verdict.Reason == "" {
			verdict.Reason = fmt.Sprintf("%s scored %d", best.Key, best.Score)
		}
	}

	logger.Info("Reference relevance evaluated",
		zap.String("case_number", caseNumber),
		zap.String("source", source),
		zap.Int("candidates", len(candidates)),
		zap.Int("top_score", verdict.TopScore),
		zap.Bool("is_valid", verdict.IsValid),
	)
	return succeed(NameRelevance, caseNumber, result), nil
}

func (a *RelevanceAnalyzer) evaluateSingle(ctx context.Context, cctx *casecontext.CaseContext, source string, cand models.Candidate, result *Result[*models.RelevanceVerdict]) ([]scoredReference, error) {
	var out scoredReference
	parsed, resp, err := invoke(ctx, a.llm, a.settings, call{
		analyzer:   NameRelevance,
		caseNumber: cctx.CaseNumber,
		system:     fmt.Sprintf(relevanceSingleSystemPrompt, sourceLabel(source), relevanceCriteria),
		user:       fmt.Sprintf(relevanceUserPrompt, cctx.JSON(), sourceLabel(source), describeCandidates([]models.Candidate{cand})),
		schema:     relevanceSingleSchema,
		out:        &out,
	})
	if err != nil {
		return nil, err
	}
	recordCall(result, parsed, resp.Model, usageOf(resp))

	out.Key = cand.Key
	return []scoredReference{out}, nil
}

func (a *RelevanceAnalyzer) evaluateBatch(ctx context.Context, cctx *casecontext.CaseContext, source string, candidates []models.Candidate, result *Result[*models.RelevanceVerdict]) ([]scoredReference, error) {
	var out struct {
		Evaluations []scoredReference `json:"evaluations"`
	}
	parsed, resp, err := invoke(ctx, a.llm, a.settings, call{
		analyzer:   NameRelevance,
		caseNumber: cctx.CaseNumber,
		system:     fmt.Sprintf(relevanceBatchSystemPrompt, sourceLabel(source), relevanceCriteria),
		user:       fmt.Sprintf(relevanceUserPrompt, cctx.JSON(), sourceLabel(source), describeCandidates(candidates)),
		schema:     relevanceBatchSchema,
		out:        &out,
	})
	if err != nil {
		return nil, err
	}
	recordCall(result, parsed, resp.Model, usageOf(resp))

	if len(out.Evaluations) != len(candidates) {
		result.warn("expected %d evaluations, got %d", len(candidates), len(out.Evaluations))
	}

	return alignEvaluations(candidates, out.Evaluations, result), nil
}

// alignEvaluations pairs evaluations with candidates by key. When the key is
// missing, or the reply has one entry per candidate but its key matches no
// candidate, the evaluation at the same position is used instead. Candidates
// left unscored are omitted.
func alignEvaluations(candidates []models.Candidate, evals []scoredReference, result *Result[*models.RelevanceVerdict]) []scoredReference {
	byKey := make(map[string]int, len(evals))
	for i, e := range evals {
		if k := normalizeKey(e.Key); k != "" {
			if _, dup := byKey[k]; !dup {
				byKey[k] = i
			}
		}
	}

	known := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		known[normalizeKey(cand.Key)] = true
	}
	positional := len(evals) == len(candidates)

	used := make([]bool, len(evals))
	out := make([]scoredReference, 0, len(candidates))
	for pos, cand := range candidates {
		idx, ok := byKey[normalizeKey(cand.Key)]
		if !ok && pos < len(evals) && !used[pos] {
			switch k := normalizeKey(evals[pos].Key); {
			case k == "":
				idx, ok = pos, true
			case positional && !known[k]:
				result.warn("matched evaluation %q to %s by position", evals[pos].Key, cand.Key)
				idx, ok = pos, true
			}
		}
		if !ok || used[idx] {
			result.warn("no evaluation returned for %s", cand.Key)
			continue
		}
		used[idx] = true
		e := evals[idx]
		e.Key = cand.Key
		out = append(out, e)
	}

	for i, e := range evals {
		if !used[i] {
			result.warn("ignored evaluation for unknown reference %q", e.Key)
		}
	}
	return out
}

func normalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

func (a *RelevanceAnalyzer) normalizeScore(s scoredReference, result *Result[*models.RelevanceVerdict]) models.CandidateScore {
	cs := models.CandidateScore{
		Key:        s.Key,
		Breakdown:  s.Breakdown,
		Confidence: models.Confidence(strings.ToLower(strings.TrimSpace(string(s.Confidence)))),
		Reasoning:  []string(s.Reasoning),
	}

	score, clamped := clampInt(int(math.Round(s.Score)), 0, 100)
	if clamped {
		result.warn("%s: score %v clamped to %d", s.Key, s.Score, score)
	}
	cs.Score = score

	b := &cs.Breakdown
	b.ProblemMatch, _ = clampInt(b.ProblemMatch, 0, maxProblemMatch)
	b.TechnicalMatch, _ = clampInt(b.TechnicalMatch, 0, maxTechnicalMatch)
	b.SolutionApplicability, _ = clampInt(b.SolutionApplicability, 0, maxSolutionApplicability)
	b.SymptomAlignment, _ = clampInt(b.SymptomAlignment, 0, maxSymptomAlignment)

	if total := b.Total(); total > 0 && abs(total-cs.Score) > 5 {
		result.warn("%s: score %d disagrees with breakdown total %d", s.Key, cs.Score, total)
	}
	if cs.Confidence == "" {
		cs.Confidence = models.ConfidenceLow
	}
	if cs.Reasoning == nil {
		cs.Reasoning = []string{}
	}
	return cs
}

func recordCall(result *Result[*models.RelevanceVerdict], parsed *response.Parsed, model string, usage models.TokenUsage) {
	result.Usage = usage
	result.Model = model
	result.Method = parsed.Method
	for _, v := range parsed.Violations {
		result.warn("%s", v)
	}
}

func describeCandidates(candidates []models.Candidate) string {
	var sb strings.Builder
	for i, c := range candidates {
		summary, _ := htmltext.Truncate(htmltext.ToText(c.Summary), 600)
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, c.Key, c.Title)
		if c.Status != "" {
			fmt.Fprintf(&sb, "   Status: %s\n", c.Status)
		}
		if summary != "" {
			fmt.Fprintf(&sb, "   Summary: %s\n", summary)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sourceLabel(source string) string {
	switch source {
	case SourceJIRA:
		return "JIRA defect"
	default:
		return "KB article"
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
