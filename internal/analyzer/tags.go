package analyzer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/response"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/internal/vocabulary"
	"github.com/case-review/backend/pkg/logger"
)

const (
	MatchExact       = "exact"
	MatchContainment = "containment"
	MatchOverlap     = "token_overlap"
	MatchNone        = "none"

	minOverlapRatio = 0.5
)

// MatchTag finds the vocabulary entry closest to tag. Exact matches beat
// containment, which beats token overlap; within a tier the higher score
// wins and ties keep vocabulary order.
func MatchTag(tag string, vocab []string) models.TagMatch {
	match := models.TagMatch{Tag: tag, Method: MatchNone}
	needle := normalizeTag(tag)
	if needle == "" {
		return match
	}

	needleTokens := tokenSet(needle)
	var bestContain, bestOverlap float64
	var containHit, overlapHit string

	for _, candidate := range vocab {
		norm := normalizeTag(candidate)
		if norm == "" {
			continue
		}
		if norm == needle {
			match.Suggestion = candidate
			match.Method = MatchExact
			match.Score = 1.0
			return match
		}

		if strings.Contains(norm, needle) || strings.Contains(needle, norm) {
			shorter, longer := len([]rune(needle)), len([]rune(norm))
			if shorter > longer {
				shorter, longer = longer, shorter
			}
			score := 0.6 + 0.3*float64(shorter)/float64(longer)
			if score > bestContain {
				bestContain, containHit = score, candidate
			}
			continue
		}

		if ratio := overlapRatio(needleTokens, tokenSet(norm)); ratio >= minOverlapRatio {
			score := 0.7 * ratio
			if score > bestOverlap {
				bestOverlap, overlapHit = score, candidate
			}
		}
	}

	switch {
	case containHit != "":
		match.Suggestion, match.Method, match.Score = containHit, MatchContainment, round3(bestContain)
	case overlapHit != "":
		match.Suggestion, match.Method, match.Score = overlapHit, MatchOverlap, round3(bestOverlap)
	}
	return match
}

// MatchTags scores every provided tag against the vocabulary.
func MatchTags(tags []string, vocab []string) *models.TagValidation {
	v := &models.TagValidation{ProvidedTags: tags, Matches: make([]models.TagMatch, 0, len(tags))}
	if len(tags) == 0 {
		return v
	}

	total := 0.0
	for _, tag := range tags {
		m := MatchTag(tag, vocab)
		if m.Score > 0 {
			v.MatchedCount++
		}
		total += m.Score
		v.Matches = append(v.Matches, m)
	}

	v.CoverageScore = round1(total / float64(len(tags)) * 10)
	v.CoveragePercentage = round1(float64(v.MatchedCount) / float64(len(tags)) * 100)
	return v
}

func normalizeTag(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func tokenSet(s string) map[string]bool {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// overlapRatio is the shared token count over the larger token set.
func overlapRatio(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if b[t] {
			shared++
		}
	}
	larger := len(a)
	if len(b) > larger {
		larger = len(b)
	}
	return float64(shared) / float64(larger)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

const tagSystemPrompt = `You are a support operations reviewer auditing the tags applied to support cases.

You may ONLY reference tags from the valid vocabulary below. Never invent tags.

Valid open tags:
%s

Valid close tags:
%s

Respond with JSON only:
{"is_valid": true|false, "score": <0-10>, "reasoning": "<why>",
 "incorrect_tags": ["<applied tag that does not fit>"],
 "missing_tags": ["<vocabulary tag that should have been applied>"],
 "suggested_tags": ["<vocabulary tag>"]}`

const tagUserPrompt = `Applied open tags: %s
Applied close tags: %s

Case context:
%s`

var tagSchema = &response.Schema{
	Required: []string{"is_valid", "score", "reasoning"},
	Ranges:   map[string]response.Range{"score": {Min: 0, Max: 10}},
}

type TagOptions struct {
	// UseLLM adds the model's independent verdict to the heuristic match.
	UseLLM bool
}

type TagAnalyzer struct {
	llm      Completer
	settings Settings
	vocab    *vocabulary.Holder
}

func NewTagAnalyzer(completer Completer, settings Settings, vocab *vocabulary.Holder) *TagAnalyzer {
	return &TagAnalyzer{llm: completer, settings: settings, vocab: vocab}
}

// Validate scores a case's applied tags against the current vocabulary.
// Schema violations in the model's verdict are kept as warnings.
func (a *TagAnalyzer) Validate(ctx context.Context, c *models.Case, opts TagOptions) (*Result[*models.TagValidation], error) {
	caseNumber := caseNumberOf(c)

	cctx, err := casecontext.Build(c, casecontext.KindTags)
	if err != nil {
		return nil, fail(NameTags, caseNumber, err)
	}

	snap := a.vocab.Current()
	validation := MatchTags(cctx.Tags, snap.All())
	result := &Result[*models.TagValidation]{Value: validation}

	for _, m := range validation.Matches {
		if m.Method == MatchNone {
			result.warn("tag %q does not match any vocabulary entry", m.Tag)
		}
	}

	if opts.UseLLM && a.llm != nil {
		verdict, err := a.llmVerdict(ctx, cctx, snap, result)
		if err != nil {
			return nil, fail(NameTags, caseNumber, err)
		}
		validation.LLM = verdict
	}

	logger.Info("Case tags validated",
		zap.String("case_number", caseNumber),
		zap.Int("provided", len(validation.ProvidedTags)),
		zap.Int("matched", validation.MatchedCount),
		zap.Float64("coverage_score", validation.CoverageScore),
	)
	return succeed(NameTags, caseNumber, result), nil
}

func (a *TagAnalyzer) llmVerdict(ctx context.Context, cctx *casecontext.CaseContext, snap *vocabulary.Snapshot, result *Result[*models.TagValidation]) (*models.LLMTagVerdict, error) {
	var verdict models.LLMTagVerdict
	parsed, resp, err := invoke(ctx, a.llm, a.settings, call{
		analyzer:   NameTags,
		caseNumber: cctx.CaseNumber,
		system:     fmt.Sprintf(tagSystemPrompt, bulletList(snap.OpenTags), bulletList(snap.CloseTags)),
		user:       fmt.Sprintf(tagUserPrompt, quoteList(cctx.OpenTags), quoteList(cctx.CloseTags), cctx.JSON()),
		schema:     tagSchema,
		out:        &verdict,
	})
	if err != nil {
		return nil, err
	}

	result.Usage = usageOf(resp)
	result.Model = resp.Model
	result.Method = parsed.Method
	for _, v := range parsed.Violations {
		result.warn("%s", v)
	}

	if clamped, changed := clampFloat(verdict.Score, 0, 10); changed {
		verdict.Score = clamped
	}
	verdict.Suggestions = keepVocabulary(verdict.Suggestions, snap, "suggested", result)
	verdict.MissingTags = keepVocabulary(verdict.MissingTags, snap, "missing", result)
	return &verdict, nil
}

// keepVocabulary drops tags the model invented and returns the vocabulary
// spelling of the rest.
func keepVocabulary(tags []string, snap *vocabulary.Snapshot, kind string, result *Result[*models.TagValidation]) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		canonical, ok := snap.Canonical(tag)
		if !ok {
			result.warn("dropped %s tag %q: not in vocabulary", kind, tag)
			continue
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(items, "\n- ")
}

func quoteList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}
