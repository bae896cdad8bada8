package analyzer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/response"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/pkg/logger"
)

const (
	CategoryBug                  = "Bug"
	CategoryImprovement          = "Improvement"
	CategoryNonNutanixError      = "Non-Nutanix Error"
	CategoryCustomerAssistance   = "Customer Assistance"
	CategoryCustomerQuestions    = "Customer Questions"
	CategoryCustomerMistake      = "Customer Mistake"
	CategoryCXError              = "Customer-Experience Error"
	CategoryCXEnvironment        = "Customer-Experience Environment"
	CategoryIssueSelfResolved    = "Issue Self Resolved"
	CategoryCustomerSelfResolved = "Customer Self Resolved"
	CategoryRCANotConclusive     = "RCA not conclusive"
	CategoryRCANotDone           = "RCA not done"
)

// Categories lists the bucket categories; a category's id is its position + 1.
var Categories = []string{
	CategoryBug,
	CategoryImprovement,
	CategoryNonNutanixError,
	CategoryCustomerAssistance,
	CategoryCustomerQuestions,
	CategoryCustomerMistake,
	CategoryCXError,
	CategoryCXEnvironment,
	CategoryIssueSelfResolved,
	CategoryCustomerSelfResolved,
	CategoryRCANotConclusive,
	CategoryRCANotDone,
}

// PriorityOrder is the tie-breaking order when a case fits several categories.
var PriorityOrder = []string{
	CategoryBug,
	CategoryNonNutanixError,
	CategoryImprovement,
	CategoryIssueSelfResolved,
	CategoryCustomerSelfResolved,
	CategoryCustomerMistake,
	CategoryCXError,
	CategoryCXEnvironment,
	CategoryCustomerAssistance,
	CategoryCustomerQuestions,
	CategoryRCANotConclusive,
	CategoryRCANotDone,
}

var (
	CategoryIDs   = make(map[string]int, len(Categories))
	CategoryNames = make(map[int]string, len(Categories))
)

func init() {
	for i, name := range Categories {
		CategoryIDs[name] = i + 1
		CategoryNames[i+1] = name
	}
}

var categoryDefinitions = map[string]string{
	CategoryBug:                  "Product defect confirmed; a fix, patch or defect ticket (ENG/JIRA) is linked.",
	CategoryImprovement:          "Product works as designed but the customer needs a feature or enhancement.",
	CategoryNonNutanixError:      "Root cause lies in third-party hardware, software or network outside the product.",
	CategoryCustomerAssistance:   "Customer needed hands-on help performing a supported task.",
	CategoryCustomerQuestions:    "Purely informational: how-to, documentation or best-practice questions with no real problem.",
	CategoryCustomerMistake:      "Problem caused by a customer misconfiguration or wrong operation.",
	CategoryCXError:              "Customer was misled by confusing UI, errors or documentation.",
	CategoryCXEnvironment:        "Customer environment constraints (sizing, network, unsupported setup) caused the problem.",
	CategoryIssueSelfResolved:    "Issue disappeared without any action by support or customer.",
	CategoryCustomerSelfResolved: "Customer fixed the problem on their own before support concluded.",
	CategoryRCANotConclusive:     "Investigation happened but no definitive root cause was established.",
	CategoryRCANotDone:           "No RCA was performed or the notes are empty or too vague to decide.",
}

const bucketSystemPrompt = `You are a senior support engineer classifying closed support cases by root cause.

Choose EXACTLY ONE category from this table (name and id must match):
%s

When several categories fit, pick the one that comes first in this priority order:
%s

Decision rules:
1. A linked defect fix (ENG/JIRA reference with a fix or patch) strongly indicates "Bug" unless the ticket is explicitly an enhancement request.
2. Empty or vague resolution notes force the fallback "RCA not done".
3. Purely informational cases with no real problem are "Customer Questions".
4. "category" and "categoryId" must agree with the table above.
5. "high" confidence requires at least one evidence string quoted from the case.

Respond with JSON only:
{"category": "<name>", "categoryId": <id>, "confidence": "high|medium|low", "reasoning": "<why>", "evidence": ["<quote>", "..."]}`

const bucketUserPrompt = `Classify this case.

Case context:
%s

Resolution notes considered vague: %t`

func bucketPrompt() string {
	var table, order strings.Builder
	for _, name := range Categories {
		fmt.Fprintf(&table, "%d. %s: %s\n", CategoryIDs[name], name, categoryDefinitions[name])
	}
	for i, name := range PriorityOrder {
		if i > 0 {
			order.WriteString(" > ")
		}
		order.WriteString(name)
	}
	return fmt.Sprintf(bucketSystemPrompt, strings.TrimRight(table.String(), "\n"), order.String())
}

// CheckCategory reports an error unless name is a known category and id is
// its id.
func CheckCategory(name string, id int) error {
	canonical, ok := canonicalCategory(name)
	if !ok {
		return fmt.Errorf("unknown category %q", name)
	}
	if want := CategoryIDs[canonical]; want != id {
		return fmt.Errorf("categoryId %d does not match category %q (expected %d)", id, canonical, want)
	}
	return nil
}

func canonicalCategory(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range Categories {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

var bucketSchema = &response.Schema{
	Required: []string{"category", "categoryId", "confidence", "reasoning"},
	Enums: map[string][]string{
		"category":   Categories,
		"confidence": confidenceSet(),
	},
	Ranges: map[string]response.Range{"categoryId": {Min: 1, Max: float64(len(Categories))}},
	Checks: []response.Check{checkCategoryID, checkHighConfidenceEvidence},
}

func checkCategoryID(obj map[string]any) []string {
	name, _ := obj["category"].(string)
	rawID, ok := obj["categoryId"]
	if name == "" || !ok {
		return nil
	}
	id, ok := response.Number(rawID)
	if !ok {
		return nil
	}
	if _, known := canonicalCategory(name); !known {
		return nil
	}
	if err := CheckCategory(name, int(id)); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func checkHighConfidenceEvidence(obj map[string]any) []string {
	confidence, _ := obj["confidence"].(string)
	if !strings.EqualFold(strings.TrimSpace(confidence), string(models.ConfidenceHigh)) {
		return nil
	}
	evidence, _ := obj["evidence"].([]any)
	for _, e := range evidence {
		if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
			return nil
		}
	}
	return []string{"evidence: high confidence requires at least one evidence string"}
}

type BucketAnalyzer struct {
	llm      Completer
	settings Settings
}

func NewBucketAnalyzer(completer Completer, settings Settings) *BucketAnalyzer {
	return &BucketAnalyzer{llm: completer, settings: settings}
}

// Bucketise classifies a case into one category. Any schema violation fails
// the case.
func (a *BucketAnalyzer) Bucketise(ctx context.Context, c *models.Case) (*Result[*models.BucketVerdict], error) {
	caseNumber := caseNumberOf(c)

	cctx, err := casecontext.Build(c, casecontext.KindBucket)
	if err != nil {
		return nil, fail(NameBucket, caseNumber, err)
	}
	vague := casecontext.VagueResolution(c.ResolutionNotes)

	var verdict models.BucketVerdict
	parsed, resp, err := invoke(ctx, a.llm, a.settings, call{
		analyzer:   NameBucket,
		caseNumber: caseNumber,
		system:     bucketPrompt(),
		user:       fmt.Sprintf(bucketUserPrompt, cctx.JSON(), vague),
		schema:     bucketSchema,
		out:        &verdict,
	})
	if err != nil {
		return nil, fail(NameBucket, caseNumber, err)
	}
	if err := parsed.Err(); err != nil {
		logger.Warn("Bucket verdict rejected",
			zap.String("case_number", caseNumber),
			zap.Strings("violations", parsed.Violations),
		)
		return nil, fail(NameBucket, caseNumber, err)
	}

	verdict.Category, _ = canonicalCategory(verdict.Category)
	verdict.Confidence = models.Confidence(strings.ToLower(strings.TrimSpace(string(verdict.Confidence))))

	result := &Result[*models.BucketVerdict]{
		Value:  &verdict,
		Usage:  usageOf(resp),
		Model:  resp.Model,
		Method: parsed.Method,
	}
	for _, w := range decisionRuleWarnings(cctx, vague, verdict.Category) {
		result.warn("%s", w)
	}

	logger.Info("Case bucketised",
		zap.String("case_number", caseNumber),
		zap.String("category", verdict.Category),
		zap.String("confidence", string(verdict.Confidence)),
	)
	return succeed(NameBucket, caseNumber, result), nil
}

var informationalPattern = regexp.MustCompile(`(?i)\b(how (do|to|can)|is it possible|documentation|best practice|clarif|what is the|question)\b`)

// decisionRuleWarnings flags verdicts that contradict the evidence signals of
// rules 1 to 3. They never fail the case.
func decisionRuleWarnings(cctx *casecontext.CaseContext, vague bool, category string) []string {
	var warnings []string

	if len(cctx.LinkedDefects) > 0 && category != CategoryBug && category != CategoryImprovement {
		warnings = append(warnings, fmt.Sprintf(
			"linked defect %s suggests %q but verdict is %q", strings.Join(cctx.LinkedDefects, ", "), CategoryBug, category))
	}

	if vague && category != CategoryRCANotDone {
		warnings = append(warnings, fmt.Sprintf(
			"resolution notes are empty or vague, expected %q but verdict is %q", CategoryRCANotDone, category))
	}

	informational := len(cctx.LinkedDefects) == 0 && cctx.Escalation == "" &&
		informationalPattern.MatchString(cctx.Subject+" "+cctx.Description)
	if informational && (category == CategoryBug || category == CategoryNonNutanixError) {
		warnings = append(warnings, fmt.Sprintf(
			"case reads as informational, expected %q but verdict is %q", CategoryCustomerQuestions, category))
	}

	return warnings
}

func caseNumberOf(c *models.Case) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.CaseNumber)
}
