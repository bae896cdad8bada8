// Package aggregation rolls per-case analyses into cross-case buckets,
// clusters and statistics. Every call recomputes from scratch.
package aggregation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/case-review/backend/internal/storage/models"
)

const (
	Unknown     = "Unknown"
	OtherTopic  = "other"
	MaxClusters = 20

	ColorDominant = "#1e3a8a"
	ColorMajor    = "#2563eb"
	ColorNotable  = "#60a5fa"
	ColorMinor    = "#bfdbfe"
)

type Bucket struct {
	Name       string   `json:"name"`
	Count      int      `json:"count"`
	Percentage int      `json:"percentage"`
	Cases      []string `json:"cases"`
}

type Cluster struct {
	Topic        string   `json:"topic"`
	Count        int      `json:"count"`
	Percentage   int      `json:"percentage"`
	Keywords     []string `json:"keywords"`
	ProductAreas []string `json:"productAreas"`
	Cases        []string `json:"cases"`
	Color        string   `json:"color"`
}

type Stat struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

type Statistics struct {
	OverallQuality        Stat `json:"overallQuality"`
	ResponseTime          Stat `json:"responseTime"`
	TechnicalAccuracy     Stat `json:"technicalAccuracy"`
	Communication         Stat `json:"communication"`
	ResolutionQuality     Stat `json:"resolutionQuality"`
	CustomerSatisfaction  Stat `json:"customerSatisfaction"`
	Confidence            Stat `json:"confidence"`
	TagCoverageScore      Stat `json:"tagCoverageScore"`
	TagCoveragePercentage Stat `json:"tagCoveragePercentage"`
	TagLLMScore           Stat `json:"tagLlmScore"`
	KBTopScore            Stat `json:"kbTopScore"`
	JIRATopScore          Stat `json:"jiraTopScore"`
	ResponseHours         Stat `json:"responseHours"`
}

type Classifications struct {
	KBCandidates     Bucket `json:"kbCandidates"`
	NeedsHumanReview Bucket `json:"needsHumanReview"`
	TagsValid        Bucket `json:"tagsValid"`
	KBRelevant       Bucket `json:"kbRelevant"`
	JIRARelevant     Bucket `json:"jiraRelevant"`
}

type Aggregation struct {
	GeneratedAt       time.Time       `json:"generatedAt"`
	TotalCases        int             `json:"totalCases"`
	BucketCategories  []Bucket        `json:"bucketCategories"`
	BucketConfidence  []Bucket        `json:"bucketConfidence"`
	IssueCategories   []Bucket        `json:"issueCategories"`
	IssueTypes        []Bucket        `json:"issueTypes"`
	Severity          []Bucket        `json:"severity"`
	Complexity        []Bucket        `json:"complexity"`
	Products          []Bucket        `json:"products"`
	ProductAreas      []Bucket        `json:"productAreas"`
	CustomerSentiment []Bucket        `json:"customerSentiment"`
	Frustration       []Bucket        `json:"frustration"`
	QualityBands      []Bucket        `json:"qualityBands"`
	TagScoreBands     []Bucket        `json:"tagScoreBands"`
	Classifications   Classifications `json:"classifications"`
	Clusters          []Cluster       `json:"clusters"`
	Statistics        Statistics      `json:"statistics"`
}

// Engine aggregates analyses. The clock only stamps GeneratedAt.
type Engine struct {
	now func() time.Time
}

func NewEngine(now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{now: now}
}

// Aggregate runs the default engine.
func Aggregate(analyses []*models.CaseAnalysis) *Aggregation {
	return NewEngine(nil).Aggregate(analyses)
}

func (e *Engine) Aggregate(analyses []*models.CaseAnalysis) *Aggregation {
	input := make([]*models.CaseAnalysis, 0, len(analyses))
	for _, a := range analyses {
		if a != nil {
			input = append(input, a)
		}
	}

	agg := &Aggregation{
		GeneratedAt: e.now().UTC(),
		TotalCases:  len(input),
	}
	if len(input) == 0 {
		agg.fillEmpty()
		return agg
	}

	agg.BucketCategories = singleValue(input, func(a *models.CaseAnalysis) string {
		if a.Bucket == nil {
			return ""
		}
		return a.Bucket.Category
	})
	agg.BucketConfidence = singleValue(input, func(a *models.CaseAnalysis) string {
		if a.Bucket == nil {
			return ""
		}
		return string(a.Bucket.Confidence)
	})
	agg.IssueCategories = singleValue(input, issueField(func(i *models.IssueAnalysis) string { return i.Tags.Category }))
	agg.IssueTypes = singleValue(input, issueField(func(i *models.IssueAnalysis) string { return i.Tags.IssueType }))
	agg.Severity = singleValue(input, issueField(func(i *models.IssueAnalysis) string { return i.Tags.Severity }))
	agg.Complexity = singleValue(input, issueField(func(i *models.IssueAnalysis) string { return i.Tags.Complexity }))
	agg.Products = singleValue(input, func(a *models.CaseAnalysis) string { return a.Product })
	agg.CustomerSentiment = singleValue(input, issueField(func(i *models.IssueAnalysis) string { return i.Sentiment.Customer.Overall }))
	agg.Frustration = singleValue(input, issueField(func(i *models.IssueAnalysis) string { return i.Sentiment.Customer.Frustration }))

	agg.ProductAreas = multiValue(input, func(a *models.CaseAnalysis) []string {
		if a.Issue == nil {
			return nil
		}
		return a.Issue.Tags.ProductAreas
	})

	agg.QualityBands = scoreBands(input, func(a *models.CaseAnalysis) (float64, bool) {
		if a.Issue == nil {
			return 0, false
		}
		return a.Issue.QualityScores.Overall, true
	})
	agg.TagScoreBands = scoreBands(input, func(a *models.CaseAnalysis) (float64, bool) {
		if a.Tags == nil || len(a.Tags.ProvidedTags) == 0 {
			return 0, false
		}
		return a.Tags.CoverageScore, true
	})

	agg.Classifications = Classifications{
		KBCandidates: classify(input, "KB candidates", func(a *models.CaseAnalysis) (bool, bool) {
			if a.Issue == nil {
				return false, false
			}
			return a.Issue.Insights.KBCandidate, true
		}, true),
		NeedsHumanReview: classify(input, "Needs human review", func(a *models.CaseAnalysis) (bool, bool) {
			if a.Issue == nil {
				return false, false
			}
			return a.Issue.Metadata.RequiresHumanReview, true
		}, true),
		TagsValid: classify(input, "Tags valid", func(a *models.CaseAnalysis) (bool, bool) {
			if a.Tags == nil || a.Tags.LLM == nil {
				return false, false
			}
			return a.Tags.LLM.IsValid, true
		}, true),
		KBRelevant:   classify(input, "KB relevant", relevanceValid(func(a *models.CaseAnalysis) *models.RelevanceVerdict { return a.KB }), true),
		JIRARelevant: classify(input, "JIRA relevant", relevanceValid(func(a *models.CaseAnalysis) *models.RelevanceVerdict { return a.JIRA }), true),
	}

	agg.Clusters = clusters(input)
	agg.Statistics = statistics(input)
	return agg
}

func (agg *Aggregation) fillEmpty() {
	agg.BucketCategories = []Bucket{}
	agg.BucketConfidence = []Bucket{}
	agg.IssueCategories = []Bucket{}
	agg.IssueTypes = []Bucket{}
	agg.Severity = []Bucket{}
	agg.Complexity = []Bucket{}
	agg.Products = []Bucket{}
	agg.ProductAreas = []Bucket{}
	agg.CustomerSentiment = []Bucket{}
	agg.Frustration = []Bucket{}
	agg.QualityBands = emptyBands()
	agg.TagScoreBands = emptyBands()
	agg.Classifications = Classifications{
		KBCandidates:     emptyBucket("KB candidates"),
		NeedsHumanReview: emptyBucket("Needs human review"),
		TagsValid:        emptyBucket("Tags valid"),
		KBRelevant:       emptyBucket("KB relevant"),
		JIRARelevant:     emptyBucket("JIRA relevant"),
	}
	agg.Clusters = []Cluster{}
}

func issueField(get func(*models.IssueAnalysis) string) func(*models.CaseAnalysis) string {
	return func(a *models.CaseAnalysis) string {
		if a.Issue == nil {
			return ""
		}
		return get(a.Issue)
	}
}

func relevanceValid(get func(*models.CaseAnalysis) *models.RelevanceVerdict) func(*models.CaseAnalysis) (bool, bool) {
	return func(a *models.CaseAnalysis) (bool, bool) {
		v := get(a)
		if v == nil {
			return false, false
		}
		return v.IsValid, true
	}
}

func percentage(count, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(total) * 100))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func emptyBucket(name string) Bucket {
	return Bucket{Name: name, Cases: []string{}}
}

// sortBuckets orders by count descending, then name.
func sortBuckets(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].Name < buckets[j].Name
	})
}

func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return Unknown
	}
	return v
}
