package aggregation

import (
	"fmt"
	"strings"

	"github.com/case-review/backend/internal/storage/models"
)

type accumulator struct {
	sum, min, max float64
	count         int
}

func (a *accumulator) add(v float64) {
	if a.count == 0 || v < a.min {
		a.min = v
	}
	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.count++
}

// stat returns a zero placeholder when no case carried the field.
func (a *accumulator) stat() Stat {
	if a.count == 0 {
		return Stat{}
	}
	return Stat{
		Mean:  round1(a.sum / float64(a.count)),
		Min:   a.min,
		Max:   a.max,
		Count: a.count,
	}
}

func statistics(analyses []*models.CaseAnalysis) Statistics {
	var overall, responseTime, technical, communication, resolution, satisfaction accumulator
	var confidence, tagCoverage, tagPercent, tagLLM, kbTop, jiraTop, hours accumulator

	addScore := func(acc *accumulator, score int) {
		if score >= 1 && score <= 10 {
			acc.add(float64(score))
		}
	}

	for _, a := range analyses {
		if issue := a.Issue; issue != nil {
			q := issue.QualityScores
			if q.Overall >= 1 && q.Overall <= 10 {
				overall.add(q.Overall)
			}
			addScore(&responseTime, q.ResponseTime.Score)
			addScore(&technical, q.TechnicalAccuracy.Score)
			addScore(&communication, q.Communication.Score)
			addScore(&resolution, q.ResolutionQuality.Score)
			addScore(&satisfaction, q.CustomerSatisfaction.Score)
			if c := issue.Metadata.ConfidenceScore; c >= 0 && c <= 1 {
				confidence.add(c)
			}
		}
		if tags := a.Tags; tags != nil && len(tags.ProvidedTags) > 0 {
			tagCoverage.add(tags.CoverageScore)
			tagPercent.add(tags.CoveragePercentage)
			if tags.LLM != nil {
				tagLLM.add(tags.LLM.Score)
			}
		}
		if a.KB != nil && len(a.KB.Scores) > 0 {
			kbTop.add(float64(a.KB.TopScore))
		}
		if a.JIRA != nil && len(a.JIRA.Scores) > 0 {
			jiraTop.add(float64(a.JIRA.TopScore))
		}
		if a.ResponseMetrics != nil && a.ResponseMetrics.ResponseCount > 0 {
			hours.add(a.ResponseMetrics.AverageHours)
		}
	}

	return Statistics{
		OverallQuality:        overall.stat(),
		ResponseTime:          responseTime.stat(),
		TechnicalAccuracy:     technical.stat(),
		Communication:         communication.stat(),
		ResolutionQuality:     resolution.stat(),
		CustomerSatisfaction:  satisfaction.stat(),
		Confidence:            confidence.stat(),
		TagCoverageScore:      tagCoverage.stat(),
		TagCoveragePercentage: tagPercent.stat(),
		TagLLMScore:           tagLLM.stat(),
		KBTopScore:            kbTop.stat(),
		JIRATopScore:          jiraTop.stat(),
		ResponseHours:         hours.stat(),
	}
}

// Report renders a plain-text summary for terminals.
func Report(agg *Aggregation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Case Review Summary\n===================\n\nTotal cases: %d\nGenerated:   %s\n",
		agg.TotalCases, agg.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	writeBuckets(&sb, "Bucket categories", agg.BucketCategories)
	writeBuckets(&sb, "Quality score bands", agg.QualityBands)
	writeBuckets(&sb, "Product areas", agg.ProductAreas)

	c := agg.Classifications
	sb.WriteString("\nClassifications:\n")
	for _, b := range []Bucket{c.KBCandidates, c.NeedsHumanReview, c.TagsValid, c.KBRelevant, c.JIRARelevant} {
		fmt.Fprintf(&sb, "- %s: %d (%d%%)\n", b.Name, b.Count, b.Percentage)
	}

	if len(agg.Clusters) > 0 {
		sb.WriteString("\nTop topics:\n")
		for _, cl := range agg.Clusters {
			fmt.Fprintf(&sb, "- %s: %d (%d%%)\n", cl.Topic, cl.Count, cl.Percentage)
		}
	}

	s := agg.Statistics
	fmt.Fprintf(&sb, "\nAverage scores:\n- Overall quality: %.1f / 10 (min %.1f, max %.1f)\n- Tag coverage: %.1f / 10\n- KB top relevance: %.1f / 100\n- JIRA top relevance: %.1f / 100\n",
		s.OverallQuality.Mean, s.OverallQuality.Min, s.OverallQuality.Max,
		s.TagCoverageScore.Mean, s.KBTopScore.Mean, s.JIRATopScore.Mean)

	return sb.String()
}

func writeBuckets(sb *strings.Builder, title string, buckets []Bucket) {
	if len(buckets) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", title)
	for _, b := range buckets {
		fmt.Fprintf(sb, "- %s: %d (%d%%)\n", b.Name, b.Count, b.Percentage)
	}
}
