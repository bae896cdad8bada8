package aggregation

import (
	"strings"

	"github.com/case-review/backend/internal/storage/models"
)

// ScoreBand is a closed range on the 1-10 scale.
type ScoreBand struct {
	Name string
	Min  float64
	Max  float64
}

// ScoreBands partition [1, 10]. A score belongs to the first band whose Min
// it reaches.
var ScoreBands = []ScoreBand{
	{Name: "9-10", Min: 9, Max: 10},
	{Name: "7-8", Min: 7, Max: 9},
	{Name: "5-6", Min: 5, Max: 7},
	{Name: "3-4", Min: 3, Max: 5},
	{Name: "1-2", Min: 1, Max: 3},
}

// BandFor returns the band index for score, or -1 outside [1, 10].
func BandFor(score float64) int {
	if score < 1 || score > 10 {
		return -1
	}
	for i, b := range ScoreBands {
		if score >= b.Min {
			return i
		}
	}
	return -1
}

// singleValue groups each case under exactly one value; missing values go to
// Unknown. Values are merged case-insensitively, first spelling wins.
func singleValue(analyses []*models.CaseAnalysis, get func(*models.CaseAnalysis) string) []Bucket {
	index := make(map[string]int)
	var buckets []Bucket
	for _, a := range analyses {
		value := cleanValue(get(a))
		key := strings.ToLower(value)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, Bucket{Name: value, Cases: []string{}})
		}
		buckets[i].Count++
		buckets[i].Cases = append(buckets[i].Cases, a.CaseNumber)
	}
	return finish(buckets, len(analyses))
}

// multiValue lets a case join one bucket per distinct value. Percentages are
// against the total case count, so they can sum past 100.
func multiValue(analyses []*models.CaseAnalysis, get func(*models.CaseAnalysis) []string) []Bucket {
	index := make(map[string]int)
	var buckets []Bucket
	for _, a := range analyses {
		values := get(a)
		if len(values) == 0 {
			values = []string{Unknown}
		}
		seen := make(map[string]bool, len(values))
		for _, raw := range values {
			value := cleanValue(raw)
			key := strings.ToLower(value)
			if seen[key] {
				continue
			}
			seen[key] = true

			i, ok := index[key]
			if !ok {
				i = len(buckets)
				index[key] = i
				buckets = append(buckets, Bucket{Name: value, Cases: []string{}})
			}
			buckets[i].Count++
			buckets[i].Cases = append(buckets[i].Cases, a.CaseNumber)
		}
	}
	return finish(buckets, len(analyses))
}

func finish(buckets []Bucket, total int) []Bucket {
	if buckets == nil {
		return []Bucket{}
	}
	for i := range buckets {
		buckets[i].Percentage = percentage(buckets[i].Count, total)
	}
	sortBuckets(buckets)
	return buckets
}

// scoreBands always returns the five bands in fixed order. Cases without a
// score in [1, 10] are left out.
func scoreBands(analyses []*models.CaseAnalysis, get func(*models.CaseAnalysis) (float64, bool)) []Bucket {
	bands := emptyBands()
	for _, a := range analyses {
		score, ok := get(a)
		if !ok {
			continue
		}
		i := BandFor(score)
		if i < 0 {
			continue
		}
		bands[i].Count++
		bands[i].Cases = append(bands[i].Cases, a.CaseNumber)
	}
	for i := range bands {
		bands[i].Percentage = percentage(bands[i].Count, len(analyses))
	}
	return bands
}

func emptyBands() []Bucket {
	bands := make([]Bucket, len(ScoreBands))
	for i, b := range ScoreBands {
		bands[i] = emptyBucket(b.Name)
	}
	return bands
}

// classify counts the cases whose boolean verdict equals target. Cases that
// carry no verdict are not counted.
func classify(analyses []*models.CaseAnalysis, name string, get func(*models.CaseAnalysis) (bool, bool), target bool) Bucket {
	b := emptyBucket(name)
	for _, a := range analyses {
		v, ok := get(a)
		if ok && v == target {
			b.Count++
			b.Cases = append(b.Cases, a.CaseNumber)
		}
	}
	b.Percentage = percentage(b.Count, len(analyses))
	return b
}
