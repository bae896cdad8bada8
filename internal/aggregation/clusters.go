package aggregation

import (
	"regexp"
	"sort"
	"strings"

	"github.com/case-review/backend/internal/storage/models"
)

var nonTopicChars = regexp.MustCompile(`[^a-z0-9\s]+`)

// NormalizeTopic lowercases a topic, deletes everything outside [a-z0-9]
// and whitespace, then keeps the first five words longer than two
// characters. Deleting rather than splitting means "Prism-Central" becomes
// "prismcentral" and "it's" becomes "its".
func NormalizeTopic(topic string) string {
	words := strings.Fields(nonTopicChars.ReplaceAllString(strings.ToLower(topic), ""))

	kept := make([]string, 0, 5)
	for _, w := range words {
		if len([]rune(w)) <= 2 {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 5 {
			break
		}
	}
	if len(kept) == 0 {
		return OtherTopic
	}
	return strings.Join(kept, " ")
}

// ColorFor maps a cluster's share of all cases to one of four tiers.
func ColorFor(count, total int) string {
	if total == 0 {
		return ColorMinor
	}
	share := float64(count) / float64(total) * 100
	switch {
	case share >= 20:
		return ColorDominant
	case share >= 10:
		return ColorMajor
	case share >= 5:
		return ColorNotable
	default:
		return ColorMinor
	}
}

type clusterAcc struct {
	cluster      Cluster
	keywords     map[string]bool
	productAreas map[string]bool
}

func clusters(analyses []*models.CaseAnalysis) []Cluster {
	index := make(map[string]*clusterAcc)
	var order []string

	for _, a := range analyses {
		topic := ""
		var keywords, areas []string
		if a.Issue != nil {
			topic = a.Issue.Clustering.PrimaryTopic
			keywords = a.Issue.Clustering.Keywords
			areas = a.Issue.Tags.ProductAreas
		}
		key := NormalizeTopic(topic)

		acc, ok := index[key]
		if !ok {
			acc = &clusterAcc{
				cluster:      Cluster{Topic: key},
				keywords:     make(map[string]bool),
				productAreas: make(map[string]bool),
			}
			index[key] = acc
			order = append(order, key)
		}
		acc.cluster.Count++
		acc.cluster.Cases = append(acc.cluster.Cases, a.CaseNumber)
		for _, k := range keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				acc.keywords[k] = true
			}
		}
		for _, p := range areas {
			if p = strings.TrimSpace(p); p != "" {
				acc.productAreas[p] = true
			}
		}
	}

	out := make([]Cluster, 0, len(order))
	for _, key := range order {
		acc := index[key]
		c := acc.cluster
		c.Keywords = sortedSet(acc.keywords)
		c.ProductAreas = sortedSet(acc.productAreas)
		c.Percentage = percentage(c.Count, len(analyses))
		c.Color = ColorFor(c.Count, len(analyses))
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Topic < out[j].Topic
	})
	if len(out) > MaxClusters {
		out = out[:MaxClusters]
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
