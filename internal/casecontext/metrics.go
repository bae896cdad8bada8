package casecontext

import (
	"math"
	"sort"
	"time"

	"github.com/case-review/backend/internal/storage/models"
)

// ComputeResponseMetrics derives support response times from a conversation.
//
// Messages are ordered by timestamp. The first customer message after the
// last support reply starts a wait and the next support message ends it.
// A customer message that never gets a support reply is not counted.
func ComputeResponseMetrics(messages []models.Message) models.ResponseMetrics {
	var metrics models.ResponseMetrics
	if len(messages) == 0 {
		return metrics
	}

	ordered := make([]models.Message, len(messages))
	copy(ordered, messages)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var (
		waits   []float64
		pending *time.Time
	)
	for i := range ordered {
		m := ordered[i]
		switch m.Direction {
		case models.DirectionInbound:
			metrics.CustomerMessageCount++
			if pending == nil && !m.Timestamp.IsZero() {
				ts := m.Timestamp
				pending = &ts
			}
		case models.DirectionOutbound:
			metrics.SupportMessageCount++
			if pending != nil && !m.Timestamp.IsZero() {
				waits = append(waits, m.Timestamp.Sub(*pending).Hours())
				pending = nil
			}
		}
	}

	if len(waits) == 0 {
		return metrics
	}

	sort.Float64s(waits)
	sum := 0.0
	for _, w := range waits {
		sum += w
	}

	metrics.ResponseCount = len(waits)
	metrics.AverageHours = round1(sum / float64(len(waits)))
	metrics.MinHours = round1(waits[0])
	metrics.MaxHours = round1(waits[len(waits)-1])

	mid := len(waits) / 2
	if len(waits)%2 == 0 {
		metrics.MedianHours = round1((waits[mid-1] + waits[mid]) / 2)
	} else {
		metrics.MedianHours = round1(waits[mid])
	}

	return metrics
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
