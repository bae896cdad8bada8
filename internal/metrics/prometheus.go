package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_llm_requests_total",
			Help: "Total LLM completion requests",
		},
		[]string{"model", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "case_review_llm_request_duration_seconds",
			Help:    "LLM completion latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"model"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "case_review_analysis_duration_seconds",
			Help:    "Per-case analyzer duration in seconds",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"analyzer"},
	)

	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_analysis_total",
			Help: "Total analyzer runs",
		},
		[]string{"analyzer", "status"},
	)

	ValidationWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_validation_warnings_total",
			Help: "Validation warnings raised on parsed LLM output",
		},
		[]string{"analyzer"},
	)

	ParseMethod = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_response_parse_total",
			Help: "LLM responses parsed, by extraction method",
		},
		[]string{"method"},
	)

	BatchCases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_batch_cases_total",
			Help: "Cases settled by batch runs",
		},
		[]string{"outcome"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "case_review_batch_duration_seconds",
			Help:    "Batch run duration in seconds",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ReferenceFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_review_reference_fetch_errors_total",
			Help: "Failed KB/JIRA reference lookups",
		},
		[]string{"source"},
	)

	VocabularySize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "case_review_vocabulary_tags",
			Help: "Number of tags in the loaded vocabulary",
		},
		[]string{"kind"},
	)

	CasesImported = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "case_review_cases_imported_total",
			Help: "Total case snapshots imported into the document store",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(LLMRequests)
		prometheus.MustRegister(LLMDuration)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(AnalysisDuration)
		prometheus.MustRegister(AnalysisTotal)
		prometheus.MustRegister(ValidationWarnings)
		prometheus.MustRegister(ParseMethod)
		prometheus.MustRegister(BatchCases)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(ReferenceFetchErrors)
		prometheus.MustRegister(VocabularySize)
		prometheus.MustRegister(CasesImported)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
