package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/case-review/backend/internal/aggregation"
	"github.com/case-review/backend/internal/analyzer"
	"github.com/case-review/backend/internal/batch"
	"github.com/case-review/backend/internal/casecontext"
	"github.com/case-review/backend/internal/middleware/validation"
	"github.com/case-review/backend/internal/review"
	"github.com/case-review/backend/internal/storage/models"
	"github.com/case-review/backend/internal/vocabulary"
)

type fakeReviewer struct {
	err error
}

func (f *fakeReviewer) AnalyzeCase(_ context.Context, caseNumber string) (*models.CaseAnalysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.CaseAnalysis{CaseNumber: caseNumber, Model: "gpt-test"}, nil
}

func (f *fakeReviewer) BucketiseCase(_ context.Context, _ string) (*analyzer.Result[*models.BucketVerdict], error) {
	if f.err != nil {
		return nil, f.err
	}
	return &analyzer.Result[*models.BucketVerdict]{
		Value:    &models.BucketVerdict{Category: analyzer.CategoryBug, CategoryID: 1},
		Warnings: []string{"confidence defaulted"},
	}, nil
}

func (f *fakeReviewer) ValidateKBRelevance(_ context.Context, _ string) (*analyzer.Result[*models.RelevanceVerdict], error) {
	return &analyzer.Result[*models.RelevanceVerdict]{
		Value: &models.RelevanceVerdict{Source: "kb", IsValid: true, TopScore: 90, Threshold: 70},
	}, nil
}

func (f *fakeReviewer) ValidateJIRARelevance(_ context.Context, _ string) (*analyzer.Result[*models.RelevanceVerdict], error) {
	return &analyzer.Result[*models.RelevanceVerdict]{
		Value: &models.RelevanceVerdict{Source: "jira", TopScore: 10, Threshold: 70},
	}, nil
}

func caseApp(reviewer CaseReviewer) *fiber.App {
	app := fiber.New()
	h := NewCaseHandler(reviewer)
	app.Post("/cases/:caseNumber/analyze", h.Analyze)
	app.Post("/cases/:caseNumber/bucketise", h.Bucketise)
	app.Post("/cases/:caseNumber/relevance/kb", h.KBRelevance)
	app.Post("/cases/:caseNumber/relevance/jira", h.JIRARelevance)
	return app
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestCaseHandlerAnalyze(t *testing.T) {
	app := caseApp(&fakeReviewer{})

	resp, err := app.Test(httptest.NewRequest("POST", "/cases/123/analyze", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decode(t, resp.Body)
	assert.Equal(t, "123", body["caseNumber"])
	assert.Equal(t, "gpt-test", body["model"])
}

func TestCaseHandlerBucketiseAndRelevance(t *testing.T) {
	app := caseApp(&fakeReviewer{})

	resp, err := app.Test(httptest.NewRequest("POST", "/cases/123/bucketise", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp.Body)
	bucket := body["bucket"].(map[string]interface{})
	assert.Equal(t, analyzer.CategoryBug, bucket["category"])
	assert.Equal(t, []interface{}{"confidence defaulted"}, body["warnings"])

	resp, err = app.Test(httptest.NewRequest("POST", "/cases/123/relevance/kb", nil))
	require.NoError(t, err)
	body = decode(t, resp.Body)
	assert.Equal(t, true, body["relevance"].(map[string]interface{})["isValid"])

	resp, err = app.Test(httptest.NewRequest("POST", "/cases/123/relevance/jira", nil))
	require.NoError(t, err)
	body = decode(t, resp.Body)
	assert.Equal(t, false, body["relevance"].(map[string]interface{})["isValid"])
}

func TestCaseHandlerErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("case 1: %w", review.ErrCaseNotFound), fiber.StatusNotFound},
		{"missing field", &casecontext.MissingFieldError{CaseNumber: "1", Field: "subject"}, fiber.StatusUnprocessableEntity},
		{"analyzer", &analyzer.Error{Analyzer: analyzer.NameIssue, CaseNumber: "1", Cause: errors.New("bad json")}, fiber.StatusBadGateway},
		{"timeout", &analyzer.Error{Analyzer: analyzer.NameBucket, CaseNumber: "1", Cause: context.DeadlineExceeded}, fiber.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := caseApp(&fakeReviewer{err: tt.err})
			resp, err := app.Test(httptest.NewRequest("POST", "/cases/1/analyze", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestCaseHandlerMissingFieldReportsField(t *testing.T) {
	app := caseApp(&fakeReviewer{err: &casecontext.MissingFieldError{CaseNumber: "1", Field: "subject"}})

	resp, err := app.Test(httptest.NewRequest("POST", "/cases/1/bucketise", nil))
	require.NoError(t, err)
	body := decode(t, resp.Body)
	assert.Equal(t, "subject", body["field"])
}

type syncRunner struct {
	orchestrator *batch.Orchestrator
	fn           batch.CaseFunc
}

func (r *syncRunner) StartBatch(caseNumbers []string, opts review.BatchOptions) *batch.Run {
	bo := batch.Options{Name: "analysis", Concurrency: opts.Concurrency, Force: opts.Force}
	run := r.orchestrator.Start(caseNumbers, bo)
	r.orchestrator.Execute(context.Background(), run, caseNumbers, r.fn, bo)
	return run
}

func (r *syncRunner) Registry() *batch.Registry { return r.orchestrator.Registry() }

func TestBatchHandlerSubmitAndGet(t *testing.T) {
	runner := &syncRunner{
		orchestrator: batch.NewOrchestrator(nil, nil),
		fn: func(_ context.Context, caseNumber string) error {
			if caseNumber == "2" {
				return errors.New("llm down")
			}
			return nil
		},
	}

	app := fiber.New()
	h := NewBatchHandler(runner)
	app.Post("/batches", validation.BatchBody(validation.Config{}), h.Submit)
	app.Get("/batches/:id", h.Get)

	req := httptest.NewRequest("POST", "/batches", bytes.NewBufferString(`{"caseNumbers":["1","2","1"],"concurrency":2}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	body := decode(t, resp.Body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.EqualValues(t, 2, body["total"])

	resp, err = app.Test(httptest.NewRequest("GET", "/batches/"+id, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body = decode(t, resp.Body)
	assert.Equal(t, true, body["done"])
	run := body["run"].(map[string]interface{})
	assert.Equal(t, []interface{}{"1"}, run["succeeded"])
	assert.Len(t, run["failed"], 1)

	resp, err = app.Test(httptest.NewRequest("GET", "/batches/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestBatchHandlerSubmitWithoutValidation(t *testing.T) {
	app := fiber.New()
	app.Post("/batches", NewBatchHandler(&syncRunner{orchestrator: batch.NewOrchestrator(nil, nil)}).Submit)

	resp, err := app.Test(httptest.NewRequest("POST", "/batches", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

type fakeAggregator struct {
	err error
}

func (f fakeAggregator) Aggregate(_ context.Context) (*aggregation.Aggregation, error) {
	if f.err != nil {
		return nil, f.err
	}
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return aggregation.NewEngine(func() time.Time { return now }).Aggregate(nil), nil
}

func TestAggregationHandler(t *testing.T) {
	app := fiber.New()
	app.Get("/aggregation", NewAggregationHandler(fakeAggregator{}).Aggregate)

	resp, err := app.Test(httptest.NewRequest("GET", "/aggregation", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	resp, err = app.Test(httptest.NewRequest("GET", "/aggregation?format=text", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	failing := fiber.New()
	failing.Get("/aggregation", NewAggregationHandler(fakeAggregator{err: errors.New("mongo down")}).Aggregate)
	resp, err = failing.Test(httptest.NewRequest("GET", "/aggregation", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestVocabularyHandler(t *testing.T) {
	loads := 0
	holder := vocabulary.NewHolder(vocabulary.LoaderFunc(func(_ context.Context) (*vocabulary.Snapshot, error) {
		loads++
		if loads > 1 {
			return nil, errors.New("file missing")
		}
		return vocabulary.NewSnapshot([]string{"Upgrade", "Outage"}, []string{"Rollback"}), nil
	}))

	app := fiber.New()
	h := NewVocabularyHandler(holder)
	app.Get("/vocabulary", h.Get)
	app.Post("/vocabulary/reload", h.Reload)

	resp, err := app.Test(httptest.NewRequest("POST", "/vocabulary/reload", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 3, decode(t, resp.Body)["size"])

	resp, err = app.Test(httptest.NewRequest("POST", "/vocabulary/reload", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/vocabulary", nil))
	require.NoError(t, err)
	assert.EqualValues(t, 3, decode(t, resp.Body)["size"])

	static := fiber.New()
	static.Post("/vocabulary/reload", NewVocabularyHandler(vocabulary.NewStaticHolder(nil, nil)).Reload)
	resp, err = static.Test(httptest.NewRequest("POST", "/vocabulary/reload", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
