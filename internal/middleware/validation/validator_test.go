package validation

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseNumberParam(t *testing.T) {
	app := fiber.New()
	app.Get("/cases/:caseNumber", CaseNumberParam(Config{}), func(c *fiber.Ctx) error {
		return c.SendString(c.Params("caseNumber"))
	})

	cases := map[string]int{
		"/cases/0001234":       fiber.StatusOK,
		"/cases/12ab":          fiber.StatusBadRequest,
		"/cases/1234567890123": fiber.StatusBadRequest,
	}
	for path, want := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestBatchBodyDedupesAndStoresRequest(t *testing.T) {
	app := fiber.New()
	app.Post("/batches", BatchBody(Config{}), func(c *fiber.Ctx) error {
		return c.JSON(c.Locals(LocalsBatch).(BatchRequest))
	})

	req := httptest.NewRequest("POST", "/batches", strings.NewReader(`{"caseNumbers":["1"," 2","1"],"force":true}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var got BatchRequest
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, []string{"1", "2"}, got.CaseNumbers)
	assert.True(t, got.Force)
}

func TestBatchBodyRejections(t *testing.T) {
	app := fiber.New()
	app.Post("/batches", BatchBody(Config{MaxBatchSize: 2}), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})

	bodies := map[string]int{
		`{"caseNumbers":[]}`:                     fiber.StatusBadRequest,
		`{"caseNumbers":["1","x"]}`:              fiber.StatusBadRequest,
		`{"caseNumbers":["1","2","3"]}`:          fiber.StatusRequestEntityTooLarge,
		`{"caseNumbers":["1"],"concurrency":-1}`: fiber.StatusBadRequest,
		`not json`:                               fiber.StatusBadRequest,
	}
	for body, want := range bodies {
		req := httptest.NewRequest("POST", "/batches", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, body)
	}
}

func TestMiddlewareRejectsContentType(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{}))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest("POST", "/x", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}
