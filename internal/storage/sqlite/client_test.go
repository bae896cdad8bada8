package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/case-review/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(filepath.Join(t.TempDir(), "cases.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func sampleCase(number string, closed time.Time) *models.Case {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return &models.Case{
		CaseNumber:      number,
		Subject:         "Cluster down after upgrade",
		Description:     "<p>All nodes unreachable</p>",
		Product:         "AOS",
		Priority:        "P1",
		Status:          "Closed",
		ClosedAt:        &closed,
		ResolutionNotes: "Rolled back the upgrade",
		Escalation:      &models.Escalation{Escalated: true, Level: "L3", Reason: "outage"},
		Messages: []models.Message{
			{Direction: models.DirectionOutbound, Author: "support@example.com", Channel: "email", Timestamp: base.Add(2 * time.Hour), Content: "<p>Looking</p>", IsHTML: true},
			{Direction: models.DirectionInbound, Author: "customer", Channel: "comment", Timestamp: base, Content: "Help"},
			{Direction: models.DirectionInbound, Author: "customer", Channel: "comment", Timestamp: base.Add(3 * time.Hour), Content: "Thanks"},
		},
		TimelineEvents: []models.TimelineEvent{{Type: "status", Description: "Closed", Timestamp: closed}},
		OpenTags:       []string{"Upgrade", "Outage"},
		CloseTags:      []string{"Rollback"},
		JiraKeys:       []string{"ENG-1"},
		KBArticles:     []string{"KB-100", "KB-200"},
	}
}

func TestUpsertAndGetCase(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	closed := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, c.UpsertCase(ctx, sampleCase("0001234", closed)))

	got, err := c.GetCase(ctx, "0001234")
	require.NoError(t, err)

	assert.Equal(t, "Cluster down after upgrade", got.Subject)
	assert.Equal(t, []string{"Upgrade", "Outage"}, got.OpenTags)
	assert.Equal(t, []string{"Rollback"}, got.CloseTags)
	assert.Equal(t, []string{"ENG-1"}, got.JiraKeys)
	assert.Equal(t, []string{"KB-100", "KB-200"}, got.KBArticles)
	require.NotNil(t, got.Escalation)
	assert.Equal(t, "L3", got.Escalation.Level)
	require.NotNil(t, got.ClosedAt)
	assert.True(t, closed.Equal(*got.ClosedAt))
	assert.Len(t, got.TimelineEvents, 1)

	require.Len(t, got.Messages, 3)
	assert.Equal(t, "Help", got.Messages[0].Content)
	assert.Equal(t, "<p>Looking</p>", got.Messages[1].Content)
	assert.True(t, got.Messages[1].IsHTML)
	assert.Equal(t, "email", got.Messages[1].Channel)
	assert.Equal(t, "Thanks", got.Messages[2].Content)
}

func TestUpsertReplacesChildRows(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	closed := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	cs := sampleCase("42", closed)
	require.NoError(t, c.UpsertCase(ctx, cs))

	cs.OpenTags = []string{"Networking"}
	cs.Messages = cs.Messages[:1]
	require.NoError(t, c.UpsertCase(ctx, cs))

	got, err := c.GetCase(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, []string{"Networking"}, got.OpenTags)
	assert.Len(t, got.Messages, 1)
}

func TestGetCaseNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetCase(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrCaseNotFound))
}

func TestListCaseNumbers(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	early := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	a := sampleCase("003", early)
	b := sampleCase("001", late)
	open := sampleCase("002", late)
	open.ClosedAt = nil
	open.Status = "Open"
	open.Product = "Files"

	for _, cs := range []*models.Case{a, b, open} {
		require.NoError(t, c.UpsertCase(ctx, cs))
	}

	all, err := c.ListCaseNumbers(ctx, CaseFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002", "003"}, all)

	closedOnly, err := c.ListCaseNumbers(ctx, CaseFilter{ClosedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "003"}, closedOnly)

	after := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	recent, err := c.ListCaseNumbers(ctx, CaseFilter{ClosedAfter: &after})
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, recent)

	files, err := c.ListCaseNumbers(ctx, CaseFilter{Product: "Files"})
	require.NoError(t, err)
	assert.Equal(t, []string{"002"}, files)

	limited, err := c.ListCaseNumbers(ctx, CaseFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := c.CountCases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
