package casecontext

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/case-review/backend/internal/htmltext"
	"github.com/case-review/backend/internal/storage/models"
)

func sampleCase() *models.Case {
	base := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	return &models.Case{
		CaseNumber:      "00123456",
		Subject:         "Prism Central login fails after upgrade",
		Description:     "<p>Users see <b>403</b> on login.</p>",
		Product:         "Prism Central",
		Priority:        "P3",
		Status:          "Closed",
		OpenTags:        []string{"Prism Central - PC Management", "AHV Networking"},
		CloseTags:       []string{"prism central - pc management", "Upgrade"},
		ResolutionNotes: "Customer upgraded PC to the latest release. Restarted the IAM pods. Issue did not recur.",
		JiraKeys:        []string{"ENG-1001"},
		Messages: []models.Message{
			{Direction: models.DirectionInbound, Timestamp: base, Content: "Login broken"},
			{Direction: models.DirectionOutbound, Timestamp: base.Add(2 * time.Hour), Content: "<p>Please collect <i>logs</i></p>", IsHTML: true},
		},
	}
}

func TestBuildRequiresIdentifyingFields(t *testing.T) {
	c := sampleCase()
	c.Subject = "  "

	_, err := Build(c, KindBucket)

	var missing *MissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "subject", missing.Field)
	assert.Equal(t, "00123456", missing.CaseNumber)

	_, err = Build(&models.Case{Subject: "x"}, KindBucket)
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "caseNumber", missing.Field)

	_, err = Build(nil, KindBucket)
	require.Error(t, err)
}

func TestBuildRejectsUnknownKind(t *testing.T) {
	_, err := Build(sampleCase(), Kind("summary"))
	require.Error(t, err)
}

func TestBuildConvertsHTMLAndFlattensTags(t *testing.T) {
	ctx, err := Build(sampleCase(), KindTags)
	require.NoError(t, err)

	assert.Equal(t, "Users see **403** on login.", ctx.Description)
	assert.Equal(t, []string{"Prism Central - PC Management", "AHV Networking", "Upgrade"}, ctx.Tags)
	assert.Equal(t, []string{"ENG-1001"}, ctx.LinkedDefects)
	require.Len(t, ctx.Conversation, 2)
	assert.Equal(t, "Please collect *logs*", ctx.Conversation[1].Content)
	assert.Nil(t, ctx.ResponseMetrics)
	assert.Empty(t, ctx.Truncated)
}

func TestBuildTruncatesAndRecordsFields(t *testing.T) {
	c := sampleCase()
	c.Description = strings.Repeat("d", 5000)
	for i := 0; i < 20; i++ {
		c.Messages = append(c.Messages, models.Message{
			Direction: models.DirectionInbound,
			Content:   strings.Repeat("m", 900),
		})
	}

	ctx, err := Build(c, KindBucket)
	require.NoError(t, err)

	limits, _ := LimitsFor(KindBucket)
	assert.Len(t, []rune(ctx.Description), limits.Description)
	assert.Len(t, ctx.Conversation, limits.MaxMessages)
	assert.Equal(t, 22, ctx.MessageCount)
	assert.Contains(t, ctx.Truncated, "description")
	assert.Contains(t, ctx.Truncated, "conversation")
	assert.Contains(t, ctx.Truncated, "conversation.content")

	again, cut := htmltext.Truncate(ctx.Description, limits.Description)
	assert.False(t, cut)
	assert.Equal(t, ctx.Description, again)
}

func TestBuildIssueKindCarriesResponseMetrics(t *testing.T) {
	ctx, err := Build(sampleCase(), KindIssue)
	require.NoError(t, err)
	require.NotNil(t, ctx.ResponseMetrics)
	assert.Equal(t, 1, ctx.ResponseMetrics.ResponseCount)
	assert.Equal(t, 2.0, ctx.ResponseMetrics.AverageHours)
	assert.Contains(t, ctx.JSON(), `"caseNumber": "00123456"`)
}

func TestBuildExtractsActions(t *testing.T) {
	ctx, err := Build(sampleCase(), KindBucket)
	require.NoError(t, err)
	require.NotEmpty(t, ctx.Actions)
	assert.Contains(t, ctx.Actions[0], "upgraded PC")
}

func TestFlattenTags(t *testing.T) {
	got := FlattenTags([]string{" A ", "b"}, []string{"B", "", "c"}, nil)
	assert.Equal(t, []string{"A", "b", "c"}, got)
	assert.Nil(t, FlattenTags())
}

func TestEscalationSummary(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	got := EscalationSummary(&models.Escalation{Escalated: true, Level: "L3", Reason: "<p>data loss risk</p>", EscalatedAt: &at})
	assert.Equal(t, "Escalated (L3) on 2024-01-02: data loss risk", got)
	assert.Empty(t, EscalationSummary(&models.Escalation{}))
	assert.Empty(t, EscalationSummary(nil))
}

func TestVagueResolution(t *testing.T) {
	assert.True(t, VagueResolution(""))
	assert.True(t, VagueResolution("N/A"))
	assert.True(t, VagueResolution("<p>resolved</p>"))
	assert.True(t, VagueResolution("customer closed"))
	assert.False(t, VagueResolution("Replaced the failed DIMM in node B and verified NCC passes."))
}

func TestComputeResponseMetricsPairsCustomerAndSupport(t *testing.T) {
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{Direction: models.DirectionOutbound, Timestamp: base.Add(3 * time.Hour)},
		{Direction: models.DirectionInbound, Timestamp: base},
		{Direction: models.DirectionInbound, Timestamp: base.Add(1 * time.Hour)},
		{Direction: models.DirectionInbound, Timestamp: base.Add(10 * time.Hour)},
		{Direction: models.DirectionOutbound, Timestamp: base.Add(11 * time.Hour)},
		{Direction: models.DirectionOutbound, Timestamp: base.Add(12 * time.Hour)},
		// never answered
		{Direction: models.DirectionInbound, Timestamp: base.Add(20 * time.Hour)},
	}

	got := ComputeResponseMetrics(msgs)

	assert.Equal(t, 2, got.ResponseCount)
	assert.Equal(t, 4, got.CustomerMessageCount)
	assert.Equal(t, 3, got.SupportMessageCount)
	assert.Equal(t, 2.0, got.AverageHours)
	assert.Equal(t, 1.0, got.MinHours)
	assert.Equal(t, 3.0, got.MaxHours)
	assert.Equal(t, 2.0, got.MedianHours)
}

func TestComputeResponseMetricsEmpty(t *testing.T) {
	assert.Equal(t, models.ResponseMetrics{}, ComputeResponseMetrics(nil))
}

func TestExtractActions(t *testing.T) {
	text := "Collected logs from the cluster.\n- Applied the hotfix to all CVMs.\nRebooted the third host. Monitoring looks fine."
	got := ExtractActions(text, 5)
	assert.Equal(t, []string{"Applied the hotfix to all CVMs.", "Rebooted the third host."}, got)
	assert.Len(t, ExtractActions(text, 1), 1)
	assert.Nil(t, ExtractActions("", 3))
}
