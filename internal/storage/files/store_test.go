package files

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/case-review/backend/internal/aggregation"
	"github.com/case-review/backend/internal/storage/models"
)

func TestSaveUsesShortCaseNumber(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "0001234")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, &models.CaseAnalysis{CaseNumber: "0001234", Subject: "disk"}))

	_, err = os.Stat(filepath.Join(s.Dir(), "analysis_1234.json"))
	require.NoError(t, err)

	ok, err = s.Exists(ctx, "0001234")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Load(ctx, "1234")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "disk", got.Subject)
}

func TestSaveOverwritesSingleRecord(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &models.CaseAnalysis{CaseNumber: "7", Subject: "first"}))
	require.NoError(t, s.Save(ctx, &models.CaseAnalysis{CaseNumber: "7", Subject: "second"}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "second", all[0].Subject)
}

func TestLoadMissingReturnsNil(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	got, err := s.Load(context.Background(), "99")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListSkipsMalformedFiles(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &models.CaseAnalysis{CaseNumber: "1"}))
	require.NoError(t, s.Save(ctx, &models.CaseAnalysis{CaseNumber: "2"}))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "analysis_3.json"), []byte("{not json"), 0o644))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSummaryRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	none, err := s.LoadSummary(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	agg := aggregation.NewEngine(func() time.Time { return time.Unix(0, 0).UTC() }).Aggregate(nil)
	path, err := s.SaveSummary(ctx, agg)
	require.NoError(t, err)
	assert.Equal(t, SummaryFile, filepath.Base(path))

	got, err := s.LoadSummary(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.TotalCases)
}
