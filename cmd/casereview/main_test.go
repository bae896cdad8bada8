package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCaseNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.txt")
	require.NoError(t, os.WriteFile(path, []byte("# weekly\n00123\n\n00124\n00123\n"), 0o644))

	got, err := readCaseNumbers([]string{"00999", "00124"}, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"00999", "00124", "00123"}, got)
}

func TestReadCaseNumbersRejectsInvalid(t *testing.T) {
	_, err := readCaseNumbers([]string{"12a"}, "")
	assert.Error(t, err)
}

func TestDecodeCases(t *testing.T) {
	single, err := decodeCases([]byte(`{"caseNumber":"1","subject":"Disk failure"}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, "Disk failure", single[0].Subject)

	many, err := decodeCases([]byte("\n [{\"caseNumber\":\"1\"},{\"caseNumber\":\"2\"}]"))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = decodeCases([]byte(`{"caseNumber":`))
	assert.Error(t, err)
}

func TestSelectionFilter(t *testing.T) {
	f := selectionFlags{product: "AOS", closedOnly: true, closedAfter: "2024-01-31", limit: 10}

	filter, err := f.filter()
	require.NoError(t, err)
	assert.Equal(t, "AOS", filter.Product)
	require.NotNil(t, filter.ClosedAfter)
	assert.Equal(t, 31, filter.ClosedAfter.Day())

	f.closedAfter = "31/01/2024"
	_, err = f.filter()
	assert.Error(t, err)
}

func TestRootRegistersCommands(t *testing.T) {
	for _, name := range []string{"analyze", "bucketise", "relevance", "batch", "import", "aggregate", "cases", "vocab"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
