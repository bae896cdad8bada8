package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortCaseNumber(t *testing.T) {
	assert.Equal(t, "1234567", ShortCaseNumber("0001234567"))
	assert.Equal(t, "1234567", ShortCaseNumber("1234567"))
	assert.Equal(t, "0", ShortCaseNumber("0000"))
	assert.Equal(t, "", ShortCaseNumber(""))
}

func TestHashKeysIgnoresOrder(t *testing.T) {
	assert.Equal(t, HashKeys([]string{"ENG-1", "ENG-2"}), HashKeys([]string{"ENG-2", "ENG-1"}))
	assert.NotEqual(t, HashKeys([]string{"ENG-1"}), HashKeys([]string{"ENG-2"}))
}
