package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HashKeys hashes a set of keys independent of their order.
func HashKeys(keys []string) string {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	return HashString(strings.Join(sorted, "\x1f"))
}

// ShortCaseNumber strips leading zeros from a case number ("00123" -> "123").
func ShortCaseNumber(caseNumber string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(caseNumber), "0")
	if trimmed == "" && caseNumber != "" {
		return "0"
	}
	return trimmed
}
