package casecontext

import (
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
)

var actionPattern = regexp.MustCompile(`(?i)\b(applied|upgraded|restarted|rebooted|replaced|patched|fixed|reconfigured|updated|enabled|disabled|removed|reset|recommended|advised|workaround|ran|executed|migrated|increased|cleared)\b`)

var sentenceFallback = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

// ExtractActions returns up to max sentences from text that describe an
// action taken on the customer environment, in their original order.
func ExtractActions(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" || max <= 0 {
		return nil
	}

	var actions []string
	for _, sentence := range sentences(text) {
		sentence = strings.TrimSpace(strings.TrimLeft(sentence, "-* "))
		if sentence == "" || !actionPattern.MatchString(sentence) {
			continue
		}
		actions = append(actions, sentence)
		if len(actions) == max {
			break
		}
	}
	return actions
}

func sentences(text string) []string {
	var out []string
	// Line breaks in resolution notes usually separate steps, so each line is
	// segmented on its own.
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		doc, err := prose.NewDocument(line,
			prose.WithTagging(false),
			prose.WithExtraction(false),
			prose.WithTokenization(false),
		)
		if err != nil {
			out = append(out, sentenceFallback.FindAllString(line, -1)...)
			continue
		}
		for _, s := range doc.Sentences() {
			out = append(out, s.Text)
		}
	}
	return out
}
