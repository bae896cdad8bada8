package casecontext

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/case-review/backend/internal/htmltext"
	"github.com/case-review/backend/internal/storage/models"
)

type Kind string

const (
	KindIssue     Kind = "issue"
	KindBucket    Kind = "bucket"
	KindTags      Kind = "tags"
	KindRelevance Kind = "relevance"
)

// Limits bounds every text field of a context, in runes.
type Limits struct {
	Subject      int
	Description  int
	Resolution   int
	PerMessage   int
	MaxMessages  int
	Escalation   int
	MaxActions   int
	ActionLength int
}

var limitsByKind = map[Kind]Limits{
	KindIssue:     {Subject: 300, Description: 2000, Resolution: 1000, PerMessage: 500, MaxMessages: 12, Escalation: 300, MaxActions: 5, ActionLength: 200},
	KindBucket:    {Subject: 300, Description: 1500, Resolution: 1000, PerMessage: 400, MaxMessages: 8, Escalation: 300, MaxActions: 5, ActionLength: 200},
	KindTags:      {Subject: 300, Description: 1500, Resolution: 800, PerMessage: 300, MaxMessages: 4, Escalation: 200, MaxActions: 3, ActionLength: 150},
	KindRelevance: {Subject: 300, Description: 1500, Resolution: 800, PerMessage: 300, MaxMessages: 4, Escalation: 200, MaxActions: 3, ActionLength: 150},
}

// LimitsFor returns the field limits for kind.
func LimitsFor(kind Kind) (Limits, bool) {
	l, ok := limitsByKind[kind]
	return l, ok
}

type Message struct {
	Direction string `json:"direction"`
	Author    string `json:"author,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Content   string `json:"content"`
}

// CaseContext is the bounded, analyzer-specific view of a case that goes
// into a prompt.
type CaseContext struct {
	Kind            Kind                    `json:"-"`
	CaseNumber      string                  `json:"caseNumber"`
	Subject         string                  `json:"subject"`
	Product         string                  `json:"product,omitempty"`
	Priority        string                  `json:"priority,omitempty"`
	Status          string                  `json:"status,omitempty"`
	Description     string                  `json:"description,omitempty"`
	ResolutionNotes string                  `json:"resolutionNotes,omitempty"`
	Actions         []string                `json:"actionsTaken,omitempty"`
	Escalation      string                  `json:"escalation,omitempty"`
	Tags            []string                `json:"tags,omitempty"`
	OpenTags        []string                `json:"openTags,omitempty"`
	CloseTags       []string                `json:"closeTags,omitempty"`
	LinkedDefects   []string                `json:"linkedDefects,omitempty"`
	KBArticles      []string                `json:"kbArticles,omitempty"`
	MessageCount    int                     `json:"messageCount"`
	Conversation    []Message               `json:"conversation,omitempty"`
	ResponseMetrics *models.ResponseMetrics `json:"responseMetrics,omitempty"`
	Truncated       []string                `json:"truncatedFields,omitempty"`
}

// JSON renders the context for prompt inclusion.
func (c *CaseContext) JSON() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Build condenses c into a context for kind. It performs no I/O.
func Build(c *models.Case, kind Kind) (*CaseContext, error) {
	if c == nil {
		return nil, &MissingFieldError{Field: "case"}
	}
	if strings.TrimSpace(c.CaseNumber) == "" {
		return nil, &MissingFieldError{Field: "caseNumber"}
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, &MissingFieldError{CaseNumber: c.CaseNumber, Field: "subject"}
	}

	limits, ok := limitsByKind[kind]
	if !ok {
		return nil, fmt.Errorf("unknown context kind %q", kind)
	}

	ctx := &CaseContext{
		Kind:         kind,
		CaseNumber:   strings.TrimSpace(c.CaseNumber),
		Product:      c.Product,
		Priority:     c.Priority,
		Status:       c.Status,
		MessageCount: len(c.Messages),
	}

	ctx.Subject = ctx.clip("subject", htmltext.ToText(c.Subject), limits.Subject)
	ctx.Description = ctx.clip("description", htmltext.ToText(c.Description), limits.Description)

	resolution := htmltext.ToText(c.ResolutionNotes)
	ctx.ResolutionNotes = ctx.clip("resolutionNotes", resolution, limits.Resolution)

	for _, action := range ExtractActions(resolution, limits.MaxActions) {
		clipped, _ := htmltext.Truncate(action, limits.ActionLength)
		ctx.Actions = append(ctx.Actions, clipped)
	}

	ctx.Escalation = ctx.clip("escalation", EscalationSummary(c.Escalation), limits.Escalation)

	ctx.OpenTags = FlattenTags(c.OpenTags)
	ctx.CloseTags = FlattenTags(c.CloseTags)
	ctx.Tags = FlattenTags(c.OpenTags, c.CloseTags)
	ctx.LinkedDefects = FlattenTags(c.JiraKeys)
	ctx.KBArticles = FlattenTags(c.KBArticles)

	ctx.Conversation = ctx.conversation(c.Messages, limits)

	if kind == KindIssue {
		metrics := c.ResponseMetrics
		if metrics.ResponseCount == 0 && len(c.Messages) > 0 {
			metrics = ComputeResponseMetrics(c.Messages)
		}
		ctx.ResponseMetrics = &metrics
	}

	return ctx, nil
}

func (c *CaseContext) clip(field, value string, limit int) string {
	out, cut := htmltext.Truncate(value, limit)
	if cut {
		c.Truncated = append(c.Truncated, field)
	}
	return out
}

// conversation keeps the most recent messages, in chronological order.
func (c *CaseContext) conversation(messages []models.Message, limits Limits) []Message {
	if len(messages) == 0 || limits.MaxMessages <= 0 {
		return nil
	}

	start := 0
	if len(messages) > limits.MaxMessages {
		start = len(messages) - limits.MaxMessages
		c.Truncated = append(c.Truncated, "conversation")
	}

	out := make([]Message, 0, len(messages)-start)
	messageCut := false
	for _, m := range messages[start:] {
		text := htmltext.ToText(m.Content)
		if m.IsHTML {
			text = htmltext.FromHTML(m.Content)
		}
		text, cut := htmltext.Truncate(text, limits.PerMessage)
		messageCut = messageCut || cut

		var ts string
		if !m.Timestamp.IsZero() {
			ts = m.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, Message{
			Direction: string(m.Direction),
			Author:    m.Author,
			Timestamp: ts,
			Content:   text,
		})
	}
	if messageCut {
		c.Truncated = append(c.Truncated, "conversation.content")
	}
	return out
}

// FlattenTags merges tag lists into one ordered list without duplicates.
// Comparison ignores case and surrounding whitespace; the first spelling wins.
func FlattenTags(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, tag := range list {
			trimmed := strings.TrimSpace(tag)
			if trimmed == "" {
				continue
			}
			key := strings.ToLower(trimmed)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, trimmed)
		}
	}
	return out
}

func EscalationSummary(e *models.Escalation) string {
	if e == nil || !e.Escalated {
		return ""
	}
	parts := []string{"Escalated"}
	if e.Level != "" {
		parts[0] = fmt.Sprintf("Escalated (%s)", e.Level)
	}
	if e.EscalatedAt != nil {
		parts = append(parts, "on "+e.EscalatedAt.UTC().Format("2006-01-02"))
	}
	summary := strings.Join(parts, " ")
	if reason := strings.TrimSpace(htmltext.ToText(e.Reason)); reason != "" {
		summary += ": " + reason
	}
	return summary
}

var vagueResolutionPattern = regexp.MustCompile(`(?i)^(n/?a|none|nil|closed|resolved|done|fixed|no response|see above|see case|customer closed|auto[- ]?closed|-+|\.+)\.?$`)

// VagueResolution reports whether resolution notes carry no usable RCA.
func VagueResolution(notes string) bool {
	text := strings.TrimSpace(htmltext.ToText(notes))
	if len([]rune(text)) < 15 {
		return true
	}
	return vagueResolutionPattern.MatchString(text)
}
