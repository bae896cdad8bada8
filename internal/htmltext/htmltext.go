// Package htmltext converts HTML-bearing case fields into plain text that
// keeps a light markdown structure, and truncates text to bounded sizes.
//
// Conversion rules, applied in this order:
//  1. script, style, head, noscript and comment nodes are dropped
//  2. h1-h6 become "#"-prefixed lines
//  3. li elements become "- " lines
//  4. strong/b become **text**, em/i become *text*
//  5. a elements render as "text (href)" unless text equals href
//  6. br, p, div, tr, table and list containers become line breaks
//  7. runs of spaces are collapsed, blank lines are limited to one
package htmltext

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	tagPattern        = regexp.MustCompile(`(?i)</?(p|div|br|span|a|b|i|em|strong|ul|ol|li|h[1-6]|table|tr|td|th|font|img|html|body|pre|code)\b[^>]*>`)
	spaceRunPattern   = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
)

// LooksLikeHTML reports whether s carries HTML markup worth converting.
func LooksLikeHTML(s string) bool {
	return tagPattern.MatchString(s)
}

// ToText converts HTML to structured plain text. Plain input only gets its
// whitespace normalized.
func ToText(input string) string {
	if !LooksLikeHTML(input) {
		return normalize(input)
	}
	return FromHTML(input)
}

// FromHTML converts input as HTML regardless of whether it looks like markup.
func FromHTML(input string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(input))
	if err != nil {
		return normalize(input)
	}

	doc.Find("script, style, head, noscript").Remove()

	var sb strings.Builder
	render(&sb, doc.Selection)
	return normalize(sb.String())
}

func render(sb *strings.Builder, sel *goquery.Selection) {
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		node := child.Get(0)
		switch node.Type {
		case html.TextNode:
			sb.WriteString(node.Data)
		case html.ElementNode:
			renderElement(sb, child)
		case html.DocumentNode:
			render(sb, child)
		}
	})
}

func renderElement(sb *strings.Builder, el *goquery.Selection) {
	name := goquery.NodeName(el)
	switch name {
	case "script", "style", "head", "noscript":
		return
	case "br":
		sb.WriteString("\n")
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level := int(name[1] - '0')
		sb.WriteString("\n\n" + strings.Repeat("#", level) + " ")
		sb.WriteString(strings.TrimSpace(inner(el)))
		sb.WriteString("\n\n")
	case "li":
		sb.WriteString("\n- ")
		sb.WriteString(strings.TrimSpace(inner(el)))
	case "strong", "b":
		wrapInline(sb, inner(el), "**")
	case "em", "i":
		wrapInline(sb, inner(el), "*")
	case "a":
		text := strings.TrimSpace(inner(el))
		href, _ := el.Attr("href")
		href = strings.TrimSpace(href)
		switch {
		case href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:"):
			sb.WriteString(text)
		case text == "" || text == href:
			sb.WriteString(href)
		default:
			sb.WriteString(text + " (" + href + ")")
		}
	case "p", "div", "tr", "table", "ul", "ol", "pre", "blockquote", "section", "article":
		sb.WriteString("\n")
		render(sb, el)
		sb.WriteString("\n")
	case "td", "th":
		render(sb, el)
		sb.WriteString(" ")
	default:
		render(sb, el)
	}
}

func inner(el *goquery.Selection) string {
	var sb strings.Builder
	render(&sb, el)
	return sb.String()
}

func wrapInline(sb *strings.Builder, text, marker string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	sb.WriteString(marker + trimmed + marker)
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRunPattern.ReplaceAllString(line, " "))
	}
	s = strings.Join(lines, "\n")
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Truncate cuts s to at most limit runes and reports whether it cut anything.
// Applying it twice with the same limit yields the same string.
func Truncate(s string, limit int) (string, bool) {
	if limit <= 0 {
		return "", s != ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i], true
		}
		count++
	}
	return s, false
}
