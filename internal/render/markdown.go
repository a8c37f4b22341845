package render

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

var (
	headerRegex     = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	boldRegex       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	italicRegex     = regexp.MustCompile(`\*(.+?)\*`)
	inlineCodeRegex = regexp.MustCompile("`([^`]+)`")
	bulletRegex     = regexp.MustCompile(`^[-*]\s+(.*)$`)
)

// MarkdownToHTML converts a small, pragmatic subset of markdown (headers,
// bold, italic, inline code, bullet lists, paragraphs) to HTML, for
// render_table's "markdown string input is converted to HTML" rule.
func MarkdownToHTML(md string) string {
	lines := strings.Split(md, "\n")
	var b strings.Builder
	inList := false

	flushList := func() {
		if inList {
			b.WriteString("</ul>")
			inList = false
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			flushList()
			continue
		}

		if m := headerRegex.FindStringSubmatch(trimmed); m != nil {
			flushList()
			level := strconv.Itoa(len(m[1]))
			b.WriteString("<h" + level + ">" + inlineFormat(m[2]) + "</h" + level + ">")
			continue
		}

		if m := bulletRegex.FindStringSubmatch(trimmed); m != nil {
			if !inList {
				b.WriteString("<ul>")
				inList = true
			}
			b.WriteString("<li>" + inlineFormat(m[1]) + "</li>")
			continue
		}

		flushList()
		b.WriteString("<p>" + inlineFormat(trimmed) + "</p>")
	}
	flushList()

	return b.String()
}

func inlineFormat(s string) string {
	escaped := html.EscapeString(s)
	escaped = inlineCodeRegex.ReplaceAllString(escaped, "<code>$1</code>")
	escaped = boldRegex.ReplaceAllString(escaped, "<strong>$1</strong>")
	escaped = italicRegex.ReplaceAllString(escaped, "<em>$1</em>")
	return escaped
}

