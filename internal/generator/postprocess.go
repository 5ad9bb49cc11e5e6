package generator

import (
	"regexp"
	"strings"
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// PostProcess normalizes model output: CRLF to LF, surrounding whitespace
// trimmed, a wrapping markdown fence removed, runs of three or more newlines
// collapsed to a blank line. It is applied until nothing changes, so
// PostProcess(PostProcess(x)) == PostProcess(x).
func PostProcess(text string) string {
	for {
		next := postProcessOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func postProcessOnce(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.TrimSpace(text)
	text = stripFence(text)
	return excessNewlines.ReplaceAllString(text, "\n\n")
}

// stripFence removes a ``` fence (with optional language tag) that wraps the
// whole text.
func stripFence(text string) string {
	if len(text) < 6 || !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") {
		return text
	}
	body := strings.TrimSuffix(text, "```")
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return text
	}
	return strings.TrimSpace(body[nl+1:])
}
