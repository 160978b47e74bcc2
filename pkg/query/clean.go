package query

import (
	"html"
	"regexp"
	"strings"
)

var (
	thinkRe     = regexp.MustCompile(`(?is)<(think|thinking|reasoning)>.*?</(think|thinking|reasoning)>`)
	codeFenceRe = regexp.MustCompile("(?s)```.*?```")
	tagRe       = regexp.MustCompile(`(?s)<[^<>]{1,200}>`)
)

// CleanText strips reasoning blocks, code fences and HTML tags from a
// message, unescapes entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = thinkRe.ReplaceAllString(s, " ")
	s = codeFenceRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
