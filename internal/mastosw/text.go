package mastosw

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	lineBreakRe = regexp.MustCompile(`(?i)<br\s*/?>`)
	paragraphRe = regexp.MustCompile(`(?i)</p>\s*<p(\s[^>]*)?>`)
	stripPolicy = bluemonday.StrictPolicy()
)

// htmlToText turns status HTML into plain text, keeping line breaks and
// paragraph boundaries as newlines.
func htmlToText(s string) string {
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = paragraphRe.ReplaceAllString(s, "\n\n")
	s = stripPolicy.Sanitize(s)
	return strings.TrimSpace(html.UnescapeString(s))
}
