// Package normalize converts chapter HTML into plain text suitable for
// speech synthesis.
package normalize

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	// scriptStylePattern strips script and style blocks before conversion.
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)

	// tagPattern matches any HTML tag; used by the fallback path.
	tagPattern = regexp.MustCompile(`<[^>]*>`)

	// imagePattern removes markdown image references left by the converter.
	imagePattern = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)

	// linkPattern rewrites markdown links to their visible text.
	linkPattern = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

	// headingPattern strips leading markdown heading markers.
	headingPattern = regexp.MustCompile(`(?m)^#{1,6}\s+`)

	// emphasisPattern strips emphasis markers around words.
	emphasisPattern = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)

	// blankRunPattern collapses runs of 3+ newlines into a paragraph break.
	blankRunPattern = regexp.MustCompile(`\n{3,}`)

	// spaceRunPattern collapses runs of spaces and tabs.
	spaceRunPattern = regexp.MustCompile(`[ \t]+`)
)

// HTMLToText converts HTML content to plain text. Markdown is used as an
// intermediate form; residual markup a narrator should not read aloud is
// stripped afterwards. A failed conversion falls back to tag stripping so a
// malformed document degrades instead of failing the chapter.
func HTMLToText(html string) string {
	html = scriptStylePattern.ReplaceAllString(html, " ")

	text, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		text = tagPattern.ReplaceAllString(html, " ")
	}

	text = imagePattern.ReplaceAllString(text, "")
	text = linkPattern.ReplaceAllString(text, "$1")
	text = headingPattern.ReplaceAllString(text, "")
	text = emphasisPattern.ReplaceAllString(text, "$1")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	text = spaceRunPattern.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
