package epub

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// headingPattern matches the first h1-h4 element in a document body.
	headingPattern = regexp.MustCompile(`(?is)<h[1-4][^>]*>(.*?)</h[1-4]>`)

	// navAnchorPattern matches anchors inside a navigation document.
	navAnchorPattern = regexp.MustCompile(`(?is)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)

	// tagStripPattern removes markup when recovering text from an element.
	tagStripPattern = regexp.MustCompile(`<[^>]*>`)

	// nonTitleCharPattern removes characters that have no place in a title
	// derived from a filename.
	nonTitleCharPattern = regexp.MustCompile(`[^a-zA-Z0-9\s]`)

	// whitespaceRunPattern collapses whitespace runs.
	whitespaceRunPattern = regexp.MustCompile(`\s+`)

	// titleCaser title-cases filename-derived titles.
	titleCaser = cases.Title(language.English)
)

// splitMarkerPrefixes are filename fragments that mark auto-generated
// document splits rather than real chapter names.
var splitMarkerPrefixes = []string{"split", "part", "chapter", "ch"}

// ResolveTitle derives a chapter title for a content document. Precedence,
// first match wins:
//  1. a table-of-contents entry for the locator (trimmed length >= 3),
//  2. the first h1-h4 heading in the document body (length > 2),
//  3. a cleaned form of the filename, unless it looks auto-generated,
//  4. a "Section {n}" placeholder, n being the 1-based count of candidates
//     resolved so far.
//
// Pure function of its inputs; the result is whitespace-normalized and
// never empty.
func ResolveTitle(locator, rawHTML string, tocTitles map[string]string, resolvedSoFar int) string {
	if title := strings.TrimSpace(tocTitles[locator]); len(title) >= 3 {
		return normalizeTitle(title)
	}

	if m := headingPattern.FindStringSubmatch(rawHTML); m != nil {
		heading := strings.TrimSpace(stripTags(m[1]))
		if len(heading) > 2 {
			return normalizeTitle(heading)
		}
	}

	if title := titleFromLocator(locator); title != "" {
		return title
	}

	return fmt.Sprintf("Section %d", resolvedSoFar+1)
}

// titleFromLocator builds a title from the document filename: extension
// stripped, separators replaced with spaces, title-cased. It returns ""
// when the result is empty, too short, or begins with a bare split-marker
// fragment ("split", "part", "chapter", "ch").
func titleFromLocator(locator string) string {
	stem := path.Base(locator)
	stem = strings.TrimSuffix(stem, path.Ext(stem))
	stem = strings.ReplaceAll(stem, "_", " ")
	stem = strings.ReplaceAll(stem, "-", " ")
	stem = strings.TrimSpace(nonTitleCharPattern.ReplaceAllString(stem, ""))

	if len(stem) <= 3 {
		return ""
	}
	lower := strings.ToLower(stem)
	for _, prefix := range splitMarkerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return ""
		}
	}
	return normalizeTitle(titleCaser.String(stem))
}

// normalizeTitle collapses internal whitespace and trims the edges.
func normalizeTitle(title string) string {
	return strings.TrimSpace(whitespaceRunPattern.ReplaceAllString(title, " "))
}

// stripTags removes markup from an HTML fragment.
func stripTags(s string) string {
	return tagStripPattern.ReplaceAllString(s, " ")
}
