// Package text splits chapter text into bounded-length chunks for speech
// synthesis. Splitting happens at the coarsest safe boundary: paragraph,
// then sentence, then clause. A clause that cannot be split further is
// emitted oversized rather than truncated.
package text

import (
	"regexp"
	"strings"
)

var (
	// sentenceBoundary matches sentence-ending punctuation followed by whitespace.
	sentenceBoundary = regexp.MustCompile(`[.!?]\s+`)
	// clauseBoundary matches clause punctuation followed by whitespace.
	clauseBoundary = regexp.MustCompile(`[,;:]\s+`)
)

// DefaultMinLen returns the minimum chunk length derived from maxLen:
// max(50, maxLen/10).
func DefaultMinLen(maxLen int) int {
	if derived := maxLen / 10; derived > 50 {
		return derived
	}
	return 50
}

// Chunk splits text into trimmed, non-empty chunks of at most maxLen
// characters. Chunks shorter than minLen are merged into their successor
// when the merge stays within maxLen; the final chunk is exempt. A minLen
// of zero or less means DefaultMinLen(maxLen).
//
// The function is pure: identical input always yields identical output.
func Chunk(text string, maxLen, minLen int) []string {
	if minLen <= 0 {
		minLen = DefaultMinLen(maxLen)
	}

	var chunks []string
	var buf strings.Builder

	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
	}

	// add appends a unit to the buffer, flushing first when the unit
	// would push the buffer past maxLen.
	add := func(unit, sep string) {
		if buf.Len() > 0 && buf.Len()+len(sep)+len(unit) > maxLen {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString(sep)
		}
		buf.WriteString(unit)
	}

	for _, para := range strings.Split(text, "\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) <= maxLen {
			add(para, "\n")
			continue
		}

		for _, sent := range splitAfter(para, sentenceBoundary) {
			if len(sent) <= maxLen {
				add(sent, " ")
				continue
			}

			for _, clause := range splitAfter(sent, clauseBoundary) {
				if len(clause) > maxLen {
					// Atomic unit: nothing left to split on. Emit as-is,
					// oversized, rather than dropping text.
					flush()
					chunks = append(chunks, clause)
					continue
				}
				add(clause, " ")
			}
		}
	}
	flush()

	return mergeUndersized(chunks, maxLen, minLen)
}

// mergeUndersized merges chunks shorter than minLen into their immediate
// successor when the result stays within maxLen. The last chunk has no
// successor and is left alone.
func mergeUndersized(chunks []string, maxLen, minLen int) []string {
	i := 0
	for i < len(chunks)-1 {
		if len(chunks[i]) < minLen && len(chunks[i])+1+len(chunks[i+1]) <= maxLen {
			chunks[i] = chunks[i] + " " + chunks[i+1]
			chunks = append(chunks[:i+1], chunks[i+2:]...)
			continue
		}
		i++
	}
	return chunks
}

// splitAfter splits s immediately after each boundary match, keeping the
// punctuation with the preceding piece and discarding the boundary
// whitespace. A string with no boundary comes back whole.
func splitAfter(s string, boundary *regexp.Regexp) []string {
	locs := boundary.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}

	parts := make([]string, 0, len(locs)+1)
	start := 0
	for _, loc := range locs {
		if piece := strings.TrimSpace(s[start : loc[0]+1]); piece != "" {
			parts = append(parts, piece)
		}
		start = loc[1]
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		parts = append(parts, tail)
	}
	return parts
}
