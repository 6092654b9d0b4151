package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// minChapterMs is the duration floor below which a chapter file is treated
// as empty (failed synthesis leaves zero-length or near-zero files behind).
const minChapterMs = 100

// ChapterAudio is one chapter's synthesized track, ready for assembly.
type ChapterAudio struct {
	// Title is the chapter title used for the marker.
	Title string
	// Path is the per-chapter WAV file.
	Path string
	// DurationMs is the measured duration in milliseconds.
	DurationMs float64
}

// Marker is a chapter's position within the final concatenated track.
type Marker struct {
	Title   string
	StartMs float64
	EndMs   float64
}

// BuildMarkers computes contiguous chapter markers from per-chapter tracks.
// Chapters with a missing file or negligible duration are skipped entirely:
// they contribute no marker and leave no timing gap. The second return value
// lists the file paths of the chapters that made it in, in marker order.
func BuildMarkers(chapters []ChapterAudio) ([]Marker, []string) {
	markers := make([]Marker, 0, len(chapters))
	paths := make([]string, 0, len(chapters))

	offset := 0.0
	for _, ch := range chapters {
		if ch.DurationMs <= minChapterMs {
			continue
		}
		if ch.Path != "" {
			if _, err := os.Stat(ch.Path); err != nil {
				continue
			}
			paths = append(paths, ch.Path)
		}
		title := ch.Title
		if title == "" && ch.Path != "" {
			title = TitleFromFilename(ch.Path)
		}
		markers = append(markers, Marker{
			Title:   title,
			StartMs: offset,
			EndMs:   offset + ch.DurationMs,
		})
		offset += ch.DurationMs
	}
	return markers, paths
}

// FFMetadata serializes markers into ffmpeg's metadata format: a header
// line followed by one [CHAPTER] block per marker with millisecond
// timestamps.
func FFMetadata(markers []Marker) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	for _, m := range markers {
		b.WriteString("[CHAPTER]\n")
		b.WriteString("TIMEBASE=1/1000\n")
		fmt.Fprintf(&b, "START=%d\n", int64(m.StartMs))
		fmt.Fprintf(&b, "END=%d\n", int64(m.EndMs))
		fmt.Fprintf(&b, "title=%s\n\n", escapeMetadata(m.Title))
	}
	return b.String()
}

// escapeMetadata escapes the characters ffmpeg treats specially in
// metadata values.
func escapeMetadata(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`=`, `\=`,
		`;`, `\;`,
		`#`, `\#`,
		"\n", `\`+"\n",
	)
	return r.Replace(s)
}

var (
	unsafeFilenamePattern = regexp.MustCompile(`[^\w\s-]`)
	ordinalPrefixPattern  = regexp.MustCompile(`^\d+[_\- ]`)
)

// ChapterFilename builds the per-chapter artifact name: a zero-padded
// 1-based ordinal followed by the sanitized title.
func ChapterFilename(ordinal int, title string) string {
	safe := unsafeFilenamePattern.ReplaceAllString(title, "")
	safe = strings.Join(strings.Fields(safe), "_")
	if safe == "" {
		safe = fmt.Sprintf("Chapter_%d", ordinal)
	}
	return fmt.Sprintf("%03d_%s.wav", ordinal, safe)
}

// TitleFromFilename recovers a chapter title from an intermediate artifact
// name: the ordinal prefix is stripped and separators become spaces. Marker
// building falls back to it when a chapter track carries no title.
func TitleFromFilename(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = ordinalPrefixPattern.ReplaceAllString(base, "")
	title := strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
	if title == "" {
		return "Chapter"
	}
	return title
}
