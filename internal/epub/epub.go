// Package epub reads EPUB containers: it enumerates content documents,
// extracts normalized chapter text, recovers titles from the table of
// contents, and reconstructs the declared reading order.
package epub

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/normalize"
)

// Static errors for container parsing.
var (
	// ErrContainerRead is returned when the container cannot be opened or
	// its structure is unreadable.
	ErrContainerRead = errors.New("epub: container unreadable")
)

// rawMinLen is the minimum raw HTML size in bytes for a document to be
// considered at all; covers, blank separators and stub pages fall below it.
const rawMinLen = 500

// Candidate is one content document that passed the minimum-content filter.
type Candidate struct {
	// ID is the manifest item identifier.
	ID string
	// Locator is the document's path within the container, fragment-free.
	Locator string
	// Title is the resolved, whitespace-normalized chapter title.
	Title string
	// Body is the normalized plain text of the document.
	Body string
}

// Book is the result of parsing a container.
type Book struct {
	// Title is the book title from the package metadata, or the filename stem.
	Title string
	// Candidates holds the surviving chapters in extraction order.
	Candidates []Candidate
	// Spine is the declared linear reading order as container locators.
	// It may reference documents that did not survive filtering.
	Spine []string
}

// Options configures container parsing.
type Options struct {
	// MinContentLen is the minimum normalized text length, in runes, for a
	// document to count as a chapter. Zero means 200.
	MinContentLen int
	// Logger receives parse diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// XML structures for the OCF container and the OPF package document.

type ocfContainer struct {
	XMLName   xml.Name `xml:"container"`
	RootFiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Titles []string `xml:"title"`
	} `xml:"metadata"`
	Manifest struct {
		Items []opfItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		TOC      string `xml:"toc,attr"`
		ItemRefs []struct {
			IDRef string `xml:"idref,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
}

type opfItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

// Parse opens the container at epubPath and extracts the book structure.
func Parse(epubPath string, opts Options) (*Book, error) {
	reader, err := zip.OpenReader(epubPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrContainerRead, epubPath, err)
	}
	defer func() { _ = reader.Close() }()

	book, err := parseArchive(&reader.Reader, opts)
	if err != nil {
		return nil, err
	}
	if book.Title == "" {
		book.Title = filenameStem(epubPath)
	}
	return book, nil
}

// parseArchive extracts the book structure from an already opened archive.
func parseArchive(archive *zip.Reader, opts Options) (*Book, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minContent := opts.MinContentLen
	if minContent <= 0 {
		minContent = 200
	}

	files := make(map[string]*zip.File, len(archive.File))
	for _, f := range archive.File {
		files[path.Clean(f.Name)] = f
	}

	opfPath, err := locateRootFile(files)
	if err != nil {
		return nil, err
	}

	var pkg opfPackage
	if err := decodeXMLFile(files, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("%w: package document %s: %w", ErrContainerRead, opfPath, err)
	}

	opfDir := path.Dir(opfPath)
	itemsByID := make(map[string]opfItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		itemsByID[item.ID] = item
	}

	tocTitles := collectTOCTitles(files, pkg, opfDir, logger)

	book := &Book{}
	if len(pkg.Metadata.Titles) > 0 {
		book.Title = strings.TrimSpace(pkg.Metadata.Titles[0])
	}

	seen := make(map[string]bool)
	for _, item := range pkg.Manifest.Items {
		if !isContentDocument(item.MediaType) {
			continue
		}
		locator := resolveHref(opfDir, item.Href)
		if seen[locator] {
			continue // duplicate locator, first wins
		}

		raw, err := readZipFile(files, locator)
		if err != nil {
			logger.Warn("skipping unreadable content document",
				slog.String("locator", locator),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(raw) < rawMinLen {
			continue
		}

		body := normalize.HTMLToText(string(raw))
		if utf8.RuneCountInString(body) < minContent {
			continue
		}

		seen[locator] = true
		title := ResolveTitle(locator, string(raw), tocTitles, len(book.Candidates))
		book.Candidates = append(book.Candidates, Candidate{
			ID:      item.ID,
			Locator: locator,
			Title:   title,
			Body:    body,
		})
		logger.Debug("found chapter",
			slog.String("title", title),
			slog.String("locator", locator),
			slog.Int("chars", utf8.RuneCountInString(body)),
		)
	}

	for _, ref := range pkg.Spine.ItemRefs {
		item, ok := itemsByID[ref.IDRef]
		if !ok {
			continue
		}
		book.Spine = append(book.Spine, resolveHref(opfDir, item.Href))
	}

	return book, nil
}

// locateRootFile follows META-INF/container.xml to the OPF package path.
func locateRootFile(files map[string]*zip.File) (string, error) {
	var container ocfContainer
	if err := decodeXMLFile(files, "META-INF/container.xml", &container); err != nil {
		return "", fmt.Errorf("%w: container.xml: %w", ErrContainerRead, err)
	}
	if len(container.RootFiles) == 0 {
		return "", fmt.Errorf("%w: container.xml declares no rootfile", ErrContainerRead)
	}
	return path.Clean(container.RootFiles[0].FullPath), nil
}

// collectTOCTitles builds the locator to outline-title map from the EPUB3
// navigation document when present, falling back to the EPUB2 NCX.
// An unreadable outline is logged and yields an empty map; titles then come
// from the lower resolver tiers.
func collectTOCTitles(files map[string]*zip.File, pkg opfPackage, opfDir string, logger *slog.Logger) map[string]string {
	for _, item := range pkg.Manifest.Items {
		if strings.Contains(item.Properties, "nav") {
			navPath := resolveHref(opfDir, item.Href)
			raw, err := readZipFile(files, navPath)
			if err != nil {
				logger.Warn("navigation document unreadable", slog.String("error", err.Error()))
				break
			}
			return parseNavTitles(string(raw), path.Dir(navPath))
		}
	}

	for _, item := range pkg.Manifest.Items {
		if item.MediaType == "application/x-dtbncx+xml" || item.ID == pkg.Spine.TOC {
			ncxPath := resolveHref(opfDir, item.Href)
			titles, err := parseNCXTitles(files, ncxPath)
			if err != nil {
				logger.Warn("NCX unreadable", slog.String("error", err.Error()))
				break
			}
			return titles
		}
	}

	return map[string]string{}
}

// NCX structures (EPUB2 table of contents).

type ncxDocument struct {
	XMLName xml.Name   `xml:"ncx"`
	Points  []ncxPoint `xml:"navMap>navPoint"`
}

type ncxPoint struct {
	Label   string `xml:"navLabel>text"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxPoint `xml:"navPoint"`
}

// parseNCXTitles flattens the NCX navMap into a locator to title map.
func parseNCXTitles(files map[string]*zip.File, ncxPath string) (map[string]string, error) {
	var doc ncxDocument
	if err := decodeXMLFile(files, ncxPath, &doc); err != nil {
		return nil, err
	}

	titles := make(map[string]string)
	baseDir := path.Dir(ncxPath)
	var walk func(points []ncxPoint)
	walk = func(points []ncxPoint) {
		for _, p := range points {
			title := strings.TrimSpace(p.Label)
			if len(title) >= 2 && p.Content.Src != "" {
				locator := resolveHref(baseDir, p.Content.Src)
				if _, exists := titles[locator]; !exists {
					titles[locator] = title
				}
			}
			walk(p.Children)
		}
	}
	walk(doc.Points)
	return titles, nil
}

// parseNavTitles extracts locator to title pairs from an EPUB3 navigation
// document. Nav documents are XHTML, so anchors are matched textually
// rather than decoded as strict XML.
func parseNavTitles(navHTML, baseDir string) map[string]string {
	titles := make(map[string]string)
	for _, m := range navAnchorPattern.FindAllStringSubmatch(navHTML, -1) {
		href, label := m[1], stripTags(m[2])
		label = strings.TrimSpace(label)
		if href == "" || len(label) < 2 {
			continue
		}
		locator := resolveHref(baseDir, href)
		if _, exists := titles[locator]; !exists {
			titles[locator] = label
		}
	}
	return titles
}

// isContentDocument reports whether a manifest media type is chapter content.
func isContentDocument(mediaType string) bool {
	return mediaType == "application/xhtml+xml" || mediaType == "text/html"
}

// resolveHref resolves a manifest or outline href against a base directory
// inside the archive, dropping any fragment identifier.
func resolveHref(baseDir, href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href = href[:i]
	}
	href = strings.ReplaceAll(href, "%20", " ")
	if baseDir == "." || baseDir == "" {
		return path.Clean(href)
	}
	return path.Clean(path.Join(baseDir, href))
}

// readZipFile reads a whole archive member by cleaned name.
func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[path.Clean(name)]
	if !ok {
		return nil, fmt.Errorf("file %s not in archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// decodeXMLFile reads and XML-decodes one archive member into v.
func decodeXMLFile(files map[string]*zip.File, name string, v any) error {
	data, err := readZipFile(files, name)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// filenameStem returns the base filename without its extension.
func filenameStem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
