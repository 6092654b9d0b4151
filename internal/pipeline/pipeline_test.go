package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/audio"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/storage"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/tts"
)

// fakeSynth produces 200ms of silence per chunk and fails on chunks
// containing failOn.
type fakeSynth struct {
	failOn string
	calls  int
}

func (f *fakeSynth) Synthesize(_ context.Context, text, _ string, _ tts.Params) ([]byte, error) {
	f.calls++
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, tts.ErrSynthesis
	}
	return make([]byte, 9600), nil
}

func (f *fakeSynth) SampleRate() int { return 24000 }

var _ tts.Synthesizer = (*fakeSynth)(nil)

const testContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// writeBook assembles a minimal two-chapter EPUB at a temp path. Each
// chapter body repeats its sentence enough to clear the content filters.
func writeBook(t *testing.T, chapters []struct{ id, title, sentence string }) string {
	t.Helper()

	var manifest, spine, ncxPoints strings.Builder
	manifest.WriteString(`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`)
	for i, ch := range chapters {
		fmt.Fprintf(&manifest, `<item id="%s" href="%s.xhtml" media-type="application/xhtml+xml"/>`, ch.id, ch.id)
		fmt.Fprintf(&spine, `<itemref idref="%s"/>`, ch.id)
		fmt.Fprintf(&ncxPoints, `<navPoint id="n%d" playOrder="%d"><navLabel><text>%s</text></navLabel><content src="%s.xhtml"/></navPoint>`,
			i+1, i+1, ch.title, ch.id)
	}

	opf := fmt.Sprintf(`<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>The Test Book</dc:title></metadata>
  <manifest>%s</manifest>
  <spine toc="ncx">%s</spine>
</package>`, manifest.String(), spine.String())

	ncx := fmt.Sprintf(`<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/"><navMap>%s</navMap></ncx>`, ncxPoints.String())

	p := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)

	write := func(name, body string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	write("META-INF/container.xml", testContainerXML)
	write("OEBPS/content.opf", opf)
	write("OEBPS/toc.ncx", ncx)
	for _, ch := range chapters {
		body := strings.Repeat(ch.sentence+" ", 15)
		write("OEBPS/"+ch.id+".xhtml", fmt.Sprintf(
			`<html xmlns="http://www.w3.org/1999/xhtml"><body><p>%s</p></body></html>`, body))
	}

	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return p
}

func newTestService(t *testing.T, synth tts.Synthesizer, opts ...Option) (*Service, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.DiscardHandler)
	return NewService(synth, store, audio.NewFFmpeg("", ""), logger, opts...), store
}

func defaultInput(epubPath string) Input {
	return Input{
		EPUBPath:      epubPath,
		Voice:         "tara",
		Params:        tts.DefaultParams(),
		MinContentLen: 50,
		NoM4B:         true,
	}
}

func TestRun_SingleChapter(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "The Beginning", "A perfectly ordinary opening sentence rolls along."},
	})

	synth := &fakeSynth{}
	svc, _ := newTestService(t, synth)

	res, err := svc.Run(context.Background(), defaultInput(book))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "The Test Book", res.BookTitle)
	assert.Zero(t, res.SkippedChapters)
	require.Len(t, res.Markers, 1)
	assert.Equal(t, "The Beginning", res.Markers[0].Title)
	assert.Greater(t, synth.calls, 0)

	data, err := os.ReadFile(res.OutputWAV)
	require.NoError(t, err)
	pcm, rate, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Equal(t, synth.calls*9600, len(pcm))

	require.Len(t, res.ChapterFiles, 1)
	assert.Equal(t, "001_The_Beginning.wav", filepath.Base(res.ChapterFiles[0]))
}

func TestRun_FailedChapterSkipped(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Bad One", "This chapter contains the poison marker inside it."},
		{"chap2", "Good One", "This chapter narrates along without any trouble at all."},
	})

	synth := &fakeSynth{failOn: "poison"}
	svc, _ := newTestService(t, synth)

	res, err := svc.Run(context.Background(), defaultInput(book))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.SkippedChapters)
	require.Len(t, res.Markers, 1)
	assert.Equal(t, "Good One", res.Markers[0].Title)
	assert.Zero(t, res.Markers[0].StartMs)
}

func TestRun_AllChaptersFail(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only One", "Every chunk of this text carries the poison marker."},
	})

	svc, _ := newTestService(t, &fakeSynth{failOn: "poison"})

	res, err := svc.Run(context.Background(), defaultInput(book))
	assert.ErrorIs(t, err, ErrNoAudioProduced)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestRun_NoContent(t *testing.T) {
	// A single chapter below the raw-size filter leaves no candidates.
	p := filepath.Join(t.TempDir(), "thin.epub")
	f, err := os.Create(p)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("META-INF/container.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(testContainerXML))
	require.NoError(t, err)
	w, err = zw.Create("OEBPS/content.opf")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Thin</dc:title></metadata>
  <manifest><item id="c" href="c.xhtml" media-type="application/xhtml+xml"/></manifest>
  <spine><itemref idref="c"/></spine>
</package>`))
	require.NoError(t, err)
	w, err = zw.Create("OEBPS/c.xhtml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<html><body><p>Too short.</p></body></html>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	svc, _ := newTestService(t, &fakeSynth{})

	res, err := svc.Run(context.Background(), defaultInput(p))
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, StatusNoContent, res.Status)
}

func TestRun_ChapterSelection(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "First", "Opening chapter text streams along without pause here."},
		{"chap2", "Second", "Middle chapter text streams along without pause here."},
		{"chap3", "Third", "Closing chapter text streams along without pause here."},
	})

	svc, _ := newTestService(t, &fakeSynth{})

	input := defaultInput(book)
	input.Chapters = []int{2, 99} // out-of-range index is dropped

	res, err := svc.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	require.Len(t, res.Markers, 1)
	assert.Equal(t, "Second", res.Markers[0].Title)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Some chapter text that will never reach the backend."},
	})

	svc, _ := newTestService(t, &fakeSynth{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := svc.Run(ctx, defaultInput(book))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status)
}

// seedExistingOutput creates the output file a second run would collide
// with.
func seedExistingOutput(t *testing.T, store *storage.LocalStorage) string {
	t.Helper()
	dir, err := store.OutputDir("The Test Book")
	require.NoError(t, err)
	path := filepath.Join(dir, "The_Test_Book.wav")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o600))
	return path
}

func TestRun_ExistingM4BAlsoPrompts(t *testing.T) {
	// A prior run may have kept only the m4b; replacing it still needs
	// consent.
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text hidden behind a surviving audiobook file."},
	})

	confirm := make(chan OverwriteRequest, 1)
	synth := &fakeSynth{}
	svc, store := newTestService(t, synth, WithConfirm(confirm))

	dir, err := store.OutputDir("The Test Book")
	require.NoError(t, err)
	m4b := filepath.Join(dir, "The_Test_Book.m4b")
	require.NoError(t, os.WriteFile(m4b, []byte("old m4b"), 0o600))

	go func() {
		req := <-confirm
		assert.Equal(t, m4b, req.Path)
		req.Reply <- false
	}()

	input := defaultInput(book)
	input.NoM4B = false

	res, err := svc.Run(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, StatusOverwriteDenied, res.Status)
	assert.Zero(t, synth.calls)
}

func TestRun_ExistingM4BIgnoredWhenMuxingDisabled(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text free to proceed when muxing is off."},
	})

	svc, store := newTestService(t, &fakeSynth{})

	dir, err := store.OutputDir("The Test Book")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "The_Test_Book.m4b"), []byte("old"), 0o600))

	res, err := svc.Run(context.Background(), defaultInput(book))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestRun_OverwriteDeclined(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text that should never be synthesized this run."},
	})

	confirm := make(chan OverwriteRequest, 1)
	synth := &fakeSynth{}
	svc, store := newTestService(t, synth, WithConfirm(confirm))
	existing := seedExistingOutput(t, store)

	go func() {
		req := <-confirm
		req.Reply <- false
	}()

	res, err := svc.Run(context.Background(), defaultInput(book))
	require.NoError(t, err)

	assert.Equal(t, StatusOverwriteDenied, res.Status)
	assert.Zero(t, synth.calls)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestRun_OverwriteAccepted(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text that should be synthesized after consent."},
	})

	confirm := make(chan OverwriteRequest, 1)
	svc, store := newTestService(t, &fakeSynth{}, WithConfirm(confirm))
	seedExistingOutput(t, store)

	go func() {
		req := <-confirm
		req.Reply <- true
	}()

	res, err := svc.Run(context.Background(), defaultInput(book))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestRun_OverwriteFlagSkipsPrompt(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text converted without any prompt at all."},
	})

	confirm := make(chan OverwriteRequest) // unbuffered: a send would block
	svc, store := newTestService(t, &fakeSynth{}, WithConfirm(confirm))
	seedExistingOutput(t, store)

	input := defaultInput(book)
	input.Overwrite = true

	res, err := svc.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestRun_NoConfirmChannelDenies(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text behind an existing output file here."},
	})

	svc, store := newTestService(t, &fakeSynth{})
	seedExistingOutput(t, store)

	res, err := svc.Run(context.Background(), defaultInput(book))
	require.NoError(t, err)
	assert.Equal(t, StatusOverwriteDenied, res.Status)
}

func TestRun_CancelWhileAwaitingOverwriteAnswer(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text stuck behind an unanswered prompt."},
	})

	confirm := make(chan OverwriteRequest, 1)
	svc, store := newTestService(t, &fakeSynth{}, WithConfirm(confirm))
	seedExistingOutput(t, store)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var res Result
	var runErr error
	go func() {
		defer close(done)
		res, runErr = svc.Run(ctx, defaultInput(book))
	}()

	// Take the prompt but never answer; cancelling must unblock the run.
	<-confirm
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not unblock after cancellation")
	}

	assert.ErrorIs(t, runErr, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status)
}

func TestRun_EmitsEvents(t *testing.T) {
	book := writeBook(t, []struct{ id, title, sentence string }{
		{"chap1", "Only", "Chapter text that generates a stream of progress events."},
	})

	events := make(chan Event, 128)
	svc, _ := newTestService(t, &fakeSynth{}, WithEvents(events))

	res, err := svc.Run(context.Background(), defaultInput(book))
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Status)
	close(events)

	kinds := map[EventKind]int{}
	for ev := range events {
		kinds[ev.Kind]++
	}
	assert.Equal(t, 1, kinds[EventParsed])
	assert.Equal(t, 1, kinds[EventChapterStarted])
	assert.Greater(t, kinds[EventChunkDone], 0)
	assert.Equal(t, 1, kinds[EventChapterWritten])
	assert.Equal(t, 1, kinds[EventMerging])
}

func TestRun_InvalidParams(t *testing.T) {
	svc, _ := newTestService(t, &fakeSynth{})

	input := defaultInput("irrelevant.epub")
	input.Params.Temperature = 99

	res, err := svc.Run(context.Background(), input)
	assert.ErrorIs(t, err, tts.ErrInvalidParams)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestNewRunID_Unique(t *testing.T) {
	a := newRunID()
	b := newRunID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "run-"))
}
