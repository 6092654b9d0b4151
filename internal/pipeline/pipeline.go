// Package pipeline orchestrates the conversion of an EPUB container into a
// chaptered audiobook: parse, order, chunk, synthesize, assemble, mux.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/audio"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/epub"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/storage"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/text"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/tts"
)

// Input contains the parameters for one conversion run.
type Input struct {
	// EPUBPath is the path to the source container.
	EPUBPath string
	// Voice is the narration voice. Unknown voices fall back to the
	// default.
	Voice string
	// Params are the sampling parameters forwarded to the backend.
	Params tts.Params
	// MaxChunkLen is the chunk length ceiling in characters. Zero means
	// 150.
	MaxChunkLen int
	// MinChunkLen is the merge floor for undersized chunks. Zero means
	// derived from MaxChunkLen.
	MinChunkLen int
	// MinContentLen is the minimum normalized text length for a document
	// to count as a chapter. Zero means the parser default.
	MinContentLen int
	// Chapters selects a 1-based subset of the ordered chapter list.
	// Empty means all chapters.
	Chapters []int
	// Overwrite replaces existing output without asking.
	Overwrite bool
	// NoM4B skips M4B muxing, leaving the merged WAV and chapter files.
	NoM4B bool
	// AACBitrate is the M4B audio bitrate, e.g. "128k".
	AACBitrate string
	// PushToS3 uploads the finished audiobook after muxing.
	PushToS3 bool
}

// Service runs conversions. It is safe for sequential reuse; a single run
// processes chapters one at a time to keep a local inference backend from
// being overloaded.
type Service struct {
	synth   tts.Synthesizer
	store   storage.Storage
	ffmpeg  *audio.FFmpeg
	logger  *slog.Logger
	events  chan<- Event
	confirm chan<- OverwriteRequest
}

// Option configures a Service.
type Option func(*Service)

// WithEvents sets the progress event channel. Sends never block; give the
// channel a buffer sized for the expected consumer lag.
func WithEvents(ch chan<- Event) Option {
	return func(s *Service) {
		s.events = ch
	}
}

// WithConfirm sets the channel for overwrite confirmation requests.
// Without one, existing output is never replaced unless Input.Overwrite
// is set.
func WithConfirm(ch chan<- OverwriteRequest) Option {
	return func(s *Service) {
		s.confirm = ch
	}
}

// NewService creates a conversion service.
func NewService(synth tts.Synthesizer, store storage.Storage, ffmpeg *audio.FFmpeg, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		synth:  synth,
		store:  store,
		ffmpeg: ffmpeg,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes a complete conversion. The returned Result always carries a
// terminal status; the error is non-nil only for failure statuses.
func (s *Service) Run(ctx context.Context, input Input) (Result, error) {
	res := Result{RunID: newRunID()}
	logger := s.logger.With(slog.String("run_id", res.RunID))

	if err := input.Params.Validate(); err != nil {
		res.Status = StatusFailed
		return res, err
	}
	voice := tts.NormalizeVoice(input.Voice, logger)
	maxLen := input.MaxChunkLen
	if maxLen <= 0 {
		maxLen = 150
	}
	minLen := input.MinChunkLen
	if minLen <= 0 {
		minLen = text.DefaultMinLen(maxLen)
	}

	book, err := epub.Parse(input.EPUBPath, epub.Options{
		MinContentLen: input.MinContentLen,
		Logger:        logger,
	})
	if err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("parse container: %w", err)
	}
	res.BookTitle = book.Title

	if len(book.Candidates) == 0 {
		logger.Warn("no readable chapters", slog.String("book", book.Title))
		res.Status = StatusNoContent
		return res, ErrEmptyContent
	}

	ordered := epub.Reorder(book.Candidates, book.Spine, logger)
	selected := selectChapters(ordered, input.Chapters, logger)
	if len(selected) == 0 {
		res.Status = StatusNoContent
		return res, ErrEmptyContent
	}

	logger.Info("book parsed",
		slog.String("title", book.Title),
		slog.Int("chapters", len(ordered)),
		slog.Int("selected", len(selected)),
	)
	s.emit(Event{Kind: EventParsed, BookTitle: book.Title, ChapterCount: len(selected)})

	outDir, err := s.store.OutputDir(book.Title)
	if err != nil {
		res.Status = StatusFailed
		return res, err
	}
	base := storage.SafeTitle(book.Title)
	finalWAV := filepath.Join(outDir, base+".wav")
	finalM4B := filepath.Join(outDir, base+".m4b")

	finals := []string{finalWAV}
	if !input.NoM4B {
		finals = append(finals, finalM4B)
	}
	ok, err := s.checkOverwrite(ctx, finals, input.Overwrite)
	if err != nil {
		res.Status = StatusCancelled
		return res, err
	}
	if !ok {
		logger.Info("overwrite declined", slog.String("path", finalWAV))
		res.Status = StatusOverwriteDenied
		return res, nil
	}

	chapters, skipped, err := s.synthesizeChapters(ctx, selected, outDir, voice, input.Params, maxLen, minLen)
	if err != nil {
		res.Status = StatusCancelled
		return res, err
	}
	res.SkippedChapters = skipped

	markers, paths := audio.BuildMarkers(chapters)
	if len(paths) == 0 {
		res.Status = StatusFailed
		return res, ErrNoAudioProduced
	}
	res.Markers = markers
	res.ChapterFiles = paths

	if err := ctx.Err(); err != nil {
		res.Status = StatusCancelled
		return res, err
	}

	s.emit(Event{Kind: EventMerging, BookTitle: book.Title, ChapterCount: len(paths)})
	if err := s.ffmpeg.ConcatWAV(ctx, paths, finalWAV); err != nil {
		res.Status = StatusFailed
		return res, fmt.Errorf("merge chapters: %w", err)
	}
	res.OutputWAV = finalWAV

	if !input.NoM4B {
		res.OutputM4B = s.muxM4B(ctx, logger, finalWAV, finalM4B, markers, input.AACBitrate)
	}

	if input.PushToS3 {
		res.UploadURL = s.upload(ctx, logger, res)
	}

	logger.Info("conversion complete",
		slog.String("book", book.Title),
		slog.Int("chapters", len(paths)),
		slog.Int("skipped", skipped),
		slog.String("wav", res.OutputWAV),
		slog.String("m4b", res.OutputM4B),
	)
	res.Status = StatusCompleted
	return res, nil
}

// checkOverwrite asks for permission when any of the final artifacts
// already exists. Cancellation while waiting counts as a negative answer.
func (s *Service) checkOverwrite(ctx context.Context, paths []string, overwrite bool) (bool, error) {
	if overwrite {
		return true, nil
	}
	existing := ""
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = p
			break
		}
	}
	if existing == "" {
		return true, nil
	}
	if s.confirm == nil {
		return false, nil
	}

	reply := make(chan bool, 1)
	select {
	case s.confirm <- OverwriteRequest{Path: existing, Reply: reply}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ans := <-reply:
		return ans, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// synthesizeChapters converts each chapter to a WAV file. A chunk failure
// skips the rest of its chapter and moves on; only cancellation stops the
// run. The returned error is always a context error.
func (s *Service) synthesizeChapters(ctx context.Context, selected []epub.Ordered, outDir, voice string, params tts.Params, maxLen, minLen int) ([]audio.ChapterAudio, int, error) {
	rate := s.synth.SampleRate()
	chapters := make([]audio.ChapterAudio, 0, len(selected))
	skipped := 0

	for i, ch := range selected {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		chunks := text.Chunk(ch.Body, maxLen, minLen)
		s.emit(Event{
			Kind:         EventChapterStarted,
			ChapterTitle: ch.Title,
			Chapter:      i + 1,
			ChapterCount: len(selected),
			ChunkCount:   len(chunks),
		})
		s.logger.Info("synthesizing chapter",
			slog.String("title", ch.Title),
			slog.Int("chapter", i+1),
			slog.Int("chunks", len(chunks)),
		)

		pcm, err := s.synthesizeChunks(ctx, chunks, voice, params, i+1, len(selected), ch.Title)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			s.logger.Warn("chapter skipped",
				slog.String("title", ch.Title),
				slog.String("error", err.Error()),
			)
			s.emit(Event{
				Kind:         EventChapterFailed,
				ChapterTitle: ch.Title,
				Chapter:      i + 1,
				ChapterCount: len(selected),
				Message:      err.Error(),
			})
			skipped++
			continue
		}

		path := filepath.Join(outDir, audio.ChapterFilename(i+1, ch.Title))
		if err := audio.WriteWAVFile(path, pcm, rate); err != nil {
			return nil, 0, fmt.Errorf("write chapter audio: %w", err)
		}

		chapters = append(chapters, audio.ChapterAudio{
			Title:      ch.Title,
			Path:       path,
			DurationMs: audio.PCMDurationMs(len(pcm), rate),
		})
		s.emit(Event{
			Kind:         EventChapterWritten,
			ChapterTitle: ch.Title,
			Chapter:      i + 1,
			ChapterCount: len(selected),
		})
	}

	return chapters, skipped, nil
}

// synthesizeChunks runs one chapter's chunks through the backend and
// returns the concatenated PCM.
func (s *Service) synthesizeChunks(ctx context.Context, chunks []string, voice string, params tts.Params, chapter, chapterCount int, title string) ([]byte, error) {
	var pcm []byte
	for i, chunk := range chunks {
		data, err := s.synth.Synthesize(ctx, chunk, voice, params)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		pcm = append(pcm, data...)
		s.emit(Event{
			Kind:         EventChunkDone,
			ChapterTitle: title,
			Chapter:      chapter,
			ChapterCount: chapterCount,
			Chunk:        i + 1,
			ChunkCount:   len(chunks),
		})
	}
	if len(pcm) == 0 {
		return nil, ErrNoAudioProduced
	}
	return pcm, nil
}

// muxM4B produces the chaptered M4B. Muxer failures are not fatal; the
// merged WAV and chapter files remain usable output.
func (s *Service) muxM4B(ctx context.Context, logger *slog.Logger, wavPath, m4bPath string, markers []audio.Marker, bitrate string) string {
	meta := audio.FFMetadata(markers)
	metaPath, err := s.store.SaveTemp(ctx, "chapters", strings.NewReader(meta))
	if err != nil {
		logger.Error("write chapter metadata", slog.String("error", err.Error()))
		return ""
	}
	defer func() { _ = s.store.CleanupTemp(ctx, []string{metaPath}) }()

	if err := s.ffmpeg.MuxM4B(ctx, wavPath, metaPath, m4bPath, bitrate); err != nil {
		logger.Error("m4b muxing failed, keeping wav output",
			slog.String("error", err.Error()),
		)
		return ""
	}
	s.emit(Event{Kind: EventMuxed, Message: m4bPath})
	return m4bPath
}

// upload delivers the best available artifact to S3. Upload failures are
// logged, not fatal.
func (s *Service) upload(ctx context.Context, logger *slog.Logger, res Result) string {
	artifact := res.OutputM4B
	if artifact == "" {
		artifact = res.OutputWAV
	}

	f, err := os.Open(artifact) // #nosec G304 - path is derived from our own output dir
	if err != nil {
		logger.Error("open artifact for upload", slog.String("error", err.Error()))
		return ""
	}
	defer func() { _ = f.Close() }()

	key := filepath.Base(artifact)
	url, err := s.store.UploadToS3(ctx, key, f)
	if err != nil {
		logger.Error("s3 upload failed", slog.String("error", err.Error()))
		return ""
	}
	s.emit(Event{Kind: EventUploaded, Message: url})
	return url
}

// selectChapters applies a 1-based index selection against the ordered
// chapter list. Out-of-range indices are dropped with a warning.
func selectChapters(ordered []epub.Ordered, indices []int, logger *slog.Logger) []epub.Ordered {
	if len(indices) == 0 {
		return ordered
	}
	selected := make([]epub.Ordered, 0, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(ordered) {
			logger.Warn("chapter index out of range",
				slog.Int("index", idx),
				slog.Int("chapters", len(ordered)),
			)
			continue
		}
		selected = append(selected, ordered[idx-1])
	}
	return selected
}
