package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/bootstrap"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/config"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/pipeline"
	"github.com/sotir3d/orpheus-epub-to-audiobook/internal/tts"
)

type convertFlags struct {
	voice             string
	outputDir         string
	chapters          string
	chunkSize         int
	minChunk          int
	temperature       float64
	topP              float64
	repetitionPenalty float64
	noM4B             bool
	yes               bool
	upload            bool
	backend           string
	url               string
}

// NewConvertCmd creates the convert command.
func NewConvertCmd() *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert <book.epub>",
		Short: "Convert an EPUB into a chaptered audiobook",
		Long: `Convert an EPUB into a chaptered M4B audiobook.

Examples:
  orpheus convert book.epub
  orpheus convert --voice leo --chapters 1,3,5-7 book.epub
  orpheus convert --no-m4b --yes book.epub`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVar(&flags.voice, "voice", "", "narration voice (see 'orpheus voices')")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "root directory for output files")
	cmd.Flags().StringVar(&flags.chapters, "chapters", "", "chapter selection, e.g. 1,3,5-7")
	cmd.Flags().IntVar(&flags.chunkSize, "chunk-size", 0, "maximum chunk length in characters")
	cmd.Flags().IntVar(&flags.minChunk, "min-chunk", 0, "minimum chunk length before merging")
	cmd.Flags().Float64Var(&flags.temperature, "temperature", 0, "sampling temperature")
	cmd.Flags().Float64Var(&flags.topP, "top-p", 0, "nucleus sampling threshold")
	cmd.Flags().Float64Var(&flags.repetitionPenalty, "repetition-penalty", 0, "repetition penalty")
	cmd.Flags().BoolVar(&flags.noM4B, "no-m4b", false, "skip M4B muxing, keep WAV output")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "overwrite existing output without asking")
	cmd.Flags().BoolVar(&flags.upload, "upload", false, "upload the finished audiobook to S3")
	cmd.Flags().StringVar(&flags.backend, "backend", "", "synthesis backend: orpheus or speech")
	cmd.Flags().StringVar(&flags.url, "url", "", "synthesis backend URL")

	return cmd
}

func runConvert(cmd *cobra.Command, epubPath string, flags convertFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg, flags)
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.NewLogger()

	chapters, err := parseChapterRanges(flags.chapters)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan pipeline.Event, 128)
	confirm := make(chan pipeline.OverwriteRequest, 1)

	deps, err := bootstrap.NewDependencies(cfg, logger,
		pipeline.WithEvents(events),
		pipeline.WithConfirm(confirm),
	)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		renderEvents(cmd.ErrOrStderr(), events)
	}()
	go func() {
		defer wg.Done()
		promptOverwrite(ctx, cmd, confirm)
	}()

	input := pipeline.Input{
		EPUBPath: epubPath,
		Voice:    cfg.Voice,
		Params: tts.Params{
			Temperature:       cfg.Temperature,
			TopP:              cfg.TopP,
			RepetitionPenalty: cfg.RepetitionPenalty,
			MaxTokens:         cfg.MaxTokens,
		},
		MaxChunkLen:   cfg.MaxChunkLen,
		MinChunkLen:   cfg.EffectiveMinChunkLen(),
		MinContentLen: cfg.MinContentLen,
		Chapters:      chapters,
		Overwrite:     flags.yes,
		NoM4B:         cfg.NoM4B,
		AACBitrate:    cfg.AACBitrate,
		PushToS3:      flags.upload,
	}

	res, runErr := deps.Converter.Run(ctx, input)
	close(events)
	close(confirm)
	wg.Wait()

	return report(cmd, res, runErr)
}

// applyFlagOverrides copies explicitly-set flags over the environment
// configuration.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config, flags convertFlags) {
	set := cmd.Flags().Changed
	if set("voice") {
		cfg.Voice = flags.voice
	}
	if set("output-dir") {
		cfg.OutputDir = flags.outputDir
	}
	if set("chunk-size") {
		cfg.MaxChunkLen = flags.chunkSize
	}
	if set("min-chunk") {
		cfg.MinChunkLen = flags.minChunk
	}
	if set("temperature") {
		cfg.Temperature = flags.temperature
	}
	if set("top-p") {
		cfg.TopP = flags.topP
	}
	if set("repetition-penalty") {
		cfg.RepetitionPenalty = flags.repetitionPenalty
	}
	if set("no-m4b") {
		cfg.NoM4B = flags.noM4B
	}
	if set("backend") {
		cfg.Backend = flags.backend
	}
	if set("url") {
		cfg.BackendURL = flags.url
	}
}

// report prints the run outcome and converts non-success statuses into
// errors carrying exit codes.
func report(cmd *cobra.Command, res pipeline.Result, runErr error) error {
	out := cmd.OutOrStdout()
	switch res.Status {
	case pipeline.StatusCompleted:
		fmt.Fprintf(out, "Done: %s (%d chapters", res.BookTitle, len(res.Markers))
		if res.SkippedChapters > 0 {
			fmt.Fprintf(out, ", %d skipped", res.SkippedChapters)
		}
		fmt.Fprintln(out, ")")
		fmt.Fprintf(out, "  wav: %s\n", res.OutputWAV)
		if res.OutputM4B != "" {
			fmt.Fprintf(out, "  m4b: %s\n", res.OutputM4B)
		}
		if res.UploadURL != "" {
			fmt.Fprintf(out, "  url: %s\n", res.UploadURL)
		}
		return nil
	case pipeline.StatusOverwriteDenied:
		fmt.Fprintln(out, "Existing output kept.")
		return nil
	default:
		return &statusError{status: res.Status, err: runErr}
	}
}

// renderEvents writes progress lines to the terminal until the channel
// closes.
func renderEvents(w io.Writer, events <-chan pipeline.Event) {
	for ev := range events {
		switch ev.Kind {
		case pipeline.EventParsed:
			fmt.Fprintf(w, "Parsed %q: %d chapters\n", ev.BookTitle, ev.ChapterCount)
		case pipeline.EventChapterStarted:
			fmt.Fprintf(w, "[%d/%d] %s (%d chunks)\n", ev.Chapter, ev.ChapterCount, ev.ChapterTitle, ev.ChunkCount)
		case pipeline.EventChunkDone:
			fmt.Fprintf(w, "\r[%d/%d] %s: chunk %d/%d", ev.Chapter, ev.ChapterCount, ev.ChapterTitle, ev.Chunk, ev.ChunkCount)
			if ev.Chunk == ev.ChunkCount {
				fmt.Fprintln(w)
			}
		case pipeline.EventChapterFailed:
			fmt.Fprintf(w, "[%d/%d] %s: skipped (%s)\n", ev.Chapter, ev.ChapterCount, ev.ChapterTitle, ev.Message)
		case pipeline.EventMerging:
			fmt.Fprintf(w, "Merging %d chapter files...\n", ev.ChapterCount)
		case pipeline.EventMuxed:
			fmt.Fprintf(w, "M4B written: %s\n", ev.Message)
		case pipeline.EventUploaded:
			fmt.Fprintf(w, "Uploaded: %s\n", ev.Message)
		}
	}
}

// promptOverwrite answers overwrite requests from the terminal until the
// channel closes or the run is cancelled. Anything but y/yes keeps the
// existing file. The blocking stdin read lives in its own goroutine so that
// cancellation while a prompt is pending answers No and lets the prompter
// exit instead of hanging on input that will never arrive.
func promptOverwrite(ctx context.Context, cmd *cobra.Command, confirm <-chan pipeline.OverwriteRequest) {
	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(cmd.InOrStdin())
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case req, ok := <-confirm:
			if !ok {
				return
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Output %s exists. Overwrite? [y/N] ", req.Path)
			select {
			case line := <-lines:
				answer := strings.ToLower(strings.TrimSpace(line))
				req.Reply <- answer == "y" || answer == "yes"
			case <-ctx.Done():
				req.Reply <- false
			}
		case <-ctx.Done():
			return
		}
	}
}

// parseChapterRanges expands a selection like "1,3,5-7" into a list of
// 1-based chapter indices.
func parseChapterRanges(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var indices []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid chapter range %q", part)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid chapter range %q", part)
			}
			if start < 1 || end < start {
				return nil, fmt.Errorf("invalid chapter range %q", part)
			}
			for i := start; i <= end; i++ {
				indices = append(indices, i)
			}
			continue
		}

		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid chapter number %q", part)
		}
		indices = append(indices, n)
	}
	return indices, nil
}
