package pipeline

// EventKind identifies a progress event type.
type EventKind string

const (
	// EventParsed fires after the container is parsed and ordered.
	EventParsed EventKind = "PARSED"
	// EventChapterStarted fires before a chapter's first chunk is sent.
	EventChapterStarted EventKind = "CHAPTER_STARTED"
	// EventChunkDone fires after each chunk is synthesized.
	EventChunkDone EventKind = "CHUNK_DONE"
	// EventChapterWritten fires after a chapter WAV is written to disk.
	EventChapterWritten EventKind = "CHAPTER_WRITTEN"
	// EventChapterFailed fires when a chapter is skipped due to a
	// synthesis failure.
	EventChapterFailed EventKind = "CHAPTER_FAILED"
	// EventMerging fires before chapter files are concatenated.
	EventMerging EventKind = "MERGING"
	// EventMuxed fires after the M4B is produced.
	EventMuxed EventKind = "MUXED"
	// EventUploaded fires after the audiobook is delivered to S3.
	EventUploaded EventKind = "UPLOADED"
)

// Event is a progress notification emitted during a run. Chapter and Chunk
// counters are 1-based; zero means not applicable.
type Event struct {
	Kind         EventKind
	BookTitle    string
	ChapterTitle string
	Chapter      int
	ChapterCount int
	Chunk        int
	ChunkCount   int
	Message      string
}

// OverwriteRequest asks the operator whether existing output may be
// replaced. The receiver must send exactly one answer on Reply.
type OverwriteRequest struct {
	// Path is the output file that already exists.
	Path string
	// Reply receives the decision. It is buffered, so answering never
	// blocks the prompter.
	Reply chan<- bool
}

// emit delivers an event without blocking. A slow or absent consumer drops
// events rather than stalling synthesis.
func (s *Service) emit(ev Event) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}
