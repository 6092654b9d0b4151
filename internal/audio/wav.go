// Package audio assembles synthesized chapter audio: WAV encoding for
// PCM16 mono streams, ffmpeg-based concatenation and M4B muxing, and
// chapter-marker metadata generation.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Static errors for WAV handling.
var (
	// ErrNotWAV is returned when data lacks a RIFF/WAVE header.
	ErrNotWAV = errors.New("audio: not a WAV stream")
	// ErrUnsupportedWAV is returned for WAV encodings other than PCM16 mono.
	ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding, need 16-bit mono PCM")
	// ErrNoAudioData is returned when a WAV stream carries no samples.
	ErrNoAudioData = errors.New("audio: no audio data")
)

const wavHeaderSize = 44

// EncodeWAV wraps 16-bit mono PCM samples in a canonical WAV header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	dataLen := len(pcm)
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+dataLen))

	byteRate := sampleRate * 2 // mono, 2 bytes per sample

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))        // fmt chunk size
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))         // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))         // channels
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	_ = binary.Write(buf, binary.LittleEndian, uint16(2))  // block align
	_ = binary.Write(buf, binary.LittleEndian, uint16(16)) // bits per sample
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV extracts the PCM payload and sample rate from a WAV stream.
// Only 16-bit mono PCM is accepted; that is what the synthesis backends
// produce and what the assembler concatenates.
func DecodeWAV(data []byte) (pcm []byte, sampleRate int, err error) {
	if len(data) < wavHeaderSize ||
		!bytes.Equal(data[0:4], []byte("RIFF")) ||
		!bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, 0, ErrNotWAV
	}

	// Walk the chunk list; fmt and data can be separated by ancillary
	// chunks (LIST, fact) depending on the encoder.
	var haveFmt bool
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, ErrUnsupportedWAV
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate := binary.LittleEndian.Uint32(data[body+4 : body+8])
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, 0, fmt.Errorf("%w: format=%d channels=%d bits=%d", ErrUnsupportedWAV, format, channels, bits)
			}
			sampleRate = int(rate)
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		if chunkLen%2 == 1 {
			chunkLen++
		}
		offset = body + chunkLen
	}

	if !haveFmt {
		return nil, 0, ErrNotWAV
	}
	if len(pcm) == 0 {
		return nil, 0, ErrNoAudioData
	}
	return pcm, sampleRate, nil
}

// WriteWAVFile writes PCM16 mono samples to path as a WAV file.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	if err := os.WriteFile(path, EncodeWAV(pcm, sampleRate), 0o600); err != nil {
		return fmt.Errorf("write wav %s: %w", path, err)
	}
	return nil
}

// PCMDurationMs returns the duration in milliseconds of a 16-bit mono PCM
// stream at the given sample rate.
func PCMDurationMs(pcmLen, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	samples := float64(pcmLen) / 2
	return samples / float64(sampleRate) * 1000
}
