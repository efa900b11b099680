package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
)

// ErrEmptyAudio is returned when an upstream produced zero audio bytes.
var ErrEmptyAudio = errors.New("empty audio payload")

// AudioPayload is the closed set of shapes a music generator hands back:
// AudioBuffer, AudioChunks or *AudioStream.
type AudioPayload interface {
	isAudioPayload()
}

// AudioBuffer is audio that already sits in one contiguous slice.
type AudioBuffer []byte

// AudioChunks yields audio piece by piece. A non-nil error ends the sequence.
type AudioChunks iter.Seq2[[]byte, error]

// AudioStream is pull-based audio; the reader is closed once drained.
type AudioStream struct {
	io.ReadCloser
}

func (AudioBuffer) isAudioPayload()  {}
func (AudioChunks) isAudioPayload()  {}
func (*AudioStream) isAudioPayload() {}

// DrainAudio consumes p fully and returns its bytes as one buffer.
func DrainAudio(p AudioPayload) ([]byte, error) {
	var data []byte

	switch v := p.(type) {
	case AudioBuffer:
		data = v
	case AudioChunks:
		if v == nil {
			return nil, fmt.Errorf("%w: nil chunk iterator", ErrUnsupportedPayload)
		}
		var buf bytes.Buffer
		for chunk, err := range v {
			if err != nil {
				return nil, fmt.Errorf("failed to read audio chunk: %w", err)
			}
			buf.Write(chunk)
		}
		data = buf.Bytes()
	case *AudioStream:
		if v == nil || v.ReadCloser == nil {
			return nil, fmt.Errorf("%w: nil audio stream", ErrUnsupportedPayload)
		}
		defer v.Close()
		b, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("failed to read audio stream: %w", err)
		}
		data = b
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedPayload, p)
	}

	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}
	return data, nil
}
