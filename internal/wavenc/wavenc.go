// Package wavenc wraps finalized PCM segments in a WAV container for
// submission to the transcription service.
package wavenc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Encode builds a 16-bit WAV file from raw little-endian PCM.
func Encode(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("wavenc: empty audio")
	}
	if len(pcm)%2 != 0 {
		return nil, errors.New("wavenc: odd PCM byte count")
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("wavenc: invalid format %d Hz / %d ch", sampleRate, channels)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	buf := &seekBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, 16, channels, 1)
	err := enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	})
	if err != nil {
		return nil, fmt.Errorf("wavenc: write samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wavenc: finalize header: %w", err)
	}
	return buf.data, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch the header lengths on Close.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		grown := make([]byte, need)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, errors.New("wavenc: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("wavenc: negative seek position")
	}
	b.pos = int(pos)
	return pos, nil
}
