package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// Acquisition failure classes. Acquire wraps the underlying device error
// with exactly one of these so callers can branch on the cause.
var (
	ErrPermissionDenied    = errors.New("capture: microphone permission denied")
	ErrDeviceNotFound      = errors.New("capture: no input device available")
	ErrUnsupportedPlatform = errors.New("capture: audio capture not supported on this platform")
)

// Chunk is one block of captured audio: 16-bit little-endian mono PCM.
type Chunk struct {
	Data     []byte
	Duration time.Duration
}

// Handle is a live capture stream. Chunks are delivered in capture order
// until Release closes the channel. Amplitude carries periodic level samples
// for visualization only; a device that cannot compute them simply never
// sends, and a stalled amplitude consumer never blocks audio delivery.
// Errors delivers at most one fatal device error (e.g. device disconnected
// mid-recording), after which no more chunks arrive.
type Handle interface {
	Chunks() <-chan Chunk
	Amplitude() <-chan float64
	Errors() <-chan error

	// Release stops capture and frees the device. Idempotent, safe to call
	// from any exit path.
	Release() error
}

// Device acquires the platform microphone.
type Device interface {
	Acquire(ctx context.Context) (Handle, error)
}

// rms computes a normalized 0..1 level from 16-bit LE PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// pcmDuration returns the play time of a 16-bit LE PCM buffer.
func pcmDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := n / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
