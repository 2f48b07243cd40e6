package stt

import (
	"context"
	"errors"
)

// Failure classes the processing pipeline branches on. Transcribe wraps the
// provider error with one of these where the cause is identifiable; anything
// else is treated as a network failure.
var (
	ErrInvalidCredential = errors.New("stt: invalid credential")
	ErrUnsupportedAudio  = errors.New("stt: unsupported audio encoding")
	ErrEmptyAudio        = errors.New("stt: no speech detected in audio")
)

// Client defines the interface for batch speech-to-text providers.
type Client interface {
	// Transcribe submits one finalized audio segment (16-bit LE mono PCM)
	// and returns the plain transcript. The credential is supplied per call
	// because each queue entry carries the token captured at enqueue time.
	Transcribe(ctx context.Context, credential string, pcm []byte, sampleRate, channels int) (string, error)
}
