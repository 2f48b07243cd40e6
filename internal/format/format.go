package format

import (
	"context"
	"errors"
)

// Failure classes the processing pipeline branches on.
var (
	ErrInvalidCredential = errors.New("format: invalid credential")
	ErrMalformedResponse = errors.New("format: malformed response")
)

// Options carries per-request formatting parameters. Both fields are
// snapshotted when the segment is enqueued so later settings edits do not
// affect entries already waiting in the queue.
type Options struct {
	// Context holds game settings (stakes, table size, stack depth, ...)
	// appended to the transcript as an "Additional context:" block.
	Context map[string]string

	// Model overrides the default model selection.
	Model string
}

// Client defines the interface for transcript-to-hand-history formatters.
type Client interface {
	// Format turns a raw spoken-word transcript into structured
	// hand-history text.
	Format(ctx context.Context, credential, transcript string, opts Options) (string, error)
}
