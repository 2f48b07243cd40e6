// Package recorder accumulates live capture chunks and cuts them into
// immutable audio segments on demand.
package recorder

import (
	"errors"
	"sync"
	"time"

	"github.com/mbecker/potline/internal/capture"
)

// ErrEmptySegment is returned by Finalize when no audio was accumulated
// since the previous cut. Callers drop the boundary silently.
var ErrEmptySegment = errors.New("recorder: no audio accumulated")

// Segment is one finalized chunk of recorded audio. Start and End position
// the segment within its session; segments produced by consecutive Finalize
// calls partition the session timeline with no gaps or overlaps. Never
// mutated after creation.
type Segment struct {
	Audio      []byte // 16-bit LE mono PCM
	Start      time.Duration
	End        time.Duration
	SampleRate int
	Channels   int
}

// Duration returns the segment's play time.
func (s Segment) Duration() time.Duration { return s.End - s.Start }

// Recorder buffers incoming audio between segment boundaries. All methods
// are safe for concurrent use: the capture pump appends while user actions
// finalize or discard.
type Recorder struct {
	sampleRate int
	channels   int

	mu       sync.Mutex
	buf      []byte
	chunks   int
	elapsed  time.Duration
	segStart time.Duration
}

func New(sampleRate, channels int) *Recorder {
	return &Recorder{sampleRate: sampleRate, channels: channels}
}

// Append adds a captured chunk to the current segment's buffer.
func (r *Recorder) Append(c capture.Chunk) {
	if len(c.Data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, c.Data...)
	r.chunks++
	r.elapsed += c.Duration
}

// Elapsed returns the total audio time accumulated this session.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// SegmentStart returns the session offset at which the current
// (not yet finalized) segment began.
func (r *Recorder) SegmentStart() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segStart
}

// Finalize cuts a segment from everything accumulated since the last cut
// and resets the buffer. Chunks appended after Finalize returns belong to
// the next segment. Returns ErrEmptySegment when nothing was accumulated.
func (r *Recorder) Finalize() (Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.chunks == 0 {
		return Segment{}, ErrEmptySegment
	}

	seg := Segment{
		Audio:      r.buf,
		Start:      r.segStart,
		End:        r.elapsed,
		SampleRate: r.sampleRate,
		Channels:   r.channels,
	}
	r.buf = nil
	r.chunks = 0
	r.segStart = r.elapsed
	return seg, nil
}

// Discard drops the buffered audio without producing a segment. Used by
// cancellation and fatal device errors.
func (r *Recorder) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
	r.chunks = 0
	r.segStart = r.elapsed
}
