// Package pipeline drains finalized audio segments through the two external
// services (speech-to-text, then formatting) with a single worker, strictly
// in enqueue order.
package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbecker/potline/internal/format"
	"github.com/mbecker/potline/internal/recorder"
	"github.com/mbecker/potline/internal/stt"
)

// Entry wraps an audio segment waiting to be processed. The credential and
// formatting options are captured at enqueue time, so rotating either
// mid-queue never affects entries already accepted.
type Entry struct {
	ID         uuid.UUID
	Owner      string // opaque owner identity, carried through to the result
	Segment    recorder.Segment
	Credential string
	Format     format.Options
	EnqueuedAt time.Time
}

// Config wires the queue's collaborators.
type Config struct {
	STT       stt.Client
	Formatter format.Client
	Sink      *Sink
	Logger    *log.Logger

	// CallTimeout bounds each external call. Zero disables timeouts, in
	// which case a hung call stalls the queue until it returns; accepted
	// under the single-worker model.
	CallTimeout time.Duration

	// AfterPublish, if set, observes each result immediately after it is
	// appended to the sink, still on the worker goroutine, so callers see
	// results in publish order. Used by the persistence/notification glue.
	AfterPublish func(Result)
}

// Queue is the ordered segment queue plus its single drain worker. Enqueue
// never blocks; the worker pops exactly one entry at a time and fully
// completes it (success or failure) before touching the next, so results
// are published in enqueue order regardless of per-entry latency.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	entries  []Entry
	inflight bool

	wake chan struct{}
}

func New(cfg Config) *Queue {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Queue{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends a segment and returns immediately. Each segment is
// enqueued at most once; the returned ID identifies the entry in the sink.
func (q *Queue) Enqueue(seg recorder.Segment, credential, owner string, opts format.Options) uuid.UUID {
	e := Entry{
		ID:         uuid.New(),
		Owner:      owner,
		Segment:    seg,
		Credential: credential,
		Format:     opts,
		EnqueuedAt: time.Now().UTC(),
	}

	q.mu.Lock()
	q.entries = append(q.entries, e)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return e.ID
}

// Depth returns the number of entries not yet fully processed, including
// the in-flight one.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.entries)
	if q.inflight {
		n++
	}
	return n
}

// Run is the worker loop and sole consumer. It blocks until ctx is
// cancelled; an entry being processed at cancellation is finished (its
// external calls observe the cancelled context) before Run returns.
func (q *Queue) Run(ctx context.Context) {
	for {
		e, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.process(ctx, e)

		q.mu.Lock()
		q.inflight = false
		q.mu.Unlock()
	}
}

func (q *Queue) pop() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	q.inflight = true
	return e, true
}

// process drains one entry to completion: transcription, then formatting.
// A failure at either stage publishes a failure record and the worker moves
// on; nothing is retried.
func (q *Queue) process(ctx context.Context, e Entry) {
	seg := e.Segment

	transcript, err := q.transcribe(ctx, e)
	if err != nil {
		q.cfg.Logger.Printf("pipeline: entry %s transcription failed: %v", e.ID, err)
		q.publish(Result{Failure: &Failure{
			EntryID:      e.ID,
			Owner:        e.Owner,
			SegmentStart: seg.Start,
			SegmentEnd:   seg.End,
			Stage:        StageTranscription,
			Reason:       classify(err),
			Err:          err,
			FailedAt:     time.Now().UTC(),
		}})
		return
	}

	formatted, err := q.reformat(ctx, e, transcript)
	if err != nil {
		q.cfg.Logger.Printf("pipeline: entry %s formatting failed: %v", e.ID, err)
		q.publish(Result{Failure: &Failure{
			EntryID:      e.ID,
			Owner:        e.Owner,
			SegmentStart: seg.Start,
			SegmentEnd:   seg.End,
			Stage:        StageFormatting,
			Reason:       classify(err),
			Err:          err,
			FailedAt:     time.Now().UTC(),
		}})
		return
	}

	q.publish(Result{Artifact: &Artifact{
		EntryID:      e.ID,
		Owner:        e.Owner,
		SegmentStart: seg.Start,
		SegmentEnd:   seg.End,
		Transcript:   transcript,
		Formatted:    formatted,
		CompletedAt:  time.Now().UTC(),
	}})
}

func (q *Queue) transcribe(ctx context.Context, e Entry) (string, error) {
	ctx, cancel := q.callContext(ctx)
	defer cancel()
	seg := e.Segment
	return q.cfg.STT.Transcribe(ctx, e.Credential, seg.Audio, seg.SampleRate, seg.Channels)
}

func (q *Queue) reformat(ctx context.Context, e Entry, transcript string) (string, error) {
	ctx, cancel := q.callContext(ctx)
	defer cancel()
	return q.cfg.Formatter.Format(ctx, e.Credential, transcript, e.Format)
}

func (q *Queue) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.cfg.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, q.cfg.CallTimeout)
}

func (q *Queue) publish(r Result) {
	q.cfg.Sink.append(r)
	if q.cfg.AfterPublish != nil {
		q.cfg.AfterPublish(r)
	}
}

// classify buckets an external-call error for the failure record.
func classify(err error) string {
	switch {
	case errors.Is(err, stt.ErrInvalidCredential), errors.Is(err, format.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, stt.ErrUnsupportedAudio):
		return "unsupported_audio"
	case errors.Is(err, stt.ErrEmptyAudio):
		return "empty_audio"
	case errors.Is(err, format.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "network"
	}
}
