package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage identifies which external call a failure record belongs to.
type Stage string

const (
	StageTranscription Stage = "transcription"
	StageFormatting    Stage = "formatting"
)

// Artifact is the finished output for one drained queue entry.
// Immutable once published.
type Artifact struct {
	EntryID      uuid.UUID
	Owner        string
	SegmentStart time.Duration
	SegmentEnd   time.Duration
	Transcript   string
	Formatted    string
	CompletedAt  time.Time
}

// Failure records a per-entry processing failure. The segment is discarded,
// not retried; only its identity survives.
type Failure struct {
	EntryID      uuid.UUID
	Owner        string
	SegmentStart time.Duration
	SegmentEnd   time.Duration
	Stage        Stage
	Reason       string // classification, e.g. "invalid_credential"
	Err          error
	FailedAt     time.Time
}

// Result is one sink entry. Exactly one of Artifact or Failure is set.
type Result struct {
	Artifact *Artifact
	Failure  *Failure
}

// Sink is the append-only ordered collection of processing results. One
// entry is appended per drained queue entry, in drain (= enqueue) order;
// the core never removes entries. The UI/persistence layer reads it via
// Results and deletes from its own copy only.
type Sink struct {
	mu      sync.Mutex
	results []Result
}

func NewSink() *Sink {
	return &Sink{}
}

// append publishes one result. Only the queue worker calls this, which is
// what keeps sink order equal to enqueue order.
func (s *Sink) append(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
}

// Results returns a snapshot of all published results in publish order.
func (s *Sink) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Result, len(s.results))
	copy(out, s.results)
	return out
}

// Len returns the number of published results.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
