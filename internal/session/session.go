// Package session owns the live recording session: a state machine gating
// start/stop/mark/cancel, the capture pump, and segment hand-off to the
// processing queue.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mbecker/potline/internal/capture"
	"github.com/mbecker/potline/internal/format"
	"github.com/mbecker/potline/internal/recorder"
)

// State is the session lifecycle state. Exactly one session may be live at
// a time; Idle means none is.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateRecording
	StateStoppingFinal
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRecording:
		return "recording"
	case StateStoppingFinal:
		return "stopping"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Mode selects how segments are produced.
type Mode string

const (
	// ModeSingle produces exactly one segment per session, cut on stop.
	ModeSingle Mode = "single"
	// ModeContinuous keeps capturing across mark boundaries; each mark
	// cuts a segment without releasing the device.
	ModeContinuous Mode = "continuous"
)

var (
	// ErrCredential blocks session start; Recording is never entered and
	// the capture device is never touched.
	ErrCredential = errors.New("session: missing or invalid credential")
	// ErrConcurrentAction rejects an action requested while a prior one is
	// still being applied. Actions are never queued.
	ErrConcurrentAction = errors.New("session: another action is being applied")
	ErrSessionLive      = errors.New("session: a recording session is already live")
	ErrNotRecording     = errors.New("session: no recording in progress")
	ErrSingleShotMark   = errors.New("session: mark requires continuous mode")
	// ErrCancelled is returned by Start when a cancel request won the race
	// against device acquisition.
	ErrCancelled = errors.New("session: session cancelled")
)

// Credentials supplies the capability token required to invoke the external
// services. Validated before recording may start; re-read at each enqueue.
type Credentials interface {
	Token() (string, error)
}

// Queue is the slice of the processing pipeline the controller needs:
// non-blocking FIFO hand-off of finalized segments.
type Queue interface {
	Enqueue(seg recorder.Segment, credential, owner string, opts format.Options) uuid.UUID
}

// Config wires the controller's collaborators.
type Config struct {
	Device      capture.Device
	Queue       Queue
	Credentials Credentials
	SampleRate  int
	Channels    int
	Logger      *log.Logger

	// Settings snapshots the owner's contextual formatting options at
	// enqueue time.
	Settings func(owner string) format.Options

	// OnEvent, if set, observes session lifecycle events for audit logging.
	OnEvent func(owner, event string, fields map[string]any)
}

// StartRequest carries the parameters of a start action.
type StartRequest struct {
	Mode  Mode
	Owner string // opaque owner identity attached to every enqueued segment
}

// Status is a read-only snapshot for the API layer.
type Status struct {
	State        State
	Mode         Mode
	Elapsed      time.Duration
	SegmentStart time.Duration
	Amplitude    float64
	LastError    error // last fatal device error, cleared on start
}

// Controller is the recording session state machine. All transitions are
// serialized; an action arriving while another is mid-apply is rejected
// with ErrConcurrentAction rather than queued, which is what prevents
// double finalization.
type Controller struct {
	cfg Config

	mu        sync.Mutex
	applying  bool // true only during the device-acquire window of Start
	state     State
	mode      Mode
	owner     string
	token     string // validated at start; fallback if the store fails later
	rec       *recorder.Recorder
	handle    capture.Handle
	cancelled bool
	lastErr   error
	gen       int // session generation; staleness guard for pump callbacks

	amp atomic.Uint64 // latest amplitude sample, math.Float64bits
}

func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Controller{cfg: cfg}
}

// Start validates the credential, acquires the capture device and enters
// Recording. Credential problems are reported before the device is touched.
func (c *Controller) Start(ctx context.Context, req StartRequest) error {
	if req.Mode != ModeSingle && req.Mode != ModeContinuous {
		return fmt.Errorf("session: unknown mode %q", req.Mode)
	}

	c.mu.Lock()
	if c.applying {
		c.mu.Unlock()
		return ErrConcurrentAction
	}
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionLive
	}

	token, err := c.readToken()
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.applying = true
	c.state = StateInitializing
	c.mode = req.Mode
	c.owner = req.Owner
	c.token = token
	c.cancelled = false
	c.lastErr = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// The acquire window is the one place another action (cancel) may
	// interject; everything else happens under the mutex.
	handle, acqErr := c.cfg.Device.Acquire(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.applying = false

	if c.cancelled {
		// Cancel won the race; no audio from this session may be captured.
		if acqErr == nil {
			_ = handle.Release()
		}
		return ErrCancelled
	}
	if acqErr != nil {
		c.state = StateIdle
		c.lastErr = acqErr
		c.event("device_error", map[string]any{"error": acqErr.Error()})
		return acqErr
	}

	c.handle = handle
	c.rec = recorder.New(c.cfg.SampleRate, c.cfg.Channels)
	c.state = StateRecording
	c.amp.Store(0)
	go c.pump(gen, handle, c.rec)

	c.event("session_started", map[string]any{"mode": string(req.Mode)})
	c.cfg.Logger.Printf("session: recording started (mode=%s)", req.Mode)
	return nil
}

// Mark cuts a segment boundary while continuing to record. Continuous mode
// only. An empty segment drops the boundary silently.
func (c *Controller) Mark() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.applying {
		return ErrConcurrentAction
	}
	if c.state != StateRecording {
		return ErrNotRecording
	}
	if c.mode != ModeContinuous {
		return ErrSingleShotMark
	}

	seg, err := c.rec.Finalize()
	if errors.Is(err, recorder.ErrEmptySegment) {
		c.cfg.Logger.Printf("session: mark with no audio, boundary dropped")
		return nil
	}
	if err != nil {
		return err
	}

	c.enqueueLocked(seg)
	return nil
}

// Stop finalizes the last segment, enqueues it (unless empty), releases the
// device and returns the controller to Idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.applying {
		return ErrConcurrentAction
	}
	if c.state != StateRecording {
		return ErrNotRecording
	}

	c.state = StateStoppingFinal
	elapsed := c.rec.Elapsed()

	seg, err := c.rec.Finalize()
	if err == nil && !c.cancelled {
		c.enqueueLocked(seg)
	} else if errors.Is(err, recorder.ErrEmptySegment) {
		c.cfg.Logger.Printf("session: stop with no audio, nothing enqueued")
	}

	c.teardownLocked()
	c.event("recording_stopped", map[string]any{"elapsed_ms": elapsed.Milliseconds()})
	c.cfg.Logger.Printf("session: recording stopped")
	return nil
}

// Cancel discards the buffered audio, releases the device and returns to
// Idle without enqueuing anything. Once cancel is requested, no segment
// from this session reaches the queue, even if a stop or device error is
// racing with it.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateInitializing:
		// Start is mid-acquire; flag the cancellation and let its
		// continuation release whatever the acquire returns.
		c.cancelled = true
		c.state = StateIdle
		c.event("session_cancelled", nil)
		return nil
	case StateRecording:
		c.cancelled = true
		c.state = StateCancelled
		c.rec.Discard()
		c.teardownLocked()
		c.event("session_cancelled", nil)
		c.cfg.Logger.Printf("session: recording cancelled")
		return nil
	default:
		return ErrNotRecording
	}
}

// Status returns a snapshot of the live session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:     c.state,
		Amplitude: math.Float64frombits(c.amp.Load()),
		LastError: c.lastErr,
	}
	if c.state == StateRecording || c.state == StateStoppingFinal {
		st.Mode = c.mode
		st.Elapsed = c.rec.Elapsed()
		st.SegmentStart = c.rec.SegmentStart()
	}
	return st
}

// teardownLocked releases the device and clears the live-session fields.
// The state is always Idle afterwards.
func (c *Controller) teardownLocked() {
	if c.handle != nil {
		_ = c.handle.Release()
	}
	c.handle = nil
	c.rec = nil
	c.state = StateIdle
	c.amp.Store(0)
}

// enqueueLocked hands one finalized segment to the processing queue. The
// credential is captured at enqueue time (re-read from the store so a
// rotated token applies to new segments); if the store fails mid-session
// the token validated at start is reused.
func (c *Controller) enqueueLocked(seg recorder.Segment) {
	token := c.token
	if t, err := c.readToken(); err == nil {
		token = t
	}

	var opts format.Options
	if c.cfg.Settings != nil {
		opts = c.cfg.Settings(c.owner)
	}

	id := c.cfg.Queue.Enqueue(seg, token, c.owner, opts)
	c.event("segment_enqueued", map[string]any{
		"entry_id": id.String(),
		"start_ms": seg.Start.Milliseconds(),
		"end_ms":   seg.End.Milliseconds(),
	})
	c.cfg.Logger.Printf("session: segment [%s, %s) enqueued as %s", seg.Start, seg.End, id)
}

// readToken fetches and syntactically validates the capability token.
func (c *Controller) readToken() (string, error) {
	if c.cfg.Credentials == nil {
		return "", ErrCredential
	}
	token, err := c.cfg.Credentials.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	if !validToken(token) {
		return "", ErrCredential
	}
	return token, nil
}

// validToken checks the token is syntactically plausible: long enough and
// printable ASCII with no whitespace.
func validToken(token string) bool {
	if len(token) < 8 {
		return false
	}
	for _, r := range token {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}

// pump forwards capture output into the recorder until the handle is
// released or the device fails. Amplitude is advisory; a closed amplitude
// channel never ends the session.
func (c *Controller) pump(gen int, h capture.Handle, rec *recorder.Recorder) {
	chunks := h.Chunks()
	amps := h.Amplitude()
	errs := h.Errors()

	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				return
			}
			rec.Append(ch)
		case a, ok := <-amps:
			if !ok {
				amps = nil
				continue
			}
			c.amp.Store(math.Float64bits(a))
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				c.onDeviceError(gen, err)
				return
			}
		}
	}
}

// onDeviceError handles a fatal device failure mid-recording: discard the
// partial buffer, release the device, return to Idle. A stale callback
// (from a previous session) or a lost race against cancel is ignored.
func (c *Controller) onDeviceError(gen int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.cancelled {
		return
	}
	if c.state != StateRecording {
		return
	}

	c.cfg.Logger.Printf("session: fatal device error: %v", err)
	c.rec.Discard()
	c.lastErr = err
	c.teardownLocked()
	c.event("device_error", map[string]any{"error": err.Error()})
}

func (c *Controller) event(name string, fields map[string]any) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(c.owner, name, fields)
	}
}
