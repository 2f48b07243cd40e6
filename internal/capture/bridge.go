package capture

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrBridgeBusy is returned by Connect when a client is already attached.
var ErrBridgeBusy = errors.New("capture: another client is already streaming audio")

// Bridge adapts a remote client microphone to the Device interface. The
// websocket ingest handler attaches the client with Connect, forwards its
// permission state, and feeds raw PCM with Feed; the recording session
// acquires the bridge like any other device. Exactly one client may be
// attached at a time.
type Bridge struct {
	sampleRate int
	logger     *log.Logger

	mu         sync.Mutex
	connected  bool
	permDenied bool
	handle     *bridgeHandle // non-nil while an acquisition is live
}

func NewBridge(sampleRate int, logger *log.Logger) *Bridge {
	return &Bridge{sampleRate: sampleRate, logger: logger}
}

// Connect attaches a client. Fails if another client is already attached.
func (b *Bridge) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return ErrBridgeBusy
	}
	b.connected = true
	b.permDenied = false
	return nil
}

// ReportPermission records whether the client granted microphone access.
// A denial blocks future Acquire calls until the client reconnects and
// re-grants.
func (b *Bridge) ReportPermission(granted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.permDenied = !granted
}

// Disconnect detaches the client. A live acquisition observes a fatal
// device error, matching a microphone being unplugged mid-recording.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	h := b.handle
	b.connected = false
	b.mu.Unlock()

	if h != nil {
		h.fail(errors.New("capture: audio client disconnected"))
	}
}

// Feed delivers one block of 16-bit LE mono PCM from the client. Audio
// arriving while no acquisition is live is discarded.
func (b *Bridge) Feed(data []byte) {
	b.mu.Lock()
	h := b.handle
	b.mu.Unlock()

	if h == nil || len(data) == 0 {
		return
	}
	h.feed(Chunk{Data: data, Duration: pcmDuration(len(data), b.sampleRate, 1)})
}

// Connected reports whether a client is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bridge) Acquire(ctx context.Context) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, ErrDeviceNotFound
	}
	if b.permDenied {
		return nil, ErrPermissionDenied
	}
	if b.handle != nil {
		return nil, ErrBridgeBusy
	}

	h := &bridgeHandle{
		bridge:    b,
		chunks:    make(chan Chunk, 256),
		amplitude: make(chan float64, 8),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}
	b.handle = h
	return h, nil
}

func (b *Bridge) detach(h *bridgeHandle) {
	b.mu.Lock()
	if b.handle == h {
		b.handle = nil
	}
	b.mu.Unlock()
}

type bridgeHandle struct {
	bridge    *Bridge
	chunks    chan Chunk
	amplitude chan float64
	errs      chan error

	done      chan struct{}
	closeOnce sync.Once
	sendMu    sync.Mutex // serializes feed/fail against Release
}

func (h *bridgeHandle) Chunks() <-chan Chunk      { return h.chunks }
func (h *bridgeHandle) Amplitude() <-chan float64 { return h.amplitude }
func (h *bridgeHandle) Errors() <-chan error      { return h.errs }

func (h *bridgeHandle) Release() error {
	h.closeOnce.Do(func() {
		h.bridge.detach(h)
		h.sendMu.Lock()
		close(h.done)
		close(h.chunks)
		close(h.amplitude)
		close(h.errs)
		h.sendMu.Unlock()
	})
	return nil
}

func (h *bridgeHandle) feed(c Chunk) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.chunks <- c:
	default:
		// Consumer stalled; dropping is better than blocking the
		// websocket read loop.
		h.bridge.logger.Printf("capture: chunk buffer full, dropping %d bytes", len(c.Data))
		return
	}

	select {
	case h.amplitude <- rms(c.Data):
	default:
	}
}

func (h *bridgeHandle) fail(err error) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.errs <- err:
	default:
	}
}
