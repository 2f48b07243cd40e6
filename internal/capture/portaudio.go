package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice captures from the default system input device via
// PortAudio. Used when the server runs on the same machine as the
// microphone; remote clients go through the Bridge instead.
type PortAudioDevice struct {
	sampleRate int
	frameSize  int // frames per blocking read
	logger     *log.Logger
}

// NewPortAudioDevice creates a device reading 16-bit mono PCM at the given
// sample rate. frameSize <= 0 selects a ~50ms buffer.
func NewPortAudioDevice(sampleRate, frameSize int, logger *log.Logger) *PortAudioDevice {
	if frameSize <= 0 {
		frameSize = sampleRate / 20
	}
	return &PortAudioDevice{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		logger:     logger,
	}
}

func (d *PortAudioDevice) Acquire(ctx context.Context) (Handle, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	}

	in := make([]int16, d.frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.sampleRate), len(in), in)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, classifyPortAudioError(err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, classifyPortAudioError(err)
	}

	h := &portAudioHandle{
		stream:    stream,
		in:        in,
		device:    d,
		chunks:    make(chan Chunk, 64),
		amplitude: make(chan float64, 8),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.readLoop()
	return h, nil
}

// classifyPortAudioError maps PortAudio failures onto the acquisition
// error classes.
func classifyPortAudioError(err error) error {
	switch {
	case errors.Is(err, portaudio.DeviceUnavailable):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, portaudio.InvalidDevice), errors.Is(err, portaudio.HostApiNotFound):
		return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}
}

type portAudioHandle struct {
	stream *portaudio.Stream
	in     []int16
	device *PortAudioDevice

	chunks    chan Chunk
	amplitude chan float64
	errs      chan error

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (h *portAudioHandle) Chunks() <-chan Chunk      { return h.chunks }
func (h *portAudioHandle) Amplitude() <-chan float64 { return h.amplitude }
func (h *portAudioHandle) Errors() <-chan error      { return h.errs }

func (h *portAudioHandle) Release() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		_ = h.stream.Stop()
		err = h.stream.Close()
		_ = portaudio.Terminate()

		// Wait for readLoop before closing channels so it never sends
		// on a closed channel.
		h.wg.Wait()
		close(h.chunks)
		close(h.amplitude)
		close(h.errs)
	})
	return err
}

func (h *portAudioHandle) readLoop() {
	defer h.wg.Done()

	chunkDur := pcmDuration(len(h.in)*2, h.device.sampleRate, 1)

	for {
		select {
		case <-h.done:
			return
		default:
		}

		if err := h.stream.Read(); err != nil {
			// Overflow means we were too slow draining the buffer; the
			// stream keeps running, so skip the garbled block and go on.
			if errors.Is(err, portaudio.InputOverflowed) {
				h.device.logger.Printf("capture: input overflow, dropping block")
				continue
			}
			select {
			case <-h.done:
			case h.errs <- fmt.Errorf("capture: device read failed: %w", err):
			}
			return
		}

		data := make([]byte, len(h.in)*2)
		for i, s := range h.in {
			data[i*2] = byte(s)
			data[i*2+1] = byte(s >> 8)
		}

		select {
		case <-h.done:
			return
		case h.chunks <- Chunk{Data: data, Duration: chunkDur}:
		}

		// Amplitude is advisory: drop the sample if nobody is reading.
		select {
		case h.amplitude <- rms(data):
		default:
		}
	}
}
