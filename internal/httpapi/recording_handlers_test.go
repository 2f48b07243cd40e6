package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/mbecker/potline/internal/capture"
	"github.com/mbecker/potline/internal/format"
	"github.com/mbecker/potline/internal/pipeline"
	"github.com/mbecker/potline/internal/recorder"
	"github.com/mbecker/potline/internal/session"
)

// stubHandle is a minimal capture handle; the recording handlers never need
// actual audio to exercise the state machine.
type stubHandle struct {
	chunks chan capture.Chunk
	amps   chan float64
	errs   chan error
	once   sync.Once
}

func newStubHandle() *stubHandle {
	return &stubHandle{
		chunks: make(chan capture.Chunk, 16),
		amps:   make(chan float64, 4),
		errs:   make(chan error, 1),
	}
}

func (h *stubHandle) Chunks() <-chan capture.Chunk { return h.chunks }
func (h *stubHandle) Amplitude() <-chan float64    { return h.amps }
func (h *stubHandle) Errors() <-chan error         { return h.errs }
func (h *stubHandle) Release() error {
	h.once.Do(func() {
		close(h.chunks)
		close(h.amps)
	})
	return nil
}

type stubDevice struct {
	mu      sync.Mutex
	err     error
	handles []*stubHandle
}

func (d *stubDevice) Acquire(ctx context.Context) (capture.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	h := newStubHandle()
	d.handles = append(d.handles, h)
	return h, nil
}

type stubSessionQueue struct {
	mu sync.Mutex
	n  int
}

func (q *stubSessionQueue) Enqueue(seg recorder.Segment, credential, owner string, opts format.Options) uuid.UUID {
	q.mu.Lock()
	q.n++
	q.mu.Unlock()
	return uuid.New()
}

type stubCreds struct {
	token string
	err   error
}

func (c stubCreds) Token() (string, error) { return c.token, c.err }

func newRecordingTestRouter(dev capture.Device, creds session.Credentials) *Router {
	quiet := log.New(io.Discard, "", 0)
	sink := pipeline.NewSink()

	return &Router{
		cfg: RouterConfig{
			JWTSecret:   "test-secret",
			DefaultMode: session.ModeSingle,
		},
		logger: quiet,
		session: session.NewController(session.Config{
			Device:      dev,
			Queue:       &stubSessionQueue{},
			Credentials: creds,
			Logger:      quiet,
		}),
		queue: pipeline.New(pipeline.Config{Sink: sink, Logger: quiet}),
		sink:  sink,
	}
}

func authedRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	authUser := &AuthUser{ID: "user-1", Email: "hero@example.com"}
	return req.WithContext(context.WithValue(req.Context(), userContextKey, authUser))
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) recordingStatus {
	t.Helper()
	var st recordingStatus
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	return st
}

func TestRecordingStartRejectsUnknownMode(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", `{"mode": "burst"}`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRecordingStartMissingCredential(t *testing.T) {
	dev := &stubDevice{}
	r := newRecordingTestRouter(dev, stubCreds{token: ""})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", ""))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	if len(dev.handles) != 0 {
		t.Error("device should not be touched when the credential is missing")
	}
}

func TestRecordingStartDefaultsToSingleMode(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	st := decodeStatus(t, rec)
	if st.State != "recording" {
		t.Errorf("state = %q, want %q", st.State, "recording")
	}
	if st.Mode != "single" {
		t.Errorf("mode = %q, want %q", st.Mode, "single")
	}
}

func TestRecordingSecondStartConflicts(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("first start status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestRecordingMarkRequiresContinuousMode(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", `{"mode": "single"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	r.handleRecordingMark(rec, authedRequest(http.MethodPost, "/api/recording/mark", ""))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("mark status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRecordingStopReturnsToIdle(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	r.handleRecordingStop(rec, authedRequest(http.MethodPost, "/api/recording/stop", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want %d", rec.Code, http.StatusOK)
	}

	st := decodeStatus(t, rec)
	if st.State != "idle" {
		t.Errorf("state = %q, want %q", st.State, "idle")
	}
	if st.Mode != "" {
		t.Errorf("mode = %q, want empty after stop", st.Mode)
	}
}

func TestRecordingActionsWhenIdleConflict(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	tests := []struct {
		name string
		call func(w http.ResponseWriter, req *http.Request)
	}{
		{"stop", r.handleRecordingStop},
		{"mark", r.handleRecordingMark},
		{"cancel", r.handleRecordingCancel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.call(rec, authedRequest(http.MethodPost, "/api/recording/"+tt.name, ""))
			if rec.Code != http.StatusConflict {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
			}
		})
	}
}

func TestRecordingStartPermissionDenied(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{err: capture.ErrPermissionDenied}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", ""))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	// The failure is surfaced on the next status read
	rec = httptest.NewRecorder()
	r.handleRecordingStatus(rec, authedRequest(http.MethodGet, "/api/recording", ""))
	st := decodeStatus(t, rec)
	if st.State != "idle" {
		t.Errorf("state = %q, want %q", st.State, "idle")
	}
	if st.LastError == "" {
		t.Error("last_error should report the acquire failure")
	}
}

func TestRecordingStatusIdle(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStatus(rec, authedRequest(http.MethodGet, "/api/recording", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	st := decodeStatus(t, rec)
	if st.State != "idle" {
		t.Errorf("state = %q, want %q", st.State, "idle")
	}
	if st.QueueDepth != 0 {
		t.Errorf("queue_depth = %d, want 0", st.QueueDepth)
	}
	if st.ProcessedCount != 0 {
		t.Errorf("processed_count = %d, want 0", st.ProcessedCount)
	}
}

func TestRecordingCancelDiscardsSession(t *testing.T) {
	r := newRecordingTestRouter(&stubDevice{}, stubCreds{token: "token-abc123"})

	rec := httptest.NewRecorder()
	r.handleRecordingStart(rec, authedRequest(http.MethodPost, "/api/recording/start", `{"mode": "continuous"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	r.handleRecordingCancel(rec, authedRequest(http.MethodPost, "/api/recording/cancel", ""))
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Stop after cancel is a conflict; the session is gone
	rec = httptest.NewRecorder()
	r.handleRecordingStop(rec, authedRequest(http.MethodPost, "/api/recording/stop", ""))
	if rec.Code != http.StatusConflict {
		t.Errorf("stop-after-cancel status = %d, want %d", rec.Code, http.StatusConflict)
	}
}
