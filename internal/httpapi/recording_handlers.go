package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mbecker/potline/internal/capture"
	"github.com/mbecker/potline/internal/session"
)

// recordingStatus is the API projection of the session snapshot plus the
// pipeline counters the client renders next to the record button.
type recordingStatus struct {
	State          string  `json:"state"`
	Mode           string  `json:"mode,omitempty"`
	ElapsedMs      int64   `json:"elapsed_ms"`
	SegmentStartMs int64   `json:"segment_start_ms"`
	Amplitude      float64 `json:"amplitude"`
	QueueDepth     int     `json:"queue_depth"`
	ProcessedCount int     `json:"processed_count"`
	LastError      string  `json:"last_error,omitempty"`
}

func (r *Router) recordingSnapshot() recordingStatus {
	st := r.session.Status()

	out := recordingStatus{
		State:          st.State.String(),
		Mode:           string(st.Mode),
		ElapsedMs:      st.Elapsed.Milliseconds(),
		SegmentStartMs: st.SegmentStart.Milliseconds(),
		Amplitude:      st.Amplitude,
	}
	if st.State == session.StateIdle {
		out.Mode = ""
	}
	if st.LastError != nil {
		out.LastError = st.LastError.Error()
	}
	if r.queue != nil {
		out.QueueDepth = r.queue.Depth()
	}
	if r.sink != nil {
		out.ProcessedCount = r.sink.Len()
	}
	return out
}

// sessionErrorStatus maps controller errors onto HTTP status codes. Races
// that an action lost (another action mid-apply, a live session, a cancel
// that beat start) are conflicts; a bad credential is the client's problem;
// capture failures mean the device side is unusable right now.
func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrConcurrentAction),
		errors.Is(err, session.ErrSessionLive),
		errors.Is(err, session.ErrNotRecording),
		errors.Is(err, session.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, session.ErrSingleShotMark):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCredential):
		return http.StatusUnprocessableEntity
	case errors.Is(err, capture.ErrPermissionDenied),
		errors.Is(err, capture.ErrDeviceNotFound),
		errors.Is(err, capture.ErrUnsupportedPlatform),
		errors.Is(err, capture.ErrBridgeBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (r *Router) writeSessionError(w http.ResponseWriter, err error) {
	writeJSON(w, sessionErrorStatus(err), map[string]string{"error": err.Error()})
}

// handleRecordingStart begins a new recording session. The request body is
// optional; an absent mode falls back to the configured default.
func (r *Router) handleRecordingStart(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	mode := session.Mode(body.Mode)
	if body.Mode == "" {
		mode = r.cfg.DefaultMode
	}
	if mode != session.ModeSingle && mode != session.ModeContinuous {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "mode must be \"single\" or \"continuous\"",
		})
		return
	}

	err := r.session.Start(req.Context(), session.StartRequest{
		Mode:  mode,
		Owner: authUser.ID,
	})
	if err != nil {
		r.logger.Printf("recording: start rejected for %s: %v", authUser.ID, err)
		r.writeSessionError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, r.recordingSnapshot())
}

// handleRecordingMark cuts a segment boundary in continuous mode.
func (r *Router) handleRecordingMark(w http.ResponseWriter, req *http.Request) {
	if err := r.session.Mark(); err != nil {
		r.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.recordingSnapshot())
}

// handleRecordingStop ends the session and enqueues the final segment.
func (r *Router) handleRecordingStop(w http.ResponseWriter, req *http.Request) {
	if err := r.session.Stop(); err != nil {
		r.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.recordingSnapshot())
}

// handleRecordingCancel discards the session without enqueueing anything.
func (r *Router) handleRecordingCancel(w http.ResponseWriter, req *http.Request) {
	if err := r.session.Cancel(); err != nil {
		r.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, r.recordingSnapshot())
}

// handleRecordingStatus returns the live session snapshot for polling UIs.
func (r *Router) handleRecordingStatus(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, r.recordingSnapshot())
}
