package httpapi

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mbecker/potline/internal/capture"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// audioControl is a JSON text frame from the client. Binary frames on the
// same connection carry raw 16-bit LE mono PCM.
type audioControl struct {
	Type       string `json:"type"` // "hello", "permission", "stop"
	SampleRate int    `json:"sample_rate,omitempty"`
	Granted    bool   `json:"granted,omitempty"`
}

// audioAck is a JSON text frame to the client.
type audioAck struct {
	Type  string `json:"type"` // "ready" or "error"
	Error string `json:"error,omitempty"`
}

// handleAudioWS attaches a client microphone to the capture bridge. The
// client opens the socket, sends a hello, then streams binary PCM frames
// for as long as the app is in the foreground. Exactly one client can be
// attached at a time; a second connection is turned away.
func (r *Router) handleAudioWS(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	if r.bridge == nil {
		http.Error(w, `{"error": "client audio feed not enabled"}`, http.StatusServiceUnavailable)
		return
	}

	if !r.feeds.Add() {
		http.Error(w, `{"error": "server is draining"}`, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.feeds.Done()
		r.logger.Printf("audio_ws: upgrade failed: %v", err)
		return
	}

	f := &feedSession{
		conn:   conn,
		bridge: r.bridge,
		feeds:  r.feeds,
		logger: r.logger,
		userID: authUser.ID,
	}

	r.logger.Printf("audio_ws: feed connected for user %s", authUser.ID)
	f.run()
}

// feedSession pumps one websocket audio feed into the bridge.
type feedSession struct {
	conn   *websocket.Conn
	connMu sync.Mutex
	bridge *capture.Bridge
	feeds  *FeedRegistry
	logger *log.Logger
	userID string

	attached bool // Connect succeeded; Disconnect owed on exit
}

func (f *feedSession) run() {
	defer f.cleanup()

	for {
		msgType, msg, err := f.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Printf("audio_ws: feed closed for user %s", f.userID)
			} else {
				f.logger.Printf("audio_ws: read error for user %s: %v", f.userID, err)
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			// PCM arriving before hello (or after a rejected hello) is
			// dropped on the floor.
			if f.attached {
				f.bridge.Feed(msg)
			}

		case websocket.TextMessage:
			var ctl audioControl
			if err := json.Unmarshal(msg, &ctl); err != nil {
				f.logger.Printf("audio_ws: bad control frame: %v", err)
				continue
			}
			if !f.handleControl(ctl) {
				return
			}
		}
	}
}

// handleControl applies one control frame. Returns false when the session
// should end.
func (f *feedSession) handleControl(ctl audioControl) bool {
	switch ctl.Type {
	case "hello":
		if f.attached {
			return true
		}
		if err := f.bridge.Connect(); err != nil {
			if errors.Is(err, capture.ErrBridgeBusy) {
				f.writeAck(audioAck{Type: "error", Error: "another device is already streaming"})
			} else {
				f.writeAck(audioAck{Type: "error", Error: "could not attach audio feed"})
			}
			return false
		}
		f.attached = true
		f.writeAck(audioAck{Type: "ready"})

	case "permission":
		if f.attached {
			f.bridge.ReportPermission(ctl.Granted)
			if !ctl.Granted {
				f.logger.Printf("audio_ws: user %s denied microphone permission", f.userID)
			}
		}

	case "stop":
		return false

	default:
		f.logger.Printf("audio_ws: unknown control type %q", ctl.Type)
	}
	return true
}

func (f *feedSession) writeAck(ack audioAck) {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if err := f.conn.WriteJSON(ack); err != nil {
		f.logger.Printf("audio_ws: write failed: %v", err)
	}
}

func (f *feedSession) cleanup() {
	if f.attached {
		// A recording in flight observes this as a fatal device error.
		f.bridge.Disconnect()
	}

	f.connMu.Lock()
	_ = f.conn.Close()
	f.connMu.Unlock()

	f.feeds.Done()
	f.logger.Printf("audio_ws: feed cleaned up for user %s", f.userID)
}
