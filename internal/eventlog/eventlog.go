package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of recording event
type EventType string

const (
	EventSessionStarted         EventType = "session_started"
	EventSegmentEnqueued        EventType = "segment_enqueued"
	EventRecordingStopped       EventType = "recording_stopped"
	EventSessionCancelled       EventType = "session_cancelled"
	EventDeviceError            EventType = "device_error"
	EventTranscriptionCompleted EventType = "transcription_completed"
	EventFormattingCompleted    EventType = "formatting_completed"
	EventProcessingFailed       EventType = "processing_failed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, userID string, eventType EventType, data map[string]any) error {
	if l.db == nil || userID == "" {
		return nil // Silently skip if no DB or user ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO recording_events (user_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, userID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(userID string, eventType EventType, data map[string]any) {
	if l.db == nil || userID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, userID, eventType, data)
	}()
}
