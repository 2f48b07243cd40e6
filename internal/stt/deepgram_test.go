package stt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// pcm returns n frames of silence as 16-bit LE mono.
func pcm(n int) []byte {
	return make([]byte, n*2)
}

func TestTranscribeSuccess(t *testing.T) {
	var gotAuth, gotContentType string
	var gotQuery map[string][]string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotQuery = r.URL.Query()
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"  raises to twelve  ","confidence":0.98}]}]}}`))
	}))
	defer srv.Close()

	c := NewDeepgramClient(DeepgramConfig{BaseURL: srv.URL})
	got, err := c.Transcribe(context.Background(), "dg-key-123", pcm(1600), 16000, 1)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "raises to twelve" {
		t.Errorf("transcript = %q, want %q", got, "raises to twelve")
	}
	if gotAuth != "Token dg-key-123" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Token dg-key-123")
	}
	if gotContentType != "audio/wav" {
		t.Errorf("Content-Type = %q, want %q", gotContentType, "audio/wav")
	}
	if got := gotQuery["model"]; len(got) != 1 || got[0] != "nova-3" {
		t.Errorf("model query = %v, want [nova-3]", got)
	}
	if got := gotQuery["smart_format"]; len(got) != 1 || got[0] != "true" {
		t.Errorf("smart_format query = %v, want [true]", got)
	}
	if !bytes.HasPrefix(gotBody, []byte("RIFF")) {
		t.Error("request body is not a WAV file")
	}
}

func TestTranscribeStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrInvalidCredential},
		{"forbidden", http.StatusForbidden, ErrInvalidCredential},
		{"bad request", http.StatusBadRequest, ErrUnsupportedAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			c := NewDeepgramClient(DeepgramConfig{BaseURL: srv.URL})
			_, err := c.Transcribe(context.Background(), "dg-key-123", pcm(1600), 16000, 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("Transcribe() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTranscribeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewDeepgramClient(DeepgramConfig{BaseURL: srv.URL})
	_, err := c.Transcribe(context.Background(), "dg-key-123", pcm(1600), 16000, 1)
	if err == nil {
		t.Fatal("Transcribe() should fail on 503")
	}
	if errors.Is(err, ErrInvalidCredential) || errors.Is(err, ErrUnsupportedAudio) {
		t.Errorf("503 must not map to a terminal sentinel, got %v", err)
	}
}

func TestTranscribeEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"   ","confidence":0.1}]}]}}`))
	}))
	defer srv.Close()

	c := NewDeepgramClient(DeepgramConfig{BaseURL: srv.URL})
	_, err := c.Transcribe(context.Background(), "dg-key-123", pcm(1600), 16000, 1)
	if !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Transcribe() error = %v, want ErrEmptyAudio", err)
	}
}

func TestTranscribeRejectsBadAudioLocally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made for unencodable audio")
	}))
	defer srv.Close()

	c := NewDeepgramClient(DeepgramConfig{BaseURL: srv.URL})
	_, err := c.Transcribe(context.Background(), "dg-key-123", []byte{0x01}, 16000, 1)
	if !errors.Is(err, ErrUnsupportedAudio) {
		t.Errorf("Transcribe() error = %v, want ErrUnsupportedAudio", err)
	}
}

func TestTranscribeMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":{"channels":[]}}`))
	}))
	defer srv.Close()

	c := NewDeepgramClient(DeepgramConfig{BaseURL: srv.URL})
	if _, err := c.Transcribe(context.Background(), "dg-key-123", pcm(1600), 16000, 1); err == nil {
		t.Error("Transcribe() should fail when the response has no alternatives")
	}
}
