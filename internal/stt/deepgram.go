package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbecker/potline/internal/wavenc"
)

const deepgramListenURL = "https://api.deepgram.com/v1/listen"

// DeepgramClient implements the Client interface using Deepgram's
// pre-recorded transcription API. Segments are short (one poker hand each),
// so batch transcription fits better than the streaming endpoint.
type DeepgramClient struct {
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	Model      string       // e.g. "nova-3"
	Language   string       // e.g. "en"
	BaseURL    string       // override for tests; defaults to the public API
	HTTPClient *http.Client // shared pooled client; defaults to a 30s-timeout client
}

// NewDeepgramClient creates a new Deepgram batch STT client.
func NewDeepgramClient(cfg DeepgramConfig) *DeepgramClient {
	model := cfg.Model
	if model == "" {
		model = "nova-3"
	}
	language := cfg.Language
	if language == "" {
		language = "en"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = deepgramListenURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &DeepgramClient{
		baseURL:    baseURL,
		model:      model,
		language:   language,
		httpClient: httpClient,
	}
}

// deepgramResponse is the subset of the pre-recorded API response we read.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe wraps the PCM in a WAV container and submits it for
// transcription.
func (c *DeepgramClient) Transcribe(ctx context.Context, credential string, pcm []byte, sampleRate, channels int) (string, error) {
	wavData, err := wavenc.Encode(pcm, sampleRate, channels)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedAudio, err)
	}

	url := fmt.Sprintf("%s?model=%s&language=%s&smart_format=true", c.baseURL, c.model, c.language)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(wavData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Authorization", "Token "+credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", ErrInvalidCredential
	case resp.StatusCode == http.StatusBadRequest:
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAudio, strings.TrimSpace(string(respBody)))
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("deepgram API error: %s - %s", resp.Status, string(respBody))
	}

	var dgResp deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dgResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(dgResp.Results.Channels) == 0 || len(dgResp.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("no alternatives in response")
	}

	transcript := strings.TrimSpace(dgResp.Results.Channels[0].Alternatives[0].Transcript)
	if transcript == "" {
		return "", ErrEmptyAudio
	}
	return transcript, nil
}
