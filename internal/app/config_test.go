package app

import (
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      string
		want     string
	}{
		{"unset returns default", "", "fallback", "fallback"},
		{"set returns value", "custom", "fallback", "custom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_GETENV_KEY", tt.envValue)
			}
			got := getenv("TEST_GETENV_KEY", tt.def)
			if got != tt.want {
				t.Errorf("getenv() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{"unset returns default", "", 16000, 8000, 48000, 16000},
		{"valid value", "44100", 16000, 8000, 48000, 44100},
		{"below min clamps", "4000", 16000, 8000, 48000, 8000},
		{"above max clamps", "96000", 16000, 8000, 48000, 48000},
		{"garbage returns default", "abc", 16000, 8000, 48000, 16000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_GETENV_INT_KEY", tt.envValue)
			}
			got := getenvIntClamped("TEST_GETENV_INT_KEY", tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvIntClamped() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		want     bool
	}{
		{"unset returns default", "", false, false},
		{"true", "true", false, true},
		{"numeric true", "1", false, true},
		{"false overrides default", "false", true, false},
		{"garbage returns default", "yes please", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_GETENV_BOOL_KEY", tt.envValue)
			}
			got := getenvBool("TEST_GETENV_BOOL_KEY", tt.def)
			if got != tt.want {
				t.Errorf("getenvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "STT_MODEL", "FORMAT_MODEL", "CAPTURE_SOURCE",
		"SAMPLE_RATE", "RECORDING_MODE", "JWT_EXPIRY", "PIPELINE_CALL_TIMEOUT",
		"APNS_PRODUCTION",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.STTModel != "nova-3" {
		t.Errorf("STTModel = %q, want %q", cfg.STTModel, "nova-3")
	}
	if cfg.FormatModel != "gpt-4o-mini" {
		t.Errorf("FormatModel = %q, want %q", cfg.FormatModel, "gpt-4o-mini")
	}
	if cfg.CaptureSource != "bridge" {
		t.Errorf("CaptureSource = %q, want %q", cfg.CaptureSource, "bridge")
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", cfg.SampleRate)
	}
	if cfg.DefaultMode != "single" {
		t.Errorf("DefaultMode = %q, want %q", cfg.DefaultMode, "single")
	}
	if cfg.JWTExpiry != 720*time.Hour {
		t.Errorf("JWTExpiry = %v, want %v", cfg.JWTExpiry, 720*time.Hour)
	}
	if cfg.PipelineCallTimeout != 120*time.Second {
		t.Errorf("PipelineCallTimeout = %v, want %v", cfg.PipelineCallTimeout, 120*time.Second)
	}
	if cfg.APNsProduction {
		t.Error("APNsProduction = true, want false")
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("CAPTURE_SOURCE", "portaudio")
	t.Setenv("SAMPLE_RATE", "44100")
	t.Setenv("RECORDING_MODE", "continuous")
	t.Setenv("JWT_EXPIRY", "1h")
	t.Setenv("PIPELINE_CALL_TIMEOUT", "30s")
	t.Setenv("JWT_SECRET", "super-secret")

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9999")
	}
	if cfg.CaptureSource != "portaudio" {
		t.Errorf("CaptureSource = %q, want %q", cfg.CaptureSource, "portaudio")
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.DefaultMode != "continuous" {
		t.Errorf("DefaultMode = %q, want %q", cfg.DefaultMode, "continuous")
	}
	if cfg.JWTExpiry != time.Hour {
		t.Errorf("JWTExpiry = %v, want %v", cfg.JWTExpiry, time.Hour)
	}
	if cfg.PipelineCallTimeout != 30*time.Second {
		t.Errorf("PipelineCallTimeout = %v, want %v", cfg.PipelineCallTimeout, 30*time.Second)
	}
	if cfg.JWTSecret != "super-secret" {
		t.Errorf("JWTSecret = %q, want %q", cfg.JWTSecret, "super-secret")
	}

	t.Setenv("JWT_EXPIRY", "not a duration")
	t.Setenv("PIPELINE_CALL_TIMEOUT", "-5s")
	cfg = LoadConfigFromEnv()
	if cfg.JWTExpiry != 720*time.Hour {
		t.Errorf("JWTExpiry fallback = %v, want %v", cfg.JWTExpiry, 720*time.Hour)
	}
	if cfg.PipelineCallTimeout != 120*time.Second {
		t.Errorf("PipelineCallTimeout fallback = %v, want %v", cfg.PipelineCallTimeout, 120*time.Second)
	}
}
