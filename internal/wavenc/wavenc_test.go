package wavenc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-audio/wav"
)

func TestEncodeRoundTrip(t *testing.T) {
	// 100ms of a ramp at 16kHz mono.
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i - 800)
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	data, err := Encode(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("encoded data is not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}

	if dec.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", dec.SampleRate)
	}
	if dec.NumChans != 1 {
		t.Errorf("channels = %d, want 1", dec.NumChans)
	}
	if dec.BitDepth != 16 {
		t.Errorf("bit depth = %d, want 16", dec.BitDepth)
	}
	if len(buf.Data) != len(samples) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(samples))
	}
	for i, s := range samples {
		if buf.Data[i] != int(s) {
			t.Fatalf("sample %d = %d, want %d", i, buf.Data[i], s)
		}
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
		channels   int
	}{
		{"empty audio", nil, 16000, 1},
		{"odd byte count", []byte{0x01, 0x02, 0x03}, 16000, 1},
		{"zero sample rate", []byte{0x01, 0x02}, 0, 1},
		{"zero channels", []byte{0x01, 0x02}, 16000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Encode(tt.pcm, tt.sampleRate, tt.channels); err == nil {
				t.Error("Encode() should fail")
			}
		})
	}
}
