package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeFrame(t *testing.T) {
	data := []byte(`{"analysis":"dummypi","signal":"connect","payload":{"n":5}}`)

	f, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error: %v", err)
	}
	if f.Analysis != "dummypi" {
		t.Errorf("Analysis = %q, want dummypi", f.Analysis)
	}
	if f.Signal != "connect" {
		t.Errorf("Signal = %q, want connect", f.Signal)
	}
	if f.Payload["n"] != float64(5) {
		t.Errorf("Payload[n] = %v, want 5", f.Payload["n"])
	}
}

func TestDecodeFrameValidation(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"missing analysis", []byte(`{"signal":"connect"}`), ErrMissingAnalysis},
		{"missing signal", []byte(`{"analysis":"dummypi"}`), ErrMissingSignal},
		{"too large", bytes.Repeat([]byte("x"), MaxFrameSize+1), ErrFrameTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeFrame() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, err := DecodeFrame([]byte("not json")); err == nil {
		t.Error("DecodeFrame(garbage) should fail")
	}
}

func TestEncodeFrameOmitsEmptyPayload(t *testing.T) {
	data, err := EncodeFrame(&Frame{Analysis: "a", Signal: "s"})
	if err != nil {
		t.Fatalf("EncodeFrame() error: %v", err)
	}
	if bytes.Contains(data, []byte("payload")) {
		t.Errorf("EncodeFrame() = %s, want payload omitted", data)
	}
}
