package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the largest accepted inbound frame in bytes.
// Oversized frames are rejected before decoding.
const MaxFrameSize = 1 << 20 // 1MB

// Frame is one message on the wire.
type Frame struct {
	// Analysis names the target analysis.
	Analysis string `json:"analysis"`

	// Signal names the event within the analysis.
	Signal string `json:"signal"`

	// Payload carries signal-specific structured data.
	Payload map[string]any `json:"payload,omitempty"`
}

// Decode errors.
var (
	ErrFrameTooLarge   = errors.New("protocol: frame too large")
	ErrMissingAnalysis = errors.New("protocol: missing analysis name")
	ErrMissingSignal   = errors.New("protocol: missing signal name")
)

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}

// DecodeFrame parses and validates an inbound frame.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("protocol: decode: %w", err)
	}
	if f.Analysis == "" {
		return nil, ErrMissingAnalysis
	}
	if f.Signal == "" {
		return nil, ErrMissingSignal
	}
	return &f, nil
}
