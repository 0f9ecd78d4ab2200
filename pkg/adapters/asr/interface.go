package asr

import (
	"context"

	"github.com/horchlabs/horch/pkg/frames"
)

// StreamingASR defines the contract for any speech recognizer implementation.
type StreamingASR interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the recognizer.
	Start(ctx context.Context) error
	// Close shuts down the recognizer.
	Close() error
	// SendAudio feeds audio frames to the recognizer.
	SendAudio(frame frames.AudioFrame) error
	// Results returns a channel of transcription/control frames.
	Results() <-chan frames.Frame
}

// Config contains vendor-agnostic recognizer configuration.
type Config struct {
	StreamID   string
	TraceID    string
	SampleRate int
	Language   string
	ModelPath  string
}
