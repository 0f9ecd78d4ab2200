package capture

import "context"

// Source produces fixed-size chunks of s16le PCM audio.
type Source interface {
	// Start begins capture. Chunks become available after Start returns.
	Start(ctx context.Context) error
	// Chunks returns the chunk channel. It is closed on Close.
	Chunks() <-chan []byte
	// Close stops capture and releases the device.
	Close() error
}

type Config struct {
	SampleRate   int
	Channels     int
	ChunkSamples int
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.ChunkSamples <= 0 {
		c.ChunkSamples = 1024
	}
}
