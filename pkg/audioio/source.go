package audioio

import (
	"context"
	"io"
)

// AudioChunk represents a chunk of interleaved PCM16 audio.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the little-endian bytes of the chunk.
func (c *AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// FromBytes populates the chunk from raw PCM16 bytes.
func (c *AudioChunk) FromBytes(data []byte, sampleRate, channels int) {
	c.SampleRate = sampleRate
	c.Channels = channels
	c.Samples = BytesToSamples(data)
}

// Duration returns the duration of this chunk in seconds.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins audio capture. Chunks are then available via Read or
	// Stream. A stopped source may be started again.
	Start(ctx context.Context) error

	// Stop halts audio capture. It is safe to call Stop multiple times.
	Stop() error

	// Read reads the next audio chunk, blocking if necessary.
	// Returns io.EOF when the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns a channel that receives audio chunks.
	// The channel is closed when the source stops.
	Stream() <-chan AudioChunk

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources. After Close, the source cannot be
	// restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	ChunksRead  int64  `json:"chunks_read"`
	SamplesRead int64  `json:"samples_read"`
	Overruns    int64  `json:"overruns"` // chunks dropped because nobody read them
	Running     bool   `json:"running"`
	Backend     string `json:"backend"`
}
