package audioio

import (
	"context"
	"io"
)

// Sink plays raw audio to a speaker.
type Sink interface {
	// Start opens the output. Audio can then be written via Write.
	Start(ctx context.Context) error

	// Stop halts playback immediately. It is safe to call Stop multiple
	// times.
	Stop() error

	// Write sends an audio chunk to the output device.
	// This may block if the output buffer is full.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until everything written has been played, then leaves
	// the sink stopped. Call Start again for the next clip.
	Flush(ctx context.Context) error

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	io.Closer
}
