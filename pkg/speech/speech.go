// Package speech turns microphone audio into finalized utterances.
//
// A Recognizer opens a Stream for one listening session. The stream
// delivers finalized, non-empty utterances on a bounded channel and can be
// paused so the system does not transcribe its own playback.
package speech

import (
	"context"
	"errors"
	"time"
)

// ErrStreamClosed is returned when using a stream after Close.
var ErrStreamClosed = errors.New("speech: stream closed")

// Utterance is one finalized recognition result.
type Utterance struct {
	Text string
	At   time.Time
}

// Recognizer opens listening sessions.
type Recognizer interface {
	// Listen opens the microphone and the recognizer. An error means the
	// capture device or recognizer could not be opened.
	Listen(ctx context.Context) (Stream, error)
}

// Stream is one open listening session.
type Stream interface {
	// Utterances delivers finalized utterances. It is closed when the
	// session ends, after which Err reports why.
	Utterances() <-chan Utterance

	// Pause drops microphone audio until Resume. Results that finalize
	// while paused are discarded.
	Pause()

	// Resume restarts feeding microphone audio to the recognizer.
	Resume()

	// Err returns the failure that ended the session, or nil.
	Err() error

	// Close ends the session and releases the microphone.
	Close() error
}
