package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-concierge/pkg/audioio"
)

// DefaultVoskURL is where vosk-server listens by default.
const DefaultVoskURL = "ws://localhost:2700"

// VoskConfig configures the vosk-server client.
type VoskConfig struct {
	URL         string // websocket endpoint of vosk-server
	SampleRate  int    // rate the model expects
	Buffer      int    // utterance channel capacity
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// DefaultVoskConfig returns defaults for a local small model.
func DefaultVoskConfig() VoskConfig {
	return VoskConfig{
		URL:         DefaultVoskURL,
		SampleRate:  16000,
		Buffer:      8,
		DialTimeout: 5 * time.Second,
		Logger:      slog.Default(),
	}
}

// Vosk streams microphone audio to a vosk-server over websocket.
type Vosk struct {
	cfg    VoskConfig
	source audioio.Source
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewVosk creates a recognizer reading from source. The source is started
// by Listen and stopped when the stream closes.
func NewVosk(cfg VoskConfig, source audioio.Source) *Vosk {
	def := DefaultVoskConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return &Vosk{
		cfg:    cfg,
		source: source,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		logger: cfg.Logger.With("component", "speech.vosk"),
	}
}

// voskResult is one message from vosk-server. Partial results carry only
// "partial"; final results carry "text".
type voskResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

// Listen dials the server, sends the stream config and starts capture.
func (v *Vosk) Listen(ctx context.Context) (Stream, error) {
	conn, _, err := v.dialer.DialContext(ctx, v.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("speech: dial %s: %w", v.cfg.URL, err)
	}

	cfgMsg := map[string]any{"config": map[string]any{"sample_rate": v.cfg.SampleRate}}
	if err := conn.WriteJSON(cfgMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("speech: send config: %w", err)
	}

	if err := v.source.Start(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("speech: open microphone: %w", err)
	}

	s := &voskStream{
		conn:   conn,
		source: v.source,
		rate:   v.cfg.SampleRate,
		out:    make(chan Utterance, v.cfg.Buffer),
		done:   make(chan struct{}),
		logger: v.logger,
	}
	s.wg.Add(2)
	go s.pumpAudio(v.source.Stream())
	go s.readResults()

	v.logger.Info("listening", "url", v.cfg.URL, "mic", v.source.Name())
	return s, nil
}

type voskStream struct {
	conn   *websocket.Conn
	source audioio.Source
	rate   int
	out    chan Utterance
	done   chan struct{}
	logger *slog.Logger

	paused    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *voskStream) Utterances() <-chan Utterance { return s.out }

func (s *voskStream) Pause()  { s.paused.Store(true) }
func (s *voskStream) Resume() { s.paused.Store(false) }

func (s *voskStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *voskStream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// pumpAudio is the only writer on the connection.
func (s *voskStream) pumpAudio(chunks <-chan audioio.AudioChunk) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`))
			return
		case chunk, ok := <-chunks:
			if !ok {
				select {
				case <-s.done:
					s.conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`))
					return
				default:
				}
				s.fail(fmt.Errorf("speech: microphone stopped"))
				s.conn.Close()
				return
			}
			if s.paused.Load() {
				continue
			}
			samples := audioio.ToMono(chunk.Samples, chunk.Channels)
			if chunk.SampleRate != 0 && chunk.SampleRate != s.rate {
				samples = audioio.Resample(samples, chunk.SampleRate, s.rate)
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, audioio.SamplesToBytes(samples)); err != nil {
				s.fail(fmt.Errorf("speech: send audio: %w", err))
				s.conn.Close()
				return
			}
		}
	}
}

// readResults owns the utterance channel and closes it on exit.
func (s *voskStream) readResults() {
	defer s.wg.Done()
	defer close(s.out)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.fail(fmt.Errorf("speech: recognizer connection: %w", err))
			}
			return
		}

		var r voskResult
		if err := json.Unmarshal(data, &r); err != nil {
			s.logger.Debug("ignoring undecodable result", "error", err)
			continue
		}
		text := strings.TrimSpace(r.Text)
		if text == "" || s.paused.Load() {
			continue
		}
		select {
		case s.out <- Utterance{Text: text, At: time.Now()}:
		case <-s.done:
			return
		}
	}
}

// Close sends eof, waits briefly for the server to hang up and stops the
// microphone.
func (s *voskStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.source.Stop()

		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(time.Second):
			s.conn.Close()
			<-finished
		}
		s.conn.Close()
	})
	return nil
}
