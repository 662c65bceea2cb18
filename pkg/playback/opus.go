package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-concierge/pkg/audioio"
)

// opusRate is the rate libopusfile always decodes at.
const opusRate = 48000

// OpusPlayer decodes Ogg Opus assets and writes the PCM to an audio sink.
type OpusPlayer struct {
	assets   Assets
	sink     audioio.Sink
	channels int // channel count of the assets
	leadIn   time.Duration
	logger   *slog.Logger
}

// NewOpusPlayer creates a player for assets with the given channel count
// (1 if <= 0). The sink receives PCM at its own configured rate.
func NewOpusPlayer(assets Assets, sink audioio.Sink, channels int, logger *slog.Logger) *OpusPlayer {
	if channels <= 0 {
		channels = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpusPlayer{
		assets:   assets,
		sink:     sink,
		channels: channels,
		leadIn:   DefaultLeadIn,
		logger:   logger.With("component", "playback.opus"),
	}
}

// Play decodes the whole asset into the sink and waits for it to drain.
func (p *OpusPlayer) Play(ctx context.Context, asset string) error {
	path, err := p.assets.Resolve(asset)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("playback: open %s: %w", asset, err)
	}
	defer f.Close()

	stream, err := opus.NewStream(f)
	if err != nil {
		return fmt.Errorf("playback: decode %s: %w", asset, err)
	}
	defer stream.Close()

	return p.playStream(ctx, asset, stream)
}

// pcmReader is the part of opus.Stream the player uses.
type pcmReader interface {
	Read(pcm []int16) (int, error)
}

func (p *OpusPlayer) playStream(ctx context.Context, asset string, r pcmReader) error {
	out := p.sink.Config()
	if err := p.sink.Start(ctx); err != nil {
		return fmt.Errorf("playback: start sink: %w", err)
	}

	if p.leadIn > 0 {
		lead := audioio.Silence(int(p.leadIn.Milliseconds()), out.SampleRate, out.Channels)
		if err := p.sink.Write(ctx, lead); err != nil {
			p.sink.Stop()
			return fmt.Errorf("playback: write: %w", err)
		}
	}

	// 120ms is the longest opus frame.
	buf := make([]int16, opusRate/1000*120*p.channels)
	for {
		n, err := r.Read(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			p.sink.Stop()
			return fmt.Errorf("playback: decode %s: %w", asset, err)
		}
		if n == 0 {
			continue
		}

		if err := p.sink.Write(ctx, p.convert(buf[:n*p.channels], out)); err != nil {
			p.sink.Stop()
			return fmt.Errorf("playback: write: %w", err)
		}
	}

	if err := p.sink.Flush(ctx); err != nil {
		return fmt.Errorf("playback: flush: %w", err)
	}
	p.logger.Debug("played", "asset", asset)
	return nil
}

// convert maps decoded 48kHz PCM to the sink format. Only mono output is
// resampled; multi-channel sinks must run at 48kHz.
func (p *OpusPlayer) convert(pcm []int16, out audioio.Config) audioio.AudioChunk {
	samples := make([]int16, len(pcm))
	copy(samples, pcm)
	channels := p.channels

	if out.Channels == 1 && channels > 1 {
		samples = audioio.ToMono(samples, channels)
		channels = 1
	}
	rate := opusRate
	if channels == 1 && out.SampleRate != opusRate {
		samples = audioio.Resample(samples, opusRate, out.SampleRate)
		rate = out.SampleRate
	}
	return audioio.AudioChunk{Samples: samples, SampleRate: rate, Channels: channels}
}

var _ Player = (*OpusPlayer)(nil)
