package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultCommand plays a file with ffplay and no window, delaying the audio
// by DefaultLeadIn.
var DefaultCommand = []string{
	"ffplay", "-nodisp", "-autoexit", "-loglevel", "error",
	"-af", fmt.Sprintf("adelay=%d:all=1", DefaultLeadIn.Milliseconds()),
}

// ExecPlayer plays assets by running an external player with the file path
// as the last argument.
type ExecPlayer struct {
	assets  Assets
	command []string
	logger  *slog.Logger
}

// NewExecPlayer creates a player. An empty command uses DefaultCommand.
func NewExecPlayer(assets Assets, command []string, logger *slog.Logger) (*ExecPlayer, error) {
	if len(command) == 0 {
		command = DefaultCommand
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("playback: player %q: %w", command[0], err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecPlayer{
		assets:  assets,
		command: command,
		logger:  logger.With("component", "playback.exec"),
	}, nil
}

// Play runs the player and waits for it to exit.
func (p *ExecPlayer) Play(ctx context.Context, asset string) error {
	path, err := p.assets.Resolve(asset)
	if err != nil {
		return err
	}

	args := append(append([]string{}, p.command[1:]...), path)
	cmd := exec.CommandContext(ctx, p.command[0], args...)

	start := time.Now()
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("playback: %s %s: %w (%s)", p.command[0], asset, err, out)
	}
	p.logger.Debug("played", "asset", asset, "duration", time.Since(start))
	return nil
}

var _ Player = (*ExecPlayer)(nil)
