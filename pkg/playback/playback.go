// Package playback plays prompt, greeting and response audio assets.
//
// Every Player blocks until the clip has finished playing. Assets are
// referenced by file name and resolved against an asset directory.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DefaultLeadIn is the silence played before each clip so the first
// syllable is not clipped while the output device wakes up.
const DefaultLeadIn = 500 * time.Millisecond

// ErrAssetNotFound is returned when an asset file does not exist.
var ErrAssetNotFound = errors.New("playback: asset not found")

// Player plays one asset and returns when playback is complete.
type Player interface {
	Play(ctx context.Context, asset string) error
}

// Assets resolves asset names to files under a directory.
type Assets struct {
	Dir string
}

// Resolve returns the path of asset. Absolute names are used as is.
func (a Assets) Resolve(asset string) (string, error) {
	if asset == "" {
		return "", fmt.Errorf("%w: empty name", ErrAssetNotFound)
	}
	path := asset
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.Dir, asset)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrAssetNotFound, path)
	}
	return path, nil
}

// Missing returns the names among assets that do not resolve, in order and
// without duplicates.
func (a Assets) Missing(assets ...string) []string {
	var missing []string
	seen := make(map[string]bool, len(assets))
	for _, name := range assets {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, err := a.Resolve(name); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// CheckAssets warns about every asset in names that does not resolve and
// returns the missing ones. Playback of a missing asset fails at runtime
// but is not fatal, so startup continues.
func CheckAssets(a Assets, logger *slog.Logger, names ...string) []string {
	missing := a.Missing(names...)
	for _, name := range missing {
		logger.Warn("audio asset missing", "component", "playback", "asset", name, "dir", a.Dir)
	}
	return missing
}
