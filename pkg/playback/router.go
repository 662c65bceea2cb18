package playback

import (
	"context"
	"path/filepath"
	"strings"
)

// Router picks a player by file extension, falling back to Default.
type Router struct {
	Default Player
	ByExt   map[string]Player // keys like ".opus", lower case
}

// Play dispatches to the player registered for the asset's extension.
func (r *Router) Play(ctx context.Context, asset string) error {
	ext := strings.ToLower(filepath.Ext(asset))
	if p, ok := r.ByExt[ext]; ok && p != nil {
		return p.Play(ctx, asset)
	}
	return r.Default.Play(ctx, asset)
}

var _ Player = (*Router)(nil)
