package concierge

import (
	"context"
	"sync/atomic"

	"github.com/teslashibe/go-concierge/pkg/dialogue"
	"github.com/teslashibe/go-concierge/pkg/journal"
	"github.com/teslashibe/go-concierge/pkg/sampler"
	"github.com/teslashibe/go-concierge/pkg/web"
)

// countingSource counts every frame read for the dashboard.
type countingSource struct {
	sampler.FrameSource
	n *atomic.Int64
}

func (s *countingSource) Read(ctx context.Context) (sampler.Frame, error) {
	f, err := s.FrameSource.Read(ctx)
	if err == nil {
		s.n.Add(1)
	}
	return f, err
}

func (a *App) setPhase(p web.Phase) {
	if a.web != nil {
		a.web.SetPhase(p)
	}
}

func (a *App) onSampled(f sampler.Frame) {
	if a.web == nil {
		return
	}
	frames := a.frames.Load()
	a.web.UpdateStatus(func(st *web.Status) { st.Frames = frames })
	jpeg, err := f.Encode()
	if err != nil {
		a.logger.Debug("encode frame", "error", err)
		return
	}
	a.web.SendCameraFrame(jpeg)
}

func (a *App) onResolving(sampler.Candidate) {
	a.setPhase(web.PhaseResolving)
}

func (a *App) onDetection(d sampler.Detection) {
	detail := map[string]any{
		"class":      string(d.Class),
		"confidence": d.Confidence,
		"box":        []int{d.Box.Min.X, d.Box.Min.Y, d.Box.Dx(), d.Box.Dy()},
		"matched":    d.Result.Matched,
		"calls":      d.Result.Calls,
	}
	if d.Result.Matched {
		detail["score"] = d.Result.Score
	}
	a.record(context.Background(), &journal.Event{
		At:         d.At,
		Kind:       journal.KindDetection,
		DisplayKey: d.Result.Record.DisplayKey,
		Detail:     detail,
		CropPath:   d.CropPath,
	})
	if !d.Result.Matched {
		a.setPhase(web.PhaseSampling)
	}
}

func (a *App) onDialogueState(s dialogue.State) {
	if s == dialogue.StateAsking {
		a.setPhase(web.PhaseDialogue)
	}
}

// record writes e to the journal. Failures are logged only.
func (a *App) record(ctx context.Context, e *journal.Event) {
	if a.journal == nil {
		return
	}
	if err := a.journal.Record(ctx, e); err != nil {
		a.logger.Warn("journal write failed", "kind", e.Kind, "error", err)
	}
}
