package vision

import (
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-concierge/pkg/sampler"
)

// QuitKey closes the operator window.
const QuitKey = 'q'

// Window shows frames to an operator.
type Window struct {
	win *gocv.Window
}

var _ sampler.Display = (*Window)(nil)

// NewWindow opens a window titled title.
func NewWindow(title string) *Window {
	return &Window{win: gocv.NewWindow(title)}
}

// Show draws the annotated frame and polls the keyboard for 1ms. It
// reports true when QuitKey was pressed.
func (w *Window) Show(f sampler.Frame) bool {
	vf, err := asFrame(f)
	if err != nil {
		return false
	}
	w.win.IMShow(vf.View())
	return w.win.WaitKey(1)&0xff == QuitKey
}

// Close destroys the window.
func (w *Window) Close() error {
	return w.win.Close()
}
