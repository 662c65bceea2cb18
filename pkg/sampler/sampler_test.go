package sampler

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-concierge/internal/log"
	"github.com/teslashibe/go-concierge/pkg/artifact"
	"github.com/teslashibe/go-concierge/pkg/comparator"
	"github.com/teslashibe/go-concierge/pkg/identity"
	"github.com/teslashibe/go-concierge/pkg/resolver"
)

// fakeFrame is a 640x480 frame carrying the regions each detector class
// should report.
type fakeFrame struct {
	index     int
	regions   map[Class][]image.Rectangle
	annotated []Candidate
	closed    bool
}

func (f *fakeFrame) Size() image.Point { return image.Pt(640, 480) }

func (f *fakeFrame) Crop(r image.Rectangle) ([]byte, error) {
	return []byte("crop"), nil
}

func (f *fakeFrame) Annotate(c Candidate)    { f.annotated = append(f.annotated, c) }
func (f *fakeFrame) Encode() ([]byte, error) { return []byte("frame"), nil }

func (f *fakeFrame) Close() error {
	f.closed = true
	return nil
}

// fakeSource yields frames from build until limit, then fails.
type fakeSource struct {
	limit  int
	build  func(i int) *fakeFrame
	frames []*fakeFrame
}

func (s *fakeSource) Read(ctx context.Context) (Frame, error) {
	if len(s.frames) >= s.limit {
		return nil, errors.New("end of stream")
	}
	f := s.build(len(s.frames) + 1)
	f.index = len(s.frames) + 1
	s.frames = append(s.frames, f)
	return f, nil
}

type fakeDetector struct {
	class Class
	calls int
}

func (d *fakeDetector) Class() Class { return d.class }

func (d *fakeDetector) Detect(f Frame) ([]image.Rectangle, error) {
	d.calls++
	return f.(*fakeFrame).regions[d.class], nil
}

// face is a 200x200 box: 40000/307200 ≈ 13% of a 640x480 frame.
var face = image.Rect(100, 100, 300, 300)

func everyNth(n int, class Class) func(int) *fakeFrame {
	return func(i int) *fakeFrame {
		f := &fakeFrame{regions: map[Class][]image.Rectangle{}}
		if i%n == 0 {
			f.regions[class] = []image.Rectangle{face}
		}
		return f
	}
}

func newResolver(t *testing.T, cmp comparator.Comparator) *resolver.Resolver {
	t.Helper()
	dir := t.TempDir()
	ref := filepath.Join(dir, "person1.jpg")
	if err := os.WriteFile(ref, []byte("reference"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := identity.NewStore([]identity.Record{
		{ID: "person1", DisplayKey: "dxs", Kind: identity.KindOwner, ReferenceImage: ref, GreetingAudio: "dxswelcome.mp3"},
	}, log.Discard())
	return resolver.New(store, cmp, resolver.NewPacer(0), resolver.WithLogger(log.Discard()))
}

func detectors() (*fakeDetector, *fakeDetector, []Detector) {
	front := &fakeDetector{class: ClassFrontal}
	profile := &fakeDetector{class: ClassProfile}
	return front, profile, []Detector{front, profile}
}

func TestOneComparatorCallPerInterval(t *testing.T) {
	cmp := comparator.NewMock()
	src := &fakeSource{limit: 90, build: everyNth(30, ClassFrontal)}
	front, profile, dets := detectors()

	loop := New(src, dets, nil, newResolver(t, cmp), WithLogger(log.Discard()))
	res, err := loop.Run(context.Background())

	if !errors.Is(err, ErrSourceExhausted) || res.Reason != ExitExhausted {
		t.Fatalf("Run() = %+v, %v; want exhausted", res, err)
	}
	if res.Frames != 90 || res.Sampled != 3 {
		t.Errorf("Frames = %d, Sampled = %d; want 90, 3", res.Frames, res.Sampled)
	}
	if n := cmp.CallCount(); n != 3 {
		t.Errorf("comparator calls = %d, want 3 (one per 30 frames)", n)
	}
	if front.calls != 3 || profile.calls != 3 {
		t.Errorf("detector calls = %d/%d, want 3/3", front.calls, profile.calls)
	}
	for _, f := range src.frames {
		if !f.closed {
			t.Fatalf("frame %d not closed", f.index)
		}
	}
}

func TestRegionsOffIntervalAreIgnored(t *testing.T) {
	cmp := comparator.NewMock()
	// Faces on every 7th frame; only frame 210 is both a multiple of 7 and 30.
	src := &fakeSource{limit: 210, build: everyNth(7, ClassProfile)}
	_, _, dets := detectors()

	New(src, dets, nil, newResolver(t, cmp), WithLogger(log.Discard())).Run(context.Background())

	if n := cmp.CallCount(); n != 1 {
		t.Errorf("comparator calls = %d, want 1", n)
	}
}

func TestStopsOnFirstMatch(t *testing.T) {
	cmp := comparator.NewMatchingMock([]byte("reference"))
	src := &fakeSource{limit: 300, build: func(i int) *fakeFrame {
		return &fakeFrame{regions: map[Class][]image.Rectangle{
			ClassFrontal: {face, image.Rect(0, 0, 250, 250)},
			ClassProfile: {face},
		}}
	}}
	front, profile, dets := detectors()
	crops, err := artifact.NewCropStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	var detections []Detection
	loop := New(src, dets, crops, newResolver(t, cmp),
		WithInterval(10),
		WithLogger(log.Discard()),
		WithHooks(Hooks{OnDetection: func(d Detection) { detections = append(detections, d) }}),
	)
	res, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != ExitMatched || res.Match == nil {
		t.Fatalf("Run() = %+v, want matched", res)
	}
	if res.Frames != 10 {
		t.Errorf("Frames = %d, want loop to end on frame 10", res.Frames)
	}
	if res.Match.Result.Record.DisplayKey != "dxs" || res.Match.Class != ClassFrontal {
		t.Errorf("Match = %+v", res.Match)
	}
	if n := cmp.CallCount(); n != 1 {
		t.Errorf("comparator calls = %d, want 1", n)
	}
	if front.calls != 1 || profile.calls != 1 {
		t.Errorf("detector calls = %d/%d", front.calls, profile.calls)
	}
	if len(detections) != 1 || detections[0].CropPath == "" {
		t.Fatalf("detections = %+v", detections)
	}
	if _, err := os.Stat(detections[0].CropPath); err != nil {
		t.Errorf("crop not saved: %v", err)
	}
	if got := len(src.frames[9].annotated); got != 3 {
		t.Errorf("annotated %d regions, want 3", got)
	}
}

func TestQualification(t *testing.T) {
	tests := []struct {
		name string
		box  image.Rectangle
		want bool
	}{
		{"large face", face, true},
		{"below min size", image.Rect(0, 0, 49, 400), false},
		{"below confidence", image.Rect(0, 0, 120, 120), false},
		{"just above confidence", image.Rect(0, 0, 130, 120), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := comparator.NewMock()
			src := &fakeSource{limit: 1, build: func(int) *fakeFrame {
				return &fakeFrame{regions: map[Class][]image.Rectangle{ClassFrontal: {tt.box}}}
			}}
			_, _, dets := detectors()
			New(src, dets, nil, newResolver(t, cmp), WithInterval(1), WithLogger(log.Discard())).Run(context.Background())

			if got := cmp.CallCount() == 1; got != tt.want {
				t.Errorf("resolved = %v, want %v", got, tt.want)
			}
			if got := len(src.frames[0].annotated) == 1; got != tt.want {
				t.Errorf("annotated = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStopSignalBetweenFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{limit: 1000, build: func(i int) *fakeFrame {
		if i == 5 {
			cancel()
		}
		return &fakeFrame{}
	}}
	_, _, dets := detectors()
	res, err := New(src, dets, nil, newResolver(t, comparator.NewMock()), WithLogger(log.Discard())).Run(ctx)
	if err != nil || res.Reason != ExitStopped {
		t.Fatalf("Run() = %+v, %v; want stopped", res, err)
	}
	if res.Frames != 5 {
		t.Errorf("Frames = %d, want 5", res.Frames)
	}
}

func TestStopDoesNotInterruptResolution(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var sawCancelled bool
	cmp := &comparator.Mock{CompareFunc: func(cctx context.Context, _, _ []byte) (comparator.Verdict, error) {
		cancel()
		mu.Lock()
		sawCancelled = cctx.Err() != nil
		mu.Unlock()
		return comparator.Verdict{Ret: 0, Score: 0.9}, nil
	}}
	src := &fakeSource{limit: 100, build: everyNth(1, ClassFrontal)}
	_, _, dets := detectors()

	res, err := New(src, dets, nil, newResolver(t, cmp), WithInterval(1), WithLogger(log.Discard())).Run(ctx)
	if err != nil || res.Reason != ExitMatched {
		t.Fatalf("Run() = %+v, %v; want the in-flight resolution to complete", res, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if sawCancelled {
		t.Error("comparator saw a cancelled context")
	}
}

type quitAfter struct {
	n, shown int
}

func (q *quitAfter) Show(Frame) bool {
	q.shown++
	return q.shown >= q.n
}

func TestOperatorQuit(t *testing.T) {
	src := &fakeSource{limit: 1000, build: func(int) *fakeFrame { return &fakeFrame{} }}
	_, _, dets := detectors()
	win := &quitAfter{n: 3}
	res, err := New(src, dets, nil, newResolver(t, comparator.NewMock()), WithDisplay(win), WithLogger(log.Discard())).Run(context.Background())
	if err != nil || res.Reason != ExitStopped || res.Frames != 3 {
		t.Errorf("Run() = %+v, %v; want stopped after 3 frames", res, err)
	}
}

func TestSampledHook(t *testing.T) {
	src := &fakeSource{limit: 60, build: everyNth(30, ClassFrontal)}
	_, _, dets := detectors()
	var sampled []int
	var resolving int
	New(src, dets, nil, newResolver(t, comparator.NewMock()),
		WithLogger(log.Discard()),
		WithHooks(Hooks{
			OnSampled:   func(f Frame) { sampled = append(sampled, f.(*fakeFrame).index) },
			OnResolving: func(Candidate) { resolving++ },
		}),
	).Run(context.Background())

	if len(sampled) != 2 || sampled[0] != 30 || sampled[1] != 60 {
		t.Errorf("sampled frames = %v, want [30 60]", sampled)
	}
	if resolving != 2 {
		t.Errorf("resolving = %d, want 2", resolving)
	}
}

func TestCandidateLabel(t *testing.T) {
	c := Candidate{Class: ClassProfile, Confidence: 0.0734}
	if got := c.Label(); got != "profile:7.3%" {
		t.Errorf("Label() = %q", got)
	}
}

func TestDefaultNowIsUsed(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	src := &fakeSource{limit: 1, build: everyNth(1, ClassFrontal)}
	_, _, dets := detectors()
	var at time.Time
	loop := New(src, dets, nil, newResolver(t, comparator.NewMock()),
		WithInterval(1),
		WithLogger(log.Discard()),
		WithHooks(Hooks{OnDetection: func(d Detection) { at = d.At }}),
		func(c *Config) { c.Now = func() time.Time { return fixed } },
	)
	loop.Run(context.Background())
	if !at.Equal(fixed) {
		t.Errorf("detection time = %v, want %v", at, fixed)
	}
}

func TestDetectionsShareFrameTime(t *testing.T) {
	src := &fakeSource{limit: 2, build: func(i int) *fakeFrame {
		return &fakeFrame{regions: map[Class][]image.Rectangle{
			ClassFrontal: {face},
			ClassProfile: {image.Rect(320, 100, 520, 300)},
		}}
	}}
	_, _, dets := detectors()
	crops, err := artifact.NewCropStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	// Every read of the clock moves it a second forward.
	clock := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var detections []Detection
	loop := New(src, dets, crops, newResolver(t, comparator.NewMock()),
		WithInterval(1),
		WithLogger(log.Discard()),
		WithHooks(Hooks{OnDetection: func(d Detection) { detections = append(detections, d) }}),
		func(c *Config) {
			c.Now = func() time.Time {
				clock = clock.Add(time.Second)
				return clock
			}
		},
	)
	loop.Run(context.Background())

	if len(detections) != 4 {
		t.Fatalf("detections = %d, want 4", len(detections))
	}
	for i := 0; i < 4; i += 2 {
		a, b := detections[i], detections[i+1]
		if !a.At.Equal(b.At) {
			t.Errorf("frame %d: detection times %v and %v differ", i/2+1, a.At, b.At)
		}
		if a.CropPath == "" || a.CropPath == b.CropPath {
			t.Errorf("frame %d: crop paths %q and %q", i/2+1, a.CropPath, b.CropPath)
		}
	}
	if detections[0].At.Equal(detections[2].At) {
		t.Error("separate frames share a capture time")
	}
}
