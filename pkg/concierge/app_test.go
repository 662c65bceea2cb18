package concierge

import (
	"bytes"
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-concierge/internal/config"
	"github.com/teslashibe/go-concierge/internal/log"
	"github.com/teslashibe/go-concierge/pkg/artifact"
	"github.com/teslashibe/go-concierge/pkg/comparator"
	"github.com/teslashibe/go-concierge/pkg/journal"
	"github.com/teslashibe/go-concierge/pkg/playback"
	"github.com/teslashibe/go-concierge/pkg/sampler"
	"github.com/teslashibe/go-concierge/pkg/speech"
	"github.com/teslashibe/go-concierge/pkg/web"
)

type fakeFrame struct{}

func (fakeFrame) Size() image.Point                    { return image.Pt(640, 480) }
func (fakeFrame) Crop(image.Rectangle) ([]byte, error) { return []byte("probe"), nil }
func (fakeFrame) Annotate(sampler.Candidate)           {}
func (fakeFrame) Encode() ([]byte, error)              { return []byte("jpeg"), nil }
func (fakeFrame) Close() error                         { return nil }

// fakeSource yields limit frames and then fails. onRead runs before each
// frame is returned.
type fakeSource struct {
	limit  int
	reads  int
	onRead func(n int)
}

func (s *fakeSource) Read(ctx context.Context) (sampler.Frame, error) {
	if s.reads >= s.limit {
		return nil, errors.New("end of clip")
	}
	s.reads++
	if s.onRead != nil {
		s.onRead(s.reads)
	}
	return fakeFrame{}, nil
}

// faceDetector reports one large frontal face when face is true.
type faceDetector struct{ face bool }

func (d faceDetector) Class() sampler.Class { return sampler.ClassFrontal }

func (d faceDetector) Detect(sampler.Frame) ([]image.Rectangle, error) {
	if !d.face {
		return nil, nil
	}
	return []image.Rectangle{image.Rect(100, 100, 300, 300)}, nil
}

// testConfig writes a one-person identity store and returns a config that
// keeps every artifact under a temp dir.
func testConfig(t *testing.T, kind string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "p1.jpg"), []byte("p1-face"), 0o644); err != nil {
		t.Fatal(err)
	}
	users := `{"person1": {"key": "dxs", "type": "` + kind + `", "image": "p1.jpg", "text": "dxswelcome.mp3"}}`
	if err := os.WriteFile(filepath.Join(dir, "users.json"), []byte(users), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Camera.Window = false
	cfg.Sampling.Interval = 1
	cfg.Sampling.CropDir = filepath.Join(dir, "faces")
	cfg.Identity.Store = filepath.Join(dir, "users.json")
	cfg.Comparator.MinInterval = 0
	cfg.Dialogue.Settle = 0
	cfg.Dialogue.Timeout = 2 * time.Second
	cfg.Dialogue.ResultFile = filepath.Join(dir, "recognized_item.txt")
	cfg.Audio.AssetDir = filepath.Join(dir, "audio")
	cfg.Journal.Path = filepath.Join(dir, "journal.db")
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{
		WithComparator(comparator.NewMatchingMock([]byte("p1-face"))),
		WithDetectors(faceDetector{face: true}),
		WithLogger(log.Discard()),
	}, opts...)
	a, err := New(cfg, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Shutdown)
	if err := a.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return a
}

func count(t *testing.T, j *journal.Journal, kind journal.Kind) int {
	t.Helper()
	n, err := j.Count(context.Background(), kind)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestRunGreetsOwnerOnceWithinCooldown(t *testing.T) {
	cfg := testConfig(t, "owner")
	player := playback.NewMock()
	dash := web.NewServer(0, web.WithLogger(log.Discard()))
	a := newApp(t, cfg,
		WithPlayer(player),
		WithRecognizer(speech.NewMock()),
		WithFrameSource(&fakeSource{limit: 3}),
		WithDashboard(dash),
	)

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := player.Assets(); len(got) != 1 || got[0] != "dxswelcome.mp3" {
		t.Errorf("played %v, want one greeting", got)
	}
	if n := count(t, a.Journal(), journal.KindDetection); n != 3 {
		t.Errorf("detection events = %d, want 3", n)
	}
	if n := count(t, a.Journal(), journal.KindGreeting); n != 1 {
		t.Errorf("greeting events = %d, want 1", n)
	}

	st := dash.Status()
	if st.Phase != web.PhaseIdle || st.Interactions != 1 || st.LastIdentity != "dxs" ||
		st.LastOutcome != "owner_greeted" || st.Frames != 3 {
		t.Errorf("status = %+v", st)
	}
}

func TestRunOnceGuestDialogue(t *testing.T) {
	cfg := testConfig(t, "guest")
	cfg.Once = true

	stream := speech.NewMockStream(4)
	rec := speech.NewMock()
	rec.ListenFunc = func(context.Context) (speech.Stream, error) { return stream, nil }

	player := playback.NewMock()
	player.PlayFunc = func(_ context.Context, asset string) error {
		if asset == cfg.Dialogue.AskPrompt {
			go func() {
				for stream.Paused() {
					time.Sleep(time.Millisecond)
				}
				stream.Say("我要一瓶水")
			}()
		}
		return nil
	}

	src := &fakeSource{limit: 10}
	a := newApp(t, cfg, WithPlayer(player), WithRecognizer(rec), WithFrameSource(src))

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.reads != 1 {
		t.Errorf("frames read = %d, want 1 with Once", src.reads)
	}

	want := []string{"dxswelcome.mp3", "ask.mp3", "watter.mp3"}
	if got := player.Assets(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("played %v, want %v", got, want)
	}
	got, err := artifact.NewResultFile(cfg.Dialogue.ResultFile).Read()
	if err != nil || got != "水" {
		t.Errorf("result file = %q, %v", got, err)
	}
	if n := count(t, a.Journal(), journal.KindDialogue); n != 1 {
		t.Errorf("dialogue events = %d, want 1", n)
	}
}

func TestStopEndsRunBetweenFrames(t *testing.T) {
	cfg := testConfig(t, "owner")
	dash := web.NewServer(0, web.WithLogger(log.Discard()))

	src := &fakeSource{limit: 100}
	src.onRead = func(n int) {
		if n == 5 {
			dash.OnStop()
		}
	}
	a := newApp(t, cfg,
		WithPlayer(playback.NewMock()),
		WithRecognizer(speech.NewMock()),
		WithDetectors(faceDetector{face: false}),
		WithFrameSource(src),
		WithDashboard(dash),
	)
	if dash.OnStop == nil {
		t.Fatal("dashboard stop not wired")
	}

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.reads != 5 {
		t.Errorf("frames read = %d, want 5", src.reads)
	}
}

func TestRunBeforeInit(t *testing.T) {
	a, err := New(config.Default(), WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Run(context.Background()); err == nil {
		t.Error("Run before Init should fail")
	}
}

func TestInitMissingIdentityStore(t *testing.T) {
	cfg := testConfig(t, "owner")
	cfg.Identity.Store = filepath.Join(t.TempDir(), "missing.json")

	a, err := New(cfg, WithLogger(log.Discard()), WithComparator(comparator.NewMock()))
	if err != nil {
		t.Fatal(err)
	}
	defer a.Shutdown()
	if err := a.Init(); err == nil {
		t.Error("Init should fail without an identity store")
	}
}

// syncBuffer guards a bytes.Buffer for loggers shared across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestInitLogsComparatorPacing(t *testing.T) {
	cfg := testConfig(t, "owner")
	cfg.Comparator.MinInterval = 250 * time.Millisecond
	var out syncBuffer
	newApp(t, cfg,
		WithPlayer(playback.NewMock()),
		WithRecognizer(speech.NewMock()),
		WithFrameSource(&fakeSource{limit: 1}),
		WithDashboard(web.NewServer(0, web.WithLogger(log.Discard()))),
		WithLogger(log.New(&out, "info")),
	)

	logs := out.String()
	if !strings.Contains(logs, "comparator pacing") {
		t.Fatalf("no pacing line in logs:\n%s", logs)
	}
	if !strings.Contains(logs, "250ms") && !strings.Contains(logs, "250000000") {
		t.Errorf("pacing interval missing from logs:\n%s", logs)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sampling.Interval = 0
	if _, err := New(cfg); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}
