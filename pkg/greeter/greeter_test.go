package greeter

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/teslashibe/go-concierge/internal/log"
	"github.com/teslashibe/go-concierge/pkg/cooldown"
	"github.com/teslashibe/go-concierge/pkg/dialogue"
	"github.com/teslashibe/go-concierge/pkg/identity"
	"github.com/teslashibe/go-concierge/pkg/playback"
)

type fakeConversation struct {
	runs int
	out  dialogue.Outcome
}

func (f *fakeConversation) Run(context.Context) dialogue.Outcome {
	f.runs++
	return f.out
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testStore() *identity.Store {
	return identity.NewStore([]identity.Record{
		{ID: "person1", DisplayKey: "dxs", Kind: identity.KindOwner, ReferenceImage: "a.jpg", GreetingAudio: "dxswelcome.mp3"},
		{ID: "person2", DisplayKey: "lyy", Kind: identity.KindGuest, ReferenceImage: "b.jpg", GreetingAudio: "lyywelcome.mp3"},
		{ID: "person3", DisplayKey: "nog", Kind: identity.KindGuest, ReferenceImage: "c.jpg"},
		{ID: "person4", DisplayKey: "vip", Kind: "vip", ReferenceImage: "d.jpg", GreetingAudio: "vip.mp3"},
	}, log.Discard())
}

type fixture struct {
	g       *Greeter
	player  *playback.Mock
	conv    *fakeConversation
	tracker *cooldown.Tracker
	clock   *clock
}

func newFixture() *fixture {
	f := &fixture{
		player:  playback.NewMock(),
		conv:    &fakeConversation{out: dialogue.Outcome{State: dialogue.StateMatched, Keyword: "水"}},
		tracker: cooldown.New(cooldown.DefaultWindow),
		clock:   &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.g = New(testStore(), f.tracker, f.player, f.conv, WithClock(f.clock.now), WithLogger(log.Discard()))
	return f
}

func TestGreetOwner(t *testing.T) {
	f := newFixture()
	res := f.g.Greet(context.Background(), "dxs")

	if res.Outcome != OutcomeOwnerGreeted || res.Err != nil {
		t.Fatalf("Greet() = %+v", res)
	}
	if got := f.player.Assets(); !reflect.DeepEqual(got, []string{"dxswelcome.mp3"}) {
		t.Errorf("played %v", got)
	}
	if f.conv.runs != 0 {
		t.Error("dialogue started for an owner")
	}
	if f.tracker.ShouldTrigger("dxs", f.clock.now()) {
		t.Error("cooldown not recorded")
	}
}

func TestGreetGuestRunsDialogue(t *testing.T) {
	f := newFixture()
	res := f.g.Greet(context.Background(), "lyy")

	if res.Outcome != OutcomeGuestDialogue {
		t.Fatalf("Outcome = %s", res.Outcome)
	}
	if f.conv.runs != 1 || res.Dialogue == nil || res.Dialogue.Keyword != "水" {
		t.Errorf("dialogue runs = %d, result = %+v", f.conv.runs, res.Dialogue)
	}
}

func TestGreetCooldown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if res := f.g.Greet(ctx, "dxs"); res.Outcome != OutcomeOwnerGreeted {
		t.Fatalf("first Greet() = %s", res.Outcome)
	}

	f.clock.advance(60 * time.Second)
	if res := f.g.Greet(ctx, "dxs"); res.Outcome != OutcomeCoolingDown {
		t.Errorf("Greet() at +60s = %s, want cooling_down", res.Outcome)
	}

	f.clock.advance(120 * time.Second)
	if res := f.g.Greet(ctx, "dxs"); res.Outcome != OutcomeOwnerGreeted {
		t.Errorf("Greet() at +180s = %s, want owner_greeted", res.Outcome)
	}
	if n := f.player.CallCount(); n != 2 {
		t.Errorf("greeting played %d times, want 2", n)
	}
}

func TestGreetRecordsCooldownAfterPlayback(t *testing.T) {
	f := newFixture()
	f.player.PlayFunc = func(ctx context.Context, asset string) error {
		if !f.tracker.ShouldTrigger("dxs", f.clock.now()) {
			t.Error("cooldown recorded before playback finished")
		}
		f.clock.advance(5 * time.Second)
		return nil
	}
	start := f.clock.now()
	f.g.Greet(context.Background(), "dxs")

	// The window starts when playback ends, so 180s after the start it is
	// still closed.
	if f.tracker.ShouldTrigger("dxs", start.Add(cooldown.DefaultWindow)) {
		t.Error("window measured from before playback")
	}
	if !f.tracker.ShouldTrigger("dxs", start.Add(cooldown.DefaultWindow+5*time.Second)) {
		t.Error("window still closed 180s after playback ended")
	}
}

func TestGreetFailures(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		playErr   error
		want      Outcome
		wantErr   bool
		cooldown  bool
		dialogues int
	}{
		{name: "unknown key", key: "zzz", want: OutcomeUnknownIdentity, wantErr: true},
		{name: "no greeting audio", key: "nog", want: OutcomeMisconfigured, wantErr: true},
		{name: "greeting asset missing", key: "lyy", playErr: playback.ErrAssetNotFound, want: OutcomeMisconfigured, wantErr: true, cooldown: true},
		{name: "player error", key: "lyy", playErr: errors.New("device busy"), want: OutcomePlaybackFailed, wantErr: true, cooldown: true},
		{name: "unknown kind", key: "vip", want: OutcomeUnknownKind, cooldown: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.playErr != nil {
				f.player.PlayFunc = func(context.Context, string) error { return tt.playErr }
			}
			res := f.g.Greet(context.Background(), tt.key)
			if res.Outcome != tt.want {
				t.Errorf("Outcome = %s, want %s", res.Outcome, tt.want)
			}
			if (res.Err != nil) != tt.wantErr {
				t.Errorf("Err = %v, wantErr %v", res.Err, tt.wantErr)
			}
			if recorded := !f.tracker.ShouldTrigger(tt.key, f.clock.now()); recorded != tt.cooldown {
				t.Errorf("cooldown recorded = %v, want %v", recorded, tt.cooldown)
			}
			if f.conv.runs != tt.dialogues {
				t.Errorf("dialogue runs = %d, want %d", f.conv.runs, tt.dialogues)
			}
		})
	}
}

func TestGreetGuestWithoutDialogue(t *testing.T) {
	player := playback.NewMock()
	g := New(testStore(), cooldown.New(time.Minute), player, nil, WithLogger(log.Discard()))
	res := g.Greet(context.Background(), "lyy")
	if res.Outcome != OutcomeGuestDialogue || res.Dialogue != nil {
		t.Errorf("Greet() = %+v", res)
	}
}

func TestOutcomeGreeted(t *testing.T) {
	for _, o := range []Outcome{OutcomeOwnerGreeted, OutcomeGuestDialogue, OutcomeUnknownKind} {
		if !o.Greeted() {
			t.Errorf("%s.Greeted() = false", o)
		}
	}
	for _, o := range []Outcome{OutcomeCoolingDown, OutcomeUnknownIdentity, OutcomeMisconfigured, OutcomePlaybackFailed} {
		if o.Greeted() {
			t.Errorf("%s.Greeted() = true", o)
		}
	}
}
