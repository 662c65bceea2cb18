package resolver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-concierge/internal/log"
	"github.com/teslashibe/go-concierge/pkg/comparator"
	"github.com/teslashibe/go-concierge/pkg/identity"
)

// newStore writes one reference image per key and returns a store in the
// given order. Each reference's bytes are "ref-<key>".
func newStore(t *testing.T, keys ...string) *identity.Store {
	t.Helper()
	dir := t.TempDir()
	var recs []identity.Record
	for i, k := range keys {
		p := filepath.Join(dir, k+".jpg")
		if err := os.WriteFile(p, []byte("ref-"+k), 0o644); err != nil {
			t.Fatal(err)
		}
		recs = append(recs, identity.Record{
			ID:             fmt.Sprintf("person%d", i+1),
			DisplayKey:     k,
			Kind:           identity.KindGuest,
			ReferenceImage: p,
			GreetingAudio:  k + ".mp3",
		})
	}
	return identity.NewStore(recs, log.Discard())
}

// newTestResolver disables pacing and records backoff waits instead of
// sleeping.
func newTestResolver(store *identity.Store, cmp comparator.Comparator) (*Resolver, *[]time.Duration) {
	r := New(store, cmp, NewPacer(0), WithLogger(log.Discard()))
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return r, &waits
}

func TestResolveFirstMatchStopsScan(t *testing.T) {
	store := newStore(t, "a", "b", "c")
	cmp := comparator.NewMatchingMock([]byte("ref-b"))
	r, _ := newTestResolver(store, cmp)

	res, err := r.Resolve(context.Background(), []byte("crop"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Matched || res.Record.DisplayKey != "b" {
		t.Fatalf("result = %+v, want match on b", res)
	}
	if cmp.CallCount() != 2 || res.Calls != 2 {
		t.Errorf("calls = %d (reported %d), want 2; c must not be probed", cmp.CallCount(), res.Calls)
	}
	for _, c := range cmp.Calls() {
		if string(c.Probe) != "crop" {
			t.Errorf("probe = %q", c.Probe)
		}
	}
}

func TestResolveNoMatch(t *testing.T) {
	store := newStore(t, "a", "b")
	cmp := comparator.NewMock()
	r, waits := newTestResolver(store, cmp)

	res, err := r.Resolve(context.Background(), []byte("crop"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Matched {
		t.Errorf("unexpected match: %+v", res)
	}
	if cmp.CallCount() != 2 {
		t.Errorf("calls = %d, want 2 (no retries on a verdict)", cmp.CallCount())
	}
	if len(*waits) != 0 {
		t.Errorf("no backoff expected, got %v", *waits)
	}
}

func TestResolveRetriesThenMatches(t *testing.T) {
	store := newStore(t, "a")
	attempts := 0
	cmp := &comparator.Mock{
		CompareFunc: func(context.Context, []byte, []byte) (comparator.Verdict, error) {
			attempts++
			if attempts < 3 {
				return comparator.Verdict{}, comparator.ErrMockUnavailable
			}
			return comparator.Verdict{Ret: 0, Score: 0.9}, nil
		},
	}
	r, waits := newTestResolver(store, cmp)

	res, err := r.Resolve(context.Background(), []byte("crop"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Matched {
		t.Fatal("third attempt success should still match")
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if fmt.Sprint(*waits) != fmt.Sprint(want) {
		t.Errorf("backoff = %v, want %v", *waits, want)
	}
}

func TestResolveExhaustedRecordIsSkipped(t *testing.T) {
	store := newStore(t, "a", "b")
	cmp := &comparator.Mock{
		CompareFunc: func(_ context.Context, _, ref []byte) (comparator.Verdict, error) {
			if string(ref) == "ref-a" {
				return comparator.Verdict{}, errors.New("timeout")
			}
			return comparator.Verdict{Ret: 0, Score: 0.8}, nil
		},
	}
	r, waits := newTestResolver(store, cmp)

	res, err := r.Resolve(context.Background(), []byte("crop"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.Matched || res.Record.DisplayKey != "b" {
		t.Fatalf("result = %+v, want b after a exhausted", res)
	}
	if cmp.CallCount() != 4 {
		t.Errorf("calls = %d, want 3 for a + 1 for b", cmp.CallCount())
	}
	if len(*waits) != 2 {
		t.Errorf("waits = %v, want 2 (none after the last attempt)", *waits)
	}
}

func TestResolveCallBound(t *testing.T) {
	for _, n := range []int{0, 1, 4} {
		t.Run(fmt.Sprintf("records=%d", n), func(t *testing.T) {
			keys := make([]string, n)
			for i := range keys {
				keys[i] = fmt.Sprintf("k%d", i)
			}
			cmp := &comparator.Mock{
				CompareFunc: func(context.Context, []byte, []byte) (comparator.Verdict, error) {
					return comparator.Verdict{}, errors.New("down")
				},
			}
			r, _ := newTestResolver(newStore(t, keys...), cmp)
			res, err := r.Resolve(context.Background(), []byte("crop"))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if res.Matched {
				t.Error("failing comparator cannot match")
			}
			if cmp.CallCount() != n*DefaultMaxAttempts {
				t.Errorf("calls = %d, want %d", cmp.CallCount(), n*DefaultMaxAttempts)
			}
		})
	}
}

func TestResolveServiceFailureStatusIsNoMatch(t *testing.T) {
	store := newStore(t, "a")
	cmp := &comparator.Mock{
		CompareFunc: func(context.Context, []byte, []byte) (comparator.Verdict, error) {
			return comparator.Verdict{Ret: 11201, Score: 0.99}, nil
		},
	}
	r, _ := newTestResolver(store, cmp)
	res, _ := r.Resolve(context.Background(), []byte("crop"))
	if res.Matched {
		t.Error("non-zero ret must not match")
	}
	if cmp.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", cmp.CallCount())
	}
}

func TestResolveMissingReferenceSkipped(t *testing.T) {
	store := identity.NewStore([]identity.Record{
		{ID: "p1", DisplayKey: "gone", ReferenceImage: filepath.Join(t.TempDir(), "missing.jpg")},
	}, log.Discard())
	cmp := comparator.NewMock()
	r, _ := newTestResolver(store, cmp)

	res, err := r.Resolve(context.Background(), []byte("crop"))
	if err != nil || res.Matched {
		t.Errorf("res = %+v, err = %v", res, err)
	}
	if cmp.CallCount() != 0 {
		t.Errorf("comparator called for unreadable reference")
	}
}

func TestResolveCanceled(t *testing.T) {
	store := newStore(t, "a", "b")
	ctx, cancel := context.WithCancel(context.Background())
	cmp := &comparator.Mock{
		CompareFunc: func(context.Context, []byte, []byte) (comparator.Verdict, error) {
			cancel()
			return comparator.Verdict{}, errors.New("canceled mid-call")
		},
	}
	r, _ := newTestResolver(store, cmp)
	if _, err := r.Resolve(ctx, []byte("crop")); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if cmp.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", cmp.CallCount())
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	interval := 40 * time.Millisecond
	p := NewPacer(interval)
	ctx := context.Background()

	var stamps []time.Time
	for i := 0; i < 3; i++ {
		if err := p.Wait(ctx); err != nil {
			t.Fatal(err)
		}
		stamps = append(stamps, time.Now())
	}
	// Slots are reserved before the stamp is taken.
	slack := 5 * time.Millisecond
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval-slack {
			t.Errorf("gap %d = %v, want ~>= %v", i, gap, interval)
		}
	}
}

func TestPacerIsGlobalAcrossResolvers(t *testing.T) {
	interval := 30 * time.Millisecond
	pacer := NewPacer(interval)

	var mu sync.Mutex
	var stamps []time.Time
	cmp := &comparator.Mock{
		CompareFunc: func(context.Context, []byte, []byte) (comparator.Verdict, error) {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			return comparator.Verdict{}, nil
		},
	}
	store := newStore(t, "a", "b")
	r1 := New(store, cmp, pacer, WithLogger(log.Discard()))
	r2 := New(store, cmp, pacer, WithLogger(log.Discard()))

	var wg sync.WaitGroup
	for _, r := range []*Resolver{r1, r2} {
		wg.Add(1)
		go func(r *Resolver) {
			defer wg.Done()
			r.Resolve(context.Background(), []byte("crop"))
		}(r)
	}
	wg.Wait()

	if len(stamps) != 4 {
		t.Fatalf("calls = %d, want 4", len(stamps))
	}
	// Allow a little scheduling slack between Wait returning and the stamp.
	slack := 5 * time.Millisecond
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval-slack {
			t.Errorf("gap %d = %v, want ~>= %v", i, gap, interval)
		}
	}
}

func TestPacerFakeClock(t *testing.T) {
	now := time.Unix(0, 0)
	var slept []time.Duration
	p := NewPacer(500 * time.Millisecond)
	p.now = func() time.Time { return now }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	ctx := context.Background()
	p.Wait(ctx) // first call never waits
	now = now.Add(100 * time.Millisecond)
	p.Wait(ctx)
	now = now.Add(2 * time.Second)
	p.Wait(ctx)

	if len(slept) != 1 || (slept[0]-400*time.Millisecond).Abs() > time.Microsecond {
		t.Errorf("slept = %v, want [400ms]", slept)
	}
}

func TestPacerZeroIntervalNeverSleeps(t *testing.T) {
	p := NewPacer(0)
	p.sleep = func(context.Context, time.Duration) error {
		t.Error("sleep called with pacing disabled")
		return nil
	}
	for i := 0; i < 5; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if p.Interval() != 0 {
		t.Errorf("Interval = %v, want 0", p.Interval())
	}
}

func TestPacerCanceledWaitReleasesSlot(t *testing.T) {
	now := time.Unix(0, 0)
	p := NewPacer(time.Second)
	p.now = func() time.Time { return now }
	var slept []time.Duration
	canceled := true
	p.sleep = func(ctx context.Context, d time.Duration) error {
		if canceled {
			return context.Canceled
		}
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}

	ctx := context.Background()
	p.Wait(ctx)
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	// The abandoned slot is returned, so the next caller waits one interval,
	// not two.
	canceled = false
	if err := p.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(slept) != 1 || (slept[0]-time.Second).Abs() > time.Microsecond {
		t.Errorf("slept = %v, want [1s]", slept)
	}
}

func TestPacerCanceled(t *testing.T) {
	p := NewPacer(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	p.Wait(ctx)
	cancel()
	if err := p.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
