package playback

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satindergrewal/hush/internal/audio"
	"github.com/satindergrewal/hush/internal/loop"
	"github.com/satindergrewal/hush/internal/noise"
	"github.com/satindergrewal/hush/internal/synth"
	"github.com/satindergrewal/hush/internal/testutil"
)

const waitFor = 10 * time.Second

type fakeOutput struct {
	mu      sync.Mutex
	err     error
	started int
	closed  bool
	src     io.Reader
}

func (o *fakeOutput) Start(src io.Reader) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.started++
	o.src = src
	return nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

// recorder is a RenderFunc that records requests. When hold is set, each call
// blocks until release is closed or its context is cancelled.
type recorder struct {
	mu      sync.Mutex
	reqs    []synth.Request
	ctxs    []context.Context
	hold    bool
	release chan struct{}
}

func newRecorder(hold bool) *recorder {
	return &recorder{hold: hold, release: make(chan struct{})}
}

func (r *recorder) render(ctx context.Context, req synth.Request) (*loop.Loop, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.ctxs = append(r.ctxs, ctx)
	r.mu.Unlock()

	if r.hold {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	pcm := make([]int16, 100)
	for i := range pcm {
		pcm[i] = 1000
	}
	return &loop.Loop{PCM: pcm, SampleRate: req.SampleRate}, nil
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func (r *recorder) last() synth.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func (r *recorder) ctx(i int) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctxs[i]
}

func newTestController(t *testing.T, out Output, render RenderFunc, debounce time.Duration) (*Controller, *audio.Deck) {
	t.Helper()
	deck := audio.NewDeck(5*time.Millisecond, time.Millisecond)
	c := New(zaptest.NewLogger(t), deck, out, DefaultParams(), Options{
		Duration: 500 * time.Millisecond,
		Overlap:  100 * time.Millisecond,
		Debounce: debounce,
		Seed:     42,
		Workers:  2,
		Render:   render,
	})
	t.Cleanup(func() { c.Close() })
	return c, deck
}

func waitSession(t *testing.T, c *Controller) *Session {
	t.Helper()
	testutil.Eventually(t, waitFor, func() bool { return c.Session() != nil }, "no session installed")
	return c.Session()
}

func TestPlayEndToEnd(t *testing.T) {
	out := &fakeOutput{}
	c, deck := newTestController(t, out, nil, 50*time.Millisecond)

	if err := c.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if c.State() != Playing {
		t.Errorf("State() = %v, want playing", c.State())
	}
	s := waitSession(t, c)

	if want := audio.SampleRate / 2; len(s.Loop.PCM) != want {
		t.Errorf("loop length = %d, want %d", len(s.Loop.PCM), want)
	}
	nonZero := 0
	for _, v := range s.Loop.PCM {
		if v != 0 {
			nonZero++
		}
	}
	if nonZero < len(s.Loop.PCM)/2 {
		t.Errorf("loop mostly silent: %d of %d samples non-zero", nonZero, len(s.Loop.PCM))
	}
	if s.Seed != 42 {
		t.Errorf("session seed = %d, want 42", s.Seed)
	}

	// The deck now plays the loop at master volume.
	buf := make([]int16, 2000)
	deck.ReadSamples(buf)
	if !deck.Active() {
		t.Error("deck not active after install")
	}
	var peak float64
	for _, v := range buf[200:] {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	if peak == 0 {
		t.Error("deck produced silence while playing")
	}
	if peak > 32767*DefaultMaster+1 {
		t.Errorf("deck peak %v exceeds master volume", peak)
	}

	out.mu.Lock()
	if out.started != 1 || out.src != io.Reader(deck) {
		t.Errorf("output started %d times with src %T", out.started, out.src)
	}
	out.mu.Unlock()
}

func TestParamChangesCoalesce(t *testing.T) {
	rec := newRecorder(false)
	const debounce = 100 * time.Millisecond
	c, _ := newTestController(t, nil, rec.render, debounce)

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	waitSession(t, c)
	if rec.calls() != 1 {
		t.Fatalf("renders after Play = %d, want 1", rec.calls())
	}

	c.SetChannelVolume(noise.White, 0.1)
	c.SetChannelVolume(noise.Pink, 0.2)
	c.SetTinnitusFrequency(1000)
	c.SetNotchQ(10)

	testutil.Eventually(t, waitFor, func() bool { return rec.calls() >= 2 }, "no regeneration after changes")
	time.Sleep(3 * debounce)

	if rec.calls() != 2 {
		t.Fatalf("renders = %d, want 2 (one for Play, one for the burst)", rec.calls())
	}
	req := rec.last()
	if req.Volumes[noise.White] != 0.1 || req.Volumes[noise.Pink] != 0.2 {
		t.Errorf("volumes = %v, want white 0.1 pink 0.2", req.Volumes)
	}
	if req.NotchHz != 1000 || req.NotchQ != 10 {
		t.Errorf("notch = %v Hz Q %v, want 1000 Hz Q 10", req.NotchHz, req.NotchQ)
	}
	testutil.Eventually(t, waitFor, func() bool {
		return c.Session().Params.Volume(noise.Pink) == 0.2
	}, "session not rebuilt from latest params")
}

func TestNewerRegenerationCancelsInFlight(t *testing.T) {
	rec := newRecorder(true)
	c, _ := newTestController(t, nil, rec.render, 0)

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitFor, func() bool { return rec.calls() == 1 }, "first render not started")

	c.SetChannelVolume(noise.Pink, 0.3)
	testutil.Eventually(t, waitFor, func() bool { return rec.calls() == 2 }, "second render not started")

	select {
	case <-rec.ctx(0).Done():
	case <-time.After(waitFor):
		t.Fatal("superseded render was not cancelled")
	}
	if c.Session() != nil {
		t.Error("session installed before any render finished")
	}

	close(rec.release)
	s := waitSession(t, c)
	if s.Params.Volume(noise.Pink) != 0.3 {
		t.Errorf("installed pink volume = %v, want 0.3", s.Params.Volume(noise.Pink))
	}
}

func TestQChangeWithNotchOffDoesNotRegenerate(t *testing.T) {
	rec := newRecorder(true)
	c, _ := newTestController(t, nil, rec.render, 0)

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitFor, func() bool { return rec.calls() == 1 }, "first render not started")

	c.SetTinnitusFrequency(0)
	testutil.Eventually(t, waitFor, func() bool { return rec.calls() == 2 }, "frequency change did not render")
	c.SetNotchQ(40)

	close(rec.release)
	s := waitSession(t, c)
	time.Sleep(20 * time.Millisecond)

	if got := rec.calls() - 1; got != 1 {
		t.Errorf("renders after the frequency change = %d, want 1", got)
	}
	if req := rec.last(); req.NotchHz != 0 {
		t.Errorf("installed notch = %v Hz, want 0", req.NotchHz)
	}
	if s.Params.Frequency != 0 {
		t.Errorf("session frequency = %v, want 0", s.Params.Frequency)
	}
	if c.Params().Q != 40 {
		t.Errorf("Q = %v, want 40 stored for when the notch comes back", c.Params().Q)
	}

	// With the notch on again, Q matters.
	c.SetTinnitusFrequency(6000)
	testutil.Eventually(t, waitFor, func() bool { return rec.calls() == 3 }, "re-enabling the notch did not render")
	if req := rec.last(); req.NotchHz != 6000 || req.NotchQ != 40 {
		t.Errorf("notch = %v Hz Q %v, want 6000 Hz Q 40", req.NotchHz, req.NotchQ)
	}
}

func TestParamsObserverSeesLatestLast(t *testing.T) {
	c, _ := newTestController(t, nil, newRecorder(false).render, time.Hour)

	var mu sync.Mutex
	var last Params
	var seen int
	c.OnParamsChange(func(p Params) {
		mu.Lock()
		last = p
		seen++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 50; i++ {
				v := float64(g*50+i) / 1000
				if i%2 == 0 {
					c.SetMasterVolume(v)
				} else {
					c.SetChannelVolume(noise.Pink, v)
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen == 0 {
		t.Fatal("observer never called")
	}
	if last != c.Params() {
		t.Errorf("last delivered snapshot %+v, want current %+v", last, c.Params())
	}
}

func TestStopThenPlayIsFresh(t *testing.T) {
	rec := newRecorder(false)
	c, deck := newTestController(t, nil, rec.render, 50*time.Millisecond)

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	first := waitSession(t, c)

	c.Stop()
	if c.State() != Idle {
		t.Errorf("State() after Stop = %v, want idle", c.State())
	}
	if c.Session() != nil {
		t.Error("session survived Stop")
	}
	deck.ReadSamples(make([]int16, 2000))
	if deck.Active() {
		t.Error("deck still holds a buffer after Stop")
	}
	c.Stop() // idempotent

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	second := waitSession(t, c)
	if second.ID == first.ID {
		t.Error("second Play reused the first session")
	}
	if rec.calls() != 2 {
		t.Errorf("renders = %d, want 2", rec.calls())
	}
}

func TestStopDiscardsInFlight(t *testing.T) {
	rec := newRecorder(true)
	c, _ := newTestController(t, nil, rec.render, 0)

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitFor, func() bool { return rec.calls() == 1 }, "render not started")
	c.Stop()

	select {
	case <-rec.ctx(0).Done():
	case <-time.After(waitFor):
		t.Fatal("Stop did not cancel the render")
	}
	close(rec.release)
	time.Sleep(20 * time.Millisecond)
	if c.Session() != nil {
		t.Error("cancelled render installed a session")
	}
}

func TestMasterVolumeFastPath(t *testing.T) {
	rec := newRecorder(false)
	const debounce = 30 * time.Millisecond
	c, deck := newTestController(t, nil, rec.render, debounce)

	if deck.Volume() != DefaultMaster {
		t.Errorf("initial deck volume = %v, want %v", deck.Volume(), DefaultMaster)
	}
	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	waitSession(t, c)

	c.SetMasterVolume(0.2)
	if deck.Volume() != 0.2 {
		t.Errorf("deck volume = %v, want 0.2", deck.Volume())
	}
	c.SetMasterVolume(3)
	if deck.Volume() != 1 || c.Params().Master != 1 {
		t.Errorf("volume 3 gave deck %v params %v, want 1", deck.Volume(), c.Params().Master)
	}
	time.Sleep(4 * debounce)
	if rec.calls() != 1 {
		t.Errorf("master volume triggered %d renders, want none beyond Play", rec.calls()-1)
	}
}

func TestParamClamping(t *testing.T) {
	c, _ := newTestController(t, nil, newRecorder(false).render, 0)

	if err := c.SetChannelVolume(noise.White, 1.5); err != nil {
		t.Fatal(err)
	}
	if got := c.Params().Volume(noise.White); got != 1 {
		t.Errorf("white volume = %v, want 1", got)
	}
	c.SetChannelVolume(noise.Brown, -0.4)
	if got := c.Params().Volume(noise.Brown); got != 0 {
		t.Errorf("brown volume = %v, want 0", got)
	}

	qs := []struct{ in, want float64 }{
		{-5, MinQ},
		{0, MinQ},
		{500, MaxQ},
		{42, 42},
		{math.NaN(), DefaultQ},
	}
	for _, tt := range qs {
		c.SetNotchQ(tt.in)
		if got := c.Params().Q; got != tt.want {
			t.Errorf("SetNotchQ(%v): Q = %v, want %v", tt.in, got, tt.want)
		}
	}

	freqs := []struct{ in, want float64 }{
		{8000, 8000},
		{math.NaN(), 0},
		{math.Inf(1), 0},
		{-3, 0},
		{22050, 0},
		{30000, 0},
		{0, 0},
	}
	for _, tt := range freqs {
		c.SetTinnitusFrequency(tt.in)
		if got := c.Params().Frequency; got != tt.want {
			t.Errorf("SetTinnitusFrequency(%v): Frequency = %v, want %v", tt.in, got, tt.want)
		}
	}

	if err := c.SetChannelVolume(noise.Channel(42), 0.5); !errors.Is(err, ErrUnknownChannel) {
		t.Errorf("unknown channel error = %v, want ErrUnknownChannel", err)
	}
}

func TestIdleChangesAreStoredOnly(t *testing.T) {
	rec := newRecorder(false)
	const debounce = 20 * time.Millisecond
	c, _ := newTestController(t, nil, rec.render, debounce)

	c.SetChannelVolume(noise.Ocean, 0.7)
	time.Sleep(4 * debounce)
	if rec.calls() != 0 {
		t.Fatalf("idle change rendered %d times", rec.calls())
	}

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	waitSession(t, c)
	if got := rec.last().Volumes[noise.Ocean]; got != 0.7 {
		t.Errorf("Play used ocean volume %v, want 0.7", got)
	}
}

func TestDeviceFailureReportedOnce(t *testing.T) {
	cause := errors.New("no sound card")
	rec := newRecorder(false)
	c, _ := newTestController(t, &fakeOutput{err: cause}, rec.render, 0)

	var mu sync.Mutex
	var failures []error
	c.OnFailure(func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	})

	for i := 0; i < 2; i++ {
		err := c.Play()
		if !errors.Is(err, ErrPlaybackUnavailable) || !errors.Is(err, cause) {
			t.Errorf("Play #%d error = %v, want ErrPlaybackUnavailable wrapping cause", i+1, err)
		}
	}
	if c.State() != Idle {
		t.Errorf("State() = %v after failure, want idle", c.State())
	}
	if c.Unavailable() == nil {
		t.Error("Unavailable() = nil after failure")
	}
	if rec.calls() != 0 {
		t.Errorf("failed Play rendered %d times", rec.calls())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failures) != 1 {
		t.Errorf("OnFailure called %d times, want 1", len(failures))
	}
}

func TestObserversAndToggle(t *testing.T) {
	c, _ := newTestController(t, nil, newRecorder(false).render, 0)

	var mu sync.Mutex
	var states []State
	var params []Params
	c.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	c.OnParamsChange(func(p Params) {
		mu.Lock()
		params = append(params, p)
		mu.Unlock()
	})

	if s, err := c.Toggle(); err != nil || s != Playing {
		t.Fatalf("Toggle = %v, %v; want playing", s, err)
	}
	if s, err := c.Toggle(); err != nil || s != Idle {
		t.Fatalf("Toggle = %v, %v; want idle", s, err)
	}
	c.SetMasterVolume(0.9)
	c.SetNotchQ(20)
	c.SetNotchQ(20) // unchanged, not reported

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != Playing || states[1] != Idle {
		t.Errorf("state notifications = %v, want [playing idle]", states)
	}
	if len(params) != 2 || params[0].Master != 0.9 || params[1].Q != 20 {
		t.Errorf("params notifications = %+v", params)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	baseline := testutil.Baseline()

	out := &fakeOutput{}
	rec := newRecorder(true)
	deck := audio.NewDeck(time.Millisecond, time.Millisecond)
	c := New(zaptest.NewLogger(t), deck, out, DefaultParams(), Options{
		Duration: 500 * time.Millisecond,
		Overlap:  100 * time.Millisecond,
		Debounce: 10 * time.Millisecond,
		FadeOut:  time.Millisecond,
		Render:   rec.render,
	})

	if err := c.Play(); err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, waitFor, func() bool { return rec.calls() == 1 }, "render not started")
	c.SetChannelVolume(noise.Wind, 0.5) // arm the debounce timer

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != Idle {
		t.Errorf("State() after Close = %v", c.State())
	}
	out.mu.Lock()
	if !out.closed {
		t.Error("output not closed")
	}
	out.mu.Unlock()
	if err := c.Play(); !errors.Is(err, ErrClosed) {
		t.Errorf("Play after Close = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	testutil.AssertNoGoroutineLeaks(t, baseline, 0)
}
