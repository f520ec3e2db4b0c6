// Package playback owns the play/stop state machine and keeps the looping
// buffer on the deck in step with the current parameters.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/hush/internal/audio"
	"github.com/satindergrewal/hush/internal/loop"
	"github.com/satindergrewal/hush/internal/metrics"
	"github.com/satindergrewal/hush/internal/noise"
	"github.com/satindergrewal/hush/internal/synth"
)

var (
	// ErrPlaybackUnavailable wraps the cause when the audio output cannot start.
	ErrPlaybackUnavailable = errors.New("audio playback unavailable")
	ErrClosed              = errors.New("controller closed")
	ErrUnknownChannel      = errors.New("unknown noise channel")
)

// Output delivers the deck's audio somewhere, typically a sound card.
type Output interface {
	Start(src io.Reader) error
	Close() error
}

type nopOutput struct{}

func (nopOutput) Start(io.Reader) error { return nil }
func (nopOutput) Close() error { return nil }

// RenderFunc synthesizes a loop. synth.Renderer.Render satisfies it.
type RenderFunc func(ctx context.Context, req synth.Request) (*loop.Loop, error)

// Options configures a Controller.
type Options struct {
	Duration time.Duration // loop body
	Overlap  time.Duration // loop seam crossfade
	Debounce time.Duration // quiet period before parameter changes regenerate
	FadeOut  time.Duration // how long Close waits for the deck to fade out
	Seed     uint64        // 0 draws a fresh seed for every run
	Workers  int
	Render   RenderFunc // nil uses synth.Renderer
}

// Controller runs the Idle/Playing state machine. All methods are safe for
// concurrent use. Synthesis runs on background goroutines; the controller
// mutex is never held while rendering.
type Controller struct {
	logger *zap.Logger
	deck   *audio.Deck
	output Output
	opts   Options
	render RenderFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	failOnce   sync.Once

	mu          sync.Mutex
	state       State
	params      Params
	session     *Session
	gen         uint64 // bumped on every regeneration start and on Stop
	cancelRegen context.CancelFunc
	debounce    *time.Timer
	debounceSeq uint64
	unavailable error
	closed      bool

	onState   []func(State)
	onFailure []func(error)
	onParams  []func(Params)
	paramsSeq uint64 // bumped on every parameter change

	// notifyMu orders parameter deliveries. It is never taken while holding mu.
	notifyMu  sync.Mutex
	delivered uint64
}

// New creates an idle controller. A nil output means audio is pulled from the
// deck by some other reader, such as the stream clock.
func New(logger *zap.Logger, deck *audio.Deck, output Output, params Params, opts Options) *Controller {
	if output == nil {
		output = nopOutput{}
	}
	if opts.Duration <= 0 {
		opts.Duration = 60 * time.Second
	}
	if opts.Overlap <= 0 || opts.Overlap > opts.Duration {
		opts.Overlap = min(3*time.Second, opts.Duration)
	}
	render := opts.Render
	if render == nil {
		render = synth.NewRenderer(logger).Render
	}
	params = params.Clamped()
	deck.SetVolume(params.Master)
	metrics.MasterVolume.Set(params.Master)
	metrics.PlaybackState.Set(0)

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		logger:     logger.With(zap.String("component", "playback")),
		deck:       deck,
		output:     output,
		opts:       opts,
		render:     render,
		baseCtx:    ctx,
		baseCancel: cancel,
		params:     params,
	}
}

// OnStateChange registers f to be called after every state transition.
func (c *Controller) OnStateChange(f func(State)) {
	c.mu.Lock()
	c.onState = append(c.onState, f)
	c.mu.Unlock()
}

// OnFailure registers f to be called the first time the output fails to start.
func (c *Controller) OnFailure(f func(error)) {
	c.mu.Lock()
	c.onFailure = append(c.onFailure, f)
	c.mu.Unlock()
}

// OnParamsChange registers f to be called with the new snapshot after every
// parameter change, including master volume. Snapshots arrive in order; one
// overtaken by a newer change is skipped. f must not change parameters.
func (c *Controller) OnParamsChange(f func(Params)) {
	c.mu.Lock()
	c.onParams = append(c.onParams, f)
	c.mu.Unlock()
}

// State returns the current playback state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Params returns the current parameter snapshot.
func (c *Controller) Params() Params {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// Session returns the installed session, or nil if nothing has been rendered
// since the last Play.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Unavailable returns the error from the last failed Play, or nil once the
// output has started.
func (c *Controller) Unavailable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unavailable
}

// Play starts the output and begins rendering a loop. Playing an already
// playing controller is a no-op.
func (c *Controller) Play() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == Playing {
		c.mu.Unlock()
		return nil
	}

	if err := c.output.Start(c.deck); err != nil {
		err = fmt.Errorf("%w: %w", ErrPlaybackUnavailable, err)
		c.unavailable = err
		c.mu.Unlock()

		metrics.DeviceFailuresTotal.Inc()
		c.logger.Error("start output", zap.Error(err))
		c.reportFailure(err)
		return err
	}
	c.unavailable = nil
	c.state = Playing
	c.startRegenLocked()
	notify := c.stateObserversLocked()
	c.mu.Unlock()

	c.logger.Info("playback started")
	notify(Playing)
	return nil
}

// Stop cancels any regeneration, fades the deck out and drops the session.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.state != Playing {
		c.mu.Unlock()
		return
	}
	c.stopLocked()
	notify := c.stateObserversLocked()
	c.mu.Unlock()

	c.logger.Info("playback stopped")
	notify(Idle)
}

// Toggle plays when idle and stops when playing. It returns the new state.
func (c *Controller) Toggle() (State, error) {
	if c.State() == Playing {
		c.Stop()
		return Idle, nil
	}
	if err := c.Play(); err != nil {
		return Idle, err
	}
	return Playing, nil
}

// SetChannelVolume sets one channel's volume, clamped to [0,1].
func (c *Controller) SetChannelVolume(ch noise.Channel, v float64) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: %v", ErrUnknownChannel, ch)
	}
	c.update(ch.String(), func(p *Params) { p.Volumes[ch] = v })
	return nil
}

// SetTinnitusFrequency sets the notch frequency. Invalid values disable the notch.
func (c *Controller) SetTinnitusFrequency(hz float64) {
	c.update("frequency", func(p *Params) { p.Frequency = hz })
}

// SetNotchQ sets the notch quality factor, clamped to [MinQ, MaxQ].
func (c *Controller) SetNotchQ(q float64) {
	c.update("q", func(p *Params) { p.Q = q })
}

// SetMasterVolume changes the output gain immediately without regenerating.
func (c *Controller) SetMasterVolume(v float64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	next := c.params
	next.Master = v
	next = next.Clamped()
	if next == c.params {
		c.mu.Unlock()
		return
	}
	c.params = next
	c.deck.SetVolume(next.Master)
	deliver := c.paramsObserversLocked(next)
	c.mu.Unlock()

	metrics.MasterVolume.Set(next.Master)
	metrics.ParamUpdatesTotal.WithLabelValues("master").Inc()
	deliver()
}

// update applies a synthesis parameter change. While playing, a change that
// alters the rendered loop schedules a debounced regeneration; otherwise the
// value is only stored.
func (c *Controller) update(name string, apply func(*Params)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	next := c.params
	apply(&next)
	next = next.Clamped()
	if next == c.params {
		c.mu.Unlock()
		return
	}
	prev := c.params
	c.params = next
	if c.state == Playing && !next.rendersLike(prev) {
		c.scheduleLocked()
	}
	deliver := c.paramsObserversLocked(next)
	c.mu.Unlock()

	metrics.ParamUpdatesTotal.WithLabelValues(name).Inc()
	deliver()
}

// paramsObserversLocked numbers the snapshot p. The returned func delivers it
// to the observers unless a newer snapshot got there first, and must be
// called without the mutex.
func (c *Controller) paramsObserversLocked(p Params) func() {
	c.paramsSeq++
	seq := c.paramsSeq
	observers := slices.Clone(c.onParams)
	return func() {
		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()
		if seq <= c.delivered {
			return
		}
		c.delivered = seq
		for _, f := range observers {
			f(p)
		}
	}
}

// scheduleLocked (re)starts the debounce window. Each change pushes the
// regeneration back, so a burst of changes renders once with the final values.
func (c *Controller) scheduleLocked() {
	if c.opts.Debounce <= 0 {
		c.startRegenLocked()
		return
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounceSeq++
	seq := c.debounceSeq
	c.debounce = time.AfterFunc(c.opts.Debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		// A timer that fired after being superseded or stopped does nothing.
		if c.closed || c.state != Playing || seq != c.debounceSeq {
			return
		}
		c.debounce = nil
		c.startRegenLocked()
	})
}

// startRegenLocked cancels the in-flight regeneration, if any, and starts a
// new one from the current snapshot.
func (c *Controller) startRegenLocked() {
	if c.cancelRegen != nil {
		c.cancelRegen()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancelRegen = cancel

	params := c.params
	seed := c.opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	req := synth.Request{
		Volumes:    params.volumeMap(),
		NotchHz:    params.Frequency,
		NotchQ:     params.Q,
		Duration:   c.opts.Duration,
		Overlap:    c.opts.Overlap,
		SampleRate: audio.SampleRate,
		Seed:       seed,
		Workers:    c.opts.Workers,
	}

	c.wg.Add(1)
	go c.regenerate(ctx, cancel, gen, params, req)
}

func (c *Controller) regenerate(ctx context.Context, cancel context.CancelFunc, gen uint64, params Params, req synth.Request) {
	defer c.wg.Done()
	defer cancel()

	metrics.RegenerationsInFlight.Inc()
	defer metrics.RegenerationsInFlight.Dec()

	start := time.Now()
	l, err := c.render(ctx, req)
	elapsed := time.Since(start)

	c.mu.Lock()
	defer c.mu.Unlock()

	current := gen == c.gen && !c.closed && c.state == Playing
	if current {
		c.cancelRegen = nil
	}

	switch {
	case err != nil && ctx.Err() != nil:
		metrics.RegenerationsTotal.WithLabelValues("cancelled").Inc()
		c.logger.Debug("regeneration cancelled", zap.Uint64("generation", gen))
	case err != nil:
		metrics.RegenerationsTotal.WithLabelValues("failed").Inc()
		c.logger.Error("regeneration failed", zap.Uint64("generation", gen), zap.Error(err))
	case !current:
		metrics.RegenerationsTotal.WithLabelValues("superseded").Inc()
		c.logger.Debug("regeneration superseded", zap.Uint64("generation", gen))
	default:
		s := newSession(l, params, req.Seed)
		c.session = s
		c.deck.Cue(l.PCM)
		metrics.RegenerationsTotal.WithLabelValues("installed").Inc()
		metrics.SynthesisDuration.Observe(elapsed.Seconds())
		c.logger.Info("loop installed",
			zap.String("session", s.ID.String()),
			zap.Uint64("generation", gen),
			zap.Uint64("seed", req.Seed),
			zap.Duration("loop", l.Duration()),
			zap.Duration("took", elapsed),
		)
	}
}

// stopLocked moves to Idle. Bumping gen guarantees no in-flight result installs.
func (c *Controller) stopLocked() {
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.debounceSeq++
	if c.cancelRegen != nil {
		c.cancelRegen()
		c.cancelRegen = nil
	}
	c.gen++
	c.deck.Release()
	c.session = nil
	c.state = Idle
}

// stateObserversLocked snapshots the state observers and records the state
// metric. The returned func runs them and must be called without the mutex.
func (c *Controller) stateObserversLocked() func(State) {
	if c.state == Playing {
		metrics.PlaybackState.Set(1)
	} else {
		metrics.PlaybackState.Set(0)
	}
	observers := slices.Clone(c.onState)
	return func(s State) {
		for _, f := range observers {
			f(s)
		}
	}
}

func (c *Controller) reportFailure(err error) {
	c.failOnce.Do(func() {
		c.mu.Lock()
		observers := slices.Clone(c.onFailure)
		c.mu.Unlock()
		for _, f := range observers {
			f(err)
		}
	})
}

// Close stops playback, waits for background synthesis to exit and closes the
// output. The controller cannot be used afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	wasPlaying := c.state == Playing
	var notify func(State)
	if wasPlaying {
		c.stopLocked()
		notify = c.stateObserversLocked()
	}
	c.closed = true
	c.baseCancel()
	c.mu.Unlock()

	if notify != nil {
		notify(Idle)
	}
	c.wg.Wait()

	if wasPlaying && c.opts.FadeOut > 0 {
		time.Sleep(c.opts.FadeOut)
	}
	if err := c.output.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
