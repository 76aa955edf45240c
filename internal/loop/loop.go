// Package loop schedules one tick at a time: poll touch, fetch a frame, run
// recognition, advance the interaction state, present. Sources fail
// independently; a dead one degrades the coordinator instead of stopping it.
package loop

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"miru/internal/camera"
	"miru/internal/config"
	"miru/internal/display"
	"miru/internal/interaction"
	"miru/internal/logging"
	"miru/internal/touch"
)

// State is the coordinator's lifecycle phase.
type State uint8

const (
	StateStarting State = iota + 1
	StateRunning
	StateDegraded
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDegraded:
		return "degraded"
	case StateShuttingDown:
		return "shutting down"
	default:
		return "unknown"
	}
}

// FrameSource delivers captured frames.
type FrameSource interface {
	Next(ctx context.Context, timeout time.Duration) (*camera.Frame, error)
	Status() camera.Status
	Stats() camera.Stats
	Close() error
}

// TouchSource drains pending touch events without blocking. A lost
// touchscreen keeps polling nil and reports not alive; it never stops the
// loop.
type TouchSource interface {
	Poll() []touch.Event
	Alive() bool
	Close() error
}

// Recognizer resolves a frame to an identity outcome.
type Recognizer interface {
	Recognize(img gocv.Mat) (interaction.Outcome, error)
}

// StateMachine folds tick inputs into the interaction state.
type StateMachine interface {
	Update(now time.Time, out interaction.Outcome, events []touch.Event)
	Snapshot() interaction.State
}

// Renderer presents interaction state on the display.
type Renderer interface {
	Present(st interaction.State) error
	Reopen() error
	Disable()
	Close() error
}

// Deps are the loop's collaborators. Touch may be nil; the loop then runs
// touch-less.
type Deps struct {
	Frames   FrameSource
	Touch    TouchSource
	Rec      Recognizer
	Machine  StateMachine
	Renderer Renderer
}

// Snapshot is the coordinator state plus per-source substatus.
type Snapshot struct {
	State        State
	Camera       camera.Status
	Touch        bool
	Display      bool
	Ticks        uint64
	Frames       uint64
	Recognitions uint64
}

const (
	displayRetryLimit       = 3
	defaultDisplayRetryBase = time.Second
	minFrameWait            = 10 * time.Millisecond
)

// Coordinator drives the tick loop. Run owns every field not marked atomic.
type Coordinator struct {
	deps Deps
	log  *logging.Logger

	tickEvery   time.Duration
	frameWait   time.Duration
	recInterval int
	failLimit   int
	statsEvery  time.Duration

	state     atomic.Int32
	touchOK   atomic.Bool
	displayOK atomic.Bool

	ticks        atomic.Uint64
	frames       atomic.Uint64
	recognitions atomic.Uint64

	cameraDown    bool
	frameFailures int
	lastOutcome   interaction.Outcome

	displayLost      bool
	displayDisabled  bool
	displayRetries   int
	nextDisplayRetry time.Time
	displayRetryBase time.Duration
}

// New wires a coordinator. Zero config fields get the stock cadence.
func New(deps Deps, cfg config.LoopConfig) *Coordinator {
	tick := cfg.TickInterval.D()
	if tick <= 0 {
		tick = 33 * time.Millisecond
	}
	rec := cfg.RecognitionInterval
	if rec <= 0 {
		rec = 1
	}
	limit := cfg.FrameFailureLimit
	if limit <= 0 {
		limit = 5
	}

	c := &Coordinator{
		deps:             deps,
		log:              logging.Named("loop"),
		tickEvery:        tick,
		frameWait:        frameWait(tick),
		recInterval:      rec,
		failLimit:        limit,
		statsEvery:       cfg.StatsInterval.D(),
		lastOutcome:      interaction.NoFace(),
		displayRetryBase: defaultDisplayRetryBase,
	}
	c.state.Store(int32(StateStarting))
	c.touchOK.Store(deps.Touch != nil)
	c.displayOK.Store(true)
	return c
}

// frameWait is the per-tick frame budget: half the tick, floored so a very
// fast cadence still gives the mailbox a chance.
func frameWait(tick time.Duration) time.Duration {
	w := tick / 2
	if w < minFrameWait {
		w = minFrameWait
	}
	return w
}

// Run drives ticks until ctx is cancelled, then releases the sources. A
// clean shutdown returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	c.log.Info().
		Dur("tick", c.tickEvery).
		Dur("frame_wait", c.frameWait).
		Int("recognition_interval", c.recInterval).
		Msg("loop starting")
	if c.deps.Touch == nil {
		c.log.Info().Msg("no touch source, running touch-less")
	}
	c.setState(StateRunning)

	lastStats := time.Now()
	for ctx.Err() == nil {
		started := time.Now()
		c.tick(ctx, started)
		c.ticks.Add(1)

		if c.statsEvery > 0 && time.Since(lastStats) >= c.statsEvery {
			lastStats = time.Now()
			c.logStats()
		}

		elapsed := time.Since(started)
		if remaining := c.tickEvery - elapsed; remaining > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(remaining):
			}
		} else {
			c.log.Debug().Dur("tick", elapsed).Msg("tick overrun, skipping sleep")
		}
	}

	c.shutdown()
	return nil
}

// tick runs one pass in the fixed order.
func (c *Coordinator) tick(ctx context.Context, now time.Time) {
	var events []touch.Event
	if c.deps.Touch != nil {
		events = c.deps.Touch.Poll()
		c.touchOK.Store(c.deps.Touch.Alive())
	}

	frame := c.fetchFrame(ctx)
	if frame != nil {
		if c.recognitionDue() {
			c.recognize(frame)
		}
		frame.Close()
	}

	c.deps.Machine.Update(now, c.lastOutcome, events)
	c.present(now)
}

func (c *Coordinator) recognitionDue() bool {
	return c.ticks.Load()%uint64(c.recInterval) == 0
}

// fetchFrame drains the mailbox. A timeout is a stale tick, nothing more;
// fault-class errors count toward the degradation limit.
func (c *Coordinator) fetchFrame(ctx context.Context) *camera.Frame {
	frame, err := c.deps.Frames.Next(ctx, c.frameWait)
	if err == nil {
		c.frames.Add(1)
		c.frameFailures = 0
		if c.cameraDown {
			c.cameraDown = false
			c.log.Info().Msg("frame source restored")
			c.refreshState()
		}
		return frame
	}

	switch {
	case ctx.Err() != nil:
		// shutting down, the loop condition handles it
	case errors.Is(err, camera.ErrTimeout):
		// no fresh frame this tick
	case errors.Is(err, camera.ErrDeviceFault), errors.Is(err, camera.ErrDown):
		c.frameFailures++
		if c.frameFailures >= c.failLimit && !c.cameraDown {
			c.cameraDown = true
			c.log.Error().
				Int("consecutive_failures", c.frameFailures).
				Str("camera", c.deps.Frames.Status().String()).
				Msg("frame source down, degrading")
			c.refreshState()
		}
	default:
		c.log.Warn().Err(err).Msg("frame fetch failed")
	}
	return nil
}

func (c *Coordinator) recognize(frame *camera.Frame) {
	out, err := c.deps.Rec.Recognize(frame.Mat)
	if err != nil {
		c.log.Debug().Err(err).Msg("recognition pass failed")
		return
	}
	c.recognitions.Add(1)
	c.lastOutcome = out
}

// present draws the current state, handling surface loss with a bounded,
// non-blocking reopen schedule.
func (c *Coordinator) present(now time.Time) {
	if c.displayDisabled {
		return
	}
	if c.displayLost {
		c.retryDisplay(now)
		if c.displayLost || c.displayDisabled {
			return
		}
	}

	err := c.deps.Renderer.Present(c.deps.Machine.Snapshot())
	if err == nil {
		return
	}
	if errors.Is(err, display.ErrSurfaceLost) {
		c.displayLost = true
		c.displayRetries = 0
		c.nextDisplayRetry = now.Add(c.displayRetryBase)
		c.log.Warn().Err(err).Msg("display surface lost, scheduling reopen")
		return
	}
	c.log.Warn().Err(err).Msg("present failed")
}

func (c *Coordinator) retryDisplay(now time.Time) {
	if now.Before(c.nextDisplayRetry) {
		return
	}
	c.displayRetries++

	if err := c.deps.Renderer.Reopen(); err == nil {
		c.displayLost = false
		c.log.Info().Int("attempt", c.displayRetries).Msg("display surface restored")
		return
	} else if c.displayRetries >= displayRetryLimit {
		c.deps.Renderer.Disable()
		c.displayDisabled = true
		c.displayLost = false
		c.displayOK.Store(false)
		c.log.Error().
			Int("attempts", c.displayRetries).
			Msg("display reopen exhausted, continuing without display")
		c.refreshState()
	} else {
		c.nextDisplayRetry = now.Add(c.displayRetryBase << c.displayRetries)
		c.log.Warn().Int("attempt", c.displayRetries).Err(err).Msg("display reopen failed")
	}
}

func (c *Coordinator) shutdown() {
	c.setState(StateShuttingDown)
	st := c.deps.Frames.Stats()
	c.log.Info().
		Uint64("ticks", c.ticks.Load()).
		Uint64("frames", c.frames.Load()).
		Uint64("recognitions", c.recognitions.Load()).
		Uint64("overwritten", st.Overwritten).
		Uint64("faults", st.Faults).
		Msg("loop shutting down")

	if err := c.deps.Frames.Close(); err != nil {
		c.log.Warn().Err(err).Msg("closing frame source")
	}
	if c.deps.Touch != nil {
		if err := c.deps.Touch.Close(); err != nil {
			c.log.Warn().Err(err).Msg("closing touch source")
		}
	}
	if err := c.deps.Renderer.Close(); err != nil {
		c.log.Warn().Err(err).Msg("closing renderer")
	}
}

// State reports the coordinator phase and per-source substatus.
func (c *Coordinator) State() Snapshot {
	return Snapshot{
		State:        State(c.state.Load()),
		Camera:       c.deps.Frames.Status(),
		Touch:        c.touchOK.Load(),
		Display:      c.displayOK.Load(),
		Ticks:        c.ticks.Load(),
		Frames:       c.frames.Load(),
		Recognitions: c.recognitions.Load(),
	}
}

func (c *Coordinator) setState(s State) {
	if State(c.state.Swap(int32(s))) != s {
		c.log.Info().Str("state", s.String()).Msg("coordinator state")
	}
}

// refreshState recomputes Running/Degraded from the source flags.
func (c *Coordinator) refreshState() {
	if State(c.state.Load()) == StateShuttingDown {
		return
	}
	if c.cameraDown || c.displayDisabled {
		c.setState(StateDegraded)
	} else {
		c.setState(StateRunning)
	}
}

func (c *Coordinator) logStats() {
	cam := c.deps.Frames.Stats()
	c.log.Info().
		Uint64("ticks", c.ticks.Load()).
		Uint64("frames", c.frames.Load()).
		Uint64("recognitions", c.recognitions.Load()).
		Uint64("captured", cam.Captured).
		Uint64("overwritten", cam.Overwritten).
		Uint64("faults", cam.Faults).
		Str("camera", c.deps.Frames.Status().String()).
		Str("state", State(c.state.Load()).String()).
		Msg("loop stats")
}
