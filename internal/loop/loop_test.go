package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"miru/internal/camera"
	"miru/internal/config"
	"miru/internal/display"
	"miru/internal/interaction"
	"miru/internal/touch"
)

// fakeFrames scripts Next: a nil entry delivers a frame, anything else is
// returned as the error. The last entry repeats. On call index cancelAt the
// cancel func fires, ending the run.
type fakeFrames struct {
	script   []error
	calls    int
	status   camera.Status
	cancelAt int
	cancel   context.CancelFunc
	closedAt func()
}

func (f *fakeFrames) Next(ctx context.Context, timeout time.Duration) (*camera.Frame, error) {
	i := f.calls
	f.calls++
	if f.cancel != nil && i >= f.cancelAt {
		f.cancel()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var err error
	if len(f.script) > 0 {
		if i < len(f.script) {
			err = f.script[i]
		} else {
			err = f.script[len(f.script)-1]
		}
	}
	if err != nil {
		return nil, err
	}
	return &camera.Frame{Seq: uint64(i + 1), CapturedAt: time.Now(), Mat: gocv.NewMat()}, nil
}

func (f *fakeFrames) Status() camera.Status { return f.status }
func (f *fakeFrames) Stats() camera.Stats   { return camera.Stats{} }
func (f *fakeFrames) Close() error {
	if f.closedAt != nil {
		f.closedAt()
	}
	return nil
}

type fakeTouch struct {
	dead     bool
	closedAt func()
}

func (f *fakeTouch) Poll() []touch.Event { return nil }
func (f *fakeTouch) Alive() bool         { return !f.dead }
func (f *fakeTouch) Close() error {
	if f.closedAt != nil {
		f.closedAt()
	}
	return nil
}

type fakeRec struct {
	out   interaction.Outcome
	calls int
}

func (r *fakeRec) Recognize(gocv.Mat) (interaction.Outcome, error) {
	r.calls++
	return r.out, nil
}

type fakeMachine struct {
	updates int
	last    interaction.Outcome
}

func (m *fakeMachine) Update(now time.Time, out interaction.Outcome, ev []touch.Event) {
	m.updates++
	m.last = out
}
func (m *fakeMachine) Snapshot() interaction.State { return interaction.State{} }

type fakeRenderer struct {
	presents    int
	presentErrs []error
	reopenErr   error
	reopens     int
	disabled    bool
	onPresent   func()
	closedAt    func()
}

func (r *fakeRenderer) Present(interaction.State) error {
	i := r.presents
	r.presents++
	if r.onPresent != nil {
		r.onPresent()
	}
	if i < len(r.presentErrs) {
		return r.presentErrs[i]
	}
	return nil
}
func (r *fakeRenderer) Reopen() error { r.reopens++; return r.reopenErr }
func (r *fakeRenderer) Disable()      { r.disabled = true }
func (r *fakeRenderer) Close() error {
	if r.closedAt != nil {
		r.closedAt()
	}
	return nil
}

func testLoopConfig() config.LoopConfig {
	return config.LoopConfig{
		TickInterval:        config.Duration(time.Millisecond),
		RecognitionInterval: 1,
		FrameFailureLimit:   5,
	}
}

func containsState(states []State, want State) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}
	return false
}

func TestRun_CleanShutdownReleasesSourcesInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var order []string
	frames := &fakeFrames{
		status:   camera.StatusUp,
		cancelAt: 3,
		cancel:   cancel,
		closedAt: func() { order = append(order, "frames") },
	}
	tch := &fakeTouch{closedAt: func() { order = append(order, "touch") }}
	rend := &fakeRenderer{closedAt: func() { order = append(order, "renderer") }}

	c := New(Deps{Frames: frames, Touch: tch, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: rend}, testLoopConfig())
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"frames", "touch", "renderer"}
	if len(order) != len(want) {
		t.Fatalf("released %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("released %v, want %v", order, want)
		}
	}
	if got := c.State().State; got != StateShuttingDown {
		t.Errorf("final state = %v, want shutting down", got)
	}
}

func TestRun_FaultsBelowLimitStayRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{
		script: []error{
			camera.ErrDeviceFault, camera.ErrDeviceFault,
			camera.ErrDeviceFault, camera.ErrDeviceFault,
			nil,
		},
		status:   camera.StatusUp,
		cancelAt: 6,
		cancel:   cancel,
	}
	rend := &fakeRenderer{}
	c := New(Deps{Frames: frames, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: rend}, testLoopConfig())

	var seen []State
	rend.onPresent = func() { seen = append(seen, c.State().State) }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if containsState(seen, StateDegraded) {
		t.Fatalf("degraded below the failure limit; states %v", seen)
	}
	if !containsState(seen, StateRunning) {
		t.Fatalf("never running; states %v", seen)
	}
}

func TestRun_FaultsAtLimitDegrade(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{
		script:   []error{camera.ErrDeviceFault},
		status:   camera.StatusDown,
		cancelAt: 7,
		cancel:   cancel,
	}
	rend := &fakeRenderer{}
	mach := &fakeMachine{}
	c := New(Deps{Frames: frames, Rec: &fakeRec{}, Machine: mach, Renderer: rend}, testLoopConfig())

	var seen []State
	rend.onPresent = func() { seen = append(seen, c.State().State) }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !containsState(seen, StateDegraded) {
		t.Fatalf("never degraded after sustained faults; states %v", seen)
	}
	if mach.updates < 6 {
		t.Errorf("machine updated %d times, loop should keep ticking while degraded", mach.updates)
	}
}

func TestRun_DownErrorsCountTowardLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{
		script:   []error{camera.ErrDown},
		status:   camera.StatusDown,
		cancelAt: 7,
		cancel:   cancel,
	}
	rend := &fakeRenderer{}
	c := New(Deps{Frames: frames, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: rend}, testLoopConfig())

	var seen []State
	rend.onPresent = func() { seen = append(seen, c.State().State) }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !containsState(seen, StateDegraded) {
		t.Fatalf("camera down never degraded the loop; states %v", seen)
	}
}

func TestRun_TimeoutsAreBenign(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{
		script:   []error{nil, camera.ErrTimeout},
		status:   camera.StatusUp,
		cancelAt: 8,
		cancel:   cancel,
	}
	rend := &fakeRenderer{}
	rec := &fakeRec{out: interaction.Unmatched()}
	mach := &fakeMachine{}
	c := New(Deps{Frames: frames, Rec: rec, Machine: mach, Renderer: rend}, testLoopConfig())

	var seen []State
	rend.onPresent = func() { seen = append(seen, c.State().State) }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if containsState(seen, StateDegraded) {
		t.Fatalf("timeouts degraded the loop; states %v", seen)
	}
	if rec.calls != 1 {
		t.Errorf("recognizer ran %d times, want 1 (only the delivered frame)", rec.calls)
	}
	if mach.updates < 8 {
		t.Errorf("machine updated %d times, want every tick", mach.updates)
	}
}

func TestRun_RecoveryRestoresRunning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{
		script: []error{
			camera.ErrDeviceFault, camera.ErrDeviceFault, camera.ErrDeviceFault,
			camera.ErrDeviceFault, camera.ErrDeviceFault,
			nil,
		},
		status:   camera.StatusUp,
		cancelAt: 9,
		cancel:   cancel,
	}
	rend := &fakeRenderer{}
	c := New(Deps{Frames: frames, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: rend}, testLoopConfig())

	var seen []State
	rend.onPresent = func() { seen = append(seen, c.State().State) }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	degraded := -1
	for i, s := range seen {
		if s == StateDegraded {
			degraded = i
			break
		}
	}
	if degraded < 0 {
		t.Fatalf("never degraded; states %v", seen)
	}
	if !containsState(seen[degraded:], StateRunning) {
		t.Fatalf("never running again after frames returned; states %v", seen)
	}
}

func TestRun_RecognitionCadence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{status: camera.StatusUp, cancelAt: 8, cancel: cancel}
	rec := &fakeRec{out: interaction.Matched("ada", 0.2)}
	mach := &fakeMachine{}
	cfg := testLoopConfig()
	cfg.RecognitionInterval = 2

	c := New(Deps{Frames: frames, Rec: rec, Machine: mach, Renderer: &fakeRenderer{}}, cfg)
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rec.calls != 4 {
		t.Errorf("recognizer ran %d times over 8 frame ticks at interval 2, want 4", rec.calls)
	}
	if !mach.last.Matched || mach.last.Label != "ada" {
		t.Errorf("machine last outcome = %+v, want the recognized identity", mach.last)
	}
}

func TestRun_SurfaceLostDisablesAfterRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{status: camera.StatusUp, cancelAt: 40, cancel: cancel}
	rend := &fakeRenderer{
		presentErrs: []error{display.ErrSurfaceLost},
		reopenErr:   errors.New("panel gone"),
	}
	c := New(Deps{Frames: frames, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: rend}, testLoopConfig())
	c.displayRetryBase = time.Millisecond

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rend.reopens != displayRetryLimit {
		t.Errorf("reopen attempts = %d, want %d", rend.reopens, displayRetryLimit)
	}
	if !rend.disabled {
		t.Error("renderer not disabled after reopen attempts exhausted")
	}
	snap := c.State()
	if snap.Display {
		t.Error("display substatus still healthy after disable")
	}
}

func TestRun_SurfaceRestoredByReopen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{status: camera.StatusUp, cancelAt: 40, cancel: cancel}
	rend := &fakeRenderer{presentErrs: []error{display.ErrSurfaceLost}}
	c := New(Deps{Frames: frames, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: rend}, testLoopConfig())
	c.displayRetryBase = time.Millisecond

	var seen []State
	rend.onPresent = func() { seen = append(seen, c.State().State) }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rend.reopens != 1 {
		t.Errorf("reopen attempts = %d, want 1", rend.reopens)
	}
	if rend.disabled {
		t.Error("renderer disabled although reopen succeeded")
	}
	if containsState(seen, StateDegraded) {
		t.Errorf("surface loss degraded the loop during the retry window; states %v", seen)
	}
}

func TestRun_NilTouchRunsTouchless(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{status: camera.StatusUp, cancelAt: 3, cancel: cancel}
	c := New(Deps{Frames: frames, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: &fakeRenderer{}}, testLoopConfig())

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.State().Touch {
		t.Error("touch substatus healthy without a touch source")
	}
}

func TestRun_DeadTouchIsSubstatusOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	frames := &fakeFrames{status: camera.StatusUp, cancelAt: 4, cancel: cancel}
	rend := &fakeRenderer{}
	c := New(Deps{Frames: frames, Touch: &fakeTouch{dead: true}, Rec: &fakeRec{}, Machine: &fakeMachine{}, Renderer: rend}, testLoopConfig())

	var seen []State
	rend.onPresent = func() { seen = append(seen, c.State().State) }

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c.State().Touch {
		t.Error("touch substatus healthy although the device is dead")
	}
	if containsState(seen, StateDegraded) {
		t.Errorf("dead touch degraded the loop; states %v", seen)
	}
}

func TestFrameWait(t *testing.T) {
	cases := []struct {
		tick time.Duration
		want time.Duration
	}{
		{33 * time.Millisecond, 16500 * time.Microsecond},
		{100 * time.Millisecond, 50 * time.Millisecond},
		{10 * time.Millisecond, 10 * time.Millisecond},
		{2 * time.Millisecond, 10 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := frameWait(tc.tick); got != tc.want {
			t.Errorf("frameWait(%v) = %v, want %v", tc.tick, got, tc.want)
		}
	}
}
