package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"miru/internal/logging"
)

func testCamera() *Camera {
	c := &Camera{
		slot: newSlot(),
		log:  logging.Named("camera"),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.status.Store(int32(StatusUp))
	return c
}

func testFrame() *Frame {
	return &Frame{ID: uuid.New(), CapturedAt: time.Now(), Mat: gocv.NewMat()}
}

func TestSlot_OverwriteKeepsLatest(t *testing.T) {
	s := newSlot()

	f1, f2 := testFrame(), testFrame()
	dropped, ok := s.put(f1)
	if !ok || dropped != nil {
		t.Fatalf("first put: dropped=%v ok=%v", dropped, ok)
	}
	dropped, ok = s.put(f2)
	if !ok {
		t.Fatal("second put rejected")
	}
	if dropped != f1 {
		t.Fatalf("dropped = %v, want the first frame", dropped)
	}
	dropped.Close()

	got := s.drain()
	if got != f2 {
		t.Fatalf("slot holds %v, want the second frame", got)
	}
	if got.Seq != 2 {
		t.Errorf("seq = %d, want 2", got.Seq)
	}
	got.Close()
}

func TestSlot_PutAfterCloseRejected(t *testing.T) {
	s := newSlot()
	s.close()
	f := testFrame()
	defer f.Close()
	if _, ok := s.put(f); ok {
		t.Fatal("put accepted on closed slot")
	}
}

func TestNext_DeliversPublishedFrame(t *testing.T) {
	c := testCamera()

	want := testFrame()
	go func() {
		time.Sleep(15 * time.Millisecond)
		c.slot.put(want)
	}()

	got, err := c.Next(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	defer got.Close()
	if got != want {
		t.Fatalf("got %v, want the published frame", got)
	}
	if got.Seq != 1 {
		t.Errorf("seq = %d, want 1", got.Seq)
	}
	if st := c.Stats(); st.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", st.Delivered)
	}
}

func TestNext_TimesOutWithoutFrames(t *testing.T) {
	c := testCamera()

	start := time.Now()
	_, err := c.Next(context.Background(), 30*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
}

func TestNext_ObservesContextCancellation(t *testing.T) {
	c := testCamera()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Next(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestNext_DownAfterSlotClose(t *testing.T) {
	c := testCamera()
	c.slot.close()

	_, err := c.Next(context.Background(), time.Second)
	if !errors.Is(err, ErrDown) {
		t.Fatalf("err = %v, want ErrDown", err)
	}
}

func TestNext_DownStatusShortCircuits(t *testing.T) {
	c := testCamera()
	c.status.Store(int32(StatusDown))

	start := time.Now()
	_, err := c.Next(context.Background(), time.Second)
	if !errors.Is(err, ErrDown) {
		t.Fatalf("err = %v, want ErrDown", err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("down camera blocked instead of failing fast")
	}
}

func TestReopenDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{7, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := reopenDelay(tc.attempt); got != tc.want {
			t.Errorf("reopenDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestStatus_String(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{StatusUp, "up"},
		{StatusReconnecting, "reconnecting"},
		{StatusDown, "down"},
		{Status(0), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("Status(%d).String() = %q, want %q", tc.status, got, tc.want)
		}
	}
}
