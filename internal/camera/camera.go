// Package camera acquires frames from the local V4L2 device. A background
// goroutine reads as fast as the hardware delivers and publishes into a
// single-frame mailbox, so the loop never waits behind a stale driver queue.
// Device loss is recovered with a bounded reopen cycle; a device that stays
// gone marks the source down without stopping anyone else.
package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"miru/internal/config"
	"miru/internal/logging"
)

var (
	// ErrDeviceUnavailable means the device could not be opened at all.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrDeviceFault is a transient read failure on an open device.
	ErrDeviceFault = errors.New("camera device fault")
	// ErrTimeout means no fresh frame arrived within the wait budget.
	ErrTimeout = errors.New("frame wait timed out")
	// ErrDown means reopen attempts are exhausted; no more frames will come.
	ErrDown = errors.New("camera down")
)

// Status is the acquisition state as seen by the loop.
type Status uint8

const (
	StatusUp Status = iota + 1
	StatusReconnecting
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusUp:
		return "up"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// Frame is one captured image. The receiver owns the Mat and must Close it.
type Frame struct {
	ID         uuid.UUID
	Seq        uint64
	CapturedAt time.Time
	Mat        gocv.Mat
}

func (f *Frame) Close() {
	f.Mat.Close()
}

// Stats is a snapshot of the acquisition counters.
type Stats struct {
	Captured    uint64
	Delivered   uint64
	Overwritten uint64
	Faults      uint64
	Reopens     uint64
}

// Camera owns the device handle and the capture goroutine.
type Camera struct {
	cfg  config.CameraConfig
	vc   *gocv.VideoCapture
	slot *slot
	log  *logging.Logger

	status atomic.Int32

	captured    atomic.Uint64
	delivered   atomic.Uint64
	overwritten atomic.Uint64
	faults      atomic.Uint64
	reopens     atomic.Uint64

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open acquires the device and starts capturing. The returned camera is
// already publishing frames.
func Open(cfg config.CameraConfig) (*Camera, error) {
	c := &Camera{
		cfg:  cfg,
		slot: newSlot(),
		log:  logging.Named("camera"),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}

	vc, err := openDevice(cfg, c.log)
	if err != nil {
		return nil, err
	}
	c.vc = vc
	c.status.Store(int32(StatusUp))
	c.log.Info().
		Str("device", cfg.Device).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("fps", cfg.FPS).
		Msg("camera open")

	go c.captureLoop()
	return c, nil
}

// Next blocks until a frame newer than the last delivered one is available,
// the timeout expires, or ctx is cancelled. The caller owns the returned
// frame and must Close it.
func (c *Camera) Next(ctx context.Context, timeout time.Duration) (*Frame, error) {
	if Status(c.status.Load()) == StatusDown {
		return nil, ErrDown
	}

	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, c.slot.wake)
	defer timer.Stop()
	stop := context.AfterFunc(ctx, c.slot.wake)
	defer stop()

	s := c.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return nil, ErrDown
		}
		if s.frame != nil {
			f := s.frame
			s.frame = nil
			c.delivered.Add(1)
			return f, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		s.cond.Wait()
	}
}

// Status reports the current acquisition state.
func (c *Camera) Status() Status {
	return Status(c.status.Load())
}

// Stats returns a counter snapshot.
func (c *Camera) Stats() Stats {
	return Stats{
		Captured:    c.captured.Load(),
		Delivered:   c.delivered.Load(),
		Overwritten: c.overwritten.Load(),
		Faults:      c.faults.Load(),
		Reopens:     c.reopens.Load(),
	}
}

// Close stops the capture goroutine and releases the device. It waits a
// bounded time for the goroutine; a hung driver read is abandoned, not
// joined forever.
func (c *Camera) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.slot.close()
		select {
		case <-c.done:
		case <-time.After(3 * time.Second):
			c.log.Warn().Msg("capture goroutine still blocked on driver, abandoning")
		}
		if f := c.slot.drain(); f != nil {
			f.Close()
		}
	})
	return nil
}

func (c *Camera) stopping() bool {
	select {
	case <-c.quit:
		return true
	default:
		return false
	}
}
