// Package touch reads the resistive touchscreen as a non-blocking stream of
// discrete events. The raw evdev node is read O_NONBLOCK and drained on every
// poll; a missing or dying device degrades to empty polls, never an error in
// the loop.
package touch

import (
	"errors"
	"time"
)

// ErrUnavailable marks a touch device that is absent or stopped responding.
// Callers report it once and run touch-less from then on.
var ErrUnavailable = errors.New("touch device unavailable")

// Kind tags a touch event.
type Kind uint8

const (
	Down Kind = iota + 1
	Move
	Up
)

func (k Kind) String() string {
	switch k {
	case Down:
		return "down"
	case Move:
		return "move"
	case Up:
		return "up"
	default:
		return "unknown"
	}
}

// Event is one decoded touch sample. X and Y are normalized to [0, 1]
// against the configured calibration range.
type Event struct {
	Kind Kind
	X    float64
	Y    float64
	At   time.Time
}

// Calibration maps raw controller coordinates onto the unit square.
type Calibration struct {
	XMin, XMax int32
	YMin, YMax int32
}

func (c Calibration) normalize(x, y int32) (float64, float64) {
	nx := clamp01(float64(x-c.XMin) / float64(c.XMax-c.XMin))
	ny := clamp01(float64(y-c.YMin) / float64(c.YMax-c.YMin))
	return nx, ny
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
