package camera

import (
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

const (
	reopenAttempts  = 5
	reopenBaseDelay = time.Second
	reopenMaxDelay  = 30 * time.Second

	statsLogEvery = 30 * time.Second
)

// captureLoop reads the device until shutdown or permanent loss. It is the
// only goroutine touching c.vc after Open returns.
func (c *Camera) captureLoop() {
	defer close(c.done)
	defer c.closeDevice()

	lastStats := time.Now()
	for {
		if c.stopping() {
			return
		}

		if c.readOnce() {
			if time.Since(lastStats) >= statsLogEvery {
				lastStats = time.Now()
				st := c.Stats()
				c.log.Debug().
					Uint64("captured", st.Captured).
					Uint64("delivered", st.Delivered).
					Uint64("overwritten", st.Overwritten).
					Uint64("faults", st.Faults).
					Uint64("reopens", st.Reopens).
					Msg("capture stats")
			}
			continue
		}

		if !c.reconnect() {
			if !c.stopping() {
				c.markDown()
			}
			return
		}
	}
}

// readOnce grabs one frame and publishes it. A false return is one device
// fault.
func (c *Camera) readOnce() bool {
	mat := gocv.NewMat()
	if ok := c.vc.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		c.faults.Add(1)
		c.log.Warn().Str("device", c.cfg.Device).Msg("device read failed")
		return false
	}
	c.captured.Add(1)

	f := &Frame{ID: uuid.New(), CapturedAt: time.Now(), Mat: mat}
	dropped, ok := c.slot.put(f)
	if !ok {
		f.Close()
		return true
	}
	if dropped != nil {
		c.overwritten.Add(1)
		dropped.Close()
	}
	return true
}

// reconnect runs the bounded reopen cycle. False means shutdown interrupted
// it or every attempt failed.
func (c *Camera) reconnect() bool {
	c.status.Store(int32(StatusReconnecting))
	c.closeDevice()

	for attempt := 1; attempt <= reopenAttempts; attempt++ {
		delay := reopenDelay(attempt)
		c.log.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("camera reopen scheduled")

		select {
		case <-c.quit:
			return false
		case <-time.After(delay):
		}

		c.reopens.Add(1)
		vc, err := openDevice(c.cfg, c.log)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("camera reopen failed")
			continue
		}
		c.vc = vc
		c.status.Store(int32(StatusUp))
		c.log.Info().Int("attempt", attempt).Msg("camera reopened")
		return true
	}
	return false
}

// reopenDelay doubles per attempt from the base, capped.
func reopenDelay(attempt int) time.Duration {
	d := reopenBaseDelay << (attempt - 1)
	if d > reopenMaxDelay || d <= 0 {
		d = reopenMaxDelay
	}
	return d
}

func (c *Camera) markDown() {
	c.status.Store(int32(StatusDown))
	c.slot.close()
	c.log.Error().
		Int("attempts", reopenAttempts).
		Msg("camera reopen attempts exhausted, source down")
}

func (c *Camera) closeDevice() {
	if c.vc != nil {
		c.vc.Close()
		c.vc = nil
	}
}
