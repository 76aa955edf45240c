package interaction

import (
	"time"

	"miru/internal/logging"
	"miru/internal/touch"
)

const (
	DefaultConfirmTicks     = 3
	DefaultNoFaceResetTicks = 30
	DefaultTouchDwell       = 1500 * time.Millisecond
	DefaultChangeCooldown   = 300 * time.Millisecond
	DefaultLongPress        = 2 * time.Second
)

// Options tune the machine. Zero fields fall back to the defaults above.
type Options struct {
	// ConfirmTicks is how many consecutive ticks an identity result must
	// repeat before it commits. Filters single-frame misclassification.
	ConfirmTicks int

	// NoFaceResetTicks is how many consecutive empty ticks send the
	// machine back to idle.
	NoFaceResetTicks int

	// TouchDwell keeps the touch overlay up after the last contact.
	TouchDwell time.Duration

	// ChangeCooldown rate-limits committed mode changes. A change landing
	// inside the window is queued and applied when it expires.
	ChangeCooldown time.Duration

	// LongPress is how long a continuous press takes to set the flag.
	LongPress time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConfirmTicks <= 0 {
		o.ConfirmTicks = DefaultConfirmTicks
	}
	if o.NoFaceResetTicks <= 0 {
		o.NoFaceResetTicks = DefaultNoFaceResetTicks
	}
	if o.TouchDwell <= 0 {
		o.TouchDwell = DefaultTouchDwell
	}
	if o.ChangeCooldown <= 0 {
		o.ChangeCooldown = DefaultChangeCooldown
	}
	if o.LongPress <= 0 {
		o.LongPress = DefaultLongPress
	}
	return o
}

// candidate is a mode change waiting on hysteresis or the cooldown window.
type candidate struct {
	mode  Mode
	label string
	dist  float64
}

// Machine folds tick inputs into the interaction state. It is owned by the
// loop goroutine and is not safe for concurrent use; only Update mutates it.
type Machine struct {
	opt Options
	log *logging.Logger

	mode      Mode
	label     string
	distance  float64
	modeSince time.Time

	cand      candidate
	candTicks int

	noFaceTicks int

	lastChange time.Time
	queued     bool
	queuedCand candidate

	overlay    bool
	pressed    bool
	pressStart time.Time
	lastTouch  time.Time
	region     Region
	longPress  bool
}

func NewMachine(opt Options) *Machine {
	return &Machine{
		opt: opt.withDefaults(),
		log: logging.Named("interaction"),
	}
}

// Update advances the machine by one tick. The outcome is this tick's
// recognition result (the loop repeats the previous one between recognition
// passes) and events are the touch samples polled this tick.
func (m *Machine) Update(now time.Time, out Outcome, events []touch.Event) {
	m.applyQueued(now)
	m.applyTouch(now, events)
	m.applyOutcome(now, out)
}

// Snapshot returns the current state by value.
func (m *Machine) Snapshot() State {
	return State{
		Mode:        m.mode,
		Label:       m.label,
		Distance:    m.distance,
		Since:       m.modeSince,
		TouchActive: m.overlay,
		Region:      m.region,
		LongPress:   m.longPress,
	}
}

func (m *Machine) applyQueued(now time.Time) {
	if !m.queued || now.Sub(m.lastChange) < m.opt.ChangeCooldown {
		return
	}
	m.commit(now, m.queuedCand)
}

func (m *Machine) applyOutcome(now time.Time, out Outcome) {
	if !out.FaceSeen {
		m.candTicks = 0
		m.noFaceTicks++
		if m.noFaceTicks >= m.opt.NoFaceResetTicks && m.mode != ModeIdle {
			m.request(now, candidate{mode: ModeIdle})
		}
		return
	}
	m.noFaceTicks = 0

	// Presence is cheap to trust; identity is not.
	if m.mode == ModeIdle {
		m.request(now, candidate{mode: ModeRecognizing})
	}

	c := candidate{mode: ModeUnrecognized}
	if out.Matched {
		c = candidate{mode: ModeRecognized, label: out.Label, dist: out.Distance}
	}

	if c.mode == m.cand.mode && c.label == m.cand.label {
		if m.candTicks < m.opt.ConfirmTicks {
			m.candTicks++
		}
	} else {
		m.candTicks = 1
	}
	m.cand = c

	if m.candTicks < m.opt.ConfirmTicks {
		return
	}
	if c.mode == m.mode && c.label == m.label {
		m.distance = c.dist
		return
	}
	m.request(now, c)
}

func (m *Machine) applyTouch(now time.Time, events []touch.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case touch.Down:
			m.overlay = true
			m.pressed = true
			m.pressStart = ev.At
			m.lastTouch = ev.At
			m.region = regionOf(ev.Y)
		case touch.Move:
			if m.overlay {
				m.lastTouch = ev.At
				m.region = regionOf(ev.Y)
			}
		case touch.Up:
			m.pressed = false
			m.lastTouch = ev.At
		}
	}

	// A held finger produces no further events; treat contact as activity.
	if m.pressed {
		m.lastTouch = now
		if !m.longPress && now.Sub(m.pressStart) >= m.opt.LongPress {
			m.longPress = true
			m.log.Info().Str("region", m.region.String()).Msg("long press")
		}
	}

	if m.overlay && now.Sub(m.lastTouch) >= m.opt.TouchDwell {
		m.overlay = false
		m.pressed = false
		m.region = RegionNone
		m.longPress = false
	}
}

// request commits a mode change, or queues it while the cooldown window from
// the previous change is still open. Only the latest queued change survives.
func (m *Machine) request(now time.Time, c candidate) {
	if c.mode == m.mode && c.label == m.label {
		m.queued = false
		return
	}
	if now.Sub(m.lastChange) < m.opt.ChangeCooldown {
		m.queued = true
		m.queuedCand = c
		return
	}
	m.commit(now, c)
}

func (m *Machine) commit(now time.Time, c candidate) {
	m.mode = c.mode
	m.label = c.label
	m.distance = c.dist
	m.modeSince = now
	m.lastChange = now
	m.queued = false
	m.log.Debug().
		Str("mode", c.mode.String()).
		Str("label", c.label).
		Msg("interaction mode change")
}

func regionOf(y float64) Region {
	switch {
	case y < 1.0/3.0:
		return RegionTop
	case y < 2.0/3.0:
		return RegionMiddle
	default:
		return RegionBottom
	}
}
