package touch

import "time"

// Linux input event codes used by touchscreen controllers. Stable kernel ABI,
// mirrored here instead of pulling in a whole evdev binding.
const (
	evSyn uint16 = 0x00
	evKey uint16 = 0x01
	evAbs uint16 = 0x03

	absX uint16 = 0x00
	absY uint16 = 0x01

	btnTouch uint16 = 0x14a
)

// decoder accumulates raw evdev samples until a SYN report commits them as
// one Event. The kernel sends coordinates and the touch button as separate
// records; only the SYN boundary marks a consistent snapshot.
type decoder struct {
	cal Calibration

	x, y     int32
	touching bool

	pendingKind Kind // Down or Up queued by BTN_TOUCH until the next SYN
	hasPending  bool
	moved       bool
}

// feed consumes one raw record and returns a committed Event on SYN.
func (d *decoder) feed(typ, code uint16, value int32, at time.Time) (Event, bool) {
	switch typ {
	case evAbs:
		switch code {
		case absX:
			d.x = value
			d.moved = true
		case absY:
			d.y = value
			d.moved = true
		}
	case evKey:
		if code == btnTouch {
			if value != 0 {
				d.pendingKind = Down
			} else {
				d.pendingKind = Up
			}
			d.hasPending = true
		}
	case evSyn:
		return d.commit(at)
	}
	return Event{}, false
}

func (d *decoder) commit(at time.Time) (Event, bool) {
	hasPending, moved := d.hasPending, d.moved
	d.hasPending = false
	d.moved = false

	x, y := d.cal.normalize(d.x, d.y)

	switch {
	case hasPending && d.pendingKind == Down:
		d.touching = true
		return Event{Kind: Down, X: x, Y: y, At: at}, true
	case hasPending && d.pendingKind == Up:
		d.touching = false
		return Event{Kind: Up, X: x, Y: y, At: at}, true
	case d.touching && moved:
		return Event{Kind: Move, X: x, Y: y, At: at}, true
	}
	return Event{}, false
}
