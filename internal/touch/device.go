package touch

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"miru/internal/config"
	"miru/internal/logging"
)

// inputEvent mirrors struct input_event from linux/input.h. The Timeval makes
// the layout track the platform word size.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

var eventSize = binary.Size(inputEvent{})

// maxEventsPerPoll bounds one drain so a chatty controller cannot stall a tick.
const maxEventsPerPoll = 100

// deviceKeywords identify touchscreen controllers by their advertised name.
var deviceKeywords = []string{"touch", "pitft", "ep0110", "ft5", "stmpe", "ads7846", "ili", "tsc"}

// Device owns the raw evdev handle.
type Device struct {
	fd   int
	path string
	dec  decoder
	buf  []byte
	dead bool
	log  *logging.Logger
}

// Open acquires the touch device. A device of "auto" is resolved by scanning
// the kernel's input device list for a touchscreen-like name.
func Open(cfg config.TouchConfig) (*Device, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("%w: disabled in configuration", ErrUnavailable)
	}

	path := cfg.Device
	if path == "" || path == "auto" {
		resolved, err := Autodetect()
		if err != nil {
			return nil, err
		}
		path = resolved
	}

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrUnavailable, path, err)
	}

	d := &Device{
		fd:   fd,
		path: path,
		buf:  make([]byte, eventSize*64),
		log:  logging.Named("touch"),
		dec: decoder{cal: Calibration{
			XMin: int32(cfg.XMin), XMax: int32(cfg.XMax),
			YMin: int32(cfg.YMin), YMax: int32(cfg.YMax),
		}},
	}
	d.log.Info().Str("device", path).Msg("touch device open")
	return d, nil
}

// Autodetect scans /proc/bus/input/devices for a touchscreen controller and
// returns its event node path.
func Autodetect() (string, error) {
	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer f.Close()

	path, ok := findTouchDevice(f, deviceKeywords)
	if !ok {
		return "", fmt.Errorf("%w: no touchscreen in input device list", ErrUnavailable)
	}
	return path, nil
}

// findTouchDevice parses the /proc/bus/input/devices format: stanzas per
// device, N: lines naming it, H: lines listing its event handlers.
func findTouchDevice(r io.Reader, keywords []string) (string, bool) {
	var name, handlers string

	match := func() (string, bool) {
		if name == "" || handlers == "" {
			return "", false
		}
		lower := strings.ToLower(name)
		for _, kw := range keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			for _, h := range strings.Fields(handlers) {
				if strings.HasPrefix(h, "event") {
					return "/dev/input/" + h, true
				}
			}
		}
		return "", false
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.TrimSpace(line) == "":
			if path, ok := match(); ok {
				return path, true
			}
			name, handlers = "", ""
		case strings.HasPrefix(line, "N: Name="):
			name = strings.Trim(strings.TrimPrefix(line, "N: Name="), `"`)
		case strings.HasPrefix(line, "H: Handlers="):
			handlers = strings.TrimPrefix(line, "H: Handlers=")
		}
	}
	return match()
}

// Poll drains the queued raw events without blocking and returns the decoded
// touch events, at most maxEventsPerPoll. After a device failure it returns
// nil forever.
func (d *Device) Poll() []Event {
	if d == nil || d.dead {
		return nil
	}

	now := time.Now()
	var out []Event

	for len(out) < maxEventsPerPoll {
		n, err := unix.Read(d.fd, d.buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				break
			}
			d.dead = true
			d.log.Warn().Err(err).Str("device", d.path).Msg("touch device failed, continuing without touch")
			break
		}
		if n <= 0 {
			break
		}

		for off := 0; off+eventSize <= n; off += eventSize {
			var raw inputEvent
			if err := binary.Read(bytes.NewReader(d.buf[off:off+eventSize]), binary.LittleEndian, &raw); err != nil {
				continue
			}
			if ev, ok := d.dec.feed(raw.Type, raw.Code, raw.Value, now); ok {
				out = append(out, ev)
			}
		}
	}
	return out
}

// Path returns the resolved device node.
func (d *Device) Path() string { return d.path }

// Alive reports whether the device is still readable. Like Poll, it is only
// safe from the polling goroutine.
func (d *Device) Alive() bool {
	return d != nil && !d.dead
}

// Close releases the device handle.
func (d *Device) Close() error {
	if d == nil || d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
