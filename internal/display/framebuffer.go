package display

import (
	"fmt"
	"image"

	"golang.org/x/sys/unix"
)

// fbSurface is the mmap'd Linux framebuffer. Panel geometry comes from
// configuration; the small SPI displays this targets are fixed 16-bit
// RGB565 little-endian.
type fbSurface struct {
	fd     int
	data   []byte
	bounds image.Rectangle
}

func openFramebuffer(path string, width, height int) (*fbSurface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid framebuffer size %dx%d", width, height)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %v", path, err)
	}
	size := width * height * 2
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mapping %s: %v", path, err)
	}
	return &fbSurface{fd: fd, data: data, bounds: image.Rect(0, 0, width, height)}, nil
}

func (s *fbSurface) Bounds() image.Rectangle { return s.bounds }

// Blit converts the composed frame to RGB565 and writes the whole panel.
func (s *fbSurface) Blit(img *image.RGBA) error {
	if s.data == nil {
		return fmt.Errorf("framebuffer unmapped")
	}
	w, h := s.bounds.Dx(), s.bounds.Dy()
	if img.Bounds().Dx() < w || img.Bounds().Dy() < h {
		return fmt.Errorf("frame %v smaller than panel %v", img.Bounds(), s.bounds)
	}
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		out := s.data[y*w*2:]
		for x := 0; x < w; x++ {
			r := row[x*4]
			g := row[x*4+1]
			b := row[x*4+2]
			v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
			out[x*2] = byte(v)
			out[x*2+1] = byte(v >> 8)
		}
	}
	return nil
}

func (s *fbSurface) Close() error {
	var first error
	if s.data != nil {
		first = unix.Munmap(s.data)
		s.data = nil
	}
	if s.fd >= 0 {
		if err := unix.Close(s.fd); err != nil && first == nil {
			first = err
		}
		s.fd = -1
	}
	return first
}
