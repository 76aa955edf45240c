package display

import (
	"image"
	"image/draw"
	"sync"
)

// memorySurface keeps the last presented frame in memory. It backs the
// headless target and the tests.
type memorySurface struct {
	mu    sync.Mutex
	frame *image.RGBA
}

func newMemorySurface(width, height int) *memorySurface {
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 240
	}
	return &memorySurface{frame: image.NewRGBA(image.Rect(0, 0, width, height))}
}

func (s *memorySurface) Bounds() image.Rectangle { return s.frame.Bounds() }

func (s *memorySurface) Blit(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	draw.Draw(s.frame, s.frame.Bounds(), img, img.Bounds().Min, draw.Src)
	return nil
}

// Frame returns a copy of the last presented image.
func (s *memorySurface) Frame() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := image.NewRGBA(s.frame.Bounds())
	draw.Draw(out, out.Bounds(), s.frame, s.frame.Bounds().Min, draw.Src)
	return out
}

func (s *memorySurface) Close() error { return nil }
