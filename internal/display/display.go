// Package display draws the device face. One Renderer composes the current
// interaction state into an RGBA buffer and blits it to a Surface: the SPI
// framebuffer on the device, an in-memory image over SSH and in tests.
package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"miru/internal/config"
	"miru/internal/interaction"
	"miru/internal/logging"
)

// ErrSurfaceLost marks a display surface that can no longer be drawn to.
// The loop retries Open a few times, then runs without a display.
var ErrSurfaceLost = errors.New("display surface lost")

// Surface is a full-frame drawing target.
type Surface interface {
	Bounds() image.Rectangle
	Blit(img *image.RGBA) error
	Close() error
}

var markerColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

// Renderer owns the surface and the expression assets.
type Renderer struct {
	cfg      config.DisplayConfig
	surface  Surface
	assets   *assetCache
	buf      *image.RGBA
	disabled bool
	log      *logging.Logger
}

// New opens the configured surface. cfg.Target must already be resolved to
// framebuffer or headless.
func New(cfg config.DisplayConfig) (*Renderer, error) {
	r := &Renderer{
		cfg: cfg,
		log: logging.Named("display"),
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	r.assets = newAssetCache(cfg.AssetsDir, r.surface.Bounds(), r.log)
	r.buf = image.NewRGBA(r.surface.Bounds())
	r.log.Info().
		Str("target", cfg.Target).
		Int("width", r.surface.Bounds().Dx()).
		Int("height", r.surface.Bounds().Dy()).
		Msg("display ready")
	return r, nil
}

func (r *Renderer) open() error {
	switch r.cfg.Target {
	case "framebuffer":
		s, err := openFramebuffer(r.cfg.Framebuffer, r.cfg.Width, r.cfg.Height)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSurfaceLost, err)
		}
		r.surface = s
	case "headless":
		r.surface = newMemorySurface(r.cfg.Width, r.cfg.Height)
	default:
		return fmt.Errorf("unknown display target %q", r.cfg.Target)
	}
	return nil
}

// Present composes the state and blits it. Missing assets never fail a
// present; a dead surface returns ErrSurfaceLost.
func (r *Renderer) Present(st interaction.State) error {
	if r.disabled {
		return nil
	}

	bg := r.assets.image(st.Mode)
	draw.Draw(r.buf, r.buf.Bounds(), bg, bg.Bounds().Min, draw.Src)

	if st.Mode == interaction.ModeRecognized && st.Label != "" {
		r.drawLabel(st.Label)
	}
	if st.TouchActive {
		r.drawTouchMarker(st)
	}

	if err := r.surface.Blit(r.buf); err != nil {
		return fmt.Errorf("%w: %v", ErrSurfaceLost, err)
	}
	return nil
}

// Reopen tears the surface down and opens it again after a loss.
func (r *Renderer) Reopen() error {
	if r.surface != nil {
		r.surface.Close()
	}
	if err := r.open(); err != nil {
		return err
	}
	bounds := r.surface.Bounds()
	if r.buf == nil || r.buf.Bounds() != bounds {
		r.buf = image.NewRGBA(bounds)
		r.assets = newAssetCache(r.cfg.AssetsDir, bounds, r.log)
	}
	r.log.Info().Str("target", r.cfg.Target).Msg("display surface reopened")
	return nil
}

// Disable turns Present into a no-op permanently. Used when the surface is
// gone for good; the rest of the loop keeps running.
func (r *Renderer) Disable() {
	r.disabled = true
	if r.surface != nil {
		r.surface.Close()
	}
	r.log.Warn().Msg("display disabled, continuing without output")
}

func (r *Renderer) Close() error {
	if r.surface == nil {
		return nil
	}
	err := r.surface.Close()
	r.surface = nil
	return err
}

// drawLabel prints the recognized name centered near the bottom edge.
func (r *Renderer) drawLabel(label string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, label).Ceil()
	b := r.buf.Bounds()
	x := b.Min.X + (b.Dx()-width)/2
	if x < b.Min.X+2 {
		x = b.Min.X + 2
	}
	y := b.Max.Y - 8

	d := font.Drawer{
		Dst:  r.buf,
		Src:  image.NewUniform(markerColor),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}

// drawTouchMarker outlines the active screen region, doubled while a long
// press is in progress.
func (r *Renderer) drawTouchMarker(st interaction.State) {
	rect := regionRect(st.Region, r.buf.Bounds())
	if rect.Empty() {
		return
	}
	drawOutline(r.buf, rect, markerColor)
	if st.LongPress {
		drawOutline(r.buf, rect.Inset(4), markerColor)
	}
}

// regionRect maps a touch region to its vertical third, inset a little so
// the outline reads as a band rather than a screen border.
func regionRect(region interaction.Region, b image.Rectangle) image.Rectangle {
	third := b.Dy() / 3
	var rect image.Rectangle
	switch region {
	case interaction.RegionTop:
		rect = image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+third)
	case interaction.RegionMiddle:
		rect = image.Rect(b.Min.X, b.Min.Y+third, b.Max.X, b.Min.Y+2*third)
	case interaction.RegionBottom:
		rect = image.Rect(b.Min.X, b.Min.Y+2*third, b.Max.X, b.Max.Y)
	default:
		return image.Rectangle{}
	}
	return rect.Inset(2)
}

// drawOutline draws a 2px rectangle border.
func drawOutline(dst *image.RGBA, rect image.Rectangle, c color.Color) {
	rect = rect.Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	for t := 0; t < 2; t++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			dst.Set(x, rect.Min.Y+t, c)
			dst.Set(x, rect.Max.Y-1-t, c)
		}
		for y := rect.Min.Y; y < rect.Max.Y; y++ {
			dst.Set(rect.Min.X+t, y, c)
			dst.Set(rect.Max.X-1-t, y, c)
		}
	}
}
