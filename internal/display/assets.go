package display

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"miru/internal/interaction"
	"miru/internal/logging"
)

// Backgrounds for modes without an asset file.
var placeholderColors = map[interaction.Mode]color.RGBA{
	interaction.ModeIdle:         {R: 0x20, G: 0x30, B: 0x48, A: 0xff},
	interaction.ModeRecognizing:  {R: 0xb0, G: 0x80, B: 0x20, A: 0xff},
	interaction.ModeRecognized:   {R: 0x20, G: 0x70, B: 0x38, A: 0xff},
	interaction.ModeUnrecognized: {R: 0x80, G: 0x28, B: 0x28, A: 0xff},
}

// assetCache loads each expression image once, scaled to the surface size.
type assetCache struct {
	dir    string
	bounds image.Rectangle
	images map[interaction.Mode]*image.RGBA
	log    *logging.Logger
}

func newAssetCache(dir string, bounds image.Rectangle, log *logging.Logger) *assetCache {
	return &assetCache{
		dir:    dir,
		bounds: bounds,
		images: make(map[interaction.Mode]*image.RGBA),
		log:    log,
	}
}

// image returns the expression for a mode, loading it on first use. A
// missing or undecodable file yields a generated placeholder.
func (c *assetCache) image(mode interaction.Mode) *image.RGBA {
	if img, ok := c.images[mode]; ok {
		return img
	}
	img := c.load(mode)
	c.images[mode] = img
	return img
}

func (c *assetCache) load(mode interaction.Mode) *image.RGBA {
	for _, ext := range []string{".png", ".bmp"} {
		path := filepath.Join(c.dir, mode.String()+ext)
		src, err := decodeImage(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				c.log.Warn().Err(err).Str("asset", path).Msg("unusable expression asset")
			}
			continue
		}
		dst := image.NewRGBA(c.bounds)
		xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
		return dst
	}
	c.log.Debug().Str("mode", mode.String()).Msg("no expression asset, using placeholder")
	return c.placeholder(mode)
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// placeholder paints a solid background with the mode name so the device
// shows something meaningful without an assets directory.
func (c *assetCache) placeholder(mode interaction.Mode) *image.RGBA {
	bg, ok := placeholderColors[mode]
	if !ok {
		bg = color.RGBA{A: 0xff}
	}
	img := image.NewRGBA(c.bounds)
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	text := mode.String()
	width := font.MeasureString(face, text).Ceil()
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(markerColor),
		Face: face,
		Dot: fixed.P(
			c.bounds.Min.X+(c.bounds.Dx()-width)/2,
			c.bounds.Min.Y+c.bounds.Dy()/2,
		),
	}
	d.DrawString(text)
	return img
}
