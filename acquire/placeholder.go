package acquire

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	placeholderFill    = color.NRGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	placeholderBorder  = color.NRGBA{R: 0xbb, G: 0xbb, B: 0xbb, A: 0xff}
	placeholderCaption = color.NRGBA{R: 0x66, G: 0x66, B: 0x66, A: 0xff}
)

// Placeholder renders the substitute PNG used when every strategy has failed:
// a neutral grey box with a one pixel border and a centered caption.
func Placeholder(width, height int, caption string) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid placeholder size %dx%d", width, height)
	}
	img := imaging.New(width, height, placeholderFill)
	for x := 0; x < width; x++ {
		img.SetNRGBA(x, 0, placeholderBorder)
		img.SetNRGBA(x, height-1, placeholderBorder)
	}
	for y := 0; y < height; y++ {
		img.SetNRGBA(0, y, placeholderBorder)
		img.SetNRGBA(width-1, y, placeholderBorder)
	}

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(placeholderCaption), Face: face}
	x := (fixed.I(width) - d.MeasureString(caption)) / 2
	if x < fixed.I(2) {
		x = fixed.I(2)
	}
	d.Dot = fixed.Point26_6{X: x, Y: fixed.I((height + face.Ascent - face.Descent) / 2)}
	d.DrawString(caption)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("error encoding placeholder: %w", err)
	}
	return buf.Bytes(), nil
}
