package assemble

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
)

// DefaultPreviewDPI renders A4 pages at roughly screen size.
const DefaultPreviewDPI = 96.0

var ErrPageOutOfRange = errors.New("page out of range")

// libmupdf is not safe for concurrent use.
var fitzMu sync.Mutex

// Preview rasterizes page (0-based) of a PDF.
func Preview(data []byte, page int, dpi float64) (image.Image, error) {
	if dpi <= 0 {
		dpi = DefaultPreviewDPI
	}

	fitzMu.Lock()
	defer fitzMu.Unlock()

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("error opening pdf: %w", err)
	}
	defer doc.Close()

	if page < 0 || page >= doc.NumPage() {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrPageOutOfRange, page, doc.NumPage())
	}
	img, err := doc.ImageDPI(page, dpi)
	if err != nil {
		return nil, fmt.Errorf("error rendering page %d: %w", page, err)
	}
	return img, nil
}

// PreviewPNG is Preview encoded as PNG.
func PreviewPNG(data []byte, page int, dpi float64) ([]byte, error) {
	img, err := Preview(data, page, dpi)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("error encoding preview: %w", err)
	}
	return buf.Bytes(), nil
}
