package assemble

import (
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"report-export/raster"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the assemble package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// A4 in points.
const (
	DefaultPageWidth  = 595.0
	DefaultPageHeight = 842.0
)

var (
	ErrInvalidPageSize = errors.New("page dimensions must be positive")
	ErrEmptySurface    = errors.New("captured surface is empty")
)

// Page is one fixed-height slice of the captured surface. Offsets and heights
// are in page units (points); SourceTop and SourceBottom are bitmap rows.
type Page struct {
	Index        int
	Bitmap       image.Image
	HeightOffset float64
	Height       float64
	SourceTop    int
	SourceBottom int
}

// ClickableRegion links a page-local box to the source URL of a photo.
type ClickableRegion struct {
	PageIndex int        `json:"page_index"`
	Box       raster.Box `json:"box"`
	TargetURL string     `json:"target_url"`
}

type IndexEntry struct {
	Caption string `json:"caption"`
	URL     string `json:"url"`
}

// Document is the complete output of one export.
type Document struct {
	Title        string
	PageWidth    float64
	PageHeight   float64
	Scale        float64
	Pages        []Page
	Regions      []ClickableRegion
	IndexEntries []IndexEntry
	CreatedAt    time.Time

	indexTitle string
}

type Options struct {
	PageWidth  float64
	PageHeight float64
	Title      string
	IndexTitle string
	CreatedAt  time.Time
}

// Assemble paginates a captured surface and reprojects its anchors onto the
// pages. It either returns a complete Document or an error.
func Assemble(cs *raster.CapturedSurface, opts Options) (*Document, error) {
	if opts.PageWidth <= 0 || opts.PageHeight <= 0 || math.IsNaN(opts.PageWidth) || math.IsNaN(opts.PageHeight) {
		return nil, fmt.Errorf("%w: %vx%v", ErrInvalidPageSize, opts.PageWidth, opts.PageHeight)
	}
	if cs == nil || cs.Bitmap == nil || cs.Width <= 0 || cs.Height <= 0 {
		return nil, ErrEmptySurface
	}

	scale := Scale(cs.Width, opts.PageWidth)
	count := PageCount(float64(cs.Height)*scale, opts.PageHeight)

	doc := &Document{
		Title:      opts.Title,
		PageWidth:  opts.PageWidth,
		PageHeight: opts.PageHeight,
		Scale:      scale,
		Pages:      make([]Page, 0, count),
		CreatedAt:  opts.CreatedAt,
		indexTitle: opts.IndexTitle,
	}

	origin := cs.Bitmap.Bounds().Min
	for i := 0; i < count; i++ {
		top := sourceRow(i, opts.PageHeight, scale, cs.Height)
		bottom := sourceRow(i+1, opts.PageHeight, scale, cs.Height)
		rect := image.Rect(0, top, cs.Width, bottom).Add(origin)
		doc.Pages = append(doc.Pages, Page{
			Index:        i,
			Bitmap:       imaging.Crop(cs.Bitmap, rect),
			HeightOffset: float64(i) * opts.PageHeight,
			Height:       float64(bottom-top) * scale,
			SourceTop:    top,
			SourceBottom: bottom,
		})
	}

	for n, a := range cs.Anchors {
		pageIndex, box := Project(a.Box, scale, opts.PageHeight, count)
		doc.Regions = append(doc.Regions, ClickableRegion{
			PageIndex: pageIndex,
			Box:       box,
			TargetURL: a.SourceURL,
		})
		caption := a.Caption
		if caption == "" {
			caption = fmt.Sprintf("Photo %d", n+1)
		}
		doc.IndexEntries = append(doc.IndexEntries, IndexEntry{Caption: caption, URL: a.SourceURL})
	}

	log.WithFields(logrus.Fields{
		"scale":   scale,
		"pages":   count,
		"regions": len(doc.Regions),
	}).Debug("Document assembled")
	return doc, nil
}

// Scale is the uniform factor from surface pixels to page units.
func Scale(surfaceWidth int, pageWidth float64) float64 {
	return pageWidth / float64(surfaceWidth)
}

// PageCount returns ceil(scaledHeight / pageHeight), at least 1. A tolerance
// absorbs float error when the height is an exact multiple of the page.
func PageCount(scaledHeight, pageHeight float64) int {
	n := int(math.Ceil(scaledHeight/pageHeight - 1e-9))
	return max(n, 1)
}

// Project scales a surface box and attaches it to the page holding its top
// edge. Boxes crossing the bottom edge are not split.
func Project(b raster.Box, scale, pageHeight float64, pageCount int) (int, raster.Box) {
	scaled := raster.Box{
		X:      b.X * scale,
		Y:      b.Y * scale,
		Width:  b.Width * scale,
		Height: b.Height * scale,
	}
	pageIndex := int(math.Floor(scaled.Y / pageHeight))
	pageIndex = min(max(pageIndex, 0), pageCount-1)
	scaled.Y -= float64(pageIndex) * pageHeight
	return pageIndex, scaled
}

// sourceRow returns the first bitmap row of page i. Flooring keeps the last
// page non-empty.
func sourceRow(i int, pageHeight, scale float64, height int) int {
	row := int(math.Floor(float64(i) * pageHeight / scale))
	return min(row, height)
}

// RegionsOn returns the regions attached to page i.
func (d *Document) RegionsOn(i int) []ClickableRegion {
	var out []ClickableRegion
	for _, r := range d.Regions {
		if r.PageIndex == i {
			out = append(out, r)
		}
	}
	return out
}
