package raster

import (
	"context"
	"image"

	"report-export/acquire"
)

// Host loads a surface into a rendering environment. It is the only part of
// the pipeline that depends on a concrete renderer.
type Host interface {
	Load(ctx context.Context, surface Surface) (View, error)
}

// View is a loaded surface. Methods are called from one goroutine at a time.
type View interface {
	// SetWidth lays the surface out at width pixels and returns a function
	// restoring the previous width.
	SetWidth(ctx context.Context, width int) (restore func() error, err error)

	// ResolveImage replaces the image with the given anchor id by the
	// acquired bitmap.
	ResolveImage(ctx context.Context, id string, result acquire.Result) error

	// Snapshot renders the full surface, without height limit.
	Snapshot(ctx context.Context) (image.Image, error)

	// Measure returns the bounding box of every image element in the same
	// coordinate space as Snapshot.
	Measure(ctx context.Context) ([]Element, error)

	Close() error
}

// Element is a measured image element.
type Element struct {
	ID        string `json:"id"`
	SourceURL string `json:"src"`
	Caption   string `json:"alt"`
	Box       Box    `json:"box"`
}
