package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"report-export/acquire"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the raster package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

const (
	// DefaultNominalWidth is an A4 page width at 96 dpi, in CSS pixels.
	DefaultNominalWidth = 794
	DefaultSettleDelay  = 500 * time.Millisecond
	DefaultConcurrency  = 6
)

var (
	ErrLoad     = errors.New("failed to load surface")
	ErrWidth    = errors.New("failed to force surface width")
	ErrSnapshot = errors.New("failed to snapshot surface")
	ErrMeasure  = errors.New("failed to measure surface")
)

// Box is an axis-aligned rectangle. Units depend on context: surface pixels
// for anchors, points for page-local regions.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns Width*Height, or zero for degenerate boxes.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Clip returns the part of b inside [0,width]x[0,height].
func (b Box) Clip(width, height float64) Box {
	x0, y0 := max(b.X, 0), max(b.Y, 0)
	x1, y1 := min(b.X+b.Width, width), min(b.Y+b.Height, height)
	if x1 <= x0 || y1 <= y0 {
		return Box{X: x0, Y: y0}
	}
	return Box{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Anchor is an embedded photograph measured at capture time.
type Anchor struct {
	ID        string `json:"id"`
	SourceURL string `json:"source_url"`
	Caption   string `json:"caption"`
	Box       Box    `json:"box"`
	Degraded  bool   `json:"degraded"`
}

// CapturedSurface is the single snapshot taken by an export. It is not
// modified after Rasterize returns.
type CapturedSurface struct {
	Bitmap       image.Image
	Width        int
	Height       int
	Anchors      []Anchor
	Acquisitions []acquire.Result
}

// Acquirer resolves one remote image. acquire.Fetcher and acquire.Session
// both satisfy it.
type Acquirer interface {
	Acquire(ctx context.Context, req acquire.Request) acquire.Result
}

type Phase string

const (
	PhaseAcquiring Phase = "acquiring"
	PhaseCapturing Phase = "capturing"
)

// Hooks receive progress callbacks. Either field may be nil.
type Hooks struct {
	OnPhase    func(Phase)
	OnResolved func(img Image, result acquire.Result, done, total int)
}

func (h Hooks) phase(p Phase) {
	if h.OnPhase != nil {
		h.OnPhase(p)
	}
}

type Config struct {
	NominalWidth      int
	SettleDelay       time.Duration
	Concurrency       int
	MaxAttempts       int
	PerAttemptTimeout time.Duration
}

// Rasterizer drives a Host through the capture sequence.
type Rasterizer struct {
	host  Host
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

func New(host Host, cfg Config) *Rasterizer {
	if cfg.NominalWidth <= 0 {
		cfg.NominalWidth = DefaultNominalWidth
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Rasterizer{host: host, cfg: cfg, sleep: sleepContext}
}

// Rasterize loads the surface, forces the nominal width, resolves every
// cross-origin image through acq, waits for all of them plus the settle delay,
// then snapshots and measures in one step before the width is restored.
// Photo failures never fail the capture; host failures always do.
func (r *Rasterizer) Rasterize(ctx context.Context, surface Surface, acq Acquirer, hooks Hooks) (*CapturedSurface, error) {
	logger := log.WithFields(logrus.Fields{
		"images": len(surface.Images),
		"width":  r.cfg.NominalWidth,
	})

	view, err := r.host.Load(ctx, surface)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoad, err)
	}
	defer func() {
		if err := view.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close view")
		}
	}()

	restore, err := view.SetWidth(ctx, r.cfg.NominalWidth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWidth, err)
	}
	restored := false
	restoreWidth := func() {
		if restored {
			return
		}
		restored = true
		if err := restore(); err != nil {
			logger.WithError(err).Warn("Failed to restore surface width")
		}
	}
	defer restoreWidth()

	hooks.phase(PhaseAcquiring)
	results := r.acquireAll(ctx, view, surface.CrossOriginImages(), acq, hooks)

	hooks.phase(PhaseCapturing)
	if err := r.sleep(ctx, r.cfg.SettleDelay); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
	}

	bitmap, err := view.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshot, err)
	}
	elements, err := view.Measure(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMeasure, err)
	}
	restoreWidth()

	bounds := bitmap.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty bitmap %v", ErrSnapshot, bounds)
	}

	degraded := make(map[string]bool, len(results))
	for _, res := range results {
		if res.Degraded() {
			degraded[res.URL] = true
		}
	}
	anchors := buildAnchors(elements, surface, float64(bounds.Dx()), float64(bounds.Dy()), degraded)

	logger.WithFields(logrus.Fields{
		"height":  bounds.Dy(),
		"anchors": len(anchors),
	}).Info("Surface captured")

	return &CapturedSurface{
		Bitmap:       bitmap,
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		Anchors:      anchors,
		Acquisitions: results,
	}, nil
}

// acquireAll is the capture barrier: it returns only after every acquisition
// has settled, successfully or as a placeholder.
func (r *Rasterizer) acquireAll(ctx context.Context, view View, images []Image, acq Acquirer, hooks Hooks) []acquire.Result {
	results := make([]acquire.Result, len(images))
	if len(images) == 0 {
		return results
	}

	var (
		mu   sync.Mutex
		done int
	)
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)
	for i, img := range images {
		g.Go(func() error {
			result := acq.Acquire(ctx, acquire.Request{
				URL:               img.SourceURL,
				MaxAttempts:       r.cfg.MaxAttempts,
				PerAttemptTimeout: r.cfg.PerAttemptTimeout,
			})
			results[i] = result

			// Views are not safe for concurrent mutation.
			mu.Lock()
			defer mu.Unlock()
			if err := view.ResolveImage(ctx, img.ID, result); err != nil {
				log.WithFields(logrus.Fields{
					"id":  img.ID,
					"url": img.SourceURL,
				}).WithError(err).Warn("Failed to resolve image into view")
			}
			done++
			if hooks.OnResolved != nil {
				hooks.OnResolved(img, result, done, len(images))
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func buildAnchors(elements []Element, surface Surface, width, height float64, degraded map[string]bool) []Anchor {
	captions := make(map[string]string, len(surface.Images))
	sources := make(map[string]string, len(surface.Images))
	for _, img := range surface.Images {
		captions[img.ID] = img.Alt
		sources[img.ID] = img.SourceURL
	}

	anchors := make([]Anchor, 0, len(elements))
	for _, el := range elements {
		if el.SourceURL == "" {
			continue
		}
		box := el.Box.Clip(width, height)
		if el.Box.Area() == 0 || box.Area() == 0 {
			log.WithField("id", el.ID).Debug("Skipping image with zero area")
			continue
		}
		caption := el.Caption
		if caption == "" {
			caption = captions[el.ID]
		}
		source := el.SourceURL
		if u := sources[el.ID]; u != "" {
			source = u
		}
		anchors = append(anchors, Anchor{
			ID:        el.ID,
			SourceURL: source,
			Caption:   caption,
			Box:       box,
			Degraded:  degraded[source],
		})
	}
	return anchors
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
