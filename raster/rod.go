package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"report-export/acquire"
)

var (
	ErrBrowserConnect = errors.New("failed to connect to browser")
	ErrPageCreate     = errors.New("failed to create browser page")
)

const defaultBrowserTimeout = 30 * time.Second

// viewportHeight is the initial viewport height; full-page screenshots are not
// limited by it.
const viewportHeight = 1024

// RodHost captures surfaces in headless Chrome driven by go-rod. Rod
// downloads Chromium on first use when no binary is configured.
type RodHost struct {
	BinPath   string
	NoSandbox bool
	Timeout   time.Duration

	mu      sync.Mutex
	browser *rod.Browser
}

// NewRodHost configures a RodHost from ROD_BROWSER_BIN and CI, the same
// variables the rod launcher honors.
func NewRodHost(timeout time.Duration) *RodHost {
	bin := os.Getenv("ROD_BROWSER_BIN")
	return &RodHost{
		BinPath:   bin,
		NoSandbox: os.Getenv("CI") == "true" || bin != "",
		Timeout:   timeout,
	}
}

// ensureBrowser lazily connects to the browser.
func (h *RodHost) ensureBrowser() (*rod.Browser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.browser != nil {
		return h.browser, nil
	}

	l := launcher.New()
	if h.BinPath != "" {
		l = l.Bin(h.BinPath)
	}
	if h.NoSandbox {
		l = l.NoSandbox(true)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}
	h.browser = browser
	return browser, nil
}

// Close releases browser resources.
func (h *RodHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.browser != nil {
		err := h.browser.Close()
		h.browser = nil
		return err
	}
	return nil
}

func (h *RodHost) Load(ctx context.Context, surface Surface) (View, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	browser, err := h.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultBrowserTimeout
	}
	p := page.Context(ctx)
	if err := p.SetDocumentContent(surface.HTML); err != nil {
		page.Close()
		return nil, fmt.Errorf("error setting document content: %w", err)
	}
	if err := p.Timeout(timeout).WaitLoad(); err != nil {
		page.Close()
		return nil, fmt.Errorf("error waiting for page load: %w", err)
	}
	return &rodView{page: page}, nil
}

type rodView struct {
	page *rod.Page
}

func (v *rodView) SetWidth(ctx context.Context, width int) (func() error, error) {
	p := v.page.Context(ctx)
	prev, err := p.Eval(jsGetWidth)
	if err != nil {
		return nil, fmt.Errorf("error reading surface width: %w", err)
	}
	if err := p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return nil, fmt.Errorf("error setting viewport: %w", err)
	}
	if _, err := p.Eval(jsSetWidth, strconv.Itoa(width)+"px"); err != nil {
		return nil, fmt.Errorf("error setting surface width: %w", err)
	}

	previous := prev.Value.Str()
	return func() error {
		if _, err := v.page.Eval(jsSetWidth, previous); err != nil {
			return fmt.Errorf("error restoring surface width: %w", err)
		}
		return v.page.SetViewport(nil)
	}, nil
}

func (v *rodView) ResolveImage(ctx context.Context, id string, result acquire.Result) error {
	if _, err := v.page.Context(ctx).Eval(jsResolveImage, id, result.DataURI()); err != nil {
		return fmt.Errorf("error resolving image %s: %w", id, err)
	}
	return nil
}

func (v *rodView) Snapshot(ctx context.Context) (image.Image, error) {
	data, err := v.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("error taking screenshot: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding screenshot: %w", err)
	}
	return img, nil
}

func (v *rodView) Measure(ctx context.Context) ([]Element, error) {
	res, err := v.page.Context(ctx).Eval(jsMeasure)
	if err != nil {
		return nil, fmt.Errorf("error measuring images: %w", err)
	}
	var elements []Element
	if err := res.Value.Unmarshal(&elements); err != nil {
		return nil, fmt.Errorf("error decoding measurements: %w", err)
	}
	return elements, nil
}

func (v *rodView) Close() error {
	return v.page.Close()
}
