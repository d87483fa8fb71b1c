package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/disintegration/imaging"

	"report-export/acquire"
)

// ChromedpHost captures surfaces in a headless Chrome started through
// chromedp. The browser is started on first use and reused across loads.
type ChromedpHost struct {
	ExecPath  string
	NoSandbox bool
	Timeout   time.Duration

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func (h *ChromedpHost) start() (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.browserCtx != nil {
		return h.browserCtx, nil
	}

	allocOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("no-first-run", true),
	)
	if h.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(h.ExecPath))
	}
	if h.NoSandbox {
		allocOpts = append(allocOpts, chromedp.Flag("no-sandbox", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser eagerly so errors surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: %v", ErrBrowserConnect, err)
	}

	h.allocCancel = allocCancel
	h.browserCtx = browserCtx
	h.browserCancel = browserCancel
	return browserCtx, nil
}

// Close stops the browser. Close is idempotent.
func (h *ChromedpHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.browserCtx == nil {
		return nil
	}
	h.browserCancel()
	h.allocCancel()
	h.browserCtx = nil
	return nil
}

func (h *ChromedpHost) Load(ctx context.Context, surface Surface) (View, error) {
	browserCtx, err := h.start()
	if err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	v := &chromedpView{ctx: tabCtx, cancel: tabCancel}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = defaultBrowserTimeout
	}
	loadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := v.run(loadCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, surface.HTML).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		tabCancel()
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	return v, nil
}

type chromedpView struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab; cancelling ctx tears the tab down.
func (v *chromedpView) run(ctx context.Context, actions ...chromedp.Action) error {
	stop := context.AfterFunc(ctx, v.cancel)
	defer stop()
	return chromedp.Run(v.ctx, actions...)
}

func evaluate(fn string, res any, args ...any) (chromedp.Action, error) {
	expr, err := jsCall(fn, args...)
	if err != nil {
		return nil, err
	}
	return chromedp.Evaluate(expr, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}), nil
}

func (v *chromedpView) SetWidth(ctx context.Context, width int) (func() error, error) {
	var previous string
	getWidth, err := evaluate(jsGetWidth, &previous)
	if err != nil {
		return nil, err
	}
	var ok bool
	setWidth, err := evaluate(jsSetWidth, &ok, strconv.Itoa(width)+"px")
	if err != nil {
		return nil, err
	}
	if err := v.run(ctx,
		getWidth,
		chromedp.EmulateViewport(int64(width), viewportHeight),
		setWidth,
	); err != nil {
		return nil, fmt.Errorf("error setting surface width: %w", err)
	}

	return func() error {
		reset, err := evaluate(jsSetWidth, &ok, previous)
		if err != nil {
			return err
		}
		if err := chromedp.Run(v.ctx, reset, emulation.ClearDeviceMetricsOverride()); err != nil {
			return fmt.Errorf("error restoring surface width: %w", err)
		}
		return nil
	}, nil
}

func (v *chromedpView) ResolveImage(ctx context.Context, id string, result acquire.Result) error {
	var loaded bool
	action, err := evaluate(jsResolveImage, &loaded, id, result.DataURI())
	if err != nil {
		return err
	}
	if err := v.run(ctx, action); err != nil {
		return fmt.Errorf("error resolving image %s: %w", id, err)
	}
	return nil
}

func (v *chromedpView) Snapshot(ctx context.Context) (image.Image, error) {
	var buf []byte
	if err := v.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("error taking screenshot: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("error decoding screenshot: %w", err)
	}
	return img, nil
}

func (v *chromedpView) Measure(ctx context.Context) ([]Element, error) {
	var elements []Element
	action, err := evaluate(jsMeasure, &elements)
	if err != nil {
		return nil, err
	}
	if err := v.run(ctx, action); err != nil {
		return nil, fmt.Errorf("error measuring images: %w", err)
	}
	return elements, nil
}

func (v *chromedpView) Close() error {
	v.cancel()
	return nil
}
