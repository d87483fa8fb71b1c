package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	_ "golang.org/x/image/webp"
)

// Strategy is one way of obtaining a remote image's bytes. Run must honor ctx;
// the Fetcher enforces the per-attempt timeout through it.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, handles *HandleSet, rawURL string) ([]byte, error)
}

var (
	errNotImage     = errors.New("response is not an image")
	errBodyTooLarge = errors.New("response body exceeds size limit")
)

// defaultStrategies builds the chain: a CORS-style direct request, a plain
// request whose body is decoded and re-encoded locally, then one strategy per
// relay endpoint in configuration order.
func (f *Fetcher) defaultStrategies() []Strategy {
	chain := []Strategy{
		{Name: "direct", Run: f.fetchDirect},
		{Name: "reencode", Run: f.fetchReencoded},
	}
	for _, endpoint := range f.cfg.RelayEndpoints {
		chain = append(chain, f.relayStrategy(endpoint))
	}
	return chain
}

func (f *Fetcher) fetchDirect(ctx context.Context, handles *HandleSet, rawURL string) ([]byte, error) {
	header := http.Header{}
	header.Set("Accept", "image/*")
	header.Set("Sec-Fetch-Mode", "cors")
	if f.cfg.Origin != "" {
		header.Set("Origin", f.cfg.Origin)
	}
	if auth := f.bearerFor(rawURL); auth != "" {
		header.Set("Authorization", auth)
	}

	data, contentType, err := f.get(ctx, handles, rawURL, header)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(contentType, "image/") || !isImage(data) {
		return nil, fmt.Errorf("%w: content type %q", errNotImage, contentType)
	}
	return data, nil
}

func (f *Fetcher) fetchReencoded(ctx context.Context, handles *HandleSet, rawURL string) ([]byte, error) {
	header := http.Header{}
	header.Set("Accept", "*/*")
	if auth := f.bearerFor(rawURL); auth != "" {
		header.Set("Authorization", auth)
	}

	data, _, err := f.get(ctx, handles, rawURL, header)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("error re-encoding image: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *Fetcher) relayStrategy(endpoint string) Strategy {
	limiter := rate.NewLimiter(rate.Limit(f.cfg.RelayRate), 1)
	return Strategy{
		Name: "relay:" + relayHost(endpoint),
		Run: func(ctx context.Context, handles *HandleSet, rawURL string) ([]byte, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("relay rate limiter wait failed: %w", err)
			}
			target := strings.ReplaceAll(endpoint, "{url}", url.QueryEscape(rawURL))
			data, contentType, err := f.get(ctx, handles, target, nil)
			if err != nil {
				return nil, err
			}
			if !isImage(data) {
				return nil, fmt.Errorf("%w: relay returned %q", errNotImage, contentType)
			}
			return data, nil
		},
	}
}

// get performs a GET and stages the body through a temporary handle, which is
// released as soon as the bytes have been read back.
func (f *Fetcher) get(ctx context.Context, handles *HandleSet, target string, header http.Header) ([]byte, string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("error creating request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("error fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, target)
	}

	h, err := handles.Create()
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err := h.Release(); err != nil {
			log.WithError(err).Warn("Failed to release temporary handle")
		}
	}()

	n, err := io.Copy(h, io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("error reading response body: %w", err)
	}
	if n > f.cfg.MaxBodyBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", errBodyTooLarge, f.cfg.MaxBodyBytes)
	}
	if n == 0 {
		return nil, "", fmt.Errorf("empty response body from %s", target)
	}

	data, err := h.Bytes()
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// normalize keeps PNG, JPEG and GIF as they are and converts any other
// decodable image to PNG, so every successful result embeds in a page.
func normalize(data []byte) ([]byte, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/png"), mt.Is("image/jpeg"), mt.Is("image/gif"):
		return data, nil
	case !strings.HasPrefix(mt.String(), "image/"):
		return nil, fmt.Errorf("%w: detected %s", errNotImage, mt.String())
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding %s image: %w", mt.String(), err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("error encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

func isImage(data []byte) bool {
	return strings.HasPrefix(mimetype.Detect(data).String(), "image/")
}

func relayHost(endpoint string) string {
	u, err := url.Parse(strings.ReplaceAll(endpoint, "{url}", ""))
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}
