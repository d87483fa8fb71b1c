package acquire

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"report-export/internal/constants"
)

var log = logrus.New()

// Status reports how a resource was resolved.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusPlaceholder Status = "placeholder"
)

// Outcome is the result of a single strategy attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// Defaults applied to zero-valued Request and Config fields.
const (
	DefaultMaxAttempts       = 3
	DefaultPerAttemptTimeout = 10 * time.Second
	DefaultBaseDelay         = 1 * time.Second
	DefaultMaxBodyBytes      = 25 << 20
	DefaultPlaceholderWidth  = 400
	DefaultPlaceholderHeight = 300
	DefaultRelayRate         = 2.0
)

// DefaultRelayEndpoints are public image relays tried after the direct
// strategies, in priority order. "{url}" is replaced by the query-escaped
// source URL.
var DefaultRelayEndpoints = []string{
	"https://images.weserv.nl/?url={url}",
	"https://corsproxy.io/?url={url}",
	"https://api.allorigins.win/raw?url={url}",
}

// Request describes one remote image to resolve. It is created once per
// embedded image per export.
type Request struct {
	URL               string
	MaxAttempts       int
	PerAttemptTimeout time.Duration
}

func (r Request) withDefaults() Request {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.PerAttemptTimeout <= 0 {
		r.PerAttemptTimeout = DefaultPerAttemptTimeout
	}
	return r
}

// Attempt is one entry of a Result's attempts log.
type Attempt struct {
	Pass     int           `json:"pass"`
	Strategy string        `json:"strategy"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Err      string        `json:"error,omitempty"`
}

// Result is the outcome of resolving a Request. Callers must treat it as
// immutable; results may be shared between callers of the same Session.
type Result struct {
	URL      string
	Status   Status
	Data     []byte
	MIMEType string
	Attempts []Attempt
}

// DataURI returns the inline-encoded form of the bitmap.
func (r Result) DataURI() string {
	return "data:" + r.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// Degraded reports whether the bitmap is a placeholder.
func (r Result) Degraded() bool {
	return r.Status == StatusPlaceholder
}

// Config holds the Fetcher configuration.
type Config struct {
	// RelayEndpoints are URL templates containing "{url}". A nil slice selects
	// DefaultRelayEndpoints; an empty non-nil slice disables relays.
	RelayEndpoints []string

	// RelayRate is the number of requests per second allowed per relay.
	RelayRate float64

	// BaseDelay is the linear backoff unit between passes over the chain.
	BaseDelay time.Duration

	// MaxBodyBytes caps the size of a downloaded image.
	MaxBodyBytes int64

	// TransportRetries is the number of transport-level retries per strategy
	// attempt. Chain-level retries are driven by Request.MaxAttempts.
	TransportRetries int

	UserAgent string

	// BearerToken is sent only to photo URLs whose host is listed in
	// BearerHosts ("host" or "host:port"), never to relays.
	BearerToken string
	BearerHosts []string

	// Origin is sent as the Origin header of the direct strategy.
	Origin string

	PlaceholderWidth   int
	PlaceholderHeight  int
	PlaceholderCaption string

	// TempDir holds staged response bodies. Empty means os.TempDir().
	TempDir string

	// HTTPClient is the base client wrapped by the retrying client.
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.RelayEndpoints == nil {
		c.RelayEndpoints = DefaultRelayEndpoints
	}
	if c.RelayRate <= 0 {
		c.RelayRate = DefaultRelayRate
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = constants.DefaultUserAgent
	}
	if c.PlaceholderWidth <= 0 {
		c.PlaceholderWidth = DefaultPlaceholderWidth
	}
	if c.PlaceholderHeight <= 0 {
		c.PlaceholderHeight = DefaultPlaceholderHeight
	}
	if c.PlaceholderCaption == "" {
		c.PlaceholderCaption = constants.PlaceholderCaption
	}
	return c
}

// Fetcher resolves remote image references into inline bitmap bytes by
// walking an ordered chain of strategies.
type Fetcher struct {
	cfg        Config
	client     *retryablehttp.Client
	strategies []Strategy
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher and validates the relay endpoint templates.
func NewFetcher(config Config) (*Fetcher, error) {
	cfg := config.withDefaults()
	logger := log.WithFields(logrus.Fields{
		"relays":     len(cfg.RelayEndpoints),
		"base_delay": cfg.BaseDelay,
	})

	if cfg.BearerToken != "" && len(cfg.BearerHosts) == 0 {
		logger.Warn("Bearer token configured without bearer hosts; it will not be sent")
	}

	for _, endpoint := range cfg.RelayEndpoints {
		if !strings.Contains(endpoint, "{url}") {
			return nil, fmt.Errorf("relay endpoint %q has no {url} placeholder", endpoint)
		}
		if _, err := url.Parse(strings.ReplaceAll(endpoint, "{url}", "")); err != nil {
			return nil, fmt.Errorf("invalid relay endpoint %q: %w", endpoint, err)
		}
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport:     newHeaderTransport(transport, cfg.UserAgent),
		CheckRedirect: base.CheckRedirect,
		Jar:           base.Jar,
	}
	client.RetryMax = cfg.TransportRetries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = logger
	// Non-2xx responses are inspected by the strategies themselves.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	f := &Fetcher{
		cfg:    cfg,
		client: client,
		sleep:  sleepContext,
	}
	f.strategies = f.defaultStrategies()

	logger.WithField("strategies", f.StrategyNames()).Info("Initialized resource fetcher")
	return f, nil
}

// StrategyNames lists the chain in the order it is tried.
func (f *Fetcher) StrategyNames() []string {
	names := make([]string, len(f.strategies))
	for i, s := range f.strategies {
		names[i] = s.Name
	}
	return names
}

// Acquire resolves a single request with its own temporary handles. It never
// returns an error: total failure yields a placeholder Result.
func (f *Fetcher) Acquire(ctx context.Context, req Request) Result {
	handles := NewHandleSet(f.cfg.TempDir)
	defer func() {
		if err := handles.Close(); err != nil {
			log.WithError(err).Warn("Failed to release temporary handles")
		}
	}()
	return f.acquire(ctx, handles, req)
}

func (f *Fetcher) acquire(ctx context.Context, handles *HandleSet, req Request) Result {
	req = req.withDefaults()
	logger := log.WithFields(logrus.Fields{
		"url":          req.URL,
		"max_attempts": req.MaxAttempts,
	})

	var attempts []Attempt
	for pass := 1; pass <= req.MaxAttempts; pass++ {
		for _, s := range f.strategies {
			if ctx.Err() != nil {
				break
			}
			data, attempt := f.try(ctx, handles, s, req, pass)
			attempts = append(attempts, attempt)
			if attempt.Outcome != OutcomeSuccess {
				continue
			}
			logger.WithFields(logrus.Fields{
				"strategy": s.Name,
				"attempts": len(attempts),
				"bytes":    len(data),
			}).Debug("Resource acquired")
			return Result{
				URL:      req.URL,
				Status:   StatusSuccess,
				Data:     data,
				MIMEType: mimetype.Detect(data).String(),
				Attempts: attempts,
			}
		}

		if pass == req.MaxAttempts || ctx.Err() != nil {
			break
		}
		delay := time.Duration(pass) * f.cfg.BaseDelay
		logger.WithFields(logrus.Fields{"pass": pass, "delay": delay}).Debug("Strategy chain exhausted, backing off")
		if err := f.sleep(ctx, delay); err != nil {
			break
		}
	}

	logger.WithField("attempts", len(attempts)).Warn("All strategies failed, substituting placeholder")
	return f.placeholderResult(req.URL, attempts)
}

type strategyOutput struct {
	data []byte
	err  error
}

// try runs one strategy against the per-attempt timeout. The strategy runs in
// its own goroutine so a strategy that ignores its context still loses the race.
func (f *Fetcher) try(ctx context.Context, handles *HandleSet, s Strategy, req Request, pass int) ([]byte, Attempt) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.PerAttemptTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan strategyOutput, 1)
	go func() {
		data, err := s.Run(attemptCtx, handles, req.URL)
		if err == nil {
			data, err = normalize(data)
		}
		done <- strategyOutput{data: data, err: err}
	}()

	var out strategyOutput
	select {
	case out = <-done:
	case <-attemptCtx.Done():
		out.err = attemptCtx.Err()
	}

	attempt := Attempt{
		Pass:     pass,
		Strategy: s.Name,
		Duration: time.Since(start),
		Outcome:  OutcomeSuccess,
	}
	if out.err != nil {
		attempt.Outcome = OutcomeError
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			attempt.Outcome = OutcomeTimeout
		}
		attempt.Err = out.err.Error()
	}

	log.WithFields(logrus.Fields{
		"url":      req.URL,
		"pass":     pass,
		"strategy": s.Name,
		"outcome":  attempt.Outcome,
		"duration": attempt.Duration,
	}).Debug("Strategy attempt finished")

	return out.data, attempt
}

func (f *Fetcher) placeholderResult(rawURL string, attempts []Attempt) Result {
	data, err := Placeholder(f.cfg.PlaceholderWidth, f.cfg.PlaceholderHeight, f.cfg.PlaceholderCaption)
	if err != nil {
		log.WithError(err).Error("Failed to encode placeholder")
	}
	return Result{
		URL:      rawURL,
		Status:   StatusPlaceholder,
		Data:     data,
		MIMEType: "image/png",
		Attempts: attempts,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetLogLevel sets the logging level for the acquire package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}
