package export

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"report-export/acquire"
	"report-export/assemble"
	"report-export/raster"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the export package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// State is the position of one export in the pipeline.
type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateCapturing  State = "capturing"
	StateAssembling State = "assembling"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

// ErrExportFailed matches every fatal export error.
var ErrExportFailed = errors.New("export failed")

// ExportError is returned when capture or assembly fails. Photo failures
// never produce one.
type ExportError struct {
	Stage State
	Err   error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export failed while %s: %v", e.Stage, e.Err)
}

func (e *ExportError) Unwrap() []error {
	return []error{ErrExportFailed, e.Err}
}

type Options struct {
	PageWidth         float64       `json:"page_width" yaml:"page_width"`
	PageHeight        float64       `json:"page_height" yaml:"page_height"`
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	PerAttemptTimeout time.Duration `json:"per_attempt_timeout" yaml:"per_attempt_timeout"`
	SettleDelay       time.Duration `json:"settle_delay" yaml:"settle_delay"`
	NominalWidth      int           `json:"nominal_width,omitempty" yaml:"nominal_width,omitempty"`
	Concurrency       int           `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Origin            string        `json:"origin,omitempty" yaml:"origin,omitempty"`
	FileNameTemplate  string        `json:"file_name_template,omitempty" yaml:"file_name_template,omitempty"`
	IndexTitle        string        `json:"index_title,omitempty" yaml:"index_title,omitempty"`
}

func DefaultOptions() Options {
	return Options{
		PageWidth:         assemble.DefaultPageWidth,
		PageHeight:        assemble.DefaultPageHeight,
		MaxAttempts:       acquire.DefaultMaxAttempts,
		PerAttemptTimeout: acquire.DefaultPerAttemptTimeout,
		SettleDelay:       raster.DefaultSettleDelay,
		NominalWidth:      raster.DefaultNominalWidth,
		Concurrency:       raster.DefaultConcurrency,
		FileNameTemplate:  DefaultFileNameTemplate,
		IndexTitle:        assemble.DefaultIndexTitle,
	}
}

// WithDefaults fills zero fields. Negative page dimensions are kept so that
// Assemble rejects them.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.PageWidth == 0 {
		o.PageWidth = d.PageWidth
	}
	if o.PageHeight == 0 {
		o.PageHeight = d.PageHeight
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.PerAttemptTimeout <= 0 {
		o.PerAttemptTimeout = d.PerAttemptTimeout
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = d.SettleDelay
	}
	if o.NominalWidth <= 0 {
		o.NominalWidth = d.NominalWidth
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.FileNameTemplate == "" {
		o.FileNameTemplate = d.FileNameTemplate
	}
	if o.IndexTitle == "" {
		o.IndexTitle = d.IndexTitle
	}
	return o
}

// Input is what an export renders. When HTML is set it is used as the surface
// markup instead of rendering Report; Report still supplies the metadata.
type Input struct {
	Report raster.Report
	HTML   string
}

// Progress is reported on every state change and resolved photo.
type Progress struct {
	State       State `json:"state"`
	PhotosDone  int   `json:"photos_done"`
	PhotosTotal int   `json:"photos_total"`
}

type Observer func(Progress)

type Result struct {
	Document *assemble.Document
	PDF      []byte
	FileName string
	Photos   int
	Degraded int
	Pages    int
	Duration time.Duration
}

// Exporter runs export pipelines. A single Exporter may run any number of
// exports concurrently; they share no mutable state.
type Exporter struct {
	fetcher *acquire.Fetcher
	host    raster.Host
}

func New(fetcher *acquire.Fetcher, host raster.Host) *Exporter {
	return &Exporter{fetcher: fetcher, host: host}
}

type tracker struct {
	mu       sync.Mutex
	progress Progress
	observe  Observer
}

func (t *tracker) update(fn func(p *Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.progress)
	if t.observe != nil {
		t.observe(t.progress)
	}
}

func (t *tracker) state() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress.State
}

// Export runs one pipeline to completion. It returns either a complete
// Result or an *ExportError, never both.
func (e *Exporter) Export(ctx context.Context, in Input, opts Options, observe Observer) (res *Result, err error) {
	opts = opts.WithDefaults()
	start := time.Now()
	logger := log.WithFields(logrus.Fields{
		"project": in.Report.ProjectName,
		"title":   in.Report.Title,
	})

	t := &tracker{observe: observe}
	t.update(func(p *Progress) { p.State = StateIdle })

	fail := func(stage State, cause error) (*Result, error) {
		t.update(func(p *Progress) { p.State = StateFailed })
		logger.WithField("stage", stage).WithError(cause).Error("Export failed")
		return nil, &ExportError{Stage: stage, Err: cause}
	}
	defer func() {
		if r := recover(); r != nil {
			res, err = fail(failureStage(t.state()), fmt.Errorf("panic: %v", r))
		}
	}()

	surface, err := e.surface(in, opts)
	if err != nil {
		return fail(StateCapturing, err)
	}

	session := e.fetcher.NewSession()
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release temporary handles")
		}
	}()

	rasterizer := raster.New(e.host, raster.Config{
		NominalWidth:      opts.NominalWidth,
		SettleDelay:       max(opts.SettleDelay, 0),
		Concurrency:       opts.Concurrency,
		MaxAttempts:       opts.MaxAttempts,
		PerAttemptTimeout: opts.PerAttemptTimeout,
	})
	total := len(surface.CrossOriginImages())
	hooks := raster.Hooks{
		OnPhase: func(phase raster.Phase) {
			t.update(func(p *Progress) {
				p.PhotosTotal = total
				switch phase {
				case raster.PhaseAcquiring:
					p.State = StateAcquiring
				case raster.PhaseCapturing:
					p.State = StateCapturing
				}
			})
		},
		OnResolved: func(img raster.Image, result acquire.Result, done, total int) {
			t.update(func(p *Progress) { p.PhotosDone = done })
		},
	}

	captured, err := rasterizer.Rasterize(ctx, surface, session, hooks)
	if err != nil {
		return fail(StateCapturing, err)
	}

	t.update(func(p *Progress) { p.State = StateAssembling })
	doc, err := assemble.Assemble(captured, assemble.Options{
		PageWidth:  opts.PageWidth,
		PageHeight: opts.PageHeight,
		Title:      in.Report.Title,
		IndexTitle: opts.IndexTitle,
		CreatedAt:  createdAt(in.Report),
	})
	if err != nil {
		return fail(StateAssembling, err)
	}
	pdf, err := doc.PDF()
	if err != nil {
		return fail(StateAssembling, err)
	}
	pages, err := assemble.CountPages(pdf)
	if err != nil {
		return fail(StateAssembling, err)
	}
	fileName, err := FileName(in.Report, opts.FileNameTemplate)
	if err != nil {
		return fail(StateAssembling, err)
	}

	res = &Result{
		Document: doc,
		PDF:      pdf,
		FileName: fileName,
		Photos:   len(captured.Acquisitions),
		Pages:    pages,
		Duration: time.Since(start),
	}
	for _, a := range captured.Acquisitions {
		if a.Degraded() {
			res.Degraded++
		}
	}

	t.update(func(p *Progress) { p.State = StateReady })
	logger.WithFields(logrus.Fields{
		"photos":   res.Photos,
		"degraded": res.Degraded,
		"pages":    res.Pages,
		"duration": res.Duration,
	}).Info("Export ready")
	return res, nil
}

func (e *Exporter) surface(in Input, opts Options) (raster.Surface, error) {
	if in.HTML != "" {
		return raster.SurfaceFromHTML(in.HTML, opts.Origin)
	}
	return raster.BuildSurface(in.Report, opts.Origin)
}

// failureStage maps the state at the time of a fault onto the two fatal
// categories.
func failureStage(s State) State {
	if s == StateAssembling || s == StateReady {
		return StateAssembling
	}
	return StateCapturing
}

// createdAt pins the document date to the report date so identical input
// produces an identical file.
func createdAt(r raster.Report) time.Time {
	if r.Date.IsZero() {
		return time.Now().UTC().Truncate(time.Second)
	}
	return r.Date
}
