package main

import (
	"errors"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
)

// exportFlags holds all flags of the export command.
type exportFlags struct {
	output      string
	html        string
	backend     string
	chromePath  string
	origin      string
	pageWidth   float64
	pageHeight  float64
	maxAttempts int
	timeout     time.Duration
	settle      time.Duration
	relays      []string
	noRelays    bool
	bearer      string
	bearerHosts []string
	fileName    string
	indexTitle  string
	previewPage int
	previewDPI  float64
	verbose     bool
	quiet       bool
}

func newFlagSet(f *exportFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("report-export", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: report-export [flags] <report.yaml|report.json>\n\n")
		fs.PrintDefaults()
	}

	fs.StringVarP(&f.output, "output", "o", "", "output PDF path (default: generated file name)")
	fs.StringVar(&f.html, "html", "", "render this HTML file instead of the report body")
	fs.StringVar(&f.backend, "backend", "native", "capture backend: native, rod or chromedp")
	fs.StringVar(&f.chromePath, "chrome-path", "", "browser binary for the chromedp backend")
	fs.StringVar(&f.origin, "origin", "", "origin the surface is served from")
	fs.Float64Var(&f.pageWidth, "page-width", 0, "page width in points (default 595)")
	fs.Float64Var(&f.pageHeight, "page-height", 0, "page height in points (default 842)")
	fs.IntVar(&f.maxAttempts, "max-attempts", 0, "acquisition passes per photo (default 3)")
	fs.DurationVar(&f.timeout, "timeout", 0, "timeout per acquisition attempt (default 10s)")
	fs.DurationVar(&f.settle, "settle", 0, "delay between photo resolution and capture (default 500ms)")
	fs.StringSliceVar(&f.relays, "relay", nil, "relay endpoint containing {url}; repeatable")
	fs.BoolVar(&f.noRelays, "no-relays", false, "disable relay strategies")
	fs.StringVar(&f.bearer, "bearer", "", "bearer token sent to --bearer-host photo hosts")
	fs.StringSliceVar(&f.bearerHosts, "bearer-host", nil, "host that receives the bearer token; repeatable")
	fs.StringVar(&f.fileName, "file-name", "", "file name template")
	fs.StringVar(&f.indexTitle, "index-title", "", "title of the photo index page")
	fs.IntVar(&f.previewPage, "preview-page", 0, "also write a PNG preview of this page (1-based)")
	fs.Float64Var(&f.previewDPI, "preview-dpi", 96, "resolution of the page preview")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show progress and attempt details")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	return fs
}

// parseFlags parses args (without the program name) and returns the flags
// and the report path.
func parseFlags(args []string) (*exportFlags, string, error) {
	f := &exportFlags{}
	fs := newFlagSet(f)
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", errors.New("expected exactly one report file")
	}
	if f.verbose && f.quiet {
		return nil, "", errors.New("--verbose and --quiet are mutually exclusive")
	}
	if f.noRelays && len(f.relays) > 0 {
		return nil, "", errors.New("--relay and --no-relays are mutually exclusive")
	}
	if f.bearer != "" && len(f.bearerHosts) == 0 {
		return nil, "", errors.New("--bearer requires at least one --bearer-host")
	}
	if f.previewPage < 0 {
		return nil, "", fmt.Errorf("invalid --preview-page %d", f.previewPage)
	}
	switch f.backend {
	case "native", "rod", "chromedp":
	default:
		return nil, "", fmt.Errorf("unsupported backend %q", f.backend)
	}
	return f, fs.Arg(0), nil
}
