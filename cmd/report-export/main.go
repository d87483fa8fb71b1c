package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"
	"go.uber.org/automaxprocs/maxprocs"

	"report-export/acquire"
	"report-export/assemble"
	"report-export/export"
	"report-export/raster"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
)

func main() {
	flags, reportPath, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(2)
	}

	if flags.verbose {
		_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}))
	} else {
		_, _ = maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {}))
	}

	level := logrus.WarnLevel
	switch {
	case flags.verbose:
		level = logrus.DebugLevel
	case flags.quiet:
		level = logrus.ErrorLevel
	}
	acquire.SetLogLevel(level)
	raster.SetLogLevel(level)
	assemble.SetLogLevel(level)
	export.SetLogLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags, reportPath); err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

func run(ctx context.Context, flags *exportFlags, reportPath string) error {
	report, err := loadReport(reportPath)
	if err != nil {
		return err
	}
	in := export.Input{Report: report}
	if flags.html != "" {
		markup, err := os.ReadFile(flags.html)
		if err != nil {
			return fmt.Errorf("reading html: %w", err)
		}
		in.HTML = string(markup)
	}

	fetcher, err := acquire.NewFetcher(fetcherConfig(flags))
	if err != nil {
		return err
	}
	host, closeHost := captureHost(flags)
	defer func() {
		if err := closeHost(); err != nil {
			fmt.Fprintln(os.Stderr, yellow("warning:"), "closing browser:", err)
		}
	}()

	var observe export.Observer
	if flags.verbose {
		observe = func(p export.Progress) {
			fmt.Fprintf(os.Stderr, "%-10s %d/%d photos\n", p.State, p.PhotosDone, p.PhotosTotal)
		}
	}

	res, err := export.New(fetcher, host).Export(ctx, in, exportOptions(flags), observe)
	if err != nil {
		return err
	}

	output := flags.output
	if output == "" {
		output = res.FileName
	}
	if err := os.WriteFile(output, res.PDF, 0644); err != nil {
		return fmt.Errorf("writing pdf: %w", err)
	}

	if flags.previewPage > 0 {
		if err := writePreview(res.PDF, output, flags.previewPage, flags.previewDPI); err != nil {
			return err
		}
	}

	if !flags.quiet {
		fmt.Printf("%s %s (%d pages, %d photos", green("wrote"), output, res.Pages, res.Photos)
		if res.Degraded > 0 {
			fmt.Printf(", %s", yellow(fmt.Sprintf("%d unavailable", res.Degraded)))
		}
		fmt.Printf(") in %s\n", res.Duration.Round(time.Millisecond))
	}
	return nil
}

// loadReport reads a report from YAML or JSON. YAML is a superset of JSON so
// one decoder serves both.
func loadReport(path string) (raster.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return raster.Report{}, fmt.Errorf("reading report: %w", err)
	}
	var report raster.Report
	if err := yaml.Unmarshal(data, &report); err != nil {
		return raster.Report{}, fmt.Errorf("parsing report %s: %w", path, err)
	}
	if len(report.Sections) == 0 && report.Title == "" && report.ProjectName == "" {
		return raster.Report{}, errors.New("report is empty")
	}
	return report, nil
}

func fetcherConfig(flags *exportFlags) acquire.Config {
	cfg := acquire.Config{
		BearerToken: flags.bearer,
		BearerHosts: flags.bearerHosts,
		Origin:      flags.origin,
	}
	switch {
	case flags.noRelays:
		cfg.RelayEndpoints = []string{}
	case len(flags.relays) > 0:
		cfg.RelayEndpoints = flags.relays
	}
	return cfg
}

func exportOptions(flags *exportFlags) export.Options {
	return export.Options{
		PageWidth:         flags.pageWidth,
		PageHeight:        flags.pageHeight,
		MaxAttempts:       flags.maxAttempts,
		PerAttemptTimeout: flags.timeout,
		SettleDelay:       flags.settle,
		Origin:            flags.origin,
		FileNameTemplate:  flags.fileName,
		IndexTitle:        flags.indexTitle,
	}.WithDefaults()
}

func captureHost(flags *exportFlags) (raster.Host, func() error) {
	switch flags.backend {
	case "rod":
		host := raster.NewRodHost(0)
		return host, host.Close
	case "chromedp":
		host := &raster.ChromedpHost{ExecPath: flags.chromePath, NoSandbox: os.Getenv("CI") == "true"}
		return host, host.Close
	default:
		return &raster.NativeHost{}, func() error { return nil }
	}
}

func writePreview(pdf []byte, output string, page int, dpi float64) error {
	png, err := assemble.PreviewPNG(pdf, page-1, dpi)
	if err != nil {
		return fmt.Errorf("rendering preview: %w", err)
	}
	name := strings.TrimSuffix(output, filepath.Ext(output)) + fmt.Sprintf("-p%d.png", page)
	if err := os.WriteFile(name, png, 0644); err != nil {
		return fmt.Errorf("writing preview: %w", err)
	}
	return nil
}
