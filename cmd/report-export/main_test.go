package main

import (
	"bytes"
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, f *exportFlags, path string)
	}{
		{
			name: "defaults",
			args: []string{"report.yaml"},
			check: func(t *testing.T, f *exportFlags, path string) {
				assert.Equal(t, "report.yaml", path)
				assert.Equal(t, "native", f.backend)
				assert.Equal(t, 96.0, f.previewDPI)
				assert.Empty(t, f.relays)
			},
		},
		{
			name: "all options",
			args: []string{"-o", "out.pdf", "--backend", "rod", "--page-width", "612", "--page-height", "792",
				"--max-attempts", "5", "--timeout", "2s", "--settle", "100ms",
				"--relay", "https://a.example/{url}", "--relay", "https://b.example/?u={url}",
				"--preview-page", "2", "-v", "report.json"},
			check: func(t *testing.T, f *exportFlags, path string) {
				assert.Equal(t, "report.json", path)
				assert.Equal(t, "out.pdf", f.output)
				assert.Equal(t, "rod", f.backend)
				assert.Equal(t, 612.0, f.pageWidth)
				assert.Equal(t, 792.0, f.pageHeight)
				assert.Equal(t, 5, f.maxAttempts)
				assert.Equal(t, 2*time.Second, f.timeout)
				assert.Equal(t, 100*time.Millisecond, f.settle)
				assert.Equal(t, []string{"https://a.example/{url}", "https://b.example/?u={url}"}, f.relays)
				assert.Equal(t, 2, f.previewPage)
				assert.True(t, f.verbose)
			},
		},
		{name: "no report", args: []string{}, wantErr: true},
		{name: "two reports", args: []string{"a.yaml", "b.yaml"}, wantErr: true},
		{name: "unknown backend", args: []string{"--backend", "webkit", "a.yaml"}, wantErr: true},
		{name: "verbose and quiet", args: []string{"-v", "-q", "a.yaml"}, wantErr: true},
		{name: "relay and no relays", args: []string{"--relay", "x{url}", "--no-relays", "a.yaml"}, wantErr: true},
		{name: "bearer without host", args: []string{"--bearer", "secret", "a.yaml"}, wantErr: true},
		{name: "negative preview page", args: []string{"--preview-page", "-1", "a.yaml"}, wantErr: true},
		{name: "unknown flag", args: []string{"--nope", "a.yaml"}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, path, err := parseFlags(tc.args)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.check(t, f, path)
		})
	}
}

func TestLoadReport(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`project_name: Bridge Survey
title: Inspection
date: 2024-05-17T00:00:00Z
sections:
  - heading: Deck
    body: Minor cracking.
    photos:
      - name: Joint
        url: https://example.com/joint.jpg
`), 0644))
	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"project_name":"Bridge Survey","title":"Inspection","date":"2024-05-17T00:00:00Z","sections":[{"heading":"Deck","photos":[{"name":"Joint","url":"https://example.com/joint.jpg"}]}]}`), 0644))

	for _, path := range []string{yamlPath, jsonPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			report, err := loadReport(path)
			require.NoError(t, err)
			assert.Equal(t, "Bridge Survey", report.ProjectName)
			assert.Equal(t, 2024, report.Date.Year())
			require.Len(t, report.Sections, 1)
			require.Len(t, report.Sections[0].Photos, 1)
			assert.Equal(t, "https://example.com/joint.jpg", report.Sections[0].Photos[0].URL)
		})
	}

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("{}\n"), 0644))
	_, err := loadReport(empty)
	assert.Error(t, err)

	_, err = loadReport(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFetcherConfigAndOptions(t *testing.T) {
	f := &exportFlags{noRelays: true, bearer: "secret", bearerHosts: []string{"photos.example.com"}, origin: "https://app.example.com"}
	cfg := fetcherConfig(f)
	assert.NotNil(t, cfg.RelayEndpoints)
	assert.Empty(t, cfg.RelayEndpoints)
	assert.Equal(t, "secret", cfg.BearerToken)
	assert.Equal(t, []string{"photos.example.com"}, cfg.BearerHosts)
	assert.Equal(t, "https://app.example.com", cfg.Origin)

	// No relay flags keeps the built-in relays
	assert.Nil(t, fetcherConfig(&exportFlags{}).RelayEndpoints)

	opts := exportOptions(&exportFlags{pageWidth: 612})
	assert.Equal(t, 612.0, opts.PageWidth)
	assert.Equal(t, 842.0, opts.PageHeight)
	assert.Equal(t, 3, opts.MaxAttempts)
}

func TestRun(t *testing.T) {
	var photo bytes.Buffer
	require.NoError(t, imaging.Encode(&photo, imaging.New(60, 40, color.NRGBA{G: 0x80, A: 0xff}), imaging.PNG))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(photo.Bytes())
	}))
	defer srv.Close()

	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.yaml")
	require.NoError(t, os.WriteFile(reportPath, []byte(`project_name: Bridge Survey
title: Inspection
date: 2024-05-17T00:00:00Z
sections:
  - heading: Deck
    photos:
      - name: Joint
        url: `+srv.URL+`/joint.png
`), 0644))

	output := filepath.Join(dir, "out.pdf")
	flags := &exportFlags{
		output:      output,
		backend:     "native",
		noRelays:    true,
		maxAttempts: 1,
		settle:      time.Millisecond,
		previewPage: 1,
		previewDPI:  36,
		quiet:       true,
	}
	require.NoError(t, run(context.Background(), flags, reportPath))

	pdf, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
	assert.FileExists(t, filepath.Join(dir, "out-p1.png"))
}
