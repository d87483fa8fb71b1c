package export

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-export/acquire"
	"report-export/assemble"
	"report-export/raster"
)

func newTestFetcher(t *testing.T) *acquire.Fetcher {
	t.Helper()
	f, err := acquire.NewFetcher(acquire.Config{
		RelayEndpoints: []string{},
		BaseDelay:      time.Millisecond,
		TempDir:        t.TempDir(),
	})
	require.NoError(t, err)
	return f
}

func photoServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := imaging.New(320, 240, color.NRGBA{R: 0x30, G: 0x90, B: 0x30, A: 0xff})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	data := buf.Bytes()

	mux := http.NewServeMux()
	mux.HandleFunc("/ok/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(data)
	})
	mux.HandleFunc("/missing/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testReport(urls ...string) raster.Report {
	var photos []raster.Photo
	for i, u := range urls {
		photos = append(photos, raster.Photo{Name: "Photo " + string(rune('A'+i)), URL: u})
	}
	return raster.Report{
		ProjectName: "Bridge Survey",
		Title:       "Inspection",
		Date:        time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC),
		Sections: []raster.Section{
			{Heading: "Findings", Body: "Observed **minor** spalling.", Photos: photos},
		},
	}
}

func fastOptions() Options {
	return Options{MaxAttempts: 2, PerAttemptTimeout: time.Second, SettleDelay: time.Millisecond}
}

func TestExportSucceeds(t *testing.T) {
	server := photoServer(t)
	exporter := New(newTestFetcher(t), &raster.NativeHost{})
	report := testReport(server.URL+"/ok/1.jpg", server.URL+"/ok/2.jpg")

	var mu sync.Mutex
	var states []State
	observe := func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != p.State {
			states = append(states, p.State)
		}
	}

	res, err := exporter.Export(context.Background(), Input{Report: report}, fastOptions(), observe)
	require.NoError(t, err)

	assert.Equal(t, []State{StateIdle, StateAcquiring, StateCapturing, StateAssembling, StateReady}, states)
	assert.Equal(t, "Bridge_Survey_2024-05-17.pdf", res.FileName)
	assert.Equal(t, 2, res.Photos)
	assert.Equal(t, 0, res.Degraded)
	require.Len(t, res.Document.Regions, 2)
	assert.Equal(t, server.URL+"/ok/1.jpg", res.Document.Regions[0].TargetURL)

	require.NoError(t, assemble.Validate(res.PDF))
	pages, err := assemble.CountPages(res.PDF)
	require.NoError(t, err)
	assert.Equal(t, res.Pages, pages)
}

func TestExportCompletesWhenEveryPhotoFails(t *testing.T) {
	server := photoServer(t)
	exporter := New(newTestFetcher(t), &raster.NativeHost{})
	urls := []string{server.URL + "/missing/1.jpg", server.URL + "/missing/2.jpg", server.URL + "/missing/3.jpg"}

	res, err := exporter.Export(context.Background(), Input{Report: testReport(urls...)}, fastOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Degraded)
	require.Len(t, res.Document.Regions, 3)
	require.Len(t, res.Document.IndexEntries, 3)
	for i, u := range urls {
		assert.Equal(t, u, res.Document.Regions[i].TargetURL)
		assert.Equal(t, u, res.Document.IndexEntries[i].URL)
		assert.Equal(t, "Photo "+string(rune('A'+i)), res.Document.IndexEntries[i].Caption)
	}
	require.NoError(t, assemble.Validate(res.PDF))
}

func TestExportIsIdempotent(t *testing.T) {
	server := photoServer(t)
	exporter := New(newTestFetcher(t), &raster.NativeHost{})
	report := testReport(server.URL+"/ok/1.jpg", server.URL+"/missing/2.jpg", server.URL+"/ok/3.jpg", server.URL+"/ok/4.jpg")

	a, err := exporter.Export(context.Background(), Input{Report: report}, fastOptions(), nil)
	require.NoError(t, err)
	b, err := exporter.Export(context.Background(), Input{Report: report}, fastOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, len(a.Document.Pages), len(b.Document.Pages))
	assert.Equal(t, a.Document.Regions, b.Document.Regions)
}

type brokenHost struct {
	panic bool
}

func (h brokenHost) Load(ctx context.Context, surface raster.Surface) (raster.View, error) {
	if h.panic {
		panic("renderer state corrupted")
	}
	return nil, errors.New("browser unavailable")
}

func TestExportCaptureFailure(t *testing.T) {
	tests := []struct {
		name string
		host raster.Host
		want string
	}{
		{name: "load error", host: brokenHost{}, want: "browser unavailable"},
		{name: "panic", host: brokenHost{panic: true}, want: "renderer state corrupted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := New(newTestFetcher(t), tt.host)
			var last State
			res, err := exporter.Export(context.Background(), Input{Report: testReport()}, fastOptions(), func(p Progress) { last = p.State })

			assert.Nil(t, res)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrExportFailed)
			var exportErr *ExportError
			require.ErrorAs(t, err, &exportErr)
			assert.Equal(t, StateCapturing, exportErr.Stage)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, StateFailed, last)
		})
	}
}

func TestExportAssemblyFailure(t *testing.T) {
	exporter := New(newTestFetcher(t), &raster.NativeHost{})
	opts := fastOptions()
	opts.PageHeight = -842

	res, err := exporter.Export(context.Background(), Input{Report: testReport()}, opts, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrExportFailed)
	assert.ErrorIs(t, err, assemble.ErrInvalidPageSize)
	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	assert.Equal(t, StateAssembling, exportErr.Stage)
}

func TestExportFromHTML(t *testing.T) {
	server := photoServer(t)
	exporter := New(newTestFetcher(t), &raster.NativeHost{})
	markup := `<h1>Site visit</h1><p>Notes</p><img src="` + server.URL + `/ok/a.jpg" alt="Gate">`

	res, err := exporter.Export(context.Background(), Input{Report: testReport(), HTML: markup}, fastOptions(), nil)
	require.NoError(t, err)
	require.Len(t, res.Document.IndexEntries, 1)
	assert.Equal(t, assemble.IndexEntry{Caption: "Gate", URL: server.URL + "/ok/a.jpg"}, res.Document.IndexEntries[0])
}

func TestOptionsWithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, 595.0, o.PageWidth)
	assert.Equal(t, 842.0, o.PageHeight)
	assert.Equal(t, 3, o.MaxAttempts)
	assert.Equal(t, 10*time.Second, o.PerAttemptTimeout)
	assert.Equal(t, 500*time.Millisecond, o.SettleDelay)
	assert.Equal(t, 794, o.NominalWidth)

	o = Options{PageWidth: -1, SettleDelay: -1}.WithDefaults()
	assert.Equal(t, -1.0, o.PageWidth)
	assert.Equal(t, time.Duration(-1), o.SettleDelay)
}
