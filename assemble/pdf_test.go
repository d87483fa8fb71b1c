package assemble

import (
	"bytes"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-export/raster"
)

func testDocument(t *testing.T) *Document {
	t.Helper()
	cs := &raster.CapturedSurface{
		Bitmap: imaging.New(794, 2400, color.NRGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}),
		Width:  794,
		Height: 2400,
		Anchors: []raster.Anchor{
			{SourceURL: "https://photos.example.com/pier.jpg", Caption: "Pier overview", Box: raster.Box{X: 40, Y: 120, Width: 400, Height: 300}},
			{SourceURL: "https://photos.example.com/" + strings.Repeat("very-long-path-segment/", 8) + "crack.jpg?size=original", Caption: "Crack détail", Box: raster.Box{X: 40, Y: 1300, Width: 400, Height: 300}},
		},
	}
	doc, err := Assemble(cs, Options{
		PageWidth:  DefaultPageWidth,
		PageHeight: DefaultPageHeight,
		Title:      "Bridge Survey",
		CreatedAt:  time.Date(2024, 5, 17, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return doc
}

func TestWritePDF(t *testing.T) {
	doc := testDocument(t)

	data, err := doc.PDF()
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	require.NoError(t, Validate(data))
	n, err := CountPages(data)
	require.NoError(t, err)
	assert.Equal(t, len(doc.Pages)+1, n)

	for _, r := range doc.Regions {
		assert.True(t, bytes.Contains(data, []byte(r.TargetURL)), "missing link to %s", r.TargetURL)
	}
}

func TestWritePDFIsStable(t *testing.T) {
	a, err := testDocument(t).PDF()
	require.NoError(t, err)
	b, err := testDocument(t).PDF()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestWritePDFWithoutPhotos(t *testing.T) {
	doc, err := Assemble(&raster.CapturedSurface{Bitmap: imaging.New(794, 300, color.White), Width: 794, Height: 300}, Options{PageWidth: 595, PageHeight: 842})
	require.NoError(t, err)
	data, err := doc.PDF()
	require.NoError(t, err)
	n, err := CountPages(data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestValidateRejectsGarbage(t *testing.T) {
	assert.Error(t, Validate([]byte("not a pdf")))
	_, err := CountPages([]byte("not a pdf"))
	assert.Error(t, err)
}

func TestPreview(t *testing.T) {
	data, err := testDocument(t).PDF()
	require.NoError(t, err)

	img, err := Preview(data, 0, 72)
	require.NoError(t, err)
	assert.InDelta(t, 595, img.Bounds().Dx(), 2)
	assert.InDelta(t, 842, img.Bounds().Dy(), 2)

	png, err := PreviewPNG(data, 3, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	_, err = Preview(data, 10, 72)
	assert.ErrorIs(t, err, ErrPageOutOfRange)
}
