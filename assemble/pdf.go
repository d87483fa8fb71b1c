package assemble

import (
	"bytes"
	"fmt"
	"io"

	"codeberg.org/go-pdf/fpdf"
	"github.com/disintegration/imaging"
)

const (
	indexMargin     = 48.0
	indexLineHeight = 14.0
	pageJPEGQuality = 90
)

// DefaultIndexTitle heads the trailing link index page.
const DefaultIndexTitle = "Photo links"

// WritePDF renders the document: one image per page with a link rectangle per
// region, followed by the text index of every photo link.
func (d *Document) WritePDF(w io.Writer) error {
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: d.PageWidth, Ht: d.PageHeight},
	})
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetTitle(d.Title, true)
	pdf.SetCreator("report-export", false)
	pdf.SetProducer("report-export", false)
	if !d.CreatedAt.IsZero() {
		pdf.SetCreationDate(d.CreatedAt)
		pdf.SetModificationDate(d.CreatedAt)
	}
	pdf.SetCatalogSort(true)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)

	for _, p := range d.Pages {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, p.Bitmap, imaging.JPEG, imaging.JPEGQuality(pageJPEGQuality)); err != nil {
			return fmt.Errorf("error encoding page %d: %w", p.Index, err)
		}

		pdf.AddPage()
		name := fmt.Sprintf("page-%d", p.Index)
		opts := fpdf.ImageOptions{ImageType: "JPG"}
		pdf.RegisterImageOptionsReader(name, opts, &buf)
		pdf.ImageOptions(name, 0, 0, d.PageWidth, p.Height, false, opts, 0, "")
		for _, r := range d.RegionsOn(p.Index) {
			pdf.LinkString(r.Box.X, r.Box.Y, r.Box.Width, r.Box.Height, r.TargetURL)
		}
		if pdf.Err() {
			return fmt.Errorf("error writing page %d: %w", p.Index, pdf.Error())
		}
	}

	d.writeIndex(pdf, tr)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("error writing pdf: %w", err)
	}
	return nil
}

// PDF returns the serialized document.
func (d *Document) PDF() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.WritePDF(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Document) writeIndex(pdf *fpdf.Fpdf, tr func(string) string) {
	pdf.SetMargins(indexMargin, indexMargin, indexMargin)
	pdf.SetAutoPageBreak(true, indexMargin)
	pdf.AddPage()

	title := d.IndexTitle()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 24, tr(title), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	width := d.PageWidth - 2*indexMargin
	if len(d.IndexEntries) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, indexLineHeight, "No photos.", "", 1, "L", false, 0, "")
		return
	}
	for i, e := range d.IndexEntries {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetTextColor(0, 0, 0)
		pdf.CellFormat(0, indexLineHeight, tr(fmt.Sprintf("%d. %s", i+1, e.Caption)), "", 1, "L", false, 0, "")

		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(0, 0, 238)
		for _, line := range breakByWidth(pdf, e.URL, width) {
			pdf.CellFormat(0, indexLineHeight, line, "", 1, "L", false, 0, e.URL)
		}
		pdf.Ln(4)
	}
}

// IndexTitle is the heading of the link index page.
func (d *Document) IndexTitle() string {
	if d.indexTitle != "" {
		return d.indexTitle
	}
	return DefaultIndexTitle
}

// breakByWidth splits s into chunks no wider than width in the current font.
// URLs rarely contain spaces, so this cuts at character boundaries.
func breakByWidth(pdf *fpdf.Fpdf, s string, width float64) []string {
	var lines []string
	runes := []rune(s)
	for len(runes) > 0 {
		n := len(runes)
		for n > 1 && pdf.GetStringWidth(string(runes[:n])) > width {
			n--
		}
		lines = append(lines, string(runes[:n]))
		runes = runes[n:]
	}
	return lines
}
