package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report-export/raster"
)

func TestFileName(t *testing.T) {
	date := time.Date(2024, 1, 9, 15, 4, 5, 0, time.UTC)
	tests := []struct {
		name   string
		report raster.Report
		tmpl   string
		want   string
	}{
		{name: "default", report: raster.Report{ProjectName: "Harbor", Date: date}, want: "Harbor_2024-01-09.pdf"},
		{name: "spaces collapse", report: raster.Report{ProjectName: "  North  Pier Repairs ", Date: date}, want: "North_Pier_Repairs_2024-01-09.pdf"},
		{name: "path separators removed", report: raster.Report{ProjectName: "A/B\\C", Date: date}, want: "A_B_C_2024-01-09.pdf"},
		{name: "unicode kept", report: raster.Report{ProjectName: "Brücke", Date: date}, want: "Brücke_2024-01-09.pdf"},
		{name: "missing project", report: raster.Report{Date: date}, want: "report_2024-01-09.pdf"},
		{name: "custom template", report: raster.Report{ProjectName: "Harbor", Title: "Weekly", Date: date}, tmpl: `{{ .Title | lower }}-{{ dateInZone "20060102" .Date "UTC" }}.pdf`, want: "weekly-20240109.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FileName(tt.report, tt.tmpl)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileNameErrors(t *testing.T) {
	_, err := FileName(raster.Report{}, "{{ .Missing")
	assert.Error(t, err)

	_, err = FileName(raster.Report{ProjectName: "x"}, "{{ .ProjectName }}/../escape.pdf")
	assert.Error(t, err)
}
