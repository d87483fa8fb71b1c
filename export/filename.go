package export

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"report-export/raster"
)

// DefaultFileNameTemplate yields {ProjectName}_{Date}.pdf with anything other
// than letters, digits, dots and dashes collapsed to underscores.
const DefaultFileNameTemplate = `{{ regexReplaceAll "[^\\pL\\pN.-]+" (.ProjectName | default "report" | trim) "_" }}_{{ .Date.Format "2006-01-02" }}.pdf`

// FileName derives the download name of an exported report.
func FileName(report raster.Report, tmpl string) (string, error) {
	if tmpl == "" {
		tmpl = DefaultFileNameTemplate
	}
	t, err := template.New("filename").Funcs(sprig.TxtFuncMap()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("error parsing file name template: %w", err)
	}

	date := report.Date
	if date.IsZero() {
		date = time.Now()
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, map[string]any{
		"ProjectName": report.ProjectName,
		"Title":       report.Title,
		"Author":      report.Author,
		"Date":        date,
	}); err != nil {
		return "", fmt.Errorf("error executing file name template: %w", err)
	}

	name := strings.TrimSpace(buf.String())
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return name, nil
}
