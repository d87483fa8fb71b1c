package raster

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Report is the authored report handed over by the editing UI.
type Report struct {
	ProjectName string    `json:"project_name" yaml:"project_name"`
	Title       string    `json:"title" yaml:"title"`
	Date        time.Time `json:"date" yaml:"date"`
	Author      string    `json:"author,omitempty" yaml:"author,omitempty"`
	Sections    []Section `json:"sections" yaml:"sections"`
}

type Section struct {
	Heading string  `json:"heading" yaml:"heading"`
	Body    string  `json:"body" yaml:"body"` // markdown
	Photos  []Photo `json:"photos" yaml:"photos"`
}

// Photo is a reference to a remotely hosted photograph.
type Photo struct {
	Name string `json:"name" yaml:"name"`
	URL  string `json:"url" yaml:"url"`
}

// Photos returns every photo of the report in document order.
func (r Report) Photos() []Photo {
	var out []Photo
	for _, s := range r.Sections {
		out = append(out, s.Photos...)
	}
	return out
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

type templatePhoto struct {
	ID   string
	Name string
	URL  string
}

type templateSection struct {
	Heading string
	Body    template.HTML
	Photos  []templatePhoto
}

// BuildSurface renders a report into surface markup. origin is the origin the
// surface is served from; photos on any other origin are resolved through
// acquisition before capture.
func BuildSurface(report Report, origin string) (Surface, error) {
	data := struct {
		Report   Report
		Sections []templateSection
	}{Report: report}

	n := 0
	for _, s := range report.Sections {
		var body bytes.Buffer
		if err := markdown.Convert([]byte(s.Body), &body); err != nil {
			return Surface{}, fmt.Errorf("error converting section %q: %w", s.Heading, err)
		}
		ts := templateSection{Heading: s.Heading, Body: template.HTML(body.String())}
		for _, p := range s.Photos {
			n++
			ts.Photos = append(ts.Photos, templatePhoto{ID: "photo-" + strconv.Itoa(n), Name: p.Name, URL: p.URL})
		}
		data.Sections = append(data.Sections, ts)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return Surface{}, fmt.Errorf("error executing report template: %w", err)
	}
	surface, err := SurfaceFromHTML(buf.String(), origin)
	if err != nil {
		return Surface{}, err
	}

	// html/template escapes URL attributes; anchors keep the URL as written.
	raw := make(map[string]string, n)
	for _, s := range data.Sections {
		for _, p := range s.Photos {
			raw[p.ID] = p.URL
		}
	}
	for i, img := range surface.Images {
		if u, ok := raw[img.ID]; ok {
			surface.Images[i].SourceURL = u
			surface.Images[i].CrossOrigin = isCrossOrigin(u, origin)
		}
	}
	return surface, nil
}
