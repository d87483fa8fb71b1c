package raster

import (
	"embed"
	"html/template"
)

//go:embed templates/*
var templateFS embed.FS

var reportTemplate = template.Must(template.ParseFS(templateFS, "templates/report.html.tmpl"))
