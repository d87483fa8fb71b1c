package main

import (
	"time"

	"report-export/assemble"
	"report-export/export"
	"report-export/raster"
)

// ExportRequest is the payload of POST /api/exports and POST /api/exports/preview.
// Exactly one of Report and HTML must be set.
type ExportRequest struct {
	Report  *raster.Report  `json:"report,omitempty"`
	HTML    string          `json:"html,omitempty"`
	Origin  string          `json:"origin,omitempty"`
	Options *ExportOverride `json:"options,omitempty"`
}

// ExportOverride replaces individual settings for a single export.
type ExportOverride struct {
	PageWidth        *float64 `json:"page_width,omitempty"`
	PageHeight       *float64 `json:"page_height,omitempty"`
	MaxAttempts      *int     `json:"max_attempts,omitempty"`
	TimeoutMs        *int     `json:"timeout_ms,omitempty"`
	SettleMs         *int     `json:"settle_ms,omitempty"`
	FileNameTemplate *string  `json:"file_name_template,omitempty"`
	IndexTitle       *string  `json:"index_title,omitempty"`
}

// ExportJobResponse is returned by the job status endpoints.
type ExportJobResponse struct {
	JobID       string       `json:"job_id"`
	Status      string       `json:"status"`
	State       export.State `json:"state"`
	PhotosDone  int          `json:"photos_done"`
	PhotosTotal int          `json:"photos_total"`
	FileName    string       `json:"file_name,omitempty"`
	Pages       int          `json:"pages,omitempty"`
	Degraded    int          `json:"degraded,omitempty"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// PreviewResponse is returned by the synchronous preview endpoint.
type PreviewResponse struct {
	FileName string                     `json:"file_name"`
	Pages    int                        `json:"pages"`
	Scale    float64                    `json:"scale"`
	Photos   int                        `json:"photos"`
	Degraded int                        `json:"degraded"`
	Regions  []assemble.ClickableRegion `json:"regions"`
	Index    []assemble.IndexEntry      `json:"index"`
}

// Settings are the persisted export defaults.
type Settings struct {
	PageWidth        float64  `json:"page_width"`
	PageHeight       float64  `json:"page_height"`
	MaxAttempts      int      `json:"max_attempts"`
	TimeoutMs        int      `json:"timeout_ms"`
	SettleMs         int      `json:"settle_ms"`
	RelayEndpoints   []string `json:"relay_endpoints"`
	FileNameTemplate string   `json:"file_name_template"`
	IndexTitle       string   `json:"index_title"`
}
