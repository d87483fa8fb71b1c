package main

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"report-export/assemble"
	"report-export/export"
	"report-export/raster"
)

// exportInput validates an export request and resolves its options.
func exportInput(req ExportRequest) (export.Input, export.Options, error) {
	if req.Report == nil && strings.TrimSpace(req.HTML) == "" {
		return export.Input{}, export.Options{}, errors.New("either report or html is required")
	}

	s := currentSettings().Apply(req.Options)
	if err := s.Validate(); err != nil {
		return export.Input{}, export.Options{}, err
	}
	opts := s.Options()
	if req.Origin != "" {
		opts.Origin = req.Origin
	}

	in := export.Input{HTML: req.HTML}
	if req.Report != nil {
		in.Report = *req.Report
	}
	return in, opts, nil
}

// submitExportJobHandler handles the POST /api/exports endpoint
func (app *App) submitExportJobHandler(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}

	in, opts, err := exportInput(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job := newExportJob(app.Exporter(), in, opts)

	// Add job to store and queue
	jobStore.addJob(job)
	select {
	case jobQueue <- job:
	default:
		jobStore.updateJobStatus(job.ID, jobStatusFailed, "export queue is full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Export queue is full, try again later"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
}

// previewExportHandler handles the POST /api/exports/preview endpoint. It runs
// the export inline and reports the layout without returning the PDF.
func (app *App) previewExportHandler(c *gin.Context) {
	var req ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}

	in, opts, err := exportInput(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := app.Exporter().Export(c.Request.Context(), in, opts, nil)
	if err != nil {
		log.Errorf("Preview export failed: %v", err)
		c.JSON(http.StatusUnprocessableEntity, exportErrorBody(err))
		return
	}

	c.JSON(http.StatusOK, PreviewResponse{
		FileName: res.FileName,
		Pages:    res.Pages,
		Scale:    res.Document.Scale,
		Photos:   res.Photos,
		Degraded: res.Degraded,
		Regions:  res.Document.Regions,
		Index:    res.Document.IndexEntries,
	})
}

func exportErrorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}
	var exportErr *export.ExportError
	if errors.As(err, &exportErr) {
		body["stage"] = exportErr.Stage
	}
	return body
}

func jobResponse(job ExportJob) ExportJobResponse {
	resp := ExportJobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		State:       job.Progress.State,
		PhotosDone:  job.Progress.PhotosDone,
		PhotosTotal: job.Progress.PhotosTotal,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
	if job.Result != nil {
		resp.FileName = job.Result.FileName
		resp.Pages = job.Result.Pages
		resp.Degraded = job.Result.Degraded
	}
	return resp
}

func (app *App) getJobStatusHandler(c *gin.Context) {
	job, exists := jobStore.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, jobResponse(job))
}

func (app *App) getAllJobsHandler(c *gin.Context) {
	jobs := jobStore.GetAllJobs()

	jobList := make([]ExportJobResponse, 0, len(jobs))
	for _, job := range jobs {
		jobList = append(jobList, jobResponse(job))
	}

	c.JSON(http.StatusOK, jobList)
}

// completedJob looks up a job that has a document, writing the error response
// when it has none.
func completedJob(c *gin.Context) (ExportJob, bool) {
	job, exists := jobStore.getJob(c.Param("job_id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return ExportJob{}, false
	}
	if job.Status != jobStatusCompleted || job.Result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Job is %s", job.Status)})
		return ExportJob{}, false
	}
	return job, true
}

// getJobDocumentHandler handles the GET /api/exports/:job_id/document endpoint
func (app *App) getJobDocumentHandler(c *gin.Context) {
	job, ok := completedJob(c)
	if !ok {
		return
	}

	c.Header("Content-Disposition", contentDisposition(job.Result.FileName))
	c.Data(http.StatusOK, "application/pdf", job.Result.PDF)
}

// contentDisposition builds an attachment header; non-ASCII names are encoded
// per RFC 2231.
func contentDisposition(fileName string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": fileName}); v != "" {
		return v
	}
	return "attachment"
}

// getJobPagePreviewHandler handles the GET /api/exports/:job_id/preview/:page
// endpoint. Pages are numbered from 1.
func (app *App) getJobPagePreviewHandler(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page number"})
		return
	}
	dpi := 0.0
	if v := c.Query("dpi"); v != "" {
		dpi, err = strconv.ParseFloat(v, 64)
		if err != nil || dpi <= 0 || dpi > 600 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid dpi"})
			return
		}
	}

	job, ok := completedJob(c)
	if !ok {
		return
	}

	png, err := assemble.PreviewPNG(job.Result.PDF, page-1, dpi)
	if errors.Is(err, assemble.ErrPageOutOfRange) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Errorf("Failed to render preview of job %s page %d: %v", job.ID, page, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render page preview"})
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

// Section for local-db actions

func (app *App) getExportHistoryHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	records, total, err := GetPaginatedExportRecords(app.Database, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve export history"})
		log.Errorf("Failed to retrieve export history: %v", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":     records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// getSettingsHandler handles the GET /api/settings endpoint
func getSettingsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, currentSettings())
}

// updateSettingsHandler handles the POST /api/settings endpoint
func (app *App) updateSettingsHandler(c *gin.Context) {
	var next Settings
	if err := c.ShouldBindJSON(&next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
		return
	}
	if next.RelayEndpoints == nil {
		next.RelayEndpoints = []string{}
	}
	if err := next.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := export.FileName(raster.Report{ProjectName: "check"}, next.FileNameTemplate); err != nil && next.FileNameTemplate != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid file name template: %v", err)})
		return
	}

	if err := app.rebuildExporter(next); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settingsMutex.Lock()
	settings = next
	err := saveSettingsLocked()
	settingsMutex.Unlock()
	if err != nil {
		log.Errorf("Failed to save settings: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}

	c.JSON(http.StatusOK, next)
}
