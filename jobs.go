package main

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"report-export/export"
)

const (
	jobStatusPending    = "pending"
	jobStatusInProgress = "in_progress"
	jobStatusCompleted  = "completed"
	jobStatusFailed     = "failed"
)

// ExportJob represents one queued report export
type ExportJob struct {
	ID        string
	Status    string // "pending", "in_progress", "completed", "failed"
	Progress  export.Progress
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time

	Input    export.Input
	Options  export.Options
	Exporter *export.Exporter
	Result   *export.Result
}

// JobStore manages jobs and their statuses
type JobStore struct {
	sync.RWMutex
	jobs map[string]*ExportJob
}

var (
	jobStore = &JobStore{
		jobs: make(map[string]*ExportJob),
	}
	jobQueue = make(chan *ExportJob, 100) // Buffered channel with capacity of 100 jobs
)

func jobLogger(jobID string) *logrus.Entry {
	return log.WithField("job_id", jobID)
}

func generateJobID() string {
	return uuid.New().String()
}

func newExportJob(exporter *export.Exporter, in export.Input, opts export.Options) *ExportJob {
	now := time.Now()
	return &ExportJob{
		ID:        generateJobID(),
		Status:    jobStatusPending,
		Progress:  export.Progress{State: export.StateIdle},
		CreatedAt: now,
		UpdatedAt: now,
		Input:     in,
		Options:   opts,
		Exporter:  exporter,
	}
}

func (store *JobStore) addJob(job *ExportJob) {
	store.Lock()
	defer store.Unlock()
	store.jobs[job.ID] = job
	jobLogger(job.ID).Info("Job added")
}

// getJob returns a snapshot of the job so callers never race the worker.
func (store *JobStore) getJob(jobID string) (ExportJob, bool) {
	store.RLock()
	defer store.RUnlock()
	job, exists := store.jobs[jobID]
	if !exists {
		return ExportJob{}, false
	}
	return *job, true
}

func (store *JobStore) GetAllJobs() []ExportJob {
	store.RLock()
	defer store.RUnlock()

	jobs := make([]ExportJob, 0, len(store.jobs))
	for _, job := range store.jobs {
		jobs = append(jobs, *job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs
}

func (store *JobStore) updateJobStatus(jobID, status, errMsg string) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = status
		if errMsg != "" {
			job.Error = errMsg
		}
		job.UpdatedAt = time.Now()
		jobLogger(jobID).Infof("Job status updated: %s", status)
	}
}

func (store *JobStore) updateProgress(jobID string, p export.Progress) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Progress = p
		job.UpdatedAt = time.Now()
	}
}

func (store *JobStore) completeJob(jobID string, res *export.Result) {
	store.Lock()
	defer store.Unlock()
	if job, exists := store.jobs[jobID]; exists {
		job.Status = jobStatusCompleted
		job.Result = res
		job.UpdatedAt = time.Now()
		jobLogger(jobID).Infof("Job completed: %s", res.FileName)
	}
}

// removeExpired drops finished jobs last updated before cutoff and returns
// how many were removed.
func (store *JobStore) removeExpired(cutoff time.Time) int {
	store.Lock()
	defer store.Unlock()
	removed := 0
	for id, job := range store.jobs {
		if job.Status != jobStatusCompleted && job.Status != jobStatusFailed {
			continue
		}
		if job.UpdatedAt.Before(cutoff) {
			delete(store.jobs, id)
			removed++
		}
	}
	return removed
}

func startWorkerPool(app *App, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		go func(workerID int) {
			log.Infof("Worker %d started", workerID)
			for job := range jobQueue {
				jobLogger(job.ID).Infof("Worker %d processing job", workerID)
				processJob(app, job)
			}
		}(i)
	}
}

func processJob(app *App, job *ExportJob) {
	jobStore.updateJobStatus(job.ID, jobStatusInProgress, "")
	logger := jobLogger(job.ID)

	exporter := job.Exporter
	if exporter == nil {
		exporter = app.Exporter()
	}

	res, err := exporter.Export(context.Background(), job.Input, job.Options, func(p export.Progress) {
		jobStore.updateProgress(job.ID, p)
	})
	if err != nil {
		logger.Errorf("Export failed: %v", err)
		jobStore.updateJobStatus(job.ID, jobStatusFailed, err.Error())
		app.recordExport(job, nil, err)
		return
	}

	jobStore.completeJob(job.ID, res)
	app.recordExport(job, res, nil)
}

// recordExport writes the outcome of a job to the export history.
func (app *App) recordExport(job *ExportJob, res *export.Result, exportErr error) {
	if app.Database == nil {
		return
	}
	record := ExportRecord{
		JobID:     job.ID,
		Title:     jobTitle(job),
		CreatedAt: time.Now(),
	}
	if res != nil {
		record.FileName = res.FileName
		record.Pages = res.Pages
		record.Photos = res.Photos
		record.Degraded = res.Degraded
		record.DurationMs = res.Duration.Milliseconds()
		record.Status = jobStatusCompleted
	} else {
		record.Status = jobStatusFailed
		record.Error = exportErr.Error()
		var exportError *export.ExportError
		if errors.As(exportErr, &exportError) {
			record.FailedStage = string(exportError.Stage)
		}
	}
	if err := InsertExportRecord(app.Database, record); err != nil {
		jobLogger(job.ID).Errorf("Failed to record export history: %v", err)
	}
}

func jobTitle(job *ExportJob) string {
	if job.Input.Report.Title != "" {
		return job.Input.Report.Title
	}
	return job.Input.Report.ProjectName
}
