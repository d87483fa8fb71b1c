package main

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// This is our interface, allowing us to enable proper testing
type BackgroundProcessor interface {
	pruneExpiredJobs() (int, error)
	pruneExportHistory() (int, error)
}

// Start our background tasks in a thread
func StartBackgroundTasks(ctx context.Context, app BackgroundProcessor, pollingInterval time.Duration) {
	go func() {
		minBackoffDuration := 10 * time.Second
		maxBackoffDuration := time.Hour

		backoffDuration := minBackoffDuration

		for {
			select {
			case <-ctx.Done():
				log.Infoln("Background tasks shutting down")
				return
			default: // needed to make this non-blocking
			}

			processedCount, err := runBackgroundCycle(app)

			wait := pollingInterval
			if err != nil {
				log.Errorf("Error in background cleanup: %v", err)
				wait = backoffDuration

				// Exponential backoff logic
				backoffDuration *= 2
				if backoffDuration > maxBackoffDuration {
					log.Warnf("Max backoff duration reached. Using %v", maxBackoffDuration)
					backoffDuration = maxBackoffDuration
				}
			} else {
				// Reset backoff when processing succeeds
				backoffDuration = minBackoffDuration
			}
			if processedCount > 0 {
				log.Debugf("Background cleanup removed %d entries", processedCount)
			}

			select {
			case <-ctx.Done():
				log.Infoln("Background tasks shutting down")
				return
			case <-time.After(wait):
			}
		}
	}()
}

// runBackgroundCycle runs every cleanup task once, even when an earlier one fails.
func runBackgroundCycle(app BackgroundProcessor) (int, error) {
	var errs []error

	jobs, err := app.pruneExpiredJobs()
	if err != nil {
		errs = append(errs, fmt.Errorf("error in pruneExpiredJobs: %w", err))
	}

	records, err := app.pruneExportHistory()
	if err != nil {
		errs = append(errs, fmt.Errorf("error in pruneExportHistory: %w", err))
	}

	return jobs + records, errors.Join(errs...)
}

// pruneExpiredJobs drops finished jobs and their PDFs after jobTTL
func (app *App) pruneExpiredJobs() (int, error) {
	removed := jobStore.removeExpired(time.Now().Add(-jobTTL))
	if removed > 0 {
		log.Infof("Removed %d expired export jobs", removed)
	}
	return removed, nil
}

// pruneExportHistory keeps the export history at historyLimit records
func (app *App) pruneExportHistory() (int, error) {
	if app.Database == nil || historyLimit == 0 {
		return 0, nil
	}
	removed, err := PruneExportRecords(app.Database, historyLimit)
	if err != nil {
		return 0, fmt.Errorf("error pruning export history: %w", err)
	}
	return int(removed), nil
}
